package ccnet

import "fmt"

// CashType identifies a denomination by currency and face value. It
// is totally ordered: first by currency code, then by denomination,
// so it can be used as a map key and sorted for display.
type CashType struct {
	CurrencyCode string
	Denomination uint64
}

func (c CashType) String() string {
	return fmt.Sprintf("%s%d", c.CurrencyCode, c.Denomination)
}

// Less reports whether c sorts before other: currency code first,
// then denomination.
func (c CashType) Less(other CashType) bool {
	if c.CurrencyCode != other.CurrencyCode {
		return c.CurrencyCode < other.CurrencyCode
	}
	return c.Denomination < other.Denomination
}

// DeviceInfo is the identity block reported by the identification
// command.
type DeviceInfo struct {
	PartNumber   string
	SerialNumber string
	AssetNumber  uint64
}

// BillSecurityLevel is the per-bill-type acceptance strictness.
type BillSecurityLevel int

const (
	SecurityNormal BillSecurityLevel = iota
	SecurityHigh
)

func (l BillSecurityLevel) String() string {
	if l == SecurityHigh {
		return "high"
	}
	return "normal"
}

// CashAction is the operator's decision for a bill sitting in
// escrow.
type CashAction int

const (
	ActionHoldCash CashAction = iota + 1
	ActionAcceptCash
	ActionReturnCash
)

// DeviceStateCode is the device's reported state, one of the values
// returned by the poll command.
type DeviceStateCode byte

const (
	StatePowerUp                     DeviceStateCode = 0x10
	StatePowerUpWithBillInValidator  DeviceStateCode = 0x11
	StatePowerUpWithBillInStacker    DeviceStateCode = 0x12
	StateInitialize                  DeviceStateCode = 0x13
	StateIdling                      DeviceStateCode = 0x14
	StateAccepting                   DeviceStateCode = 0x15
	StateStacking                    DeviceStateCode = 0x17
	StateReturning                   DeviceStateCode = 0x18
	StateUnitDisabled                DeviceStateCode = 0x19
	StateHoldingBillInBezel          DeviceStateCode = 0x1A
	StateDeviceBusy                  DeviceStateCode = 0x1B
	StateRejecting                   DeviceStateCode = 0x1C
	StateDropCassetteFull            DeviceStateCode = 0x41
	StateDropCassetteOutOfPosition   DeviceStateCode = 0x42
	StateValidatorJammed             DeviceStateCode = 0x43
	StateDropCassetteJammed          DeviceStateCode = 0x44
	StateCheated                     DeviceStateCode = 0x45
	StatePause                       DeviceStateCode = 0x46
	StateFailure                     DeviceStateCode = 0x47
	StateEscrowPosition              DeviceStateCode = 0x80
	StateBillStacked                 DeviceStateCode = 0x81
	StateBillReturned                DeviceStateCode = 0x82
)

func (s DeviceStateCode) String() string {
	switch s {
	case StatePowerUp:
		return "power_up"
	case StatePowerUpWithBillInValidator:
		return "power_up_with_bill_in_validator"
	case StatePowerUpWithBillInStacker:
		return "power_up_with_bill_in_stacker"
	case StateInitialize:
		return "initialize"
	case StateIdling:
		return "idling"
	case StateAccepting:
		return "accepting"
	case StateStacking:
		return "stacking"
	case StateReturning:
		return "returning"
	case StateUnitDisabled:
		return "unit_disabled"
	case StateHoldingBillInBezel:
		return "holding_bill_in_bezel"
	case StateDeviceBusy:
		return "device_busy"
	case StateRejecting:
		return "rejecting"
	case StateDropCassetteFull:
		return "drop_cassette_full"
	case StateDropCassetteOutOfPosition:
		return "drop_cassette_out_of_position"
	case StateValidatorJammed:
		return "validator_jammed"
	case StateDropCassetteJammed:
		return "drop_cassette_jammed"
	case StateCheated:
		return "cheated"
	case StatePause:
		return "pause"
	case StateFailure:
		return "failure"
	case StateEscrowPosition:
		return "escrow_position"
	case StateBillStacked:
		return "bill_stacked"
	case StateBillReturned:
		return "bill_returned"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(s))
	}
}

// DeviceState pairs a state code with the extra byte poll sometimes
// returns alongside it (e.g. the bill-type index for escrow/stacked/
// returned states).
type DeviceState struct {
	Code DeviceStateCode
	Info byte
}

func (s DeviceState) Equal(other DeviceState) bool {
	return s.Code == other.Code && s.Info == other.Info
}

// billTypeEntry is one decoded row of the bill table: which bill-type
// index it occupies and what cash type it represents.
type billTypeEntry struct {
	Index    int
	CashType CashType
}
