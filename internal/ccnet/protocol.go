package ccnet

import (
	"encoding/binary"
	"strings"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// Command bytes, per the bill validator command set.
const (
	cmdReset              byte = 0x30
	cmdGetStatus          byte = 0x31
	cmdSetSecurity        byte = 0x32
	cmdPoll               byte = 0x33
	cmdEnableBillTypes    byte = 0x34
	cmdStack              byte = 0x35
	cmdReturn             byte = 0x36
	cmdIdentification     byte = 0x37
	cmdHold               byte = 0x38
	cmdGetBillTable       byte = 0x41
	cmdRequestStatistics  byte = 0x60
)

// Response payload sizes, used to validate exchanges before decoding
// them.
const (
	pollMinResultSize           = 1
	pollMaxResultSize           = 2
	getBillTableResultSize      = 120
	identificationResultSize    = 34
	getStatusResultSize         = 6
	setSecurityCommandDataSize = 3
	enableBillTypesDataSize    = 6
)

// deviceProtocol wraps a transport with the specific commands a bill
// validator understands, decoding and validating each response.
type deviceProtocol struct {
	t *transport
}

func newDeviceProtocol(port SerialPort, address byte) *deviceProtocol {
	return &deviceProtocol{t: newTransport(port, address)}
}

func (p *deviceProtocol) reset() error {
	return p.t.exchangeControlOnly(cmdReset, nil)
}

func (p *deviceProtocol) stack() error {
	return p.t.exchangeControlOnly(cmdStack, nil)
}

func (p *deviceProtocol) returnBill() error {
	return p.t.exchangeControlOnly(cmdReturn, nil)
}

func (p *deviceProtocol) hold() error {
	return p.t.exchangeControlOnly(cmdHold, nil)
}

func (p *deviceProtocol) poll() (DeviceState, error) {
	payload, err := p.t.exchangeWithResult(cmdPoll, nil)
	if err != nil {
		return DeviceState{}, err
	}
	if len(payload) < pollMinResultSize || len(payload) > pollMaxResultSize {
		return DeviceState{}, ccneterr.New(ccneterr.KindProtocol, "poll", "unexpected poll result size")
	}
	state := DeviceState{Code: DeviceStateCode(payload[0])}
	if len(payload) == pollMaxResultSize {
		state.Info = payload[1]
	}
	return state, nil
}

func (p *deviceProtocol) identification() (DeviceInfo, error) {
	payload, err := p.t.exchangeWithResult(cmdIdentification, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	if len(payload) != identificationResultSize {
		return DeviceInfo{}, ccneterr.New(ccneterr.KindProtocol, "identification", "unexpected identification result size")
	}

	partNumber := strings.TrimSpace(string(payload[0:15]))
	serialNumber := strings.TrimSpace(string(payload[15:27]))

	// The trailing 7 bytes hold the asset number as a big-endian
	// unsigned integer; place it in the low 7 bytes of a uint64.
	var assetBuf [8]byte
	copy(assetBuf[1:], payload[27:34])
	assetNumber := binary.BigEndian.Uint64(assetBuf[:])

	return DeviceInfo{
		PartNumber:   partNumber,
		SerialNumber: serialNumber,
		AssetNumber:  assetNumber,
	}, nil
}

func (p *deviceProtocol) getBillTable() ([]byte, error) {
	payload, err := p.t.exchangeWithResult(cmdGetBillTable, nil)
	if err != nil {
		return nil, err
	}
	if len(payload) != getBillTableResultSize {
		return nil, ccneterr.New(ccneterr.KindProtocol, "get_bill_table", "unexpected bill table result size")
	}
	return payload, nil
}

func (p *deviceProtocol) enableBillTypes(data [enableBillTypesDataSize]byte) error {
	return p.t.exchangeControlOnly(cmdEnableBillTypes, data[:])
}

func (p *deviceProtocol) setSecurity(data [setSecurityCommandDataSize]byte) error {
	return p.t.exchangeControlOnly(cmdSetSecurity, data[:])
}

func (p *deviceProtocol) getStatus() ([3]byte, [3]byte, error) {
	payload, err := p.t.exchangeWithResult(cmdGetStatus, nil)
	if err != nil {
		return [3]byte{}, [3]byte{}, err
	}
	if len(payload) != getStatusResultSize {
		return [3]byte{}, [3]byte{}, ccneterr.New(ccneterr.KindProtocol, "get_status", "unexpected status result size")
	}
	var security, enabled [3]byte
	copy(security[:], payload[0:3])
	copy(enabled[:], payload[3:6])
	return security, enabled, nil
}
