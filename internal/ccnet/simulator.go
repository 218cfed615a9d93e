package ccnet

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// SimulatedBillType is one row of a simulated device's bill table,
// exported so a standalone simulator binary can configure it without
// reaching into package internals.
type SimulatedBillType struct {
	Index         int
	CashType      CashType
	SecurityLevel BillSecurityLevel
}

// Simulator plays the device side of the protocol against a
// SerialPort: it answers poll, status, bill-table and escrow-decision
// commands the way a real bill validator would, so a controller can
// be exercised without hardware. InsertBill may be called from any
// goroutine while Run is processing commands; both take mu. Run
// itself reads the port and must not be called more than once at a
// time.
type Simulator struct {
	port    SerialPort
	address byte
	logger  *zap.Logger

	mu       sync.Mutex
	state    DeviceStateCode
	info     byte
	bills    map[int]billTypeEntry
	enabled  map[int]bool
	escrow   map[int]bool
	security map[int]BillSecurityLevel
	devInfo  DeviceInfo
}

// NewSimulator builds a simulator that will identify itself as
// devInfo and report bills exactly as given.
func NewSimulator(port SerialPort, address byte, devInfo DeviceInfo, bills []SimulatedBillType, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		port:     port,
		address:  address,
		logger:   logger,
		state:    StateIdling,
		bills:    make(map[int]billTypeEntry, len(bills)),
		enabled:  make(map[int]bool, len(bills)),
		escrow:   make(map[int]bool, len(bills)),
		security: make(map[int]BillSecurityLevel, len(bills)),
		devInfo:  devInfo,
	}
	for _, b := range bills {
		s.bills[b.Index] = billTypeEntry{Index: b.Index, CashType: b.CashType}
		s.security[b.Index] = b.SecurityLevel
	}
	return s
}

// Run answers commands until ctx is cancelled or the link fails.
func (s *Simulator) Run(ctx context.Context) error {
	t := newTransport(s.port, s.address)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := t.readFrame()
		if err != nil {
			if ccneterr.Is(err, ccneterr.KindTransport) {
				// Most likely a read timeout on an idle link; keep
				// listening rather than treating it as fatal.
				continue
			}
			s.logger.Warn("simulator read error", zap.Error(err))
			continue
		}

		parsed, err := frameFromBytes(raw)
		if err != nil {
			s.logger.Warn("simulator received malformed frame", zap.Error(err))
			continue
		}
		if parsed.Address != s.address || len(parsed.Payload) == 0 {
			continue
		}

		command := parsed.Payload[0]
		response := s.handleCommand(command, parsed.Payload[1:])
		respFrame := NewFrame(s.address, response[0], response[1:])
		if _, err := s.port.Write(respFrame.ToBytes()); err != nil {
			return ccneterr.Wrap(ccneterr.KindTransport, "simulator_write", err)
		}

		if response[0] == illegalCommandByte {
			continue
		}

		// Only exchange-with-result commands are ACKed by the host;
		// control-only commands (reset/stack/return/hold/enable/set-
		// security) end the exchange as soon as their own ACK/NAK is
		// sent, so there is nothing further to drain for those.
		if commandExpectsHostAck(command) {
			if _, err := t.readFrame(); err != nil {
				s.logger.Warn("simulator did not see host ack", zap.Error(err))
			}
		}
	}
}

// commandExpectsHostAck reports whether the host ACKs the response to
// command as part of the exchange. Only exchange-with-result commands
// do; control-only commands end the exchange at their own ACK/NAK.
func commandExpectsHostAck(command byte) bool {
	switch command {
	case cmdPoll, cmdIdentification, cmdGetBillTable, cmdGetStatus:
		return true
	default:
		return false
	}
}

// InsertBill moves the simulated device into escrow for the given
// bill-table index, as if a bill had just been accepted into the
// validator. index must refer to a bill configured at construction.
func (s *Simulator) InsertBill(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[index]; !ok {
		return fmt.Errorf("no simulated bill at index %d", index)
	}
	s.state = StateEscrowPosition
	s.info = byte(index)
	return nil
}

func (s *Simulator) handleCommand(command byte, data []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch command {
	case cmdReset:
		s.state = StateIdling
		return []byte{ackByte}

	case cmdPoll:
		resp := []byte{byte(s.state)}
		switch s.state {
		case StateEscrowPosition, StateBillStacked, StateBillReturned:
			resp = append(resp, s.info)
		}
		// Stacked/returned is reported exactly once; the next poll
		// finds the device idling again.
		if s.state == StateBillStacked || s.state == StateBillReturned {
			s.state = StateIdling
		}
		return resp

	case cmdStack:
		if s.state == StateEscrowPosition {
			s.state = StateBillStacked
		}
		return []byte{ackByte}

	case cmdReturn:
		if s.state == StateEscrowPosition {
			s.state = StateBillReturned
		}
		return []byte{ackByte}

	case cmdHold:
		// A held bill stays in escrow; the host is expected to ask
		// again on its next poll.
		return []byte{ackByte}

	case cmdGetStatus:
		var security, enabled [3]byte
		for n, level := range s.security {
			if level == SecurityHigh {
				setTripletBit(&security, n)
			}
		}
		for n := range s.enabled {
			setTripletBit(&enabled, n)
		}
		out := make([]byte, 0, 6)
		out = append(out, security[:]...)
		out = append(out, enabled[:]...)
		return out

	case cmdSetSecurity:
		if len(data) != setSecurityCommandDataSize {
			return []byte{illegalCommandByte}
		}
		var triplet [3]byte
		copy(triplet[:], data)
		for n := range s.bills {
			if isTripletBitSet(triplet, n) {
				s.security[n] = SecurityHigh
			} else {
				s.security[n] = SecurityNormal
			}
		}
		return []byte{ackByte}

	case cmdEnableBillTypes:
		if len(data) != enableBillTypesDataSize {
			return []byte{illegalCommandByte}
		}
		var enable, escrow [3]byte
		copy(enable[:], data[0:3])
		copy(escrow[:], data[3:6])
		s.enabled = make(map[int]bool)
		s.escrow = make(map[int]bool)
		for n := range s.bills {
			if isTripletBitSet(enable, n) {
				s.enabled[n] = true
			}
			if isTripletBitSet(escrow, n) {
				s.escrow[n] = true
			}
		}
		return []byte{ackByte}

	case cmdIdentification:
		return s.identificationPayload()

	case cmdGetBillTable:
		return s.billTablePayload()

	default:
		return []byte{illegalCommandByte}
	}
}

func (s *Simulator) identificationPayload() []byte {
	buf := make([]byte, identificationResultSize)
	copy(buf[0:15], padRight(s.devInfo.PartNumber, 15))
	copy(buf[15:27], padRight(s.devInfo.SerialNumber, 12))
	var assetBuf [8]byte
	binary.BigEndian.PutUint64(assetBuf[:], s.devInfo.AssetNumber)
	copy(buf[27:34], assetBuf[1:])
	return buf
}

func padRight(s string, n int) []byte {
	buf := make([]byte, n)
	copy(buf, s)
	for i := len(s); i < n; i++ {
		buf[i] = ' '
	}
	return buf
}

func (s *Simulator) billTablePayload() []byte {
	buf := make([]byte, billTypesCountMax*billTypeRecordSize)
	for i := 0; i < billTypesCountMax; i++ {
		entry, ok := s.bills[i]
		if !ok {
			continue
		}
		offset := i * billTypeRecordSize
		baseValue, countryCode, exponentByte, err := encodeBillTypeRecord(entry.CashType)
		if err != nil {
			s.logger.Warn("cannot represent simulated bill type, leaving slot unused",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		buf[offset] = baseValue
		copy(buf[offset+1:offset+4], padRight(countryCode, 3))
		buf[offset+4] = exponentByte
	}
	return buf
}

// encodeBillTypeRecord is the inverse of decodeBillTable's positive-
// exponent case: it factors denomination/100 into a base value no
// larger than 255 and a power-of-ten exponent. Denominations that
// aren't a clean multiple of 100, or that can't be factored down to
// fit a byte, are rejected. It never emits a negative exponent, so
// denominations that decodeBillTable can produce only from a
// negative exponent are not representable here.
func encodeBillTypeRecord(ct CashType) (baseValue byte, countryCode string, exponentByte byte, err error) {
	if ct.Denomination == 0 || ct.Denomination%minorUnitsPerMajor != 0 {
		return 0, "", 0, fmt.Errorf("denomination %d is not a multiple of %d", ct.Denomination, minorUnitsPerMajor)
	}
	n := ct.Denomination / minorUnitsPerMajor
	magnitude := 0
	for n > 255 && n%10 == 0 {
		n /= 10
		magnitude++
	}
	if n == 0 || n > 255 || magnitude > 127 {
		return 0, "", 0, fmt.Errorf("denomination %d cannot be represented", ct.Denomination)
	}
	return byte(n), ct.CurrencyCode, byte(magnitude), nil
}
