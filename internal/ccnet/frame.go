package ccnet

import (
	"fmt"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// Frame layout constants, per the bill validator serial protocol.
const (
	syncByte byte = 0x02

	// headerSize is SYNC + ADDRESS + LENGTH.
	headerSize = 3
	crcSize    = 2
	// minFrameSize is a frame with an empty payload: header + control
	// byte + CRC.
	minFrameSize = headerSize + 1 + crcSize

	syncOffset    = 0
	addressOffset = 1
	lengthOffset  = 2

	crcPolynomial = 0x08408
)

// Control/ACK bytes used outside the normal command/result exchange.
const (
	ackByte            byte = 0x00
	nakByte            byte = 0xFF
	illegalCommandByte byte = 0x30
)

// Frame is a single CCNET frame: SYNC, ADDRESS, LENGTH, a command or
// control byte, a data payload, and a trailing CRC-16.
type Frame struct {
	Address byte
	Command byte
	Data    []byte
}

// crc16 computes the CCNET CRC-16 over buf: reflected polynomial
// 0x08408, seeded at zero, one byte at a time.
func crc16(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// ToBytes serialises the frame: SYNC, address, length, command, data,
// then the little-endian CRC-16 over everything before it.
func (f *Frame) ToBytes() []byte {
	total := headerSize + 1 + len(f.Data) + crcSize
	buf := make([]byte, headerSize+1+len(f.Data), total)
	buf[syncOffset] = syncByte
	buf[addressOffset] = f.Address
	buf[lengthOffset] = byte(total)
	buf[headerSize] = f.Command
	copy(buf[headerSize+1:], f.Data)

	c := crc16(buf)
	buf = append(buf, byte(c&0xFF), byte(c>>8))
	return buf
}

// NewFrame builds a command frame addressed to the device at the
// given address.
func NewFrame(address, command byte, data []byte) *Frame {
	return &Frame{Address: address, Command: command, Data: data}
}

// newAckNak builds a 6-byte control frame (ACK or NAK) echoing back
// the address of the frame being acknowledged.
func newAckNak(echoAddress byte, control byte) *Frame {
	return &Frame{Address: echoAddress, Command: control}
}

// parsedFrame is a frame as read off the wire, split back into its
// header fields and payload.
type parsedFrame struct {
	Address byte
	Payload []byte // command/control byte plus data, i.e. everything between LENGTH and CRC
}

// frameFromBytes validates buf (header + payload + CRC already
// assembled) and splits it into address and payload. It does not
// perform any retry or I/O; see transport.go for that.
func frameFromBytes(buf []byte) (*parsedFrame, error) {
	if len(buf) < minFrameSize {
		return nil, ccneterr.New(ccneterr.KindFraming, "decode_frame", fmt.Sprintf("frame too short: %d bytes", len(buf)))
	}
	if buf[syncOffset] != syncByte {
		return nil, ccneterr.New(ccneterr.KindFraming, "decode_frame", "synchronisation error")
	}
	declared := int(buf[lengthOffset])
	if declared != len(buf) {
		return nil, ccneterr.New(ccneterr.KindFraming, "decode_frame", fmt.Sprintf("length mismatch: header says %d, got %d", declared, len(buf)))
	}

	payload := buf[headerSize : len(buf)-crcSize]
	trailingCRC := uint16(buf[len(buf)-2]) | uint16(buf[len(buf)-1])<<8
	computed := crc16(buf[:len(buf)-crcSize])
	if computed != trailingCRC {
		return nil, ccneterr.New(ccneterr.KindFraming, "decode_frame", "crc error")
	}

	return &parsedFrame{Address: buf[addressOffset], Payload: payload}, nil
}
