package ccnet

import (
	"fmt"
	"io"
	"time"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// Retry discipline and timing constants for the link transport. A
// device exchange is attempted up to outerRetries times (retrying
// only on a NAK response); within each attempt, up to innerRetries
// reads are made looking for a frame addressed correctly to us.
const (
	outerRetries = 3
	innerRetries = 5

	postWriteDelay    = 10 * time.Millisecond
	postNakDelay      = 20 * time.Millisecond
	postExchangeDelay = 20 * time.Millisecond
)

// transport drives a single serial link to a device at a fixed
// address. It owns all reads and writes; callers never touch the
// port directly.
type transport struct {
	port    SerialPort
	address byte
}

func newTransport(port SerialPort, address byte) *transport {
	return &transport{port: port, address: address}
}

// readFrame reads one complete frame off the wire: a 3-byte header
// followed by header[LENGTH]-3 more bytes.
func (t *transport) readFrame() ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(t.port, header); err != nil {
		return nil, ccneterr.Wrap(ccneterr.KindTransport, "read_frame", err)
	}
	total := int(header[lengthOffset])
	if total < minFrameSize {
		return nil, ccneterr.New(ccneterr.KindFraming, "read_frame", fmt.Sprintf("declared length %d too short", total))
	}
	rest := make([]byte, total-headerSize)
	if _, err := io.ReadFull(t.port, rest); err != nil {
		return nil, ccneterr.Wrap(ccneterr.KindTransport, "read_frame", err)
	}
	buf := make([]byte, total)
	copy(buf, header)
	copy(buf[headerSize:], rest)
	return buf, nil
}

// sendAck sends an ACK control frame echoing echoAddress.
func (t *transport) sendAck(echoAddress byte) error {
	_, err := t.port.Write(newAckNak(echoAddress, ackByte).ToBytes())
	if err != nil {
		return ccneterr.Wrap(ccneterr.KindTransport, "send_ack", err)
	}
	return nil
}

// sendNak sends a NAK control frame echoing echoAddress.
func (t *transport) sendNak(echoAddress byte) error {
	_, err := t.port.Write(newAckNak(echoAddress, nakByte).ToBytes())
	if err != nil {
		return ccneterr.Wrap(ccneterr.KindTransport, "send_nak", err)
	}
	return nil
}

// awaitMatchingFrame reads frames until one addressed to t.address is
// found, a hard framing error occurs (sync mismatch or CRC error,
// neither of which is retried), or innerRetries reads are exhausted.
func (t *transport) awaitMatchingFrame() (*parsedFrame, error) {
	for i := 0; i < innerRetries; i++ {
		raw, err := t.readFrame()
		if err != nil {
			return nil, err
		}
		parsed, err := frameFromBytes(raw)
		if err != nil {
			if ccneterr.Is(err, ccneterr.KindFraming) {
				// CRC error: the frame is NAK'd and the whole
				// exchange aborts rather than retrying, since we
				// have no way to tell what the device actually
				// sent without reliable framing.
				_ = t.sendNak(t.address)
				time.Sleep(postNakDelay)
			}
			return nil, err
		}
		if parsed.Address != t.address {
			continue
		}
		return parsed, nil
	}
	return nil, ccneterr.New(ccneterr.KindTransport, "await_frame", "unable to receive data from bill validator")
}

// exchangeWithResult sends a command frame and returns the payload of
// the matching result frame, applying the outer/inner retry
// discipline. NAK responses are retried at the outer level; illegal
// command responses are terminal.
func (t *transport) exchangeWithResult(command byte, data []byte) ([]byte, error) {
	frame := NewFrame(t.address, command, data).ToBytes()

	var lastErr error
	for attempt := 0; attempt < outerRetries; attempt++ {
		if _, err := t.port.Write(frame); err != nil {
			return nil, ccneterr.Wrap(ccneterr.KindTransport, "exchange", err)
		}
		time.Sleep(postWriteDelay)

		parsed, err := t.awaitMatchingFrame()
		if err != nil {
			return nil, err
		}

		if len(parsed.Payload) == 1 && parsed.Payload[0] == illegalCommandByte {
			return nil, ccneterr.New(ccneterr.KindProtocol, "exchange", "illegal command")
		}
		if len(parsed.Payload) == 1 && parsed.Payload[0] == nakByte {
			lastErr = ccneterr.New(ccneterr.KindTransport, "exchange", "device responded nak")
			continue
		}

		if err := t.sendAck(parsed.Address); err != nil {
			return nil, err
		}
		time.Sleep(postExchangeDelay)
		return parsed.Payload, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ccneterr.New(ccneterr.KindTransport, "exchange", "unable to receive data from bill validator")
}

// exchangeControlOnly sends a command frame whose only valid
// responses are ACK or NAK (no data payload is expected back), e.g.
// reset, stack, return, hold.
func (t *transport) exchangeControlOnly(command byte, data []byte) error {
	frame := NewFrame(t.address, command, data).ToBytes()

	var lastErr error
	for attempt := 0; attempt < outerRetries; attempt++ {
		if _, err := t.port.Write(frame); err != nil {
			return ccneterr.Wrap(ccneterr.KindTransport, "exchange_control", err)
		}
		time.Sleep(postWriteDelay)

		parsed, err := t.awaitMatchingFrame()
		if err != nil {
			return err
		}

		if len(parsed.Payload) != 1 {
			return ccneterr.New(ccneterr.KindProtocol, "exchange_control", "invalid payload")
		}
		switch parsed.Payload[0] {
		case illegalCommandByte:
			return ccneterr.New(ccneterr.KindProtocol, "exchange_control", "illegal command")
		case ackByte:
			time.Sleep(postExchangeDelay)
			return nil
		case nakByte:
			lastErr = ccneterr.New(ccneterr.KindTransport, "exchange_control", "device responded nak")
			continue
		default:
			return ccneterr.New(ccneterr.KindProtocol, "exchange_control", "invalid payload")
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return ccneterr.New(ccneterr.KindTransport, "exchange_control", "unable to receive data from bill validator")
}
