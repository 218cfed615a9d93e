package ccnet

import (
	"testing"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// scriptedResultFrame builds the bytes a device would send back as
// the result of a data-bearing command: address, payload, CRC.
func scriptedResultFrame(address byte, payload []byte) []byte {
	f := &Frame{Address: address, Command: payload[0], Data: payload[1:]}
	return f.ToBytes()
}

func TestExchangeWithResultHappyPath(t *testing.T) {
	port := newFakeSerialPort()
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{0x14})) // idling, as a poll result
	tr := newTransport(port, DefaultAddress)

	payload, err := tr.exchangeWithResult(cmdPoll, nil)
	if err != nil {
		t.Fatalf("exchangeWithResult: %v", err)
	}
	if len(payload) != 1 || payload[0] != 0x14 {
		t.Fatalf("payload = %v, want [0x14]", payload)
	}

	writes := port.writes()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes (command + ack), got %d", len(writes))
	}
}

func TestExchangeWithResultRetriesOnNak(t *testing.T) {
	port := newFakeSerialPort()
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{nakByte}))
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{0x14}))
	tr := newTransport(port, DefaultAddress)
	tr.address = DefaultAddress

	payload, err := tr.exchangeWithResult(cmdPoll, nil)
	if err != nil {
		t.Fatalf("exchangeWithResult: %v", err)
	}
	if payload[0] != 0x14 {
		t.Fatalf("payload = %v, want [0x14]", payload)
	}
}

func TestExchangeWithResultIllegalCommandIsTerminal(t *testing.T) {
	port := newFakeSerialPort()
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{illegalCommandByte}))
	tr := newTransport(port, DefaultAddress)

	_, err := tr.exchangeWithResult(cmdPoll, nil)
	if err == nil {
		t.Fatal("expected an illegal command error")
	}
	if kind, ok := ccneterr.KindOf(err); !ok || kind != ccneterr.KindProtocol {
		t.Fatalf("expected KindProtocol, got %v (ok=%v)", err, ok)
	}

	writes := port.writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly 1 write (no retry after illegal command), got %d", len(writes))
	}
}

func TestExchangeWithResultWrongAddressIsSkipped(t *testing.T) {
	port := newFakeSerialPort()
	port.queueRead(scriptedResultFrame(0x09, []byte{0x14})) // not our address
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{0x14}))
	tr := newTransport(port, DefaultAddress)

	payload, err := tr.exchangeWithResult(cmdPoll, nil)
	if err != nil {
		t.Fatalf("exchangeWithResult: %v", err)
	}
	if payload[0] != 0x14 {
		t.Fatalf("payload = %v, want [0x14]", payload)
	}
}

func TestExchangeControlOnlyAck(t *testing.T) {
	port := newFakeSerialPort()
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{ackByte}))
	tr := newTransport(port, DefaultAddress)

	if err := tr.exchangeControlOnly(cmdReset, nil); err != nil {
		t.Fatalf("exchangeControlOnly: %v", err)
	}

	writes := port.writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly 1 write (command only, no host ack), got %d", len(writes))
	}
}
