package ccnet

import "testing"

func TestCRC16EmptyInputIsZero(t *testing.T) {
	if got := crc16(nil); got != 0 {
		t.Fatalf("crc16(nil) = 0x%04x, want 0", got)
	}
}

func TestCRC16DetectsSingleByteChange(t *testing.T) {
	a := []byte{0x02, 0x03, 0x06, 0x30}
	b := []byte{0x02, 0x03, 0x06, 0x31}
	if crc16(a) == crc16(b) {
		t.Fatalf("crc16 did not change after flipping a byte")
	}
}

func TestCRC16IsDeterministic(t *testing.T) {
	frame := []byte{0x02, 0x03, 0x09, 0x34, 0x01, 0x02, 0x03}
	if crc16(frame) != crc16(frame) {
		t.Fatal("crc16 is not deterministic")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := NewFrame(0x03, cmdEnableBillTypes, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	raw := f.ToBytes()

	parsed, err := frameFromBytes(raw)
	if err != nil {
		t.Fatalf("frameFromBytes: %v", err)
	}
	if parsed.Address != f.Address {
		t.Errorf("address = %#x, want %#x", parsed.Address, f.Address)
	}
	if len(parsed.Payload) != 1+len(f.Data) {
		t.Fatalf("payload length = %d, want %d", len(parsed.Payload), 1+len(f.Data))
	}
	if parsed.Payload[0] != cmdEnableBillTypes {
		t.Errorf("command byte = %#x, want %#x", parsed.Payload[0], cmdEnableBillTypes)
	}
}

func TestFrameFromBytesRejectsBadSync(t *testing.T) {
	f := NewFrame(0x03, cmdPoll, nil)
	raw := f.ToBytes()
	raw[syncOffset] = 0x99

	if _, err := frameFromBytes(raw); err == nil {
		t.Fatal("expected a synchronisation error, got nil")
	}
}

func TestFrameFromBytesRejectsBadCRC(t *testing.T) {
	f := NewFrame(0x03, cmdPoll, nil)
	raw := f.ToBytes()
	raw[len(raw)-1] ^= 0xFF

	if _, err := frameFromBytes(raw); err == nil {
		t.Fatal("expected a crc error, got nil")
	}
}

func TestFrameFromBytesRejectsShortFrame(t *testing.T) {
	if _, err := frameFromBytes([]byte{0x02, 0x03}); err == nil {
		t.Fatal("expected a framing error for a short frame, got nil")
	}
}
