package ccnet

import "testing"

func makeBillTableResponse(records map[int][5]byte) []byte {
	resp := make([]byte, billTypesCountMax*billTypeRecordSize)
	for idx, record := range records {
		copy(resp[idx*billTypeRecordSize:], record[:])
	}
	return resp
}

func TestDecodeBillTablePositiveExponent(t *testing.T) {
	// base=5, country "RUB", exponent byte 0x02 (positive, magnitude 2)
	// -> denomination = 5*100*10^2 = 50000
	resp := makeBillTableResponse(map[int][5]byte{
		0: {5, 'R', 'U', 'B', 0x02},
	})
	entries, err := decodeBillTable(resp)
	if err != nil {
		t.Fatalf("decodeBillTable: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Index != 0 || e.CashType.CurrencyCode != "RUB" || e.CashType.Denomination != 50000 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestDecodeBillTableNegativeExponent(t *testing.T) {
	// base=50, exponent byte 0x81 (sign bit set, magnitude 1)
	// -> base*100 = 5000, divided by 10^1 = 500
	resp := makeBillTableResponse(map[int][5]byte{
		3: {50, 'U', 'S', 'D', 0x81},
	})
	entries, err := decodeBillTable(resp)
	if err != nil {
		t.Fatalf("decodeBillTable: %v", err)
	}
	if len(entries) != 1 || entries[0].CashType.Denomination != 500 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestDecodeBillTableRejectsNonDivisibleNegativeExponent(t *testing.T) {
	// base=1, exponent byte 0x83 (sign bit set, magnitude 3)
	// -> base*100 = 100, which 10^3=1000 does not divide evenly
	resp := makeBillTableResponse(map[int][5]byte{
		0: {1, 'U', 'S', 'D', 0x83},
	})
	if _, err := decodeBillTable(resp); err == nil {
		t.Fatal("expected an error for a non-divisible negative exponent")
	}
}

func TestDecodeBillTableSkipsUnusedSlots(t *testing.T) {
	resp := makeBillTableResponse(map[int][5]byte{
		2: {10, 'E', 'U', 'R', 0x00},
	})
	entries, err := decodeBillTable(resp)
	if err != nil {
		t.Fatalf("decodeBillTable: %v", err)
	}
	if len(entries) != 1 || entries[0].Index != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestDecodeBillTableRejectsWrongSize(t *testing.T) {
	if _, err := decodeBillTable([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a malformed bill table response")
	}
}

func TestTripletBitPositionMatchesReversedByteOrder(t *testing.T) {
	// Bill-type index 0 lives in the high byte (index 2) at bit 0;
	// index 8 moves to the middle byte (index 1) at bit 0.
	if b, bit := tripletBitPosition(0); b != 2 || bit != 0 {
		t.Fatalf("tripletBitPosition(0) = (%d,%d), want (2,0)", b, bit)
	}
	if b, bit := tripletBitPosition(8); b != 1 || bit != 0 {
		t.Fatalf("tripletBitPosition(8) = (%d,%d), want (1,0)", b, bit)
	}
	if b, bit := tripletBitPosition(23); b != 0 || bit != 7 {
		t.Fatalf("tripletBitPosition(23) = (%d,%d), want (0,7)", b, bit)
	}
}

func TestEnableTripletRoundTrip(t *testing.T) {
	indices := []int{0, 5, 8, 23}
	data := encodeEnableTriplet(indices)

	var enable [3]byte
	copy(enable[:], data[0:3])
	got := decodeEnabledIndices(enable)

	if len(got) != len(indices) {
		t.Fatalf("got %v, want %v", got, indices)
	}
	want := map[int]bool{0: true, 5: true, 8: true, 23: true}
	for _, n := range got {
		if !want[n] {
			t.Fatalf("unexpected index %d in %v", n, got)
		}
	}
}

func TestSecurityTripletRoundTrip(t *testing.T) {
	levels := map[int]BillSecurityLevel{0: SecurityHigh, 1: SecurityNormal, 23: SecurityHigh}
	triplet := encodeSecurityTriplet(levels)

	decoded := decodeSecurityTriplet(triplet, []int{0, 1, 23})
	if decoded[0] != SecurityHigh || decoded[1] != SecurityNormal || decoded[23] != SecurityHigh {
		t.Fatalf("unexpected decoded levels: %v", decoded)
	}
}

func TestSecurityTripletSkipsUnknownIndices(t *testing.T) {
	// Index 5 is set in the triplet but is not a known index.
	levels := map[int]BillSecurityLevel{0: SecurityHigh, 5: SecurityHigh}
	triplet := encodeSecurityTriplet(levels)

	decoded := decodeSecurityTriplet(triplet, []int{0})
	if len(decoded) != 1 {
		t.Fatalf("expected only known indices to be decoded, got %v", decoded)
	}
}
