package ccnet

import (
	"fmt"
	"strings"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

const (
	billTypesCountMax  = 24
	billTypeRecordSize = 5
	minorUnitsPerMajor = 100 // fixed assumption; see Design Notes
)

// isBitSet reports whether bit n (0-7) is set in b.
func isBitSet(b byte, n int) bool {
	return b&(1<<uint(n)) != 0
}

// setBit sets bit n (0-7) in *b.
func setBit(b *byte, n int) {
	*b |= 1 << uint(n)
}

// tripletBitPosition maps a bill-type index (0-23) to its byte and
// bit position within a 3-byte little-endian-ish triplet: byte
// 2-(n/8), bit n%8. This convention is shared by the enable-bill-
// types, escrow, and security-level triplets.
func tripletBitPosition(n int) (byteIndex, bitIndex int) {
	return 2 - (n / 8), n % 8
}

// setTripletBit sets the bit for bill-type index n inside a 3-byte
// triplet.
func setTripletBit(triplet *[3]byte, n int) {
	byteIdx, bitIdx := tripletBitPosition(n)
	setBit(&triplet[byteIdx], bitIdx)
}

// isTripletBitSet reports whether the bit for bill-type index n is
// set inside a 3-byte triplet.
func isTripletBitSet(triplet [3]byte, n int) bool {
	byteIdx, bitIdx := tripletBitPosition(n)
	return isBitSet(triplet[byteIdx], bitIdx)
}

// power computes base^exponent for non-negative integer exponents in
// 64-bit arithmetic. A result that would not fit in a uint64 (such as
// the 10^127 a bill table's exponent byte can ask for) is rejected
// with an error instead of wrapping around.
func power(base, exponent int) (uint64, error) {
	if base == 0 && exponent == 0 {
		return 0, fmt.Errorf("0^0 is undefined")
	}
	result := uint64(1)
	for i := 0; i < exponent; i++ {
		if base != 0 && result > ^uint64(0)/uint64(base) {
			return 0, fmt.Errorf("%d^%d overflows 64 bits", base, exponent)
		}
		result *= uint64(base)
	}
	return result, nil
}

// decodeBillTable parses the 120-byte get-bill-table response into
// the set of bill-type entries the device currently recognises.
// Unused slots (leading byte zero) are skipped.
func decodeBillTable(resp []byte) ([]billTypeEntry, error) {
	if len(resp) != billTypesCountMax*billTypeRecordSize {
		return nil, ccneterr.New(ccneterr.KindProtocol, "decode_bill_table",
			fmt.Sprintf("unexpected bill table size: %d bytes", len(resp)))
	}

	var entries []billTypeEntry
	for i := 0; i < billTypesCountMax; i++ {
		offset := i * billTypeRecordSize
		record := resp[offset : offset+billTypeRecordSize]

		baseValue := record[0]
		if baseValue == 0 {
			continue // unused slot
		}

		countryCode := strings.TrimSpace(string(record[1:4]))
		// No country-to-currency mapping table is available; the
		// country code is used directly as the currency code.
		currencyCode := countryCode

		exponentByte := record[4]
		magnitude := int(exponentByte & 0x7F)
		negative := isBitSet(exponentByte, 7)

		scale, err := power(10, magnitude)
		if err != nil {
			return nil, ccneterr.Wrap(ccneterr.KindProtocol, "decode_bill_table", err)
		}

		base := uint64(baseValue) * minorUnitsPerMajor
		var denomination uint64
		if negative {
			if scale == 0 || base%scale != 0 {
				return nil, ccneterr.New(ccneterr.KindProtocol, "decode_bill_table",
					fmt.Sprintf("bill type %d: denomination %d not evenly divisible by 10^%d", i, base, magnitude))
			}
			denomination = base / scale
		} else {
			denomination = base * scale
		}

		entries = append(entries, billTypeEntry{
			Index: i,
			CashType: CashType{
				CurrencyCode: currencyCode,
				Denomination: denomination,
			},
		})
	}
	return entries, nil
}

// encodeEnableTriplet builds the enable-bill-types command payload:
// a 3-byte "enable" triplet followed by a 3-byte "enable escrow"
// triplet, both set for exactly the bill-type indices given.
func encodeEnableTriplet(indices []int) [6]byte {
	var out [6]byte
	var enable, escrow [3]byte
	for _, n := range indices {
		setTripletBit(&enable, n)
		setTripletBit(&escrow, n)
	}
	copy(out[0:3], enable[:])
	copy(out[3:6], escrow[:])
	return out
}

// decodeEnabledIndices reads the 3-byte "enabled bill types" triplet
// out of a get-status response (the low-order half) and returns the
// bill-type indices that are set.
func decodeEnabledIndices(triplet [3]byte) []int {
	var indices []int
	for n := 0; n < billTypesCountMax; n++ {
		if isTripletBitSet(triplet, n) {
			indices = append(indices, n)
		}
	}
	return indices
}

// encodeSecurityTriplet builds the set-security command payload: a
// single 3-byte triplet with the bit set for every bill-type index
// whose requested level is high.
func encodeSecurityTriplet(levels map[int]BillSecurityLevel) [3]byte {
	var triplet [3]byte
	for n, level := range levels {
		if level == SecurityHigh {
			setTripletBit(&triplet, n)
		}
	}
	return triplet
}

// decodeSecurityTriplet reads the security-level triplet out of a
// get-status response, returning high/normal for every index present
// in knownIndices. Indices absent from the bill table are skipped.
func decodeSecurityTriplet(triplet [3]byte, knownIndices []int) map[int]BillSecurityLevel {
	levels := make(map[int]BillSecurityLevel, len(knownIndices))
	for _, n := range knownIndices {
		if isTripletBitSet(triplet, n) {
			levels[n] = SecurityHigh
		} else {
			levels[n] = SecurityNormal
		}
	}
	return levels
}
