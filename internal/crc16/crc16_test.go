package crc16

import "testing"

func TestChecksum_KnownVectors(t *testing.T) {
	tests := []struct {
		input    []byte
		expected uint16
	}{
		{nil, 0x0000},
		{[]byte{}, 0x0000},
		{[]byte("123456789"), 0x31C3},
		{[]byte("A"), 0x58E5},
		{[]byte{0x00}, 0x0000},
		{[]byte{0xFF}, 0x1EF0},
	}

	for _, tc := range tests {
		result := Checksum(tc.input)
		if result != tc.expected {
			t.Errorf("Checksum(%q) = 0x%04X, want 0x%04X", tc.input, result, tc.expected)
		}
	}
}

func TestChecksum_ZeroBlock(t *testing.T) {
	// A block of zeros leaves the register at its initial value
	if result := Checksum(make([]byte, 128)); result != 0 {
		t.Errorf("Checksum(zeros) = 0x%04X, want 0x0000", result)
	}
}

func TestUpdate_Incremental(t *testing.T) {
	data := []byte("The quick brown fox jumps over the lazy dog")
	whole := Checksum(data)

	for split := 0; split <= len(data); split++ {
		crc := Update(Update(0, data[:split]), data[split:])
		if crc != whole {
			t.Errorf("Update split at %d = 0x%04X, want 0x%04X", split, crc, whole)
		}
	}
}

func TestChecksum_DetectsSingleBitFlip(t *testing.T) {
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i)
	}
	base := Checksum(data)

	for i := range data {
		for bit := 0; bit < 8; bit++ {
			data[i] ^= 1 << bit
			if Checksum(data) == base {
				t.Errorf("bit %d of byte %d flipped without changing checksum", bit, i)
			}
			data[i] ^= 1 << bit
		}
	}
}
