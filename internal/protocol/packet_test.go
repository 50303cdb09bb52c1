package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/ultisoc/bootmon/internal/crc16"
)

func TestNewBlock_PadsShortData(t *testing.T) {
	b := NewBlock(1, []byte{0xAA, 0xBB})

	if len(b.Data) != BlockSize {
		t.Fatalf("NewBlock data length = %d, want %d", len(b.Data), BlockSize)
	}
	if b.Data[0] != 0xAA || b.Data[1] != 0xBB {
		t.Errorf("NewBlock data prefix = %v, want [0xAA 0xBB]", b.Data[:2])
	}
	for i := 2; i < BlockSize; i++ {
		if b.Data[i] != SUB {
			t.Errorf("NewBlock data[%d] = 0x%02X, want SUB", i, b.Data[i])
		}
	}
	if b.Marker() != SOH {
		t.Errorf("Marker() = 0x%02X, want SOH", b.Marker())
	}
}

func TestNewBlock_1K(t *testing.T) {
	b := NewBlock(7, make([]byte, BlockSize+1))

	if len(b.Data) != BlockSize1K {
		t.Errorf("NewBlock data length = %d, want %d", len(b.Data), BlockSize1K)
	}
	if b.Marker() != STX {
		t.Errorf("Marker() = 0x%02X, want STX", b.Marker())
	}
}

func TestBlock_Encode_Format(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, BlockSize)
	b := NewBlock(0x01, data)
	frame := b.Encode()

	expectedLen := HeaderSize + BlockSize + TrailerSize
	if len(frame) != expectedLen {
		t.Fatalf("Encode() length = %d, want %d", len(frame), expectedLen)
	}

	if frame[0] != SOH {
		t.Errorf("Encode()[0] marker = 0x%02X, want SOH", frame[0])
	}
	if frame[1] != 0x01 || frame[2] != 0xFE {
		t.Errorf("Encode() sequence = 0x%02X/0x%02X, want 0x01/0xFE", frame[1], frame[2])
	}
	if !bytes.Equal(frame[HeaderSize:HeaderSize+BlockSize], data) {
		t.Errorf("Encode() payload mismatch")
	}

	crc := binary.BigEndian.Uint16(frame[HeaderSize+BlockSize:])
	if crc != crc16.Checksum(data) {
		t.Errorf("Encode() CRC = 0x%04X, want 0x%04X", crc, crc16.Checksum(data))
	}
}

func TestDecodeBlock_RoundTrip(t *testing.T) {
	for _, size := range []int{1, BlockSize, BlockSize + 1, BlockSize1K} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 3)
		}

		frame := NewBlock(byte(size), data).Encode()
		b, err := DecodeBlock(frame)
		if err != nil {
			t.Errorf("DecodeBlock(size %d) error: %v", size, err)
			continue
		}
		if b.Seq != byte(size) {
			t.Errorf("DecodeBlock(size %d) seq = %d, want %d", size, b.Seq, byte(size))
		}
		if !bytes.Equal(b.Data[:size], data) {
			t.Errorf("DecodeBlock(size %d) payload mismatch", size)
		}
	}
}

func TestDecodeBlock_Errors(t *testing.T) {
	good := NewBlock(3, []byte{1, 2, 3}).Encode()

	badMarker := append([]byte{}, good...)
	badMarker[0] = EOT

	badComplement := append([]byte{}, good...)
	badComplement[2] = 0x00

	badCRC := append([]byte{}, good...)
	badCRC[len(badCRC)-1] ^= 0xFF

	badPayload := append([]byte{}, good...)
	badPayload[HeaderSize] ^= 0x01

	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"too short", []byte{SOH, 1}, "too short"},
		{"bad marker", badMarker, "invalid block marker"},
		{"truncated", good[:len(good)-1], "size mismatch"},
		{"bad complement", badComplement, "complement mismatch"},
		{"bad crc", badCRC, "CRC mismatch"},
		{"bad payload", badPayload, "CRC mismatch"},
	}

	for _, tc := range tests {
		_, err := DecodeBlock(tc.frame)
		if err == nil {
			t.Errorf("DecodeBlock(%s) expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("DecodeBlock(%s) error = %q, want to contain %q", tc.name, err.Error(), tc.want)
		}
	}
}

func TestValidSequence(t *testing.T) {
	for i := 0; i < 256; i++ {
		seq := byte(i)
		if !ValidSequence(seq, 255-seq) {
			t.Errorf("ValidSequence(%d, %d) = false, want true", seq, 255-seq)
		}
		if ValidSequence(seq, seq) {
			t.Errorf("ValidSequence(%d, %d) = true, want false", seq, seq)
		}
	}
}
