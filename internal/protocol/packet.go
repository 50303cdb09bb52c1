package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ultisoc/bootmon/internal/crc16"
)

// Block is a single XModem data block.
type Block struct {
	Seq  byte
	Data []byte
}

// NewBlock creates a block, padding data with SUB up to the block size.
// Payloads longer than 128 bytes use the 1K framing.
func NewBlock(seq byte, data []byte) *Block {
	size := BlockSize
	if len(data) > BlockSize {
		size = BlockSize1K
	}

	payload := make([]byte, size)
	n := copy(payload, data)
	for i := n; i < size; i++ {
		payload[i] = SUB
	}

	return &Block{Seq: seq, Data: payload}
}

// Marker returns the start byte for the block's payload size.
func (b *Block) Marker() byte {
	if len(b.Data) == BlockSize1K {
		return STX
	}
	return SOH
}

// Checksum returns the CRC over the payload.
func (b *Block) Checksum() uint16 {
	return crc16.Checksum(b.Data)
}

// Encode serializes the block for the wire.
func (b *Block) Encode() []byte {
	// Frame format:
	// 0: marker (SOH or STX)
	// 1: sequence number
	// 2: ones' complement of sequence number
	// 3..n+2: payload
	// n+3..n+4: CRC (big-endian)

	n := len(b.Data)
	frame := make([]byte, HeaderSize+n+TrailerSize)

	frame[0] = b.Marker()
	frame[1] = b.Seq
	frame[2] = ^b.Seq
	copy(frame[HeaderSize:], b.Data)
	binary.BigEndian.PutUint16(frame[HeaderSize+n:], b.Checksum())

	return frame
}

// DecodeBlock parses a complete frame produced by Encode.
func DecodeBlock(frame []byte) (*Block, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}

	size := PayloadSize(frame[0])
	if size == 0 {
		return nil, fmt.Errorf("invalid block marker: 0x%02X", frame[0])
	}

	if len(frame) != HeaderSize+size+TrailerSize {
		return nil, fmt.Errorf("frame size mismatch: expected %d, have %d", HeaderSize+size+TrailerSize, len(frame))
	}

	if !ValidSequence(frame[1], frame[2]) {
		return nil, fmt.Errorf("sequence complement mismatch: 0x%02X/0x%02X", frame[1], frame[2])
	}

	b := &Block{
		Seq:  frame[1],
		Data: frame[HeaderSize : HeaderSize+size],
	}

	crc := binary.BigEndian.Uint16(frame[HeaderSize+size:])
	if b.Checksum() != crc {
		return nil, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", b.Checksum(), crc)
	}

	return b, nil
}

// ValidSequence reports whether cseq is the ones' complement of seq.
func ValidSequence(seq, cseq byte) bool {
	return seq == ^cseq
}
