// Package memory emulates the target's physical address space: a handful of
// flat regions, each backed by a byte slice, with bounds-checked access.
package memory

import (
	"encoding/binary"
	"fmt"
)

// Region describes one contiguous block of the address space.
type Region struct {
	Name     string
	Base     uint32
	Size     uint32
	ReadOnly bool
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// contains reports whether [addr, addr+n) lies inside the region.
func (r Region) contains(addr uint64, n int) bool {
	return addr >= uint64(r.Base) && addr+uint64(n) <= r.End()
}

type bank struct {
	Region
	data []byte
}

// Memory is a set of non-overlapping regions.
type Memory struct {
	banks []*bank
}

// AccessError reports an access that does not fit in a single region.
type AccessError struct {
	Addr  uint64
	Len   int
	Write bool
}

func (e *AccessError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("%s of %d bytes at 0x%08X is outside mapped memory", op, e.Len, e.Addr)
}

// ReadOnlyError reports a write to a read-only region.
type ReadOnlyError struct {
	Addr   uint64
	Region string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("write at 0x%08X: region %s is read-only", e.Addr, e.Region)
}

// New creates a memory map. Overlapping regions are rejected.
func New(regions ...Region) (*Memory, error) {
	m := &Memory{}
	for _, r := range regions {
		if r.Size == 0 {
			return nil, fmt.Errorf("region %s has zero size", r.Name)
		}
		if r.End() > 1<<32 {
			return nil, fmt.Errorf("region %s exceeds the 32-bit address space", r.Name)
		}
		for _, b := range m.banks {
			if uint64(r.Base) < b.End() && uint64(b.Base) < r.End() {
				return nil, fmt.Errorf("region %s overlaps %s", r.Name, b.Name)
			}
		}
		m.banks = append(m.banks, &bank{Region: r, data: make([]byte, r.Size)})
	}
	return m, nil
}

// Regions returns the memory map.
func (m *Memory) Regions() []Region {
	regions := make([]Region, len(m.banks))
	for i, b := range m.banks {
		regions[i] = b.Region
	}
	return regions
}

// find returns the bank holding [addr, addr+n).
func (m *Memory) find(addr uint64, n int) *bank {
	for _, b := range m.banks {
		if b.contains(addr, n) {
			return b
		}
	}
	return nil
}

// ReadAt implements io.ReaderAt with off as the absolute address.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &AccessError{Addr: uint64(off), Len: len(p)}
	}
	b := m.find(uint64(off), len(p))
	if b == nil {
		return 0, &AccessError{Addr: uint64(off), Len: len(p)}
	}
	i := uint64(off) - uint64(b.Base)
	return copy(p, b.data[i:]), nil
}

// WriteAt implements io.WriterAt with off as the absolute address.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &AccessError{Addr: uint64(off), Len: len(p), Write: true}
	}
	b := m.find(uint64(off), len(p))
	if b == nil {
		return 0, &AccessError{Addr: uint64(off), Len: len(p), Write: true}
	}
	if b.ReadOnly {
		return 0, &ReadOnlyError{Addr: uint64(off), Region: b.Name}
	}
	i := uint64(off) - uint64(b.Base)
	return copy(b.data[i:], p), nil
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint32) (uint8, error) {
	var buf [1]byte
	if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint32) (uint16, error) {
	var buf [2]byte
	if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint32) (uint32, error) {
	var buf [4]byte
	if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint32, v uint8) error {
	_, err := m.WriteAt([]byte{v}, int64(addr))
	return err
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint32, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := m.WriteAt(buf[:], int64(addr))
	return err
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint32, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := m.WriteAt(buf[:], int64(addr))
	return err
}

// Fill sets n bytes starting at addr to v.
func (m *Memory) Fill(addr uint32, v byte, n uint32) error {
	b := m.find(uint64(addr), int(n))
	if b == nil {
		return &AccessError{Addr: uint64(addr), Len: int(n), Write: true}
	}
	if b.ReadOnly {
		return &ReadOnlyError{Addr: uint64(addr), Region: b.Name}
	}
	i := addr - b.Base
	for j := i; j < i+n; j++ {
		b.data[j] = v
	}
	return nil
}

// Move copies n bytes from src to dst. The ranges may overlap.
func (m *Memory) Move(dst, src uint32, n uint32) error {
	buf := make([]byte, n)
	if _, err := m.ReadAt(buf, int64(src)); err != nil {
		return err
	}
	_, err := m.WriteAt(buf, int64(dst))
	return err
}
