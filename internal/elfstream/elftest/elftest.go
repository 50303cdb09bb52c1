// Package elftest builds small ELF32 executables for exercising the stream
// loader.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	HeaderSize = 52
	ProgSize   = 32
)

// Segment is one program header and its file contents.
type Segment struct {
	Type    elf.ProgType // zero means PT_LOAD
	Offset  uint32       // zero means placed after the previous segment
	Addr    uint32       // physical address
	Data    []byte
	MemSize uint32 // zero means len(Data)
}

// Image describes an executable. Zero fields take sensible defaults:
// a MIPS ET_EXEC with the program header table right after the header.
type Image struct {
	Entry     uint32
	Machine   elf.Machine
	Type      elf.Type
	Ident     [elf.EI_NIDENT]byte // zero means a valid 32-bit little-endian ident
	PhOff     uint32
	PhEntSize uint16
	Padding   int // gap inserted before each auto-placed segment
	Segments  []Segment
}

// Load returns a PT_LOAD segment.
func Load(addr uint32, data []byte) Segment {
	return Segment{Type: elf.PT_LOAD, Addr: addr, Data: data}
}

// Layout resolves the defaults and returns the segments with their final
// file offsets.
func (img Image) Layout() []Segment {
	phoff := img.phoff()
	next := phoff + uint32(img.phentsize())*uint32(len(img.Segments))

	segs := make([]Segment, len(img.Segments))
	for i, s := range img.Segments {
		if s.Type == 0 {
			s.Type = elf.PT_LOAD
		}
		if s.Offset == 0 {
			s.Offset = next + uint32(img.Padding)
		}
		if s.MemSize == 0 {
			s.MemSize = uint32(len(s.Data))
		}
		if end := s.Offset + uint32(len(s.Data)); end > next {
			next = end
		}
		segs[i] = s
	}
	return segs
}

// Bytes serializes the image.
func (img Image) Bytes() []byte {
	segs := img.Layout()
	phoff := img.phoff()
	phentsize := img.phentsize()

	size := int(phoff) + int(phentsize)*len(segs)
	if size < HeaderSize {
		size = HeaderSize
	}
	for _, s := range segs {
		if end := int(s.Offset) + len(s.Data); end > size {
			size = end
		}
	}
	out := make([]byte, size)

	// Tables last, so an overlapping layout keeps them intact
	for _, s := range segs {
		copy(out[s.Offset:], s.Data)
	}

	ident := img.Ident
	if ident == ([elf.EI_NIDENT]byte{}) {
		copy(ident[:], elf.ELFMAG)
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
		ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
		ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	}

	machine := img.Machine
	if machine == 0 {
		machine = elf.EM_MIPS
	}
	typ := img.Type
	if typ == 0 {
		typ = elf.ET_EXEC
	}

	hdr := elf.Header32{
		Ident:     ident,
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     phoff,
		Ehsize:    HeaderSize,
		Phentsize: phentsize,
		Phnum:     uint16(len(segs)),
	}
	for i, s := range segs {
		prog := elf.Prog32{
			Type:   uint32(s.Type),
			Off:    s.Offset,
			Vaddr:  s.Addr,
			Paddr:  s.Addr,
			Filesz: uint32(len(s.Data)),
			Memsz:  s.MemSize,
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Align:  4,
		}
		put(out[int(phoff)+i*int(phentsize):], &prog)
	}

	put(out[0:], &hdr)
	return out
}

func (img Image) phoff() uint32 {
	if img.PhOff != 0 {
		return img.PhOff
	}
	return HeaderSize
}

func (img Image) phentsize() uint16 {
	if img.PhEntSize != 0 {
		return img.PhEntSize
	}
	return ProgSize
}

func put(dst []byte, v interface{}) {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, v)
	copy(dst, b.Bytes())
}

// Pattern returns n bytes of a recognizable test pattern.
func Pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed ^ byte(i) ^ byte(i>>8)
	}
	return data
}
