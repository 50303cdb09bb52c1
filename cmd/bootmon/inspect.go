package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultisoc/bootmon/internal/elfstream"
)

// countingTarget records how many segment bytes the stream placed.
type countingTarget struct {
	written int
	dest    uint32
}

func (t *countingTarget) WriteAt(p []byte, off int64) (int, error) {
	t.written += len(p)
	return len(p), nil
}

func (t *countingTarget) SetDestination(addr uint32) {
	t.dest = addr
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if chunkFlag <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkFlag)
	}

	fmt.Printf("File: %s (%d bytes), fed in %d-byte chunks\n", path, len(data), chunkFlag)

	// Replay the stream the way the receiver would stage it
	target := &countingTarget{}
	stream := elfstream.New(target)
	st := elfstream.InProgress
	for off := 0; off < len(data) && !st.Terminal(); off += chunkFlag {
		end := off + chunkFlag
		if end > len(data) {
			end = len(data)
		}
		at := target.dest
		target.dest = at + uint32(end-off)
		st = stream.Feed(data[off:end], at)
	}

	switch st {
	case elfstream.Loaded:
	case elfstream.InProgress:
		return fmt.Errorf("image ends at %d bytes before every segment was seen", len(data))
	default:
		if st == elfstream.LayoutError {
			if hint := layoutHint(data); hint != "" {
				fmt.Println("hint:", hint)
			}
		}
		return stream.Err()
	}

	fmt.Printf("Entry:    0x%08X\n", stream.Entry())
	fmt.Printf("Consumed: %d of %d bytes\n", stream.Position(), len(data))
	fmt.Println("Segments:")
	fmt.Printf("  %-10s %-10s %-10s %-10s\n", "Offset", "Addr", "FileSize", "MemSize")
	for _, seg := range stream.Segments() {
		fmt.Printf("  0x%08X 0x%08X 0x%08X 0x%08X\n", seg.Offset, seg.Addr, seg.Size, seg.MemSize)
		if seg.MemSize > seg.Size {
			fmt.Printf("    note: %d bytes of bss are not cleared by the loader\n", seg.MemSize-seg.Size)
		}
	}

	if err := crossCheck(data, stream.Segments()); err != nil {
		return err
	}
	fmt.Printf("OK: %d segment bytes placed\n", target.written)
	return nil
}

// crossCheck compares the streamed segment table with debug/elf's view.
func crossCheck(data []byte, segs []elfstream.Segment) error {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("debug/elf: %w", err)
	}
	defer f.Close()

	var loads []*elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	if len(loads) != len(segs) {
		return fmt.Errorf("debug/elf sees %d loadable segments, loader saw %d", len(loads), len(segs))
	}

	for i, p := range loads {
		s := segs[i]
		if uint64(s.Offset) != p.Off || uint64(s.Addr) != p.Paddr || uint64(s.Size) != p.Filesz {
			return fmt.Errorf("segment %d differs: loader 0x%X@0x%X+%d, debug/elf 0x%X@0x%X+%d",
				i, s.Addr, s.Offset, s.Size, p.Paddr, p.Off, p.Filesz)
		}
	}
	return nil
}

// layoutHint explains the usual cause of a layout error: a loadable segment
// whose file data starts inside the ELF header or program header table.
func layoutHint(data []byte) string {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil || f.Class != elf.ELFCLASS32 {
		return ""
	}
	defer f.Close()

	var hdr elf.Header32
	if err := binary.Read(bytes.NewReader(data), f.ByteOrder, &hdr); err != nil {
		return ""
	}
	tables := uint64(hdr.Phoff) + uint64(hdr.Phentsize)*uint64(hdr.Phnum)

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 || p.Off >= tables {
			continue
		}
		return fmt.Sprintf("segment for 0x%08X starts at file offset 0x%X, inside the ELF headers (0x%X bytes); "+
			"relink with -z separate-code or --nmagic so segment data follows the program header table",
			p.Paddr, p.Off, tables)
	}
	return ""
}
