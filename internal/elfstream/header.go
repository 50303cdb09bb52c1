package elfstream

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	headerSize   = 52 // sizeof(Elf32_Ehdr)
	progSize     = 32 // sizeof(Elf32_Phdr)
	scratchSize  = 64
	maxSegments  = 4
	magic        = elf.ELFMAG
	wantMachine  = elf.EM_MIPS
	wantFileType = elf.ET_EXEC
)

func decodeHeader(raw []byte) elf.Header32 {
	var h elf.Header32
	binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &h)
	return h
}

func decodeProg(raw []byte) elf.Prog32 {
	var p elf.Prog32
	binary.Read(bytes.NewReader(raw[:progSize]), binary.LittleEndian, &p)
	return p
}

// checkHeader validates the fields the loader depends on, in order,
// returning the first failing check.
func checkHeader(h *elf.Header32) Status {
	if string(h.Ident[:elf.EI_CLASS]) != magic {
		return BadMagic
	}
	if elf.Class(h.Ident[elf.EI_CLASS]) != elf.ELFCLASS32 {
		return BadClass
	}
	if elf.Data(h.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return BadEncoding
	}
	if elf.Version(h.Ident[elf.EI_VERSION]) != elf.EV_CURRENT {
		return BadVersion
	}
	if elf.Machine(h.Machine) != wantMachine {
		return BadArchitecture
	}
	if elf.Type(h.Type) != wantFileType {
		return BadObjectType
	}
	if h.Phnum == 0 || h.Phentsize < progSize || h.Phentsize > scratchSize {
		return BadMagic
	}
	return InProgress
}
