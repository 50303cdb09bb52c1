// Package elfstream loads an ELF32 executable as it streams past, without
// ever holding the whole file. Chunks of any size are fed in file order;
// loadable segments are written to their physical addresses as soon as
// their bytes arrive.
package elfstream

import (
	"debug/elf"
	"fmt"
	"io"
)

// Target receives segment data and destination-change notifications.
//
// SetDestination tells the byte source where the next incoming byte should
// be staged: the resume address of the segment being loaded, or the start
// of the padding just skipped so that padding never advances the cursor.
type Target interface {
	io.WriterAt
	SetDestination(addr uint32)
}

// Segment describes a loadable segment as declared in the image.
type Segment struct {
	Offset  uint32 // file offset
	Size    uint32 // bytes present in the file
	Addr    uint32 // physical load address
	MemSize uint32
}

type state int

const (
	readHeader state = iota
	readProgs
	loadSegments
	done
)

// slot tracks the part of a segment that has not been placed yet.
type slot struct {
	begin uint64 // file offset of the next unplaced byte
	end   uint64
	addr  uint32 // where that byte lands
}

func (s *slot) placed() bool {
	return s.begin == s.end
}

// Stream is the incremental parser state for one image.
type Stream struct {
	target Target
	state  state
	status Status
	err    error

	pos uint64 // file offset of buf[0]
	buf []byte // unconsumed part of the current chunk
	at  uint32 // staging address of buf[0]

	entry     uint32
	phoff     uint64
	phentsize uint64
	phnum     int
	phcur     int

	slots    [maxSegments]slot
	nslots   int
	segments []Segment

	scratch    [scratchSize]byte
	scratchLen int
}

// New creates a parser writing segments to target.
func New(target Target) *Stream {
	if target == nil {
		panic("target cannot be nil")
	}
	return &Stream{target: target}
}

// Feed consumes chunk, which the byte source staged at address at.
// It returns InProgress until the image is loaded or rejected; after that
// every call returns the same terminal status without consuming anything.
func (s *Stream) Feed(chunk []byte, at uint32) Status {
	if s.state == done {
		return s.status
	}

	s.buf = chunk
	s.at = at

	for len(s.buf) > 0 && s.state != done {
		var st Status
		switch s.state {
		case readHeader:
			st = s.parseHeader()
		case readProgs:
			st = s.parseProg()
		case loadSegments:
			st = s.place()
		}
		if st != InProgress {
			s.finish(st)
		}
	}

	s.buf = nil
	return s.status
}

// Entry returns the entry point. Valid once the header has been parsed.
func (s *Stream) Entry() uint32 {
	return s.entry
}

// Segments returns the loadable segments found so far.
func (s *Stream) Segments() []Segment {
	return append([]Segment(nil), s.segments...)
}

// Position returns the number of file bytes consumed.
func (s *Stream) Position() uint64 {
	return s.pos
}

// Status returns the current status.
func (s *Stream) Status() Status {
	return s.status
}

// Err returns the rejection as an error, nil while in progress or loaded.
func (s *Stream) Err() error {
	if s.status == InProgress || s.status == Loaded {
		return nil
	}
	return &FormatError{Status: s.status, Err: s.err}
}

func (s *Stream) finish(st Status) {
	s.status = st
	s.state = done
}

func (s *Stream) consume(n int) {
	s.buf = s.buf[n:]
	s.at += uint32(n)
	s.pos += uint64(n)
}

// gather appends up to want bytes to the scratch buffer, skipping skip bytes
// of the chunk first. It returns the full structure once scratch holds want
// bytes, nil if more input is needed.
func (s *Stream) gather(skip, want int) []byte {
	n := want - s.scratchLen
	if avail := len(s.buf) - skip; avail < n {
		n = avail
	}
	copy(s.scratch[s.scratchLen:], s.buf[skip:skip+n])
	s.consume(skip + n)
	s.scratchLen += n

	if s.scratchLen < want {
		return nil
	}
	s.scratchLen = 0
	return s.scratch[:want]
}

func (s *Stream) parseHeader() Status {
	var raw []byte
	if s.scratchLen > 0 || len(s.buf) < headerSize {
		if raw = s.gather(0, headerSize); raw == nil {
			return InProgress
		}
	} else {
		raw = s.buf[:headerSize]
		s.consume(headerSize)
	}

	h := decodeHeader(raw)
	if st := checkHeader(&h); st != InProgress {
		return st
	}

	s.entry = h.Entry
	s.phoff = uint64(h.Phoff)
	s.phentsize = uint64(h.Phentsize)
	s.phnum = int(h.Phnum)
	s.state = readProgs
	return InProgress
}

func (s *Stream) parseProg() Status {
	begin := s.phoff + uint64(s.phcur)*s.phentsize
	end := begin + s.phentsize
	avail := s.pos + uint64(len(s.buf))

	// Part of the entry has already streamed past
	if s.pos >= end || (s.pos > begin && s.scratchLen == 0) {
		s.err = fmt.Errorf("program header %d at offset %d is behind stream position %d", s.phcur, begin, s.pos)
		return LayoutError
	}

	// Entry starts in a later chunk
	if avail <= begin {
		s.consume(len(s.buf))
		return InProgress
	}

	var raw []byte
	if s.scratchLen == 0 && begin+progSize <= avail {
		i := int(begin - s.pos)
		raw = s.buf[i : i+progSize]
		n := i + int(s.phentsize)
		if n > len(s.buf) {
			n = len(s.buf)
		}
		s.consume(n)
	} else {
		skip := 0
		if begin > s.pos {
			skip = int(begin - s.pos)
		}
		if raw = s.gather(skip, progSize); raw == nil {
			return InProgress
		}
	}

	p := decodeProg(raw)
	if elf.ProgType(p.Type) == elf.PT_LOAD {
		if s.nslots == maxSegments {
			s.err = fmt.Errorf("more than %d loadable segments", maxSegments)
			return LayoutError
		}
		s.slots[s.nslots] = slot{
			begin: uint64(p.Off),
			end:   uint64(p.Off) + uint64(p.Filesz),
			addr:  p.Paddr,
		}
		s.nslots++
		s.segments = append(s.segments, Segment{
			Offset:  p.Off,
			Size:    p.Filesz,
			Addr:    p.Paddr,
			MemSize: p.Memsz,
		})
	}

	s.phcur++
	if s.phcur < s.phnum {
		return InProgress
	}

	s.state = loadSegments
	return s.checkSegments()
}

// checkSegments reports Loaded when every slot is placed and LayoutError
// when an unplaced slot starts behind the stream position.
func (s *Stream) checkSegments() Status {
	placed := 0
	for i := 0; i < s.nslots; i++ {
		sl := &s.slots[i]
		if sl.placed() {
			placed++
			continue
		}
		if sl.begin < s.pos {
			s.err = fmt.Errorf("segment at offset %d is behind stream position %d", sl.begin, s.pos)
			return LayoutError
		}
	}
	if placed == s.nslots {
		return Loaded
	}
	return InProgress
}

// place copies the first segment bytes found in the chunk, or skips the
// chunk as padding when it holds none.
func (s *Stream) place() Status {
	start := s.pos
	end := start + uint64(len(s.buf))

	var sl *slot
	for i := 0; i < s.nslots; i++ {
		c := &s.slots[i]
		if c.placed() || c.begin >= end || c.end <= start {
			continue
		}
		if sl == nil || c.begin < sl.begin {
			sl = c
		}
	}

	if sl == nil {
		// Padding: keep the staging address where it is
		s.target.SetDestination(s.at)
		s.consume(len(s.buf))
		return InProgress
	}

	if sl.begin < start {
		s.err = fmt.Errorf("segment at offset %d is behind stream position %d", sl.begin, start)
		return LayoutError
	}

	i := int(sl.begin - start)
	n := len(s.buf) - i
	if rem := sl.end - sl.begin; uint64(n) > rem {
		n = int(rem)
	}

	if _, err := s.target.WriteAt(s.buf[i:i+n], int64(sl.addr)); err != nil {
		s.err = fmt.Errorf("write segment data at 0x%08X: %w", sl.addr, err)
		return LayoutError
	}

	s.consume(i + n)
	sl.addr += uint32(n)
	sl.begin += uint64(n)
	s.target.SetDestination(sl.addr)

	return s.checkSegments()
}
