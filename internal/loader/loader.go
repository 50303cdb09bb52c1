// Package loader joins the XModem receiver and the ELF stream parser: each
// validated block is fed to the parser, which steers where the receiver
// stages the next one.
package loader

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ultisoc/bootmon/internal/elfstream"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

// ErrIncompleteImage means the sender finished before every loadable
// segment had arrived.
var ErrIncompleteImage = errors.New("transfer ended before the image was loaded")

// errLoaded stops the transfer once the last segment is in place.
var errLoaded = errors.New("image loaded")

// Image describes a successfully loaded executable.
type Image struct {
	Entry    uint32
	Segments []elfstream.Segment
	Stats    xmodem.Stats
}

// Loader loads executables into memory over an XModem receiver.
type Loader struct {
	rx   *xmodem.Receiver
	mem  io.WriterAt
	boot *BootContext
}

// New creates a loader. Segments are committed to mem, which is normally
// the memory rx stores blocks into.
func New(rx *xmodem.Receiver, mem io.WriterAt, boot *BootContext) *Loader {
	if boot == nil {
		boot = &BootContext{}
	}
	return &Loader{rx: rx, mem: mem, boot: boot}
}

// Boot returns the context the loader records entry points in.
func (l *Loader) Boot() *BootContext {
	return l.boot
}

// Load receives an ELF image, staging the first block at scratch. On
// success the entry point is recorded in the boot context. Any previous
// entry point is cleared first.
func (l *Loader) Load(scratch uint32) (*Image, error) {
	l.boot.Reset()

	target := &cursorTarget{rx: l.rx, mem: l.mem}
	stream := elfstream.New(target)

	staging := &stagingStore{placed: target}
	staging.mem = l.rx.SetStore(staging)
	defer l.rx.SetStore(staging.mem)

	l.rx.SetConsumer(func(addr uint32, block []byte) error {
		switch st := stream.Feed(block, addr); st {
		case elfstream.InProgress:
			return nil
		case elfstream.Loaded:
			return errLoaded
		default:
			return stream.Err()
		}
	})
	defer l.rx.SetConsumer(nil)

	stats, err := l.rx.Receive(scratch)
	switch {
	case errors.Is(err, errLoaded):
	case err != nil:
		var fe *elfstream.FormatError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, errors.Wrap(err, "receive image")
	case stream.Status() != elfstream.Loaded:
		return nil, ErrIncompleteImage
	}

	img := &Image{
		Entry:    stream.Entry(),
		Segments: stream.Segments(),
		Stats:    stats,
	}
	l.boot.SetEntry(img.Entry)
	return img, nil
}

// Raw receives arbitrary data to dest without interpreting it.
func (l *Loader) Raw(dest uint32) (xmodem.Stats, error) {
	l.rx.SetConsumer(nil)
	stats, err := l.rx.Receive(dest)
	if err != nil {
		return stats, errors.Wrapf(err, "receive to 0x%08X", dest)
	}
	return stats, nil
}

// cursorTarget commits segment bytes to memory and forwards destination
// changes to the receiver's write cursor. It remembers the committed
// ranges so staging can keep off them.
type cursorTarget struct {
	rx     *xmodem.Receiver
	mem    io.WriterAt
	ranges []span
}

// span is a committed address range [begin, end).
type span struct {
	begin, end uint64
}

func (t *cursorTarget) WriteAt(p []byte, off int64) (int, error) {
	n, err := t.mem.WriteAt(p, off)
	if n > 0 {
		t.commit(uint64(off), uint64(off)+uint64(n))
	}
	return n, err
}

func (t *cursorTarget) SetDestination(addr uint32) {
	t.rx.SetCursor(addr)
}

func (t *cursorTarget) commit(begin, end uint64) {
	// Segments arrive block by block, so most commits extend the last span
	if n := len(t.ranges); n > 0 && t.ranges[n-1].end == begin {
		t.ranges[n-1].end = end
		return
	}
	t.ranges = append(t.ranges, span{begin, end})
}

// stagingStore is the receiver's sink during an image load. The parser
// commits segment bytes from the receive buffer itself, so staged copies
// are best effort: bytes that would land on a committed segment are
// dropped and writes outside mapped memory are ignored.
type stagingStore struct {
	mem    io.WriterAt // nil discards
	placed *cursorTarget
}

func (s *stagingStore) WriteAt(p []byte, off int64) (int, error) {
	if s.mem == nil {
		return len(p), nil
	}

	begin := uint64(off)
	pieces := []span{{begin, begin + uint64(len(p))}}
	for _, r := range s.placed.ranges {
		pieces = subtract(pieces, r)
	}
	for _, pc := range pieces {
		s.mem.WriteAt(p[pc.begin-begin:pc.end-begin], int64(pc.begin))
	}
	return len(p), nil
}

// subtract removes r from every span in pieces.
func subtract(pieces []span, r span) []span {
	var out []span
	for _, pc := range pieces {
		if r.end <= pc.begin || r.begin >= pc.end {
			out = append(out, pc)
			continue
		}
		if pc.begin < r.begin {
			out = append(out, span{pc.begin, r.begin})
		}
		if r.end < pc.end {
			out = append(out, span{r.end, pc.end})
		}
	}
	return out
}
