package loader_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ultisoc/bootmon/internal/elfstream"
	"github.com/ultisoc/bootmon/internal/elfstream/elftest"
	"github.com/ultisoc/bootmon/internal/loader"
	"github.com/ultisoc/bootmon/internal/memory"
	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/upload"
	"github.com/ultisoc/bootmon/internal/xmodem"
	"github.com/ultisoc/bootmon/internal/xmodem/xmodemtest"
)

const scratch = 0x10000

func newMemory(t *testing.T) *memory.Memory {
	t.Helper()
	mem, err := memory.New(memory.Region{Name: "ram", Base: 0, Size: 0x20000})
	if err != nil {
		t.Fatalf("memory.New() error: %v", err)
	}
	return mem
}

func testImage() elftest.Image {
	return elftest.Image{
		Entry:   0x1040,
		Padding: 20,
		Segments: []elftest.Segment{
			elftest.Load(0x1000, elftest.Pattern(700, 0x3C)),
			elftest.Load(0x4000, elftest.Pattern(300, 0xC3)),
		},
	}
}

// blocks frames image as consecutive 128-byte blocks.
func blocks(script *xmodemtest.Script, image []byte) *xmodemtest.Script {
	seq := byte(1)
	for off := 0; off < len(image); off += protocol.BlockSize {
		end := off + protocol.BlockSize
		if end > len(image) {
			end = len(image)
		}
		script.Block(seq, image[off:end])
		seq++
	}
	return script
}

func newLoader(ch xmodem.Channel, mem *memory.Memory) *loader.Loader {
	rx := xmodem.NewReceiver(ch, mem, xmodem.WithTimeouts(time.Millisecond))
	return loader.New(rx, mem, &loader.BootContext{})
}

func checkSegments(t *testing.T, mem *memory.Memory, img elftest.Image) {
	t.Helper()
	for _, seg := range img.Layout() {
		got := make([]byte, len(seg.Data))
		mem.ReadAt(got, int64(seg.Addr))
		if !bytes.Equal(got, seg.Data) {
			t.Errorf("memory at 0x%X does not match segment data", seg.Addr)
		}
	}
}

func TestLoad_StopsAtLastSegment(t *testing.T) {
	img := testImage()
	image := append(img.Bytes(), make([]byte, 400)...) // trailing section data
	script := blocks(xmodemtest.NewScript(), image).End()
	mem := newMemory(t)

	l := newLoader(script, mem)
	result, err := l.Load(scratch)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if result.Entry != img.Entry {
		t.Errorf("Load() entry = 0x%X, want 0x%X", result.Entry, img.Entry)
	}
	if len(result.Segments) != 2 {
		t.Errorf("Load() segments = %v, want 2", result.Segments)
	}
	if entry, ok := l.Boot().Entry(); !ok || entry != img.Entry {
		t.Errorf("Boot().Entry() = 0x%X, %v, want 0x%X, true", entry, ok, img.Entry)
	}
	checkSegments(t, mem, img)

	// The sender is told to stop instead of being acknowledged
	sent := script.Sent()
	if !bytes.HasSuffix(sent, []byte{protocol.CAN, protocol.CAN}) {
		t.Errorf("sent %v, want to end with CAN CAN", sent)
	}
	if bytes.Contains(sent, []byte{protocol.NAK}) {
		t.Error("NAK sent although no EOT or bad block was received")
	}
}

func TestLoad_PaddingAfterLowerSegment(t *testing.T) {
	// The second segment ends where the first one starts, so the padding
	// after it is staged on top of already placed bytes
	img := elftest.Image{
		Entry:   0x2000,
		Padding: 300,
		Segments: []elftest.Segment{
			elftest.Load(0x2000, elftest.Pattern(0x200, 0x11)),
			elftest.Load(0x1F00, elftest.Pattern(0x100, 0x22)),
			elftest.Load(0x5000, elftest.Pattern(200, 0x33)),
		},
	}
	script := blocks(xmodemtest.NewScript(), img.Bytes()).End()
	mem := newMemory(t)

	result, err := newLoader(script, mem).Load(scratch)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(result.Segments) != 3 {
		t.Errorf("Load() segments = %v, want 3", result.Segments)
	}
	checkSegments(t, mem, img)
}

func TestLoad_SegmentEndsAtTopOfMemory(t *testing.T) {
	img := elftest.Image{
		Entry: 0x1FC18,
		Segments: []elftest.Segment{
			elftest.Load(0x20000-1000, elftest.Pattern(1000, 0x5A)),
		},
	}
	script := blocks(xmodemtest.NewScript(), img.Bytes()).End()
	mem := newMemory(t)

	result, err := newLoader(script, mem).Load(scratch)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if result.Entry != img.Entry {
		t.Errorf("Load() entry = 0x%X, want 0x%X", result.Entry, img.Entry)
	}
	checkSegments(t, mem, img)
}

func TestLoad_RestoresStore(t *testing.T) {
	script := blocks(xmodemtest.NewScript(), testImage().Bytes()).End()
	mem := newMemory(t)
	rx := xmodem.NewReceiver(script, mem, xmodem.WithTimeouts(time.Millisecond))

	if _, err := loader.New(rx, mem, nil).Load(scratch); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := rx.SetStore(nil); got != mem {
		t.Errorf("store after Load() = %T, want the receiver's memory", got)
	}
}

func TestLoad_IncompleteImage(t *testing.T) {
	image := testImage().Bytes()
	script := blocks(xmodemtest.NewScript(), image[:256]).End()

	l := newLoader(script, newMemory(t))
	l.Boot().SetEntry(0xBFC00000)

	_, err := l.Load(scratch)
	if !errors.Is(err, loader.ErrIncompleteImage) {
		t.Fatalf("Load() error = %v, want ErrIncompleteImage", err)
	}
	if _, ok := l.Boot().Entry(); ok {
		t.Error("Boot().Entry() still set after a failed load")
	}
}

func TestLoad_FormatError(t *testing.T) {
	image := testImage().Bytes()
	image[3] = 'G'
	script := blocks(xmodemtest.NewScript(), image).End()

	_, err := newLoader(script, newMemory(t)).Load(scratch)

	var fe *elfstream.FormatError
	if !errors.As(err, &fe) || fe.Status != elfstream.BadMagic {
		t.Fatalf("Load() error = %v, want FormatError BadMagic", err)
	}

	expected := []byte{protocol.CRQ, protocol.CAN, protocol.CAN}
	if sent := script.Sent(); !bytes.Equal(sent, expected) {
		t.Errorf("sent %v, want %v", sent, expected)
	}
}

func TestLoad_SenderCancels(t *testing.T) {
	script := xmodemtest.NewScript().Bytes(protocol.CAN, protocol.CAN)

	_, err := newLoader(script, newMemory(t)).Load(scratch)
	if !errors.Is(err, xmodem.ErrCancelled) {
		t.Errorf("Load() error = %v, want ErrCancelled", err)
	}
}

func TestRaw(t *testing.T) {
	data := elftest.Pattern(300, 9)
	script := blocks(xmodemtest.NewScript(), data).End()
	mem := newMemory(t)

	stats, err := newLoader(script, mem).Raw(0x2000)
	if err != nil {
		t.Fatalf("Raw() error: %v", err)
	}
	if stats.Blocks != 3 {
		t.Errorf("Raw() blocks = %d, want 3", stats.Blocks)
	}

	got := make([]byte, len(data))
	mem.ReadAt(got, 0x2000)
	if !bytes.Equal(got, data) {
		t.Error("memory does not match received data")
	}
}

func TestLoad_OverPipeWithUploader(t *testing.T) {
	img := testImage()
	image := append(img.Bytes(), make([]byte, 2048)...)

	host, target := xmodemtest.Pipe()
	defer host.Close()
	mem := newMemory(t)

	rx := xmodem.NewReceiver(target, mem,
		xmodem.WithTimeouts(time.Second),
		xmodem.WithDrainTimeout(20*time.Millisecond))
	l := loader.New(rx, mem, &loader.BootContext{})

	type result struct {
		img *loader.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := l.Load(scratch)
		done <- result{img, err}
	}()

	err := upload.New(host, upload.WithAckTimeout(time.Second)).Transfer(image)
	if !errors.Is(err, upload.ErrCancelled) {
		t.Errorf("Transfer() error = %v, want ErrCancelled once the image is loaded", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Load() error: %v", res.err)
	}
	if res.img.Entry != img.Entry {
		t.Errorf("Load() entry = 0x%X, want 0x%X", res.img.Entry, img.Entry)
	}
	checkSegments(t, mem, img)
}

func TestBootContext(t *testing.T) {
	var b loader.BootContext

	if _, ok := b.Entry(); ok {
		t.Error("Entry() set on a new context")
	}

	b.SetEntry(0)
	if entry, ok := b.Entry(); !ok || entry != 0 {
		t.Errorf("Entry() = 0x%X, %v, want 0x0, true", entry, ok)
	}

	b.Reset()
	if _, ok := b.Entry(); ok {
		t.Error("Entry() set after Reset()")
	}
}
