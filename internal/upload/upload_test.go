package upload_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ultisoc/bootmon/internal/memory"
	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/upload"
	"github.com/ultisoc/bootmon/internal/xmodem"
	"github.com/ultisoc/bootmon/internal/xmodem/xmodemtest"
)

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*13 + i>>8)
	}
	return data
}

// frames decodes the consecutive XModem frames in sent.
func frames(t *testing.T, sent []byte) []*protocol.Block {
	t.Helper()
	var out []*protocol.Block
	for len(sent) > 0 {
		n := protocol.HeaderSize + protocol.PayloadSize(sent[0]) + protocol.TrailerSize
		if n > len(sent) {
			n = len(sent)
		}
		b, err := protocol.DecodeBlock(sent[:n])
		if err != nil {
			t.Fatalf("frame %d: %v", len(out)+1, err)
		}
		out = append(out, b)
		sent = sent[n:]
	}
	return out
}

func TestConnect_SkipsConsoleChatter(t *testing.T) {
	script := xmodemtest.NewScript().Bytes([]byte("load\r\n")...).Bytes(protocol.CRQ)

	if err := upload.New(script).Connect(); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
}

func TestConnect_NoReceiver(t *testing.T) {
	script := xmodemtest.NewScript()

	err := upload.New(script, upload.WithRetries(3)).Connect()
	if !errors.Is(err, upload.ErrNoReceiver) {
		t.Errorf("Connect() error = %v, want ErrNoReceiver", err)
	}
}

func TestSend_BlocksAndProgress(t *testing.T) {
	data := pattern(2500)
	script := xmodemtest.NewScript().Bytes(protocol.ACK, protocol.ACK, protocol.ACK)

	s := upload.New(script)
	var progress [][2]int
	s.SetProgressCallback(func(current, total int) {
		progress = append(progress, [2]int{current, total})
	})

	if err := s.Send(data); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	var expected []byte
	expected = append(expected, protocol.NewBlock(1, data[:1024]).Encode()...)
	expected = append(expected, protocol.NewBlock(2, data[1024:2048]).Encode()...)
	expected = append(expected, protocol.NewBlock(3, data[2048:]).Encode()...)
	if sent := script.Sent(); !bytes.Equal(sent, expected) {
		t.Errorf("Send() wrote %d bytes, want %d matching frames", len(sent), len(expected))
	}

	want := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
}

func TestSend_ShortTailUses128ByteBlock(t *testing.T) {
	data := pattern(1024 + 100)
	script := xmodemtest.NewScript().Bytes(protocol.ACK, protocol.ACK)

	if err := upload.New(script).Send(data); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	blocks := frames(t, script.Sent())
	if len(blocks) != 2 {
		t.Fatalf("Send() wrote %d frames, want 2", len(blocks))
	}
	tail := blocks[1]
	if tail.Seq != 2 || tail.Marker() != protocol.SOH || len(tail.Data) != protocol.BlockSize {
		t.Errorf("tail frame seq %d marker 0x%02X size %d, want seq 2 SOH 128",
			tail.Seq, tail.Marker(), len(tail.Data))
	}
	if !bytes.Equal(tail.Data[:100], data[1024:]) {
		t.Error("tail frame does not carry the last 100 bytes")
	}
	for _, b := range tail.Data[100:] {
		if b != protocol.SUB {
			t.Fatalf("tail padding byte 0x%02X, want SUB", b)
		}
	}
}

func TestSend_RetransmitsOnNAK(t *testing.T) {
	data := pattern(100)
	script := xmodemtest.NewScript().Bytes(protocol.NAK, protocol.ACK)

	if err := upload.New(script, upload.WithBlockSize(protocol.BlockSize)).Send(data); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	frame := protocol.NewBlock(1, data).Encode()
	if sent := script.Sent(); !bytes.Equal(sent, append(append([]byte{}, frame...), frame...)) {
		t.Errorf("Send() wrote %d bytes, want the frame twice (%d bytes)", len(sent), 2*len(frame))
	}
}

func TestSend_TimeoutCountsAsNAK(t *testing.T) {
	script := xmodemtest.NewScript().Timeout().Bytes(protocol.ACK)

	if err := upload.New(script, upload.WithAckTimeout(time.Millisecond)).Send(pattern(10)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	blocks := frames(t, script.Sent())
	if len(blocks) != 2 {
		t.Fatalf("Send() wrote %d frames, want 2", len(blocks))
	}
	for i, b := range blocks {
		if b.Seq != 1 || len(b.Data) != protocol.BlockSize {
			t.Errorf("frame %d seq %d size %d, want block 1 resent at 128 bytes", i, b.Seq, len(b.Data))
		}
	}
}

func TestSend_CancelledByReceiver(t *testing.T) {
	script := xmodemtest.NewScript().Bytes(protocol.CAN, protocol.CAN)

	err := upload.New(script).Send(pattern(10))
	if !errors.Is(err, upload.ErrCancelled) {
		t.Errorf("Send() error = %v, want ErrCancelled", err)
	}
}

func TestSend_RetryExceeded(t *testing.T) {
	script := xmodemtest.NewScript().Bytes(protocol.NAK, protocol.NAK)

	err := upload.New(script, upload.WithRetries(2)).Send(pattern(10))
	if !errors.Is(err, xmodem.ErrRetryExceeded) {
		t.Errorf("Send() error = %v, want ErrRetryExceeded", err)
	}
}

func TestFinish_RepeatsEOTUntilACK(t *testing.T) {
	script := xmodemtest.NewScript().Bytes(protocol.NAK, protocol.ACK)

	if err := upload.New(script).Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	expected := []byte{protocol.EOT, protocol.EOT}
	if sent := script.Sent(); !bytes.Equal(sent, expected) {
		t.Errorf("Finish() sent %v, want %v", sent, expected)
	}
}

// corrupting flips one outgoing byte, once.
type corrupting struct {
	xmodem.Channel
	at    int
	count int
}

func (c *corrupting) SendByte(b byte) error {
	c.count++
	if c.count == c.at {
		b ^= 0x40
	}
	return c.Channel.SendByte(b)
}

func runTransfer(t *testing.T, data []byte, wrap func(xmodem.Channel) xmodem.Channel) (*memory.Memory, xmodem.Stats) {
	t.Helper()

	host, target := xmodemtest.Pipe()
	defer host.Close()

	mem, err := memory.New(memory.Region{Name: "ram", Base: 0x8000, Size: 0x4000})
	if err != nil {
		t.Fatalf("memory.New() error: %v", err)
	}

	type result struct {
		stats xmodem.Stats
		err   error
	}
	done := make(chan result, 1)

	rx := xmodem.NewReceiver(target, mem,
		xmodem.WithTimeouts(time.Second),
		xmodem.WithDrainTimeout(20*time.Millisecond))
	go func() {
		stats, err := rx.Receive(0x8000)
		done <- result{stats, err}
	}()

	var ch xmodem.Channel = host
	if wrap != nil {
		ch = wrap(host)
	}
	if err := upload.New(ch, upload.WithAckTimeout(time.Second)).Transfer(data); err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Receive() error: %v", res.err)
	}
	return mem, res.stats
}

func TestTransfer_EndToEnd(t *testing.T) {
	data := pattern(5000)
	mem, stats := runTransfer(t, data, nil)

	// 4 full 1K blocks and a 904-byte tail in a padded 1K block
	if stats.Blocks != 5 || stats.Bytes != 5*protocol.BlockSize1K {
		t.Errorf("Receive() stats = %+v, want 5 blocks of 1K", stats)
	}

	got := make([]byte, len(data))
	mem.ReadAt(got, 0x8000)
	if !bytes.Equal(got, data) {
		t.Error("received data does not match")
	}

	pad := make([]byte, 5*protocol.BlockSize1K-len(data))
	mem.ReadAt(pad, int64(0x8000+len(data)))
	for i, b := range pad {
		if b != protocol.SUB {
			t.Fatalf("padding byte %d = 0x%02X, want 0x1A", i, b)
		}
	}
}

func TestTransfer_RecoversFromCorruption(t *testing.T) {
	data := pattern(3000)
	mem, stats := runTransfer(t, data, func(ch xmodem.Channel) xmodem.Channel {
		return &corrupting{Channel: ch, at: 200}
	})

	if stats.Blocks != 3 {
		t.Errorf("Receive() blocks = %d, want 3", stats.Blocks)
	}

	got := make([]byte, len(data))
	mem.ReadAt(got, 0x8000)
	if !bytes.Equal(got, data) {
		t.Error("received data does not match after retransmission")
	}
}
