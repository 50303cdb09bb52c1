package xmodem

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ultisoc/bootmon/internal/crc16"
	"github.com/ultisoc/bootmon/internal/protocol"
)

// BlockFunc is called once per validated block, after the block has been
// stored at addr and before it is counted as received. block is only valid
// for the duration of the call. A non-nil error cancels the transfer.
type BlockFunc func(addr uint32, block []byte) error

// Stats summarizes a finished transfer.
type Stats struct {
	Blocks  int
	Bytes   int
	LastSeq byte
}

// Receiver runs the receiving side of XModem-CRC and XModem-1K.
type Receiver struct {
	ch       Channel
	mem      io.WriterAt
	config   Config
	consumer BlockFunc

	cursor  uint32 // where the next payload byte lands
	lastSeq byte   // last committed block
	curSeq  byte   // block being validated
	rxSize  int
	blocks  int

	buf [protocol.BlockSize1K]byte
}

// event is what the sync phase ended on.
type event int

const (
	evBlock event = iota
	evEOT
)

// NewReceiver creates a receiver storing payloads into mem.
// A nil mem discards payloads; the consumer still sees them.
func NewReceiver(ch Channel, mem io.WriterAt, opts ...Option) *Receiver {
	if ch == nil {
		panic("channel cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Receiver{
		ch:     ch,
		mem:    mem,
		config: cfg,
	}
}

// SetConsumer registers the per-block callback.
func (r *Receiver) SetConsumer(fn BlockFunc) {
	r.consumer = fn
}

// SetStore replaces the sink blocks are stored into and returns the
// previous one. A nil mem discards payloads.
func (r *Receiver) SetStore(mem io.WriterAt) io.WriterAt {
	prev := r.mem
	r.mem = mem
	return prev
}

// SetCursor redirects where the next block is stored.
// Meant to be called from the consumer.
func (r *Receiver) SetCursor(addr uint32) {
	r.cursor = addr
}

// Cursor returns where the next block will be stored.
func (r *Receiver) Cursor() uint32 {
	return r.cursor
}

// Received returns the number of payload bytes committed so far.
func (r *Receiver) Received() int {
	return r.rxSize
}

// Receive runs a transfer to completion, storing payloads from dest onwards.
// A nil error means the sender finished with EOT.
func (r *Receiver) Receive(dest uint32) (Stats, error) {
	r.cursor = dest
	r.lastSeq = 0
	r.curSeq = 0
	r.rxSize = 0
	r.blocks = 0

	r.logInfo("receive start", "dest", fmt.Sprintf("0x%08X", dest))

	err := r.run()

	// Desynchronize from a sender that may still be transmitting
	r.drain()

	stats := Stats{
		Blocks:  r.blocks,
		Bytes:   r.rxSize,
		LastSeq: r.lastSeq,
	}

	if err != nil {
		r.logError("receive failed", "error", err, "blocks", stats.Blocks)
	} else {
		r.logInfo("receive done", "blocks", stats.Blocks, "bytes", stats.Bytes)
	}

	return stats, err
}

// run is the main protocol loop.
func (r *Receiver) run() error {
	ev, size, err := r.sync(protocol.CRQ, r.config.SyncTimeout)

	for {
		if err != nil {
			return err
		}
		if ev == evEOT {
			return nil
		}

		var reply byte
		reply, err = r.receiveBlock(size)
		if err != nil {
			return err
		}

		if reply == protocol.ACK {
			if err := r.accept(size); err != nil {
				if cerr := r.cancel(); cerr != nil {
					r.logError("cancel failed", "error", cerr)
				}
				return err
			}
		}

		// Send ACK or NAK and wait for the next header
		ev, size, err = r.sync(reply, r.config.ResyncTimeout)
	}
}

// sync sends reply and waits for the next block header, EOT or CAN.
// Only the CRC request is repeated on unanswered attempts; ACK and NAK
// are sent once.
func (r *Receiver) sync(reply byte, timeout time.Duration) (event, int, error) {
	syn := reply
	var resend byte
	if reply == protocol.CRQ {
		resend = protocol.CRQ
	}

	// Two CANs cancel; the first EOT is NAKed and the second one ACKed
	can, eot := false, false

	for retries := r.config.Retries; retries > 0; {
		if syn != 0 {
			if err := r.send(syn); err != nil {
				return 0, 0, err
			}
		}
		syn = resend

		rc, err := r.receive(timeout)
		if errors.Is(err, ErrTimeout) {
			can, eot = false, false
			retries--
			continue
		} else if err != nil {
			return 0, 0, err
		}

		switch rc {
		case protocol.CAN:
			if can {
				return 0, 0, ErrCancelled
			}
			can, eot = true, false
			syn = 0
			continue
		case protocol.EOT:
			if eot {
				if err := r.send(protocol.ACK); err != nil {
					return 0, 0, err
				}
				return evEOT, 0, nil
			}
			can, eot = false, true
			syn = protocol.NAK
			continue
		}

		can, eot = false, false

		size := protocol.PayloadSize(rc)
		if size == 0 {
			r.logDebug("unexpected byte", "byte", fmt.Sprintf("0x%02X", rc))
			retries--
			continue
		}

		seq, err := r.receive(timeout)
		if errors.Is(err, ErrTimeout) {
			syn = protocol.NAK
			retries--
			continue
		} else if err != nil {
			return 0, 0, err
		}

		cseq, err := r.receive(timeout)
		if errors.Is(err, ErrTimeout) {
			syn = protocol.NAK
			retries--
			continue
		} else if err != nil {
			return 0, 0, err
		}

		if !protocol.ValidSequence(seq, cseq) {
			// Probably noise that looked like a header start
			syn = 0
			continue
		}

		switch seq {
		case r.lastSeq:
			// Retransmission of the committed block
			ok, err := r.skip(size+protocol.TrailerSize, timeout)
			if err != nil {
				return 0, 0, err
			}
			if !ok {
				syn = protocol.NAK
				retries--
				continue
			}
			r.logDebug("duplicate block", "seq", seq)
			syn = protocol.ACK
			continue
		case r.lastSeq + 1:
			r.curSeq = seq
			return evBlock, size, nil
		default:
			r.logError("out of sequence", "expected", r.lastSeq+1, "got", seq)
			if err := r.cancel(); err != nil {
				return 0, 0, err
			}
			return 0, 0, ErrOutOfSequence
		}
	}

	return 0, 0, ErrRetryExceeded
}

// receiveBlock reads the payload and CRC and returns ACK or NAK.
func (r *Receiver) receiveBlock(size int) (byte, error) {
	timeout := r.config.BlockTimeout

	for i := 0; i < size; i++ {
		b, err := r.receive(timeout)
		if errors.Is(err, ErrTimeout) {
			r.logDebug("block timeout", "seq", r.curSeq, "offset", i)
			return protocol.NAK, nil
		} else if err != nil {
			return 0, err
		}
		r.buf[i] = b
	}

	var crc uint16
	for i := 0; i < protocol.TrailerSize; i++ {
		b, err := r.receive(timeout)
		if errors.Is(err, ErrTimeout) {
			r.logDebug("block timeout", "seq", r.curSeq, "offset", size+i)
			return protocol.NAK, nil
		} else if err != nil {
			return 0, err
		}
		crc = crc<<8 | uint16(b)
	}

	if sum := crc16.Checksum(r.buf[:size]); sum != crc {
		r.logDebug("crc mismatch", "seq", r.curSeq,
			"expected", fmt.Sprintf("0x%04X", sum),
			"got", fmt.Sprintf("0x%04X", crc))
		return protocol.NAK, nil
	}

	return protocol.ACK, nil
}

// accept stores a validated block, hands it to the consumer and commits it.
func (r *Receiver) accept(size int) error {
	block := r.buf[:size]
	addr := r.cursor

	if r.mem != nil {
		if _, err := r.mem.WriteAt(block, int64(addr)); err != nil {
			return fmt.Errorf("store block %d at 0x%08X: %w", r.curSeq, addr, err)
		}
	}
	r.cursor = addr + uint32(size)

	if r.consumer != nil {
		if err := r.consumer(addr, block); err != nil {
			return &AbortError{Seq: r.curSeq, Err: err}
		}
	}

	r.lastSeq = r.curSeq
	r.rxSize += size
	r.blocks++

	return nil
}

// skip discards n bytes. It returns false if the line went quiet first.
func (r *Receiver) skip(n int, timeout time.Duration) (bool, error) {
	for i := 0; i < n; i++ {
		if _, err := r.receive(timeout); err != nil {
			if errors.Is(err, ErrTimeout) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// cancel asks the sender to stop.
func (r *Receiver) cancel() error {
	if err := r.send(protocol.CAN); err != nil {
		return err
	}
	return r.send(protocol.CAN)
}

// drain discards input until the line is quiet.
func (r *Receiver) drain() {
	for {
		if _, err := r.ch.ReceiveByte(r.config.DrainTimeout); err != nil {
			return
		}
	}
}

func (r *Receiver) send(b byte) error {
	if err := r.ch.SendByte(b); err != nil {
		return fmt.Errorf("send %s: %w", protocol.ControlName(b), err)
	}
	return nil
}

func (r *Receiver) receive(timeout time.Duration) (byte, error) {
	return r.ch.ReceiveByte(timeout)
}

func (r *Receiver) logDebug(msg string, kv ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, kv...)
	}
}

func (r *Receiver) logInfo(msg string, kv ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Info(msg, kv...)
	}
}

func (r *Receiver) logError(msg string, kv ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Error(msg, kv...)
	}
}
