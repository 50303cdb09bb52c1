// Package upload implements the sending side of XModem-CRC/1K, used by the
// host to push images to a waiting receiver.
package upload

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

var (
	// ErrCancelled means the receiver stopped the transfer with CAN CAN.
	ErrCancelled = errors.New("transfer cancelled by receiver")

	// ErrNoReceiver means no CRC request arrived during the handshake.
	ErrNoReceiver = errors.New("no receiver waiting")
)

// ProgressCallback is called to report transfer progress.
type ProgressCallback func(current, total int)

// Sender pushes data to an XModem receiver.
type Sender struct {
	ch       xmodem.Channel
	config   Config
	progress ProgressCallback
	seq      byte
}

// New creates a new Sender on the given channel.
func New(ch xmodem.Channel, opts ...Option) *Sender {
	if ch == nil {
		panic("channel cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Sender{ch: ch, config: cfg, seq: 1}
}

// SetProgressCallback sets the progress callback function.
func (s *Sender) SetProgressCallback(cb ProgressCallback) {
	s.progress = cb
}

// reportProgress calls the progress callback if set.
func (s *Sender) reportProgress(current, total int) {
	if s.progress != nil {
		s.progress(current, total)
	}
}

// Transfer runs a whole session: handshake, data and EOT.
func (s *Sender) Transfer(data []byte) error {
	if err := s.Connect(); err != nil {
		return err
	}
	if err := s.Send(data); err != nil {
		return err
	}
	return s.Finish()
}

// Connect waits for the receiver's CRC request.
// Console chatter before the request is skipped.
func (s *Sender) Connect() error {
	deadline := time.Now().Add(time.Duration(s.config.Retries) * s.config.SyncTimeout)

	for attempt := 0; attempt < s.config.Retries && time.Now().Before(deadline); {
		b, err := s.ch.ReceiveByte(s.config.SyncTimeout)
		if errors.Is(err, xmodem.ErrTimeout) {
			attempt++
			continue
		} else if err != nil {
			return fmt.Errorf("wait for receiver: %w", err)
		}

		if b == protocol.CRQ {
			s.seq = 1
			s.logInfo("receiver ready")
			return nil
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrNoReceiver, s.config.Retries)
}

// Send transmits data as consecutive blocks. The last block is padded.
func (s *Sender) Send(data []byte) error {
	size := s.config.BlockSize
	totalBlocks := (len(data) + size - 1) / size

	for i := 0; i < totalBlocks; i++ {
		start := i * size
		end := start + size
		if end > len(data) {
			end = len(data)
		}

		// A short tail fits in a 128-byte block
		block := protocol.NewBlock(s.seq, data[start:end])
		if err := s.sendBlock(block); err != nil {
			return fmt.Errorf("block %d: %w", i+1, err)
		}

		s.seq++
		s.reportProgress(i+1, totalBlocks)
	}

	return nil
}

// Finish sends EOT until the receiver acknowledges it.
func (s *Sender) Finish() error {
	for try := 0; try < s.config.Retries; try++ {
		if err := s.ch.SendByte(protocol.EOT); err != nil {
			return fmt.Errorf("send EOT: %w", err)
		}

		reply, err := s.waitReply()
		if err != nil {
			return err
		}
		if reply == protocol.ACK {
			s.logInfo("transfer complete")
			return nil
		}
	}

	return fmt.Errorf("EOT: %w", xmodem.ErrRetryExceeded)
}

func (s *Sender) sendBlock(block *protocol.Block) error {
	frame := block.Encode()

	for try := 0; try < s.config.Retries; try++ {
		if err := s.write(frame); err != nil {
			return err
		}

		reply, err := s.waitReply()
		if err != nil {
			return err
		}
		if reply == protocol.ACK {
			return nil
		}

		s.logDebug("block not acknowledged", "seq", block.Seq, "try", try+1, "reply", protocol.ControlName(reply))
	}

	return xmodem.ErrRetryExceeded
}

// waitReply returns ACK or NAK. A timeout or a stray CRC request counts as
// NAK; two consecutive CANs end the transfer.
func (s *Sender) waitReply() (byte, error) {
	can := false

	for {
		b, err := s.ch.ReceiveByte(s.config.AckTimeout)
		if errors.Is(err, xmodem.ErrTimeout) {
			return protocol.NAK, nil
		} else if err != nil {
			return 0, fmt.Errorf("wait for reply: %w", err)
		}

		switch b {
		case protocol.ACK, protocol.NAK:
			return b, nil
		case protocol.CRQ:
			return protocol.NAK, nil
		case protocol.CAN:
			if can {
				return 0, ErrCancelled
			}
			can = true
			continue
		}
		can = false
	}
}

// write sends a frame in one call when the channel supports it.
func (s *Sender) write(frame []byte) error {
	if w, ok := s.ch.(io.Writer); ok {
		if _, err := w.Write(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		return nil
	}

	for _, b := range frame {
		if err := s.ch.SendByte(b); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

func (s *Sender) logDebug(msg string, kv ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, kv...)
	}
}

func (s *Sender) logInfo(msg string, kv ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, kv...)
	}
}
