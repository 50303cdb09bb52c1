// Package xmodemtest provides byte channels for exercising XModem endpoints
// without a serial port.
package xmodemtest

import (
	"sync"
	"time"

	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

type input struct {
	b       byte
	timeout bool
}

// Script is a Channel that replays a fixed input sequence and records
// everything sent to it. Once the script runs out every receive times out.
type Script struct {
	mu    sync.Mutex
	in    []input
	sent  []byte
	reads int
}

// NewScript creates an empty script.
func NewScript() *Script {
	return &Script{}
}

// Bytes appends raw input bytes.
func (s *Script) Bytes(b ...byte) *Script {
	for _, c := range b {
		s.in = append(s.in, input{b: c})
	}
	return s
}

// Timeout appends a single receive timeout.
func (s *Script) Timeout() *Script {
	s.in = append(s.in, input{timeout: true})
	return s
}

// Block appends a correctly framed block carrying data.
func (s *Script) Block(seq byte, data []byte) *Script {
	return s.Bytes(protocol.NewBlock(seq, data).Encode()...)
}

// BadBlock appends a framed block whose CRC does not match.
func (s *Script) BadBlock(seq byte, data []byte) *Script {
	frame := protocol.NewBlock(seq, data).Encode()
	frame[len(frame)-1] ^= 0xFF
	return s.Bytes(frame...)
}

// End appends the two EOTs that close a transfer.
func (s *Script) End() *Script {
	return s.Bytes(protocol.EOT, protocol.EOT)
}

// SendByte records b.
func (s *Script) SendByte(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, b)
	return nil
}

// ReceiveByte returns the next scripted byte without waiting.
func (s *Script) ReceiveByte(timeout time.Duration) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if len(s.in) == 0 {
		return 0, xmodem.ErrTimeout
	}

	next := s.in[0]
	s.in = s.in[1:]
	if next.timeout {
		return 0, xmodem.ErrTimeout
	}
	return next.b, nil
}

// Sent returns a copy of everything sent so far.
func (s *Script) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent...)
}

// Remaining returns the number of scripted inputs not yet consumed.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.in)
}
