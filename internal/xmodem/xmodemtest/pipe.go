package xmodemtest

import (
	"errors"
	"sync"
	"time"

	"github.com/ultisoc/bootmon/internal/xmodem"
)

// ErrClosed is returned by an End whose pipe has been closed.
var ErrClosed = errors.New("pipe closed")

// End is one side of an in-process byte link.
type End struct {
	in   <-chan byte
	out  chan<- byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected ends. Bytes sent on one are received on the
// other. Both directions are buffered so a writer never waits for a reader.
func Pipe() (*End, *End) {
	ab := make(chan byte, 1<<16)
	ba := make(chan byte, 1<<16)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &End{in: ba, out: ab, done: done, once: once}
	b := &End{in: ab, out: ba, done: done, once: once}
	return a, b
}

// SendByte queues b for the other end.
func (e *End) SendByte(b byte) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	select {
	case e.out <- b:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// ReceiveByte waits up to timeout for a byte from the other end.
func (e *End) ReceiveByte(timeout time.Duration) (byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b := <-e.in:
		return b, nil
	case <-timer.C:
		return 0, xmodem.ErrTimeout
	case <-e.done:
		return 0, ErrClosed
	}
}

// Close shuts down both ends.
func (e *End) Close() {
	e.once.Do(func() { close(e.done) })
}
