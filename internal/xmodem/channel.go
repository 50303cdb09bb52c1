package xmodem

import "time"

// Channel is a half-duplex, byte-at-a-time link to the sender.
type Channel interface {
	// SendByte transmits a single byte.
	SendByte(b byte) error

	// ReceiveByte waits up to timeout for a byte. It returns ErrTimeout
	// when nothing arrived; any other error is a transport failure.
	ReceiveByte(timeout time.Duration) (byte, error)
}
