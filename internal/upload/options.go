package upload

import (
	"time"

	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

// Config holds the sender configuration.
type Config struct {
	// Retries is the number of attempts for the handshake, each block and EOT
	Retries int

	// SyncTimeout bounds each wait for the receiver's CRC request
	SyncTimeout time.Duration

	// AckTimeout bounds each wait for a reply to a block or EOT
	AckTimeout time.Duration

	// BlockSize is the payload size for full blocks: 128 or 1024
	BlockSize int

	// Logger receives protocol events (optional)
	Logger xmodem.Logger
}

func defaultConfig() Config {
	return Config{
		Retries:     protocol.DefaultRetries,
		SyncTimeout: 3 * time.Second,
		AckTimeout:  10 * time.Second,
		BlockSize:   protocol.BlockSize1K,
	}
}

// Option is a functional option for configuring the Sender.
type Option func(*Config)

// WithRetries sets the retry budget.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.Retries = retries
		}
	}
}

// WithSyncTimeout sets how long each handshake attempt waits.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.SyncTimeout = timeout
	}
}

// WithAckTimeout sets how long to wait for ACK or NAK.
func WithAckTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.AckTimeout = timeout
	}
}

// WithBlockSize selects 128-byte or 1K blocks. Other sizes are ignored.
func WithBlockSize(size int) Option {
	return func(c *Config) {
		if size == protocol.BlockSize || size == protocol.BlockSize1K {
			c.BlockSize = size
		}
	}
}

// WithLogger sets a logger for protocol events.
func WithLogger(logger xmodem.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
