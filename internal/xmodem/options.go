package xmodem

import (
	"time"

	"github.com/ultisoc/bootmon/internal/protocol"
)

// Logger is an optional logging interface for protocol tracing.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Config holds the receiver configuration.
type Config struct {
	// Retries is the budget for unanswered sync attempts and bad headers
	Retries int

	// SyncTimeout bounds each wait for the first reply to the CRC request
	SyncTimeout time.Duration

	// ResyncTimeout bounds each wait for the next header after ACK or NAK
	ResyncTimeout time.Duration

	// BlockTimeout bounds each byte inside a block
	BlockTimeout time.Duration

	// DrainTimeout is the quiet time that ends the post-transfer flush
	DrainTimeout time.Duration

	// Logger receives protocol events (optional)
	Logger Logger
}

func defaultConfig() Config {
	return Config{
		Retries:       protocol.DefaultRetries,
		SyncTimeout:   3 * time.Second,
		ResyncTimeout: 10 * time.Second,
		BlockTimeout:  10 * time.Second,
		DrainTimeout:  1 * time.Second,
	}
}

// Option is a functional option for configuring the Receiver.
type Option func(*Config)

// WithRetries sets the retry budget.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.Retries = retries
		}
	}
}

// WithSyncTimeout sets the timeout of the initial CRC request.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.SyncTimeout = timeout
	}
}

// WithResyncTimeout sets the header timeout used after each ACK or NAK.
func WithResyncTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ResyncTimeout = timeout
	}
}

// WithBlockTimeout sets the per-byte timeout inside a block.
func WithBlockTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.BlockTimeout = timeout
	}
}

// WithDrainTimeout sets the quiet period that ends a transfer.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.DrainTimeout = timeout
	}
}

// WithTimeouts sets every timeout at once. Handy for tests and loopback links.
func WithTimeouts(timeout time.Duration) Option {
	return func(c *Config) {
		c.SyncTimeout = timeout
		c.ResyncTimeout = timeout
		c.BlockTimeout = timeout
		c.DrainTimeout = timeout
	}
}

// WithLogger sets a logger for protocol events.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
