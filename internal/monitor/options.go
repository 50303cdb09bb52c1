package monitor

import (
	"github.com/ultisoc/bootmon/internal/loader"
	"github.com/ultisoc/bootmon/internal/memory"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

// Config holds the monitor configuration.
type Config struct {
	// Prompt is printed before each command line
	Prompt string

	// Version is shown in the banner
	Version string

	// Info is shown by the info command
	Info Info

	// Scratch is where load stages the first block of an image
	Scratch uint32

	// Boot records the loaded entry point (optional)
	Boot *loader.BootContext

	// Jumper transfers control for run and jmp (optional)
	Jumper Jumper

	// ReceiverOptions configure the XModem receiver
	ReceiverOptions []xmodem.Option

	// Logger receives monitor and protocol events (optional)
	Logger xmodem.Logger
}

// defaultConfig stages loads at the start of the first writable region.
func defaultConfig(mem *memory.Memory) Config {
	cfg := Config{Prompt: "> "}
	for _, r := range mem.Regions() {
		if !r.ReadOnly {
			cfg.Scratch = r.Base
			break
		}
	}
	return cfg
}

// Option is a functional option for configuring the Monitor.
type Option func(*Config)

// WithPrompt sets the command prompt.
func WithPrompt(prompt string) Option {
	return func(c *Config) {
		c.Prompt = prompt
	}
}

// WithVersion sets the version shown in the banner.
func WithVersion(version string) Option {
	return func(c *Config) {
		c.Version = version
	}
}

// WithInfo sets the system identification.
func WithInfo(info Info) Option {
	return func(c *Config) {
		c.Info = info
	}
}

// WithScratch sets the default staging address for load.
func WithScratch(addr uint32) Option {
	return func(c *Config) {
		c.Scratch = addr
	}
}

// WithBootContext shares a boot context with the caller.
func WithBootContext(boot *loader.BootContext) Option {
	return func(c *Config) {
		c.Boot = boot
	}
}

// WithJumper sets the control transfer handler.
func WithJumper(j Jumper) Option {
	return func(c *Config) {
		c.Jumper = j
	}
}

// WithReceiverOptions passes options through to the XModem receiver.
func WithReceiverOptions(opts ...xmodem.Option) Option {
	return func(c *Config) {
		c.ReceiverOptions = append(c.ReceiverOptions, opts...)
	}
}

// WithLogger sets a logger for monitor and protocol events.
func WithLogger(logger xmodem.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
