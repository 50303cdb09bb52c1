// Package monitor implements the boot monitor shell: a line-oriented command
// interpreter for peeking and poking memory, receiving raw data or ELF
// images over XModem and jumping to loaded code. The console and the
// transfers share one byte channel.
package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ultisoc/bootmon/internal/elfstream"
	"github.com/ultisoc/bootmon/internal/loader"
	"github.com/ultisoc/bootmon/internal/memory"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

const maxArgs = 5

var (
	// ErrInsufficientArgs means a command got fewer arguments than it needs.
	ErrInsufficientArgs = errors.New("insufficient arguments")

	// ErrNotLoaded means run was issued before any image was loaded.
	ErrNotLoaded = errors.New("ELF binary is not loaded")

	// ErrNoJumper means no control transfer handler is configured.
	ErrNoJumper = errors.New("no jump handler configured")
)

// ArgError reports an argument that is not a valid number.
type ArgError struct {
	Arg string
	Err error
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("invalid argument %q: %v", e.Arg, e.Err)
}

func (e *ArgError) Unwrap() error {
	return e.Err
}

// UnknownCommandError reports a command name that is not registered.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// Jumper transfers control to loaded code.
type Jumper interface {
	Jump(addr uint32) error
}

// JumperFunc adapts a function to Jumper.
type JumperFunc func(addr uint32) error

// Jump calls f(addr).
func (f JumperFunc) Jump(addr uint32) error {
	return f(addr)
}

// Info identifies the system on the info page and banner.
type Info struct {
	CPUID   uint32
	Version int
	SysFreq uint32 // Hz
}

// Monitor is a command shell over a byte channel.
type Monitor struct {
	con    *Console
	mem    *memory.Memory
	loader *loader.Loader
	config Config

	commands []*Command
}

// New creates a monitor. Transfers store into mem.
func New(ch xmodem.Channel, mem *memory.Memory, opts ...Option) *Monitor {
	if ch == nil {
		panic("channel cannot be nil")
	}
	if mem == nil {
		panic("memory cannot be nil")
	}

	cfg := defaultConfig(mem)
	for _, opt := range opts {
		opt(&cfg)
	}

	rxOpts := append([]xmodem.Option{}, cfg.ReceiverOptions...)
	if cfg.Logger != nil {
		rxOpts = append(rxOpts, xmodem.WithLogger(cfg.Logger))
	}
	rx := xmodem.NewReceiver(ch, mem, rxOpts...)

	m := &Monitor{
		con:    NewConsole(ch),
		mem:    mem,
		loader: loader.New(rx, mem, cfg.Boot),
		config: cfg,
	}
	m.commands = builtins()
	return m
}

// Boot returns the boot context holding the loaded entry point.
func (m *Monitor) Boot() *loader.BootContext {
	return m.loader.Boot()
}

// Serve prints the banner and runs commands until ctx is done or the
// channel fails.
func (m *Monitor) Serve(ctx context.Context) error {
	m.Banner()

	for {
		m.con.Printf("%s", m.config.Prompt)
		line, err := m.con.ReadLine(ctx)
		if err != nil {
			return err
		}
		if err := m.Exec(ctx, line); err != nil {
			m.logDebug("command failed", "line", line, "error", err)
		}
		if err := m.con.Err(); err != nil {
			return errors.Wrap(err, "console output")
		}
	}
}

// Exec runs one command line and prints its result, including any error.
// Blank lines are ignored.
func (m *Monitor) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	if len(args) > maxArgs {
		args = args[:maxArgs]
	}

	err := m.run(ctx, args)
	if err != nil {
		m.con.Printf("%s\n", describe(err))
	}
	return err
}

func (m *Monitor) run(ctx context.Context, args []string) error {
	cmd := m.lookup(args[0])
	if cmd == nil {
		return &UnknownCommandError{Name: args[0]}
	}
	if len(args)-1 < cmd.MinArgs {
		return ErrInsufficientArgs
	}
	return cmd.Run(ctx, m, args[1:])
}

func (m *Monitor) lookup(name string) *Command {
	for _, cmd := range m.commands {
		if cmd.Name == name {
			return cmd
		}
		for _, alias := range cmd.Aliases {
			if alias == name {
				return cmd
			}
		}
	}
	return nil
}

// describe turns a command error into the line shown to the operator.
func describe(err error) string {
	var (
		argErr     *ArgError
		unknownErr *UnknownCommandError
		formatErr  *elfstream.FormatError
	)

	switch {
	case errors.Is(err, ErrInsufficientArgs):
		return "Insufficient arguments."
	case errors.As(err, &argErr):
		return "Invalid argument: " + argErr.Arg
	case errors.As(err, &unknownErr):
		return fmt.Sprintf("Unknown command: %s. Type 'help' for a list of commands.", unknownErr.Name)
	case errors.Is(err, ErrNotLoaded):
		return "ELF binary is not loaded."
	case errors.As(err, &formatErr):
		return sentence(formatErr.Status.String())
	case errors.Is(err, loader.ErrIncompleteImage):
		return "Incomplete image."
	}

	if r := xmodem.Outcome(err); r != xmodem.Failed {
		return r.String()
	}
	return "Error: " + err.Error()
}

// sentence capitalizes s and ends it with a period.
func sentence(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

func (m *Monitor) logDebug(msg string, kv ...interface{}) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, kv...)
	}
}

func (m *Monitor) logInfo(msg string, kv ...interface{}) {
	if m.config.Logger != nil {
		m.config.Logger.Info(msg, kv...)
	}
}
