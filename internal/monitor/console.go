package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/ultisoc/bootmon/internal/xmodem"
)

const (
	maxLine      = 128
	pollInterval = 100 * time.Millisecond

	keyInterrupt = 0x03
	keyBackspace = 0x08
	keyEscape    = 0x1B
	keyDelete    = 0x7F
)

// Console is a line-oriented terminal on a byte channel. Input is echoed
// and output newlines are sent as LF CR.
type Console struct {
	ch  xmodem.Channel
	err error // first output error
}

// NewConsole creates a console on ch.
func NewConsole(ch xmodem.Channel) *Console {
	return &Console{ch: ch}
}

// Write sends p, expanding LF to LF CR.
func (c *Console) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := c.putc(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Printf formats to the console. Output errors are kept for Err.
func (c *Console) Printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(c, format, args...); err != nil && c.err == nil {
		c.err = err
	}
}

// Err returns the first output error.
func (c *Console) Err() error {
	return c.err
}

func (c *Console) putc(b byte) error {
	if err := c.ch.SendByte(b); err != nil {
		return err
	}
	if b == '\n' {
		return c.ch.SendByte('\r')
	}
	return nil
}

// Getc waits for one input byte.
func (c *Console) Getc(ctx context.Context) (byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		b, err := c.ch.ReceiveByte(pollInterval)
		if errors.Is(err, xmodem.ErrTimeout) {
			continue
		}
		return b, err
	}
}

// ReadLine reads one line with echo and backspace editing. Escape
// sequences are dropped and Ctrl-C discards the line.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	var line []byte
	esc := 0 // bytes left in an escape sequence

	for {
		b, err := c.Getc(ctx)
		if err != nil {
			return "", err
		}

		switch {
		case esc > 0:
			esc--
			// ESC [ digits ~ style sequences run until a letter or tilde
			if esc == 0 && (b >= '0' && b <= '9' || b == ';') {
				esc = 1
			}
			continue
		case b == keyEscape:
			esc = 2
			continue
		case b == '\r' || b == '\n':
			c.Printf("\n")
			return string(line), nil
		case b == keyBackspace || b == keyDelete:
			if len(line) > 0 {
				line = line[:len(line)-1]
				c.Printf("\b \b")
			}
			continue
		case b == keyInterrupt:
			c.Printf("^C\n")
			return "", nil
		case b < ' ' || b > '~':
			continue
		}

		if len(line) == maxLine {
			continue
		}
		line = append(line, b)
		c.Printf("%c", b)
	}
}
