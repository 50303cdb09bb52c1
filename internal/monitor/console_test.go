package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ultisoc/bootmon/internal/xmodem/xmodemtest"
)

func TestReadLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		echo     string
	}{
		{"plain", "rdw 0x10\r", "rdw 0x10", "rdw 0x10\n\r"},
		{"backspace", "ab\bc\r", "ac", "ab\b \bc\n\r"},
		{"delete on empty line", "\x7fx\n", "x", "x\n\r"},
		{"arrow key dropped", "\x1b[Ax\r", "x", "x\n\r"},
		{"delete key dropped", "\x1b[3~y\r", "y", "y\n\r"},
		{"interrupt", "abc\x03", "", "abc^C\n\r"},
		{"control bytes ignored", "a\x01\x7e\r", "a~", "a~\n\r"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			script := xmodemtest.NewScript().Bytes([]byte(tc.input)...)
			con := NewConsole(script)

			line, err := con.ReadLine(context.Background())
			if err != nil {
				t.Fatalf("ReadLine() error: %v", err)
			}
			if line != tc.expected {
				t.Errorf("ReadLine() = %q, want %q", line, tc.expected)
			}
			if got := string(script.Sent()); got != tc.echo {
				t.Errorf("ReadLine() echoed %q, want %q", got, tc.echo)
			}
		})
	}
}

func TestReadLine_Truncates(t *testing.T) {
	input := make([]byte, maxLine+10)
	for i := range input {
		input[i] = 'a'
	}
	script := xmodemtest.NewScript().Bytes(append(input, '\r')...)

	line, err := NewConsole(script).ReadLine(context.Background())
	if err != nil {
		t.Fatalf("ReadLine() error: %v", err)
	}
	if len(line) != maxLine {
		t.Errorf("ReadLine() length = %d, want %d", len(line), maxLine)
	}
}

func TestReadLine_ContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewConsole(xmodemtest.NewScript()).ReadLine(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadLine() = %v, want DeadlineExceeded", err)
	}
}

func TestConsole_WriteExpandsNewline(t *testing.T) {
	script := xmodemtest.NewScript()
	con := NewConsole(script)

	con.Printf("a\nb\n")
	if got, want := string(script.Sent()), "a\n\rb\n\r"; got != want {
		t.Errorf("Printf() sent %q, want %q", got, want)
	}
	if err := con.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestDescribe_FormatStatus(t *testing.T) {
	if got := sentence("invalid ELF class"); got != "Invalid ELF class." {
		t.Errorf("sentence() = %q, want %q", got, "Invalid ELF class.")
	}
}
