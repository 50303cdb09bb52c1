package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ultisoc/bootmon/internal/config"
)

// stdLogger adapts the standard logger to the protocol Logger interface.
type stdLogger struct {
	debug bool
}

func (l *stdLogger) Debug(msg string, keysAndValues ...interface{}) {
	if l.debug {
		l.output("DEBUG", msg, keysAndValues)
	}
}

func (l *stdLogger) Info(msg string, keysAndValues ...interface{}) {
	l.output("INFO", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...interface{}) {
	l.output("ERROR", msg, keysAndValues)
}

func (l *stdLogger) output(level, msg string, kv []interface{}) {
	var sb strings.Builder
	sb.WriteString(level)
	sb.WriteByte(' ')
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&sb, " %v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&sb, " %v", kv[i])
		}
	}
	log.Output(3, sb.String())
}

// setupLogging sends the standard logger to stderr and, when a file is
// configured, to a rotated log file as well.
func setupLogging(c config.LogConfig) (*stdLogger, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if c.File == "" {
		log.SetOutput(os.Stderr)
		return &stdLogger{debug: c.Debug}, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return &stdLogger{debug: c.Debug}, nil
}
