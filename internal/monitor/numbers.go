package monitor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseNumber parses a 32-bit command argument: 0x-prefixed hex,
// 0b-prefixed binary or signed decimal. Negative decimals wrap around.
func ParseNumber(s string) (uint32, error) {
	if s == "" {
		return 0, errors.New("empty number")
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), errors.Wrapf(err, "parse %q", s)
	case strings.HasPrefix(lower, "0b"):
		v, err := strconv.ParseUint(s[2:], 2, 32)
		return uint32(v), errors.Wrapf(err, "parse %q", s)
	}

	neg := false
	digits := s
	switch s[0] {
	case '-':
		neg = true
		digits = s[1:]
	case '+':
		digits = s[1:]
	}

	v, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %q", s)
	}
	if neg {
		return -uint32(v), nil
	}
	return uint32(v), nil
}
