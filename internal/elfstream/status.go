package elfstream

import "fmt"

// Status is the result of feeding a chunk to a Stream.
type Status int

const (
	InProgress Status = iota
	Loaded
	BadMagic
	BadClass
	BadEncoding
	BadVersion
	BadArchitecture
	BadObjectType
	LayoutError
)

var statusNames = map[Status]string{
	InProgress:      "in progress",
	Loaded:          "loaded",
	BadMagic:        "invalid file format",
	BadClass:        "invalid ELF class",
	BadEncoding:     "invalid data encoding",
	BadVersion:      "invalid version",
	BadArchitecture: "invalid target machine type",
	BadObjectType:   "invalid object type",
	LayoutError:     "invalid file layout",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further input is accepted.
func (s Status) Terminal() bool {
	return s != InProgress
}

// Err returns a *FormatError for the structural error codes and nil
// for InProgress and Loaded.
func (s Status) Err() error {
	if s == InProgress || s == Loaded {
		return nil
	}
	return &FormatError{Status: s}
}

// FormatError reports an image the stream parser rejected.
type FormatError struct {
	Status Status
	Err    error // underlying cause, if any
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elf: %s: %v", e.Status, e.Err)
	}
	return "elf: " + e.Status.String()
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
