package xmodem

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by a Channel when no byte arrived in time.
	ErrTimeout = errors.New("receive timeout")

	// ErrCancelled means the sender cancelled with two consecutive CAN bytes.
	ErrCancelled = errors.New("transmission cancelled")

	// ErrOutOfSequence means a block arrived that was neither the expected
	// one nor a retransmission of the previous one.
	ErrOutOfSequence = errors.New("sequence error")

	// ErrRetryExceeded means the retry budget ran out while waiting for the sender.
	ErrRetryExceeded = errors.New("maximum retries reached")
)

// Result is the operator-visible outcome of a transfer.
type Result int

const (
	Completed Result = iota
	Cancelled
	OutOfSequence
	RetryExceeded
	Aborted // the block consumer stopped the transfer
	Failed  // the channel or memory failed
)

// Outcome classifies an error returned by Receive.
func Outcome(err error) Result {
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, ErrCancelled):
		return Cancelled
	case errors.Is(err, ErrOutOfSequence):
		return OutOfSequence
	case errors.Is(err, ErrRetryExceeded):
		return RetryExceeded
	default:
		var abort *AbortError
		if errors.As(err, &abort) {
			return Aborted
		}
		return Failed
	}
}

// String returns the message printed to the operator.
func (r Result) String() string {
	switch r {
	case Completed:
		return "Done."
	case Cancelled:
		return "Transmission canceled."
	case OutOfSequence:
		return "Sequence error."
	case RetryExceeded:
		return "Maximum retries reached."
	case Aborted:
		return "Transfer aborted."
	default:
		return "Transfer failed."
	}
}

// AbortError wraps the error a block consumer used to stop the transfer.
type AbortError struct {
	Seq byte
	Err error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("block %d rejected: %v", e.Seq, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}
