// Package transport implements the buffer ownership protocol between a
// connection and its byte stream.
//
// Every call takes a buffer from the caller and gives it back when the call
// returns. For the readiness backend the hand-off is a plain borrow: the
// caller's goroutine performs the system call on its own memory. For the
// completion backend the buffer travels with a submission to a Ring and is only
// handed back by the completion. Code driving a Transport is written once and
// must not touch a buffer between handing it over and getting it back.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/yourusername/ripple/pkg/ripple"
)

// MinReadSpace is the spare capacity guaranteed before each read.
const MinReadSpace = 4096

// Mode selects the I/O backend of a connection.
type Mode string

const (
	// ModeReadiness performs I/O directly on the caller's buffer.
	ModeReadiness Mode = "readiness"

	// ModeCompletion submits buffers to a Ring and waits for completions.
	ModeCompletion Mode = "completion"
)

// Transport errors
var (
	// ErrNoSpace is returned by Read when the buffer has no spare capacity.
	ErrNoSpace = errors.New("transport: read buffer has no spare capacity")

	// ErrOpInFlight is returned when a second read or write is issued while
	// one of the same kind is still outstanding.
	ErrOpInFlight = errors.New("transport: operation already in flight")

	// ErrRingClosed is returned for submissions to a closed Ring.
	ErrRingClosed = errors.New("transport: ring closed")

	// ErrUnknownMode is returned by ParseMode.
	ErrUnknownMode = errors.New("transport: unknown mode")
)

// Transport is a byte stream whose calls move buffer ownership.
type Transport interface {
	// Read fills buf[len(buf):cap(buf)] and returns the extended buffer and
	// the number of bytes added. n == 0 with a nil error means the peer shut
	// down its side of the stream.
	Read(buf []byte) ([]byte, int, error)

	// WriteAll writes every byte of buf, retrying partial writes, and returns
	// the buffer once all of it has been accepted or a hard error occurred.
	WriteAll(buf []byte) ([]byte, error)

	// Shutdown shuts down both directions of the stream.
	Shutdown() error

	// Close releases the underlying connection.
	Close() error
}

// Deadliner is implemented by transports that support read deadlines.
type Deadliner interface {
	SetReadDeadline(t time.Time) error
}

// OpError wraps a failure of the underlying stream.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

// ParseMode validates a configured mode. The empty string selects ModeReadiness.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReadiness:
		return ModeReadiness, nil
	case ModeCompletion:
		return ModeCompletion, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// New wraps conn in the backend selected by mode. ring is required for
// ModeCompletion and ignored otherwise.
func New(conn net.Conn, mode Mode, ring *Ring) (Transport, error) {
	switch mode {
	case "", ModeReadiness:
		return NewReadiness(conn), nil
	case ModeCompletion:
		if ring == nil {
			return nil, errors.New("transport: completion mode needs a ring")
		}
		return NewCompletion(conn, ring), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Reserve makes sure buf has at least min bytes of spare capacity,
// moving its contents to a larger allocation from alloc when it does not.
// Capacity at least doubles on every move, so a large body costs a
// logarithmic number of copies. The old buffer is returned to alloc.
func Reserve(buf []byte, min int, alloc ripple.Allocator) []byte {
	if cap(buf)-len(buf) >= min {
		return buf
	}
	size := len(buf) + min
	if doubled := 2 * cap(buf); doubled > size {
		size = doubled
	}
	nb := append(alloc.Alloc(size), buf...)
	if buf != nil {
		alloc.Free(buf[:0])
	}
	return nb
}
