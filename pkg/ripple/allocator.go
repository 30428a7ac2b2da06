package ripple

import (
	"errors"
	"fmt"
)

// Allocation modes accepted by NewAllocator.
const (
	AllocationStandard = "standard"
	AllocationPooled   = "pooled"
)

// ErrUnknownAllocationMode is returned by NewAllocator for an unrecognized mode.
var ErrUnknownAllocationMode = errors.New("ripple: unknown allocation mode")

// Allocator supplies connection read buffers. It is the pluggable replacement
// for a process-wide allocator: the server picks one at startup and every
// connection on a worker shares it.
//
// Alloc returns a zero-length slice with capacity of at least n.
// Free hands a buffer back; the caller must not use it afterwards.
type Allocator interface {
	Alloc(n int) []byte
	Free(buf []byte)
}

// StandardAllocator allocates from the Go heap and leaves reclamation to the GC.
type StandardAllocator struct{}

// Alloc implements Allocator.
func (StandardAllocator) Alloc(n int) []byte { return make([]byte, 0, n) }

// Free implements Allocator. It is a no-op.
func (StandardAllocator) Free([]byte) {}

// PooledAllocator recycles buffers through a size-classed BufferPool.
type PooledAllocator struct {
	Pool *BufferPool
}

// NewPooledAllocator creates a PooledAllocator backed by a fresh BufferPool.
func NewPooledAllocator() *PooledAllocator {
	return &PooledAllocator{Pool: NewBufferPool()}
}

// Alloc implements Allocator.
func (a *PooledAllocator) Alloc(n int) []byte { return a.Pool.Get(n)[:0] }

// Free implements Allocator.
func (a *PooledAllocator) Free(buf []byte) { a.Pool.Put(buf) }

// NewAllocator maps a configuration mode to an Allocator.
// The empty string selects the standard allocator.
func NewAllocator(mode string) (Allocator, error) {
	switch mode {
	case "", AllocationStandard:
		return StandardAllocator{}, nil
	case AllocationPooled:
		return NewPooledAllocator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocationMode, mode)
	}
}
