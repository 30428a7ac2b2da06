// Package ripple holds the buffer allocation layer shared by the ripple HTTP/1 engine.
package ripple

import (
	"sync"
	"sync/atomic"
)

// Buffer size classes. Powers of two so a grown read buffer lands in the next class.
const (
	BufferSize2KB  = 2 * 1024
	BufferSize4KB  = 4 * 1024
	BufferSize8KB  = 8 * 1024
	BufferSize16KB = 16 * 1024
	BufferSize32KB = 32 * 1024
	BufferSize64KB = 64 * 1024
)

var sizeClasses = [...]int{
	BufferSize2KB,
	BufferSize4KB,
	BufferSize8KB,
	BufferSize16KB,
	BufferSize32KB,
	BufferSize64KB,
}

// BufferPool provides size-classed buffer pooling with metrics tracking.
//
// Design:
// - One sync.Pool per size class (2KB to 64KB)
// - Get returns the smallest class that fits; larger requests bypass the pool
// - Put routes by capacity; undersized buffers are dropped
//
// Allocation behavior: 0 allocs/op on pool hit, 1 alloc/op on miss
type BufferPool struct {
	classes [len(sizeClasses)]*sizedBufferPool

	totalGets atomic.Uint64
	totalPuts atomic.Uint64
	oversized atomic.Uint64 // Gets larger than the biggest class
}

// sizedBufferPool manages a single size class of buffers
type sizedBufferPool struct {
	size int
	pool sync.Pool

	gets      atomic.Uint64
	puts      atomic.Uint64
	misses    atomic.Uint64 // New() calls
	discards  atomic.Uint64
	allocated atomic.Uint64 // bytes
}

func newSizedBufferPool(size int) *sizedBufferPool {
	sbp := &sizedBufferPool{size: size}
	sbp.pool.New = func() interface{} {
		sbp.misses.Add(1)
		sbp.allocated.Add(uint64(size))
		buf := make([]byte, size)
		return &buf
	}
	return sbp
}

func (sbp *sizedBufferPool) get() []byte {
	sbp.gets.Add(1)
	bufPtr := sbp.pool.Get().(*[]byte)
	return (*bufPtr)[:sbp.size]
}

func (sbp *sizedBufferPool) put(buf []byte) {
	sbp.puts.Add(1)
	if cap(buf) < sbp.size {
		sbp.discards.Add(1)
		return
	}
	buf = buf[:sbp.size]
	sbp.pool.Put(&buf)
}

// NewBufferPool creates a new buffer pool with one pool per size class.
func NewBufferPool() *BufferPool {
	bp := &BufferPool{}
	for i, size := range sizeClasses {
		bp.classes[i] = newSizedBufferPool(size)
	}
	return bp
}

// Get retrieves a buffer of at least the requested size, with len == cap
// of its class. Requests above 64KB are allocated directly.
func (bp *BufferPool) Get(size int) []byte {
	bp.totalGets.Add(1)
	for _, c := range bp.classes {
		if size <= c.size {
			return c.get()
		}
	}
	bp.oversized.Add(1)
	return make([]byte, size)
}

// Put returns a buffer to the class matching its capacity.
// After calling Put the caller MUST NOT use the buffer anymore.
func (bp *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	bp.totalPuts.Add(1)

	size := cap(buf)
	for i := len(bp.classes) - 1; i >= 0; i-- {
		if size >= bp.classes[i].size {
			bp.classes[i].put(buf)
			return
		}
	}
	// Smaller than the smallest class: let the GC have it.
}

// BufferPoolMetrics contains pool statistics
type BufferPoolMetrics struct {
	Classes   []SizedPoolMetrics
	TotalGets uint64
	TotalPuts uint64
	Oversized uint64

	GlobalHitRate   float64 // percentage across all classes
	MemoryAllocated uint64  // bytes allocated by pool misses
}

// SizedPoolMetrics contains metrics for a single size class
type SizedPoolMetrics struct {
	Size      int
	Gets      uint64
	Puts      uint64
	Hits      uint64
	Misses    uint64
	Discards  uint64
	HitRate   float64
	Allocated uint64
}

// GetMetrics returns a snapshot of pool metrics.
func (bp *BufferPool) GetMetrics() BufferPoolMetrics {
	m := BufferPoolMetrics{
		Classes:   make([]SizedPoolMetrics, 0, len(bp.classes)),
		TotalGets: bp.totalGets.Load(),
		TotalPuts: bp.totalPuts.Load(),
		Oversized: bp.oversized.Load(),
	}

	var hits, gets uint64
	for _, c := range bp.classes {
		sm := c.metrics()
		m.Classes = append(m.Classes, sm)
		hits += sm.Hits
		gets += sm.Gets
		m.MemoryAllocated += sm.Allocated
	}
	if gets > 0 {
		m.GlobalHitRate = float64(hits) / float64(gets) * 100.0
	}
	return m
}

func (sbp *sizedBufferPool) metrics() SizedPoolMetrics {
	gets := sbp.gets.Load()
	misses := sbp.misses.Load()

	// New() increments misses, so every other Get was served from the pool.
	var hits uint64
	if gets >= misses {
		hits = gets - misses
	}
	var hitRate float64
	if gets > 0 {
		hitRate = float64(hits) / float64(gets) * 100.0
	}

	return SizedPoolMetrics{
		Size:      sbp.size,
		Gets:      gets,
		Puts:      sbp.puts.Load(),
		Hits:      hits,
		Misses:    misses,
		Discards:  sbp.discards.Load(),
		HitRate:   hitRate,
		Allocated: sbp.allocated.Load(),
	}
}

// Warmup pre-allocates count buffers in every class.
func (bp *BufferPool) Warmup(count int) {
	for _, c := range bp.classes {
		bufs := make([][]byte, count)
		for i := range bufs {
			bufs[i] = c.get()
		}
		for _, b := range bufs {
			c.put(b)
		}
	}
}
