package http11

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/ripple/pkg/ripple/clock"
)

// DefaultBufferSize is the default chunk size for streamed bodies.
const DefaultBufferSize = 4096

// PoolStrategy defines the pooling strategy to use
type PoolStrategy int

const (
	// PoolStrategyStandard uses Go's standard sync.Pool (default)
	PoolStrategyStandard PoolStrategy = iota

	// PoolStrategyPerCPU spreads objects over one sync.Pool per P to
	// reduce contention under sustained high connection churn
	PoolStrategyPerCPU
)

// poolStrategy is the global pool strategy setting
var poolStrategy atomic.Int32

// SetPoolStrategy sets the pooling strategy globally.
// Call it during server initialization, before connections are accepted.
func SetPoolStrategy(strategy PoolStrategy) {
	poolStrategy.Store(int32(strategy))
}

// perCPUPool provides per-CPU object pooling to reduce lock contention.
// Only used when PoolStrategyPerCPU is enabled.
type perCPUPool[T any] struct {
	pools      []*sync.Pool
	roundRobin atomic.Uint64
}

// newPerCPUPool creates a new per-CPU pool.
func newPerCPUPool[T any](newFunc func() T) *perCPUPool[T] {
	numCPU := runtime.GOMAXPROCS(0)
	if numCPU < 1 {
		numCPU = 1
	}
	p := &perCPUPool[T]{pools: make([]*sync.Pool, numCPU)}
	for i := range p.pools {
		p.pools[i] = &sync.Pool{New: func() any { return newFunc() }}
	}
	return p
}

func (p *perCPUPool[T]) get() T {
	idx := p.roundRobin.Add(1) % uint64(len(p.pools))
	return p.pools[idx].Get().(T)
}

func (p *perCPUPool[T]) put(obj T) {
	idx := p.roundRobin.Add(1) % uint64(len(p.pools))
	p.pools[idx].Put(obj)
}

var (
	contextPoolStd    = sync.Pool{New: func() any { return new(Context) }}
	contextPoolPerCPU = newPerCPUPool(func() *Context { return new(Context) })

	// writeBufferPool calibrates its default size to the responses it sees.
	writeBufferPool bytebufferpool.Pool

	contextGets atomic.Uint64
	contextPuts atomic.Uint64
	bufferGets  atomic.Uint64
	bufferPuts  atomic.Uint64
)

// AcquireContext returns a reset codec context bound to clk.
//
// IMPORTANT: call ReleaseContext when the connection is done with it.
//
// Allocation behavior: 0 allocs/op (reuses pooled object)
func AcquireContext(clk *clock.Clock, maxBodySize int64) *Context {
	contextGets.Add(1)
	var c *Context
	if PoolStrategy(poolStrategy.Load()) == PoolStrategyPerCPU {
		c = contextPoolPerCPU.get()
	} else {
		c = contextPoolStd.Get().(*Context)
	}
	c.init(clk, maxBodySize)
	return c
}

// ReleaseContext returns a context to the pool. It is safe to call with nil.
// The context and every Request it returned must not be used afterwards.
func ReleaseContext(c *Context) {
	if c == nil {
		return
	}
	contextPuts.Add(1)
	c.Reset()
	c.clock = nil
	if PoolStrategy(poolStrategy.Load()) == PoolStrategyPerCPU {
		contextPoolPerCPU.put(c)
	} else {
		contextPoolStd.Put(c)
	}
}

// acquireWriteBuffer returns an empty write buffer.
func acquireWriteBuffer() *bytebufferpool.ByteBuffer {
	bufferGets.Add(1)
	return writeBufferPool.Get()
}

// releaseWriteBuffer returns a write buffer to the pool.
func releaseWriteBuffer(b *bytebufferpool.ByteBuffer) {
	if b == nil {
		return
	}
	bufferPuts.Add(1)
	writeBufferPool.Put(b)
}

// PoolStats provides statistics about pool usage.
type PoolStats struct {
	// Name of the pool
	Name string

	// Total number of Get calls
	Gets uint64

	// Total number of Put calls
	Puts uint64

	// Outstanding is Gets minus Puts: objects held by live connections
	Outstanding int64
}

// GetPoolStats returns statistics for the codec context and write buffer pools.
func GetPoolStats() []PoolStats {
	stats := func(name string, gets, puts *atomic.Uint64) PoolStats {
		g, p := gets.Load(), puts.Load()
		return PoolStats{Name: name, Gets: g, Puts: p, Outstanding: int64(g) - int64(p)}
	}
	return []PoolStats{
		stats("Context", &contextGets, &contextPuts),
		stats("WriteBuffer", &bufferGets, &bufferPuts),
	}
}

// WarmupPools pre-allocates count codec contexts.
func WarmupPools(count int) {
	for i := 0; i < count; i++ {
		if PoolStrategy(poolStrategy.Load()) == PoolStrategyPerCPU {
			contextPoolPerCPU.put(new(Context))
		} else {
			contextPoolStd.Put(new(Context))
		}
	}
}
