package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultRingEntries is the default number of operations a Ring keeps in flight.
const DefaultRingEntries = 4096

type opKind uint8

const (
	opRead opKind = iota
	opWrite
	opShutdown
)

// op is one submission. The buffer belongs to the op from submission until
// the completion is delivered on done.
type op struct {
	kind opKind
	conn net.Conn
	buf  []byte
	n    int
	err  error
	done chan *op
}

// RingConfig configures a Ring.
type RingConfig struct {
	// Entries bounds the operations in flight. Submissions beyond it wait
	// for a completion. Default: 4096.
	Entries int
}

// RingStats is a snapshot of Ring counters.
type RingStats struct {
	Submitted uint64
	Completed uint64
	InFlight  int64
}

// Ring accepts I/O submissions and completes them asynchronously. It is
// shared by every completion-mode connection of a worker.
type Ring struct {
	slots  *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Uint64
	completed atomic.Uint64
	inFlight  atomic.Int64
}

// NewRing creates a Ring.
func NewRing(cfg RingConfig) *Ring {
	if cfg.Entries <= 0 {
		cfg.Entries = DefaultRingEntries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ring{
		slots:  semaphore.NewWeighted(int64(cfg.Entries)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// submit hands o to the ring and blocks until its completion arrives.
func (r *Ring) submit(o *op) *op {
	if err := r.slots.Acquire(r.ctx, 1); err != nil {
		o.err = ErrRingClosed
		return o
	}
	r.submitted.Add(1)
	r.inFlight.Add(1)

	o.done = make(chan *op, 1)
	go r.execute(o)
	return <-o.done
}

func (r *Ring) execute(o *op) {
	switch o.kind {
	case opRead:
		o.buf, o.n, o.err = readInto(o.conn, o.buf)
	case opWrite:
		o.err = writeAll(o.conn, o.buf)
		if o.err == nil {
			o.n = len(o.buf)
		}
	case opShutdown:
		o.err = shutdown(o.conn)
	}

	r.inFlight.Add(-1)
	r.completed.Add(1)
	r.slots.Release(1)
	o.done <- o
}

// Stats returns the ring counters.
func (r *Ring) Stats() RingStats {
	return RingStats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		InFlight:  r.inFlight.Load(),
	}
}

// Close rejects further submissions. Operations already in flight complete
// when their connections make progress or are closed.
func (r *Ring) Close() error {
	r.cancel()
	return nil
}

// Completion is the owned-buffer backend. Each call moves the buffer into a
// submission and only returns it with the completion.
type Completion struct {
	conn net.Conn
	ring *Ring

	reading atomic.Bool
	writing atomic.Bool
}

var _ Transport = (*Completion)(nil)

// NewCompletion wraps conn, submitting its I/O to ring.
func NewCompletion(conn net.Conn, ring *Ring) *Completion {
	return &Completion{conn: conn, ring: ring}
}

// Read implements Transport.
func (c *Completion) Read(buf []byte) ([]byte, int, error) {
	if !c.reading.CompareAndSwap(false, true) {
		return buf, 0, ErrOpInFlight
	}
	defer c.reading.Store(false)

	o := c.ring.submit(&op{kind: opRead, conn: c.conn, buf: buf})
	return o.buf, o.n, o.err
}

// WriteAll implements Transport.
func (c *Completion) WriteAll(buf []byte) ([]byte, error) {
	if !c.writing.CompareAndSwap(false, true) {
		return buf, ErrOpInFlight
	}
	defer c.writing.Store(false)

	o := c.ring.submit(&op{kind: opWrite, conn: c.conn, buf: buf})
	return o.buf, o.err
}

// Shutdown implements Transport.
func (c *Completion) Shutdown() error {
	return c.ring.submit(&op{kind: opShutdown, conn: c.conn}).err
}

// Close implements Transport.
func (c *Completion) Close() error {
	return c.conn.Close()
}

// SetReadDeadline implements Deadliner.
func (c *Completion) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
