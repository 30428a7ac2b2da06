package http11

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/ripple/pkg/ripple"
	"github.com/yourusername/ripple/pkg/ripple/clock"
	"github.com/yourusername/ripple/pkg/ripple/transport"
)

// ConnectionState represents the state of an HTTP connection
type ConnectionState int

const (
	// StateNew is the initial state when a connection is created
	StateNew ConnectionState = iota

	// StateActive indicates the connection is decoding, dispatching or writing
	StateActive

	// StateIdle indicates the connection is waiting for request bytes
	StateIdle

	// StateClosed indicates the connection has been closed
	StateClosed
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives per-connection events, typically to feed metrics.
// Methods are called from the connection's goroutine.
type Observer interface {
	// RequestServed is called after a response has been encoded.
	RequestServed(method uint8, status int, elapsed time.Duration)

	// BytesRead is called after every read that returned data.
	BytesRead(n int)

	// BytesWritten is called after every successful flush.
	BytesWritten(n int)
}

// ConnectionConfig holds configuration for an HTTP connection
type ConnectionConfig struct {
	// IdleTimeout bounds the wait for request bytes. 0 disables it.
	// Default: 60 seconds
	IdleTimeout time.Duration

	// MaxRequests is the maximum number of requests per connection.
	// 0 means unlimited. Default: 0
	MaxRequests int

	// MaxRequestBodySize bounds decoded request bodies.
	// Default: DefaultMaxBodySize
	MaxRequestBodySize int64

	// ErrorPolicy resolves dispatcher failures. Default: InternalServerError
	ErrorPolicy ErrorPolicy

	// DisableErrorResponses suppresses the best-effort 4xx/5xx response
	// written before a connection is closed for a protocol error.
	DisableErrorResponses bool

	// Allocator supplies read buffers. Default: ripple.StandardAllocator
	Allocator ripple.Allocator

	// Observer receives events. Optional.
	Observer Observer

	// Logger overrides the worker logger, typically to attach connection
	// attributes. Optional.
	Logger *slog.Logger
}

// DefaultConnectionConfig returns the default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		IdleTimeout:        60 * time.Second,
		MaxRequests:        0, // Unlimited
		MaxRequestBodySize: DefaultMaxBodySize,
		ErrorPolicy:        InternalServerError,
		Allocator:          ripple.StandardAllocator{},
	}
}

// Connection drives one HTTP/1.x connection: it reads into an owned buffer,
// decodes every complete request the buffer holds, dispatches them in order,
// encodes all their responses into one write buffer and flushes it with a
// single WriteAll before reading again.
//
// Buffer discipline:
// - the read buffer has at least transport.MinReadSpace spare bytes before each read
// - consumed bytes are only compacted away right before a read, so request
//   views stay valid for the whole decode/dispatch/encode pass
// - the write buffer is empty at the top of every iteration
//
// Allocation behavior: 0 allocs/op per request once buffers have grown
type Connection struct {
	// Hot fields first (cache line optimization)
	state    atomic.Int32 // StateNew, StateActive, StateIdle, StateClosed
	lastUse  atomic.Int64 // Unix timestamp in nanoseconds
	requests atomic.Int32

	tr         transport.Transport
	codec      *Context
	dispatcher Dispatcher
	worker     *WorkerState
	config     ConnectionConfig
	logger     *slog.Logger

	rbuf []byte // owned read buffer, valid bytes are rbuf[roff:]
	roff int
	wbuf *bytebufferpool.ByteBuffer

	closed atomic.Bool
	// draining is set by CloseIfIdle: requests already read are still
	// answered, then the connection ends.
	draining atomic.Bool
}

// NewConnection creates a driver for tr. The codec context and write buffer
// come from pools and are released when Serve returns.
func NewConnection(tr transport.Transport, worker *WorkerState, d Dispatcher, config ConnectionConfig) *Connection {
	if config.ErrorPolicy == nil {
		config.ErrorPolicy = InternalServerError
	}
	if config.Allocator == nil {
		config.Allocator = ripple.StandardAllocator{}
	}
	if worker == nil {
		worker = &WorkerState{}
	}
	clk := worker.Clock
	if clk == nil {
		// A clock that is never run keeps the date of its creation.
		clk = clock.New(clock.DefaultResolution)
	}
	logger := config.Logger
	if logger == nil {
		logger = worker.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		tr:         tr,
		codec:      AcquireContext(clk, config.MaxRequestBodySize),
		dispatcher: d,
		worker:     worker,
		config:     config,
		logger:     logger,
		wbuf:       acquireWriteBuffer(),
	}
	c.state.Store(int32(StateNew))
	c.lastUse.Store(time.Now().UnixNano())
	return c
}

// State returns the current connection state (lock-free)
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(state ConnectionState) {
	c.state.Store(int32(state))
	c.lastUse.Store(time.Now().UnixNano())
}

// Serve runs the connection until the peer shuts down, keep-alive ends or a
// fatal error occurs. A clean end returns nil; everything else returns a
// *ConnError. The transport is shut down but not closed.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.cleanup()

	for {
		if c.closed.Load() || c.draining.Load() || ctx.Err() != nil {
			c.shutdown()
			return nil
		}

		c.compact()
		c.rbuf = transport.Reserve(c.rbuf, transport.MinReadSpace, c.config.Allocator)
		c.setDeadline()
		c.setState(StateIdle)

		buf, n, err := c.tr.Read(c.rbuf)
		c.rbuf = buf
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if c.draining.Load() {
				c.shutdown()
				return nil
			}
			return &ConnError{Class: ClassTransport, Err: err}
		}
		if n == 0 {
			c.shutdown()
			return nil
		}
		if c.config.Observer != nil {
			c.config.Observer.BytesRead(n)
		}
		c.setState(StateActive)

		keepAlive, serveErr := c.serveBuffered(ctx)

		if len(c.wbuf.B) > 0 {
			if err := c.flush(); err != nil {
				return err
			}
		}
		if serveErr != nil {
			c.shutdown()
			return serveErr
		}
		if !keepAlive || c.draining.Load() {
			c.shutdown()
			return nil
		}
	}
}

// serveBuffered decodes and answers every complete request in the read
// buffer, in order, appending the responses to the write buffer.
func (c *Connection) serveBuffered(ctx context.Context) (bool, error) {
	for {
		req, consumed, err := c.codec.DecodeHead(c.rbuf[c.roff:])
		if err != nil {
			c.logger.Debug("protocol error", "error", err)
			if !c.config.DisableErrorResponses {
				c.wbuf.B = c.codec.EncodeError(ErrorStatus(err), c.wbuf.B)
			}
			return false, &ConnError{Class: ClassProtocol, Err: err}
		}
		if req == nil {
			if c.codec.TakeContinue() {
				c.wbuf.B = c.codec.EncodeContinue(c.wbuf.B)
			}
			return true, nil
		}
		c.roff += consumed

		keepAlive, err := c.exchange(ctx, req)
		if err != nil || !keepAlive {
			return keepAlive, err
		}
	}
}

// exchange dispatches one request and encodes its response. If encoding
// fails the partial response is cut from the write buffer so that only the
// complete responses before it are flushed.
func (c *Connection) exchange(ctx context.Context, req *Request) (bool, error) {
	start := time.Now()
	n := c.requests.Add(1)
	if c.config.MaxRequests > 0 && int(n) >= c.config.MaxRequests {
		c.codec.DisableKeepAlive()
	}
	mark := len(c.wbuf.B)

	res, err := c.dispatch(ctx, req)
	if err != nil {
		if res, err = c.resolve(req, err); err != nil {
			return false, err
		}
	}

	enc, wb, err := c.codec.EncodeHead(res, c.wbuf.B)
	if errors.Is(err, ErrInvalidResponseHeader) || errors.Is(err, ErrInvalidStatusCode) {
		closeStream(res.Body)
		if res, err = c.resolve(req, err); err != nil {
			return false, err
		}
		enc, wb, err = c.codec.EncodeHead(res, c.wbuf.B)
	}
	if err != nil {
		closeStream(res.Body)
		return false, &ConnError{Class: ClassEncoding, Err: err}
	}
	c.wbuf.B = wb

	if err := c.encodeBody(ctx, enc, res.Body); err != nil {
		c.wbuf.B = c.wbuf.B[:mark]
		c.logger.Debug("response body failed", "error", err, "path", string(req.PathBytes()))
		return false, &ConnError{Class: ClassEncoding, Err: err}
	}

	if c.config.Observer != nil {
		status := res.Status
		if status == 0 {
			status = 200
		}
		c.config.Observer.RequestServed(req.MethodID, status, time.Since(start))
	}
	return c.codec.KeepAlive(), nil
}

// dispatch calls the dispatcher, turning panics and nil responses into errors.
func (c *Connection) dispatch(ctx context.Context, req *Request) (res *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrDispatcherPanic, r)
		}
	}()
	res, err = c.dispatcher.Dispatch(ctx, req, c.worker)
	if err == nil && res == nil {
		err = ErrNilResponse
	}
	return res, err
}

// resolve applies the error policy to a dispatcher failure.
func (c *Connection) resolve(req *Request, cause error) (*Response, error) {
	c.logger.Warn("dispatch failed", "error", cause, "method", req.Method(), "path", string(req.PathBytes()))
	res, err := c.config.ErrorPolicy(req, cause)
	if err != nil {
		return nil, &ConnError{Class: ClassApplication, Err: err}
	}
	if res == nil {
		return nil, &ConnError{Class: ClassApplication, Err: cause}
	}
	return res, nil
}

// encodeBody writes the body through enc, pulling a stream one chunk at a time.
func (c *Connection) encodeBody(ctx context.Context, enc *Encoder, body Body) error {
	var err error
	switch body.Kind() {
	case BodyFixed:
		if c.wbuf.B, err = enc.Encode(body.Bytes(), c.wbuf.B); err != nil {
			return err
		}
	case BodyStreamed:
		defer closeStream(body)
		if enc.BodyAllowed() {
			if err := c.pull(ctx, enc, body.Stream()); err != nil {
				return err
			}
		}
	}
	c.wbuf.B, err = enc.EncodeEOF(c.wbuf.B)
	return err
}

func (c *Connection) pull(ctx context.Context, enc *Encoder, s BodyStream) error {
	for {
		chunk, err := s.Next(ctx)
		if len(chunk) > 0 {
			var encErr error
			if c.wbuf.B, encErr = enc.Encode(chunk, c.wbuf.B); encErr != nil {
				return encErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func closeStream(body Body) {
	if cl, ok := body.Stream().(io.Closer); ok {
		cl.Close()
	}
}

// flush hands the write buffer to the transport and empties it.
func (c *Connection) flush() error {
	n := len(c.wbuf.B)
	b, err := c.tr.WriteAll(c.wbuf.B)
	c.wbuf.B = b[:0]
	if err != nil {
		return &ConnError{Class: ClassTransport, Err: err}
	}
	if c.config.Observer != nil {
		c.config.Observer.BytesWritten(n)
	}
	return nil
}

// compact drops consumed bytes from the front of the read buffer.
func (c *Connection) compact() {
	if c.roff == 0 {
		return
	}
	n := copy(c.rbuf, c.rbuf[c.roff:])
	c.rbuf = c.rbuf[:n]
	c.roff = 0
}

func (c *Connection) setDeadline() {
	if c.config.IdleTimeout <= 0 {
		return
	}
	if d, ok := c.tr.(transport.Deadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(c.config.IdleTimeout)); err != nil {
			c.logger.Debug("set read deadline", "error", err)
		}
	}
}

func (c *Connection) shutdown() {
	if err := c.tr.Shutdown(); err != nil {
		c.logger.Debug("shutdown failed", "error", err)
	}
}

// Close closes the transport. A Serve blocked in a read returns nil.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.setState(StateClosed)
	return c.tr.Close()
}

// CloseIfIdle ends the connection only if it is waiting for request bytes.
// It reports whether the connection was idle.
//
// A transport with read deadlines is not closed: the pending read is
// expired instead, so bytes it already returned are still answered before
// Serve ends. Bytes that reach the socket after the deadline are dropped.
// Other transports are closed.
func (c *Connection) CloseIfIdle() bool {
	if c.closed.Load() || !c.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		return false
	}
	c.draining.Store(true)
	if d, ok := c.tr.(transport.Deadliner); ok {
		if err := d.SetReadDeadline(time.Now()); err == nil {
			return true
		}
	}
	c.Close()
	return true
}

// cleanup releases pooled resources
func (c *Connection) cleanup() {
	c.setState(StateClosed)
	if c.codec != nil {
		ReleaseContext(c.codec)
		c.codec = nil
	}
	if c.wbuf != nil {
		releaseWriteBuffer(c.wbuf)
		c.wbuf = nil
	}
	if c.rbuf != nil {
		c.config.Allocator.Free(c.rbuf[:0])
		c.rbuf = nil
	}
}

// RequestCount returns the number of requests handled on this connection (lock-free)
func (c *Connection) RequestCount() int {
	return int(c.requests.Load())
}

// IdleTime returns how long the connection has been idle (lock-free)
func (c *Connection) IdleTime() time.Duration {
	if c.State() != StateIdle {
		return 0
	}
	return time.Since(time.Unix(0, c.lastUse.Load()))
}
