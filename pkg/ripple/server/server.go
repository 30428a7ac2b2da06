// Package server runs ripple HTTP/1.x connections behind a TCP accept loop.
//
// A Server is one worker: it owns the Date clock, the read buffer
// allocator, the completion ring (in completion mode) and the WorkerState
// shared by all of its connections. Each accepted connection is served by
// its own goroutine through http11.Connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/ripple/pkg/ripple"
	"github.com/yourusername/ripple/pkg/ripple/clock"
	"github.com/yourusername/ripple/pkg/ripple/http11"
	"github.com/yourusername/ripple/pkg/ripple/socket"
	"github.com/yourusername/ripple/pkg/ripple/transport"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("server: closed")

// shutdownPollInterval is how often Shutdown looks for idle connections.
const shutdownPollInterval = 10 * time.Millisecond

// Stats represents server statistics
type Stats struct {
	// Total number of connections accepted
	TotalConnections atomic.Uint64

	// Current number of active connections
	ActiveConnections atomic.Int64

	// Total number of requests answered
	TotalRequests atomic.Uint64

	// Total number of bytes read
	BytesRead atomic.Uint64

	// Total number of bytes written
	BytesWritten atomic.Uint64

	// Number of accept failures and connections that ended with an error
	ConnectionErrors atomic.Uint64

	// Server start time
	StartTime time.Time
}

// Duration returns the time since the server started
func (s *Stats) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// RequestsPerSecond returns the average requests per second
func (s *Stats) RequestsPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / duration
}

// ConnectionsPerSecond returns the average connections per second
func (s *Stats) ConnectionsPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.TotalConnections.Load()) / duration
}

// Server accepts connections and drives them with the configured dispatcher.
type Server struct {
	config Config
	logger *slog.Logger
	mode   transport.Mode
	clock  *clock.Clock
	ring   *transport.Ring
	alloc  ripple.Allocator
	worker *http11.WorkerState
	obs    *observer
	stats  Stats

	// connection settings that Reload may replace
	connConfig atomic.Pointer[http11.ConnectionConfig]

	// ctx is handed to every connection and canceled on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*http11.Connection]struct{}
	shutdown  atomic.Bool
	wg        sync.WaitGroup

	// Connection semaphore (for limiting concurrent connections)
	sem *semaphore.Weighted
}

// NewServer validates config, applies defaults and prepares the worker state.
func NewServer(config Config) (*Server, error) {
	if config.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}

	// Apply defaults
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 120 * time.Second
	}
	if config.MaxRequestBodySize == 0 {
		config.MaxRequestBodySize = http11.DefaultMaxBodySize
	}
	if config.ClockResolution == 0 {
		config.ClockResolution = clock.DefaultResolution
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Socket == nil {
		config.Socket = socket.DefaultConfig()
	}
	if config.ErrorPolicy == nil {
		config.ErrorPolicy = http11.InternalServerError
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	mode, err := transport.ParseMode(config.TransportMode)
	if err != nil {
		return nil, err
	}
	alloc, err := ripple.NewAllocator(config.AllocationMode)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		logger:    config.Logger,
		mode:      mode,
		clock:     clock.New(config.ClockResolution),
		alloc:     alloc,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*http11.Connection]struct{}),
	}
	s.stats.StartTime = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if mode == transport.ModeCompletion {
		s.ring = transport.NewRing(transport.RingConfig{Entries: config.RingEntries})
	}

	s.obs = &observer{stats: &s.stats}
	if reg := config.Registerer; reg != nil {
		s.obs.metrics = NewMetrics(reg)
		if s.ring != nil {
			registerRing(reg, s.ring)
		}
		registerPools(reg)
		if pa, ok := alloc.(*ripple.PooledAllocator); ok {
			if err := reg.Register(ripple.NewPrometheusCollector(pa.Pool)); err != nil {
				return nil, fmt.Errorf("server: register buffer pool metrics: %w", err)
			}
		}
	}

	if config.PerCPUPools {
		http11.SetPoolStrategy(http11.PoolStrategyPerCPU)
	}
	if n := config.WarmupContexts; n > 0 {
		http11.WarmupPools(n)
		if pa, ok := alloc.(*ripple.PooledAllocator); ok {
			pa.Pool.Warmup(n)
		}
	}

	s.worker = &http11.WorkerState{
		Clock:   s.clock,
		Backend: config.Backend,
		Logger:  s.logger,
	}

	if config.MaxConcurrentConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(config.MaxConcurrentConnections))
	}

	cc := s.connectionConfig(config)
	s.connConfig.Store(&cc)
	return s, nil
}

func (s *Server) connectionConfig(config Config) http11.ConnectionConfig {
	return http11.ConnectionConfig{
		IdleTimeout:           config.IdleTimeout,
		MaxRequests:           config.MaxKeepAliveRequests,
		MaxRequestBodySize:    config.MaxRequestBodySize,
		ErrorPolicy:           config.ErrorPolicy,
		DisableErrorResponses: config.DisableErrorResponses,
		Allocator:             s.alloc,
		Observer:              s.obs,
	}
}

// Reload applies a changed configuration file. Connection limits and the
// log level take effect for connections accepted afterwards; listener,
// transport and allocation settings need a restart and are ignored.
func (s *Server) Reload(fc *FileConfig) {
	cfg := s.config
	fc.Apply(&cfg)
	cc := s.connectionConfig(cfg)
	s.connConfig.Store(&cc)
	s.logger.Info("connection settings reloaded",
		"idle_timeout", cc.IdleTimeout,
		"max_requests", cc.MaxRequests,
		"max_body", cc.MaxRequestBodySize)
}

// Stats returns server statistics
func (s *Server) Stats() *Stats {
	return &s.stats
}

// Clock returns the worker's Date clock.
func (s *Server) Clock() *clock.Clock {
	return s.clock
}

// ListenAndServe listens on the configured address and runs the server
// until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.config.Addr, err)
	}
	return s.Run(ctx, ln)
}

// Run serves ln and keeps the worker's clock running until ctx is done or
// the accept loop fails, then shuts down gracefully within ShutdownTimeout.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.clock.Run(gctx)
	})
	g.Go(func() error {
		err := s.Serve(ln)
		if errors.Is(err, ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})

	return g.Wait()
}

// Serve accepts incoming connections on the Listener
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	if err := socket.ApplyListener(ln, s.config.Socket); err != nil {
		s.logger.Debug("listener tuning failed", "error", err)
	}
	s.logger.Info("serving", "addr", ln.Addr().String(), "transport", string(s.mode))

	var backoff time.Duration
	for {
		// Acquire connection slot if limit is set
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return ErrServerClosed
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.stats.ConnectionErrors.Add(1)

			// Back off on temporary failures such as EMFILE
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.startConn() {
			conn.Close()
			s.release()
			return ErrServerClosed
		}
		go s.handleConnection(conn)
	}
}

// startConn counts a connection handler in s.wg. It fails once shutdown
// has begun, so Shutdown and Close never wait on a handler added after
// their Wait started.
func (s *Server) startConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// handleConnection serves one accepted connection until it ends.
func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()
	defer s.release()

	logger := s.logger.With("conn_id", uuid.NewString(), "remote", nc.RemoteAddr().String())

	if err := socket.Apply(nc, s.config.Socket); err != nil {
		logger.Debug("socket tuning failed", "error", err)
	}

	tr, err := transport.New(nc, s.mode, s.ring)
	if err != nil {
		logger.Error("transport setup failed", "error", err)
		nc.Close()
		return
	}

	cc := *s.connConfig.Load()
	cc.Logger = logger
	conn := http11.NewConnection(tr, s.worker, s.config.Dispatcher, cc)

	if !s.trackConn(conn, true) {
		// Serve on a closed connection only releases its buffers.
		conn.Close()
		conn.Serve(s.ctx)
		return
	}
	s.obs.connOpened()

	err = conn.Serve(s.ctx)

	if logger.Enabled(s.ctx, slog.LevelDebug) {
		if info, ierr := socket.Info(nc); ierr == nil {
			logger.Debug("tcp info", "rtt", info.RTT, "retransmits", info.TotalRetrans)
		}
	}
	conn.Close()
	s.trackConn(conn, false)
	s.obs.connClosed(err)

	if err != nil {
		logger.Debug("connection ended",
			"error", err,
			"class", http11.ClassOf(err).String(),
			"requests", conn.RequestCount())
	}
}

// trackListener adds or removes ln. Adding fails once the server is shut down.
func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
		return true
	}
	delete(s.listeners, ln)
	return true
}

// trackConn adds or removes c. Adding fails once the server is shut down.
func (s *Server) trackConn(c *http11.Connection, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.conns[c] = struct{}{}
		return true
	}
	delete(s.conns, c)
	return true
}

// beginShutdown stops accepting. It reports false if shutdown already began.
func (s *Server) beginShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shutdown.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	for ln := range s.listeners {
		ln.Close()
	}
	return true
}

// closeIdleConns closes connections waiting for a request and reports
// whether any connection remains.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.CloseIfIdle()
	}
	return len(s.conns) > 0
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Shutdown gracefully shuts down the server: listeners are closed, idle
// connections are closed, and busy connections finish the responses they
// have already read requests for. If ctx expires first the remaining
// connections are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.beginShutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		s.closeIdleConns()
		select {
		case <-done:
			s.closeRing()
			return nil
		case <-ctx.Done():
			s.closeAllConns()
			s.closeRing()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close immediately closes the server and all active connections
func (s *Server) Close() error {
	s.beginShutdown()
	s.closeAllConns()
	s.wg.Wait()
	s.closeRing()
	return nil
}

func (s *Server) closeRing() {
	if s.ring != nil {
		s.ring.Close()
	}
}
