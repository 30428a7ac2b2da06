package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/yourusername/ripple/pkg/ripple"
	"github.com/yourusername/ripple/pkg/ripple/bench"
	"github.com/yourusername/ripple/pkg/ripple/http11"
	"github.com/yourusername/ripple/pkg/ripple/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a server with the bench dispatcher on an in-memory
// listener. mutate may adjust the configuration first.
func startServer(t *testing.T, mutate func(*Config)) (*Server, *fasthttputil.InmemoryListener, <-chan error) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dispatcher = bench.Dispatcher{}
	cfg.Logger = quietLogger()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ln := fasthttputil.NewInmemoryListener()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() { srv.Close() })
	return srv, ln, served
}

// readUntil reads from conn until want has been seen count times.
func readUntil(t *testing.T, conn net.Conn, want string, count int) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for strings.Count(out.String(), want) < count {
		n, err := conn.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			t.Fatalf("read after %q: %v", out.String(), err)
		}
	}
	return out.String()
}

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewServerValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no dispatcher", func(c *Config) { c.Dispatcher = nil }, ErrNoDispatcher},
		{"bad transport", func(c *Config) { c.TransportMode = "epoll" }, transport.ErrUnknownMode},
		{"bad allocator", func(c *Config) { c.AllocationMode = "arena" }, ripple.ErrUnknownAllocationMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Dispatcher = bench.Dispatcher{}
			tt.mutate(&cfg)
			if _, err := NewServer(cfg); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServerPipelined(t *testing.T) {
	for _, mode := range []transport.Mode{transport.ModeReadiness, transport.ModeCompletion} {
		t.Run(string(mode), func(t *testing.T) {
			srv, ln, _ := startServer(t, func(c *Config) {
				c.TransportMode = string(mode)
				c.RingEntries = 8
			})

			conn, err := ln.Dial()
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			raw := strings.Repeat("GET /plaintext HTTP/1.1\r\nHost: x\r\n\r\n", 10)
			if _, err := conn.Write([]byte(raw)); err != nil {
				t.Fatal(err)
			}
			out := readUntil(t, conn, "Hello, World!", 10)
			if got := strings.Count(out, "HTTP/1.1 200 OK\r\n"); got != 10 {
				t.Errorf("responses = %d, want 10", got)
			}
			if !strings.Contains(out, "Server: ripple\r\nDate: ") {
				t.Error("missing Server/Date fields")
			}

			eventually(t, "request count", func() bool { return srv.Stats().TotalRequests.Load() == 10 })
			if srv.Stats().ActiveConnections.Load() != 1 {
				t.Errorf("active = %d", srv.Stats().ActiveConnections.Load())
			}
		})
	}
}

func TestServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, ln, _ := startServer(t, func(c *Config) {
		c.Registerer = reg
		c.AllocationMode = ripple.AllocationPooled
		c.TransportMode = string(transport.ModeCompletion)
	})

	conn, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	raw := "GET /plaintext HTTP/1.1\r\n\r\nGET /missing HTTP/1.1\r\n\r\nGET /json HTTP/1.1\r\nConnection: close\r\n\r\n"
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(conn); err != nil {
		t.Fatal(err)
	}
	eventually(t, "connection end", func() bool { return srv.Stats().ActiveConnections.Load() == 0 })

	m := srv.obs.metrics
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")); got != 2 {
		t.Errorf("GET 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "404")); got != 1 {
		t.Errorf("GET 404 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionsAccepted); got != 1 {
		t.Errorf("accepted = %v", got)
	}
	if got := testutil.ToFloat64(m.connectionsActive); got != 0 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.bytesRead); got != float64(len(raw)) {
		t.Errorf("bytes read = %v, want %d", got, len(raw))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"ripple_requests_total",
		"ripple_request_duration_seconds",
		"ripple_ring_submitted_total",
		"ripple_ring_in_flight",
		"ripple_buffer_pool_gets_total",
		"ripple_pool_gets_total",
		"ripple_pool_outstanding",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestServerConnectionErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, ln, _ := startServer(t, func(c *Config) { c.Registerer = reg })

	conn, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("BREW /pot HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(conn)
	if !strings.HasPrefix(string(out), "HTTP/1.1 501 Not Implemented\r\n") {
		t.Errorf("response = %q", out)
	}

	eventually(t, "connection end", func() bool { return srv.Stats().ActiveConnections.Load() == 0 })
	if got := testutil.ToFloat64(srv.obs.metrics.connectionErrors.WithLabelValues("protocol")); got != 1 {
		t.Errorf("protocol errors = %v", got)
	}
	if srv.Stats().ConnectionErrors.Load() != 1 {
		t.Errorf("ConnectionErrors = %d", srv.Stats().ConnectionErrors.Load())
	}
}

func TestServerShutdownClosesIdle(t *testing.T) {
	srv, ln, served := startServer(t, nil)

	conn, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("GET /plaintext HTTP/1.1\r\n\r\n"))
	readUntil(t, conn, "Hello, World!", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// The idle keep-alive connection is closed by the server.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if n, err := conn.Read(make([]byte, 1)); n != 0 || err == nil {
		t.Errorf("read after shutdown = (%d, %v)", n, err)
	}
	if err := <-served; !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve = %v, want ErrServerClosed", err)
	}
	if err := srv.Serve(fasthttputil.NewInmemoryListener()); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve after shutdown = %v", err)
	}
}

// gatedListener hands out connections only when the test sends them.
type gatedListener struct {
	conns     chan net.Conn
	accepting chan struct{}
}

func (l *gatedListener) Accept() (net.Conn, error) {
	select {
	case l.accepting <- struct{}{}:
	default:
	}
	return <-l.conns, nil
}

func (l *gatedListener) Close() error   { return nil }
func (l *gatedListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServerAcceptAfterClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dispatcher = bench.Dispatcher{}
	cfg.Logger = quietLogger()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ln := &gatedListener{conns: make(chan net.Conn, 1), accepting: make(chan struct{}, 1)}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case <-ln.accepting:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve never called Accept")
	}
	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}

	// A connection accepted after Close returned is dropped, not served.
	client, server := net.Pipe()
	defer client.Close()
	ln.conns <- server

	select {
	case err := <-served:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve = %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("read from dropped connection = %v, want EOF", err)
	}
	if n := srv.Stats().TotalConnections.Load(); n != 0 {
		t.Errorf("TotalConnections = %d, want 0", n)
	}
}

func TestServerRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dispatcher = bench.Dispatcher{}
	cfg.Logger = quietLogger()
	cfg.ClockResolution = 10 * time.Millisecond
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, ln) }()

	conn, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("GET /json HTTP/1.1\r\n\r\n"))
	readUntil(t, conn, `{"message":"Hello, World!"}`, 1)

	eventually(t, "clock refresh", func() bool { return srv.Clock().Refreshes() > 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestServerReload(t *testing.T) {
	level := new(slog.LevelVar)
	srv, ln, _ := startServer(t, func(c *Config) { c.LogLevel = level })

	srv.Reload(&FileConfig{MaxKeepAliveRequests: 1, LogLevel: "debug"})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v", level.Level())
	}

	conn, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("GET /plaintext HTTP/1.1\r\n\r\nGET /plaintext HTTP/1.1\r\n\r\n"))
	out, _ := io.ReadAll(conn)
	if got := strings.Count(string(out), "Hello, World!"); got != 1 {
		t.Errorf("responses = %d, want 1 after reload", got)
	}
	if !strings.Contains(string(out), "Connection: close\r\n") {
		t.Error("reloaded request limit not applied")
	}
}

func TestServerMaxConcurrentConnections(t *testing.T) {
	srv, ln, _ := startServer(t, func(c *Config) { c.MaxConcurrentConnections = 1 })

	first, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	first.Write([]byte("GET /plaintext HTTP/1.1\r\n\r\n"))
	readUntil(t, first, "Hello, World!", 1)

	// The second connection is not accepted until the first slot is free.
	second := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Dial()
		if err != nil {
			second <- nil
			return
		}
		second <- c
	}()

	time.Sleep(50 * time.Millisecond)
	if got := srv.Stats().TotalConnections.Load(); got != 1 {
		t.Fatalf("accepted %d connections with a limit of 1", got)
	}

	first.Close()
	select {
	case c := <-second:
		if c == nil {
			t.Fatal("dial failed")
		}
		defer c.Close()
		c.Write([]byte("GET /plaintext HTTP/1.1\r\n\r\n"))
		readUntil(t, c, "Hello, World!", 1)
	case <-time.After(5 * time.Second):
		t.Fatal("second connection never accepted")
	}
	if srv.Stats().TotalConnections.Load() != 2 {
		t.Errorf("connections = %d", srv.Stats().TotalConnections.Load())
	}
}

func TestServerPerCPUPools(t *testing.T) {
	defer http11.SetPoolStrategy(http11.PoolStrategyStandard)

	_, ln, _ := startServer(t, func(c *Config) {
		c.PerCPUPools = true
		c.WarmupContexts = 4
		c.AllocationMode = ripple.AllocationPooled
	})

	conn, err := ln.Dial()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("GET /plaintext HTTP/1.1\r\nConnection: close\r\n\r\n"))
	out, _ := io.ReadAll(conn)
	if !strings.HasSuffix(string(out), "Hello, World!") {
		t.Errorf("response = %q", out)
	}
}

func TestStats(t *testing.T) {
	var s Stats
	s.StartTime = time.Now().Add(-2 * time.Second)
	s.TotalRequests.Store(100)
	s.TotalConnections.Store(10)

	if rps := s.RequestsPerSecond(); rps <= 0 || rps > 50 {
		t.Errorf("RequestsPerSecond = %v", rps)
	}
	if cps := s.ConnectionsPerSecond(); cps <= 0 || cps > 5 {
		t.Errorf("ConnectionsPerSecond = %v", cps)
	}
}

func BenchmarkServerPipelined(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Dispatcher = bench.Dispatcher{}
	cfg.Logger = quietLogger()
	srv, err := NewServer(cfg)
	if err != nil {
		b.Fatal(err)
	}
	ln := fasthttputil.NewInmemoryListener()
	go srv.Serve(ln)
	defer srv.Close()

	conn, err := ln.Dial()
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()

	const depth = 16
	raw := []byte(strings.Repeat("GET /plaintext HTTP/1.1\r\nHost: x\r\n\r\n", depth))
	buf := make([]byte, 64*1024)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(raw); err != nil {
			b.Fatal(err)
		}
		seen := 0
		for seen < depth {
			n, err := conn.Read(buf)
			if err != nil {
				b.Fatal(err)
			}
			seen += bytes.Count(buf[:n], []byte("Hello, World!"))
		}
	}
}
