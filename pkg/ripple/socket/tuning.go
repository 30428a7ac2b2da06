// Package socket provides cross-platform socket tuning and optimizations.
//
// Latency-critical socket options are applied to every accepted connection
// and to the listener. Platform-specific options are in tuning_linux.go and
// tuning_darwin.go; other platforms only get what the net package offers.
package socket

import (
	"errors"
	"net"
	"syscall"
)

// Config represents socket tuning configuration.
// Zero values mean "use system defaults".
type Config struct {
	// TCP_NODELAY - Disable Nagle's algorithm for low latency.
	// Pipelined responses are flushed in one write, so Nagle only adds delay.
	// Default: true
	NoDelay bool `json:"no_delay"`

	// SO_RCVBUF - Receive buffer size in bytes
	// Default: 0 (use system default)
	RecvBuffer int `json:"recv_buffer"`

	// SO_SNDBUF - Send buffer size in bytes
	// Default: 0 (use system default)
	SendBuffer int `json:"send_buffer"`

	// TCP_QUICKACK - Send immediate ACKs (Linux only)
	// Default: true
	QuickAck bool `json:"quick_ack"`

	// TCP_DEFER_ACCEPT - Don't wake the accept loop until data arrives (Linux only)
	// Default: true
	DeferAccept bool `json:"defer_accept"`

	// TCP_FASTOPEN - Enable TCP Fast Open on the listener (Linux, Darwin)
	// Default: true
	FastOpen bool `json:"fast_open"`

	// SO_KEEPALIVE - Enable TCP keepalive probes
	// Default: true
	KeepAlive bool `json:"keep_alive"`
}

// DefaultConfig returns the recommended configuration for HTTP workloads.
func DefaultConfig() *Config {
	return &Config{
		NoDelay:     true,
		RecvBuffer:  256 * 1024,
		SendBuffer:  256 * 1024,
		QuickAck:    true,
		DeferAccept: true,
		FastOpen:    true,
		KeepAlive:   true,
	}
}

// HighThroughputConfig returns configuration optimized for maximum throughput.
func HighThroughputConfig() *Config {
	return &Config{
		NoDelay:     true,
		RecvBuffer:  1024 * 1024,
		SendBuffer:  1024 * 1024,
		QuickAck:    false, // Allow delayed ACKs for throughput
		DeferAccept: true,
		FastOpen:    true,
		KeepAlive:   true,
	}
}

// LowLatencyConfig returns configuration optimized for minimum latency.
func LowLatencyConfig() *Config {
	return &Config{
		NoDelay:     true,
		RecvBuffer:  128 * 1024,
		SendBuffer:  128 * 1024,
		QuickAck:    true,
		DeferAccept: false, // Don't delay connection acceptance
		FastOpen:    true,
		KeepAlive:   true,
	}
}

// ErrNotTCP is returned by Info for connections without a TCP socket.
var ErrNotTCP = errors.New("socket: not a TCP connection")

// Apply applies socket tuning options to an accepted connection.
// Connections that are not backed by a socket (pipes, in-memory listeners)
// are left untouched. Only a TCP_NODELAY failure is reported; the remaining
// options are best effort.
func Apply(conn net.Conn, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var optErr error
	if err := raw.Control(func(fd uintptr) {
		optErr = applyConnOptions(fd, cfg)
	}); err != nil {
		return err
	}
	return optErr
}

// ApplyListener applies listener-level options such as TCP_DEFER_ACCEPT and
// TCP_FASTOPEN. They must be set before the first Accept.
func ApplyListener(ln net.Listener, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var optErr error
	if err := raw.Control(func(fd uintptr) {
		optErr = applyListenerOptions(fd, cfg)
	}); err != nil {
		return err
	}
	return optErr
}

// Info returns kernel statistics for a TCP connection. Platforms without
// TCP_INFO return a zero TCPInfo.
func Info(conn net.Conn) (TCPInfo, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return TCPInfo{}, ErrNotTCP
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return TCPInfo{}, err
	}

	var info TCPInfo
	var infoErr error
	if err := raw.Control(func(fd uintptr) {
		info, infoErr = tcpInfo(fd)
	}); err != nil {
		return TCPInfo{}, err
	}
	return info, infoErr
}
