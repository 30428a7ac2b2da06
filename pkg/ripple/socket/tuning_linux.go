//go:build linux

package socket

import (
	"time"

	"golang.org/x/sys/unix"
)

// Listener and keepalive parameters
const (
	// deferAcceptSeconds bounds how long an idle handshake waits for data
	deferAcceptSeconds = 5

	// fastOpenQueue is the pending TFO queue length
	fastOpenQueue = 256

	// userTimeoutMillis bounds retransmission of unacknowledged data
	userTimeoutMillis = 10000

	keepIdleSeconds     = 60
	keepIntervalSeconds = 10
	keepProbes          = 3
)

// TCPInfo is the subset of the kernel's tcp_info the server logs.
type TCPInfo struct {
	State        uint8
	Retransmits  uint8
	RTT          time.Duration
	RTTVar       time.Duration
	SndCwnd      uint32
	TotalRetrans uint32
}

func applyConnOptions(fd uintptr, cfg *Config) error {
	s := int(fd)

	if cfg.NoDelay {
		if err := unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return err
		}
	}
	if cfg.RecvBuffer > 0 {
		_ = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
	}
	if cfg.SendBuffer > 0 {
		_ = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer)
	}

	// TCP_QUICKACK is not persistent; the kernel clears it after the next
	// delayed-ACK decision. Setting it once covers the first request.
	if cfg.QuickAck {
		_ = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}

	_ = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, userTimeoutMillis)

	if cfg.KeepAlive {
		_ = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, keepIdleSeconds)
		_ = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, keepIntervalSeconds)
		_ = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepProbes)
	}
	return nil
}

func applyListenerOptions(fd uintptr, cfg *Config) error {
	s := int(fd)
	var lastErr error

	if cfg.DeferAccept {
		if err := unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, deferAcceptSeconds); err != nil {
			lastErr = err
		}
	}
	// TFO may be disabled by net.ipv4.tcp_fastopen; the error is reported
	// but the listener stays usable.
	if cfg.FastOpen {
		if err := unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, fastOpenQueue); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func tcpInfo(fd uintptr) (TCPInfo, error) {
	ti, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return TCPInfo{}, err
	}
	return TCPInfo{
		State:        ti.State,
		Retransmits:  ti.Retransmits,
		RTT:          time.Duration(ti.Rtt) * time.Microsecond,
		RTTVar:       time.Duration(ti.Rttvar) * time.Microsecond,
		SndCwnd:      ti.Snd_cwnd,
		TotalRetrans: ti.Total_retrans,
	}, nil
}
