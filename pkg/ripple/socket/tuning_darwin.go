//go:build darwin

package socket

import (
	"time"

	"golang.org/x/sys/unix"
)

// TCPInfo is the subset of the kernel's tcp_info the server logs.
// Darwin only exposes TCP_CONNECTION_INFO, so it is left empty.
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

	// Writes to a peer that went away must fail with EPIPE instead of
	// killing the process.
	_ = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)

	if cfg.KeepAlive {
		_ = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		// TCP_KEEPALIVE is the idle time in seconds on Darwin
		_ = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, 60)
	}
	return nil
}

// Darwin has no TCP_DEFER_ACCEPT equivalent.
func applyListenerOptions(fd uintptr, cfg *Config) error {
	if cfg.FastOpen {
		return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 1)
	}
	return nil
}

func tcpInfo(uintptr) (TCPInfo, error) {
	return TCPInfo{}, nil
}
