//go:build !linux && !darwin

package socket

import "time"

// TCPInfo is empty on platforms without TCP_INFO.
type TCPInfo struct {
	State        uint8
	Retransmits  uint8
	RTT          time.Duration
	RTTVar       time.Duration
	SndCwnd      uint32
	TotalRetrans uint32
}

// applyConnOptions is a no-op on platforms without specific optimizations.
func applyConnOptions(uintptr, *Config) error {
	return nil
}

// applyListenerOptions is a no-op on platforms without specific optimizations.
func applyListenerOptions(uintptr, *Config) error {
	return nil
}

func tcpInfo(uintptr) (TCPInfo, error) {
	return TCPInfo{}, nil
}
