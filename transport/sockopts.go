package transport

import (
	"fmt"
	"syscall"
	"time"
)

// keepaliveIdle, keepaliveInterval, keepaliveProbes, and lingerSeconds
// are the fixed socket-level tuning values the reliable transport
// requires on connect (spec §4.2 "Socket configuration").
const (
	keepaliveIdle     = 1 * time.Second
	keepaliveInterval = 1 * time.Second
	keepaliveProbes   = 5
	lingerSeconds     = 5
)

// applyReliableSocketOptions is run (via net.Dialer.Control) on the raw
// file descriptor before connect(2) completes. It enables TCP
// keepalive, disables Nagle's algorithm, sets SO_LINGER, and bounds the
// send buffer so CPX packets are neither delayed nor allowed to queue
// up past sendBufferSize bytes.
func applyReliableSocketOptions(fd uintptr, sendBufferSize int) error {
	if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("SO_KEEPALIVE: %w", err)
	}

	if err := setKeepaliveIdle(fd, keepaliveIdle); err != nil {
		return fmt.Errorf("keepalive idle: %w", err)
	}

	if err := setKeepaliveInterval(fd, keepaliveInterval); err != nil {
		return fmt.Errorf("keepalive interval: %w", err)
	}

	if err := setKeepaliveProbes(fd, keepaliveProbes); err != nil {
		return fmt.Errorf("keepalive probes: %w", err)
	}

	linger := syscall.Linger{Onoff: 1, Linger: lingerSeconds}
	if err := syscall.SetsockoptLinger(int(fd), syscall.SOL_SOCKET, syscall.SO_LINGER, &linger); err != nil {
		return fmt.Errorf("SO_LINGER: %w", err)
	}

	if err := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("TCP_NODELAY: %w", err)
	}

	if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBufferSize); err != nil {
		return fmt.Errorf("SO_SNDBUF: %w", err)
	}

	return nil
}
