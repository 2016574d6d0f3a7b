//go:build darwin

package transport

import (
	"time"

	"golang.org/x/sys/unix"
)

// Darwin exposes the keepalive idle time as TCP_KEEPALIVE rather than
// TCP_KEEPIDLE — mirroring the original Python client's
// hasattr(socket, 'TCP_KEEPIDLE') fallback to socket.TCP_KEEPALIVE.
// Interval and probe count use the same names as Linux.

func setKeepaliveIdle(fd uintptr, d time.Duration) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, int(d.Seconds()))
}

func setKeepaliveInterval(fd uintptr, d time.Duration) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(d.Seconds()))
}

func setKeepaliveProbes(fd uintptr, probes int) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, probes)
}
