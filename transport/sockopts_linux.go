//go:build linux

package transport

import (
	"time"

	"golang.org/x/sys/unix"
)

// On Linux the keepalive idle time, probe interval, and probe count are
// all independently tunable via TCP_KEEPIDLE/TCP_KEEPINTVL/TCP_KEEPCNT.

func setKeepaliveIdle(fd uintptr, d time.Duration) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(d.Seconds()))
}

func setKeepaliveInterval(fd uintptr, d time.Duration) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(d.Seconds()))
}

func setKeepaliveProbes(fd uintptr, probes int) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, probes)
}
