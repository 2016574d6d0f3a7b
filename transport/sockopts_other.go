//go:build !linux && !darwin

package transport

import "time"

// Other platforms (Windows, BSDs without the Linux/Darwin keepalive
// knobs) don't expose per-probe tuning through a portable syscall
// constant set. SO_KEEPALIVE itself is still enabled by
// applyReliableSocketOptions; the idle/interval/probe fine-tuning is a
// best-effort no-op here rather than a fatal error, matching the
// reconnect loop's general tolerance for platform variance.

func setKeepaliveIdle(fd uintptr, d time.Duration) error     { return nil }
func setKeepaliveInterval(fd uintptr, d time.Duration) error { return nil }
func setKeepaliveProbes(fd uintptr, probes int) error        { return nil }
