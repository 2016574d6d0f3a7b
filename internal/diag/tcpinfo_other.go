//go:build !linux

package diag

import "errors"

// GetTCPInfo is only implemented on Linux; other platforms don't expose
// a portable TCP_INFO layout through golang.org/x/sys/unix. Callers
// treat a non-nil error as "diagnostics unavailable" and continue
// without them — this never affects CPX protocol correctness.
func GetTCPInfo(fd uintptr) (*Snapshot, error) {
	return nil, errors.New("diag: TCP_INFO snapshot not supported on this platform")
}
