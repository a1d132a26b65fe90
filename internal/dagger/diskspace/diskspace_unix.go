//go:build linux || darwin || freebsd

package diskspace

import (
	"strings"

	"golang.org/x/sys/unix"
)

// AvailableBytes returns the space available to unprivileged users on the
// filesystem holding path, or 0 when it cannot be determined.
func AvailableBytes(path string) uint64 {
	if strings.TrimSpace(path) == "" {
		return 0
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0
	}
	//nolint:gosec,unconvert // Bsize is positive on every supported platform.
	return uint64(st.Bavail) * uint64(st.Bsize)
}
