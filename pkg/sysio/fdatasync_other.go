//go:build unix && !linux

package sysio

import "golang.org/x/sys/unix"

// fdatasync falls back to fsync where the platform has no fdatasync.
// On macOS fsync already behaves like fdatasync.
func fdatasync(fd int) error {
	return unix.Fsync(fd)
}
