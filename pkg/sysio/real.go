package sysio

import (
	"golang.org/x/sys/unix"
)

// Real implements [Calls] with direct system calls.
//
// Every method is a single passthrough to [golang.org/x/sys/unix] with
// identical results. Nothing is retried, including EINTR.
type Real struct{}

// A passthrough wrapper for [unix.Open].
func (Real) Open(path string, flag int, perm uint32) (int, error) {
	return unix.Open(path, flag, perm)
}

// A passthrough wrapper for [unix.Write].
func (Real) Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

// A passthrough wrapper for [unix.Seek].
func (Real) Seek(fd int, offset int64, whence int) (int64, error) {
	return unix.Seek(fd, offset, whence)
}

// A passthrough wrapper for [unix.Close].
func (Real) Close(fd int) error {
	return unix.Close(fd)
}

// A passthrough wrapper for [unix.Fsync].
func (Real) Fsync(fd int) error {
	return unix.Fsync(fd)
}

// Fdatasync flushes file data. See fdatasync_linux.go and fdatasync_other.go.
func (Real) Fdatasync(fd int) error {
	return fdatasync(fd)
}

// Compile-time interface check.
var _ Calls = Real{}
