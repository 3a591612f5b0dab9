// Package sysio is the file-descriptor-level I/O boundary that interception
// layers plug into.
//
// Code that wants its I/O to be interceptable calls the package-level
// dispatchers ([Open], [Write], [Seek], [Close], [Fsync], [Fdatasync]) instead
// of calling the OS directly. By default the dispatchers forward to [Real].
// [Install] swaps in a handler for all six operations process-wide; the
// handler reaches the OS through [Unintercepted].
//
// The main types are:
//   - [Calls]: the raw fd-level contract (errors are [unix.Errno] values)
//   - [Real]: the unintercepted implementation
//   - [Chaos]: a testing wrapper that injects errno faults
//
// Example:
//
//	layer, _ := walsim.New(sysio.Unintercepted(), nil)
//	restore := sysio.Install(layer)
//	defer restore()
//
//	fd, err := sysio.Open("/data/pg_xlog/000001", unix.O_WRONLY, 0)
package sysio

import (
	"sync/atomic"
)

// Op names an interceptable operation.
type Op string

// Interceptable operations.
const (
	OpOpen      Op = "open"
	OpWrite     Op = "write"
	OpSeek      Op = "lseek"
	OpClose     Op = "close"
	OpFsync     Op = "fsync"
	OpFdatasync Op = "fdatasync"
)

// Calls is the fd-level I/O contract shared by the real implementation and by
// interception handlers.
//
// Results mirror the system calls: a failed call returns a non-nil error
// (normally a [unix.Errno]) and whatever count the OS reported.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Calls interface {
	// Open opens path and returns the new descriptor. See open(2).
	Open(path string, flag int, perm uint32) (int, error)

	// Write writes p to fd and returns the number of bytes written. See write(2).
	// A short count with a nil error is a valid result.
	Write(fd int, p []byte) (int, error)

	// Seek repositions fd and returns the resulting offset. See lseek(2).
	Seek(fd int, offset int64, whence int) (int64, error)

	// Close closes fd. See close(2).
	Close(fd int) error

	// Fsync flushes fd's data and metadata to stable storage. See fsync(2).
	Fsync(fd int) error

	// Fdatasync flushes fd's data to stable storage. See fdatasync(2).
	Fdatasync(fd int) error
}

type handler struct {
	calls Calls
}

var installed atomic.Pointer[handler]

// Install registers h as the handler for every interceptable operation and
// returns a function that reinstates the previously installed handler.
//
// Passing nil removes any handler so dispatchers go straight to [Real].
//
// The handler is global to the process. Tests that install one must not run
// in parallel with other tests that dispatch through this package.
func Install(h Calls) (restore func()) {
	var next *handler
	if h != nil {
		next = &handler{calls: h}
	}

	prev := installed.Swap(next)

	return func() {
		installed.Store(prev)
	}
}

// Installed returns the currently installed handler, or nil.
func Installed() Calls {
	if h := installed.Load(); h != nil {
		return h.calls
	}

	return nil
}

// Unintercepted returns the real implementation, bypassing any installed
// handler. Handlers use it to call through to the OS.
func Unintercepted() Calls {
	return Real{}
}

func current() Calls {
	if h := installed.Load(); h != nil {
		return h.calls
	}

	return Real{}
}

// Open dispatches [Calls.Open] to the installed handler.
func Open(path string, flag int, perm uint32) (int, error) {
	return current().Open(path, flag, perm)
}

// Write dispatches [Calls.Write] to the installed handler.
func Write(fd int, p []byte) (int, error) {
	return current().Write(fd, p)
}

// Seek dispatches [Calls.Seek] to the installed handler.
func Seek(fd int, offset int64, whence int) (int64, error) {
	return current().Seek(fd, offset, whence)
}

// Close dispatches [Calls.Close] to the installed handler.
func Close(fd int) error {
	return current().Close(fd)
}

// Fsync dispatches [Calls.Fsync] to the installed handler.
func Fsync(fd int) error {
	return current().Fsync(fd)
}

// Fdatasync dispatches [Calls.Fdatasync] to the installed handler.
func Fdatasync(fd int) error {
	return current().Fdatasync(fd)
}
