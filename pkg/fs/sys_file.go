package fs

import (
	"errors"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// sysFile is a [File] over a raw descriptor opened by [Sys].
type sysFile struct {
	fd     int
	name   string
	closed atomic.Bool
}

func newSysFile(fd int, name string) *sysFile {
	return &sysFile{fd: fd, name: name}
}

func (f *sysFile) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, f.wrap("read", os.ErrClosed)
	}

	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(f.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return 0, f.wrap("read", err)
		}

		if n == 0 {
			return 0, io.EOF
		}

		return n, nil
	}
}

// Write writes all of p through [sysio.Write], retrying short writes.
func (f *sysFile) Write(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, f.wrap("write", os.ErrClosed)
	}

	written := 0

	for written < len(p) {
		n, err := sysio.Write(f.fd, p[written:])
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return written, f.wrap("write", err)
		}

		if n <= 0 {
			return written, f.wrap("write", io.ErrShortWrite)
		}

		written += n
	}

	return written, nil
}

func (f *sysFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed.Load() {
		return 0, f.wrap("seek", os.ErrClosed)
	}

	pos, err := sysio.Seek(f.fd, offset, whence)
	if err != nil {
		return 0, f.wrap("seek", err)
	}

	return pos, nil
}

func (f *sysFile) Sync() error {
	if f.closed.Load() {
		return f.wrap("sync", os.ErrClosed)
	}

	if err := sysio.Fsync(f.fd); err != nil {
		return f.wrap("sync", err)
	}

	return nil
}

// Datasync implements [Datasyncer] with [sysio.Fdatasync].
func (f *sysFile) Datasync() error {
	if f.closed.Load() {
		return f.wrap("datasync", os.ErrClosed)
	}

	if err := sysio.Fdatasync(f.fd); err != nil {
		return f.wrap("datasync", err)
	}

	return nil
}

// Close closes the descriptor through [sysio.Close]. Like [os.File.Close], a
// second call returns an error wrapping [os.ErrClosed].
func (f *sysFile) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return f.wrap("close", os.ErrClosed)
	}

	if err := sysio.Close(f.fd); err != nil {
		return f.wrap("close", err)
	}

	return nil
}

func (f *sysFile) Fd() uintptr {
	return uintptr(f.fd)
}

// Stat stats a duplicate of the descriptor so the result matches [os.File.Stat]
// without handing ownership of f's descriptor to an [os.File].
func (f *sysFile) Stat() (os.FileInfo, error) {
	if f.closed.Load() {
		return nil, f.wrap("stat", os.ErrClosed)
	}

	dup, err := unix.Dup(f.fd)
	if err != nil {
		return nil, f.wrap("stat", err)
	}

	osf := os.NewFile(uintptr(dup), f.name)
	defer func() { _ = osf.Close() }()

	return osf.Stat()
}

func (f *sysFile) Chmod(mode os.FileMode) error {
	if f.closed.Load() {
		return f.wrap("chmod", os.ErrClosed)
	}

	if err := unix.Fchmod(f.fd, uint32(mode.Perm())); err != nil {
		return f.wrap("chmod", err)
	}

	return nil
}

func (f *sysFile) wrap(op string, err error) error {
	return &os.PathError{Op: op, Path: f.name, Err: err}
}

var (
	_ File       = (*sysFile)(nil)
	_ Datasyncer = (*sysFile)(nil)
)
