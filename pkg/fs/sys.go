package fs

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Sys implements [FS] on top of [sysio].
//
// Files opened by Sys perform their open, write, seek, sync and close calls
// through the [sysio] dispatchers, so whatever handler is installed there
// observes and may alter them. With no handler installed they behave like
// [os.File]. Reads, stat and chmod go straight to the OS.
//
// Directory and metadata operations are pure passthroughs to the [os]
// package. The only exception is [Sys.Exists] which wraps [os.Stat].
type Sys struct{}

// NewSys returns a new [Sys] filesystem.
func NewSys() *Sys {
	return &Sys{}
}

// Open opens path read-only through [sysio.Open]. See [os.Open].
func (s *Sys) Open(path string) (File, error) {
	return s.OpenFile(path, os.O_RDONLY, 0)
}

// Create creates or truncates path through [sysio.Open]. See [os.Create].
func (s *Sys) Create(path string) (File, error) {
	return s.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// OpenFile opens path through [sysio.Open]. See [os.OpenFile].
//
// The descriptor is always opened close-on-exec. Errors are [*os.PathError]
// wrapping the errno.
func (s *Sys) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	fd, err := sysio.Open(path, flag|unix.O_CLOEXEC, uint32(perm.Perm()))
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	return newSysFile(fd, path), nil
}

// A passthrough wrapper for [os.ReadFile].
func (s *Sys) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data through a [Sys] file. See [os.WriteFile].
//
// Like [os.WriteFile] it neither syncs nor is atomic. Under an installed
// walsim.Layer a WAL path's data may therefore still be pending when
// WriteFile returns; Close hands it to the file.
func (s *Sys) WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := s.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	_, err = f.Write(data)

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	return err
}

// --- Directory Operations ---

// A passthrough wrapper for [os.ReadDir].
func (s *Sys) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

// A passthrough wrapper for [os.MkdirAll].
func (s *Sys) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// --- Metadata ---

// A passthrough wrapper for [os.Stat].
func (s *Sys) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Exists checks if a file exists using [os.Stat].
// Returns (true, nil) if the file exists, (false, nil) if it does not,
// or (false, err) for other errors.
func (s *Sys) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// --- Mutations ---

// A passthrough wrapper for [os.RemoveAll].
func (s *Sys) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Compile-time interface check.
var _ FS = (*Sys)(nil)
