package sysio

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often Open fails before reaching the wrapped
	// [Calls]. Write-capable opens draw from EACCES, EIO, ENOSPC, EDQUOT, EROFS,
	// EMFILE, ENFILE; read-only opens from EACCES, EIO, EMFILE, ENFILE.
	OpenFailRate float64

	// WriteFailRate controls how often Write fails entirely, returning -1 and
	// EIO, ENOSPC, EDQUOT or EROFS. No bytes reach the wrapped [Calls].
	WriteFailRate float64

	// PartialWriteRate controls how often Write hands only a prefix of the
	// buffer to the wrapped [Calls] and reports the short count with a nil
	// error, like write(2) does when the device fills up mid-call.
	PartialWriteRate float64

	// SeekFailRate controls how often Seek fails with EIO.
	SeekFailRate float64

	// SyncFailRate controls how often Fsync and Fdatasync fail with EIO,
	// ENOSPC, EDQUOT or EROFS. The wrapped sync is not called.
	SyncFailRate float64

	// CloseFailRate controls how often Close reports EIO. The descriptor is
	// always closed by the wrapped [Calls] first so tests don't leak fds.
	CloseFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every call directly to the wrapped [Calls].
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	WriteFails    int64
	PartialWrites int64
	SeekFails     int64
	SyncFails     int64
	CloseFails    int64
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps a [unix.Errno] so errors.Is(err, unix.EIO) keeps working.
type chaosError struct {
	Op  Op
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + string(e.Op) + ": " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps a [Calls] and injects random errno failures for testing.
//
// Chaos never injects EINTR or ENOENT, and never reports more bytes than it
// was given. Injected errors are marked so tests can tell them apart from real
// OS errors with [IsChaosErr].
type Chaos struct {
	calls  Calls
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex

	openFails     atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	seekFails     atomic.Int64
	syncFails     atomic.Int64
	closeFails    atomic.Int64
}

// NewChaos creates a new [Chaos] wrapping calls.
// The seed controls random fault injection for reproducibility.
// Panics if calls is nil.
func NewChaos(calls Calls, seed int64, config *ChaosConfig) *Chaos {
	if calls == nil {
		panic("sysio: chaos: calls is nil")
	}

	return &Chaos{
		calls:  calls,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: *config,
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with I/O.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		SeekFails:     c.seekFails.Load(),
		SyncFails:     c.syncFails.Load(),
		CloseFails:    c.closeFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.WriteFails + s.PartialWrites + s.SeekFails + s.SyncFails + s.CloseFails
}

func (c *Chaos) Open(path string, flag int, perm uint32) (int, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		// EACCES: permission denied
		// EIO: I/O error
		// EMFILE/ENFILE: per-process / system-wide fd limit
		errnos := []unix.Errno{unix.EACCES, unix.EIO, unix.EMFILE, unix.ENFILE}
		if acc := flag & unix.O_ACCMODE; acc == unix.O_WRONLY || acc == unix.O_RDWR {
			// ENOSPC/EDQUOT: no space / quota exceeded
			// EROFS: read-only filesystem
			errnos = append(errnos, unix.ENOSPC, unix.EDQUOT, unix.EROFS)
		}

		return -1, &chaosError{Op: OpOpen, Err: c.pick(errnos)}
	}

	return c.calls.Open(path, flag, perm)
}

func (c *Chaos) Write(fd int, p []byte) (int, error) {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return -1, &chaosError{Op: OpWrite, Err: c.pick(writeErrnos)}
	}

	if len(p) > 1 && c.should(c.config.PartialWriteRate) {
		c.partialWrites.Add(1)
		cutoff := c.randIntn(len(p)-1) + 1 // [1, len(p)-1]

		return c.calls.Write(fd, p[:cutoff])
	}

	return c.calls.Write(fd, p)
}

func (c *Chaos) Seek(fd int, offset int64, whence int) (int64, error) {
	if c.should(c.config.SeekFailRate) {
		c.seekFails.Add(1)

		return -1, &chaosError{Op: OpSeek, Err: unix.EIO}
	}

	return c.calls.Seek(fd, offset, whence)
}

func (c *Chaos) Close(fd int) error {
	inject := c.should(c.config.CloseFailRate)

	// Always close the wrapped descriptor to avoid leaks.
	err := c.calls.Close(fd)
	if err != nil {
		return err
	}

	if inject {
		c.closeFails.Add(1)

		return &chaosError{Op: OpClose, Err: unix.EIO}
	}

	return nil
}

func (c *Chaos) Fsync(fd int) error {
	if c.should(c.config.SyncFailRate) {
		c.syncFails.Add(1)

		return &chaosError{Op: OpFsync, Err: c.pick(writeErrnos)}
	}

	return c.calls.Fsync(fd)
}

func (c *Chaos) Fdatasync(fd int) error {
	if c.should(c.config.SyncFailRate) {
		c.syncFails.Add(1)

		return &chaosError{Op: OpFdatasync, Err: c.pick(writeErrnos)}
	}

	return c.calls.Fdatasync(fd)
}

var _ Calls = (*Chaos)(nil)

// writeErrnos are the errnos injected for writes and syncs.
//
// EIO: I/O error (device/filesystem failure)
// ENOSPC: no space left on device
// EDQUOT: disk quota exceeded
// EROFS: read-only filesystem
var writeErrnos = []unix.Errno{unix.EIO, unix.ENOSPC, unix.EDQUOT, unix.EROFS}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeActive {
		return false
	}

	return c.randFloat() < rate
}

func (c *Chaos) randFloat() float64 {
	c.rngMu.Lock()
	result := c.rng.Float64()
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	result := c.rng.IntN(n)
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) pick(errnos []unix.Errno) unix.Errno {
	return errnos[c.randIntn(len(errnos))]
}
