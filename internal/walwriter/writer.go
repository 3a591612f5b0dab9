package walwriter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/fs"
)

// SyncMethod selects how [Writer.Sync] makes appended records durable.
type SyncMethod string

const (
	// SyncFsync calls fsync after appending.
	SyncFsync SyncMethod = "fsync"

	// SyncFdatasync calls fdatasync after appending.
	SyncFdatasync SyncMethod = "fdatasync"

	// SyncOpenDatasync opens the segment with O_DSYNC, so every write is
	// durable when it returns and Sync has nothing to do.
	SyncOpenDatasync SyncMethod = "open_datasync"
)

// ParseSyncMethod parses a wal_sync_method name.
func ParseSyncMethod(s string) (SyncMethod, error) {
	switch m := SyncMethod(s); m {
	case SyncFsync, SyncFdatasync, SyncOpenDatasync:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSyncMethod, s)
	}
}

// ErrInvalidSyncMethod is returned for an unknown [SyncMethod].
var ErrInvalidSyncMethod = errors.New("walwriter: invalid sync method")

// ErrClosed is returned by operations on a closed [Writer].
var ErrClosed = errors.New("walwriter: writer closed")

// ErrLocked is returned by [Create] when another writer holds the segment.
var ErrLocked = errors.New("walwriter: segment is locked by another writer")

// LockSuffix is appended to a segment path to name its lock file.
const LockSuffix = ".lock"

// Options configure a [Writer].
type Options struct {
	// Sync is the durability method. Empty means [SyncFsync].
	Sync SyncMethod

	// Logger receives debug tracing. Nil discards it.
	Logger logrus.FieldLogger
}

// Writer appends framed records to one segment file.
//
// Writer is safe for concurrent use; appends and syncs are serialized.
type Writer struct {
	path   string
	method SyncMethod
	log    logrus.FieldLogger

	mu     sync.Mutex
	f      fs.File
	lock   *fs.Lock
	lsn    uint64
	synced uint64
	closed bool
}

// Create creates (or truncates) the segment at path on fsys.
//
// The writer holds an exclusive lock on path+[LockSuffix] until it is closed,
// so a second writer for the same segment fails with [ErrLocked].
func Create(fsys fs.FS, path string, opts Options) (*Writer, error) {
	if fsys == nil {
		panic("walwriter: fsys is nil")
	}

	method := opts.Sync
	if method == "" {
		method = SyncFsync
	}

	if _, err := ParseSyncMethod(string(method)); err != nil {
		return nil, err
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if method == SyncOpenDatasync {
		flag |= unix.O_DSYNC
	}

	lock, err := fs.NewLocker(fsys).TryLock(path + LockSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}

		return nil, fmt.Errorf("walwriter: lock segment: %w", err)
	}

	f, err := fsys.OpenFile(path, flag, 0o600)
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("walwriter: create segment: %w", err)
	}

	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Writer{
		path:   path,
		method: method,
		log:    log.WithFields(logrus.Fields{"segment": path, "sync": method}),
		f:      f,
		lock:   lock,
	}, nil
}

// Append writes payload as one frame and returns its 1-based sequence number.
// The record is durable only after the next [Writer.Sync], unless the sync
// method is [SyncOpenDatasync].
func (w *Writer) Append(payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyRecord
	}

	if len(payload) > MaxRecordSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
	}

	frame := encodeFrame(payload)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	if _, err := w.f.Write(frame); err != nil {
		return 0, fmt.Errorf("walwriter: append: %w", err)
	}

	w.lsn++

	if w.method == SyncOpenDatasync {
		w.synced = w.lsn
	}

	return w.lsn, nil
}

// Sync makes every appended record durable.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	var err error

	switch w.method {
	case SyncFsync:
		err = w.f.Sync()
	case SyncFdatasync:
		err = fs.Datasync(w.f)
	case SyncOpenDatasync:
	}

	if err != nil {
		return fmt.Errorf("walwriter: sync: %w", err)
	}

	w.log.WithFields(logrus.Fields{"from": w.synced, "to": w.lsn}).Debug("segment synced")
	w.synced = w.lsn

	return nil
}

// Commit appends payload and syncs.
func (w *Writer) Commit(payload []byte) (uint64, error) {
	lsn, err := w.Append(payload)
	if err != nil {
		return 0, err
	}

	if err := w.Sync(); err != nil {
		return 0, err
	}

	return lsn, nil
}

// LSN returns the sequence number of the last appended record.
func (w *Writer) LSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.lsn
}

// Synced returns the sequence number of the last record known durable.
func (w *Writer) Synced() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.synced
}

// Path returns the segment path.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the segment without syncing it and releases its lock.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	w.closed = true

	closeErr := w.f.Close()
	unlockErr := w.lock.Close()

	if closeErr != nil {
		return fmt.Errorf("walwriter: close: %w", closeErr)
	}

	if unlockErr != nil {
		return fmt.Errorf("walwriter: release lock: %w", unlockErr)
	}

	return nil
}

// Recover reads the segment at path and decodes its valid frame prefix.
// A torn tail is not an error; it is reported in [Recovered.Tail].
func Recover(fsys fs.FS, path string, log logrus.FieldLogger) (Recovered, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Recovered{}, fmt.Errorf("walwriter: read segment: %w", err)
	}

	res := Decode(data)

	if res.Tail != nil && log != nil {
		log.WithFields(logrus.Fields{
			"segment": path,
			"records": len(res.Records),
			"valid":   res.ValidBytes,
			"torn":    res.TornBytes,
		}).Warn(res.Tail.Error())
	}

	return res, nil
}

// segmentNameLen is the length of a segment file name: timeline, log and
// segment number as 8 hex digits each.
const segmentNameLen = 24

// Segments lists the segment files in dir in name order. Lock files and
// anything else not named like a segment are skipped.
func Segments(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("walwriter: list segments: %w", err)
	}

	var names []string

	for _, e := range entries {
		if e.Type().IsRegular() && isSegmentName(e.Name()) {
			names = append(names, e.Name())
		}
	}

	return names, nil
}

func isSegmentName(name string) bool {
	if len(name) != segmentNameLen {
		return false
	}

	for _, c := range name {
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}

	return true
}
