package walsim

import (
	"slices"
	"sync"
)

// Mode is the tracking mode of a descriptor.
type Mode uint8

const (
	// ModeUntracked descriptors pass every operation straight through.
	ModeUntracked Mode = iota

	// ModeImmediate descriptors were opened with O_DSYNC (or O_SYNC). Writes
	// are delayed, then passed through.
	ModeImmediate

	// ModeBuffered descriptors accumulate writes in memory until the next
	// fsync, fdatasync or close.
	ModeBuffered
)

func (m Mode) String() string {
	switch m {
	case ModeUntracked:
		return "untracked"
	case ModeImmediate:
		return "immediate"
	case ModeBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// entry is the tracking state of one descriptor.
//
// buf is only used in [ModeBuffered]. It holds bytes acknowledged to the
// caller but not yet handed to the real write.
type entry struct {
	mode Mode
	buf  []byte
}

// registry maps open descriptors to their tracking state.
//
// mu is held for a single map operation only, never across real I/O or an
// induced delay.
type registry struct {
	mu  sync.Mutex
	fds map[int]*entry
}

func newRegistry() *registry {
	return &registry{fds: make(map[int]*entry)}
}

// track inserts a fresh entry for fd. It reports whether a stale entry for the
// same descriptor number was replaced.
func (r *registry) track(fd int, mode Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.fds[fd]
	r.fds[fd] = &entry{mode: mode}

	return replaced
}

// lookup returns fd's mode and number of pending buffered bytes.
func (r *registry) lookup(fd int) (Mode, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fds[fd]
	if !ok {
		return ModeUntracked, 0
	}

	return e.mode, len(e.buf)
}

// appendBuffered appends p to fd's buffer if fd is buffered. It returns fd's
// mode either way, so callers route the write with a single lock acquisition.
func (r *registry) appendBuffered(fd int, p []byte) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fds[fd]
	if !ok {
		return ModeUntracked
	}

	if e.mode == ModeBuffered {
		e.buf = append(e.buf, p...)
	}

	return e.mode
}

// drain takes ownership of fd's pending bytes, leaving the buffer empty.
// Returns nil when fd is not buffered or has nothing pending.
func (r *registry) drain(fd int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fds[fd]
	if !ok || e.mode != ModeBuffered || len(e.buf) == 0 {
		return nil
	}

	buf := e.buf
	e.buf = nil

	return buf
}

// remove deletes fd's entry and reports whether one existed.
func (r *registry) remove(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.fds[fd]
	delete(r.fds, fd)

	return ok
}

// discardPending empties every buffer and returns the number of bytes dropped.
func (r *registry) discardPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0

	for _, e := range r.fds {
		dropped += len(e.buf)
		e.buf = nil
	}

	return dropped
}

// tracked returns the tracked descriptors in ascending order.
func (r *registry) tracked() []int {
	r.mu.Lock()
	fds := make([]int, 0, len(r.fds))

	for fd := range r.fds {
		fds = append(fds, fd)
	}
	r.mu.Unlock()

	slices.Sort(fds)

	return fds
}
