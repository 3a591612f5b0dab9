package walsim_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/sysio"
	"github.com/calvinalkan/walsim/pkg/walsim"
)

const testDelay = 10 * time.Second

// realCall is one call that reached the "real" side of a layer.
type realCall struct {
	Op     sysio.Op
	FD     int
	Path   string
	Data   string
	Offset int64
	Whence int
}

// spyCalls records every call that reaches it.
//
// With inner set, calls are forwarded to inner. Otherwise it simulates a
// descriptor table that hands out the lowest free descriptor >= 3, like the
// OS does, and succeeds without I/O.
type spyCalls struct {
	inner sysio.Calls

	mu    sync.Mutex
	calls []realCall
	open  map[int]bool

	// writeFn overrides the write result when set.
	writeFn func(fd int, p []byte) (int, error)
	// openFD forces the descriptor returned by the next opens when > 0.
	openFD int

	openErr  error
	seekErr  error
	syncErr  error
	closeErr error
}

func newSpy() *spyCalls {
	return &spyCalls{open: make(map[int]bool)}
}

func newRealSpy() *spyCalls {
	s := newSpy()
	s.inner = sysio.Unintercepted()

	return s
}

func (s *spyCalls) record(c realCall) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *spyCalls) Open(path string, flag int, perm uint32) (int, error) {
	s.record(realCall{Op: sysio.OpOpen, Path: path})

	if s.inner != nil {
		return s.inner.Open(path, flag, perm)
	}

	if s.openErr != nil {
		return -1, s.openErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openFD > 0 {
		s.open[s.openFD] = true

		return s.openFD, nil
	}

	fd := 3
	for s.open[fd] {
		fd++
	}

	s.open[fd] = true

	return fd, nil
}

func (s *spyCalls) Write(fd int, p []byte) (int, error) {
	s.record(realCall{Op: sysio.OpWrite, FD: fd, Data: string(p)})

	if s.writeFn != nil {
		return s.writeFn(fd, p)
	}

	if s.inner != nil {
		return s.inner.Write(fd, p)
	}

	return len(p), nil
}

func (s *spyCalls) Seek(fd int, offset int64, whence int) (int64, error) {
	s.record(realCall{Op: sysio.OpSeek, FD: fd, Offset: offset, Whence: whence})

	if s.inner != nil {
		return s.inner.Seek(fd, offset, whence)
	}

	if s.seekErr != nil {
		return -1, s.seekErr
	}

	return offset, nil
}

func (s *spyCalls) Close(fd int) error {
	s.record(realCall{Op: sysio.OpClose, FD: fd})

	if s.inner != nil {
		return s.inner.Close(fd)
	}

	s.mu.Lock()
	delete(s.open, fd)
	s.mu.Unlock()

	return s.closeErr
}

func (s *spyCalls) Fsync(fd int) error {
	s.record(realCall{Op: sysio.OpFsync, FD: fd})

	if s.inner != nil {
		return s.inner.Fsync(fd)
	}

	return s.syncErr
}

func (s *spyCalls) Fdatasync(fd int) error {
	s.record(realCall{Op: sysio.OpFdatasync, FD: fd})

	if s.inner != nil {
		return s.inner.Fdatasync(fd)
	}

	return s.syncErr
}

func (s *spyCalls) snapshot() []realCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]realCall(nil), s.calls...)
}

// writes returns the data of every real write to fd, in order.
func (s *spyCalls) writes(fd int) []string {
	var out []string

	for _, c := range s.snapshot() {
		if c.Op == sysio.OpWrite && c.FD == fd {
			out = append(out, c.Data)
		}
	}

	return out
}

func (s *spyCalls) count(op sysio.Op) int {
	n := 0

	for _, c := range s.snapshot() {
		if c.Op == op {
			n++
		}
	}

	return n
}

func (s *spyCalls) reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// sleepClock records induced delays and returns immediately.
type sleepClock struct {
	clock.Clock

	mu     sync.Mutex
	sleeps []time.Duration

	// onSleep runs inside Sleep, before it returns.
	onSleep func()
}

func newSleepClock() *sleepClock {
	return &sleepClock{Clock: clock.NewClock()}
}

func (c *sleepClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (c *sleepClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sleeps)
}

type testLayer struct {
	*walsim.Layer

	spy   *spyCalls
	clock *sleepClock
	logs  *logtest.Hook
}

// mustNewLayer builds a layer over spy with a recording clock and a null
// logger at debug level. cfg may be nil.
func mustNewLayer(t *testing.T, spy *spyCalls, cfg *walsim.Config) *testLayer {
	t.Helper()

	c := walsim.Config{Delay: testDelay, TraceCapacity: 64}
	if cfg != nil {
		c = *cfg
	}

	clk := newSleepClock()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	c.Clock = clk
	c.Logger = logger

	layer, err := walsim.New(spy, &c)
	if err != nil {
		t.Fatalf("walsim.New: %v", err)
	}

	return &testLayer{Layer: layer, spy: spy, clock: clk, logs: hook}
}

func mustOpen(t *testing.T, l *testLayer, path string, flag int) int {
	t.Helper()

	fd, err := l.Open(path, flag, 0o644)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}

	return fd
}

func mustWrite(t *testing.T, l *testLayer, fd int, data string) {
	t.Helper()

	n, err := l.Write(fd, []byte(data))
	if err != nil {
		t.Fatalf("Write(%d, %q): %v", fd, data, err)
	}

	if n != len(data) {
		t.Fatalf("Write(%d, %q)=%d, want %d", fd, data, n, len(data))
	}
}

// mustPanicFatal runs fn and returns the *walsim.FatalError it panics with.
func mustPanicFatal(t *testing.T, fn func()) *walsim.FatalError {
	t.Helper()

	var got any

	func() {
		defer func() { got = recover() }()

		fn()
	}()

	if got == nil {
		t.Fatal("want panic, got none")
	}

	fe, ok := got.(*walsim.FatalError)
	if !ok {
		t.Fatalf("panic value=%T %v, want *walsim.FatalError", got, got)
	}

	return fe
}

func requireErrno(t *testing.T, err error, want unix.Errno) {
	t.Helper()

	if !errors.Is(err, want) {
		t.Fatalf("err=%v, want %v", err, want)
	}
}

const (
	walPath   = "/data/pg_xlog/000001"
	plainPath = "/data/base/16384"
)
