// Package walsim simulates delayed durability for write-ahead-log files.
//
// A [Layer] sits on the [sysio] boundary between an application and the OS.
// Descriptors opened for writing on a path containing the WAL marker
// ("pg_xlog/" by default) are tracked:
//
//   - Opened with O_DSYNC or O_SYNC ([ModeImmediate]): every write waits for
//     the induced delay, then reaches the file.
//   - Otherwise ([ModeBuffered]): writes are acknowledged in full but kept in
//     memory. The next fsync/fdatasync waits for the induced delay, then
//     hands all pending bytes to the file in one write. Close flushes without
//     a delay.
//
// Every other descriptor is untouched. This opens a window in which a crash
// test can observe what a database does with data the OS has not made
// durable yet.
//
// Two usage errors are fatal (see [FatalError]): seeking a buffered descriptor
// with pending bytes, and a failed or short write while flushing.
//
// Typical usage:
//
//	cfg, _ := walsim.ConfigFromEnv(os.Environ())
//	layer, restore, err := walsim.Install(&cfg)
//	if err != nil {
//		return err
//	}
//	defer restore()
//
//	// Code under test performs its fd-level I/O through sysio (for example
//	// via fs.NewSys()).
package walsim

import (
	"fmt"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Layer intercepts fd-level I/O and simulates delayed durability for WAL
// descriptors. It implements [sysio.Calls].
//
// Layer is safe for concurrent use. Operations on different descriptors run
// independently. Concurrent write/sync/close calls on the same descriptor are
// not ordered beyond individual registry updates.
type Layer struct {
	real  sysio.Calls
	cfg   Config
	clock clock.Clock
	log   logrus.FieldLogger

	reg   *registry
	stats stats
	trace *traceLog
}

var _ sysio.Calls = (*Layer)(nil)

// New creates a [Layer] that performs real I/O through calls.
//
// calls is normally [sysio.Unintercepted]. A nil cfg means [DefaultConfig].
func New(calls sysio.Calls, cfg *Config) (*Layer, error) {
	if calls == nil {
		return nil, fmt.Errorf("%w: calls is nil", ErrInvalidConfig)
	}

	c := DefaultConfig()
	if cfg != nil {
		c = cfg.withDefaults()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	l := &Layer{
		real:  calls,
		cfg:   c,
		clock: c.Clock,
		log:   c.Logger,
		reg:   newRegistry(),
		trace: newTraceLog(c.TraceCapacity),
	}

	if l.clock == nil {
		l.clock = clock.NewClock()
	}

	if l.log == nil {
		level, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, err
		}

		logger := logrus.New()
		logger.SetLevel(level)
		l.log = logger
	}

	l.log = l.log.WithField("component", "walsim")

	return l, nil
}

// Install creates a [Layer] over the real system calls and installs it as the
// process-wide [sysio] handler. restore uninstalls it.
func Install(cfg *Config) (*Layer, func(), error) {
	l, err := New(sysio.Unintercepted(), cfg)
	if err != nil {
		return nil, nil, err
	}

	restore := sysio.Install(l)

	l.log.WithFields(logrus.Fields{
		"marker": l.cfg.Marker,
		"delay":  l.cfg.Delay,
		"fatal":  l.cfg.Fatal,
	}).Info("interception installed")

	return l, restore, nil
}

// Config returns the effective configuration.
func (l *Layer) Config() Config {
	return l.cfg
}

// Mode returns fd's tracking mode.
func (l *Layer) Mode(fd int) Mode {
	mode, _ := l.reg.lookup(fd)

	return mode
}

// Pending returns the number of buffered bytes not yet handed to fd's file.
func (l *Layer) Pending(fd int) int {
	_, n := l.reg.lookup(fd)

	return n
}

// Tracked returns the tracked descriptors in ascending order.
func (l *Layer) Tracked() []int {
	return l.reg.tracked()
}

// Trace returns a formatted string of recent operations on tracked
// descriptors. Empty when [Config.TraceCapacity] is 0.
func (l *Layer) Trace() string {
	return l.trace.String()
}

// Events returns a snapshot of the trace ring, oldest first.
func (l *Layer) Events() []Event {
	return l.trace.snapshot()
}

// SimulateCrash discards every pending buffered byte, as if the machine lost
// power before the OS wrote its cache back. Descriptors stay tracked and
// open. Returns the number of bytes dropped.
func (l *Layer) SimulateCrash() int {
	dropped := l.reg.discardPending()
	l.stats.droppedBytes.Add(int64(dropped))

	l.log.WithField("bytes", dropped).Warn("simulated crash dropped pending bytes")

	return dropped
}

// delay waits for the induced delay and reports whether it did.
func (l *Layer) delay(fd int, why string) bool {
	if l.cfg.Delay <= 0 {
		return false
	}

	l.log.WithFields(logrus.Fields{
		"fd":    fd,
		"delay": l.cfg.Delay,
	}).Debug("sleeping before " + why)

	l.stats.delays.Add(1)
	l.clock.Sleep(l.cfg.Delay)

	return true
}
