package walsim

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Fatal violation kinds. A [*FatalError] matches its kind with [errors.Is].
var (
	// ErrFlushFailed: the real write of drained buffered bytes failed or was
	// short, so bytes acknowledged to the caller may never reach the file.
	ErrFlushFailed = errors.New("walsim: flush of buffered bytes failed")

	// ErrSeekWithPending: a descriptor was repositioned while buffered bytes
	// were still pending.
	ErrSeekWithPending = errors.New("walsim: lseek while buffer has not been flushed")
)

// FatalError describes a broken invariant that terminates execution.
//
// It is never returned to callers of intercepted operations. Depending on
// [Config.Fatal] it is the panic value or the message logged before exit.
type FatalError struct {
	// Kind is [ErrFlushFailed] or [ErrSeekWithPending].
	Kind error

	// Op is the intercepted operation during which the violation happened.
	Op sysio.Op

	// FD is the descriptor involved.
	FD int

	// Pending is the number of buffered bytes involved: the drained length for
	// a failed flush, the pending length for a seek.
	Pending int

	// Written is the real write's result for a failed flush.
	Written int

	// Offset and Whence are the seek arguments.
	Offset int64
	Whence int

	// Err is the real write's error for a failed flush, if any.
	Err error
}

// Error implements [error].
func (e *FatalError) Error() string {
	msg := fmt.Sprintf("%v: op=%s fd=%d pending=%d", e.Kind, e.Op, e.FD, e.Pending)

	if errors.Is(e.Kind, ErrFlushFailed) {
		msg += fmt.Sprintf(" written=%d", e.Written)
	}

	if errors.Is(e.Kind, ErrSeekWithPending) {
		msg += fmt.Sprintf(" offset=%d whence=%d", e.Offset, e.Whence)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(" err=%v", e.Err)
	}

	return msg
}

// Is reports whether target is e's Kind.
func (e *FatalError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying write error, if any.
func (e *FatalError) Unwrap() error { return e.Err }

// osExit is swapped in tests.
var osExit = os.Exit

// fatal logs fe and terminates execution according to the configured action.
func (l *Layer) fatal(fe *FatalError) {
	l.stats.fatals.Add(1)
	l.trace.add(Event{Op: fe.Op, FD: fe.FD, Mode: ModeBuffered, N: fe.Pending, Err: fe})

	l.log.WithFields(logrus.Fields{
		"op":      fe.Op,
		"fd":      fe.FD,
		"pending": fe.Pending,
		"action":  l.cfg.Fatal,
	}).Error(fe.Error())

	terminate(fe, l.cfg.Fatal, l.cfg.ExitCode)
}

// terminate ends execution for a fatal violation. It does not return.
func terminate(fe *FatalError, action FatalAction, exitCode int) {
	if action == FatalExit {
		osExit(exitCode)
	}

	panic(fe)
}
