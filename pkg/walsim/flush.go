package walsim

import (
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Fsync flushes fd's pending bytes after the induced delay, then performs the
// real fsync and returns its result.
func (l *Layer) Fsync(fd int) error {
	delayed := l.flush(fd, sysio.OpFsync, true)

	err := l.real.Fsync(fd)

	l.recordSync(fd, sysio.OpFsync, delayed, err)

	return err
}

// Fdatasync flushes fd's pending bytes after the induced delay, then performs
// the real fdatasync and returns its result.
func (l *Layer) Fdatasync(fd int) error {
	delayed := l.flush(fd, sysio.OpFdatasync, true)

	err := l.real.Fdatasync(fd)

	l.recordSync(fd, sysio.OpFdatasync, delayed, err)

	return err
}

func (l *Layer) recordSync(fd int, op sysio.Op, delayed bool, err error) {
	mode, _ := l.reg.lookup(fd)
	if mode == ModeUntracked {
		return
	}

	l.stats.syncs.Add(1)
	l.trace.add(Event{Op: op, FD: fd, Mode: mode, Delayed: delayed, Err: err})
}

// flush hands fd's pending bytes to the real file in one write.
//
// With delayed set, the induced delay runs first, but only when bytes are
// pending. The buffer is swapped out under the registry lock and written
// outside it. A failed or short write is fatal.
//
// It reports whether the delay ran.
func (l *Layer) flush(fd int, op sysio.Op, delayed bool) bool {
	slept := false

	if delayed {
		if _, pending := l.reg.lookup(fd); pending == 0 {
			return false
		}

		slept = l.delay(fd, "syncing buffers to disk")
	}

	buf := l.reg.drain(fd)
	if len(buf) == 0 {
		return slept
	}

	n, err := l.real.Write(fd, buf)
	if err != nil || n != len(buf) {
		l.fatal(&FatalError{
			Kind:    ErrFlushFailed,
			Op:      op,
			FD:      fd,
			Pending: len(buf),
			Written: n,
			Err:     err,
		})
	}

	l.stats.flushes.Add(1)
	l.stats.flushedBytes.Add(int64(n))

	l.log.WithFields(logrus.Fields{
		"fd":      fd,
		"op":      op,
		"bytes":   n,
		"delayed": slept,
	}).Debug("flushed buffered bytes")

	return slept
}
