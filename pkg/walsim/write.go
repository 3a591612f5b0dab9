package walsim

import (
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Write routes a write by fd's tracking mode:
//   - untracked: real write, result verbatim
//   - immediate: induced delay, then real write, result verbatim
//   - buffered: p is appended to the pending bytes and len(p) is reported
//     without touching the file
func (l *Layer) Write(fd int, p []byte) (int, error) {
	switch l.reg.appendBuffered(fd, p) {
	case ModeBuffered:
		l.stats.bufferedWrites.Add(1)
		l.stats.bufferedBytes.Add(int64(len(p)))

		l.log.WithFields(logrus.Fields{"fd": fd, "bytes": len(p)}).Debug("buffered write")
		l.trace.add(Event{Op: sysio.OpWrite, FD: fd, Mode: ModeBuffered, N: len(p)})

		return len(p), nil

	case ModeImmediate:
		delayed := l.delay(fd, "O_DSYNC write")

		n, err := l.real.Write(fd, p)

		l.stats.immediateWrites.Add(1)
		l.trace.add(Event{Op: sysio.OpWrite, FD: fd, Mode: ModeImmediate, N: n, Delayed: delayed, Err: err})

		return n, err

	default:
		l.stats.passthroughWrites.Add(1)

		return l.real.Write(fd, p)
	}
}
