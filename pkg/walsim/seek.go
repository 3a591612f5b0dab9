package walsim

import (
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Seek repositions fd through the real lseek.
//
// Seeking a buffered descriptor with pending bytes is fatal: the pending
// bytes belong at the old offset and would be written at the new one.
func (l *Layer) Seek(fd int, offset int64, whence int) (int64, error) {
	mode, pending := l.reg.lookup(fd)

	if mode == ModeBuffered {
		l.log.WithFields(logrus.Fields{
			"fd":      fd,
			"offset":  offset,
			"whence":  whence,
			"pending": pending,
		}).Debug("lseek on buffered descriptor")

		if pending > 0 {
			l.fatal(&FatalError{
				Kind:    ErrSeekWithPending,
				Op:      sysio.OpSeek,
				FD:      fd,
				Pending: pending,
				Offset:  offset,
				Whence:  whence,
			})
		}
	}

	pos, err := l.real.Seek(fd, offset, whence)

	if mode != ModeUntracked {
		l.stats.seeks.Add(1)
		l.trace.add(Event{Op: sysio.OpSeek, FD: fd, Mode: mode, Err: err})
	}

	return pos, err
}
