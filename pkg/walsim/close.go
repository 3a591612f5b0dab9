package walsim

import (
	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Close flushes fd's pending bytes without a delay, stops tracking fd and
// performs the real close.
//
// A write racing with Close on the same descriptor may be lost; callers must
// not write to a descriptor they are closing.
func (l *Layer) Close(fd int) error {
	mode, pending := l.reg.lookup(fd)

	l.flush(fd, sysio.OpClose, false)
	l.reg.remove(fd)

	err := l.real.Close(fd)

	if mode != ModeUntracked {
		l.stats.closes.Add(1)
		l.trace.add(Event{Op: sysio.OpClose, FD: fd, Mode: mode, N: pending, Err: err})
	}

	return err
}
