package walsim

import (
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Classify returns the tracking mode for a descriptor opened on path with
// flag, given the WAL marker.
//
// A descriptor is tracked only if it was opened write-only or read-write and
// path contains marker. Tracked descriptors opened with O_DSYNC or O_SYNC
// are [ModeImmediate] (on Linux O_SYNC already carries the O_DSYNC bit).
func Classify(path string, flag int, marker string) Mode {
	acc := flag & unix.O_ACCMODE
	if acc != unix.O_WRONLY && acc != unix.O_RDWR {
		return ModeUntracked
	}

	if !strings.Contains(path, marker) {
		return ModeUntracked
	}

	if flag&unix.O_DSYNC == unix.O_DSYNC || flag&unix.O_SYNC == unix.O_SYNC {
		return ModeImmediate
	}

	return ModeBuffered
}

// Open performs the real open and, if it succeeded, classifies the new
// descriptor. The real result is returned unchanged.
func (l *Layer) Open(path string, flag int, perm uint32) (int, error) {
	fd, err := l.real.Open(path, flag, perm)
	if err != nil {
		return fd, err
	}

	mode := Classify(path, flag, l.cfg.Marker)
	if mode == ModeUntracked {
		return fd, nil
	}

	fields := logrus.Fields{
		"fd":   fd,
		"path": path,
		"mode": mode,
		"flag": flag,
	}

	if l.reg.track(fd, mode) {
		// The previous close bypassed the layer.
		l.log.WithFields(fields).Warn("replaced stale entry for reused descriptor")
	}

	switch mode {
	case ModeImmediate:
		l.stats.immediateOpens.Add(1)
	case ModeBuffered:
		l.stats.bufferedOpens.Add(1)
	}

	l.log.WithFields(fields).Debug("open hooked")
	l.trace.add(Event{Op: sysio.OpOpen, FD: fd, Mode: mode, Path: path})

	return fd, nil
}
