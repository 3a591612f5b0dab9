// Package shell implements the command interpreter behind walsh, an
// interactive shell for poking at a walsim layer by hand.
//
// Every command runs against the layer directly, so the shell shows exactly
// what the layer does with each write, sync, seek and close: which bytes it
// holds back, when it sleeps, and what a crash throws away.
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/walsim"
)

var (
	errUsage   = errors.New("wrong number of arguments")
	errUnknown = errors.New("unknown descriptor")
)

// Commands lists every command name, aliases included, for completion.
var Commands = []string{
	"open", "write", "fsync", "fdatasync", "seek", "close",
	"crash", "tracked", "ls", "pending", "stats", "trace",
	"cat", "help", "?", "exit", "quit", "q",
}

// Shell interprets walsh commands against a [walsim.Layer].
//
// Shell is not safe for concurrent use.
type Shell struct {
	layer *walsim.Layer
	out   io.Writer

	// open maps descriptors opened by the shell to their paths.
	open map[int]string
}

// New returns a Shell that drives layer and prints to out.
func New(layer *walsim.Layer, out io.Writer) *Shell {
	return &Shell{
		layer: layer,
		out:   out,
		open:  make(map[int]string),
	}
}

// Exec runs one command line and reports whether the shell should quit.
//
// Errors are printed, not returned. A fatal layer violation raised as a
// panic is printed as well, so the session survives it.
func (s *Shell) Exec(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		fe, ok := r.(*walsim.FatalError)
		if !ok {
			panic(r)
		}

		s.printf("fatal: %v\n", fe)
	}()

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		s.printHelp()
	case "open":
		err = s.cmdOpen(args)
	case "write":
		err = s.cmdWrite(args)
	case "fsync", "fdatasync":
		err = s.cmdSync(cmd, args)
	case "seek":
		err = s.cmdSeek(args)
	case "close":
		err = s.cmdClose(args)
	case "crash":
		s.printf("dropped %d bytes\n", s.layer.SimulateCrash())
	case "tracked", "ls":
		s.cmdTracked()
	case "pending":
		err = s.cmdPending(args)
	case "stats":
		s.cmdStats()
	case "trace":
		s.cmdTrace()
	case "cat":
		err = s.cmdCat(args)
	default:
		s.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		s.printf("error: %v\n", err)
	}

	return false
}

// Complete returns the commands starting with line.
func (s *Shell) Complete(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range Commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// Close closes every descriptor the shell still has open. Buffered bytes
// are flushed as with any close.
func (s *Shell) Close() error {
	var errs []error

	for _, fd := range s.fds() {
		if err := s.layer.Close(fd); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}

		delete(s.open, fd)
	}

	return errors.Join(errs...)
}

func (s *Shell) cmdOpen(args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	flag := unix.O_WRONLY | unix.O_CREAT | unix.O_CLOEXEC

	for _, opt := range args[1:] {
		switch strings.ToLower(opt) {
		case "dsync":
			flag |= unix.O_DSYNC
		case "sync":
			flag |= unix.O_SYNC
		case "trunc":
			flag |= unix.O_TRUNC
		case "append":
			flag |= unix.O_APPEND
		default:
			return fmt.Errorf("unknown open option %q (want dsync, sync, trunc or append)", opt)
		}
	}

	fd, err := s.layer.Open(args[0], flag, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}

	s.open[fd] = args[0]
	s.printf("fd=%d mode=%s\n", fd, s.layer.Mode(fd))

	return nil
}

func (s *Shell) cmdWrite(args []string) error {
	if len(args) < 2 {
		return errUsage
	}

	fd, err := s.fd(args[0])
	if err != nil {
		return err
	}

	data := []byte(strings.Join(args[1:], " ") + "\n")

	n, err := s.layer.Write(fd, data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	s.printf("wrote %d bytes (pending %d)\n", n, s.layer.Pending(fd))

	return nil
}

func (s *Shell) cmdSync(op string, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	fd, err := s.fd(args[0])
	if err != nil {
		return err
	}

	pending := s.layer.Pending(fd)

	if op == "fsync" {
		err = s.layer.Fsync(fd)
	} else {
		err = s.layer.Fdatasync(fd)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.printf("%s ok (flushed %d bytes)\n", op, pending)

	return nil
}

func (s *Shell) cmdSeek(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}

	fd, err := s.fd(args[0])
	if err != nil {
		return err
	}

	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %q", args[1])
	}

	whence := io.SeekStart

	if len(args) == 3 {
		switch strings.ToLower(args[2]) {
		case "set":
			whence = io.SeekStart
		case "cur":
			whence = io.SeekCurrent
		case "end":
			whence = io.SeekEnd
		default:
			return fmt.Errorf("unknown whence %q (want set, cur or end)", args[2])
		}
	}

	pos, err := s.layer.Seek(fd, offset, whence)
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	s.printf("offset=%d\n", pos)

	return nil
}

func (s *Shell) cmdClose(args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	fd, err := s.fd(args[0])
	if err != nil {
		return err
	}

	err = s.layer.Close(fd)

	// Close performs the real close even when it fails, so the shell forgets
	// fd once Close returns. A fatal flush panics past this point and leaves
	// fd open for Shell.Close.
	delete(s.open, fd)

	if err != nil {
		return fmt.Errorf("close: %w", err)
	}

	s.printf("closed fd=%d\n", fd)

	return nil
}

func (s *Shell) cmdTracked() {
	fds := s.fds()
	if len(fds) == 0 {
		s.printf("(no open descriptors)\n")

		return
	}

	for _, fd := range fds {
		s.printf("fd=%-4d mode=%-10s pending=%-6d %s\n", fd, s.layer.Mode(fd), s.layer.Pending(fd), s.open[fd])
	}
}

func (s *Shell) cmdPending(args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	fd, err := s.fd(args[0])
	if err != nil {
		return err
	}

	s.printf("%d\n", s.layer.Pending(fd))

	return nil
}

func (s *Shell) cmdStats() {
	st := s.layer.Stats()

	s.printf("opens:     buffered=%d immediate=%d\n", st.BufferedOpens, st.ImmediateOpens)
	s.printf("writes:    buffered=%d (%d bytes) immediate=%d passthrough=%d\n",
		st.BufferedWrites, st.BufferedBytes, st.ImmediateWrites, st.PassthroughWrites)
	s.printf("flushes:   %d (%d bytes)\n", st.Flushes, st.FlushedBytes)
	s.printf("delays:    %d\n", st.Delays)
	s.printf("syncs:     %d\n", st.Syncs)
	s.printf("seeks:     %d\n", st.Seeks)
	s.printf("closes:    %d\n", st.Closes)
	s.printf("dropped:   %d bytes\n", st.DroppedBytes)
	s.printf("fatals:    %d\n", st.Fatals)
}

func (s *Shell) cmdTrace() {
	trace := s.layer.Trace()
	if trace == "" {
		s.printf("(trace disabled or empty)\n")

		return
	}

	s.printf("%s\n", trace)
}

// cmdCat prints what is actually in the file, bypassing the layer.
func (s *Shell) cmdCat(args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	s.printf("%d bytes\n%s", len(data), data)

	if len(data) > 0 && data[len(data)-1] != '\n' {
		s.printf("\n")
	}

	return nil
}

// fd parses arg and checks that the shell opened it.
func (s *Shell) fd(arg string) (int, error) {
	fd, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid descriptor %q", arg)
	}

	if _, ok := s.open[fd]; !ok {
		return 0, fmt.Errorf("%w: %d", errUnknown, fd)
	}

	return fd, nil
}

func (s *Shell) fds() []int {
	fds := make([]int, 0, len(s.open))
	for fd := range s.open {
		fds = append(fds, fd)
	}

	slices.Sort(fds)

	return fds
}

func (s *Shell) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Shell) printHelp() {
	s.printf("Commands:\n")
	s.printf("  open <path> [dsync|sync|trunc|append]   Open a file for writing\n")
	s.printf("  write <fd> <text>                       Write text plus a newline\n")
	s.printf("  fsync <fd>                              Flush pending bytes and fsync\n")
	s.printf("  fdatasync <fd>                          Flush pending bytes and fdatasync\n")
	s.printf("  seek <fd> <offset> [set|cur|end]        Reposition a descriptor\n")
	s.printf("  close <fd>                              Flush and close a descriptor\n")
	s.printf("  crash                                   Drop every pending byte\n")
	s.printf("  tracked                                 List open descriptors\n")
	s.printf("  pending <fd>                            Show buffered byte count\n")
	s.printf("  stats                                   Show layer counters\n")
	s.printf("  trace                                   Show recent operations\n")
	s.printf("  cat <path>                              Show what is on disk\n")
	s.printf("  help                                    Show this help\n")
	s.printf("  exit / quit / q                         Exit\n")
}
