package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/walsim/internal/walwriter"
	"github.com/calvinalkan/walsim/pkg/fs"
	"github.com/calvinalkan/walsim/pkg/walsim"
)

// SegmentName is the WAL segment walcrash writes and recovers.
const SegmentName = "000000010000000000000001"

// walDir is the directory under the target dir holding the segment.
const walDir = "pg_xlog"

const (
	minRecordSize        = 16
	defaultTraceCapacity = 64
)

var (
	errNeedDir       = errors.New("exactly one <dir> argument is required")
	errBadRecordSize = fmt.Errorf("record-size must be at least %d", minRecordSize)
	errBadCount      = errors.New("records and sync-every must not be negative")
)

// RunCmd returns the run command.
func RunCmd(cfg walsim.Config, workDir string) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)

	records := flags.IntP("records", "n", 100, "Number of records to append")
	syncEvery := flags.IntP("sync-every", "s", 10, "Sync after every `k` records (0 = never)")
	recordSize := flags.Int("record-size", 64, "Payload size of each record in bytes")
	method := flags.String("sync-method", string(walwriter.SyncFsync), "fsync, fdatasync or open_datasync")
	crash := flags.Bool("crash", false, "Simulate a crash before closing the segment")
	delay := flags.Duration("delay", cfg.Delay, "Induced delay before delayed flushes and O_DSYNC writes")
	statsPath := flags.String("stats", "", "Write layer stats as JSON to `file`")
	trace := flags.Bool("trace", false, "Print recent layer operations")
	fresh := flags.Bool("fresh", false, "Remove <dir>/"+walDir+" and every segment in it first")

	return &Command{
		Flags: flags,
		Usage: "run <dir> [flags]",
		Short: "Append records to a WAL segment under walsim",
		Long: "Create <dir>/" + walDir + "/" + SegmentName + " and append records to it\n" +
			"with a walsim layer installed. With --crash, pending bytes the layer still\n" +
			"holds are dropped before the segment is closed, as if the machine lost power.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errNeedDir
			}

			c := cfg
			c.Delay = *delay

			if *trace && c.TraceCapacity == 0 {
				c.TraceCapacity = defaultTraceCapacity
			}

			stats := *statsPath
			if stats != "" {
				stats = resolvePath(workDir, stats)
			}

			return execRun(ctx, o, c, resolvePath(workDir, args[0]), runOptions{
				records:    *records,
				syncEvery:  *syncEvery,
				recordSize: *recordSize,
				method:     *method,
				crash:      *crash,
				statsPath:  stats,
				trace:      *trace,
				fresh:      *fresh,
			})
		},
	}
}

type runOptions struct {
	records    int
	syncEvery  int
	recordSize int
	method     string
	crash      bool
	statsPath  string
	trace      bool
	fresh      bool
}

func execRun(ctx context.Context, o *IO, cfg walsim.Config, dir string, opts runOptions) error {
	method, err := walwriter.ParseSyncMethod(opts.method)
	if err != nil {
		return err
	}

	if opts.records < 0 || opts.syncEvery < 0 {
		return errBadCount
	}

	if opts.recordSize < minRecordSize {
		return errBadRecordSize
	}

	fsys := fs.NewSys()
	segDir := filepath.Join(dir, walDir)

	if opts.fresh {
		if err := fsys.RemoveAll(segDir); err != nil {
			return fmt.Errorf("removing %s: %w", segDir, err)
		}
	}

	if err := fsys.MkdirAll(segDir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", segDir, err)
	}

	path := filepath.Join(segDir, SegmentName)

	if walsim.Classify(path, os.O_WRONLY, cfg.Marker) == walsim.ModeUntracked {
		o.Warn("segment is not tracked by the layer", "use a marker contained in "+path)
	}

	layer, restore, err := walsim.Install(&cfg)
	if err != nil {
		return err
	}
	defer restore()

	w, err := walwriter.Create(fsys, path, walwriter.Options{Sync: method, Logger: cfg.Logger})
	if err != nil {
		return err
	}

	start := time.Now()
	interrupted := false

	for i := 1; i <= opts.records; i++ {
		if ctx.Err() != nil {
			interrupted = true

			break
		}

		if _, err := w.Append(recordPayload(uint64(i), opts.recordSize)); err != nil {
			_ = w.Close()

			return err
		}

		if opts.syncEvery > 0 && i%opts.syncEvery == 0 {
			if err := w.Sync(); err != nil {
				_ = w.Close()

				return err
			}
		}
	}

	dropped := 0
	if opts.crash {
		dropped = layer.SimulateCrash()
	}

	if err := w.Close(); err != nil {
		return err
	}

	o.Println("segment=" + path)
	o.Println("sync_method=" + string(method))
	o.Println("appended=" + strconv.FormatUint(w.LSN(), 10))
	o.Println("synced=" + strconv.FormatUint(w.Synced(), 10))
	o.Println("crashed=" + strconv.FormatBool(opts.crash))
	o.Println("dropped_bytes=" + strconv.Itoa(dropped))
	o.Println("elapsed=" + time.Since(start).Round(time.Millisecond).String())

	if interrupted {
		o.Warn("workload interrupted", "fewer records than requested were appended")
	}

	if opts.statsPath != "" {
		if err := layer.WriteStats(opts.statsPath); err != nil {
			return err
		}
	}

	if opts.trace {
		o.Println()
		o.Println("# trace")
		o.Println(layer.Trace())
	}

	return nil
}

// recordPayload returns the deterministic payload of record seq.
//
// The first 16 bytes hold the zero-padded sequence number; the rest repeats
// a letter derived from it, so recovery can verify every record it reads.
func recordPayload(seq uint64, size int) []byte {
	p := make([]byte, size)
	copy(p, fmt.Sprintf("%016d", seq))

	fill := byte('a' + seq%26)
	for i := minRecordSize; i < size; i++ {
		p[i] = fill
	}

	return p
}
