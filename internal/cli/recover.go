package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/walsim/internal/walwriter"
	"github.com/calvinalkan/walsim/pkg/fs"
)

// RecoverCmd returns the recover command.
func RecoverCmd(workDir string) *Command {
	flags := flag.NewFlagSet("recover", flag.ContinueOnError)

	expectMin := flags.Int("expect-min", 0, "Fail unless at least `n` records are recovered")
	verify := flags.Bool("verify", true, "Check that every record matches the run workload")

	return &Command{
		Flags: flags,
		Usage: "recover <dir> [flags]",
		Short: "Report the records that survived in a WAL segment",
		Long: "Decode <dir>/" + walDir + "/" + SegmentName + " the way crash recovery would:\n" +
			"read frames until the first incomplete or corrupt one and report the rest as\n" +
			"a torn tail. A torn tail is expected after a crash and is not an error.\n" +
			"segments= counts every segment file in <dir>/" + walDir + ", not just the one decoded.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errNeedDir
			}

			return execRecover(o, resolvePath(workDir, args[0]), *expectMin, *verify)
		},
	}
}

var errNoSegment = errors.New("no WAL segment")

func execRecover(o *IO, dir string, expectMin int, verify bool) error {
	fsys := fs.NewSys()
	segDir := filepath.Join(dir, walDir)
	path := filepath.Join(segDir, SegmentName)

	ok, err := fsys.Exists(path)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w at %s", errNoSegment, path)
	}

	segments, err := walwriter.Segments(fsys, segDir)
	if err != nil {
		return err
	}

	res, err := walwriter.Recover(fsys, path, nil)
	if err != nil {
		return err
	}

	if verify {
		for i, rec := range res.Records {
			want := recordPayload(uint64(i+1), len(rec))
			if !bytes.Equal(rec, want) {
				return fmt.Errorf("record %d does not match the run workload", i+1)
			}
		}
	}

	tail := "clean"
	if res.Tail != nil {
		tail = strings.TrimPrefix(res.Tail.Error(), "walwriter: ")
	}

	o.Println("segment=" + path)
	o.Println("segments=" + strconv.Itoa(len(segments)))
	o.Println("records=" + strconv.Itoa(len(res.Records)))
	o.Println("valid_bytes=" + strconv.FormatInt(res.ValidBytes, 10))
	o.Println("torn_bytes=" + strconv.FormatInt(res.TornBytes, 10))
	o.Println("tail=" + tail)

	if len(res.Records) < expectMin {
		return fmt.Errorf("recovered %d records, want at least %d", len(res.Records), expectMin)
	}

	return nil
}
