package walwriter_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/calvinalkan/walsim/internal/walwriter"
	"github.com/calvinalkan/walsim/pkg/fs"
	"github.com/calvinalkan/walsim/pkg/walsim"
)

// These tests install a process-wide layer and must not run in parallel.

func mustInstall(t *testing.T) *walsim.Layer {
	t.Helper()

	logger, _ := logtest.NewNullLogger()

	layer, restore, err := walsim.Install(&walsim.Config{Logger: logger, TraceCapacity: 32})
	if err != nil {
		t.Fatalf("walsim.Install: %v", err)
	}

	t.Cleanup(restore)

	return layer
}

func mustSegmentPath(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "pg_xlog")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	return filepath.Join(dir, "000000010000000000000001")
}

func Test_Writer_Loses_Only_Unsynced_Records_When_Crash_Simulated(t *testing.T) {
	tests := []struct {
		method walwriter.SyncMethod
		want   []string
	}{
		{walwriter.SyncFsync, []string{"r1", "r2", "r3"}},
		{walwriter.SyncFdatasync, []string{"r1", "r2", "r3"}},
		// Every O_DSYNC write is durable when it returns.
		{walwriter.SyncOpenDatasync, []string{"r1", "r2", "r3", "r4", "r5"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			layer := mustInstall(t)
			path := mustSegmentPath(t)

			w, err := walwriter.Create(fs.NewSys(), path, walwriter.Options{Sync: tt.method})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			for _, rec := range []string{"r1", "r2", "r3"} {
				if _, err := w.Commit([]byte(rec)); err != nil {
					t.Fatalf("Commit(%q): %v", rec, err)
				}
			}

			for _, rec := range []string{"r4", "r5"} {
				if _, err := w.Append([]byte(rec)); err != nil {
					t.Fatalf("Append(%q): %v", rec, err)
				}
			}

			layer.SimulateCrash()

			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			res := mustRecover(t, path)

			if diff := cmp.Diff(tt.want, records(res)); diff != "" {
				t.Fatalf("recovered records mismatch (-want +got):\n%s\ntrace:\n%s", diff, layer.Trace())
			}

			if res.Tail != nil {
				t.Fatalf("Tail=%v, want nil", res.Tail)
			}
		})
	}
}

func Test_Writer_Keeps_Appended_Records_Off_Disk_Until_Sync(t *testing.T) {
	layer := mustInstall(t)
	path := mustSegmentPath(t)

	w, err := walwriter.Create(fs.NewSys(), path, walwriter.Options{Sync: walwriter.SyncFsync})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	defer func() { _ = w.Close() }()

	for _, rec := range []string{"a", "b", "c"} {
		if _, err := w.Append([]byte(rec)); err != nil {
			t.Fatalf("Append(%q): %v", rec, err)
		}
	}

	if got := len(mustRecover(t, path).Records); got != 0 {
		t.Fatalf("records on disk before sync=%d, want 0", got)
	}

	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, records(mustRecover(t, path))); diff != "" {
		t.Fatalf("records after sync mismatch (-want +got):\n%s", diff)
	}

	st := layer.Stats()
	if st.BufferedWrites != 3 || st.Flushes != 1 {
		t.Fatalf("Stats()=%+v, want 3 buffered writes and 1 flush", st)
	}
}

func Test_Writer_Leaves_No_Torn_Tail_When_Closed_Without_Sync(t *testing.T) {
	mustInstall(t)
	path := mustSegmentPath(t)

	w, err := walwriter.Create(fs.NewSys(), path, walwriter.Options{Sync: walwriter.SyncFsync})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := w.Commit([]byte("synced")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := w.Append([]byte("closed")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if diff := cmp.Diff([]string{"synced", "closed"}, records(mustRecover(t, path))); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}
