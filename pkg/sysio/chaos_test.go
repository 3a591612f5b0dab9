package sysio_test

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

func Test_Chaos_Passes_Through_When_Config_Is_Zero(t *testing.T) {
	t.Parallel()

	calls := &countingCalls{}
	chaos := sysio.NewChaos(calls, 1, &sysio.ChaosConfig{})

	for range 100 {
		n, err := chaos.Write(3, []byte("abc"))
		if err != nil || n != 3 {
			t.Fatalf("Write()=(%d, %v), want (3, nil)", n, err)
		}
	}

	if got := chaos.TotalFaults(); got != 0 {
		t.Fatalf("TotalFaults()=%d, want 0", got)
	}
}

func Test_Chaos_Injects_Marked_Errno_When_Rate_Is_One(t *testing.T) {
	t.Parallel()

	calls := &countingCalls{}
	chaos := sysio.NewChaos(calls, 7, &sysio.ChaosConfig{
		OpenFailRate:  1,
		WriteFailRate: 1,
		SeekFailRate:  1,
		SyncFailRate:  1,
		CloseFailRate: 1,
	})

	if _, err := chaos.Open("/x", unix.O_WRONLY, 0); !sysio.IsChaosErr(err) {
		t.Fatalf("Open: err=%v, want injected", err)
	}

	n, err := chaos.Write(3, []byte("abc"))
	if !sysio.IsChaosErr(err) || n != -1 {
		t.Fatalf("Write()=(%d, %v), want (-1, injected)", n, err)
	}

	var errno unix.Errno
	if !errors.As(err, &errno) {
		t.Fatalf("Write: err=%v does not unwrap to unix.Errno", err)
	}

	if _, err := chaos.Seek(3, 0, 0); !errors.Is(err, unix.EIO) {
		t.Fatalf("Seek: err=%v, want EIO", err)
	}

	if err := chaos.Fsync(3); !sysio.IsChaosErr(err) {
		t.Fatalf("Fsync: err=%v, want injected", err)
	}

	if err := chaos.Fdatasync(3); !sysio.IsChaosErr(err) {
		t.Fatalf("Fdatasync: err=%v, want injected", err)
	}

	if err := chaos.Close(3); !errors.Is(err, unix.EIO) {
		t.Fatalf("Close: err=%v, want EIO", err)
	}

	// Close always reaches the wrapped calls; nothing else does.
	ops := calls.snapshot()
	if len(ops) != 1 || ops[0] != sysio.OpClose {
		t.Fatalf("wrapped ops=%v, want [close]", ops)
	}

	stats := chaos.Stats()
	if stats.OpenFails != 1 || stats.WriteFails != 1 || stats.SeekFails != 1 || stats.SyncFails != 2 || stats.CloseFails != 1 {
		t.Fatalf("Stats()=%+v", stats)
	}
}

func Test_Chaos_Partial_Write_Forwards_A_Strict_Prefix(t *testing.T) {
	t.Parallel()

	calls := &countingCalls{}
	chaos := sysio.NewChaos(calls, 3, &sysio.ChaosConfig{PartialWriteRate: 1})

	n, err := chaos.Write(3, []byte("abcdef"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if n < 1 || n >= 6 {
		t.Fatalf("Write()=%d, want 1..5", n)
	}

	if got := string(calls.wrote[0]); got != "abcdef"[:n] {
		t.Fatalf("forwarded=%q, want prefix of length %d", got, n)
	}
}

func Test_Chaos_NoOp_Mode_Disables_Injection(t *testing.T) {
	t.Parallel()

	calls := &countingCalls{}
	chaos := sysio.NewChaos(calls, 1, &sysio.ChaosConfig{WriteFailRate: 1})
	chaos.SetMode(sysio.ChaosModeNoOp)

	if _, err := chaos.Write(3, []byte("a")); err != nil {
		t.Fatalf("Write in NoOp mode: %v", err)
	}
}
