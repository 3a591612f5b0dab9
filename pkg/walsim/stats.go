package walsim

import (
	"sync/atomic"
)

// Stats contains counters of what a [Layer] did.
type Stats struct {
	BufferedOpens     int64 `json:"buffered_opens"`
	ImmediateOpens    int64 `json:"immediate_opens"`
	BufferedWrites    int64 `json:"buffered_writes"`
	BufferedBytes     int64 `json:"buffered_bytes"`
	ImmediateWrites   int64 `json:"immediate_writes"`
	PassthroughWrites int64 `json:"passthrough_writes"`
	Flushes           int64 `json:"flushes"`
	FlushedBytes      int64 `json:"flushed_bytes"`
	Delays            int64 `json:"delays"`
	Syncs             int64 `json:"syncs"`
	Seeks             int64 `json:"seeks"`
	Closes            int64 `json:"closes"`
	DroppedBytes      int64 `json:"dropped_bytes"`
	Fatals            int64 `json:"fatals"`
}

type stats struct {
	bufferedOpens     atomic.Int64
	immediateOpens    atomic.Int64
	bufferedWrites    atomic.Int64
	bufferedBytes     atomic.Int64
	immediateWrites   atomic.Int64
	passthroughWrites atomic.Int64
	flushes           atomic.Int64
	flushedBytes      atomic.Int64
	delays            atomic.Int64
	syncs             atomic.Int64
	seeks             atomic.Int64
	closes            atomic.Int64
	droppedBytes      atomic.Int64
	fatals            atomic.Int64
}

// Stats returns the current counters. Counters are read individually, so a
// snapshot taken during concurrent I/O may be slightly skewed.
func (l *Layer) Stats() Stats {
	s := &l.stats

	return Stats{
		BufferedOpens:     s.bufferedOpens.Load(),
		ImmediateOpens:    s.immediateOpens.Load(),
		BufferedWrites:    s.bufferedWrites.Load(),
		BufferedBytes:     s.bufferedBytes.Load(),
		ImmediateWrites:   s.immediateWrites.Load(),
		PassthroughWrites: s.passthroughWrites.Load(),
		Flushes:           s.flushes.Load(),
		FlushedBytes:      s.flushedBytes.Load(),
		Delays:            s.delays.Load(),
		Syncs:             s.syncs.Load(),
		Seeks:             s.seeks.Load(),
		Closes:            s.closes.Load(),
		DroppedBytes:      s.droppedBytes.Load(),
		Fatals:            s.fatals.Load(),
	}
}
