package walsim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/calvinalkan/walsim/pkg/sysio"
)

// Event records one intercepted operation on a tracked descriptor.
type Event struct {
	// Seq is the 1-indexed position of the event in the layer's history.
	Seq uint64

	Op   sysio.Op
	FD   int
	Mode Mode

	// Path is set for opens.
	Path string

	// N is the byte count involved: bytes buffered, written or flushed.
	N int

	// Delayed reports whether the operation waited for the induced delay.
	Delayed bool

	// Err is the real call's error, or the [*FatalError] for a violation.
	Err error
}

func (e Event) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "#%d %s fd=%d mode=%s", e.Seq, e.Op, e.FD, e.Mode)

	if e.Path != "" {
		fmt.Fprintf(&b, " path=%q", e.Path)
	}

	if e.N != 0 {
		fmt.Fprintf(&b, " n=%d", e.N)
	}

	if e.Delayed {
		b.WriteString(" delayed")
	}

	if e.Err == nil {
		b.WriteString(" ok")

		return b.String()
	}

	fmt.Fprintf(&b, " err=%v", e.Err)

	return b.String()
}

// traceLog is a bounded circular buffer of [Event].
// A nil or zero-capacity traceLog records nothing.
type traceLog struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	next     int
	full     bool
	seq      uint64
}

func newTraceLog(capacity int) *traceLog {
	return &traceLog{
		capacity: capacity,
		events:   make([]Event, 0, capacity),
	}
}

func (t *traceLog) add(e Event) {
	if t.capacity == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	e.Seq = t.seq

	if len(t.events) < t.capacity {
		t.events = append(t.events, e)

		return
	}

	t.events[t.next] = e
	t.next = (t.next + 1) % t.capacity
	t.full = true
}

func (t *traceLog) snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]Event(nil), t.events...)
	}

	out := make([]Event, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	out = append(out, t.events[:t.next]...)

	return out
}

func (t *traceLog) String() string {
	events := t.snapshot()
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder

	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}

		b.WriteString(e.String())
	}

	return b.String()
}
