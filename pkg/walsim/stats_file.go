package walsim

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/natefinch/atomic"
)

// WriteStats atomically replaces path with the JSON-encoded [Layer.Stats].
//
// Subprocess crash harnesses call this before exiting so the parent can read
// what the child's layer buffered, flushed and dropped. The file is written
// with regular os calls, not through [sysio], so it is never tracked.
func (l *Layer) WriteStats(path string) error {
	data, err := json.MarshalIndent(l.Stats(), "", "  ")
	if err != nil {
		return fmt.Errorf("walsim: encode stats: %w", err)
	}

	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("walsim: write stats %s: %w", path, err)
	}

	return nil
}
