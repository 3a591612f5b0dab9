// walsh is an interactive shell for a walsim layer.
//
// Usage:
//
//	walsh [flags]
//
// Flags:
//
//	-c, --config   Load layer config from a JSONC file
//	-d, --delay    Induced delay (overrides config and environment)
//	    --trace    Trace ring capacity (overrides config and environment;
//	               64 when nothing sets one)
//
// Commands (in REPL):
//
//	open <path> [dsync|sync|trunc|append]   Open a file for writing
//	write <fd> <text>                       Write text plus a newline
//	fsync <fd>                              Flush pending bytes and fsync
//	fdatasync <fd>                          Flush pending bytes and fdatasync
//	seek <fd> <offset> [set|cur|end]        Reposition a descriptor
//	close <fd>                              Flush and close a descriptor
//	crash                                   Drop every pending byte
//	tracked                                 List open descriptors
//	pending <fd>                            Show buffered byte count
//	stats                                   Show layer counters
//	trace                                   Show recent operations
//	cat <path>                              Show what is on disk
//	exit / quit / q                         Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/walsim/internal/shell"
	"github.com/calvinalkan/walsim/pkg/walsim"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := layerConfig(args, os.Environ())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return err
	}

	layer, restore, err := walsim.Install(&cfg)
	if err != nil {
		return err
	}
	defer restore()

	repl := &REPL{shell: shell.New(layer, os.Stdout), cfg: layer.Config()}

	return repl.Run()
}

// defaultTraceCapacity applies when neither --trace nor the layer config
// sets a capacity.
const defaultTraceCapacity = 64

// layerConfig resolves the layer config from args and environ. Flags given
// on the command line override the environment and the config file.
func layerConfig(args []string, environ []string) (walsim.Config, error) {
	fs := flag.NewFlagSet("walsh", flag.ContinueOnError)

	configPath := fs.StringP("config", "c", "", "load layer config from `file`")
	delay := fs.DurationP("delay", "d", 0, "induced delay (overrides config)")
	traceCap := fs.Int("trace", defaultTraceCapacity, "trace ring capacity (overrides config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: walsh [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Interactive shell for a walsim layer.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return walsim.Config{}, err
	}

	if *configPath != "" {
		environ = append(slices.Clip(environ), walsim.EnvConfig+"="+*configPath)
	}

	cfg, err := walsim.ConfigFromEnv(environ)
	if err != nil {
		return walsim.Config{}, err
	}

	if fs.Changed("delay") {
		cfg.Delay = *delay
	}

	switch {
	case fs.Changed("trace"):
		cfg.TraceCapacity = *traceCap
	case cfg.TraceCapacity == 0:
		cfg.TraceCapacity = defaultTraceCapacity
	}

	if err := cfg.Validate(); err != nil {
		return walsim.Config{}, err
	}

	return cfg, nil
}

// REPL is the interactive command loop.
type REPL struct {
	shell *shell.Shell
	cfg   walsim.Config
	liner *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".walsh_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.shell.Complete)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("walsh - walsim shell (marker=%q, delay=%s, fatal=%s)\n", r.cfg.Marker, r.cfg.Delay, r.cfg.Fatal)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	defer func() {
		if err := r.shell.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}()

	for {
		line, err := r.liner.Prompt("walsh> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if r.shell.Exec(line) {
			fmt.Println("Bye!")

			break
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}
