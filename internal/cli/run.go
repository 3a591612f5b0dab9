// Package cli implements walcrash, a crash-test driver for walsim.
//
// walcrash runs a WAL workload through an installed walsim.Layer, optionally
// simulates a crash, and checks what a recovery would see afterwards.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/walsim/pkg/walsim"
)

// Run is the main entry point. Returns exit code.
//
// args[0] is the program name. env holds the process environment; only
// WALSIM_* variables are used. A value received on sigCh cancels the running
// command.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("walcrash", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{}) // discard pflag output

	cwd := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Load layer config from `file` (overrides $"+walsim.EnvConfig+")")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globals.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals, nil)

		return 1
	}

	workDir := *cwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fprintln(errOut, "error: cannot get working directory:", err)

			return 1
		}

		workDir = wd
	}

	cfg, source, err := loadLayerConfig(env, *configPath, workDir)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg.Logger = newLogger(errOut, cfg.LogLevel)

	commands := []*Command{
		RunCmd(cfg, workDir),
		RecoverCmd(workDir),
		PrintConfigCmd(cfg, source),
	}

	if *help || globals.NArg() == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	name := globals.Arg(0)

	var cmd *Command

	for _, c := range commands {
		if c.Name() == name {
			cmd = c
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), globals.Args()[1:])
}

// loadLayerConfig resolves the layer config. The --config flag takes the place
// of WALSIM_CONFIG; other WALSIM_* variables still override the file.
func loadLayerConfig(env map[string]string, configPath, workDir string) (walsim.Config, string, error) {
	vars := make(map[string]string, len(env))

	for k, v := range env {
		if strings.HasPrefix(k, "WALSIM_") {
			vars[k] = v
		}
	}

	if configPath != "" {
		vars[walsim.EnvConfig] = configPath
	}

	source := vars[walsim.EnvConfig]
	if source != "" && !filepath.IsAbs(source) {
		source = filepath.Join(workDir, source)
		vars[walsim.EnvConfig] = source
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, k := range keys {
		environ = append(environ, k+"="+vars[k])
	}

	cfg, err := walsim.ConfigFromEnv(environ)
	if err != nil {
		return walsim.Config{}, "", err
	}

	return cfg, source, nil
}

func newLogger(w io.Writer, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}

	return logger
}

// resolvePath makes path absolute relative to workDir.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, "Usage: walcrash [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Runs a WAL workload under simulated delayed durability and checks what survives.")

	if len(commands) > 0 {
		fprintln(w)
		fprintln(w, "Commands:")

		for _, c := range commands {
			fprintln(w, c.HelpLine())
		}
	}

	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	fmt.Fprint(w, buf.String())
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
