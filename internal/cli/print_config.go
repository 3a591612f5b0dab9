package cli

import (
	"context"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/walsim/pkg/walsim"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg walsim.Config, source string) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved layer configuration",
		Long:  "Display the effective walsim configuration and the file it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg, source)
		},
	}
}

func execPrintConfig(io *IO, cfg walsim.Config, source string) error {
	io.Println("marker=" + cfg.Marker)
	io.Println("delay=" + cfg.Delay.String())
	io.Println("fatal=" + cfg.Fatal.String())
	io.Println("exit_code=" + strconv.Itoa(cfg.ExitCode))
	io.Println("trace_capacity=" + strconv.Itoa(cfg.TraceCapacity))
	io.Println("log_level=" + cfg.LogLevel)

	io.Println("")
	io.Println("# sources")

	if source == "" {
		io.Println("(defaults and environment only)")
	} else {
		io.Println("config_file=" + source)
	}

	return nil
}
