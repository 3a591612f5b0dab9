package walsim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
)

// DefaultMarker is the WAL directory marker used when [Config.Marker] is empty.
const DefaultMarker = "pg_xlog/"

// DefaultDelay is the induced delay used by [DefaultConfig].
const DefaultDelay = 10 * time.Second

// DefaultExitCode is the exit code used by [FatalExit] when none is configured.
// It matches the status of a process killed by SIGABRT.
const DefaultExitCode = 134

// Environment variables read by [ConfigFromEnv].
const (
	EnvConfig        = "WALSIM_CONFIG"
	EnvMarker        = "WALSIM_MARKER"
	EnvDelay         = "WALSIM_DELAY"
	EnvLogLevel      = "WALSIM_LOG_LEVEL"
	EnvTraceCapacity = "WALSIM_TRACE_CAPACITY"
)

// ErrInvalidConfig is returned (wrapped) for every configuration problem.
var ErrInvalidConfig = errors.New("walsim: invalid config")

// FatalAction determines how a fatal invariant violation terminates execution.
type FatalAction uint8

const (
	// FatalPanic panics with a [*FatalError].
	//
	// An unrecovered panic terminates the process with the diagnostic. Tests
	// in the same process can recover it and inspect the error.
	FatalPanic FatalAction = iota

	// FatalExit logs the diagnostic and terminates via [os.Exit] with
	// [Config.ExitCode]. Defers do not run.
	FatalExit
)

func (a FatalAction) String() string {
	switch a {
	case FatalPanic:
		return "panic"
	case FatalExit:
		return "exit"
	default:
		return "FatalAction(" + strconv.Itoa(int(a)) + ")"
	}
}

func parseFatalAction(s string) (FatalAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "panic":
		return FatalPanic, nil
	case "exit":
		return FatalExit, nil
	default:
		return 0, fmt.Errorf("unknown fatal action %q", s)
	}
}

// Config controls [Layer] behavior.
//
// The zero value is usable: it tracks [DefaultMarker] paths, induces no delay
// and panics on fatal violations. Use [DefaultConfig] for the 10s delay.
type Config struct {
	// Marker is the substring a path must contain for its descriptors to be
	// tracked. Empty means [DefaultMarker].
	Marker string

	// Delay is the induced delay before a delayed flush and before every write
	// on a descriptor opened with O_DSYNC/O_SYNC. Zero disables the delay.
	Delay time.Duration

	// Fatal selects how fatal invariant violations terminate execution.
	Fatal FatalAction

	// ExitCode is the process exit code for [FatalExit].
	// Zero means [DefaultExitCode].
	ExitCode int

	// TraceCapacity is the max number of operations kept by [Layer.Trace].
	// Zero disables the trace ring.
	TraceCapacity int

	// LogLevel is a logrus level name ("debug", "info", ...). Empty means
	// "info". Ignored when Logger is set.
	LogLevel string

	// Clock provides the induced delay. Nil means the real clock.
	Clock clock.Clock

	// Logger receives diagnostic tracing. Nil means a new logrus logger on
	// stderr at LogLevel.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the configuration matching the classic setup:
// "pg_xlog/" marker, 10s delay, panic on fatal violations.
func DefaultConfig() Config {
	return Config{
		Marker:   DefaultMarker,
		Delay:    DefaultDelay,
		Fatal:    FatalPanic,
		ExitCode: DefaultExitCode,
		LogLevel: "info",
	}
}

// fileConfig is the JSONC representation of [Config]. Pointer fields
// distinguish "absent" from "set to the zero value".
type fileConfig struct {
	Marker        *string `json:"marker"`
	Delay         *string `json:"delay"`
	Fatal         *string `json:"fatal"`
	ExitCode      *int    `json:"exit_code"`      //nolint:tagliatelle // snake_case for config file
	TraceCapacity *int    `json:"trace_capacity"` //nolint:tagliatelle // snake_case for config file
	LogLevel      *string `json:"log_level"`      //nolint:tagliatelle // snake_case for config file
}

// LoadConfig reads a JSONC config file and merges it over [DefaultConfig].
//
// Example file:
//
//	{
//		// only files under this directory are tracked
//		"marker": "pg_wal/",
//		"delay": "250ms",
//		"fatal": "exit",
//		"exit_code": 3,
//	}
func LoadConfig(path string) (Config, error) {
	return loadConfigFile(DefaultConfig(), path)
}

// ConfigFromEnv builds a config from environment entries ("KEY=value").
//
// Precedence (highest wins):
//  1. WALSIM_MARKER, WALSIM_DELAY, WALSIM_LOG_LEVEL, WALSIM_TRACE_CAPACITY
//  2. The JSONC file named by WALSIM_CONFIG
//  3. [DefaultConfig]
//
// Pass os.Environ() in production.
func ConfigFromEnv(env []string) (Config, error) {
	vars := envMap(env)
	cfg := DefaultConfig()

	if path := vars[EnvConfig]; path != "" {
		fileCfg, err := loadConfigFile(cfg, path)
		if err != nil {
			return Config{}, err
		}

		cfg = fileCfg
	}

	if v, ok := vars[EnvMarker]; ok {
		cfg.Marker = v
	}

	if v, ok := vars[EnvDelay]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvDelay, err)
		}

		cfg.Delay = d
	}

	if v, ok := vars[EnvLogLevel]; ok {
		cfg.LogLevel = v
	}

	if v, ok := vars[EnvTraceCapacity]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvTraceCapacity, err)
		}

		cfg.TraceCapacity = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports configuration errors. All returned errors wrap
// [ErrInvalidConfig].
func (c *Config) Validate() error {
	if c.Marker == "" {
		return fmt.Errorf("%w: marker cannot be empty", ErrInvalidConfig)
	}

	if c.Delay < 0 {
		return fmt.Errorf("%w: delay %s is negative", ErrInvalidConfig, c.Delay)
	}

	switch c.Fatal {
	case FatalPanic, FatalExit:
	default:
		return fmt.Errorf("%w: fatal action %d", ErrInvalidConfig, c.Fatal)
	}

	if c.Fatal == FatalExit && c.ExitCode <= 0 {
		return fmt.Errorf("%w: exit code must be > 0", ErrInvalidConfig)
	}

	if c.TraceCapacity < 0 {
		return fmt.Errorf("%w: trace capacity %d is negative", ErrInvalidConfig, c.TraceCapacity)
	}

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return nil
}

// withDefaults fills the fields whose zero value means "use the default".
func (c Config) withDefaults() Config {
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}

	if c.ExitCode == 0 {
		c.ExitCode = DefaultExitCode
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return c
}

func loadConfigFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
	}

	cfg, err := parseConfig(base, data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

func parseConfig(base Config, data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	cfg := base

	if fc.Marker != nil {
		cfg.Marker = *fc.Marker
	}

	if fc.Delay != nil {
		d, err := time.ParseDuration(*fc.Delay)
		if err != nil {
			return Config{}, fmt.Errorf("delay: %w", err)
		}

		cfg.Delay = d
	}

	if fc.Fatal != nil {
		action, err := parseFatalAction(*fc.Fatal)
		if err != nil {
			return Config{}, err
		}

		cfg.Fatal = action
	}

	if fc.ExitCode != nil {
		cfg.ExitCode = *fc.ExitCode
	}

	if fc.TraceCapacity != nil {
		cfg.TraceCapacity = *fc.TraceCapacity
	}

	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}

	return cfg, nil
}

func envMap(env []string) map[string]string {
	vars := make(map[string]string, len(env))

	for _, e := range env {
		k, v, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(k, "WALSIM_") {
			continue
		}

		vars[k] = v
	}

	return vars
}
