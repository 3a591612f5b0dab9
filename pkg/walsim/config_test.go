package walsim_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/walsim/pkg/walsim"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "walsim.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_DefaultConfig_Matches_Classic_Setup(t *testing.T) {
	t.Parallel()

	cfg := walsim.DefaultConfig()

	assert.Equal(t, "pg_xlog/", cfg.Marker)
	assert.Equal(t, 10*time.Second, cfg.Delay)
	assert.Equal(t, walsim.FatalPanic, cfg.Fatal)
	assert.Equal(t, 134, cfg.ExitCode)
	require.NoError(t, cfg.Validate())
}

func Test_LoadConfig_Accepts_Comments_And_Trailing_Commas(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		// WAL directory of the cluster under test
		"marker": "pg_wal/",
		"delay": "250ms", /* short for CI */
		"fatal": "exit",
		"exit_code": 3,
		"trace_capacity": 128,
		"log_level": "debug",
	}`)

	cfg, err := walsim.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "pg_wal/", cfg.Marker)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, walsim.FatalExit, cfg.Fatal)
	assert.Equal(t, 3, cfg.ExitCode)
	assert.Equal(t, 128, cfg.TraceCapacity)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func Test_LoadConfig_Keeps_Defaults_When_Keys_Absent(t *testing.T) {
	t.Parallel()

	cfg, err := walsim.LoadConfig(writeConfig(t, `{"delay": "0s"}`))
	require.NoError(t, err)

	want := walsim.DefaultConfig()
	want.Delay = 0

	assert.Equal(t, want, cfg)
}

func Test_LoadConfig_Returns_Error_When_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", `{"markr": "x/"}`},
		{"bad delay", `{"delay": "soon"}`},
		{"negative delay", `{"delay": "-1s"}`},
		{"empty marker", `{"marker": ""}`},
		{"bad fatal", `{"fatal": "abort"}`},
		{"exit without code", `{"fatal": "exit", "exit_code": 0}`},
		{"negative trace", `{"trace_capacity": -1}`},
		{"bad log level", `{"log_level": "loud"}`},
		{"not json", `{marker: }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := walsim.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, walsim.ErrInvalidConfig)
		})
	}
}

func Test_LoadConfig_Returns_Error_When_File_Missing(t *testing.T) {
	t.Parallel()

	_, err := walsim.LoadConfig(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.ErrorIs(t, err, walsim.ErrInvalidConfig)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_ConfigFromEnv_Prefers_Env_Over_File_Over_Defaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"marker": "wal/", "delay": "5s", "fatal": "exit"}`)

	cfg, err := walsim.ConfigFromEnv([]string{
		"HOME=/root",
		walsim.EnvConfig + "=" + path,
		walsim.EnvDelay + "=1ms",
		walsim.EnvTraceCapacity + "=16",
	})
	require.NoError(t, err)

	assert.Equal(t, "wal/", cfg.Marker)
	assert.Equal(t, time.Millisecond, cfg.Delay)
	assert.Equal(t, walsim.FatalExit, cfg.Fatal)
	assert.Equal(t, 16, cfg.TraceCapacity)
	assert.Equal(t, walsim.DefaultExitCode, cfg.ExitCode)
}

func Test_ConfigFromEnv_Returns_Defaults_When_Env_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := walsim.ConfigFromEnv(nil)
	require.NoError(t, err)
	assert.Equal(t, walsim.DefaultConfig(), cfg)
}

func Test_ConfigFromEnv_Returns_Error_When_Value_Invalid(t *testing.T) {
	t.Parallel()

	for _, env := range [][]string{
		{walsim.EnvDelay + "=fast"},
		{walsim.EnvTraceCapacity + "=many"},
		{walsim.EnvMarker + "="},
		{walsim.EnvLogLevel + "=chatty"},
		{walsim.EnvConfig + "=" + filepath.Join(t.TempDir(), "nope.jsonc")},
	} {
		_, err := walsim.ConfigFromEnv(env)
		require.ErrorIs(t, err, walsim.ErrInvalidConfig, "env %v", env)
	}
}

func Test_New_Returns_Error_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	_, err := walsim.New(newSpy(), &walsim.Config{Delay: -time.Second})
	require.ErrorIs(t, err, walsim.ErrInvalidConfig)

	_, err = walsim.New(newSpy(), &walsim.Config{Fatal: walsim.FatalAction(9)})
	require.ErrorIs(t, err, walsim.ErrInvalidConfig)
}

func Test_New_Fills_Defaults_When_Config_Zero(t *testing.T) {
	t.Parallel()

	l, err := walsim.New(newSpy(), &walsim.Config{})
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, walsim.DefaultMarker, cfg.Marker)
	assert.Equal(t, time.Duration(0), cfg.Delay)
	assert.Equal(t, walsim.DefaultExitCode, cfg.ExitCode)
	assert.Equal(t, "info", cfg.LogLevel)
}

func Test_FatalAction_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "panic", walsim.FatalPanic.String())
	assert.Equal(t, "exit", walsim.FatalExit.String())
	assert.Equal(t, "FatalAction(7)", walsim.FatalAction(7).String())
}
