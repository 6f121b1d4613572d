package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	rc := cfg.ReducerConfig()
	assert.Equal(t, DefaultReducerConfig(), rc, "file defaults match the reducer defaults")
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := writeFile(t, "camrigd.yaml", `
api:
  base_url: http://camrig.local:8000
  nudge_endpoint: ptz
sweep:
  step_deg: 3
poll:
  unavailable_after: 0
ui:
  allowed_origins: ["http://camrig.local:3001"]
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://camrig.local:8000", cfg.API.BaseURL)
	assert.Equal(t, nudgeEndpointPTZ, cfg.API.NudgeEndpoint)
	assert.Equal(t, 3.0, cfg.SweepParams().StepDeg)
	assert.Equal(t, 0, cfg.Poll.UnavailableAfter)
	assert.Equal(t, []string{"http://camrig.local:3001"}, cfg.UI.AllowedOrigins)
	assert.Equal(t, DefaultConfig().UI.Port, cfg.UI.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Nudge, cfg.Nudge)
	assert.Equal(t, 250*time.Millisecond, cfg.SweepParams().PanStep)
}

func TestLoadConfigFile_RejectsUnknownField(t *testing.T) {
	path := writeFile(t, "camrigd.yaml", "api:\n  base_ur: http://x\n")
	_, err := LoadConfigFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_ur")
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeFile(t, "camrigd.yaml", "ui:\n  port: 8080\n---\nui:\n  port: 9090\n")
	_, err := LoadConfigFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing document")
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	_, err = LoadConfigFile("")
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")), "missing file is not an error")

	t.Setenv("CAMRIG_UI_PORT", "4000")
	path := writeFile(t, ".env", "CAMRIG_TEST_DOTENV_ONLY=from-file\nCAMRIG_UI_PORT=5000\n")
	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("CAMRIG_TEST_DOTENV_ONLY") })

	assert.Equal(t, "from-file", os.Getenv("CAMRIG_TEST_DOTENV_ONLY"))
	assert.Equal(t, "4000", os.Getenv("CAMRIG_UI_PORT"), "process environment wins")
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, mapLookup(map[string]string{
		"CAMRIG_API_BASE_URL":                "http://10.0.0.5:8000",
		"CAMRIG_NUDGE_MAX_SPEED_DEG_PER_SEC": "30",
		"CAMRIG_UI_PORT":                     "0",
		"CAMRIG_INPUT_DEVICES":               "/dev/input/event3, /dev/input/event4,",
		"CAMRIG_LOG_FORMAT":                  "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:8000", cfg.API.BaseURL)
	assert.Equal(t, 30.0, cfg.Nudge.MaxSpeedDegPerS)
	assert.Equal(t, 0, cfg.UI.Port)
	assert.True(t, cfg.Input.Enabled)
	assert.Equal(t, []string{"/dev/input/event3", "/dev/input/event4"}, cfg.Input.Devices)
	assert.Equal(t, "text", cfg.Logging.Format, "empty variables are ignored")
}

func TestApplyEnv_CollectsParseErrors(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, mapLookup(map[string]string{
		"CAMRIG_UI_PORT":          "eighty",
		"CAMRIG_NUDGE_STEP_DEG":   "five",
		"CAMRIG_POLL_INTERVAL_MS": "500",
	}))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "CAMRIG_UI_PORT")
	assert.Contains(t, err.Error(), "CAMRIG_NUDGE_STEP_DEG")
	assert.Equal(t, 500, cfg.Poll.IntervalMS, "valid variables still apply")
}

func TestFlagOverrides_ApplyZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	port := 0
	device := ""
	debounce := 50
	FlagOverrides{UIPort: &port, InputDevice: &device, SettingsDebounceMS: &debounce}.Apply(&cfg)

	assert.Equal(t, 0, cfg.UI.Port)
	assert.False(t, cfg.Input.Enabled)
	assert.Equal(t, 50, cfg.Settings.DebounceMS)
	assert.Equal(t, DefaultConfig().API, cfg.API, "nil overrides are ignored")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "camrig.local"
	cfg.API.NudgeEndpoint = "joystick"
	cfg.Nudge.StepDeg = 20
	cfg.Poll.IntervalMS = 0
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 5)

	var msgs bytes.Buffer
	for _, e := range errs {
		msgs.WriteString(e.Error() + "\n")
	}
	assert.Contains(t, msgs.String(), "api.base_url")
	assert.Contains(t, msgs.String(), "api.nudge_endpoint")
	assert.Contains(t, msgs.String(), "nudge.step_deg")
	assert.Contains(t, msgs.String(), "poll.interval_ms")
	assert.Contains(t, msgs.String(), "logging.level")
}

func TestValidate_InputDevices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Enabled = true
	cfg.Input.Devices = []string{"/dev/input/event0", ""}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.devices[1]")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/etc/camrigd.yaml", ExpandPath("/etc/camrigd.yaml"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, ".config/camrigd.yaml"), ExpandPath("~/.config/camrigd.yaml"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}
