package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the camrigd daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
//
// Layering (lowest to highest precedence):
//   - DefaultConfig()
//   - YAML file (-config)
//   - CAMRIG_* environment (optionally loaded from a .env file)
//   - command-line flags
type Config struct {
	// Camera rig HTTP API
	API APIConfig `yaml:"api"`

	// Nudge dispatcher (joystick / held button / discrete steps)
	Nudge NudgeFileConfig `yaml:"nudge"`

	// Monitoring sweep
	Sweep SweepFileConfig `yaml:"sweep"`

	// Settings patch coalescer
	Settings SettingsFileConfig `yaml:"settings"`

	// Pan/tilt state polling
	Poll PollConfig `yaml:"poll"`

	// Toast feedback channel
	Toast ToastConfig `yaml:"toast"`

	// State websocket / UI HTTP server
	UI UIConfig `yaml:"ui"`

	// IPC configuration (used by camrig-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// Keypad input (Linux evdev)
	Input InputConfig `yaml:"input"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type APIConfig struct {
	BaseURL          string `yaml:"base_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"` // 0 disables the per-request timeout
	NudgeEndpoint    string `yaml:"nudge_endpoint"`     // "pantilt" (/api/pantilt/relative) or "ptz" (/api/ptz/relative)
}

type NudgeFileConfig struct {
	Deadzone         float64 `yaml:"deadzone"`
	GainExponent     float64 `yaml:"gain_exponent"`
	MaxSpeedDegPerS  float64 `yaml:"max_speed_deg_per_sec"`
	DragTickMS       int     `yaml:"drag_tick_ms"`
	HoldTickMS       int     `yaml:"hold_tick_ms"`
	StepDeg          float64 `yaml:"step_deg"`
	HoldStepDivisor  float64 `yaml:"hold_step_divisor"`
	DiscreteRatePerS float64 `yaml:"discrete_rate_per_sec"`
	DiscreteBurst    int     `yaml:"discrete_burst"`
}

type SweepFileConfig struct {
	PanExtentDeg  float64 `yaml:"pan_extent_deg"`
	TiltExtentDeg float64 `yaml:"tilt_extent_deg"`
	StepDeg       float64 `yaml:"step_deg"`
	PanStepMS     int     `yaml:"pan_step_ms"`
	TiltStepMS    int     `yaml:"tilt_step_ms"`
	SettleMS      int     `yaml:"settle_ms"`
}

type SettingsFileConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

type PollConfig struct {
	IntervalMS       int `yaml:"interval_ms"`
	UnavailableAfter int `yaml:"unavailable_after"` // consecutive failures; 0 keeps the last state forever
}

type ToastConfig struct {
	TTLMS int `yaml:"ttl_ms"`
}

type UIConfig struct {
	Port int `yaml:"port"`
	// AllowedOrigins restricts which browser origins may open /ws. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type InputConfig struct {
	Enabled bool     `yaml:"enabled"`
	Devices []string `yaml:"devices,omitempty"` // List of input devices to monitor
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:          "http://127.0.0.1:8000",
			RequestTimeoutMS: defaultRequestTimeoutMS,
			NudgeEndpoint:    nudgeEndpointPanTilt,
		},
		Nudge: NudgeFileConfig{
			Deadzone:         defaultDeadzone,
			GainExponent:     defaultGainExponent,
			MaxSpeedDegPerS:  defaultMaxSpeedDegPS,
			DragTickMS:       defaultDragTickMS,
			HoldTickMS:       defaultHoldTickMS,
			StepDeg:          defaultDiscreteStep,
			HoldStepDivisor:  defaultHoldStepDivide,
			DiscreteRatePerS: defaultNudgeRatePerS,
			DiscreteBurst:    defaultNudgeBurst,
		},
		Sweep: SweepFileConfig{
			PanExtentDeg:  sweepPanExtentDeg,
			TiltExtentDeg: sweepTiltExtentDeg,
			StepDeg:       sweepStepDeg,
			PanStepMS:     sweepPanStepMS,
			TiltStepMS:    sweepTiltStepMS,
			SettleMS:      sweepSettleMS,
		},
		Settings: SettingsFileConfig{
			DebounceMS: defaultSettingsDebounceMS,
		},
		Poll: PollConfig{
			IntervalMS:       defaultPollIntervalMS,
			UnavailableAfter: defaultUnavailableAfter,
		},
		Toast: ToastConfig{
			TTLMS: int(defaultToastTTL / time.Millisecond),
		},
		UI: UIConfig{
			Port: 3001,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/camrigd.sock",
		},
		Input: InputConfig{
			Enabled: false,
			Devices: []string{"/dev/input/event0"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig().
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the first document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	path = ExpandPath(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies CAMRIG_* variables from lookup on top of cfg.
// lookup is os.LookupEnv in production.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil || lookup == nil {
		return nil
	}

	var errs error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	flt := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}

	str("CAMRIG_API_BASE_URL", &cfg.API.BaseURL)
	num("CAMRIG_API_REQUEST_TIMEOUT_MS", &cfg.API.RequestTimeoutMS)
	str("CAMRIG_API_NUDGE_ENDPOINT", &cfg.API.NudgeEndpoint)
	flt("CAMRIG_NUDGE_MAX_SPEED_DEG_PER_SEC", &cfg.Nudge.MaxSpeedDegPerS)
	flt("CAMRIG_NUDGE_STEP_DEG", &cfg.Nudge.StepDeg)
	num("CAMRIG_POLL_INTERVAL_MS", &cfg.Poll.IntervalMS)
	num("CAMRIG_UI_PORT", &cfg.UI.Port)
	str("CAMRIG_IPC_SOCKET", &cfg.IPC.SocketPath)
	str("CAMRIG_LOG_LEVEL", &cfg.Logging.Level)
	str("CAMRIG_LOG_FORMAT", &cfg.Logging.Format)
	if v, ok := lookup("CAMRIG_INPUT_DEVICES"); ok && v != "" {
		var devices []string
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				devices = append(devices, d)
			}
		}
		cfg.Input.Devices = devices
		cfg.Input.Enabled = len(devices) > 0
	}

	return errs
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer is non-nil.
// main.go decides which flags exist.
type FlagOverrides struct {
	APIBaseURL       *string
	RequestTimeoutMS *int
	NudgeEndpoint    *string

	NudgeMaxSpeed *float64
	NudgeStepDeg  *float64

	SettingsDebounceMS *int
	PollIntervalMS     *int

	UIPort        *int
	IPCSocketPath *string
	InputDevice   *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.APIBaseURL != nil {
		cfg.API.BaseURL = *o.APIBaseURL
	}
	if o.RequestTimeoutMS != nil {
		cfg.API.RequestTimeoutMS = *o.RequestTimeoutMS
	}
	if o.NudgeEndpoint != nil {
		cfg.API.NudgeEndpoint = *o.NudgeEndpoint
	}

	if o.NudgeMaxSpeed != nil {
		cfg.Nudge.MaxSpeedDegPerS = *o.NudgeMaxSpeed
	}
	if o.NudgeStepDeg != nil {
		cfg.Nudge.StepDeg = *o.NudgeStepDeg
	}

	if o.SettingsDebounceMS != nil {
		cfg.Settings.DebounceMS = *o.SettingsDebounceMS
	}
	if o.PollIntervalMS != nil {
		cfg.Poll.IntervalMS = *o.PollIntervalMS
	}

	if o.UIPort != nil {
		cfg.UI.Port = *o.UIPort
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
		cfg.Input.Enabled = *o.InputDevice != ""
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns every problem found.
// This is intended to be called after defaults + file + env + overrides are applied.
func (c *Config) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	// API
	if c.API.BaseURL == "" {
		fail("api.base_url must not be empty")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		fail("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.RequestTimeoutMS < 0 {
		fail("api.request_timeout_ms must be >= 0")
	}
	if c.API.NudgeEndpoint != nudgeEndpointPanTilt && c.API.NudgeEndpoint != nudgeEndpointPTZ {
		fail("api.nudge_endpoint must be %q or %q", nudgeEndpointPanTilt, nudgeEndpointPTZ)
	}

	// Nudge
	if c.Nudge.Deadzone < 0 || c.Nudge.Deadzone >= 1 {
		fail("nudge.deadzone must be in [0, 1)")
	}
	if c.Nudge.GainExponent <= 0 {
		fail("nudge.gain_exponent must be > 0")
	}
	if c.Nudge.MaxSpeedDegPerS <= 0 {
		fail("nudge.max_speed_deg_per_sec must be > 0")
	}
	if c.Nudge.DragTickMS <= 0 || c.Nudge.HoldTickMS <= 0 {
		fail("nudge.drag_tick_ms and nudge.hold_tick_ms must be > 0")
	}
	if c.Nudge.StepDeg <= 0 || c.Nudge.StepDeg > maxRelativeStepDeg {
		fail("nudge.step_deg must be in (0, %.0f]", maxRelativeStepDeg)
	}
	if c.Nudge.HoldStepDivisor < 1 {
		fail("nudge.hold_step_divisor must be >= 1")
	}
	if c.Nudge.DiscreteRatePerS <= 0 || c.Nudge.DiscreteBurst <= 0 {
		fail("nudge.discrete_rate_per_sec and nudge.discrete_burst must be > 0")
	}

	// Sweep
	if c.Sweep.PanExtentDeg < 0 || c.Sweep.TiltExtentDeg < 0 {
		fail("sweep.pan_extent_deg and sweep.tilt_extent_deg must be >= 0")
	}
	if c.Sweep.StepDeg <= 0 {
		fail("sweep.step_deg must be > 0")
	}
	if c.Sweep.PanStepMS <= 0 || c.Sweep.TiltStepMS <= 0 || c.Sweep.SettleMS < 0 {
		fail("sweep.pan_step_ms and sweep.tilt_step_ms must be > 0, sweep.settle_ms >= 0")
	}

	// Settings / poll / toast
	if c.Settings.DebounceMS < 0 {
		fail("settings.debounce_ms must be >= 0")
	}
	if c.Poll.IntervalMS <= 0 {
		fail("poll.interval_ms must be > 0")
	}
	if c.Poll.UnavailableAfter < 0 {
		fail("poll.unavailable_after must be >= 0")
	}
	if c.Toast.TTLMS <= 0 {
		fail("toast.ttl_ms must be > 0")
	}

	// Servers
	if c.UI.Port < 0 || c.UI.Port > 65535 {
		fail("ui.port must be between 0 and 65535 (0 disables the server)")
	}
	if c.IPC.SocketPath == "" {
		fail("ipc.socket_path must not be empty")
	}

	// Input
	if c.Input.Enabled {
		if len(c.Input.Devices) == 0 {
			fail("input.enabled is true but input.devices is empty")
		}
		for i, dev := range c.Input.Devices {
			if dev == "" {
				fail("input.devices[%d] is empty", i)
			}
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		fail("logging.level: %v", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "text" && f != "json" {
		fail("logging.format must be \"text\" or \"json\"")
	}

	return errs
}

// NudgeParams converts the file config into the reducer's nudge parameters.
func (c *Config) NudgeParams() NudgeParams {
	return NudgeParams{
		Deadzone:        c.Nudge.Deadzone,
		GainExponent:    c.Nudge.GainExponent,
		MaxSpeedDegPerS: c.Nudge.MaxSpeedDegPerS,
		DragTick:        time.Duration(c.Nudge.DragTickMS) * time.Millisecond,
		HoldTick:        time.Duration(c.Nudge.HoldTickMS) * time.Millisecond,
		StepDeg:         c.Nudge.StepDeg,
		HoldStepDivisor: c.Nudge.HoldStepDivisor,
	}
}

// SweepParams converts the file config into sweep plan/timing parameters.
func (c *Config) SweepParams() SweepParams {
	return SweepParams{
		PanExtentDeg:  c.Sweep.PanExtentDeg,
		TiltExtentDeg: c.Sweep.TiltExtentDeg,
		StepDeg:       c.Sweep.StepDeg,
		PanStep:       time.Duration(c.Sweep.PanStepMS) * time.Millisecond,
		TiltStep:      time.Duration(c.Sweep.TiltStepMS) * time.Millisecond,
		Settle:        time.Duration(c.Sweep.SettleMS) * time.Millisecond,
	}
}

// ReducerConfig collects everything Reduce() needs from the config.
func (c *Config) ReducerConfig() ReducerConfig {
	return ReducerConfig{
		Nudge:            c.NudgeParams(),
		Sweep:            c.SweepParams(),
		UnavailableAfter: c.Poll.UnavailableAfter,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
