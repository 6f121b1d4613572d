package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("camrigd v%s\n", version)
	fmt.Println("Pan/tilt and camera settings controller for the Raspberry Pi camera rig")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  camrigd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that drives the camera rig's HTTP API: joystick and keypad nudges,")
	fmt.Println("  an automatic monitoring sweep, debounced camera settings updates and")
	fmt.Println("  pan/tilt polling. UI clients connect over a state websocket; scripts use")
	fmt.Println("  the IPC socket (see camrig-ctl).")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.CommandLine.SetOutput(os.Stdout)
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  CAMRIG_API_BASE_URL, CAMRIG_API_REQUEST_TIMEOUT_MS, CAMRIG_API_NUDGE_ENDPOINT,")
	fmt.Println("  CAMRIG_NUDGE_MAX_SPEED_DEG_PER_SEC, CAMRIG_NUDGE_STEP_DEG, CAMRIG_POLL_INTERVAL_MS,")
	fmt.Println("  CAMRIG_UI_PORT, CAMRIG_IPC_SOCKET, CAMRIG_LOG_LEVEL, CAMRIG_LOG_FORMAT,")
	fmt.Println("  CAMRIG_INPUT_DEVICES (comma-separated; enables keypad input)")
	fmt.Println()
	fmt.Println("  Precedence: defaults < -config file < environment (.env) < flags")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start against a rig on the local network")
	fmt.Println("  camrigd -api-base-url http://campi.local:8000")
	fmt.Println()
	fmt.Println("  # Use a YAML config and a USB keypad")
	fmt.Println("  camrigd -config ~/.config/camrigd.yaml -input /dev/input/event3")
	fmt.Println()
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		envFile    = flag.String("env-file", ".env", "Path to .env file with CAMRIG_* variables (missing file is ignored)")

		apiBaseURL       = flag.String("api-base-url", "", "Camera rig API base URL (default \"http://127.0.0.1:8000\")")
		requestTimeoutMS = flag.Int("api-request-timeout-ms", 0, "Per-request timeout in ms (0 disables)")
		nudgeEndpoint    = flag.String("api-nudge-endpoint", "", "Discrete nudge endpoint: pantilt|ptz (default \"pantilt\")")

		nudgeMaxSpeed = flag.Float64("nudge-max-speed-deg-per-sec", 0, fmt.Sprintf("Joystick full-deflection speed in deg/s (default %.1f)", defaultMaxSpeedDegPS))
		nudgeStepDeg  = flag.Float64("nudge-step-deg", 0, fmt.Sprintf("Discrete nudge step in degrees (default %.1f)", defaultDiscreteStep))

		settingsDebounceMS = flag.Int("settings-debounce-ms", 0, fmt.Sprintf("Settings coalescing window in ms (default %d)", defaultSettingsDebounceMS))
		pollIntervalMS     = flag.Int("poll-interval-ms", 0, fmt.Sprintf("Pan/tilt poll interval in ms (default %d)", defaultPollIntervalMS))

		uiPort        = flag.Int("ui-port", 0, "UI HTTP/websocket listener port (default 3001; 0 in config disables)")
		ipcSocketPath = flag.String("ipc-socket", "", "Unix domain socket path for IPC (default \"/tmp/camrigd.sock\")")
		inputDevice   = flag.String("input", "", "Linux input event device for a keypad (enables keypad input)")

		logLevel  = flag.String("log-level", "", "Log level: error, warn, info, debug (default \"info\")")
		logFormat = flag.String("log-format", "", "Log format: text, json (default \"text\")")

		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print this help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only explicitly set flags override the config file and environment.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var ov FlagOverrides
	if set["api-base-url"] {
		ov.APIBaseURL = apiBaseURL
	}
	if set["api-request-timeout-ms"] {
		ov.RequestTimeoutMS = requestTimeoutMS
	}
	if set["api-nudge-endpoint"] {
		ov.NudgeEndpoint = nudgeEndpoint
	}
	if set["nudge-max-speed-deg-per-sec"] {
		ov.NudgeMaxSpeed = nudgeMaxSpeed
	}
	if set["nudge-step-deg"] {
		ov.NudgeStepDeg = nudgeStepDeg
	}
	if set["settings-debounce-ms"] {
		ov.SettingsDebounceMS = settingsDebounceMS
	}
	if set["poll-interval-ms"] {
		ov.PollIntervalMS = pollIntervalMS
	}
	if set["ui-port"] {
		ov.UIPort = uiPort
	}
	if set["ipc-socket"] {
		ov.IPCSocketPath = ipcSocketPath
	}
	if set["input"] {
		ov.InputDevice = inputDevice
	}
	if set["log-level"] {
		ov.LogLevel = logLevel
	}
	if set["log-format"] {
		ov.LogFormat = logFormat
	}

	cfg, err := loadConfig(*configPath, *envFile, ov)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level) // validated above
	logger := setupLogger(level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, clock.New(), logger); err != nil {
		logger.Error("camrigd stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig layers defaults, the YAML file, CAMRIG_* environment and flags, then validates.
func loadConfig(configPath, envFile string, ov FlagOverrides) (Config, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(configPath); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// run wires every component and blocks until ctx is canceled or one of them fails.
func run(ctx context.Context, cfg Config, clk clock.Clock, logger *slog.Logger) error {
	logger.Debug("starting camrigd", "version", version)
	logger.Debug("configuration",
		"api_base_url", cfg.API.BaseURL,
		"api_request_timeout_ms", cfg.API.RequestTimeoutMS,
		"api_nudge_endpoint", cfg.API.NudgeEndpoint,
		"nudge_max_speed_deg_per_sec", cfg.Nudge.MaxSpeedDegPerS,
		"nudge_step_deg", cfg.Nudge.StepDeg,
		"settings_debounce_ms", cfg.Settings.DebounceMS,
		"poll_interval_ms", cfg.Poll.IntervalMS,
		"poll_unavailable_after", cfg.Poll.UnavailableAfter,
		"ui_port", cfg.UI.Port,
		"ipc_socket", cfg.IPC.SocketPath,
		"input_enabled", cfg.Input.Enabled,
		"input_devices", cfg.Input.Devices)

	g, ctx := errgroup.WithContext(ctx)

	api := NewRigClient(cfg.API.BaseURL, time.Duration(cfg.API.RequestTimeoutMS)*time.Millisecond)
	seq := &requestSeq{}

	// Central event bus: actions from every surface plus effect observations.
	events := make(chan Event, 128)
	post := postEvent(ctx, events)

	broadcasts := make(chan StateBroadcast, 128)

	coalescer := NewSettingsCoalescer(api, clk, time.Duration(cfg.Settings.DebounceMS)*time.Millisecond, logger)
	sweeper := NewSweeper(api, clk, cfg.SweepParams(), seq, func(st PanTiltState, s uint64) {
		post(PanTiltObserved{State: st, Seq: s, At: clk.Now()})
	}, logger)
	toaster := NewToaster(clk, time.Duration(cfg.Toast.TTLMS)*time.Millisecond, func(id string) {
		post(ToastExpired{ID: id, At: clk.Now()})
	})

	fx := NewEffects(ctx, EffectsConfig{
		API:           api,
		Clock:         clk,
		Seq:           seq,
		Coalescer:     coalescer,
		Sweeper:       sweeper,
		Toaster:       toaster,
		NudgeRate:     rate.Limit(cfg.Nudge.DiscreteRatePerS),
		NudgeBurst:    cfg.Nudge.DiscreteBurst,
		NudgeEndpoint: cfg.API.NudgeEndpoint,
	}, post, logger)

	poller := NewPoller(api, clk, time.Duration(cfg.Poll.IntervalMS)*time.Millisecond, seq,
		func(st PanTiltState, s uint64) {
			post(PanTiltObserved{State: st, Seq: s, At: clk.Now()})
		},
		func(err error) {
			post(PanTiltPollFailed{Err: err, At: clk.Now()})
		},
		logger)

	g.Go(func() error {
		runDaemon(ctx, events, fx, cfg.ReducerConfig(), &DaemonState{}, broadcasts, clk, logger)
		return nil
	})
	g.Go(func() error {
		coalescer.Run(ctx)
		return nil
	})
	g.Go(func() error {
		poller.Run(ctx)
		return nil
	})

	g.Go(func() error {
		if err := runIPCServer(ctx, ExpandPath(cfg.IPC.SocketPath), events, logger); err != nil {
			return fmt.Errorf("ipc server: %w", err)
		}
		return nil
	})

	if cfg.UI.Port > 0 {
		ws := NewServer(ctx, logger, events, ServerConfig{AllowedOrigins: cfg.UI.AllowedOrigins})
		g.Go(func() error {
			ws.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, ws.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runUIServer(ctx, cfg.UI.Port, newUIMux(ws, api, logger), logger)
		})
	} else {
		// No UI: keep draining broadcasts so the daemon never logs drops.
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-broadcasts:
				}
			}
		})
	}

	if cfg.Input.Enabled {
		g.Go(func() error {
			return runInput(ctx, cfg.Input.Devices, cfg.Nudge.StepDeg, events, logger)
		})
	}

	logger.Info("listening",
		"rig", cfg.API.BaseURL,
		"ipc", cfg.IPC.SocketPath,
		"ui_port", cfg.UI.Port,
		"input", cfg.Input.Enabled)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
