package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// camrig-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the camrigd daemon via IPC, and fetches still
// frames straight from the rig's HTTP API.
//
// Usage:
//   camrig-ctl left 5
//   camrig-ctl nudge -10 2.5
//   camrig-ctl monitor toggle
//   camrig-ctl set brightness=0.2 wb_preset=daylight
//   camrig-ctl state
//   camrig-ctl snapshot -o frame.jpg
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/camrigd.sock)
//   -api URL        Rig base URL for snapshot (default: http://127.0.0.1:8000)
// ============================================================================

// Action types (duplicated from the daemon package for a standalone binary)
type Action interface{}

type Nudge struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
}

type HoldStart struct {
	Pan  int `json:"pan"`
	Tilt int `json:"tilt"`
}

type HoldRelease struct{}

type SetMonitoring struct {
	Enabled bool `json:"enabled"`
}

type ToggleMonitoring struct{}

type Home struct{}

type PatchSettings struct {
	Patch     map[string]any `json:"patch"`
	Immediate bool           `json:"immediate,omitempty"`
}

type ResetSettings struct{}

type DismissToast struct {
	ID string `json:"id"`
}

// getState is the IPC-only state query.
type getState struct{}

// EventEnvelope wraps actions for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

const defaultStepDeg = 5.0

func main() {
	socketPath := "/tmp/camrigd.sock"
	apiURL := "http://127.0.0.1:8000"

	args := os.Args[1:]

	// Leading options
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				fatalf("-socket requires an argument")
			}
			socketPath = args[1]
			args = args[2:]
		case "-api", "--api":
			if len(args) < 2 {
				fatalf("-api requires an argument")
			}
			apiURL = args[1]
			args = args[2:]
		case "-h", "--help":
			printUsage()
			os.Exit(0)
		default:
			fatalf("unknown option: %s", args[0])
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var action Action

	switch args[0] {
	case "left", "right", "up", "down":
		step := defaultStepDeg
		if len(args) > 1 {
			step = parseFloat(args[1], "step")
		}
		pan, tilt := direction(args[0])
		action = Nudge{PanDeg: float64(pan) * step, TiltDeg: float64(tilt) * step}

	case "nudge":
		if len(args) < 3 {
			fatalf("nudge requires <pan_deg> <tilt_deg>")
		}
		action = Nudge{PanDeg: parseFloat(args[1], "pan_deg"), TiltDeg: parseFloat(args[2], "tilt_deg")}

	case "hold":
		if len(args) < 2 {
			fatalf("hold requires a direction (left, right, up, down)")
		}
		pan, tilt := direction(args[1])
		if pan == 0 && tilt == 0 {
			fatalf("invalid direction: %s", args[1])
		}
		action = HoldStart{Pan: pan, Tilt: tilt}

	case "release":
		action = HoldRelease{}

	case "monitor":
		if len(args) < 2 {
			fatalf("monitor requires on, off or toggle")
		}
		switch args[1] {
		case "on":
			action = SetMonitoring{Enabled: true}
		case "off":
			action = SetMonitoring{Enabled: false}
		case "toggle":
			action = ToggleMonitoring{}
		default:
			fatalf("monitor requires on, off or toggle, got %q", args[1])
		}

	case "home":
		action = Home{}

	case "set":
		patch, immediate := parsePatch(args[1:])
		if len(patch) == 0 {
			fatalf("set requires at least one key=value")
		}
		action = PatchSettings{Patch: patch, Immediate: immediate}

	case "reset":
		action = ResetSettings{}

	case "dismiss":
		if len(args) < 2 {
			fatalf("dismiss requires a toast id")
		}
		action = DismissToast{ID: args[1]}

	case "state":
		action = getState{}

	case "snapshot":
		out := "snapshot.jpg"
		if len(args) >= 3 && args[1] == "-o" {
			out = args[2]
		}
		if err := saveSnapshot(apiURL, out); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(out)
		return

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := sendAction(socketPath, action)
	if err != nil {
		fatalf("%v", err)
	}

	if len(resp.State) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(resp.State, &pretty); err == nil {
			b, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(b))
			return
		}
		fmt.Println(string(resp.State))
		return
	}

	fmt.Println("ok")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func direction(name string) (pan, tilt int) {
	switch name {
	case "left":
		return -1, 0
	case "right":
		return 1, 0
	case "up":
		return 0, 1
	case "down":
		return 0, -1
	}
	return 0, 0
}

func parseFloat(s, what string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fatalf("invalid %s: %v", what, err)
	}
	return v
}

// parsePatch turns key=value arguments into a settings patch. Values are sent as
// bool or number when they parse as one, otherwise as strings. "-now" skips the
// daemon's debounce window.
func parsePatch(args []string) (map[string]any, bool) {
	patch := make(map[string]any)
	immediate := false
	for _, arg := range args {
		if arg == "-now" || arg == "--now" {
			immediate = true
			continue
		}
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			fatalf("invalid setting %q (want key=value)", arg)
		}
		if b, err := strconv.ParseBool(raw); err == nil {
			patch[key] = b
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			patch[key] = f
		} else {
			patch[key] = raw
		}
	}
	return patch, immediate
}

func sendAction(socketPath string, action Action) (IPCResponse, error) {
	// Connect to socket
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	// Marshal action
	data, err := marshalAction(action)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal action: %w", err)
	}

	// Send action (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send action: %w", err)
	}

	// Read response
	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	// Check response status
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}

	return response, nil
}

func marshalAction(action Action) ([]byte, error) {
	var env EventEnvelope

	withData := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
		return nil
	}

	var err error
	switch a := action.(type) {
	case Nudge:
		env.Type = "nudge"
		err = withData("Nudge", a)
	case HoldStart:
		env.Type = "hold_start"
		err = withData("HoldStart", a)
	case HoldRelease:
		env.Type = "hold_release"
	case SetMonitoring:
		env.Type = "set_monitoring"
		err = withData("SetMonitoring", a)
	case ToggleMonitoring:
		env.Type = "toggle_monitoring"
	case Home:
		env.Type = "home"
	case PatchSettings:
		env.Type = "patch_settings"
		err = withData("PatchSettings", a)
	case ResetSettings:
		env.Type = "reset_settings"
	case DismissToast:
		env.Type = "dismiss_toast"
		err = withData("DismissToast", a)
	case getState:
		env.Type = "get_state"
	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}

// saveSnapshot fetches a single JPEG from the rig and writes it to path.
func saveSnapshot(apiURL, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := strings.TrimRight(apiURL, "/") + "/api/snapshot.jpg"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("snapshot failed: %s", msg)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `camrig-ctl - Control the camrigd daemon via IPC

Usage:
  camrig-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/camrigd.sock)
  -api URL        Rig base URL, used by snapshot (default: http://127.0.0.1:8000)

Commands:
  left|right|up|down [deg]    Nudge one step (default 5 degrees)
  nudge <pan> <tilt>          Nudge by an arbitrary delta in degrees
  hold <direction>            Start continuous motion (as a held button)
  release                     Stop continuous motion
  monitor on|off|toggle       Control the monitoring sweep
  home                        Stop monitoring and move to home
  set key=value... [-now]     Patch camera settings (e.g. ev=0.5 wb_preset=daylight)
  reset                       Restore default camera settings
  dismiss <id>                Dismiss a toast
  state                       Print the daemon's current state
  snapshot [-o FILE]          Save a still frame from the rig (default snapshot.jpg)
  help, -h, --help            Show this help message

Examples:
  camrig-ctl monitor toggle
  camrig-ctl set brightness=0.1 contrast=1.2 -now
  camrig-ctl -socket /run/camrigd.sock home
`)
}
