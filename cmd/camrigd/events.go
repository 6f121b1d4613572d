package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types - Command-based Architecture
// ============================================================================
// Actions represent intent from the input surfaces (state websocket joystick,
// keypad, IPC). The central daemon loop consumes these actions and applies policy.
// ============================================================================

// Action is a marker interface for all user intents.
//
// Actions also implement the reducer's Event marker so they can be reduced directly
// (wrap them in TimedEvent to attach a timestamp).
type Action interface {
	eventMarker()
	actionMarker()
}

// DragUpdate reports the latest joystick displacement. It does not send anything
// by itself; the nudge tick loop does.
type DragUpdate struct {
	X float64 `json:"x"` // pan, right positive, [-1, 1]
	Y float64 `json:"y"` // tilt, up positive, [-1, 1]
}

func (DragUpdate) eventMarker() {}
func (DragUpdate) actionMarker() {}

// DragRelease ends a joystick drag.
type DragRelease struct{}

func (DragRelease) eventMarker() {}
func (DragRelease) actionMarker() {}

// Nudge requests a single relative move (key press or click).
type Nudge struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
}

func (Nudge) eventMarker() {}
func (Nudge) actionMarker() {}

// HoldStart indicates a direction button is being held.
type HoldStart struct {
	Pan  int `json:"pan"`  // -1 left, 0 none, +1 right
	Tilt int `json:"tilt"` // -1 down, 0 none, +1 up
}

func (HoldStart) eventMarker() {}
func (HoldStart) actionMarker() {}

// HoldRelease indicates all direction buttons have been released.
type HoldRelease struct{}

func (HoldRelease) eventMarker() {}
func (HoldRelease) actionMarker() {}

// SetMonitoring turns the monitoring sweep on or off.
type SetMonitoring struct {
	Enabled bool `json:"enabled"`
}

func (SetMonitoring) eventMarker() {}
func (SetMonitoring) actionMarker() {}

// ToggleMonitoring flips the monitoring sweep.
type ToggleMonitoring struct{}

func (ToggleMonitoring) eventMarker() {}
func (ToggleMonitoring) actionMarker() {}

// Home stops monitoring (if active) and moves the rig to its home position.
type Home struct{}

func (Home) eventMarker() {}
func (Home) actionMarker() {}

// PatchSettings applies a partial settings update.
// Immediate skips the debounce window (flushes now).
type PatchSettings struct {
	Patch     SettingsPatch `json:"patch"`
	Immediate bool          `json:"immediate,omitempty"`
}

func (PatchSettings) eventMarker() {}
func (PatchSettings) actionMarker() {}

// ResetSettings restores the camera's default settings (flushed immediately).
type ResetSettings struct{}

func (ResetSettings) eventMarker() {}
func (ResetSettings) actionMarker() {}

// DismissToast removes a toast before its TTL elapses.
type DismissToast struct {
	ID string `json:"id"`
}

func (DismissToast) eventMarker() {}
func (DismissToast) actionMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps actions for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	decode := func(name string, v any) error {
		if len(env.Data) == 0 {
			return fmt.Errorf("unmarshal %s: missing data", name)
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", name, err)
		}
		return nil
	}

	switch env.Type {
	case "drag_update":
		var a DragUpdate
		if err := decode("DragUpdate", &a); err != nil {
			return nil, err
		}
		return a, nil

	case "drag_release":
		return DragRelease{}, nil

	case "nudge":
		var a Nudge
		if err := decode("Nudge", &a); err != nil {
			return nil, err
		}
		return a, nil

	case "hold_start":
		var a HoldStart
		if err := decode("HoldStart", &a); err != nil {
			return nil, err
		}
		return a, nil

	case "hold_release":
		return HoldRelease{}, nil

	case "set_monitoring":
		var a SetMonitoring
		if err := decode("SetMonitoring", &a); err != nil {
			return nil, err
		}
		return a, nil

	case "toggle_monitoring":
		return ToggleMonitoring{}, nil

	case "home":
		return Home{}, nil

	case "patch_settings":
		var a PatchSettings
		if err := decode("PatchSettings", &a); err != nil {
			return nil, err
		}
		if len(a.Patch) == 0 {
			return nil, fmt.Errorf("unmarshal PatchSettings: empty patch")
		}
		return a, nil

	case "reset_settings":
		return ResetSettings{}, nil

	case "dismiss_toast":
		var a DismissToast
		if err := decode("DismissToast", &a); err != nil {
			return nil, err
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
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
	switch e := e.(type) {
	case DragUpdate:
		env.Type = "drag_update"
		err = withData("DragUpdate", e)
	case DragRelease:
		env.Type = "drag_release"
	case Nudge:
		env.Type = "nudge"
		err = withData("Nudge", e)
	case HoldStart:
		env.Type = "hold_start"
		err = withData("HoldStart", e)
	case HoldRelease:
		env.Type = "hold_release"
	case SetMonitoring:
		env.Type = "set_monitoring"
		err = withData("SetMonitoring", e)
	case ToggleMonitoring:
		env.Type = "toggle_monitoring"
	case Home:
		env.Type = "home"
	case PatchSettings:
		env.Type = "patch_settings"
		err = withData("PatchSettings", e)
	case ResetSettings:
		env.Type = "reset_settings"
	case DismissToast:
		env.Type = "dismiss_toast"
		err = withData("DismissToast", e)
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}
