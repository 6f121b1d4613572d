package main

import (
	"errors"
	"fmt"
	"time"
)

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (user actions, nudge ticks, rig observations, failures)
//   - Commands: side effects requested by the reducer (rig requests, sweep control, toasts)
//   - Broadcasts: state changes to publish to websocket clients
//   - Reduce(): computes next state + commands + broadcasts, without performing I/O
//
// The reducer must be pure. The daemon loop is responsible for executing Commands
// and feeding observations back as Events.

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
// It can be a user Action, a nudge tick, or an observation/error from the effects layer.
type Event interface {
	eventMarker()
}

// TimedEvent wraps an Action with the time the daemon received it.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// DaemonStarted is reduced once when the daemon loop starts.
type DaemonStarted struct {
	At time.Time
}

func (DaemonStarted) eventMarker() {}

// NudgeTick is emitted by the daemon loop while a drag or hold is active.
type NudgeTick struct {
	Now      time.Time
	Interval time.Duration
}

func (NudgeTick) eventMarker() {}

// PanTiltObserved carries a pan/tilt state returned by the rig (poll or move
// response). Seq is the request's issue sequence.
type PanTiltObserved struct {
	State PanTiltState
	Seq   uint64
	At    time.Time
}

func (PanTiltObserved) eventMarker() {}

// PanTiltPollFailed is emitted when a periodic poll fails.
type PanTiltPollFailed struct {
	Err error
	At  time.Time
}

func (PanTiltPollFailed) eventMarker() {}

// MoveFailed is emitted when a user-initiated move or home request fails.
type MoveFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (MoveFailed) eventMarker() {}

// SettingsObserved carries the initial settings fetch result.
// Pending holds local patches not yet confirmed by the rig.
type SettingsObserved struct {
	Settings CameraSettings
	Pending  SettingsPatch
	At       time.Time
}

func (SettingsObserved) eventMarker() {}

// SettingsFetchFailed is emitted when the initial settings fetch fails.
type SettingsFetchFailed struct {
	Err error
	At  time.Time
}

func (SettingsFetchFailed) eventMarker() {}

// SettingsFlushed reports the outcome of one coalesced settings flush.
// Every caller in the batch reports the same FlushID.
type SettingsFlushed struct {
	FlushID  uint64
	Settings CameraSettings
	Err      error
	Pending  SettingsPatch
	At       time.Time
}

func (SettingsFlushed) eventMarker() {}

// ToastShown is emitted once a toast has been created.
type ToastShown struct {
	Toast Toast
}

func (ToastShown) eventMarker() {}

// ToastExpired is emitted when a toast's TTL elapses.
type ToastExpired struct {
	ID string
	At time.Time
}

func (ToastExpired) eventMarker() {}

// RequestStateSnapshot asks the daemon for a StateSnapshot.
// It is internal (not JSON-encodable).
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is a reducer-emitted state change for websocket clients.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastPanTiltChanged reports a new cached pan/tilt state (nil when unavailable).
type BroadcastPanTiltChanged struct {
	State *PanTiltState
	At    time.Time
}

func (BroadcastPanTiltChanged) broadcastMarker() {}

// BroadcastSettingsChanged reports new displayed/confirmed settings.
type BroadcastSettingsChanged struct {
	Settings  CameraSettings
	Confirmed CameraSettings
	At        time.Time
}

func (BroadcastSettingsChanged) broadcastMarker() {}

// BroadcastMonitoringChanged reports the monitoring flag.
type BroadcastMonitoringChanged struct {
	Active bool
	Plan   *SweepPlan
	Reason string
	At     time.Time
}

func (BroadcastMonitoringChanged) broadcastMarker() {}

// BroadcastToast reports a new toast.
type BroadcastToast struct {
	Toast Toast
}

func (BroadcastToast) broadcastMarker() {}

// BroadcastToastDismissed reports a toast removal.
type BroadcastToastDismissed struct {
	ID string
	At time.Time
}

func (BroadcastToastDismissed) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReducerConfig is the reducer's static configuration.
type ReducerConfig struct {
	Nudge NudgeParams
	Sweep SweepParams

	// UnavailableAfter is the number of consecutive poll failures after which the
	// cached pan/tilt state is dropped. 0 keeps the last state.
	UnavailableAfter int
}

// DefaultReducerConfig returns the built-in reducer configuration.
func DefaultReducerConfig() ReducerConfig {
	return ReducerConfig{
		Nudge:            DefaultNudgeParams(),
		Sweep:            DefaultSweepParams(),
		UnavailableAfter: defaultUnavailableAfter,
	}
}

// ReduceResult is the output of Reduce(): next state plus Commands to execute and
// Broadcasts to publish.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

func (r *ReduceResult) cmd(c Command) { r.Commands = append(r.Commands, c) }
func (r *ReduceResult) broadcast(b StateBroadcast) { r.Broadcasts = append(r.Broadcasts, b) }

func (r *ReduceResult) toast(level ToastLevel, format string, args ...any) {
	r.cmd(CmdShowToast{Level: level, Message: fmt.Sprintf(format, args...)})
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *DaemonState, e Event, cfg ReducerConfig) ReduceResult {
	if s == nil {
		s = &DaemonState{}
	}
	out := ReduceResult{State: s}

	switch ev := e.(type) {
	case TimedEvent:
		reduceAction(s, ev.Event, ev.At, cfg, &out)

	case DaemonStarted:
		out.cmd(CmdFetchSettings{})

	case NudgeTick:
		reduceNudgeTick(s, ev, cfg, &out)

	case PanTiltObserved:
		prev := s.Rig.Snapshot()
		if !s.Rig.Observe(ev.State, ev.Seq, ev.At) {
			break
		}
		s.Rig.PollFailures = 0
		if prev == nil || *prev != ev.State {
			out.broadcast(BroadcastPanTiltChanged{State: s.Rig.Snapshot(), At: ev.At})
		}

	case PanTiltPollFailed:
		s.Rig.PollFailures++
		if cfg.UnavailableAfter <= 0 || s.Rig.PollFailures < cfg.UnavailableAfter || !s.Rig.Known {
			break
		}
		s.Rig.Clear()
		out.broadcast(BroadcastPanTiltChanged{State: nil, At: ev.At})
		stopMonitoring(s, "pantilt_unavailable", false, ev.At, &out)

	case MoveFailed:
		out.toast(ToastError, "%s failed: %s", moveLabel(ev.Command), errText(ev.Err))

	case SettingsObserved:
		s.Settings.Confirm(ev.Settings, ev.Pending)
		out.broadcast(settingsBroadcast(s, ev.At))

	case SettingsFetchFailed:
		out.toast(ToastError, "Could not load camera settings: %s", errText(ev.Err))

	case SettingsFlushed:
		if ev.FlushID != 0 && !s.Settings.MarkFlush(ev.FlushID) {
			break
		}
		// Flushes run in order, but their results can be posted out of order.
		stale := ev.FlushID != 0 && ev.FlushID < s.Settings.LastFlushID
		if ev.FlushID > s.Settings.LastFlushID {
			s.Settings.LastFlushID = ev.FlushID
		}
		switch {
		case ev.Err != nil:
			s.Settings.Rollback(ev.Pending)
			out.toast(ToastError, "Settings update failed: %s", errText(ev.Err))
		case stale:
			// A newer flush already confirmed the rig's settings.
		default:
			s.Settings.Confirm(ev.Settings, ev.Pending)
		}
		out.broadcast(settingsBroadcast(s, ev.At))

	case ToastShown:
		s.AddToast(ev.Toast)
		out.broadcast(BroadcastToast{Toast: ev.Toast})

	case ToastExpired:
		if s.RemoveToast(ev.ID) {
			out.broadcast(BroadcastToastDismissed{ID: ev.ID, At: ev.At})
		}

	case RequestStateSnapshot:
		out.cmd(CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	case Action:
		// Untimed action (tests, internal callers).
		reduceAction(s, ev, time.Time{}, cfg, &out)
	}

	return out
}

func reduceAction(s *DaemonState, e Event, at time.Time, cfg ReducerConfig, out *ReduceResult) {
	switch a := e.(type) {
	case DragUpdate:
		if s.Monitoring.Active {
			return
		}
		s.Nudge.Source = NudgeDrag
		s.Nudge.Vector = Vector{X: a.X, Y: a.Y}.Normalized()
		s.Nudge.HoldPan, s.Nudge.HoldTilt = 0, 0

	case DragRelease:
		if s.Nudge.Source == NudgeDrag {
			s.Nudge.Reset()
		}

	case HoldStart:
		if s.Monitoring.Active {
			return
		}
		pan, tilt := sign(a.Pan), sign(a.Tilt)
		if pan == 0 && tilt == 0 {
			if s.Nudge.Source == NudgeHold {
				s.Nudge.Reset()
			}
			return
		}
		s.Nudge.Source = NudgeHold
		s.Nudge.Vector = Vector{}
		s.Nudge.HoldPan, s.Nudge.HoldTilt = pan, tilt

	case HoldRelease:
		if s.Nudge.Source == NudgeHold {
			s.Nudge.Reset()
		}

	case Nudge:
		if s.Monitoring.Active {
			return
		}
		dpan, dtilt, ok := discreteDelta(a.PanDeg, a.TiltDeg)
		if !ok {
			return
		}
		if dpan, dtilt, ok = clampRelative(s.Rig, dpan, dtilt); ok {
			out.cmd(CmdNudge{DPanDeg: dpan, DTiltDeg: dtilt})
		}

	case SetMonitoring:
		if a.Enabled {
			startMonitoring(s, at, cfg, out)
		} else {
			stopMonitoring(s, "toggled_off", false, at, out)
		}

	case ToggleMonitoring:
		if s.Monitoring.Active {
			stopMonitoring(s, "toggled_off", false, at, out)
		} else {
			startMonitoring(s, at, cfg, out)
		}

	case Home:
		s.Nudge.Reset()
		stopMonitoring(s, "home", true, at, out)

	case PatchSettings:
		patchSettings(s, a.Patch, a.Immediate, at, out)

	case ResetSettings:
		patchSettings(s, DefaultCameraSettings().AsPatch(), true, at, out)

	case DismissToast:
		if s.RemoveToast(a.ID) {
			out.cmd(CmdDismissToast{ID: a.ID})
			out.broadcast(BroadcastToastDismissed{ID: a.ID, At: at})
		}
	}
}

func reduceNudgeTick(s *DaemonState, ev NudgeTick, cfg ReducerConfig, out *ReduceResult) {
	if s.Monitoring.Active {
		return
	}

	var dpan, dtilt float64
	var ok bool
	switch s.Nudge.Source {
	case NudgeDrag:
		dpan, dtilt, ok = nudgeDelta(s.Nudge.Vector, cfg.Nudge, ev.Interval)
	case NudgeHold:
		dpan, dtilt, ok = holdDelta(s.Nudge.HoldPan, s.Nudge.HoldTilt, cfg.Nudge)
	}
	if !ok {
		return
	}
	if dpan, dtilt, ok = clampRelative(s.Rig, dpan, dtilt); ok {
		out.cmd(CmdMoveRelative{DPanDeg: dpan, DTiltDeg: dtilt})
	}
}

// clampRelative limits a relative move so the target stays within the last-known
// limits. With no cached state the move passes unchanged (the rig enforces limits).
func clampRelative(rig LimitStore, dpan, dtilt float64) (float64, float64, bool) {
	if rig.Known {
		st := rig.State
		pan, tilt := st.ClampTarget(st.PanDeg+dpan, st.TiltDeg+dtilt)
		dpan, dtilt = pan-st.PanDeg, tilt-st.TiltDeg
	}
	const eps = 1e-9
	if dpan > -eps && dpan < eps && dtilt > -eps && dtilt < eps {
		return 0, 0, false
	}
	return dpan, dtilt, true
}

func startMonitoring(s *DaemonState, at time.Time, cfg ReducerConfig, out *ReduceResult) {
	if s.Monitoring.Active {
		return
	}
	if !s.Rig.Known {
		out.toast(ToastError, "Pan/tilt not ready")
		return
	}

	plan := DeriveSweepPlan(s.Rig.State.Limits, cfg.Sweep)
	s.Nudge.Reset()
	s.Monitoring = MonitoringState{Active: true, Plan: plan, Since: at}

	out.cmd(CmdStartSweep{Plan: plan})
	out.broadcast(BroadcastMonitoringChanged{Active: true, Plan: &plan, At: at})
}

// stopMonitoring clears the monitoring flag and cancels the sweep. With thenHome a
// home request follows, after the sweep has stopped if one was running.
func stopMonitoring(s *DaemonState, reason string, thenHome bool, at time.Time, out *ReduceResult) {
	if !s.Monitoring.Active {
		if thenHome {
			out.cmd(CmdHome{})
		}
		return
	}
	s.Monitoring = MonitoringState{}
	out.cmd(CmdStopSweep{ThenHome: thenHome})
	out.broadcast(BroadcastMonitoringChanged{Active: false, Reason: reason, At: at})
}

func patchSettings(s *DaemonState, patch SettingsPatch, immediate bool, at time.Time, out *ReduceResult) {
	if len(patch) == 0 {
		return
	}
	if err := s.Settings.ApplyOptimistic(patch); err != nil {
		out.toast(ToastError, "Invalid settings: %s", errText(err))
		return
	}
	out.cmd(CmdPatchSettings{Patch: patch.Clone(), Immediate: immediate})
	out.broadcast(settingsBroadcast(s, at))
}

func settingsBroadcast(s *DaemonState, at time.Time) BroadcastSettingsChanged {
	return BroadcastSettingsChanged{
		Settings:  s.Settings.Displayed,
		Confirmed: s.Settings.Confirmed,
		At:        at,
	}
}

func moveLabel(c Command) string {
	switch c.(type) {
	case CmdHome:
		return "Home"
	case CmdNudge:
		return "Nudge"
	case CmdMoveRelative:
		return "Pan/tilt move"
	default:
		return "Request"
	}
}

// errText returns a human-readable message, preferring the rig's own text.
func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
