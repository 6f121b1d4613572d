package main

import (
	"slices"
	"time"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Goals:
//   - Keep all reducer-owned state in one place (pure reducer, no external mutation).
//   - Cache what the rig last reported (pan/tilt, settings) next to local intent
//     (joystick input, monitoring, optimistic settings).
//   - Make it easy to publish a coherent snapshot to other clients (IPC/UI/etc).
type DaemonState struct {
	// Rig is the cached pan/tilt state and limits.
	Rig LimitStore

	// Nudge is the continuous nudge input (joystick drag or held button).
	Nudge NudgeState

	// Monitoring is the sweep controller's flag and plan.
	Monitoring MonitoringState

	// Settings is the optimistic camera settings view.
	Settings SettingsView

	// Toasts are the currently visible notifications, oldest first.
	Toasts []Toast
}

// MonitoringState is the reducer's view of the monitoring sweep.
// The running sweep goroutine observes cancellation through its own token, which
// the effects layer cancels when Active goes false.
type MonitoringState struct {
	Active bool
	Plan   SweepPlan
	Since  time.Time
}

// StateSnapshot is a coherent copy of the daemon state for external consumers.
type StateSnapshot struct {
	PanTilt       *PanTiltState
	PanTiltAt     time.Time
	Monitoring    bool
	Plan          *SweepPlan
	Settings      CameraSettings
	Confirmed     CameraSettings
	SettingsKnown bool
	Toasts        []Toast
	NudgeSource   string
}

// Snapshot copies the state for publication.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		PanTilt:       s.Rig.Snapshot(),
		PanTiltAt:     s.Rig.At,
		Monitoring:    s.Monitoring.Active,
		Settings:      s.Settings.Displayed,
		Confirmed:     s.Settings.Confirmed,
		SettingsKnown: s.Settings.Known,
		Toasts:        slices.Clone(s.Toasts),
		NudgeSource:   s.Nudge.Source.String(),
	}
	if s.Monitoring.Active {
		plan := s.Monitoring.Plan
		snap.Plan = &plan
	}
	return snap
}

// AddToast appends a visible toast.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) AddToast(t Toast) {
	s.Toasts = append(s.Toasts, t)
}

// RemoveToast removes a toast by id and reports whether it was visible.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) RemoveToast(id string) bool {
	i := slices.IndexFunc(s.Toasts, func(t Toast) bool { return t.ID == id })
	if i < 0 {
		return false
	}
	s.Toasts = slices.Delete(s.Toasts, i, i+1)
	return true
}
