package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the effects layer.
// Most are camera rig HTTP requests; a few drive local components (sweeper, toaster).
type Command interface {
	commandMarker()
	String() string
}

// CmdMoveRelative requests a relative move from the continuous nudge loop.
type CmdMoveRelative struct {
	DPanDeg  float64
	DTiltDeg float64
}

func (CmdMoveRelative) commandMarker() {}
func (c CmdMoveRelative) String() string {
	return fmt.Sprintf("CmdMoveRelative(dpan=%.3f dtilt=%.3f)", c.DPanDeg, c.DTiltDeg)
}

// CmdNudge requests a single discrete nudge. The effects layer rate-limits these.
type CmdNudge struct {
	DPanDeg  float64
	DTiltDeg float64
}

func (CmdNudge) commandMarker() {}
func (c CmdNudge) String() string {
	return fmt.Sprintf("CmdNudge(dpan=%.3f dtilt=%.3f)", c.DPanDeg, c.DTiltDeg)
}

// CmdHome moves the rig to its home position.
type CmdHome struct{}

func (CmdHome) commandMarker() {}
func (CmdHome) String() string { return "CmdHome()" }

// CmdStartSweep starts a monitoring sweep following Plan.
type CmdStartSweep struct {
	Plan SweepPlan
}

func (CmdStartSweep) commandMarker() {}
func (c CmdStartSweep) String() string { return fmt.Sprintf("CmdStartSweep(%s)", c.Plan) }

// CmdStopSweep cancels the running sweep. With ThenHome, a home request is sent
// once the sweep has observed cancellation.
type CmdStopSweep struct {
	ThenHome bool
}

func (CmdStopSweep) commandMarker() {}
func (c CmdStopSweep) String() string { return fmt.Sprintf("CmdStopSweep(then_home=%v)", c.ThenHome) }

// CmdFetchSettings loads the camera settings from the rig.
type CmdFetchSettings struct{}

func (CmdFetchSettings) commandMarker() {}
func (CmdFetchSettings) String() string { return "CmdFetchSettings()" }

// CmdPatchSettings hands a settings patch to the coalescer.
type CmdPatchSettings struct {
	Patch     SettingsPatch
	Immediate bool
}

func (CmdPatchSettings) commandMarker() {}
func (c CmdPatchSettings) String() string {
	return fmt.Sprintf("CmdPatchSettings(keys=%v immediate=%v)", c.Patch.Keys(), c.Immediate)
}

// CmdShowToast surfaces a message to the user.
type CmdShowToast struct {
	Level   ToastLevel
	Message string
}

func (CmdShowToast) commandMarker() {}
func (c CmdShowToast) String() string {
	return fmt.Sprintf("CmdShowToast(level=%s message=%q)", c.Level, c.Message)
}

// CmdDismissToast cancels a toast's auto-dismiss timer.
type CmdDismissToast struct {
	ID string
}

func (CmdDismissToast) commandMarker() {}
func (c CmdDismissToast) String() string { return fmt.Sprintf("CmdDismissToast(id=%s)", c.ID) }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
