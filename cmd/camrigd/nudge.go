package main

import (
	"math"
	"time"
)

// ============================================================================
// Nudge dispatcher
// ============================================================================
//
// Input sources:
//   - drag: a virtual joystick reports a normalized vector; every DragTick a
//     relative move proportional to the deflection is sent.
//   - hold: a held direction button sends StepDeg/HoldStepDivisor every HoldTick.
//   - discrete: a single key press or click sends one StepDeg move.
//
// The reducer owns NudgeState; the daemon loop runs the tick source while a
// drag or hold is active. Nothing is sent while monitoring is active.
// ============================================================================

// NudgeParams configures the nudge dispatcher.
type NudgeParams struct {
	Deadzone        float64
	GainExponent    float64
	MaxSpeedDegPerS float64
	DragTick        time.Duration
	HoldTick        time.Duration
	StepDeg         float64
	HoldStepDivisor float64
}

// DefaultNudgeParams returns the built-in nudge parameters.
func DefaultNudgeParams() NudgeParams {
	return NudgeParams{
		Deadzone:        defaultDeadzone,
		GainExponent:    defaultGainExponent,
		MaxSpeedDegPerS: defaultMaxSpeedDegPS,
		DragTick:        defaultDragTickMS * time.Millisecond,
		HoldTick:        defaultHoldTickMS * time.Millisecond,
		StepDeg:         defaultDiscreteStep,
		HoldStepDivisor: defaultHoldStepDivide,
	}
}

// NudgeSource identifies which continuous input is driving the tick loop.
type NudgeSource int

const (
	NudgeIdle NudgeSource = iota
	NudgeDrag
	NudgeHold
)

func (s NudgeSource) String() string {
	switch s {
	case NudgeDrag:
		return "drag"
	case NudgeHold:
		return "hold"
	default:
		return "idle"
	}
}

// NudgeState is the reducer-owned state of the continuous nudge input.
type NudgeState struct {
	Source NudgeSource

	// Vector is the latest joystick displacement (drag only).
	Vector Vector

	// HoldPan/HoldTilt are the held button direction, each -1, 0 or +1 (hold only).
	HoldPan  int
	HoldTilt int
}

// Reset stops any continuous input.
func (n *NudgeState) Reset() {
	*n = NudgeState{}
}

// TickInterval returns the tick cadence required by the current input, or 0 when
// no tick loop should run.
func (n NudgeState) TickInterval(p NudgeParams) time.Duration {
	switch n.Source {
	case NudgeDrag:
		return p.DragTick
	case NudgeHold:
		return p.HoldTick
	default:
		return 0
	}
}

// nudgeGain is the super-linear response curve: small deflections move slowly,
// full deflection approaches MaxSpeedDegPerS.
func nudgeGain(magnitude, exponent float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	return math.Pow(magnitude, exponent)
}

// nudgeDelta computes the per-tick relative move for a joystick vector.
//
//	delta(axis) = sign(axis) * |axis| * MaxSpeed * gain(|v|) * interval
//
// ok is false when the vector is inside the deadzone or the move rounds to zero.
func nudgeDelta(v Vector, p NudgeParams, interval time.Duration) (dpan, dtilt float64, ok bool) {
	v = v.Normalized()
	m := v.Magnitude()
	if m < p.Deadzone || interval <= 0 {
		return 0, 0, false
	}

	scale := p.MaxSpeedDegPerS * nudgeGain(m, p.GainExponent) * interval.Seconds()
	dpan = math.Copysign(math.Abs(v.X)*scale, v.X)
	dtilt = math.Copysign(math.Abs(v.Y)*scale, v.Y)

	dpan = clampAbs(dpan, maxRelativeStepDeg)
	dtilt = clampAbs(dtilt, maxRelativeStepDeg)
	if dpan == 0 && dtilt == 0 {
		return 0, 0, false
	}
	return dpan, dtilt, true
}

// holdDelta is the per-tick move for a held direction button.
func holdDelta(pan, tilt int, p NudgeParams) (dpan, dtilt float64, ok bool) {
	div := p.HoldStepDivisor
	if div < 1 {
		div = 1
	}
	step := p.StepDeg / div
	dpan = float64(sign(pan)) * step
	dtilt = float64(sign(tilt)) * step
	if dpan == 0 && dtilt == 0 {
		return 0, 0, false
	}
	return dpan, dtilt, true
}

// discreteDelta validates a single nudge request, clamping each axis to the
// rig's maximum relative step.
func discreteDelta(panDeg, tiltDeg float64) (dpan, dtilt float64, ok bool) {
	if math.IsNaN(panDeg) || math.IsNaN(tiltDeg) {
		return 0, 0, false
	}
	dpan = clampAbs(panDeg, maxRelativeStepDeg)
	dtilt = clampAbs(tiltDeg, maxRelativeStepDeg)
	if dpan == 0 && dtilt == 0 {
		return 0, 0, false
	}
	return dpan, dtilt, true
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
