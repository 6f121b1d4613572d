package main

import (
	"fmt"
	"math"
)

// Range is a closed [min, max] soft limit in degrees, encoded on the wire as [min, max].
type Range [2]float64

// Min returns the lower bound.
func (r Range) Min() float64 { return r[0] }

// Max returns the upper bound.
func (r Range) Max() float64 { return r[1] }

// Span returns max-min (never negative).
func (r Range) Span() float64 {
	if r[1] < r[0] {
		return 0
	}
	return r[1] - r[0]
}

// Clamp returns v limited to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r[0] {
		return r[0]
	}
	if v > r[1] {
		return r[1]
	}
	return v
}

// Limits holds the rig's soft limits for both axes.
type Limits struct {
	Pan  Range `json:"pan"`
	Tilt Range `json:"tilt"`
}

// PanTiltState is the rig's reported servo position and soft limits.
// The rig is authoritative; the daemon only caches it.
type PanTiltState struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
	Limits  Limits  `json:"limits"`
}

func (s PanTiltState) String() string {
	return fmt.Sprintf("pan=%.2f tilt=%.2f limits(pan=[%.1f,%.1f] tilt=[%.1f,%.1f])",
		s.PanDeg, s.TiltDeg, s.Limits.Pan[0], s.Limits.Pan[1], s.Limits.Tilt[0], s.Limits.Tilt[1])
}

// ClampTarget limits an absolute target to the known soft limits.
// This is a best-effort pre-check; the rig enforces limits itself.
func (s PanTiltState) ClampTarget(pan, tilt float64) (float64, float64) {
	return s.Limits.Pan.Clamp(pan), s.Limits.Tilt.Clamp(tilt)
}

// Vector is a normalized joystick displacement, each axis in [-1, 1].
// X is pan (right positive), Y is tilt (up positive).
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Magnitude returns the Euclidean length of the vector.
func (v Vector) Magnitude() float64 {
	return math.Hypot(v.X, v.Y)
}

// Normalized returns v with its magnitude clamped to at most 1.
// NaN components are treated as zero.
func (v Vector) Normalized() Vector {
	if math.IsNaN(v.X) {
		v.X = 0
	}
	if math.IsNaN(v.Y) {
		v.Y = 0
	}
	m := v.Magnitude()
	if m > 1 {
		return Vector{X: v.X / m, Y: v.Y / m}
	}
	return v
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
