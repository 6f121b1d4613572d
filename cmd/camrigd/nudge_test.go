package main

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNudgeDelta_DeadzoneIsNoop(t *testing.T) {
	p := DefaultNudgeParams()

	if _, _, ok := nudgeDelta(Vector{X: 0.05, Y: 0.05}, p, p.DragTick); ok {
		t.Fatalf("expected vector inside the deadzone to produce no move")
	}
	if _, _, ok := nudgeDelta(Vector{}, p, p.DragTick); ok {
		t.Fatalf("expected zero vector to produce no move")
	}
}

func TestNudgeDelta_FullDeflection(t *testing.T) {
	p := DefaultNudgeParams()

	dpan, dtilt, ok := nudgeDelta(Vector{X: 1}, p, 100*time.Millisecond)
	if !ok {
		t.Fatalf("expected a move")
	}
	// 1 * 45 deg/s * 1^1.6 * 0.1 s
	if !almostEqual(dpan, 4.5) || dtilt != 0 {
		t.Fatalf("got (%.4f, %.4f), want (4.5, 0)", dpan, dtilt)
	}

	dpan, dtilt, ok = nudgeDelta(Vector{Y: -1}, p, 100*time.Millisecond)
	if !ok || dpan != 0 || !almostEqual(dtilt, -4.5) {
		t.Fatalf("got (%.4f, %.4f, %v), want (0, -4.5, true)", dpan, dtilt, ok)
	}
}

func TestNudgeDelta_GainCurveIsSuperLinear(t *testing.T) {
	p := DefaultNudgeParams()

	dpan, _, ok := nudgeDelta(Vector{X: 0.5}, p, 100*time.Millisecond)
	if !ok {
		t.Fatalf("expected a move")
	}
	want := 0.5 * 45 * math.Pow(0.5, 1.6) * 0.1
	if !almostEqual(dpan, want) {
		t.Fatalf("got %.6f, want %.6f", dpan, want)
	}
	if dpan >= 4.5/2 {
		t.Fatalf("half deflection should move less than half the full-deflection step, got %.4f", dpan)
	}
}

func TestNudgeDelta_MonotonicAndBounded(t *testing.T) {
	p := DefaultNudgeParams()
	intervals := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 120 * time.Millisecond}
	directions := []struct {
		name string
		x, y float64
	}{
		{"right", 1, 0},
		{"down", 0, -1},
		{"diagonal", math.Sqrt2 / 2, math.Sqrt2 / 2},
		{"shallow", 0.96, -0.28},
	}

	for _, interval := range intervals {
		bound := p.MaxSpeedDegPerS * interval.Seconds()
		for _, dir := range directions {
			prev := 0.0
			for i := 1; i <= 90; i++ {
				m := p.Deadzone + float64(i)*(1-p.Deadzone)/90
				dpan, dtilt, ok := nudgeDelta(Vector{X: dir.x * m, Y: dir.y * m}, p, interval)
				if !ok {
					t.Fatalf("%s/%v: m=%.3f: expected a move", dir.name, interval, m)
				}
				got := math.Hypot(dpan, dtilt)
				if got <= prev {
					t.Fatalf("%s/%v: m=%.3f: delta %.6f not larger than %.6f", dir.name, interval, m, got, prev)
				}
				if got > bound+1e-9 {
					t.Fatalf("%s/%v: m=%.3f: delta %.6f exceeds %.6f", dir.name, interval, m, got, bound)
				}
				prev = got
			}
		}
	}
}

func TestNudgeDelta_NormalizesLongVectors(t *testing.T) {
	p := DefaultNudgeParams()

	dpan, dtilt, ok := nudgeDelta(Vector{X: 3, Y: 4}, p, 100*time.Millisecond)
	if !ok {
		t.Fatalf("expected a move")
	}
	if !almostEqual(dpan, 2.7) || !almostEqual(dtilt, 3.6) {
		t.Fatalf("got (%.4f, %.4f), want (2.7, 3.6)", dpan, dtilt)
	}
}

func TestNudgeDelta_ClampedToMaxRelativeStep(t *testing.T) {
	p := DefaultNudgeParams()
	p.MaxSpeedDegPerS = 1000

	dpan, dtilt, ok := nudgeDelta(Vector{X: -1}, p, time.Second)
	if !ok || dpan != -maxRelativeStepDeg || dtilt != 0 {
		t.Fatalf("got (%.4f, %.4f, %v), want (-%.0f, 0, true)", dpan, dtilt, ok, maxRelativeStepDeg)
	}
}

func TestNudgeDelta_NaNTreatedAsZero(t *testing.T) {
	p := DefaultNudgeParams()
	if _, _, ok := nudgeDelta(Vector{X: math.NaN(), Y: math.NaN()}, p, p.DragTick); ok {
		t.Fatalf("expected NaN vector to produce no move")
	}
}

func TestHoldDelta(t *testing.T) {
	p := DefaultNudgeParams()

	dpan, dtilt, ok := holdDelta(1, -1, p)
	if !ok || !almostEqual(dpan, 0.5) || !almostEqual(dtilt, -0.5) {
		t.Fatalf("got (%.4f, %.4f, %v), want (0.5, -0.5, true)", dpan, dtilt, ok)
	}

	// Magnitudes beyond 1 are treated as a direction only.
	dpan, _, _ = holdDelta(7, 0, p)
	if !almostEqual(dpan, 0.5) {
		t.Fatalf("got %.4f, want 0.5", dpan)
	}

	if _, _, ok := holdDelta(0, 0, p); ok {
		t.Fatalf("expected no move without a direction")
	}
}

func TestDiscreteDelta(t *testing.T) {
	tests := []struct {
		name             string
		pan, tilt        float64
		wantPan, wantTil float64
		wantOK           bool
	}{
		{name: "plain step", pan: 5, tilt: 0, wantPan: 5, wantOK: true},
		{name: "clamped", pan: 20, tilt: -40, wantPan: 15, wantTil: -15, wantOK: true},
		{name: "zero is noop", pan: 0, tilt: 0},
		{name: "nan is noop", pan: math.NaN(), tilt: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dpan, dtilt, ok := discreteDelta(tt.pan, tt.tilt)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}
			if ok && (dpan != tt.wantPan || dtilt != tt.wantTil) {
				t.Fatalf("got (%.2f, %.2f), want (%.2f, %.2f)", dpan, dtilt, tt.wantPan, tt.wantTil)
			}
		})
	}
}

func TestNudgeState_TickInterval(t *testing.T) {
	p := DefaultNudgeParams()

	var n NudgeState
	if got := n.TickInterval(p); got != 0 {
		t.Fatalf("idle interval = %v, want 0", got)
	}
	n.Source = NudgeDrag
	if got := n.TickInterval(p); got != 100*time.Millisecond {
		t.Fatalf("drag interval = %v, want 100ms", got)
	}
	n.Source = NudgeHold
	if got := n.TickInterval(p); got != 50*time.Millisecond {
		t.Fatalf("hold interval = %v, want 50ms", got)
	}
	n.Reset()
	if n.Source != NudgeIdle || n.Vector != (Vector{}) {
		t.Fatalf("reset left state %+v", n)
	}
}
