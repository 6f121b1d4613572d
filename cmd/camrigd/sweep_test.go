package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSweepPlan_NoClamping(t *testing.T) {
	plan := DeriveSweepPlan(testLimits(), DefaultSweepParams())
	assert.Equal(t, SweepPlan{PanLeft: -60, PanRight: 60, TiltTop: 30, TiltBottom: -30}, plan)
}

func TestDeriveSweepPlan_ClampsToLimits(t *testing.T) {
	plan := DeriveSweepPlan(Limits{Pan: Range{-40, 40}, Tilt: Range{-10, 45}}, DefaultSweepParams())
	assert.Equal(t, SweepPlan{PanLeft: -40, PanRight: 40, TiltTop: 30, TiltBottom: -10}, plan)
}

func TestDeriveSweepPlan_DegenerateAxis(t *testing.T) {
	plan := DeriveSweepPlan(Limits{Pan: Range{10, 10.005}, Tilt: Range{-30, 30}}, DefaultSweepParams())
	assert.True(t, plan.PanFixed)
	assert.False(t, plan.TiltFixed)

	plan = DeriveSweepPlan(Limits{Pan: Range{-90, 90}, Tilt: Range{0, 0}}, DefaultSweepParams())
	assert.False(t, plan.PanFixed)
	assert.True(t, plan.TiltFixed)
}

func smallSweepParams() SweepParams {
	return SweepParams{
		PanExtentDeg:  4,
		TiltExtentDeg: 2,
		StepDeg:       2,
		PanStep:       250 * time.Millisecond,
		TiltStep:      600 * time.Millisecond,
		Settle:        800 * time.Millisecond,
	}
}

func TestSweepCursor_Sequence(t *testing.T) {
	p := smallSweepParams()
	plan := SweepPlan{PanLeft: -4, PanRight: 4, TiltTop: 2, TiltBottom: -2}
	cur := newSweepCursor(plan, p)

	assert.Equal(t, sweepStep{PanDeg: -4, TiltDeg: 2, Wait: p.Settle}, cur.Start())

	want := []sweepStep{
		{-2, 2, p.PanStep}, {0, 2, p.PanStep}, {2, 2, p.PanStep}, {4, 2, p.PanStep},
		{4, 0, p.TiltStep},
		{2, 0, p.PanStep}, {0, 0, p.PanStep}, {-2, 0, p.PanStep}, {-4, 0, p.PanStep},
		{-4, -2, p.TiltStep},
		{-2, -2, p.PanStep}, {0, -2, p.PanStep}, {2, -2, p.PanStep}, {4, -2, p.PanStep},
		// Tilt reverses at the bottom.
		{4, 0, p.TiltStep},
		{2, 0, p.PanStep},
	}
	for i, w := range want {
		got, ok := cur.Next()
		require.True(t, ok, "step %d", i)
		assert.Equal(t, w, got, "step %d", i)
	}
}

func TestSweepCursor_LastPanStepClampedToExtreme(t *testing.T) {
	p := smallSweepParams()
	plan := SweepPlan{PanLeft: -3, PanRight: 3, TiltTop: 0, TiltBottom: -1}
	cur := newSweepCursor(plan, p)
	cur.Start()

	var pans []float64
	for i := 0; i < 3; i++ {
		st, ok := cur.Next()
		require.True(t, ok)
		pans = append(pans, st.PanDeg)
	}
	assert.Equal(t, []float64{-1, 1, 3}, pans)

	st, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, sweepStep{PanDeg: 3, TiltDeg: -1, Wait: p.TiltStep}, st)
}

func TestSweepCursor_FixedPanOnlySteppsTilt(t *testing.T) {
	p := smallSweepParams()
	plan := SweepPlan{PanLeft: 5, PanRight: 5, TiltTop: 2, TiltBottom: -2, PanFixed: true}
	cur := newSweepCursor(plan, p)
	cur.Start()

	for _, wantTilt := range []float64{0, -2, 0, 2, 0} {
		st, ok := cur.Next()
		require.True(t, ok)
		assert.Equal(t, sweepStep{PanDeg: 5, TiltDeg: wantTilt, Wait: p.TiltStep}, st)
	}
}

func TestSweepCursor_FixedTiltOnlySweepsPan(t *testing.T) {
	p := smallSweepParams()
	plan := SweepPlan{PanLeft: -2, PanRight: 2, TiltTop: 0, TiltBottom: 0, TiltFixed: true}
	cur := newSweepCursor(plan, p)
	cur.Start()

	for _, wantPan := range []float64{0, 2, 0, -2, 0} {
		st, ok := cur.Next()
		require.True(t, ok)
		assert.Equal(t, sweepStep{PanDeg: wantPan, TiltDeg: 0, Wait: p.PanStep}, st)
	}
}

func TestSweepCursor_BothAxesFixed(t *testing.T) {
	plan := SweepPlan{PanFixed: true, TiltFixed: true}
	cur := newSweepCursor(plan, smallSweepParams())
	_, ok := cur.Next()
	assert.False(t, ok)
}

// observations collects sweep observe callbacks.
type observations struct {
	mu   sync.Mutex
	seqs []uint64
}

func (o *observations) add(_ PanTiltState, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seqs = append(o.seqs, seq)
}

func (o *observations) get() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint64(nil), o.seqs...)
}

// advanceUntil moves the mock clock forward in steps until cond holds.
func advanceUntil(t *testing.T, clk *clock.Mock, step time.Duration, cond func() bool, msg string) {
	t.Helper()
	waitUntil(t, 2*time.Second, func() bool {
		if cond() {
			return true
		}
		clk.Add(step)
		return cond()
	}, msg)
}

func TestSweeper_FirstMoveIsTopLeft(t *testing.T) {
	rig := newFakeRig(PanTiltState{Limits: testLimits()})
	clk := clock.NewMock()
	obs := &observations{}
	sw := NewSweeper(rig, clk, DefaultSweepParams(), nil, obs.add, discardLogger())

	run := sw.Start(context.Background(), DeriveSweepPlan(testLimits(), DefaultSweepParams()))
	defer run.Cancel()

	waitUntil(t, time.Second, func() bool { return rig.Count("MoveAbsolute") >= 1 }, "first sweep move")
	first := rig.CallsOf("MoveAbsolute")[0]
	assert.Equal(t, -60.0, first.A)
	assert.Equal(t, 30.0, first.B)
	waitUntil(t, time.Second, func() bool { return len(obs.get()) == 1 }, "first observation")

	// Nothing else happens until the settle wait elapses.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rig.Count("MoveAbsolute"))

	advanceUntil(t, clk, 100*time.Millisecond, func() bool { return rig.Count("MoveAbsolute") >= 2 }, "second sweep move")
	second := rig.CallsOf("MoveAbsolute")[1]
	assert.Equal(t, -58.0, second.A)
	assert.Equal(t, 30.0, second.B)
}

func TestSweeper_CancelStopsFurtherRequests(t *testing.T) {
	rig := newFakeRig(PanTiltState{Limits: testLimits()})
	clk := clock.NewMock()
	sw := NewSweeper(rig, clk, DefaultSweepParams(), nil, nil, discardLogger())

	run := sw.Start(context.Background(), DeriveSweepPlan(testLimits(), DefaultSweepParams()))
	advanceUntil(t, clk, 250*time.Millisecond, func() bool { return rig.Count("MoveAbsolute") >= 4 }, "sweep progress")

	run.Cancel()
	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("sweep did not observe cancellation")
	}

	n := rig.Count("MoveAbsolute")
	for i := 0; i < 20; i++ {
		clk.Add(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rig.Count("MoveAbsolute"), "no requests after cancellation")
}

func TestSweeper_StepFailureContinues(t *testing.T) {
	rig := newFakeRig(PanTiltState{Limits: testLimits()})
	rig.absFail = map[int]error{2: errors.New("servo busy")}
	clk := clock.NewMock()
	obs := &observations{}
	sw := NewSweeper(rig, clk, DefaultSweepParams(), nil, obs.add, discardLogger())

	run := sw.Start(context.Background(), DeriveSweepPlan(testLimits(), DefaultSweepParams()))
	defer run.Cancel()

	advanceUntil(t, clk, 250*time.Millisecond, func() bool { return rig.Count("MoveAbsolute") >= 3 }, "sweep continued after failure")
	calls := rig.CallsOf("MoveAbsolute")
	assert.Equal(t, -58.0, calls[1].A)
	assert.Equal(t, -56.0, calls[2].A)

	// The failed step reported nothing.
	waitUntil(t, time.Second, func() bool { return len(obs.get()) >= 2 }, "observations")
	seqs := obs.get()
	assert.Equal(t, uint64(1), seqs[0])
	assert.Equal(t, uint64(3), seqs[1])
}

func TestSweeper_BothAxesFixedHoldsUntilCancelled(t *testing.T) {
	limits := Limits{Pan: Range{5, 5}, Tilt: Range{0, 0}}
	rig := newFakeRig(PanTiltState{Limits: limits})
	clk := clock.NewMock()
	sw := NewSweeper(rig, clk, DefaultSweepParams(), nil, nil, discardLogger())

	run := sw.Start(context.Background(), DeriveSweepPlan(limits, DefaultSweepParams()))

	waitUntil(t, time.Second, func() bool { return rig.Count("MoveAbsolute") == 1 }, "initial move")
	first := rig.CallsOf("MoveAbsolute")[0]
	assert.Equal(t, 5.0, first.A)
	assert.Equal(t, 0.0, first.B)

	for i := 0; i < 10; i++ {
		clk.Add(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rig.Count("MoveAbsolute"))

	select {
	case <-run.Done():
		t.Fatal("sweep exited before cancellation")
	default:
	}
	run.Cancel()
	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop")
	}
}

func TestSweeper_ContextCancelStops(t *testing.T) {
	rig := newFakeRig(PanTiltState{Limits: testLimits()})
	clk := clock.NewMock()
	sw := NewSweeper(rig, clk, DefaultSweepParams(), nil, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	run := sw.Start(ctx, DeriveSweepPlan(testLimits(), DefaultSweepParams()))
	waitUntil(t, time.Second, func() bool { return rig.Count("MoveAbsolute") == 1 }, "initial move")

	cancel()
	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop on context cancel")
	}
}
