package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// Monitoring sweep
// ============================================================================
//
// Sequence:
//   1. move to (PanLeft, TiltTop), wait Settle
//   2. pan across the range in StepDeg steps, one absolute move every PanStep
//   3. step tilt by StepDeg in the current direction (reversing at the
//      extremes), wait TiltStep
//   4. reverse pan direction, go to 2
//
// Every move is awaited before the next one is scheduled. Cancellation is
// cooperative: the run's token is checked before every move and every wait, so a
// cancelled sweep issues no further requests once it reaches a step boundary.
// A failed move is logged and the sweep continues with the next step.
// ============================================================================

// SweepParams configures the sweep plan and timing.
type SweepParams struct {
	PanExtentDeg  float64
	TiltExtentDeg float64
	StepDeg       float64
	PanStep       time.Duration
	TiltStep      time.Duration
	Settle        time.Duration
}

// DefaultSweepParams returns the built-in sweep parameters.
func DefaultSweepParams() SweepParams {
	return SweepParams{
		PanExtentDeg:  sweepPanExtentDeg,
		TiltExtentDeg: sweepTiltExtentDeg,
		StepDeg:       sweepStepDeg,
		PanStep:       sweepPanStepMS * time.Millisecond,
		TiltStep:      sweepTiltStepMS * time.Millisecond,
		Settle:        sweepSettleMS * time.Millisecond,
	}
}

// SweepPlan is the sweep envelope derived from the rig's limits when monitoring starts.
type SweepPlan struct {
	PanLeft    float64 `json:"pan_left"`
	PanRight   float64 `json:"pan_right"`
	TiltTop    float64 `json:"tilt_top"`
	TiltBottom float64 `json:"tilt_bottom"`

	// PanFixed/TiltFixed mark an axis whose range collapsed; it is held constant.
	PanFixed  bool `json:"pan_fixed"`
	TiltFixed bool `json:"tilt_fixed"`
}

func (p SweepPlan) String() string {
	return fmt.Sprintf("pan=[%.2f,%.2f] tilt=[%.2f,%.2f] pan_fixed=%v tilt_fixed=%v",
		p.PanLeft, p.PanRight, p.TiltBottom, p.TiltTop, p.PanFixed, p.TiltFixed)
}

// DeriveSweepPlan clamps the nominal sweep extents to the soft limits.
func DeriveSweepPlan(limits Limits, p SweepParams) SweepPlan {
	plan := SweepPlan{
		PanLeft:    limits.Pan.Clamp(-p.PanExtentDeg),
		PanRight:   limits.Pan.Clamp(p.PanExtentDeg),
		TiltTop:    limits.Tilt.Clamp(p.TiltExtentDeg),
		TiltBottom: limits.Tilt.Clamp(-p.TiltExtentDeg),
	}
	plan.PanFixed = plan.PanRight-plan.PanLeft <= sweepDegenerateRange
	plan.TiltFixed = plan.TiltTop-plan.TiltBottom <= sweepDegenerateRange
	return plan
}

// sweepStep is one absolute move followed by a wait.
type sweepStep struct {
	PanDeg  float64
	TiltDeg float64
	Wait    time.Duration
}

type sweepPhase int

const (
	phasePan sweepPhase = iota
	phaseTilt
)

// sweepCursor generates the sweep's move sequence. It performs no I/O.
type sweepCursor struct {
	plan   SweepPlan
	params SweepParams

	pan, tilt float64
	panDir    float64 // +1 toward PanRight
	tiltDir   float64 // -1 toward TiltBottom
	phase     sweepPhase
}

func newSweepCursor(plan SweepPlan, params SweepParams) *sweepCursor {
	return &sweepCursor{
		plan:    plan,
		params:  params,
		pan:     plan.PanLeft,
		tilt:    plan.TiltTop,
		panDir:  1,
		tiltDir: -1,
		phase:   phasePan,
	}
}

// Start returns the initial move to the top-left corner.
func (c *sweepCursor) Start() sweepStep {
	return sweepStep{PanDeg: c.pan, TiltDeg: c.tilt, Wait: c.params.Settle}
}

// Next returns the next move. ok is false when both axes are fixed and there is
// nothing left to do.
func (c *sweepCursor) Next() (sweepStep, bool) {
	if c.plan.PanFixed && c.plan.TiltFixed {
		return sweepStep{}, false
	}

	for {
		switch c.phase {
		case phasePan:
			if c.plan.PanFixed {
				c.phase = phaseTilt
				continue
			}
			target := c.plan.PanRight
			if c.panDir < 0 {
				target = c.plan.PanLeft
			}
			next := c.pan + c.panDir*c.params.StepDeg
			if (c.panDir > 0 && next >= target) || (c.panDir < 0 && next <= target) {
				next = target
				c.panDir = -c.panDir
				c.phase = phaseTilt
			}
			c.pan = next
			return sweepStep{PanDeg: c.pan, TiltDeg: c.tilt, Wait: c.params.PanStep}, true

		case phaseTilt:
			c.phase = phasePan
			if c.plan.TiltFixed {
				continue
			}
			next := c.tilt + c.tiltDir*c.params.StepDeg
			if next <= c.plan.TiltBottom {
				next = c.plan.TiltBottom
				c.tiltDir = 1
			} else if next >= c.plan.TiltTop {
				next = c.plan.TiltTop
				c.tiltDir = -1
			}
			c.tilt = next
			return sweepStep{PanDeg: c.pan, TiltDeg: c.tilt, Wait: c.params.TiltStep}, true
		}
	}
}

// sweepToken is the out-of-band cancellation flag shared between the controller
// and one sweep run.
type sweepToken struct {
	active atomic.Bool
	stop   chan struct{}
	once   sync.Once
}

func newSweepToken() *sweepToken {
	t := &sweepToken{stop: make(chan struct{})}
	t.active.Store(true)
	return t
}

// Active reports whether the run may issue further requests.
func (t *sweepToken) Active() bool { return t.active.Load() }

// Cancel clears the flag and wakes any pending wait.
func (t *sweepToken) Cancel() {
	t.once.Do(func() {
		t.active.Store(false)
		close(t.stop)
	})
}

// Stopped is closed on Cancel.
func (t *sweepToken) Stopped() <-chan struct{} { return t.stop }

// SweepRun is a handle to one running sweep.
type SweepRun struct {
	plan  SweepPlan
	token *sweepToken
	done  chan struct{}
}

// Cancel requests the sweep to stop at its next step boundary.
func (r *SweepRun) Cancel() { r.token.Cancel() }

// Done is closed once the sweep goroutine has observed cancellation and exited.
func (r *SweepRun) Done() <-chan struct{} { return r.done }

// Plan returns the plan this run follows.
func (r *SweepRun) Plan() SweepPlan { return r.plan }

// Sweeper runs sweeps against the rig.
type Sweeper struct {
	api    RigAPI
	clk    clock.Clock
	params SweepParams
	seq    *requestSeq
	logger *slog.Logger

	// observe receives every successful move response with its issue sequence.
	observe func(st PanTiltState, seq uint64)
}

// NewSweeper creates a sweeper. observe may be nil.
func NewSweeper(api RigAPI, clk clock.Clock, params SweepParams, seq *requestSeq, observe func(PanTiltState, uint64), logger *slog.Logger) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if seq == nil {
		seq = &requestSeq{}
	}
	return &Sweeper{
		api:     api,
		clk:     clk,
		params:  params,
		seq:     seq,
		observe: observe,
		logger:  logger,
	}
}

// Start spawns a sweep goroutine following plan. The sweep runs until the
// returned run is cancelled or ctx is done.
func (sw *Sweeper) Start(ctx context.Context, plan SweepPlan) *SweepRun {
	run := &SweepRun{
		plan:  plan,
		token: newSweepToken(),
		done:  make(chan struct{}),
	}
	go sw.run(ctx, run)
	return run
}

func (sw *Sweeper) run(ctx context.Context, run *SweepRun) {
	defer close(run.done)

	tok := run.token
	sw.logger.Info("monitoring sweep started", "plan", run.plan.String())
	defer sw.logger.Info("monitoring sweep stopped")

	cur := newSweepCursor(run.plan, sw.params)
	step := cur.Start()
	for {
		if !tok.Active() || ctx.Err() != nil {
			return
		}
		sw.move(ctx, step)

		if !tok.Active() || !sw.wait(ctx, tok, step.Wait) {
			return
		}

		var ok bool
		step, ok = cur.Next()
		if !ok {
			// Both axes fixed: hold position until cancelled.
			select {
			case <-tok.Stopped():
			case <-ctx.Done():
			}
			return
		}
	}
}

func (sw *Sweeper) move(ctx context.Context, step sweepStep) {
	seq := sw.seq.Next()
	st, err := sw.api.MoveAbsolute(ctx, step.PanDeg, step.TiltDeg)
	if err != nil {
		sw.logger.Warn("sweep step failed", "pan_deg", step.PanDeg, "tilt_deg", step.TiltDeg, "error", err)
		return
	}
	// Position data stays truthful after cancellation, so it is always reported.
	if sw.observe != nil {
		sw.observe(st, seq)
	}
}

// wait sleeps for d unless the token is cancelled or ctx is done first.
// It returns false when the sweep should stop.
func (sw *Sweeper) wait(ctx context.Context, tok *sweepToken, d time.Duration) bool {
	if d <= 0 {
		return tok.Active() && ctx.Err() == nil
	}
	t := sw.clk.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return tok.Active()
	case <-tok.Stopped():
		return false
	case <-ctx.Done():
		return false
	}
}

// requestSeq issues monotonic sequence numbers to rig requests at send time.
// Responses carry their number so the reducer can drop out-of-order results.
type requestSeq struct {
	n atomic.Uint64
}

// Next returns the next sequence number (starting at 1).
func (s *requestSeq) Next() uint64 { return s.n.Add(1) }
