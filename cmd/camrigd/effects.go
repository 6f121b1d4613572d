package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Effects executes reducer-emitted Commands against the rig and local components,
// and reports observations back as Events.
//
// Design rules:
//   - This is the only layer allowed to perform I/O.
//   - It never calls Reduce() directly; it only emits Events.
//   - Rig requests run in their own goroutines and post their result into the
//     daemon's event channel, so the daemon loop never blocks on the network.
//     Multiple nudge requests may be in flight at once.
type Effects struct {
	ctx    context.Context
	api    RigAPI
	clk    clock.Clock
	seq    *requestSeq
	logger *slog.Logger

	coalescer *SettingsCoalescer
	sweeper   *Sweeper
	toaster   *Toaster
	limiter   *rate.Limiter

	nudgeEndpoint string

	// post delivers an asynchronous observation to the daemon loop.
	post func(Event)

	mu  sync.Mutex
	run *SweepRun
	// sweepGen counts sweep starts; a deferred home is skipped if it changed.
	sweepGen uint64
}

// EffectsConfig wires the effects layer.
type EffectsConfig struct {
	API       RigAPI
	Clock     clock.Clock
	Seq       *requestSeq
	Coalescer *SettingsCoalescer
	Sweeper   *Sweeper
	Toaster   *Toaster

	// Discrete nudge anti-flood limit.
	NudgeRate  rate.Limit
	NudgeBurst int

	NudgeEndpoint string
}

// NewEffects creates the effects layer. post must be safe to call from any goroutine.
func NewEffects(ctx context.Context, cfg EffectsConfig, post func(Event), logger *slog.Logger) *Effects {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	seq := cfg.Seq
	if seq == nil {
		seq = &requestSeq{}
	}
	burst := cfg.NudgeBurst
	if burst <= 0 {
		burst = defaultNudgeBurst
	}
	limit := cfg.NudgeRate
	if limit <= 0 {
		limit = rate.Limit(defaultNudgeRatePerS)
	}
	endpoint := cfg.NudgeEndpoint
	if endpoint == "" {
		endpoint = nudgeEndpointPanTilt
	}
	return &Effects{
		ctx:           ctx,
		api:           cfg.API,
		clk:           clk,
		seq:           seq,
		logger:        logger,
		coalescer:     cfg.Coalescer,
		sweeper:       cfg.Sweeper,
		toaster:       cfg.Toaster,
		limiter:       rate.NewLimiter(limit, burst),
		nudgeEndpoint: endpoint,
		post:          post,
	}
}

// Run executes a single Command. Synchronous observations are delivered through
// onEvent (reduced by the caller right away); network results arrive later via post.
func (fx *Effects) Run(cmd Command, onEvent func(Event)) {
	switch c := cmd.(type) {
	case CmdMoveRelative:
		fx.goMove(cmd, func(ctx context.Context) (*PanTiltState, error) {
			st, err := fx.api.MoveRelative(ctx, c.DPanDeg, c.DTiltDeg)
			return &st, err
		})

	case CmdNudge:
		if !fx.limiter.AllowN(fx.clk.Now(), 1) {
			fx.logger.Debug("nudge dropped (rate limited)", "dpan_deg", c.DPanDeg, "dtilt_deg", c.DTiltDeg)
			return
		}
		if fx.nudgeEndpoint == nudgeEndpointPTZ {
			fx.goMove(cmd, func(ctx context.Context) (*PanTiltState, error) {
				return fx.api.PTZNudge(ctx, c.DPanDeg, c.DTiltDeg)
			})
			return
		}
		fx.goMove(cmd, func(ctx context.Context) (*PanTiltState, error) {
			st, err := fx.api.MoveRelative(ctx, c.DPanDeg, c.DTiltDeg)
			return &st, err
		})

	case CmdHome:
		fx.goMove(cmd, fx.home)

	case CmdStartSweep:
		fx.mu.Lock()
		if fx.run != nil {
			fx.run.Cancel()
		}
		fx.run = fx.sweeper.Start(fx.ctx, c.Plan)
		fx.sweepGen++
		fx.mu.Unlock()

	case CmdStopSweep:
		fx.mu.Lock()
		run := fx.run
		fx.run = nil
		gen := fx.sweepGen
		fx.mu.Unlock()

		if run != nil {
			run.Cancel()
		}
		if !c.ThenHome {
			return
		}
		if run == nil {
			fx.goMove(CmdHome{}, fx.home)
			return
		}
		go func() {
			// Home only after the sweep has observed cancellation, so its last
			// absolute move cannot land after the home request.
			select {
			case <-run.Done():
			case <-fx.ctx.Done():
				return
			}
			fx.mu.Lock()
			rearmed := fx.sweepGen != gen
			fx.mu.Unlock()
			if rearmed {
				fx.logger.Debug("home skipped (monitoring restarted)")
				return
			}
			fx.doMove(CmdHome{}, fx.home)
		}()

	case CmdFetchSettings:
		go func() {
			st, err := fx.api.GetSettings(fx.ctx)
			if fx.ctx.Err() != nil {
				return
			}
			now := fx.clk.Now()
			if err != nil {
				fx.logger.Warn("settings fetch failed", "error", err)
				fx.post(SettingsFetchFailed{Err: err, At: now})
				return
			}
			fx.post(SettingsObserved{Settings: st, Pending: fx.coalescer.Pending(), At: now})
		}()

	case CmdPatchSettings:
		fl := fx.coalescer.Apply(c.Patch, c.Immediate)
		go func() {
			res, err := fl.Wait(fx.ctx)
			if fx.ctx.Err() != nil {
				return
			}
			fx.post(SettingsFlushed{
				FlushID:  fl.ID(),
				Settings: res,
				Err:      err,
				Pending:  fx.coalescer.Pending(),
				At:       fx.clk.Now(),
			})
		}()

	case CmdShowToast:
		t := fx.toaster.Show(c.Level, c.Message)
		fx.logger.Debug("toast", "id", t.ID, "level", t.Level, "message", t.Message)
		if onEvent != nil {
			onEvent(ToastShown{Toast: t})
		}

	case CmdDismissToast:
		fx.toaster.Dismiss(c.ID)

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		if c.Reply == nil {
			fx.logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop.
		select {
		case c.Reply <- c.Snapshot:
		default:
			fx.logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		fx.logger.Warn("unknown command type", "command", cmd.String())
	}
}

func (fx *Effects) home(ctx context.Context) (*PanTiltState, error) {
	st, err := fx.api.Home(ctx)
	return &st, err
}

// goMove runs a move request in its own goroutine.
func (fx *Effects) goMove(cmd Command, call func(context.Context) (*PanTiltState, error)) {
	go fx.doMove(cmd, call)
}

// doMove issues a move request and posts its outcome. The sequence number is taken
// right before sending so responses are ordered by issue time.
func (fx *Effects) doMove(cmd Command, call func(context.Context) (*PanTiltState, error)) {
	seq := fx.seq.Next()
	st, err := call(fx.ctx)
	if fx.ctx.Err() != nil {
		return
	}
	now := fx.clk.Now()
	if err != nil {
		fx.logger.Warn("pan/tilt request failed", "command", cmd.String(), "error", err)
		fx.post(MoveFailed{Command: cmd, Err: err, At: now})
		return
	}
	if st != nil {
		fx.post(PanTiltObserved{State: *st, Seq: seq, At: now})
	}
}

// Close stops the running sweep and all toast timers.
func (fx *Effects) Close() {
	fx.mu.Lock()
	run := fx.run
	fx.run = nil
	fx.mu.Unlock()
	if run != nil {
		run.Cancel()
	}
	if fx.toaster != nil {
		fx.toaster.StopAll()
	}
}
