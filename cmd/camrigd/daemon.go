package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven "Daemon Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that hands commands to the effects layer.
//   - Rig responses are turned into Events and fed back into the reducer.
//   - An explicit event queue and command queue (no nested/re-entrant execution).
//
// The nudge ticker only runs while a drag or hold is active; its interval is
// re-derived from the reducer-owned NudgeState after every reduction.
//
// ============================================================================

// runDaemon owns state. It reduces actions, effect observations and its own
// NudgeTicks, runs the resulting commands and publishes broadcasts.
//
// It returns when ctx is done or events is closed, after cancelling any sweep
// and dropping the cached pan/tilt state.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	fx *Effects,
	cfg ReducerConfig,
	state *DaemonState,
	broadcasts chan<- StateBroadcast,
	clk clock.Clock,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}
	if clk == nil {
		clk = clock.New()
	}

	defer func() {
		fx.Close()
		state.Rig.Clear()
	}()

	// Nudge ticker: nil channel while idle.
	var (
		ticker       *clock.Ticker
		tickC        <-chan time.Time
		tickInterval time.Duration
	)
	syncTicker := func() {
		want := state.Nudge.TickInterval(cfg.Nudge)
		if want == tickInterval {
			return
		}
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
		tickInterval = want
		if want > 0 {
			ticker = clk.Ticker(want)
			tickC = ticker.C
			logger.Debug("nudge loop started", "source", state.Nudge.Source.String(), "interval", want)
		} else {
			logger.Debug("nudge loop stopped")
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	// Commands never run inside Reduce, and effects never reduce: both go
	// through these queues.
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}

	publish := func(bs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bs {
			// Never block the daemon loop on slow websocket consumers.
			select {
			case broadcasts <- b:
			default:
				logger.Warn("broadcast channel full; dropping update", "type", broadcastType(b))
			}
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			enqueueCommands(rr.Commands)
			publish(rr.Broadcasts)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			logger.Debug("command", "command", cmd.String())
			fx.Run(cmd, enqueueEvent)

			// Synchronous observations are reduced before the next command runs.
			flushEvents()
		}
	}

	step := func(ev Event) {
		enqueueEvent(ev)
		flushEvents()
		flushCommands()
		syncTicker()
	}

	step(DaemonStarted{At: clk.Now()})

	// Main loop
	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			if a, isAction := ev.(Action); isAction {
				ev = TimedEvent{Event: a, At: clk.Now()}
			}
			step(ev)

		case now := <-tickC:
			step(NudgeTick{Now: now, Interval: tickInterval})
		}
	}
}

// postEvent returns a function that delivers an event to the daemon loop without
// outliving ctx.
func postEvent(ctx context.Context, events chan<- Event) func(Event) {
	return func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
}
