package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// LimitStore is the daemon's cached copy of the rig's PanTiltState.
//
// It is refreshed by polling and by the response of every move request. Each
// request is numbered when it is sent; a response older than the newest applied
// one is dropped, so a slow early response cannot overwrite a later position.
type LimitStore struct {
	State PanTiltState
	Known bool
	At    time.Time

	// LastSeq is the issue sequence of the newest applied response.
	LastSeq uint64

	// PollFailures counts consecutive failed polls.
	PollFailures int
}

// Observe applies a response issued with sequence seq. It returns false if the
// response is stale and was ignored.
// This is intended to be called only by the daemon goroutine (single-owner).
func (l *LimitStore) Observe(st PanTiltState, seq uint64, now time.Time) bool {
	if seq != 0 && seq < l.LastSeq {
		return false
	}
	if seq > l.LastSeq {
		l.LastSeq = seq
	}
	l.State = st
	l.Known = true
	l.At = now
	return true
}

// Clear forgets the cached state (the rig is unavailable or the daemon is stopping).
// LastSeq is kept so responses to requests issued before the clear stay ordered.
// This is intended to be called only by the daemon goroutine (single-owner).
func (l *LimitStore) Clear() {
	l.State = PanTiltState{}
	l.Known = false
	l.At = time.Time{}
}

// Snapshot returns the cached state, or nil when unknown.
func (l *LimitStore) Snapshot() *PanTiltState {
	if !l.Known {
		return nil
	}
	st := l.State
	return &st
}

// ============================================================================
// Poller
// ============================================================================

// Poller fetches the rig's PanTiltState immediately and then on every interval
// until its context is canceled. Failures are reported but never stop the loop.
type Poller struct {
	api      RigAPI
	clk      clock.Clock
	interval time.Duration
	seq      *requestSeq
	logger   *slog.Logger

	onState func(st PanTiltState, seq uint64)
	onError func(err error)
}

// NewPoller creates a poller. onState and onError are called from the poller goroutine.
func NewPoller(api RigAPI, clk clock.Clock, interval time.Duration, seq *requestSeq, onState func(PanTiltState, uint64), onError func(error), logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if seq == nil {
		seq = &requestSeq{}
	}
	return &Poller{
		api:      api,
		clk:      clk,
		interval: interval,
		seq:      seq,
		logger:   logger,
		onState:  onState,
		onError:  onError,
	}
}

// Run polls until ctx is canceled. Polls are sequential: a slow rig delays the
// next poll instead of stacking requests.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("pan/tilt poller starting", "interval", p.interval)
	defer p.logger.Info("pan/tilt poller stopped")

	p.pollOnce(ctx)

	ticker := p.clk.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	seq := p.seq.Next()
	st, err := p.api.GetPanTilt(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("pan/tilt poll failed", "error", err)
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	if p.onState != nil {
		p.onState(st, seq)
	}
}
