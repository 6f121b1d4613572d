package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// Settings patch coalescer
// ============================================================================
//
// Rapid settings changes (slider drags) are merged into one pending patch
// (last write wins per key). The pending patch is dispatched either when the
// debounce window has been quiet, or immediately on request. Dispatch hands the
// batch to a single worker goroutine, so PATCH requests never overlap and are
// sent in dispatch order.
//
// Every caller whose patch went into a batch receives the same *Flush handle and
// therefore the same result or error.
// ============================================================================

var errCoalescerStopped = errors.New("settings coalescer stopped")

// Flush is the shared outcome of one dispatched settings batch.
type Flush struct {
	id    uint64
	patch SettingsPatch
	done  chan struct{}

	result CameraSettings
	err    error
}

// ID returns the flush sequence number (1-based, in dispatch order).
func (f *Flush) ID() uint64 { return f.id }

// Done is closed once the flush has completed or failed.
func (f *Flush) Done() <-chan struct{} { return f.done }

// Wait blocks until the flush completes or ctx is canceled.
func (f *Flush) Wait(ctx context.Context) (CameraSettings, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return CameraSettings{}, ctx.Err()
	}
}

// Patch returns the merged patch sent for this flush. Valid after dispatch.
func (f *Flush) Patch() SettingsPatch { return f.patch }

// SettingsCoalescer batches settings patches into debounced, serialized PATCH requests.
type SettingsCoalescer struct {
	api    RigAPI
	clk    clock.Clock
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending SettingsPatch // accumulating batch, nil when empty
	current *Flush        // handle for the accumulating batch
	queue   []*Flush      // dispatched, not yet sent
	timer   *clock.Timer
	timerID uint64
	nextID  uint64
	stopped bool

	wake chan struct{}
}

// NewSettingsCoalescer creates a coalescer. Call Run to start its worker.
func NewSettingsCoalescer(api RigAPI, clk clock.Clock, window time.Duration, logger *slog.Logger) *SettingsCoalescer {
	if clk == nil {
		clk = clock.New()
	}
	return &SettingsCoalescer{
		api:    api,
		clk:    clk,
		window: window,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Apply merges patch into the pending batch and returns the batch's handle.
//
// With immediate=false the batch is dispatched once no Apply call has arrived
// for the debounce window. With immediate=true it is dispatched now and any
// pending timer is cancelled.
func (c *SettingsCoalescer) Apply(patch SettingsPatch, immediate bool) *Flush {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		f := &Flush{done: make(chan struct{}), err: errCoalescerStopped}
		close(f.done)
		return f
	}

	if c.current == nil {
		c.nextID++
		c.current = &Flush{id: c.nextID, done: make(chan struct{})}
		c.pending = SettingsPatch{}
	}
	c.pending.Merge(patch)
	f := c.current

	if immediate || c.window <= 0 {
		c.stopTimerLocked()
		c.dispatchLocked()
		return f
	}

	c.stopTimerLocked()
	c.timerID++
	id := c.timerID
	c.timer = c.clk.AfterFunc(c.window, func() { c.fire(id) })
	return f
}

// Pending returns a copy of every patch not yet sent: queued batches in
// dispatch order, then the accumulating batch.
func (c *SettingsCoalescer) Pending() SettingsPatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := SettingsPatch{}
	for _, f := range c.queue {
		out.Merge(f.patch)
	}
	out.Merge(c.pending)
	return out
}

// Run sends dispatched batches one at a time until ctx is canceled.
// Batches still queued at shutdown fail with ctx's error.
func (c *SettingsCoalescer) Run(ctx context.Context) {
	for {
		f := c.next()
		if f == nil {
			select {
			case <-ctx.Done():
				c.shutdown(ctx.Err())
				return
			case <-c.wake:
				continue
			}
		}

		if ctx.Err() != nil {
			c.finish(f, CameraSettings{}, ctx.Err())
			c.shutdown(ctx.Err())
			return
		}

		c.logger.Debug("settings flush", "flush", f.id, "keys", f.patch.Keys())
		res, err := c.api.PatchSettings(ctx, f.patch)
		if err != nil {
			c.logger.Warn("settings flush failed", "flush", f.id, "error", err)
		}
		c.finish(f, res, err)
	}
}

func (c *SettingsCoalescer) fire(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.timerID || c.stopped {
		return
	}
	c.timer = nil
	c.dispatchLocked()
}

// dispatchLocked moves the accumulating batch to the send queue.
// The pending patch is cleared here, not when the request completes.
func (c *SettingsCoalescer) dispatchLocked() {
	if c.current == nil {
		return
	}
	c.current.patch = c.pending
	c.queue = append(c.queue, c.current)
	c.current = nil
	c.pending = nil

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *SettingsCoalescer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Invalidate any callback that already fired but has not taken the lock yet.
	c.timerID++
}

func (c *SettingsCoalescer) next() *Flush {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	f := c.queue[0]
	c.queue = c.queue[1:]
	return f
}

func (c *SettingsCoalescer) finish(f *Flush, res CameraSettings, err error) {
	f.result = res
	f.err = err
	close(f.done)
}

func (c *SettingsCoalescer) shutdown(err error) {
	c.mu.Lock()
	c.stopped = true
	c.stopTimerLocked()
	if c.current != nil {
		c.current.patch = c.pending
		c.queue = append(c.queue, c.current)
		c.current = nil
		c.pending = nil
	}
	rest := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, f := range rest {
		c.finish(f, CameraSettings{}, err)
	}
}
