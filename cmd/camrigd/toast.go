package main

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// ToastLevel classifies a toast for presentation.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
)

// Toast is a short-lived user-visible notification.
type Toast struct {
	ID        string     `json:"id"`
	Level     ToastLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Toaster assigns toast identifiers and owns their auto-dismiss timers.
// The toast list itself is reducer state; the toaster only reports expiry.
type Toaster struct {
	clk       clock.Clock
	ttl       time.Duration
	onExpired func(id string)

	mu     sync.Mutex
	timers map[string]*clock.Timer
}

// NewToaster creates a toaster. onExpired is called from a timer goroutine when
// a toast's TTL elapses without a manual dismiss.
func NewToaster(clk clock.Clock, ttl time.Duration, onExpired func(id string)) *Toaster {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = defaultToastTTL
	}
	return &Toaster{
		clk:       clk,
		ttl:       ttl,
		onExpired: onExpired,
		timers:    make(map[string]*clock.Timer),
	}
}

// Show creates a toast and schedules its auto-dismiss.
func (t *Toaster) Show(level ToastLevel, message string) Toast {
	now := t.clk.Now()
	toast := Toast{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(t.ttl),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := toast.ID
	t.timers[id] = t.clk.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		_, live := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if live && t.onExpired != nil {
			t.onExpired(id)
		}
	})
	return toast
}

// Dismiss cancels a toast's auto-dismiss timer. It reports whether the toast was live.
func (t *Toaster) Dismiss(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, id)
	return true
}

// Live returns the number of toasts with a pending auto-dismiss.
func (t *Toaster) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// StopAll cancels every pending timer (shutdown).
func (t *Toaster) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
