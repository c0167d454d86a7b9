package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/dashvoice/internal/observe"
)

// DefaultReconnectDelay is the fixed wait between losing the connection and
// the next connect attempt.
const DefaultReconnectDelay = 3 * time.Second

// Reconnector schedules reconnect attempts after a fixed delay, with at most
// one attempt pending at any time.
//
// Requests made through [Reconnector.Schedule] while an attempt is already
// pending are ignored. The pending flag is cleared just before the reconnect
// function runs, so a failed attempt may schedule the next one.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	delay     time.Duration
	reconnect func()
	metrics   *observe.Metrics

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Delay is the wait before each attempt. Defaults to 3s if zero.
	Delay time.Duration

	// Reconnect performs one connect attempt. It runs on its own goroutine.
	Reconnect func()

	// Metrics receives reconnect counts. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Reconnector{
		delay:     delay,
		reconnect: cfg.Reconnect,
		metrics:   m,
	}
}

// Delay returns the configured reconnect delay.
func (r *Reconnector) Delay() time.Duration { return r.delay }

// Schedule requests a reconnect after the configured delay. It reports
// whether a new attempt was scheduled; false means one was already pending
// or the reconnector is stopped.
func (r *Reconnector) Schedule(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.timer != nil {
		return false
	}
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(r.delay, func() { r.fire(gen) })

	r.metrics.RecordReconnect(context.Background(), reason)
	slog.Info("reconnect scheduled", "reason", reason, "delay", r.delay)
	return true
}

// Pending reports whether an attempt is scheduled and has not yet started.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Cancel drops the pending attempt, if any. Later calls to Schedule work as
// usual.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

// Stop cancels the pending attempt and makes every later Schedule a no-op.
// Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.cancelLocked()
}

func (r *Reconnector) cancelLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	// Invalidate a timer that already fired but has not taken the lock yet.
	r.gen++
}

func (r *Reconnector) fire(gen uint64) {
	r.mu.Lock()
	if r.stopped || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	slog.Info("attempting reconnection")
	if r.reconnect != nil {
		r.reconnect()
	}
}
