package session

import (
	"context"
	"sync"
	"time"

	"github.com/okian/gavel/internal/domain/phase"
)

// Default clock configuration constants.
const (
	tickInterval = 1 * time.Second
)

// Clock drives wall-clock-accurate phase timing. The remaining time is
// always recomputed as limit - (now - phaseStartedAt) against the
// authoritative phase-start timestamp, never decremented locally, so
// clients that started ticking late agree with everyone else.
//
// When the countdown reaches zero the clock fires its expiry callback once
// per armed phase. Near-simultaneous expiry observations across clients are
// harmless: only the first resulting phase_advanced append wins, the rest
// are rejected as stale.
type Clock struct {
	mu             sync.Mutex
	current        phase.Phase
	phaseStartedAt time.Time
	limit          time.Duration
	fired          bool
	armed          bool

	onExpire func(ctx context.Context)
	onTick   func(now time.Time)
	now      func() time.Time

	stop chan struct{}
}

// ClockOption applies a configuration option to the Clock.
type ClockOption func(*Clock)

// WithClockNow overrides the time source, mainly for tests.
func WithClockNow(now func() time.Time) ClockOption {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// WithOnTick registers a per-tick hook (used for power-up expiry sweeps).
func WithOnTick(fn func(now time.Time)) ClockOption {
	return func(c *Clock) { c.onTick = fn }
}

// NewClock creates a stopped clock. Arm it with Rearm and start the loop
// with Run.
func NewClock(onExpire func(ctx context.Context), opts ...ClockOption) *Clock {
	c := &Clock{
		onExpire: onExpire,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rearm cancels the countdown for the previous phase and restarts it
// against the new phase's start timestamp and limit. Called whenever a
// phase_advanced event is observed, including one's own.
func (c *Clock) Rearm(p phase.Phase, startedAt time.Time, limit time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = p
	c.phaseStartedAt = startedAt
	c.limit = limit
	c.fired = false
	c.armed = limit > 0 && !p.Terminal() && p != phase.Deliberation
}

// Extend grows the current phase's limit in place (time_extension power-up).
func (c *Clock) Extend(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 && c.armed {
		c.limit += d
		c.fired = false
	}
}

// Disarm stops the countdown without stopping the loop (deliberation waits
// on the judgment service, not the clock).
func (c *Clock) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = false
}

// Remaining returns the time left in the current phase, floored at zero.
func (c *Clock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(c.now())
}

func (c *Clock) remainingLocked(now time.Time) time.Duration {
	if !c.armed {
		return 0
	}
	rem := c.limit - now.Sub(c.phaseStartedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// Run ticks once per second until ctx is done or Stop is called.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Clock) tick(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	onTick := c.onTick
	expired := c.armed && !c.fired && c.remainingLocked(now) == 0
	if expired {
		c.fired = true
	}
	onExpire := c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(now)
	}
	if expired && onExpire != nil {
		onExpire(ctx)
	}
}

// Stop halts the loop. Leaving a session stops only this client's clock.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}
