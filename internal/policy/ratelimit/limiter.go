// Package ratelimit enforces a minimum spacing between dispatches to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/link-harvest/internal/metrics"
	"golang.org/x/time/rate"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Pauser blocks for a delay unless ctx ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the minimum time between two dispatches to one host.
	// Zero disables pacing.
	MinInterval time.Duration
	Clock       Clock
	Pauser      Pauser
}

// hostState is the pacing record for one host.
type hostState struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSlot time.Time
}

// Limiter manages per-host pacing. Hosts are never evicted.
type Limiter struct {
	mu       sync.Mutex
	hosts    map[string]*hostState
	interval time.Duration
	limit    rate.Limit
	clock    Clock
	pauser   Pauser
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	l := &Limiter{
		hosts:    make(map[string]*hostState),
		interval: cfg.MinInterval,
		limit:    limit,
		clock:    cfg.Clock,
		pauser:   cfg.Pauser,
	}
	if l.clock == nil {
		l.clock = wallClock{}
	}
	if l.pauser == nil {
		l.pauser = timerPauser{}
	}
	return l
}

// WaitIfNeeded blocks until host may be contacted again. The dispatch slot is
// claimed before sleeping, so concurrent callers for one host queue up behind
// each other at MinInterval spacing measured between dispatch times.
func (l *Limiter) WaitIfNeeded(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	delay := l.reserve(l.state(host))
	if delay <= 0 {
		return nil
	}
	metrics.ObserveRateLimitDelay(host, delay)
	if err := l.pauser.Pause(ctx, delay); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Hosts reports how many distinct hosts have been seen.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.hosts[host]
	if !ok {
		st = &hostState{limiter: rate.NewLimiter(l.limit, 1)}
		l.hosts[host] = st
	}
	return st
}

// reserve claims the next slot for st and returns how long to wait for it.
func (l *Limiter) reserve(st *hostState) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.clock.Now()
	r := st.limiter.ReserveN(now, 1)
	slot := now.Add(r.DelayFrom(now))
	// Token math is float based and may land a few nanoseconds early.
	if !st.lastSlot.IsZero() {
		if floor := st.lastSlot.Add(l.interval); slot.Before(floor) {
			slot = floor
		}
	}
	st.lastSlot = slot
	return slot.Sub(now)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
