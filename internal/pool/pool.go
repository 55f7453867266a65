// Package pool lends reusable HTTP handles from a fixed-capacity pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-harvest/internal/metrics"
)

var (
	// ErrExhausted is returned when no handle became available in time.
	ErrExhausted = errors.New("pool: no handle available")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pool: closed")
)

// Config sizes the pool and sets the baseline of every handle.
type Config struct {
	Capacity int
	// AcquireWait bounds how long Acquire waits for a free handle.
	// Zero makes Acquire fail immediately when the pool is empty.
	AcquireWait        time.Duration
	Timeout            time.Duration
	UserAgent          string
	InsecureSkipVerify bool
	MaxRedirects       int
	Logger             *zap.Logger
}

// Stat is a point-in-time view of the pool.
type Stat struct {
	Capacity int `json:"capacity"`
	Loaned   int `json:"loaned"`
	Idle     int `json:"idle"`
	Total    int `json:"total"`
}

// Pool hands out at most Capacity handles at a time.
type Pool struct {
	res      *puddle.Pool[*Handle]
	capacity int
	wait     time.Duration
	base     baseline
	nextID   atomic.Int64
	logger   *zap.Logger
}

// New builds the pool and creates all handles up front.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Capacity <= 0 || cfg.Capacity > math.MaxInt32 {
		return nil, fmt.Errorf("pool: capacity %d out of range", cfg.Capacity)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("pool: timeout %v must be > 0", cfg.Timeout)
	}
	if cfg.MaxRedirects < 0 {
		return nil, fmt.Errorf("pool: max redirects %d must be >= 0", cfg.MaxRedirects)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		capacity: cfg.Capacity,
		wait:     cfg.AcquireWait,
		base: baseline{
			timeout:            cfg.Timeout,
			userAgent:          cfg.UserAgent,
			insecureSkipVerify: cfg.InsecureSkipVerify,
			maxRedirects:       cfg.MaxRedirects,
		},
		logger: logger,
	}

	res, err := puddle.NewPool(&puddle.Config[*Handle]{
		Constructor: func(context.Context) (*Handle, error) {
			return newHandle(p.nextID.Add(1), p, p.base), nil
		},
		Destructor: func(h *Handle) { h.discard() },
		MaxSize:    int32(cfg.Capacity), //nolint:gosec // bounded above
	})
	if err != nil {
		return nil, fmt.Errorf("pool: create: %w", err)
	}
	p.res = res

	for i := 0; i < cfg.Capacity; i++ {
		if err := res.CreateResource(ctx); err != nil {
			res.Close()
			return nil, fmt.Errorf("pool: warm handle %d: %w", i, err)
		}
	}
	logger.Debug("pool ready", zap.Int("capacity", cfg.Capacity), zap.Duration("acquire_wait", cfg.AcquireWait))
	return p, nil
}

// TryAcquire returns an idle handle or ErrExhausted without blocking.
func (p *Pool) TryAcquire(ctx context.Context) (*Handle, error) {
	r, err := p.res.TryAcquire(ctx)
	if err != nil {
		return nil, p.acquireErr(ctx, err)
	}
	return p.lend(r), nil
}

// Acquire waits up to the configured AcquireWait for a handle.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.wait <= 0 {
		return p.TryAcquire(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()
	r, err := p.res.Acquire(waitCtx)
	if err != nil {
		return nil, p.acquireErr(ctx, err)
	}
	return p.lend(r), nil
}

func (p *Pool) lend(r *puddle.Resource[*Handle]) *Handle {
	h := r.Value()
	h.res = r
	h.loaned.Store(true)
	metrics.SetPoolLoaned(int(p.res.Stat().AcquiredResources()))
	return h
}

func (p *Pool) acquireErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return ErrClosed
	case ctx.Err() != nil:
		return fmt.Errorf("pool: acquire: %w", ctx.Err())
	default:
		// ErrNotAvailable or the bounded wait expired
		metrics.ObservePoolExhausted()
		return ErrExhausted
	}
}

// Release resets h to the baseline and returns it to the free list. Handles
// that did not come from this pool, or are not on loan, are never retained.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if h.pool != p {
		p.logger.Warn("discarding foreign handle", zap.Int64("handle", h.id))
		h.discard()
		return
	}
	if !h.loaned.CompareAndSwap(true, false) {
		p.logger.Warn("ignoring release of idle handle", zap.Int64("handle", h.id))
		return
	}
	r := h.res
	h.res = nil
	h.reset()

	if int(p.res.Stat().IdleResources()) >= p.capacity {
		r.Destroy()
	} else {
		r.Release()
	}
	metrics.SetPoolLoaned(int(p.res.Stat().AcquiredResources()))
}

// Stat reports current usage.
func (p *Pool) Stat() Stat {
	s := p.res.Stat()
	return Stat{
		Capacity: p.capacity,
		Loaned:   int(s.AcquiredResources()),
		Idle:     int(s.IdleResources()),
		Total:    int(s.TotalResources()),
	}
}

// Close destroys idle handles and blocks until loaned ones are released.
func (p *Pool) Close() {
	p.res.Close()
}
