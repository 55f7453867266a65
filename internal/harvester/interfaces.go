package harvester

import (
	"context"
	"time"
)

// Limiter paces dispatches per host.
type Limiter interface {
	WaitIfNeeded(ctx context.Context, host string) error
}

// Handle is a pooled network resource on loan to one caller.
type Handle interface {
	Head(ctx context.Context, url string) (int, error)
	// Release returns the handle to its pool. It must be called exactly once.
	Release()
}

// HandlePool lends handles. An error means no handle could be obtained.
type HandlePool interface {
	Lend(ctx context.Context) (Handle, error)
}

// LenderFunc adapts a function to HandlePool.
type LenderFunc func(ctx context.Context) (Handle, error)

// Lend calls f.
func (f LenderFunc) Lend(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// Pauser suspends the caller for a delay, returning early with the context error.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Recorder receives validation counters.
type Recorder interface {
	RecordRequest()
	RecordRetry()
	RecordSuccess()
	RecordFailure()
}

// BackoffPolicy computes the delay before retry n (1-based).
type BackoffPolicy interface {
	Delay(retry int) time.Duration
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest() {}
func (nopRecorder) RecordRetry()   {}
func (nopRecorder) RecordSuccess() {}
func (nopRecorder) RecordFailure() {}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
