// Package stats accumulates run-wide validation counters.
package stats

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/link-harvest/internal/metrics"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Collector holds monotonic counters. All methods are safe for concurrent use.
type Collector struct {
	requests  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
	retries   atomic.Uint64

	clock Clock
	start time.Time
}

// New starts a Collector at clock.Now().
func New(clock Clock) *Collector {
	if clock == nil {
		clock = wallClock{}
	}
	return &Collector{clock: clock, start: clock.Now()}
}

// RecordRequest counts a physical dispatch attempt.
func (c *Collector) RecordRequest() {
	c.requests.Add(1)
	metrics.ObserveRequest()
}

// RecordSuccess counts a URL that ended Valid.
func (c *Collector) RecordSuccess() {
	c.successes.Add(1)
	metrics.ObserveValidation(true)
}

// RecordFailure counts a URL that ended Invalid.
func (c *Collector) RecordFailure() {
	c.failures.Add(1)
	metrics.ObserveValidation(false)
}

// RecordRetry counts one retry.
func (c *Collector) RecordRetry() {
	c.retries.Add(1)
	metrics.ObserveRetry()
}

// Snapshot is a copy of the counters.
type Snapshot struct {
	TotalRequests uint64 `json:"total_requests"`
	Successes     uint64 `json:"successes"`
	Failures      uint64 `json:"failures"`
	Retries       uint64 `json:"retries"`
}

// Snapshot reads the counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: c.requests.Load(),
		Successes:     c.successes.Load(),
		Failures:      c.failures.Load(),
		Retries:       c.retries.Load(),
	}
}

// Report is a Snapshot plus timing.
type Report struct {
	Snapshot
	Start   time.Time     `json:"start"`
	Elapsed time.Duration `json:"elapsed"`
	// Throughput is requests per second; zero when no time has elapsed.
	Throughput float64 `json:"throughput"`
}

// Report computes elapsed time and throughput without touching the counters.
func (c *Collector) Report() Report {
	snap := c.Snapshot()
	elapsed := c.clock.Now().Sub(c.start)
	r := Report{Snapshot: snap, Start: c.start, Elapsed: elapsed}
	if elapsed > 0 {
		r.Throughput = float64(snap.TotalRequests) / elapsed.Seconds()
	}
	return r
}

// WriteTo prints the human-readable report block.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"\n===== Harvest Report =====\n"+
			"Total requests : %d\n"+
			"Successful     : %d\n"+
			"Failed         : %d\n"+
			"Retries        : %d\n"+
			"Elapsed        : %.2f s\n"+
			"Throughput     : %.2f req/s\n"+
			"==========================\n",
		r.TotalRequests, r.Successes, r.Failures, r.Retries,
		r.Elapsed.Seconds(), r.Throughput)
	return int64(n), err
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
