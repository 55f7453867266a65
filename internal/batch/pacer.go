package batch

import "time"

// Pacer is the adaptive delay applied between consecutive URLs of one
// worker. It is independent of per-host pacing and not safe for concurrent use.
type Pacer struct {
	min     time.Duration
	max     time.Duration
	current time.Duration
}

// NewPacer starts at min. A max below min is raised to min.
func NewPacer(min, max time.Duration) *Pacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &Pacer{min: min, max: max, current: min}
}

// Next returns the delay to apply after an outcome: min after a success,
// double the previous delay after a failure, never above max.
func (p *Pacer) Next(valid bool) time.Duration {
	if valid {
		p.current = p.min
		return p.current
	}
	next := p.current * 2
	if next > p.max || next < p.current {
		next = p.max
	}
	p.current = next
	return p.current
}

// Current is the most recent delay.
func (p *Pacer) Current() time.Duration {
	return p.current
}
