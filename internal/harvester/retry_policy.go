package harvester

import (
	"math"
	"time"
)

// ExponentialBackoff grows the delay by Multiplier per retry starting at Base.
// Max caps the delay when positive.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns Base * Multiplier^(retry-1). Retry numbers below 1 yield zero:
// the first attempt is never delayed.
func (b ExponentialBackoff) Delay(retry int) time.Duration {
	if retry < 1 || b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Base) * math.Pow(mult, float64(retry-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
