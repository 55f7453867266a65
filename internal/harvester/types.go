package harvester

import (
	"errors"
	"time"
)

// StatusTransportError is reported as the status code when no response was
// received (DNS, connect, timeout, pool exhaustion).
const StatusTransportError = -1

// ErrUnacceptableStatus marks a response whose status is outside [200,400).
var ErrUnacceptableStatus = errors.New("unacceptable response status")

// Phase is a step of the per-URL retry state machine.
type Phase int

// Phases of a validation. Valid and Invalid are terminal.
const (
	PhasePending Phase = iota
	PhaseRateLimited
	PhaseDispatching
	PhaseBackoff
	PhaseValid
	PhaseInvalid
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRateLimited:
		return "rate_limited"
	case PhaseDispatching:
		return "dispatching"
	case PhaseBackoff:
		return "backoff"
	case PhaseValid:
		return "valid"
	case PhaseInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseValid || p == PhaseInvalid
}

// Outcome is the result of validating one URL.
type Outcome struct {
	URL        string
	Host       string
	Valid      bool
	StatusCode int
	// Attempts counts physical dispatches, first try included.
	Attempts int
	Retries  int
	// Err holds the last failure; nil when Valid.
	Err error
	// Canceled marks a URL cut short by shutdown. It is neither valid nor
	// counted as a failure.
	Canceled bool
	Duration time.Duration
}

// Acceptable reports whether status counts as reachable.
func Acceptable(status int) bool {
	return status >= 200 && status < 400
}
