package harvester

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Config wires a Validator's collaborators.
type Config struct {
	Limiter    Limiter
	Pool       HandlePool
	Backoff    BackoffPolicy
	Pauser     Pauser
	Recorder   Recorder
	Clock      Clock
	Logger     *zap.Logger
	MaxRetries int
}

// Validator runs liveness checks with pacing and bounded retries.
type Validator struct {
	limiter    Limiter
	pool       HandlePool
	backoff    BackoffPolicy
	pauser     Pauser
	recorder   Recorder
	clock      Clock
	logger     *zap.Logger
	maxRetries int
}

// NewValidator builds a Validator. Limiter and Pool are required.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Limiter == nil {
		return nil, errors.New("validator: limiter is required")
	}
	if cfg.Pool == nil {
		return nil, errors.New("validator: pool is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("validator: max retries %d must be >= 0", cfg.MaxRetries)
	}
	v := &Validator{
		limiter:    cfg.Limiter,
		pool:       cfg.Pool,
		backoff:    cfg.Backoff,
		pauser:     cfg.Pauser,
		recorder:   cfg.Recorder,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
	}
	if v.backoff == nil {
		v.backoff = ExponentialBackoff{}
	}
	if v.pauser == nil {
		v.pauser = TimerPauser{}
	}
	if v.recorder == nil {
		v.recorder = nopRecorder{}
	}
	if v.clock == nil {
		v.clock = wallClock{}
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v, nil
}

// retryState tracks one URL through the phases.
type retryState struct {
	phase    Phase
	attempts int
	retries  int
	status   int
	err      error
	// handle is held from the pacing wait through the dispatch.
	handle Handle
}

// Validate checks rawURL and returns its terminal outcome. Exactly one success
// or failure is recorded per call, unless ctx ended first: an interrupted URL
// is reported Canceled and left out of the counters.
func (v *Validator) Validate(ctx context.Context, rawURL string) Outcome {
	start := v.clock.Now()
	host := HostKey(rawURL)
	log := v.logger.With(zap.String("url", rawURL), zap.String("host", host))

	st := retryState{phase: PhasePending, status: StatusTransportError}
	for !st.phase.Terminal() {
		st.phase = v.step(ctx, rawURL, host, &st, log)
	}

	out := Outcome{
		URL:        rawURL,
		Host:       host,
		Valid:      st.phase == PhaseValid,
		StatusCode: st.status,
		Attempts:   st.attempts,
		Retries:    st.retries,
		Err:        st.err,
		Duration:   v.clock.Now().Sub(start),
	}
	switch {
	case out.Valid:
		v.recorder.RecordSuccess()
	case ctx.Err() != nil:
		out.Canceled = true
		if out.Err == nil {
			out.Err = ctx.Err()
		}
		log.Debug("url interrupted", zap.Int("attempts", out.Attempts), zap.Error(out.Err))
	default:
		v.recorder.RecordFailure()
		log.Debug("url invalid",
			zap.Int("status_code", out.StatusCode),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err))
	}
	return out
}

// step performs the work of the current phase and returns the next one.
func (v *Validator) step(ctx context.Context, rawURL, host string, st *retryState, log *zap.Logger) Phase {
	switch st.phase {
	case PhasePending, PhaseRateLimited:
		if err := ctx.Err(); err != nil {
			st.err = err
			return PhaseInvalid
		}
		// The handle is taken before the pacing slot so that a worker queued
		// on the pool cannot hold a slot that has already elapsed.
		h, err := v.pool.Lend(ctx)
		if err != nil {
			st.attempts++
			v.recorder.RecordRequest()
			st.status, st.err = StatusTransportError, fmt.Errorf("acquire handle: %w", err)
			return v.afterFailure(ctx, st, log)
		}
		if err := v.limiter.WaitIfNeeded(ctx, host); err != nil {
			h.Release()
			st.err = err
			return PhaseInvalid
		}
		st.handle = h
		return PhaseDispatching

	case PhaseDispatching:
		st.attempts++
		v.recorder.RecordRequest()
		st.status, st.err = v.dispatch(ctx, st.handle, rawURL)
		st.handle.Release()
		st.handle = nil
		if st.err == nil {
			return PhaseValid
		}
		return v.afterFailure(ctx, st, log)

	case PhaseBackoff:
		delay := v.backoff.Delay(st.retries + 1)
		if err := v.pauser.Pause(ctx, delay); err != nil {
			st.err = err
			return PhaseInvalid
		}
		st.retries++
		v.recorder.RecordRetry()
		return PhaseRateLimited

	default:
		return st.phase
	}
}

// afterFailure decides between another attempt and giving up.
func (v *Validator) afterFailure(ctx context.Context, st *retryState, log *zap.Logger) Phase {
	log.Debug("attempt failed",
		zap.Int("attempt", st.attempts),
		zap.Int("status_code", st.status),
		zap.Error(st.err))
	if ctx.Err() != nil || st.retries >= v.maxRetries {
		return PhaseInvalid
	}
	return PhaseBackoff
}

// dispatch performs one physical attempt on h.
func (v *Validator) dispatch(ctx context.Context, h Handle, rawURL string) (int, error) {
	status, err := h.Head(ctx, rawURL)
	if err != nil {
		return StatusTransportError, fmt.Errorf("head %s: %w", rawURL, err)
	}
	if !Acceptable(status) {
		return status, fmt.Errorf("%w: %d", ErrUnacceptableStatus, status)
	}
	return status, nil
}
