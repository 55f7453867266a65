package harvester

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-harvest/internal/policy/ratelimit"
)

type countingRecorder struct {
	requests, retries, successes, failures atomic.Int64
}

func (r *countingRecorder) RecordRequest() { r.requests.Add(1) }
func (r *countingRecorder) RecordRetry()   { r.retries.Add(1) }
func (r *countingRecorder) RecordSuccess() { r.successes.Add(1) }
func (r *countingRecorder) RecordFailure() { r.failures.Add(1) }

type recordingLimiter struct {
	mu    sync.Mutex
	hosts []string
}

func (l *recordingLimiter) WaitIfNeeded(ctx context.Context, host string) error {
	l.mu.Lock()
	l.hosts = append(l.hosts, host)
	l.mu.Unlock()
	return ctx.Err()
}

type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return ctx.Err()
}

// httpHandle issues HEAD requests with a plain client.
type httpHandle struct {
	released *atomic.Int64
}

func (h httpHandle) Head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return StatusTransportError, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return StatusTransportError, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (h httpHandle) Release() { h.released.Add(1) }

type fixture struct {
	limiter  *recordingLimiter
	pauser   *recordingPauser
	recorder *countingRecorder
	released atomic.Int64
}

func newFixture(t *testing.T, maxRetries int, lend LenderFunc) (*Validator, *fixture) {
	t.Helper()
	f := &fixture{
		limiter:  &recordingLimiter{},
		pauser:   &recordingPauser{},
		recorder: &countingRecorder{},
	}
	if lend == nil {
		lend = func(context.Context) (Handle, error) {
			return httpHandle{released: &f.released}, nil
		}
	}
	v, err := NewValidator(Config{
		Limiter:    f.limiter,
		Pool:       lend,
		Backoff:    ExponentialBackoff{Base: 100 * time.Millisecond, Multiplier: 2},
		Pauser:     f.pauser,
		Recorder:   f.recorder,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	return v, f
}

// failingServer answers with failStatus for the first k requests, then 200.
func failingServer(t *testing.T, k int64, failStatus int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if hits.Add(1) <= k {
			w.WriteHeader(failStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestValidateAlwaysOK(t *testing.T) {
	srv, hits := failingServer(t, 0, http.StatusOK)
	v, f := newFixture(t, 3, nil)

	out := v.Validate(context.Background(), srv.URL+"/ok")

	require.True(t, out.Valid)
	require.Equal(t, http.StatusOK, out.StatusCode)
	require.Equal(t, 1, out.Attempts)
	require.NoError(t, out.Err)
	require.Equal(t, int64(1), hits.Load())
	require.Equal(t, int64(0), f.recorder.retries.Load())
	require.Equal(t, int64(1), f.recorder.requests.Load())
	require.Equal(t, int64(1), f.recorder.successes.Load())
	require.Equal(t, int64(0), f.recorder.failures.Load())
	require.Empty(t, f.pauser.delays)
	require.Equal(t, int64(1), f.released.Load())
}

func TestValidateFailsKTimesThenSucceeds(t *testing.T) {
	for _, k := range []int64{1, 2} {
		srv, _ := failingServer(t, k, http.StatusServiceUnavailable)
		v, f := newFixture(t, 3, nil)

		out := v.Validate(context.Background(), srv.URL)

		require.True(t, out.Valid, "k=%d", k)
		require.Equal(t, int(k)+1, out.Attempts)
		require.Equal(t, int(k), out.Retries)
		require.Equal(t, k, f.recorder.retries.Load())
		require.Equal(t, k+1, f.recorder.requests.Load())
		require.Equal(t, int64(1), f.recorder.successes.Load())
		require.Equal(t, int64(0), f.recorder.failures.Load())
		// one limiter wait per dispatch
		require.Len(t, f.limiter.hosts, int(k)+1)
	}
}

func TestValidateAlwaysFails(t *testing.T) {
	srv, hits := failingServer(t, 1<<30, http.StatusNotFound)
	v, f := newFixture(t, 3, nil)

	out := v.Validate(context.Background(), srv.URL+"/gone")

	require.False(t, out.Valid)
	require.Equal(t, http.StatusNotFound, out.StatusCode)
	require.Equal(t, 4, out.Attempts)
	require.ErrorIs(t, out.Err, ErrUnacceptableStatus)
	require.Equal(t, int64(4), hits.Load())
	require.Equal(t, int64(1), f.recorder.failures.Load())
	require.Equal(t, int64(0), f.recorder.successes.Load())
	require.Equal(t, int64(3), f.recorder.retries.Load())
	require.Equal(t, int64(4), f.recorder.requests.Load())
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, f.pauser.delays)
	require.Equal(t, int64(4), f.released.Load())
}

func TestValidateZeroRetries(t *testing.T) {
	srv, _ := failingServer(t, 1<<30, http.StatusInternalServerError)
	v, f := newFixture(t, 0, nil)

	out := v.Validate(context.Background(), srv.URL)

	require.False(t, out.Valid)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, int64(0), f.recorder.retries.Load())
}

func TestValidateRedirectIsAcceptable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	t.Cleanup(srv.Close)
	v, _ := newFixture(t, 1, nil)

	out := v.Validate(context.Background(), srv.URL)
	require.True(t, out.Valid)
	require.Equal(t, http.StatusNotModified, out.StatusCode)
}

func TestValidatePoolExhaustionIsRetried(t *testing.T) {
	errEmpty := errors.New("no handle available")
	srv, _ := failingServer(t, 0, http.StatusOK)
	var lends int
	var released atomic.Int64
	v, f := newFixture(t, 2, func(context.Context) (Handle, error) {
		lends++
		if lends == 1 {
			return nil, errEmpty
		}
		return httpHandle{released: &released}, nil
	})

	out := v.Validate(context.Background(), srv.URL)

	require.True(t, out.Valid)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, int64(2), f.recorder.requests.Load())
	require.Equal(t, int64(1), f.recorder.retries.Load())
	require.Equal(t, int64(1), released.Load())
}

func TestValidateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	v, f := newFixture(t, 1, nil)
	out := v.Validate(context.Background(), addr)

	require.False(t, out.Valid)
	require.Equal(t, StatusTransportError, out.StatusCode)
	require.Error(t, out.Err)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, int64(1), f.recorder.failures.Load())
}

func TestValidateCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, f := newFixture(t, 3, nil)
	out := v.Validate(ctx, "http://example.invalid/x")

	require.False(t, out.Valid)
	require.True(t, out.Canceled)
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, 0, out.Attempts)
	require.Equal(t, int64(0), f.recorder.failures.Load())
	require.Equal(t, int64(0), f.recorder.successes.Load())
	require.Equal(t, int64(0), f.recorder.requests.Load())
	require.Equal(t, int64(0), f.released.Load())
}

// cancelingHandle cancels the run while its request is in flight.
type cancelingHandle struct {
	cancel   context.CancelFunc
	released *atomic.Int64
}

func (h cancelingHandle) Head(ctx context.Context, _ string) (int, error) {
	h.cancel()
	<-ctx.Done()
	return StatusTransportError, ctx.Err()
}

func (h cancelingHandle) Release() { h.released.Add(1) }

func TestValidateInterruptedURLIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var released atomic.Int64
	v, f := newFixture(t, 3, func(context.Context) (Handle, error) {
		return cancelingHandle{cancel: cancel, released: &released}, nil
	})
	out := v.Validate(ctx, "http://example.com/slow")

	require.False(t, out.Valid)
	require.True(t, out.Canceled)
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, int64(1), f.recorder.requests.Load())
	require.Equal(t, int64(0), f.recorder.failures.Load())
	require.Equal(t, int64(0), f.recorder.retries.Load())
	require.Equal(t, int64(1), released.Load())
}

func TestValidateFailedPacingReleasesHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var released atomic.Int64
	v, f := newFixture(t, 3, func(context.Context) (Handle, error) {
		cancel()
		return httpHandle{released: &released}, nil
	})
	out := v.Validate(ctx, "http://example.com/x")

	require.True(t, out.Canceled)
	require.Equal(t, 0, out.Attempts)
	require.Equal(t, int64(1), released.Load())
	require.Len(t, f.limiter.hosts, 1)
}

// semaphoreLender lends at most cap(tokens) handles at once and gives up
// after wait.
type semaphoreLender struct {
	tokens chan struct{}
	wait   time.Duration
	handle func() Handle
}

func (l *semaphoreLender) Lend(ctx context.Context) (Handle, error) {
	select {
	case l.tokens <- struct{}{}:
		return l.handle(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(l.wait):
		return nil, errors.New("pool exhausted")
	}
}

// timedHandle records when each request went out.
type timedHandle struct {
	mu     *sync.Mutex
	sent   *[]time.Time
	hold   time.Duration
	tokens chan struct{}
}

func (h timedHandle) Head(context.Context, string) (int, error) {
	h.mu.Lock()
	first := len(*h.sent) == 0
	*h.sent = append(*h.sent, time.Now())
	h.mu.Unlock()
	if first {
		time.Sleep(h.hold)
	}
	return http.StatusOK, nil
}

func (h timedHandle) Release() { <-h.tokens }

func TestValidatePacingHoldsWhenWorkersOutnumberHandles(t *testing.T) {
	const interval = 100 * time.Millisecond

	var (
		mu   sync.Mutex
		sent []time.Time
	)
	lender := &semaphoreLender{tokens: make(chan struct{}, 1), wait: 5 * time.Second}
	lender.handle = func() Handle {
		return timedHandle{mu: &mu, sent: &sent, hold: 2 * interval, tokens: lender.tokens}
	}
	v, err := NewValidator(Config{
		Limiter:    ratelimit.New(ratelimit.Config{MinInterval: interval}),
		Pool:       lender,
		MaxRetries: 0,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := v.Validate(context.Background(), "http://x.com/p")
			assert.True(t, out.Valid)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 3)
	sort.Slice(sent, func(i, j int) bool { return sent[i].Before(sent[j]) })
	for i := 1; i < len(sent); i++ {
		gap := sent[i].Sub(sent[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "gap %d was %s", i, gap)
	}
}

func TestNewValidatorRequiresCollaborators(t *testing.T) {
	_, err := NewValidator(Config{Pool: LenderFunc(nil)})
	require.Error(t, err)
	_, err = NewValidator(Config{Limiter: &recordingLimiter{}})
	require.Error(t, err)
	_, err = NewValidator(Config{Limiter: &recordingLimiter{}, Pool: LenderFunc(nil), MaxRetries: -1})
	require.Error(t, err)
}

func TestPhaseTerminal(t *testing.T) {
	require.True(t, PhaseValid.Terminal())
	require.True(t, PhaseInvalid.Terminal())
	require.False(t, PhaseBackoff.Terminal())
	require.Equal(t, "rate_limited", PhaseRateLimited.String())
}
