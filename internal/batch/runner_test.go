package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-harvest/internal/harvester"
	"github.com/JakeFAU/link-harvest/internal/policy/ratelimit"
	"github.com/JakeFAU/link-harvest/internal/pool"
	"github.com/JakeFAU/link-harvest/internal/progress"
	"github.com/JakeFAU/link-harvest/internal/stats"
	"github.com/JakeFAU/link-harvest/internal/storage/local"
)

// fakeValidator treats URLs containing "ok" as valid.
type fakeValidator struct {
	mu    sync.Mutex
	seen  []string
	hook  func(url string)
	stats *stats.Collector
}

func (v *fakeValidator) Validate(_ context.Context, u string) harvester.Outcome {
	v.mu.Lock()
	v.seen = append(v.seen, u)
	hook := v.hook
	v.mu.Unlock()
	if hook != nil {
		hook(u)
	}
	valid := strings.Contains(u, "ok")
	if v.stats != nil {
		v.stats.RecordRequest()
		if valid {
			v.stats.RecordSuccess()
		} else {
			v.stats.RecordFailure()
		}
	}
	status := 404
	if valid {
		status = 200
	}
	return harvester.Outcome{URL: u, Host: harvester.HostKey(u), Valid: valid, StatusCode: status, Attempts: 1}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type noPause struct{}

func (noPause) Pause(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func writeBatch(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func readBatch(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func newStore(t *testing.T) (*local.BatchStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	return store, dir
}

func TestRunEndToEnd(t *testing.T) {
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
		n.(*atomic.Int64).Add(1)
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store, dir := newStore(t)
	path := writeBatch(t, dir, "x.com.txt", srv.URL+"/ok", "", srv.URL+"/gone", srv.URL+"/ok")

	ctx := context.Background()
	p, err := pool.New(ctx, pool.Config{Capacity: 2, Timeout: 2 * time.Second, UserAgent: "test", MaxRedirects: 3})
	require.NoError(t, err)
	defer p.Close()

	collector := stats.New(nil)
	validator, err := harvester.NewValidator(harvester.Config{
		Limiter: ratelimit.New(ratelimit.Config{}),
		Pool: harvester.LenderFunc(func(ctx context.Context) (harvester.Handle, error) {
			h, err := p.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return h, nil
		}),
		Backoff:    harvester.ExponentialBackoff{Base: time.Millisecond, Multiplier: 2},
		Recorder:   collector,
		MaxRetries: 2,
	})
	require.NoError(t, err)

	var out bytes.Buffer
	emitter := &recordingEmitter{}
	runner, err := New(Config{}, Deps{
		Validator: validator,
		Store:     store,
		Stats:     collector,
		Console:   NewConsole(&out, true),
		Emitter:   emitter,
	})
	require.NoError(t, err)

	sum, err := runner.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/ok\n", readBatch(t, path))
	require.Len(t, sum.Files, 1)
	assert.True(t, sum.Files[0].Rewritten())
	assert.Equal(t, 3, sum.Files[0].URLs)
	assert.Equal(t, 1, sum.Files[0].Valid)
	assert.Equal(t, 3, sum.Total)

	// ok twice, gone three times (1 + 2 retries)
	assert.Equal(t, uint64(5), sum.Report.TotalRequests)
	assert.Equal(t, uint64(2), sum.Report.Successes)
	assert.Equal(t, uint64(1), sum.Report.Failures)
	assert.Equal(t, uint64(2), sum.Report.Retries)
	gone, _ := hits.Load("/gone")
	assert.Equal(t, int64(3), gone.(*atomic.Int64).Load())

	console := out.String()
	assert.Contains(t, console, "[*] Processing file: "+path)
	assert.Contains(t, console, "  -> Checking: "+srv.URL+"/ok ... OK (200)")
	assert.Contains(t, console, "  -> Checking: "+srv.URL+"/gone ... FAIL (404)")
	assert.Contains(t, console, "[*] Updating file: "+path+" (1 valid URLs)")
	assert.Contains(t, console, "] 100.0% (3/3)")
	assert.Contains(t, console, "[*] Harvest complete.")

	stages := emitter.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	assert.Contains(t, stages, progress.StageFileDone)
	for _, evt := range emitter.events {
		assert.NoError(t, evt.Validate())
	}
}

func TestRunSortsAndDeduplicates(t *testing.T) {
	store, dir := newStore(t)
	path := writeBatch(t, dir, "a.txt", "http://a.com/ok/z", "http://a.com/bad", "http://a.com/ok/a", "http://a.com/ok/z")

	runner, err := New(Config{}, Deps{Validator: &fakeValidator{}, Store: store, Stats: stats.New(nil), Pauser: noPause{}})
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "http://a.com/ok/a\nhttp://a.com/ok/z\n", readBatch(t, path))
}

func TestRunProcessesFilesInOrderAndEveryURL(t *testing.T) {
	store, dir := newStore(t)
	writeBatch(t, dir, "b.txt", "http://b.com/ok", "http://b.com/x")
	writeBatch(t, dir, "a.txt", "http://a.com/1", "http://a.com/ok")
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o600))

	v := &fakeValidator{}
	runner, err := New(Config{}, Deps{Validator: v, Store: store, Stats: stats.New(nil), Pauser: noPause{}})
	require.NoError(t, err)
	sum, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"http://a.com/1", "http://a.com/ok", "http://b.com/ok", "http://b.com/x"}, v.seen)
	require.Len(t, sum.Files, 3)
	assert.Equal(t, "", readBatch(t, empty))
}

// failingStore wraps a real store and fails Replace for one file.
type failingStore struct {
	*local.BatchStore
	failOn string
}

func (s failingStore) Replace(name string, urls []string) error {
	if name == s.failOn {
		return errors.New("disk full")
	}
	return s.BatchStore.Replace(name, urls)
}

func TestRunIsolatesFileErrors(t *testing.T) {
	store, dir := newStore(t)
	bad := writeBatch(t, dir, "a.txt", "http://a.com/ok", "http://a.com/x")
	good := writeBatch(t, dir, "b.txt", "http://b.com/ok", "http://b.com/x")

	var out bytes.Buffer
	emitter := &recordingEmitter{}
	runner, err := New(Config{}, Deps{
		Validator: &fakeValidator{},
		Store:     failingStore{BatchStore: store, failOn: "a.txt"},
		Stats:     stats.New(nil),
		Console:   NewConsole(&out, false),
		Emitter:   emitter,
		Pauser:    noPause{},
	})
	require.NoError(t, err)

	sum, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Files, 2)
	assert.False(t, sum.Files[0].Rewritten())
	assert.True(t, sum.Files[1].Rewritten())
	assert.Equal(t, "http://a.com/ok\nhttp://a.com/x\n", readBatch(t, bad))
	assert.Equal(t, "http://b.com/ok\n", readBatch(t, good))
	assert.Contains(t, out.String(), "[!] Skipping file: "+bad)
	assert.Contains(t, emitter.stages(), progress.StageFileError)
}

func TestRunUnreadableFileIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	store, dir := newStore(t)
	locked := writeBatch(t, dir, "a.txt", "http://a.com/ok")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o600) })
	good := writeBatch(t, dir, "b.txt", "http://b.com/x", "http://b.com/ok")

	runner, err := New(Config{}, Deps{Validator: &fakeValidator{}, Store: store, Stats: stats.New(nil), Pauser: noPause{}})
	require.NoError(t, err)
	sum, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Files, 2)
	assert.Error(t, sum.Files[0].Err)
	assert.Equal(t, "http://b.com/ok\n", readBatch(t, good))
}

func TestRunWorkersKeepEveryInvariant(t *testing.T) {
	store, dir := newStore(t)
	var lines []string
	var want []string
	for i := 0; i < 40; i++ {
		if i%3 == 0 {
			lines = append(lines, fmt.Sprintf("http://w.com/bad/%02d", i))
			continue
		}
		u := fmt.Sprintf("http://w.com/ok/%02d", i)
		lines = append(lines, u)
		want = append(want, u)
	}
	path := writeBatch(t, dir, "w.txt", lines...)

	var inFlight, peak atomic.Int32
	v := &fakeValidator{hook: func(string) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
	}}
	collector := stats.New(nil)
	v.stats = collector

	runner, err := New(Config{Workers: 4}, Deps{Validator: v, Store: store, Stats: collector, Pauser: noPause{}})
	require.NoError(t, err)
	sum, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, strings.Join(want, "\n")+"\n", readBatch(t, path))
	assert.Len(t, v.seen, 40)
	assert.LessOrEqual(t, int(peak.Load()), 4)
	assert.Equal(t, uint64(40), sum.Report.TotalRequests)
}

func TestRunCanceledLeavesFilesUntouched(t *testing.T) {
	store, dir := newStore(t)
	first := writeBatch(t, dir, "a.txt", "http://a.com/ok", "http://a.com/x", "http://a.com/y")
	second := writeBatch(t, dir, "b.txt", "http://b.com/x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := &fakeValidator{hook: func(u string) {
		if u == "http://a.com/x" {
			cancel()
		}
	}}

	runner, err := New(Config{}, Deps{Validator: v, Store: store, Stats: stats.New(nil), Pauser: noPause{}})
	require.NoError(t, err)
	_, err = runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, "http://a.com/ok\nhttp://a.com/x\nhttp://a.com/y\n", readBatch(t, first))
	assert.Equal(t, "http://b.com/x\n", readBatch(t, second))
}

func TestRunAppliesAdaptiveDelay(t *testing.T) {
	store, dir := newStore(t)
	writeBatch(t, dir, "a.txt", "http://a.com/x", "http://a.com/y", "http://a.com/ok", "http://a.com/z")

	pauser := &recordingPauser{}
	runner, err := New(Config{MinDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond},
		Deps{Validator: &fakeValidator{}, Store: store, Stats: stats.New(nil), Pauser: pauser})
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{
		20 * time.Millisecond, // after x failed
		30 * time.Millisecond, // after y failed, capped
		10 * time.Millisecond, // after ok
	}, pauser.delays)
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}
