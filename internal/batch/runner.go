package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-harvest/internal/harvester"
	"github.com/JakeFAU/link-harvest/internal/metrics"
	"github.com/JakeFAU/link-harvest/internal/progress"
	"github.com/JakeFAU/link-harvest/internal/stats"
)

// Validator decides one URL.
type Validator interface {
	Validate(ctx context.Context, rawURL string) harvester.Outcome
}

// Store lists, reads and rewrites batch files.
type Store interface {
	Dir() string
	List() ([]string, error)
	ReadURLs(name string) ([]string, error)
	Replace(name string, urls []string) error
}

// Reporter produces the final counters.
type Reporter interface {
	Report() stats.Report
}

// Config tunes the runner.
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// Workers validating URLs of one file concurrently; 1 is sequential.
	Workers int
}

// Deps are the runner's collaborators. Validator, Store and Stats are required.
type Deps struct {
	Validator Validator
	Store     Store
	Stats     Reporter
	Console   *Console
	Emitter   progress.Emitter
	Pauser    harvester.Pauser
	Clock     harvester.Clock
	Logger    *zap.Logger
	RunID     uuid.UUID
}

// FileResult describes what happened to one batch file.
type FileResult struct {
	Name  string `json:"name"`
	URLs  int    `json:"urls"`
	Valid int    `json:"valid"`
	Err   error  `json:"-"`
}

// Rewritten reports whether the file was replaced.
func (f FileResult) Rewritten() bool { return f.Err == nil }

// Summary is the outcome of Run.
type Summary struct {
	RunID  uuid.UUID
	Files  []FileResult
	Total  int
	Report stats.Report
}

// Runner processes every batch file of a store.
type Runner struct {
	cfg       Config
	validator Validator
	store     Store
	stats     Reporter
	console   *Console
	emitter   progress.Emitter
	pauser    harvester.Pauser
	clock     harvester.Clock
	logger    *zap.Logger
	runID     uuid.UUID

	done  atomic.Int64
	total int
}

// New builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Validator == nil || deps.Store == nil || deps.Stats == nil {
		return nil, errors.New("batch: validator, store and stats are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	r := &Runner{
		cfg:       cfg,
		validator: deps.Validator,
		store:     deps.Store,
		stats:     deps.Stats,
		console:   deps.Console,
		emitter:   deps.Emitter,
		pauser:    deps.Pauser,
		clock:     deps.Clock,
		logger:    deps.Logger,
		runID:     deps.RunID,
	}
	if r.console == nil {
		r.console = NewConsole(nil, false)
	}
	if r.emitter == nil {
		r.emitter = progress.NopEmitter{}
	}
	if r.pauser == nil {
		r.pauser = harvester.TimerPauser{}
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.runID == uuid.Nil {
		r.runID = uuid.New()
	}
	return r, nil
}

type batchFile struct {
	name string
	urls []string
	err  error
}

// Run discovers the batch files, validates every URL and rewrites each file
// with its survivors. Per-file failures are recorded in the summary; the
// returned error is non-nil only when discovery fails or ctx is canceled.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.clock.Now()
	sum := Summary{RunID: r.runID}

	names, err := r.store.List()
	if err != nil {
		return sum, fmt.Errorf("discover batch files: %w", err)
	}

	files := make([]batchFile, 0, len(names))
	for _, name := range names {
		urls, readErr := r.store.ReadURLs(name)
		files = append(files, batchFile{name: name, urls: urls, err: readErr})
		r.total += len(urls)
	}
	sum.Total = r.total

	r.logger.Info("harvest started",
		zap.Stringer("run_id", r.runID),
		zap.Int("files", len(files)),
		zap.Int("urls", r.total))
	r.console.Discovered(len(files), r.total)
	r.emit(progress.Event{Stage: progress.StageRunStart, Total: r.total})

	var runErr error
	for _, f := range files {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		res := r.processFile(ctx, f)
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			runErr = res.Err
			break
		}
		sum.Files = append(sum.Files, res)
	}

	r.console.Progress(int(r.done.Load()), r.total, "")
	sum.Report = r.stats.Report()
	r.console.Report(sum.Report)
	r.emit(progress.Event{
		Stage: progress.StageRunDone,
		Done:  int(r.done.Load()),
		Total: r.total,
		Dur:   r.clock.Now().Sub(start),
	})
	r.logger.Info("harvest finished",
		zap.Stringer("run_id", r.runID),
		zap.Uint64("total_requests", sum.Report.TotalRequests),
		zap.Uint64("successes", sum.Report.Successes),
		zap.Uint64("failures", sum.Report.Failures),
		zap.Uint64("retries", sum.Report.Retries),
		zap.Duration("elapsed", sum.Report.Elapsed))

	if runErr != nil {
		return sum, fmt.Errorf("harvest interrupted: %w", runErr)
	}
	return sum, nil
}

func (r *Runner) processFile(ctx context.Context, f batchFile) FileResult {
	path := filepath.Join(r.store.Dir(), f.name)
	res := FileResult{Name: f.name, URLs: len(f.urls)}
	log := r.logger.With(zap.String("path", path))

	if f.err != nil {
		return r.fail(res, path, f.err, log)
	}

	r.console.FileStart(path)
	r.emit(progress.Event{Stage: progress.StageFileStart, File: f.name, Total: r.total})
	start := r.clock.Now()

	survivors, err := r.validateAll(ctx, f)
	if err != nil {
		log.Warn("file interrupted, left unchanged", zap.Error(err))
		res.Err = err
		return res
	}

	if err := r.store.Replace(f.name, survivors); err != nil {
		return r.fail(res, path, err, log)
	}
	res.Valid = len(survivors)
	metrics.ObserveFile(true)
	r.console.FileUpdated(path, res.Valid)
	r.emit(progress.Event{
		Stage: progress.StageFileDone,
		File:  f.name,
		Done:  int(r.done.Load()),
		Total: r.total,
		Dur:   r.clock.Now().Sub(start),
		Note:  fmt.Sprintf("%d/%d valid", res.Valid, res.URLs),
	})
	log.Info("file rewritten", zap.Int("urls", res.URLs), zap.Int("valid", res.Valid))
	return res
}

func (r *Runner) fail(res FileResult, path string, err error, log *zap.Logger) FileResult {
	res.Err = err
	metrics.ObserveFile(false)
	r.console.FileFailed(path, err)
	r.emit(progress.Event{Stage: progress.StageFileError, File: res.Name, Total: r.total, Note: err.Error()})
	log.Error("skipping batch file", zap.Error(err))
	return res
}

// validateAll returns the sorted distinct survivors of f, or the context
// error if the file could not be finished.
func (r *Runner) validateAll(ctx context.Context, f batchFile) ([]string, error) {
	set := newSurvivorSet()
	var err error
	if r.cfg.Workers <= 1 || len(f.urls) <= 1 {
		err = r.worker(ctx, f.name, f.urls, set)
	} else {
		err = r.fanOut(ctx, f, set)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return set.sorted(), nil
}

// fanOut feeds the URLs of f to a bounded group of workers.
func (r *Runner) fanOut(ctx context.Context, f batchFile, set *survivorSet) error {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan string)

	g.Go(func() error {
		defer close(queue)
		for _, u := range f.urls {
			select {
			case queue <- u:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers := min(r.cfg.Workers, len(f.urls))
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			pacer := NewPacer(r.cfg.MinDelay, r.cfg.MaxDelay)
			first := true
			for u := range queue {
				if !first {
					if err := r.pauser.Pause(gctx, pacer.Current()); err != nil {
						return err
					}
				}
				first = false
				out := r.check(gctx, f.name, u)
				if gctx.Err() != nil {
					return gctx.Err()
				}
				set.add(out)
				pacer.Next(out.Valid)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("validate %s: %w", f.name, err)
	}
	return nil
}

// worker validates urls in order, pausing adaptively between them.
func (r *Runner) worker(ctx context.Context, name string, urls []string, set *survivorSet) error {
	pacer := NewPacer(r.cfg.MinDelay, r.cfg.MaxDelay)
	for i, u := range urls {
		if i > 0 {
			if err := r.pauser.Pause(ctx, pacer.Current()); err != nil {
				return fmt.Errorf("validate %s: %w", name, err)
			}
		}
		out := r.check(ctx, name, u)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("validate %s: %w", name, err)
		}
		set.add(out)
		pacer.Next(out.Valid)
	}
	return nil
}

func (r *Runner) check(ctx context.Context, name, u string) harvester.Outcome {
	r.console.Progress(int(r.done.Load()), r.total, u)
	out := r.validator.Validate(ctx, u)
	if out.Canceled {
		return out
	}
	done := int(r.done.Add(1))

	r.console.Checked(out)
	r.console.Progress(done, r.total, u)
	evt := progress.Event{
		Stage:      progress.StageURLDone,
		File:       name,
		Host:       out.Host,
		URL:        u,
		Valid:      out.Valid,
		StatusCode: out.StatusCode,
		Attempts:   out.Attempts,
		Done:       done,
		Total:      r.total,
		Dur:        out.Duration,
	}
	if out.Err != nil {
		evt.Note = out.Err.Error()
	}
	r.emit(evt)
	return out
}

func (r *Runner) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(r.runID)
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}

// survivorSet collects valid URLs from concurrent workers.
type survivorSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func newSurvivorSet() *survivorSet {
	return &survivorSet{urls: make(map[string]struct{})}
}

func (s *survivorSet) add(out harvester.Outcome) {
	if !out.Valid {
		return
	}
	s.mu.Lock()
	s.urls[out.URL] = struct{}{}
	s.mu.Unlock()
}

func (s *survivorSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
