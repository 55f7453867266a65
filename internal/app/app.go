// Package app builds the long-lived services of a harvest run and holds them
// for the duration of the command, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-harvest/internal/api"
	"github.com/JakeFAU/link-harvest/internal/batch"
	"github.com/JakeFAU/link-harvest/internal/clock/system"
	"github.com/JakeFAU/link-harvest/internal/config"
	"github.com/JakeFAU/link-harvest/internal/harvester"
	iduuid "github.com/JakeFAU/link-harvest/internal/id/uuid"
	"github.com/JakeFAU/link-harvest/internal/logging"
	"github.com/JakeFAU/link-harvest/internal/metrics"
	"github.com/JakeFAU/link-harvest/internal/policy/ratelimit"
	"github.com/JakeFAU/link-harvest/internal/pool"
	"github.com/JakeFAU/link-harvest/internal/progress"
	progresssinks "github.com/JakeFAU/link-harvest/internal/progress/sinks"
	"github.com/JakeFAU/link-harvest/internal/stats"
	"github.com/JakeFAU/link-harvest/internal/storage/local"
)

// Options carries process-level collaborators that are not part of Config.
type Options struct {
	// Out receives the console UI. Defaults to stdout.
	Out io.Writer
	// Registerer receives the progress collectors. Defaults to the global registry.
	Registerer prometheus.Registerer
}

// App holds the services for one harvest run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     uuid.UUID
	store     *local.BatchStore
	limiter   *ratelimit.Limiter
	pool      *pool.Pool
	stats     *stats.Collector
	validator *harvester.Validator
	hub       *progress.Hub
	console   *batch.Console
	runner    *batch.Runner
	server    *api.Server
}

// New wires every component of the harvest engine. It fails fast when the
// input directory is missing or the pool cannot be built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	metrics.Init()

	runID, err := iduuid.New().NewRunID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	h := cfg.Harvest
	clock := system.New()

	store, err := local.New(local.Config{BaseDir: h.InputDir})
	if err != nil {
		return nil, fmt.Errorf("open input directory: %w", err)
	}

	handles, err := pool.New(ctx, pool.Config{
		Capacity:           cfg.Pool.Capacity,
		AcquireWait:        cfg.Pool.AcquireWait,
		Timeout:            h.RequestTimeout,
		UserAgent:          h.UserAgent,
		InsecureSkipVerify: h.InsecureSkipVerify,
		MaxRedirects:       h.MaxRedirects,
		Logger:             logging.Component(logger, "pool"),
	})
	if err != nil {
		return nil, fmt.Errorf("init connection pool: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		runID:  runID,
		store:  store,
		pool:   handles,
		stats:  stats.New(clock),
		limiter: ratelimit.New(ratelimit.Config{
			MinInterval: h.MinDelay,
			Clock:       clock,
		}),
		console: batch.NewConsole(opts.Out, h.Verbose),
	}

	a.validator, err = harvester.NewValidator(harvester.Config{
		Limiter: a.limiter,
		Pool: harvester.LenderFunc(func(ctx context.Context) (harvester.Handle, error) {
			handle, acquireErr := handles.Acquire(ctx)
			if acquireErr != nil {
				return nil, acquireErr
			}
			return handle, nil
		}),
		Backoff: harvester.ExponentialBackoff{
			Base:       h.MinDelay,
			Multiplier: h.BackoffMultiplier,
			Max:        h.MaxBackoff,
		},
		Recorder:   a.stats,
		Clock:      clock,
		Logger:     logging.Component(logger, "validator"),
		MaxRetries: h.MaxRetries,
	})
	if err != nil {
		handles.Close()
		return nil, fmt.Errorf("init validator: %w", err)
	}

	promSink, err := progresssinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		handles.Close()
		return nil, fmt.Errorf("init progress sink: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		FlushInterval: 250 * time.Millisecond,
		Logger:        logging.Component(logger, "progress"),
	}, progresssinks.NewLogSink(logging.Component(logger, "events")), promSink)

	a.runner, err = batch.New(batch.Config{
		MinDelay: h.MinDelay,
		MaxDelay: h.MaxDelay,
		Workers:  h.Workers,
	}, batch.Deps{
		Validator: a.validator,
		Store:     store,
		Stats:     a.stats,
		Console:   a.console,
		Emitter:   a.hub,
		Clock:     clock,
		Logger:    logging.Component(logger, "batch"),
		RunID:     runID,
	})
	if err != nil {
		_ = a.closeServices(ctx)
		return nil, fmt.Errorf("init batch runner: %w", err)
	}

	if cfg.Server.Addr != "" {
		a.server = api.NewServer(api.Deps{
			RunID:  runID,
			Stats:  a.stats,
			Pool:   handles,
			Events: a.hub,
			Hosts:  a.limiter,
			Logger: logging.Component(logger, "api"),
		})
	}

	return a, nil
}

// RunID identifies this run on progress events and the status server.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Server returns the status server, or nil when server.addr is empty.
func (a *App) Server() *api.Server {
	return a.server
}

// Run prints the banner, serves the status endpoints when configured and
// drives the batch runner to completion or cancellation.
func (a *App) Run(ctx context.Context) (batch.Summary, error) {
	h := a.cfg.Harvest
	a.console.Banner(batch.Settings{
		RunID:        a.runID.String(),
		InputDir:     a.store.Dir(),
		MinDelay:     h.MinDelay,
		MaxDelay:     h.MaxDelay,
		Timeout:      h.RequestTimeout,
		MaxRetries:   h.MaxRetries,
		Multiplier:   h.BackoffMultiplier,
		PoolCapacity: a.cfg.Pool.Capacity,
		Workers:      h.Workers,
		UserAgent:    h.UserAgent,
	})

	if a.server == nil {
		return a.runner.Run(ctx)
	}

	serveCtx, stopServer := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, a.cfg.Server.Addr)
	})

	sum, runErr := a.runner.Run(ctx)
	stopServer()
	if err := g.Wait(); err != nil {
		a.logger.Warn("status server failed", zap.Error(err))
	}
	return sum, runErr
}

// Close flushes progress sinks and releases pooled connections.
func (a *App) Close(ctx context.Context) error {
	err := a.closeServices(ctx)
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeServices(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
