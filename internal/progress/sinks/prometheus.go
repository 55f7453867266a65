package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/link-harvest/internal/progress"
)

// PrometheusSink turns progress events into run-level collectors.
type PrometheusSink struct {
	runsStarted prometheus.Counter
	runsActive  prometheus.Gauge
	runDuration prometheus.Histogram
	progress    prometheus.Gauge

	filesDone *prometheus.CounterVec
	urlsDone  *prometheus.CounterVec
	urlCheck  *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Harvest runs started.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_active",
			Help: "Harvest runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_progress_ratio",
			Help: "Fraction of discovered URLs processed in the current run.",
		}),
		filesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_progress_files_total",
			Help: "Batch files finished, partitioned by result.",
		}, []string{"result"}),
		urlsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_progress_urls_total",
			Help: "URLs checked, partitioned by outcome and status class.",
		}, []string{"outcome", "status_class"}),
		urlCheck: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_url_check_seconds",
			Help:    "Time to reach a verdict for one URL including retries.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsActive, s.runDuration, s.progress,
		s.filesDone, s.urlsDone, s.urlCheck,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsActive.Inc()
			s.progress.Set(0)
		case progress.StageRunDone:
			s.runsActive.Dec()
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageFileDone:
			s.filesDone.WithLabelValues("rewritten").Inc()
		case progress.StageFileError:
			s.filesDone.WithLabelValues("failed").Inc()
		case progress.StageURLDone:
			outcome := "invalid"
			if evt.Valid {
				outcome = "valid"
			}
			s.urlsDone.WithLabelValues(outcome, StatusClass(evt.StatusCode)).Inc()
			if evt.Dur > 0 {
				s.urlCheck.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
			}
			if evt.Total > 0 {
				s.progress.Set(float64(evt.Done) / float64(evt.Total))
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// StatusClass groups a status code for labeling. Codes below 100, including
// the transport failure sentinel, map to "error".
func StatusClass(code int) string {
	switch {
	case code < 100:
		return "error"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "other"
	}
}
