// Package metrics exposes Prometheus collectors for the harvest engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestRequestsTotal         prometheus.Counter
	harvestValidationsTotal      *prometheus.CounterVec
	harvestRetriesTotal          prometheus.Counter
	harvestRateLimitDelaySeconds *prometheus.HistogramVec
	harvestPoolExhaustedTotal    prometheus.Counter
	harvestPoolLoaned            prometheus.Gauge
	harvestFilesTotal            *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_requests_total",
			Help: "Physical dispatch attempts, including attempts that failed to obtain a handle.",
		})

		harvestValidationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_validations_total",
				Help: "Logical URL outcomes, labeled valid or invalid.",
			},
			[]string{"outcome"},
		)

		harvestRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_retries_total",
			Help: "Retries performed after a failed attempt.",
		})

		harvestRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delay_seconds",
				Help:    "Time spent waiting for per-host pacing.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		harvestPoolExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_pool_exhausted_total",
			Help: "Acquire calls that found no handle available.",
		})

		harvestPoolLoaned = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_pool_loaned_handles",
			Help: "Handles currently on loan from the connection pool.",
		})

		harvestFilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_files_total",
				Help: "Batch files processed, labeled rewritten or failed.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label value.
// It returns "unknown" if the input cannot be parsed.
func SanitizeHost(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts one dispatch attempt.
func ObserveRequest() {
	if harvestRequestsTotal != nil {
		harvestRequestsTotal.Inc()
	}
}

// ObserveValidation counts one logical URL outcome.
func ObserveValidation(valid bool) {
	if harvestValidationsTotal == nil {
		return
	}
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	harvestValidationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry.
func ObserveRetry() {
	if harvestRetriesTotal != nil {
		harvestRetriesTotal.Inc()
	}
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	if harvestRateLimitDelaySeconds != nil {
		harvestRateLimitDelaySeconds.WithLabelValues(SanitizeHost(host)).Observe(d.Seconds())
	}
}

// ObservePoolExhausted counts an acquire that came back empty.
func ObservePoolExhausted() {
	if harvestPoolExhaustedTotal != nil {
		harvestPoolExhaustedTotal.Inc()
	}
}

// SetPoolLoaned reports the number of handles currently on loan.
func SetPoolLoaned(n int) {
	if harvestPoolLoaned != nil {
		harvestPoolLoaned.Set(float64(n))
	}
}

// ObserveFile counts a processed batch file.
func ObserveFile(rewritten bool) {
	if harvestFilesTotal == nil {
		return
	}
	result := "failed"
	if rewritten {
		result = "rewritten"
	}
	harvestFilesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records a status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
