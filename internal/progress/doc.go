// Package progress reports how far a harvest run has come. Render and Bar
// draw the single-line console bar; Hub batches run events on a background
// goroutine and hands them to sinks such as structured logs or Prometheus.
// Neither path can block or fail the run.
package progress
