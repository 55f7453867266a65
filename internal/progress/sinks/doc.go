// Package sinks holds progress.Sink implementations: structured logs and
// Prometheus collectors.
package sinks
