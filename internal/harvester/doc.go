// Package harvester decides whether a candidate URL is currently reachable.
//
// A Validator paces each dispatch through a per-host Limiter, borrows a handle
// from a bounded pool, issues a HEAD request and retries failures with
// exponential backoff. The retry loop is an explicit state machine so that
// exhaustion and backoff timing can be tested independently of the network.
package harvester
