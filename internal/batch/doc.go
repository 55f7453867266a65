// Package batch drives a harvest run over a directory of per-host URL files.
//
// Every file is read, each URL is validated, and the file is atomically
// rewritten with the sorted, de-duplicated set of survivors. A failure on one
// file is reported and the run moves on; cancellation stops the run without
// touching files that were not finished.
package batch
