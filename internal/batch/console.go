package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/link-harvest/internal/harvester"
	"github.com/JakeFAU/link-harvest/internal/progress"
	"github.com/JakeFAU/link-harvest/internal/stats"
)

// Settings is the configuration echoed in the startup banner.
type Settings struct {
	RunID        string
	InputDir     string
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Timeout      time.Duration
	MaxRetries   int
	Multiplier   float64
	PoolCapacity int
	Workers      int
	UserAgent    string
}

// Console writes the human-facing run output: banner, file headers, the
// progress bar, optional per-URL lines and the final report. It is separate
// from structured logging.
type Console struct {
	out     io.Writer
	bar     *progress.Bar
	verbose bool
}

// NewConsole writes to out; nil discards.
func NewConsole(out io.Writer, verbose bool) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{out: out, bar: progress.NewBar(out), verbose: verbose}
}

// Banner prints the active configuration.
func (c *Console) Banner(s Settings) {
	c.printf("=== Link Harvest ===\n")
	if s.RunID != "" {
		c.printf("Run ID        : %s\n", s.RunID)
	}
	c.printf("Input dir     : %s\n", s.InputDir)
	c.printf("Delay         : %v .. %v\n", s.MinDelay, s.MaxDelay)
	c.printf("Timeout       : %v\n", s.Timeout)
	c.printf("Max retries   : %d (backoff x%.2f)\n", s.MaxRetries, s.Multiplier)
	c.printf("Pool capacity : %d\n", s.PoolCapacity)
	c.printf("Workers       : %d\n", s.Workers)
	c.printf("User agent    : %s\n", s.UserAgent)
	c.printf("====================\n")
}

// Discovered prints the discovery summary.
func (c *Console) Discovered(files, urls int) {
	c.bar.Println(fmt.Sprintf("[*] Found %d files with %d URLs", files, urls))
}

// FileStart prints the per-file header.
func (c *Console) FileStart(path string) {
	c.bar.Println("[*] Processing file: " + path)
}

// Checked prints a per-URL verdict in verbose mode.
func (c *Console) Checked(out harvester.Outcome) {
	if !c.verbose {
		return
	}
	verdict := "FAIL"
	if out.Valid {
		verdict = "OK"
	}
	c.bar.Println(fmt.Sprintf("  -> Checking: %s ... %s (%d)", out.URL, verdict, out.StatusCode))
}

// Progress redraws the bar.
func (c *Console) Progress(done, total int, url string) {
	c.bar.Update(done, total, url)
}

// FileUpdated reports a completed rewrite.
func (c *Console) FileUpdated(path string, valid int) {
	c.bar.Println(fmt.Sprintf("[*] Updating file: %s (%d valid URLs)", path, valid))
}

// FileFailed reports a skipped file.
func (c *Console) FileFailed(path string, err error) {
	c.bar.Println(fmt.Sprintf("[!] Skipping file: %s (%v)", path, err))
}

// Report prints the final counters.
func (c *Console) Report(r stats.Report) {
	c.bar.Finish()
	_, _ = r.WriteTo(c.out)
	c.printf("[*] Harvest complete.\n")
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
