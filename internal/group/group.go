// Package group buckets raw URLs by host and appends each bucket to a
// per-host batch file.
package group

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var hostPattern = regexp.MustCompile(`(?i)^https?://([^/]+)`)

// Appender adds lines to a named batch file.
type Appender interface {
	Append(name string, urls []string) error
}

// Groups maps a host to its distinct URLs.
type Groups map[string]map[string]struct{}

// Host returns the authority of an http or https URL (scheme matched
// case-insensitively), or "" when rawURL is neither.
func Host(rawURL string) string {
	m := hostPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// Collect reads one URL per line from r. Empty lines and lines without an
// http or https host are ignored.
func Collect(r io.Reader) (Groups, error) {
	groups := make(Groups)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		host := Host(line)
		if host == "" {
			continue
		}
		set, ok := groups[host]
		if !ok {
			set = make(map[string]struct{})
			groups[host] = set
		}
		set[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return groups, nil
}

// Hosts returns the hosts in ascending order.
func (g Groups) Hosts() []string {
	hosts := make([]string, 0, len(g))
	for h := range g {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// URLs returns the sorted distinct URLs of host.
func (g Groups) URLs(host string) []string {
	urls := make([]string, 0, len(g[host]))
	for u := range g[host] {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Sanitize keeps ASCII letters, digits, '.', '-' and '/' and replaces every
// other byte with '_'.
func Sanitize(host string) string {
	b := []byte(host)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == '/':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// FileName is the batch file name for host.
func FileName(host string) string {
	return Sanitize(host) + ".txt"
}

// Result describes one written bucket.
type Result struct {
	Host string
	File string
	URLs int
}

// Write appends every bucket holding at least minURLs distinct URLs. A
// failure on one file is logged and the remaining buckets are still written;
// the joined errors are returned.
func Write(dst Appender, groups Groups, minURLs int, logger *zap.Logger) ([]Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		results []Result
		errs    []error
	)
	for _, host := range groups.Hosts() {
		urls := groups.URLs(host)
		if len(urls) < minURLs {
			continue
		}
		name := FileName(host)
		if err := dst.Append(name, urls); err != nil {
			logger.Error("cannot write batch file", zap.String("path", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("write %s: %w", name, err))
			continue
		}
		results = append(results, Result{Host: host, File: name, URLs: len(urls)})
	}
	return results, errors.Join(errs...)
}
