// Package extract pulls absolute http(s) anchor targets out of HTML.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

var linkPattern = regexp.MustCompile(`(?i)^https?://\S+$`)

// Accept reports whether href is an absolute http or https URL without
// whitespace. Relative, javascript: and mailto: links are rejected.
func Accept(href string) bool {
	return linkPattern.MatchString(href)
}

// linkSet accumulates distinct accepted links.
type linkSet struct {
	mu    sync.Mutex
	links map[string]struct{}
}

func newLinkSet() *linkSet {
	return &linkSet{links: make(map[string]struct{})}
}

func (s *linkSet) add(href string) {
	if !Accept(href) {
		return
	}
	s.mu.Lock()
	s.links[href] = struct{}{}
	s.mu.Unlock()
}

func (s *linkSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for l := range s.links {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// FromReader parses one HTML document and returns the sorted distinct
// accepted hrefs of its anchor elements.
func FromReader(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	set := newLinkSet()
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			set.add(href)
		}
	})
	return set.sorted(), nil
}

// Config controls FromLocation.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// FromLocation loads one document, either a local file path or an http(s)
// URL, and returns its accepted anchor hrefs.
func FromLocation(ctx context.Context, location string, cfg Config) ([]string, error) {
	target, err := resolveLocation(location)
	if err != nil {
		return nil, err
	}

	c := colly.NewCollector(colly.MaxDepth(1))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.SetRequestTimeout(timeout)

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	c.WithTransport(transport)
	defer transport.CloseIdleConnections()

	set := newLinkSet()
	var visitErr error
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		set.add(e.Attr("href"))
	})
	c.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("extract canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", location, err)
		}
		if visitErr != nil {
			return nil, fmt.Errorf("load %s: %w", location, visitErr)
		}
		return set.sorted(), nil
	}
}

// resolveLocation turns a file path into a file:// URL and passes http(s)
// URLs through.
func resolveLocation(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", errors.New("location is required")
	}
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "file://") {
		return location, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", location, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}
