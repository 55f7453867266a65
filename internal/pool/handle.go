package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// baseline is the configuration every handle is restored to on release.
type baseline struct {
	timeout            time.Duration
	userAgent          string
	insecureSkipVerify bool
	maxRedirects       int
}

// Handle is one reusable HTTP client with its own transport and connections.
// A handle is owned by at most one caller between Acquire and Release.
type Handle struct {
	id        int64
	pool      *Pool
	res       *puddle.Resource[*Handle]
	loaned    atomic.Bool
	base      baseline
	transport *http.Transport
	client    *http.Client

	userAgent          string
	insecureSkipVerify bool
	maxRedirects       int
}

func newHandle(id int64, p *Pool, base baseline) *Handle {
	h := &Handle{id: id, pool: p, base: base, insecureSkipVerify: base.insecureSkipVerify}
	h.transport = newTransport(base.insecureSkipVerify)
	h.client = &http.Client{Transport: h.transport}
	h.reset()
	return h
}

func newTransport(insecureSkipVerify bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		//nolint:gosec // verification policy is operator configurable
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
	}
}

// setTimeout overrides the per-request timeout until the handle is released.
func (h *Handle) setTimeout(d time.Duration) { h.client.Timeout = d }

// setMaxRedirects overrides the redirect bound until the handle is released.
func (h *Handle) setMaxRedirects(n int) {
	h.maxRedirects = n
	h.client.CheckRedirect = redirectPolicy(n)
}

// setInsecureSkipVerify overrides certificate verification until release.
func (h *Handle) setInsecureSkipVerify(skip bool) {
	if skip == h.insecureSkipVerify {
		return
	}
	// a live transport's TLS config must not be mutated
	h.transport.CloseIdleConnections()
	h.transport = newTransport(skip)
	h.client.Transport = h.transport
	h.insecureSkipVerify = skip
}

// Head issues a HEAD request for url, following redirects, and returns the
// final status code.
func (h *Handle) Head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // HEAD body is empty
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}

// Release returns the handle to the pool it came from.
func (h *Handle) Release() {
	if h.pool == nil {
		h.discard()
		return
	}
	h.pool.Release(h)
}

// reset restores timeouts, redirect policy, identity and TLS policy.
func (h *Handle) reset() {
	h.setTimeout(h.base.timeout)
	h.setMaxRedirects(h.base.maxRedirects)
	h.userAgent = h.base.userAgent
	h.setInsecureSkipVerify(h.base.insecureSkipVerify)
}

func (h *Handle) discard() {
	h.transport.CloseIdleConnections()
}

var errTooManyRedirects = errors.New("too many redirects")

func redirectPolicy(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > limit {
			return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, limit)
		}
		return nil
	}
}
