// Package netcheck answers whether the uplink is usable right now.
package netcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 3 * time.Second

// Checker probes a well-known URL. Any HTTP response, whatever its status,
// counts as reachable; transport errors and timeouts do not.
type Checker struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// Option customizes the checker.
type Option func(*Checker)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New returns a Checker for url. A non-positive timeout uses three seconds.
func New(url string, timeout time.Duration, opts ...Option) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	checker := &Checker{
		url:        strings.TrimSpace(url),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(checker)
	}
	return checker
}

// URL returns the probed address.
func (c *Checker) URL() string {
	return c.url
}

// Reachable reports whether the probe URL answered in time.
func (c *Checker) Reachable(ctx context.Context) bool {
	return c.Check(ctx) == nil
}

// Check is Reachable with the failure reason.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("reachability: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reachability: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return nil
}
