// Package netcheck probes general internet reachability and specific API
// endpoints before collection cycles run. A cycle that starts without
// connectivity would burn its retry budget on every symbol, so the collector
// gates on these checks first.
package netcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
)

// Checker probes network reachability. The zero value is not usable; create
// one with NewChecker.
type Checker struct {
	// dnsHosts are resolved to confirm DNS works.
	dnsHosts []string
	// tcpAddrs are public resolvers dialed on port 53 to confirm raw
	// connectivity without depending on DNS.
	tcpAddrs []string
	// httpURLs receive HEAD requests to confirm HTTP egress.
	httpURLs []string

	probeTimeout time.Duration
	httpClient   *http.Client
	logger       *slog.Logger

	// resolver and dialer are swappable for tests.
	lookupHost func(ctx context.Context, host string) ([]string, error)
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Option customizes a Checker.
type Option func(*Checker)

// WithHTTPURLs overrides the HTTP probe targets.
func WithHTTPURLs(urls ...string) Option {
	return func(c *Checker) { c.httpURLs = urls }
}

// WithTCPAddrs overrides the TCP probe targets.
func WithTCPAddrs(addrs ...string) Option {
	return func(c *Checker) { c.tcpAddrs = addrs }
}

// WithDNSHosts overrides the DNS probe targets.
func WithDNSHosts(hosts ...string) Option {
	return func(c *Checker) { c.dnsHosts = hosts }
}

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.probeTimeout = d
		c.httpClient.Timeout = d
	}
}

// NewChecker creates a Checker with production probe targets.
func NewChecker(logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Checker{
		dnsHosts: []string{"google.com", "cloudflare.com"},
		tcpAddrs: []string{"8.8.8.8:53", "1.1.1.1:53", "208.67.222.222:53"},
		httpURLs: []string{
			"https://www.google.com",
			"https://www.cloudflare.com",
			"https://api.bybit.com",
			"https://api.binance.com",
		},
		probeTimeout: defaultProbeTimeout,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:       logger,
	}
	c.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		return net.DefaultResolver.LookupHost(ctx, host)
	}
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, network, addr)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckInternet reports whether general internet connectivity is available.
// Three probe stages run in order: DNS resolution, TCP connects to public
// resolvers, and HTTP HEAD requests. Every stage must produce at least one
// success; any stage failing outright closes the gate. A stage with no
// configured targets is skipped.
func (c *Checker) CheckInternet(ctx context.Context) bool {
	if !anyProbe(c.dnsHosts, func(host string) bool { return c.probeDNS(ctx, host) }) {
		c.logger.Warn("no internet connectivity: dns resolution failed")
		return false
	}
	if !anyProbe(c.tcpAddrs, func(addr string) bool { return c.probeTCP(ctx, addr) }) {
		c.logger.Warn("no internet connectivity: tcp probes failed")
		return false
	}
	if !anyProbe(c.httpURLs, func(target string) bool { return c.probeHTTP(ctx, target) }) {
		c.logger.Warn("no internet connectivity: http probes failed")
		return false
	}
	return true
}

// anyProbe reports whether at least one target passes probe. An empty target
// list skips the stage.
func anyProbe(targets []string, probe func(string) bool) bool {
	if len(targets) == 0 {
		return true
	}
	for _, target := range targets {
		if probe(target) {
			return true
		}
	}
	return false
}

// CheckAPI reports whether the API at baseURL is reachable. The host must
// accept a TCP connection and the base URL must answer a HEAD request below
// 500; both are required.
func (c *Checker) CheckAPI(ctx context.Context, baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		c.logger.Warn("invalid api url", "url", baseURL, "error", err)
		return false
	}

	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	if !c.probeTCP(ctx, host) {
		c.logger.Warn("api tcp probe failed", "host", host)
		return false
	}
	return c.probeHTTP(ctx, baseURL)
}

// WaitForConnectivity blocks until CheckInternet succeeds, retrying up to
// maxRetries times with delay between attempts. It returns an error when the
// retries are exhausted or ctx is cancelled.
func (c *Checker) WaitForConnectivity(ctx context.Context, maxRetries int, delay time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if c.CheckInternet(ctx) {
			if attempt > 1 {
				c.logger.Info("connectivity restored", "attempt", attempt)
			}
			return nil
		}
		if attempt == maxRetries {
			break
		}
		c.logger.Info("waiting for connectivity",
			"attempt", attempt,
			"max_retries", maxRetries,
			"retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("no connectivity after %d attempts", maxRetries)
}

func (c *Checker) probeDNS(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	addrs, err := c.lookupHost(ctx, host)
	return err == nil && len(addrs) > 0
}

func (c *Checker) probeTCP(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Checker) probeHTTP(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any response below 500 proves the endpoint is reachable, including
	// auth rejections and method-not-allowed.
	return resp.StatusCode < 500
}
