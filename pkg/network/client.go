// Package network performs the proxy's outbound fetches and classifies
// their outcomes for logging, metrics and connectivity tracking.
package network

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for outbound fetches.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_fetches_total",
		Help: "Total outbound fetches by status",
	}, []string{"status"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_proxy_fetch_duration_seconds",
		Help:    "Outbound fetch duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15},
	}, []string{"method"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_fetch_errors_total",
		Help: "Total failed outbound fetches by error class",
	}, []string{"class"})
)

// Fetcher performs one outbound request. A returned response may carry any
// status; an error means no response was obtained.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Observer is told about every fetch outcome; err is nil when the network
// produced a response.
type Observer interface {
	Observe(err error)
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is set on requests that carry none
	UserAgent string

	// Timeout bounds each fetch
	Timeout time.Duration

	// Transport overrides http.DefaultTransport (tests, upstream rewriting)
	Transport http.RoundTripper

	// Observer receives fetch outcomes (optional)
	Observer Observer
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   15 * time.Second,
	}
}

// Client is the production Fetcher.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a Client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			// Redirects are returned to the page untouched
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Fetch executes req. Transport failures are returned as *FetchError
// matching ErrOffline.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}()

	out := req.Clone(ctx)
	out.RequestURI = ""
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(out)
	if ctx.Err() == nil {
		// A caller that gave up says nothing about connectivity
		c.observe(err)
	}
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		fetchesTotal.WithLabelValues("network_error").Inc()
		c.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Msg("Fetch failed")
		return nil, &FetchError{URL: req.URL.String(), Class: ErrorClassNetwork, Err: err}
	}

	fetchesTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if class := Classify(resp, nil); class != "" {
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Fetch returned error status")
	}
	return resp, nil
}

func (c *Client) observe(err error) {
	if c.config.Observer != nil {
		c.config.Observer.Observe(err)
	}
}
