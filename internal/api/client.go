package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/oerlikon/prep/internal/metrics"
	"github.com/oerlikon/prep/internal/version"
)

// Default pacing and retry settings.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 5
	DefaultBackoffUnit = time.Second
	DefaultBackoffMax  = 5 * time.Second
	DefaultBurst       = 22
)

// Client provides access to the exchange's public REST API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	maxRetries int
	pacer      *pacer
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		userAgent: version.UserAgent(),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
		pacer:      newPacer(DefaultBackoffUnit, DefaultBackoffMax, DefaultBurst),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(max int) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
	}
}

// WithBackoff sets the pacing unit and the delay ceiling.
func WithBackoff(unit, max time.Duration) ClientOption {
	return func(c *Client) {
		c.pacer.unit = unit
		c.pacer.max = max
	}
}

// WithBurst sets how many consecutive successes run unthrottled.
func WithBurst(n int) ClientOption {
	return func(c *Client) {
		c.pacer.burst = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}
