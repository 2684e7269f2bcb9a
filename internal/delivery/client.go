package delivery

import (
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rickgao/price-replay/internal/delivery"

// Client posts line-protocol points to an ingestion endpoint.
type Client struct {
	endpointURL string
	authToken   string
	httpClient  *http.Client
	logger      *slog.Logger
	tracer      trace.Tracer

	maxAttempts int
	backoffBase time.Duration

	gzip        bool
	dryRun      bool
	measurement string
	tagKeys     []string
	tags        map[string]string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new delivery client. An empty authToken sends no
// Authorization header.
func NewClient(endpointURL, authToken string, opts ...ClientOption) *Client {
	c := &Client{
		endpointURL: endpointURL,
		authToken:   authToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		maxAttempts: 3,
		backoffBase: time.Second,
		measurement: "bitcoin",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the total number of attempts and the base backoff delay.
func WithRetries(maxAttempts int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.backoffBase = base
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

// WithGzip compresses request bodies.
func WithGzip(enabled bool) ClientOption {
	return func(c *Client) {
		c.gzip = enabled
	}
}

// WithDryRun logs encoded points instead of sending them.
func WithDryRun(enabled bool) ClientOption {
	return func(c *Client) {
		c.dryRun = enabled
	}
}

// WithPoint sets the measurement name and the static tag set.
func WithPoint(measurement string, tags map[string]string) ClientOption {
	return func(c *Client) {
		c.measurement = measurement
		c.tags = maps.Clone(tags)
		c.tagKeys = slices.Sorted(maps.Keys(tags))
	}
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}
