package secops

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL          string
	customerID       string
	projectID        string
	region           string
	tokenSource      oauth2.TokenSource
	httpClient       *http.Client
	timeout          time.Duration
	userAgent        string
	logger           *slog.Logger
	pollInterval     time.Duration
	maxPollAttempts  int
	maxResponseBytes int64
	cacheSize        int
	registerer       prometheus.Registerer
}

// WithInstance sets the Chronicle instance the client operates on.
// An empty region selects DefaultRegion.
func WithInstance(customerID, projectID, region string) ClientOption {
	return func(c *clientConfig) {
		c.customerID = customerID
		c.projectID = projectID
		if region != "" {
			c.region = region
		}
	}
}

// WithBaseURL overrides the regional API base URL, e.g. for a proxy or a
// test server. The URL must include the API version path.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithTokenSource sets the OAuth2 token source used to authorize requests.
func WithTokenSource(src oauth2.TokenSource) ClientOption {
	return func(c *clientConfig) {
		c.tokenSource = src
	}
}

// WithAccessToken authorizes requests with a fixed bearer token.
func WithAccessToken(token string) ClientOption {
	return func(c *clientConfig) {
		if token == "" {
			c.tokenSource = nil
			return
		}
		c.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the default per-request timeout.
// Note: This option is ignored when WithHTTPClient is used;
// set the timeout directly on the provided client instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger used for request and polling diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithPollInterval sets the wait between search status polls.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.pollInterval = d
	}
}

// WithMaxPollAttempts sets the default number of status polls before a
// search fails with KindTimeout. SearchRequest.MaxAttempts overrides it.
func WithMaxPollAttempts(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxPollAttempts = n
	}
}

// WithMaxResponseSize caps the size of any single response body.
func WithMaxResponseSize(n int64) ClientOption {
	return func(c *clientConfig) {
		c.maxResponseBytes = n
	}
}

// WithCacheSize sets the capacity of the translation and forwarder caches.
func WithCacheSize(n int) ClientOption {
	return func(c *clientConfig) {
		c.cacheSize = n
	}
}

// WithMetricsRegisterer registers the client's Prometheus collectors.
func WithMetricsRegisterer(reg prometheus.Registerer) ClientOption {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// RequestOption configures individual API requests.
type RequestOption func(*requestConfig)

type requestConfig struct {
	headers http.Header
}

func newRequestConfig() *requestConfig {
	return &requestConfig{
		headers: make(http.Header),
	}
}

func (r *requestConfig) apply(opts ...RequestOption) {
	for _, opt := range opts {
		opt(r)
	}
}

// WithHeader adds a custom header to a request.
func WithHeader(key, value string) RequestOption {
	return func(r *requestConfig) {
		r.headers.Set(key, value)
	}
}

// WithHeaders adds multiple custom headers to a request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *requestConfig) {
		for k, v := range headers {
			r.headers.Set(k, v)
		}
	}
}

// WithRequestID sets the X-Request-ID header for tracing.
func WithRequestID(id string) RequestOption {
	return WithHeader("X-Request-ID", id)
}
