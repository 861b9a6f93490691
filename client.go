package secops

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/auth"
	"github.com/tphakala/go-secops/internal/metrics"
)

// Default configuration values.
const (
	DefaultRegion = "us"

	defaultTimeout         = 30 * time.Second
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 30
	defaultCacheSize       = 128
)

var tracer = otel.Tracer("github.com/tphakala/go-secops")

// Client is the SecOps API client.
//
// A Client is safe for concurrent use. Each search call blocks its own
// goroutine until the backend operation completes or the poll ceiling is
// reached; no state is shared between calls except the HTTP client and the
// internal caches.
type Client struct {
	// Search provides UDM search, stats, CSV export and query validation.
	Search SearchService

	// Entities provides entity summaries.
	Entities EntityService

	// Ingest provides raw log and UDM event ingestion.
	Ingest IngestService

	// AI provides natural-language query translation and Gemini chat.
	AI AIService

	transport *api.Transport
	instance  string
}

// NewClient creates a new SecOps client with the given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		region:          DefaultRegion,
		timeout:         defaultTimeout,
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
		cacheSize:       defaultCacheSize,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.customerID == "" || cfg.projectID == "" {
		return nil, ErrNoInstance
	}

	if cfg.tokenSource == nil {
		return nil, ErrNoCredentials
	}

	baseURL := cfg.baseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-chronicle.googleapis.com/v1alpha", cfg.region)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.timeout,
		}
	}

	transport, err := api.NewTransport(baseURL, auth.NewFromSource(cfg.tokenSource), httpClient)
	if err != nil {
		return nil, err
	}

	if cfg.userAgent != "" {
		transport.UserAgent = cfg.userAgent
	}
	if cfg.maxResponseBytes > 0 {
		transport.MaxBodySize = cfg.maxResponseBytes
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	transport.Logger = logger

	if cfg.registerer != nil {
		if err := metrics.Register(cfg.registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	if cfg.cacheSize <= 0 {
		cfg.cacheSize = defaultCacheSize
	}
	translations, err := lru.New[string, string](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating translation cache: %w", err)
	}
	forwarders, err := lru.New[string, *Forwarder](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder cache: %w", err)
	}

	instance := fmt.Sprintf("projects/%s/locations/%s/instances/%s", cfg.projectID, cfg.region, cfg.customerID)

	client := &Client{
		transport: transport,
		instance:  instance,
	}

	poller := &operationPoller{
		transport:   transport,
		interval:    cfg.pollInterval,
		maxAttempts: cfg.maxPollAttempts,
		sleep:       sleepContext,
		logger:      logger,
	}

	// Initialize services
	search := newSearchService(transport, instance, poller)
	client.Search = search
	client.Entities = newEntityService(transport, instance)
	client.Ingest = newIngestService(transport, instance, forwarders)
	client.AI = newAIService(transport, instance, search, translations)

	return client, nil
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL.String()
}

// InstanceID returns the instance resource name,
// projects/{project}/locations/{region}/instances/{customer}.
func (c *Client) InstanceID() string {
	return c.instance
}

// doJSON executes req, decodes a successful body into result and converts
// error statuses into the typed API errors.
func doJSON(ctx context.Context, t *api.Transport, req *api.Request, result any) error {
	resp, err := t.DoJSON(ctx, req, result)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseError(resp.StatusCode, resp.Body, resp.Headers)
	}

	return nil
}
