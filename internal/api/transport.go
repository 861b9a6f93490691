// Package api provides the HTTP transport shared by all SecOps services.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tphakala/go-secops/internal/auth"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// DefaultMaxBodySize bounds response bodies. Search views carrying
	// thousands of UDM events routinely exceed a few megabytes.
	DefaultMaxBodySize = 50 * 1024 * 1024

	defaultUserAgent = "go-secops/1.0"
)

// ErrBodyTooLarge is returned when a response exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("response too large")

var tracer = otel.Tracer("github.com/tphakala/go-secops/internal/api")

// Transport sends authenticated JSON requests to the SecOps REST API.
// Paths are resolved against BaseURL, which already carries the API
// version segment (e.g. https://us-chronicle.googleapis.com/v1alpha).
type Transport struct {
	BaseURL     *url.URL
	HTTPClient  *http.Client
	Credentials *auth.Credentials
	UserAgent   string
	MaxBodySize int64
	Logger      *slog.Logger
}

// NewTransport validates baseURL and returns a Transport. A nil httpClient
// gets a client with a 30 second timeout.
func NewTransport(baseURL string, creds *auth.Credentials, httpClient *http.Client) (*Transport, error) {
	if !creds.Valid() {
		return nil, errors.New("credentials must be provided")
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Transport{
		BaseURL:     u,
		HTTPClient:  httpClient,
		Credentials: creds,
		UserAgent:   defaultUserAgent,
		MaxBodySize: DefaultMaxBodySize,
		Logger:      slog.Default(),
	}, nil
}

// Request is a single API call. Path is relative to the base URL, e.g.
// "projects/p/locations/us/instances/c:validateQuery". Headers override
// the transport defaults.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do sends req and reads the whole response body. Non-2xx statuses are not
// errors at this layer; callers classify them.
func (t *Transport) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	ctx, span := tracer.Start(ctx, "secops.http "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	start := time.Now()
	defer func() {
		t.finish(span, req, resp, err, time.Since(start))
	}()

	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := t.readBody(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// DoJSON sends req and decodes a 2xx body into result. Error bodies are
// left undecoded on the returned Response.
func (t *Transport) DoJSON(ctx context.Context, req *Request, result any) (*Response, error) {
	resp, err := t.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if result == nil || len(resp.Body) == 0 || !resp.OK() {
		return resp, nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return resp, fmt.Errorf("unmarshaling response: %w", err)
	}
	return resp, nil
}

// readBody reads at most MaxBodySize bytes and fails if more remain.
func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	limit := t.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}

func (t *Transport) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u := t.BaseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	h := httpReq.Header
	h.Set("Accept", "application/json")
	h.Set("User-Agent", t.UserAgent)
	if req.Body != nil {
		h.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))

	if err := t.Credentials.Apply(httpReq); err != nil {
		return nil, fmt.Errorf("authenticating request: %w", err)
	}

	maps.Copy(h, req.Headers)

	return httpReq, nil
}

// finish records the outcome of one request on its span and the debug log.
func (t *Transport) finish(span trace.Span, req *Request, resp *Response, err error, elapsed time.Duration) {
	attrs := []slog.Attr{
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs = append(attrs, slog.String("error", err.Error()))
		t.logger().LogAttrs(context.Background(), slog.LevelDebug, "HTTP request failed", attrs...)
	default:
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		attrs = append(attrs, slog.Int("status", resp.StatusCode), slog.Int("bytes", len(resp.Body)))
		t.logger().LogAttrs(context.Background(), slog.LevelDebug, "HTTP request completed", attrs...)
	}
	span.End()
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
