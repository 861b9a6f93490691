package secops

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/metrics"
)

// DefaultForwarderName is the display name of the forwarder used when a log
// import does not name one.
const DefaultForwarderName = "Wrapper-SDK-Forwarder"

const listPageSize = 1000

// IngestService provides log and UDM event ingestion.
//
//go:generate mockery --name=IngestService --output=mocks --outpkg=mocks --filename=ingest_service.go
type IngestService interface {
	// Log imports a single raw log for parsing by the named log type.
	Log(ctx context.Context, req *LogIngestRequest, opts ...RequestOption) (*IngestResult, error)

	// UDM imports already-normalized UDM events.
	UDM(ctx context.Context, events []UDMEvent, opts ...RequestOption) (*IngestResult, error)

	// Forwarders iterates over the instance's forwarders.
	Forwarders(ctx context.Context, opts ...RequestOption) iter.Seq2[*Forwarder, error]

	// CreateForwarder creates a forwarder with the given display name.
	CreateForwarder(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error)

	// GetOrCreateForwarder returns the forwarder with the given display
	// name, creating it if none exists.
	GetOrCreateForwarder(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error)

	// LogTypes iterates over the log types available for ingestion.
	LogTypes(ctx context.Context, opts ...RequestOption) iter.Seq2[*LogType, error]
}

// ingestService implements IngestService.
type ingestService struct {
	transport  *api.Transport
	instance   string
	forwarders *lru.Cache[string, *Forwarder]
	group      singleflight.Group
	now        func() time.Time
}

func newIngestService(transport *api.Transport, instance string, forwarders *lru.Cache[string, *Forwarder]) *ingestService {
	return &ingestService{
		transport:  transport,
		instance:   instance,
		forwarders: forwarders,
		now:        time.Now,
	}
}

func startIngestSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "secops.ingest."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// forwarderResource expands a bare forwarder ID into a resource name.
func (s *ingestService) forwarderResource(id string) string {
	if strings.Contains(id, "/") {
		return id
	}
	return s.instance + "/forwarders/" + id
}

// Log imports a single raw log for parsing by the named log type.
func (s *ingestService) Log(ctx context.Context, req *LogIngestRequest, opts ...RequestOption) (result *IngestResult, err error) {
	if req == nil {
		return nil, &ValidationError{
			APIError: APIError{Message: "log ingest request cannot be nil"},
		}
	}
	if req.LogType == "" {
		return nil, &ValidationError{
			APIError: APIError{Message: "log type is required"},
		}
	}
	if len(req.Message) == 0 {
		return nil, &ValidationError{
			APIError: APIError{Message: "log message cannot be empty"},
		}
	}

	ctx, span := startIngestSpan(ctx, "log", attribute.String("secops.log_type", req.LogType))
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	forwarderID := req.ForwarderID
	if forwarderID == "" {
		fwd, err := s.GetOrCreateForwarder(ctx, DefaultForwarderName, opts...)
		if err != nil {
			return nil, fmt.Errorf("resolving default forwarder: %w", err)
		}
		forwarderID = fwd.Name
	}

	now := s.now().UTC()
	entryTime := req.EntryTime
	if entryTime.IsZero() {
		entryTime = now
	}
	collectionTime := req.CollectionTime
	if collectionTime.IsZero() {
		collectionTime = now
	}

	body := map[string]any{
		"inline_source": map[string]any{
			"logs": []map[string]string{{
				"data":            base64.StdEncoding.EncodeToString(req.Message),
				"log_entry_time":  entryTime.UTC().Format(preciseTimeLayout),
				"collection_time": collectionTime.UTC().Format(preciseTimeLayout),
			}},
			"forwarder": s.forwarderResource(forwarderID),
		},
	}

	var res IngestResult
	err = doJSON(ctx, s.transport, &api.Request{
		Method:  http.MethodPost,
		Path:    s.instance + "/logTypes/" + req.LogType + "/logs:import",
		Body:    body,
		Headers: reqCfg.headers,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("ingesting log: %w", err)
	}

	metrics.ObserveIngest("log", 1)
	return &res, nil
}

// prepareUDMEvent returns a copy of event with metadata.id and
// metadata.event_timestamp filled in, along with the event ID.
func prepareUDMEvent(event UDMEvent, now time.Time) (UDMEvent, string, error) {
	out := maps.Clone(event)
	if out == nil {
		out = UDMEvent{}
	}

	var metadata map[string]any
	switch m := out["metadata"].(type) {
	case nil:
		metadata = map[string]any{}
	case map[string]any:
		metadata = maps.Clone(m)
	default:
		return nil, "", fmt.Errorf("metadata is %T, want object", m)
	}

	id, _ := metadata["id"].(string)
	if id == "" {
		id = uuid.NewString()
		metadata["id"] = id
	}
	if _, ok := metadata["event_timestamp"]; !ok {
		metadata["event_timestamp"] = now.UTC().Format(time.RFC3339Nano)
	}
	out["metadata"] = metadata

	return out, id, nil
}

// UDM imports already-normalized UDM events.
func (s *ingestService) UDM(ctx context.Context, events []UDMEvent, opts ...RequestOption) (result *IngestResult, err error) {
	if len(events) == 0 {
		return nil, &ValidationError{
			APIError: APIError{Message: "at least one UDM event is required"},
		}
	}

	ctx, span := startIngestSpan(ctx, "udm", attribute.Int("secops.events", len(events)))
	defer func() {
		endSpan(span, err)
		span.End()
	}()

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	now := s.now()
	wrapped := make([]map[string]any, 0, len(events))
	ids := make([]string, 0, len(events))
	for i, event := range events {
		prepared, id, err := prepareUDMEvent(event, now)
		if err != nil {
			return nil, &ValidationError{
				APIError: APIError{Message: fmt.Sprintf("event %d: %v", i, err)},
			}
		}
		wrapped = append(wrapped, map[string]any{"udm": prepared})
		ids = append(ids, id)
	}

	var res IngestResult
	err = doJSON(ctx, s.transport, &api.Request{
		Method: http.MethodPost,
		Path:   s.instance + "/events:import",
		Body: map[string]any{
			"inline_source": map[string]any{"events": wrapped},
		},
		Headers: reqCfg.headers,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("ingesting UDM events: %w", err)
	}

	res.EventIDs = ids
	metrics.ObserveIngest("udm", len(events))
	return &res, nil
}

// listPage fetches one page of a collection under the instance.
func listPage[T any](ctx context.Context, t *api.Transport, path, field, token string, headers http.Header) ([]T, string, error) {
	query := url.Values{"pageSize": {strconv.Itoa(listPageSize)}}
	if token != "" {
		query.Set("pageToken", token)
	}

	var page map[string]json.RawMessage
	if err := doJSON(ctx, t, &api.Request{
		Method:  http.MethodGet,
		Path:    path,
		Query:   query,
		Headers: headers,
	}, &page); err != nil {
		return nil, "", err
	}

	var items []T
	if raw, ok := page[field]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, "", fmt.Errorf("decoding %s: %w", field, err)
		}
	}
	var next string
	if raw, ok := page["nextPageToken"]; ok {
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, "", fmt.Errorf("decoding nextPageToken: %w", err)
		}
	}

	return items, next, nil
}

// Forwarders iterates over the instance's forwarders.
func (s *ingestService) Forwarders(ctx context.Context, opts ...RequestOption) iter.Seq2[*Forwarder, error] {
	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*Forwarder, string, error) {
		return listPage[*Forwarder](ctx, s.transport, s.instance+"/forwarders", "forwarders", token, reqCfg.headers)
	})
}

// LogTypes iterates over the log types available for ingestion.
func (s *ingestService) LogTypes(ctx context.Context, opts ...RequestOption) iter.Seq2[*LogType, error] {
	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*LogType, string, error) {
		return listPage[*LogType](ctx, s.transport, s.instance+"/logTypes", "logTypes", token, reqCfg.headers)
	})
}

// CreateForwarder creates a forwarder with the given display name.
func (s *ingestService) CreateForwarder(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error) {
	if displayName == "" {
		return nil, &ValidationError{
			APIError: APIError{Message: "forwarder display name is required"},
		}
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	body := map[string]any{
		"displayName": displayName,
		"config": map[string]any{
			"uploadCompression": false,
			"metadata":          map[string]any{},
			"serverSettings": map[string]any{
				"enabled": false,
				"httpSettings": map[string]any{
					"routeSettings": map[string]any{},
				},
			},
		},
	}

	var fwd Forwarder
	err := doJSON(ctx, s.transport, &api.Request{
		Method:  http.MethodPost,
		Path:    s.instance + "/forwarders",
		Body:    body,
		Headers: reqCfg.headers,
	}, &fwd)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder: %w", err)
	}

	s.forwarders.Add(displayName, &fwd)
	return &fwd, nil
}

// GetOrCreateForwarder returns the forwarder with the given display name,
// creating it if none exists. Results are cached and concurrent lookups of
// the same name share a single request.
func (s *ingestService) GetOrCreateForwarder(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error) {
	if displayName == "" {
		displayName = DefaultForwarderName
	}

	if fwd, ok := s.forwarders.Get(displayName); ok {
		return fwd, nil
	}

	v, err, _ := s.group.Do(displayName, func() (any, error) {
		for fwd, err := range s.Forwarders(ctx, opts...) {
			if err != nil {
				return nil, fmt.Errorf("listing forwarders: %w", err)
			}
			if fwd.DisplayName == displayName {
				s.forwarders.Add(displayName, fwd)
				return fwd, nil
			}
		}
		return s.CreateForwarder(ctx, displayName, opts...)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Forwarder), nil
}
