package secops

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/extract"
	"github.com/tphakala/go-secops/internal/metrics"
)

const (
	defaultMaxEvents  = 10000
	defaultMaxValues  = 60
	defaultMaxMatches = 1000

	// searchTimeLayout is the millisecond UTC form the search view requires.
	searchTimeLayout = "2006-01-02T15:04:05.000Z"
	// preciseTimeLayout is the microsecond UTC form used by the other endpoints.
	preciseTimeLayout = "2006-01-02T15:04:05.000000Z"
)

var (
	// An object-valued .operation must not shadow a string .name.
	operationIDRules = extract.NewChain(".operation | strings", ".name | strings")

	eventPayload = payloadRule{
		kind:       "events",
		rules:      extract.NewChain(".response.events.events", ".operation.response.events.events"),
		allowEmpty: true,
	}

	statsPayload = payloadRule{
		kind:  "stats",
		rules: extract.NewChain(".response.stats", ".operation.response.stats"),
	}

	moreDataRules = extract.NewChain(
		".response.events.moreDataAvailable",
		".operation.response.events.moreDataAvailable",
	)
)

// SearchService provides UDM search operations.
//
//go:generate mockery --name=SearchService --output=mocks --outpkg=mocks --filename=search_service.go
type SearchService interface {
	// Events runs a UDM search and waits for its events.
	Events(ctx context.Context, req *SearchRequest, opts ...RequestOption) (*EventResult, error)

	// Stats runs a UDM stats query and waits for its table.
	Stats(ctx context.Context, req *SearchRequest, opts ...RequestOption) (*StatsResult, error)

	// CSV exports UDM search results as CSV text.
	CSV(ctx context.Context, req *CSVRequest, opts ...RequestOption) (string, error)

	// ValidateQuery checks a UDM query without running it.
	ValidateQuery(ctx context.Context, query string, opts ...RequestOption) (*QueryValidation, error)

	// IOCs lists IoC matches in the time range.
	IOCs(ctx context.Context, req *IOCRequest, opts ...RequestOption) (*IOCResult, error)
}

// searchService implements SearchService.
type searchService struct {
	transport *api.Transport
	instance  string
	poller    *operationPoller
}

func newSearchService(transport *api.Transport, instance string, poller *operationPoller) *searchService {
	return &searchService{transport: transport, instance: instance, poller: poller}
}

// validateSearchRequest checks the fields every search endpoint needs.
func validateSearchRequest(req *SearchRequest) error {
	if req == nil {
		return &ValidationError{
			APIError: APIError{Message: "search request cannot be nil"},
		}
	}
	if req.Query == "" {
		return &ValidationError{
			APIError: APIError{Message: "search query is required"},
		}
	}
	return validateTimeRange(req.StartTime, req.EndTime)
}

func validateTimeRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return &ValidationError{
			APIError: APIError{Message: "start and end time are required"},
		}
	}
	if !end.After(start) {
		return &ValidationError{
			APIError: APIError{Message: "end time must be after start time"},
		}
	}
	return nil
}

// searchViewPayload builds the legacyFetchUdmSearchView body. stats adds
// the field aggregation block.
func searchViewPayload(req *SearchRequest, stats bool) map[string]any {
	maxEvents := req.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	payload := map[string]any{
		"baselineQuery": req.Query,
		"baselineTimeRange": map[string]string{
			"startTime": req.StartTime.UTC().Format(searchTimeLayout),
			"endTime":   req.EndTime.UTC().Format(searchTimeLayout),
		},
		"caseInsensitive":       !req.CaseSensitive,
		"returnOperationIdOnly": true,
		"eventList": map[string]int{
			"maxReturnedEvents": maxEvents,
		},
	}

	if stats {
		maxValues := req.MaxValues
		if maxValues <= 0 {
			maxValues = defaultMaxValues
		}
		payload["fieldAggregations"] = map[string]int{
			"maxValuesPerField": maxValues,
		}
		payload["generateAiOverview"] = true
	}

	return payload
}

// submit starts a search operation and returns its operation ID.
func (s *searchService) submit(ctx context.Context, payload map[string]any, headers http.Header) (string, error) {
	resp, err := s.transport.Do(ctx, &api.Request{
		Method:  http.MethodPost,
		Path:    s.instance + "/legacy:legacyFetchUdmSearchView",
		Body:    payload,
		Headers: headers,
	})
	if err != nil {
		return "", &SearchError{Kind: KindSubmission, Message: "error initiating search", Err: err}
	}

	if !resp.OK() {
		return "", &SearchError{
			Kind:       KindSubmission,
			Message:    "error initiating search",
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Err:        parseError(resp.StatusCode, resp.Body, resp.Headers),
		}
	}

	doc, err := extract.Decode(resp.Body)
	if err != nil {
		return "", &SearchError{
			Kind:    KindMissingOperationID,
			Message: "error extracting operation ID",
			Body:    string(resp.Body),
			Err:     err,
		}
	}

	v, ok := operationIDRules.First(doc)
	id, isString := v.(string)
	if !ok || !isString {
		return "", &SearchError{
			Kind:    KindMissingOperationID,
			Message: fmt.Sprintf("no operation ID found in response: %s", resp.Body),
		}
	}

	return id, nil
}

// run submits a search view query and polls it to completion.
func (s *searchService) run(ctx context.Context, req *SearchRequest, want payloadRule, reqCfg *requestConfig) (*pollResult, error) {
	operationID, err := s.submit(ctx, searchViewPayload(req, want.kind == statsPayload.kind), reqCfg.headers)
	if err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("secops.operation", operationID))

	return s.poller.poll(ctx, operationID, want, req.MaxAttempts, reqCfg.headers)
}

// Events runs a UDM search and waits for its events.
func (s *searchService) Events(ctx context.Context, req *SearchRequest, opts ...RequestOption) (*EventResult, error) {
	if err := validateSearchRequest(req); err != nil {
		return nil, err
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	ctx, span := startSearchSpan(ctx, eventPayload.kind, req)
	defer span.End()
	start := time.Now()

	res, err := s.run(ctx, req, eventPayload, reqCfg)
	var result *EventResult
	if err == nil {
		result, err = shapeEvents(res.payload)
	}
	if err == nil {
		if more, ok := moreDataRules.First(res.doc); ok {
			result.MoreDataAvailable, _ = more.(bool)
		}
		span.SetAttributes(attribute.Int("secops.total_events", result.TotalEvents))
	}

	finishSearch(span, eventPayload.kind, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stats runs a UDM stats query and waits for its table.
func (s *searchService) Stats(ctx context.Context, req *SearchRequest, opts ...RequestOption) (*StatsResult, error) {
	if err := validateSearchRequest(req); err != nil {
		return nil, err
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	ctx, span := startSearchSpan(ctx, statsPayload.kind, req)
	defer span.End()
	start := time.Now()

	res, err := s.run(ctx, req, statsPayload, reqCfg)
	var result *StatsResult
	if err == nil {
		result, err = shapeStats(res.payload)
	}
	if err == nil {
		span.SetAttributes(attribute.Int("secops.total_rows", result.TotalRows))
	}

	finishSearch(span, statsPayload.kind, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func startSearchSpan(ctx context.Context, kind string, req *SearchRequest) (context.Context, trace.Span) {
	return tracer.Start(ctx, "secops.search."+kind,
		trace.WithAttributes(
			attribute.String("secops.query", req.Query),
			attribute.String("secops.start_time", req.StartTime.UTC().Format(time.RFC3339)),
			attribute.String("secops.end_time", req.EndTime.UTC().Format(time.RFC3339)),
		),
	)
}

func finishSearch(span trace.Span, kind string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if IsSearchErrorKind(err, KindTimeout) {
			outcome = metrics.OutcomeTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
	} else {
		span.SetStatus(codes.Ok, "search completed")
	}
	metrics.ObserveSearch(kind, time.Since(start), outcome)
}

// CSV exports UDM search results as CSV text.
func (s *searchService) CSV(ctx context.Context, req *CSVRequest, opts ...RequestOption) (string, error) {
	if req == nil || req.Query == "" {
		return "", &ValidationError{
			APIError: APIError{Message: "search query is required"},
		}
	}
	if len(req.Fields) == 0 {
		return "", &ValidationError{
			APIError: APIError{Message: "at least one CSV field is required"},
		}
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return "", err
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)
	reqCfg.headers.Set("Accept", "*/*")

	body := map[string]any{
		"baselineQuery": req.Query,
		"baselineTimeRange": map[string]string{
			"startTime": req.StartTime.UTC().Format(preciseTimeLayout),
			"endTime":   req.EndTime.UTC().Format(preciseTimeLayout),
		},
		"fields": map[string][]string{
			"fields": req.Fields,
		},
		"caseInsensitive": !req.CaseSensitive,
	}

	resp, err := s.transport.Do(ctx, &api.Request{
		Method:  http.MethodPost,
		Path:    s.instance + "/legacy:legacyFetchUdmSearchCsv",
		Body:    body,
		Headers: reqCfg.headers,
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", parseError(resp.StatusCode, resp.Body, resp.Headers)
	}

	return string(resp.Body), nil
}

// ValidateQuery checks a UDM query without running it.
func (s *searchService) ValidateQuery(ctx context.Context, query string, opts ...RequestOption) (*QueryValidation, error) {
	if query == "" {
		return nil, &ValidationError{
			APIError: APIError{Message: "query cannot be empty"},
		}
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	var result QueryValidation
	err := doJSON(ctx, s.transport, &api.Request{
		Method: http.MethodGet,
		Path:   s.instance + ":validateQuery",
		Query: url.Values{
			"rawQuery":                    {query},
			"dialect":                     {"DIALECT_UDM_SEARCH"},
			"allowUnreplacedPlaceholders": {"false"},
		},
		Headers: reqCfg.headers,
	}, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// IOCs lists IoC matches in the time range.
func (s *searchService) IOCs(ctx context.Context, req *IOCRequest, opts ...RequestOption) (*IOCResult, error) {
	if req == nil {
		return nil, &ValidationError{
			APIError: APIError{Message: "IoC request cannot be nil"},
		}
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	maxMatches := req.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatches
	}

	var result IOCResult
	err := doJSON(ctx, s.transport, &api.Request{
		Method: http.MethodGet,
		Path:   s.instance + "/legacy:legacySearchEnterpriseWideIoCs",
		Query: url.Values{
			"timestampRange.startTime": {req.StartTime.UTC().Format(preciseTimeLayout)},
			"timestampRange.endTime":   {req.EndTime.UTC().Format(preciseTimeLayout)},
			"maxMatchesToReturn":       {strconv.Itoa(maxMatches)},
			"addMandiantAttributes":    {strconv.FormatBool(!req.OmitMandiantAttributes)},
			"fetchPrioritizedIocsOnly": {strconv.FormatBool(req.PrioritizedOnly)},
		},
		Headers: reqCfg.headers,
	}, &result)
	if err != nil {
		return nil, err
	}

	if result.Matches == nil {
		result.Matches = []IOCMatch{}
	}

	return &result, nil
}
