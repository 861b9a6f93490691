package secops

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/go-secops/internal/api"
)

const (
	defaultEntityPageSize = 1000

	// summarizeConcurrency bounds parallel summaries in SummarizeMany.
	summarizeConcurrency = 4
)

// EntityService provides entity summary operations.
//
//go:generate mockery --name=EntityService --output=mocks --outpkg=mocks --filename=entity_service.go
type EntityService interface {
	// Summarize returns what the platform knows about a single entity.
	Summarize(ctx context.Context, req *EntitySummaryRequest, opts ...RequestOption) (*EntitySummary, error)

	// SummarizePages iterates over summary pages, following nextPageToken.
	SummarizePages(ctx context.Context, req *EntitySummaryRequest, opts ...RequestOption) iter.Seq2[*EntitySummary, error]

	// SummarizeFromQuery summarizes the entities matched by a UDM query.
	SummarizeFromQuery(ctx context.Context, query string, start, end time.Time, opts ...RequestOption) ([]*EntitySummary, error)

	// SummarizeMany summarizes several values concurrently. Results are in
	// input order.
	SummarizeMany(ctx context.Context, values []string, start, end time.Time, opts ...RequestOption) ([]*EntitySummary, error)
}

// entityService implements EntityService.
type entityService struct {
	transport *api.Transport
	instance  string
}

func newEntityService(transport *api.Transport, instance string) *entityService {
	return &entityService{transport: transport, instance: instance}
}

// summaryParams builds the summarizeEntity query string.
func summaryParams(req *EntitySummaryRequest) (url.Values, error) {
	if req == nil {
		return nil, &ValidationError{
			APIError: APIError{Message: "entity summary request cannot be nil"},
		}
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultEntityPageSize
	}

	returnAlerts := req.ReturnAlerts == nil || *req.ReturnAlerts
	includeAll := req.IncludeAllUDMTypes == nil || *req.IncludeAllUDMTypes

	params := url.Values{
		"timeRange.startTime":                     {req.StartTime.UTC().Format(preciseTimeLayout)},
		"timeRange.endTime":                       {req.EndTime.UTC().Format(preciseTimeLayout)},
		"returnAlerts":                            {strconv.FormatBool(returnAlerts)},
		"returnPrevalence":                        {strconv.FormatBool(req.ReturnPrevalence)},
		"includeAllUdmEventTypesForFirstLastSeen": {strconv.FormatBool(includeAll)},
		"pageSize":                                {strconv.Itoa(pageSize)},
	}

	if req.PageToken != "" {
		params.Set("pageToken", req.PageToken)
	}

	if req.EntityID != "" {
		params.Set("entityId", req.EntityID)
		return params, nil
	}

	if req.Value == "" {
		return nil, &ValidationError{
			APIError: APIError{Message: "either an entity ID or a value is required"},
		}
	}

	fieldPath, valueType := req.FieldPath, req.ValueType
	if fieldPath == "" && valueType == "" {
		fieldPath, valueType = DetectValueType(req.Value)
	}

	switch {
	case fieldPath != "":
		params.Set("fieldAndValue.fieldPath", fieldPath)
		params.Set("fieldAndValue.value", req.Value)
	case valueType != "":
		params.Set("fieldAndValue.value", req.Value)
		params.Set("fieldAndValue.valueType", string(valueType))
	default:
		return nil, &ValidationError{
			APIError: APIError{
				Message: fmt.Sprintf("could not determine type for value %q; set FieldPath or ValueType", req.Value),
			},
		}
	}

	if req.EntityNamespace != "" {
		params.Set("fieldAndValue.entityNamespace", req.EntityNamespace)
	}

	return params, nil
}

// Summarize returns what the platform knows about a single entity.
func (s *entityService) Summarize(ctx context.Context, req *EntitySummaryRequest, opts ...RequestOption) (*EntitySummary, error) {
	params, err := summaryParams(req)
	if err != nil {
		return nil, err
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	var result EntitySummary
	err = doJSON(ctx, s.transport, &api.Request{
		Method:  http.MethodGet,
		Path:    s.instance + ":summarizeEntity",
		Query:   params,
		Headers: reqCfg.headers,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("getting entity summary: %w", err)
	}

	return &result, nil
}

// SummarizePages iterates over summary pages, following nextPageToken.
func (s *entityService) SummarizePages(ctx context.Context, req *EntitySummaryRequest, opts ...RequestOption) iter.Seq2[*EntitySummary, error] {
	return paginate(ctx, func(ctx context.Context, token string) ([]*EntitySummary, string, error) {
		if req == nil {
			return nil, "", &ValidationError{
				APIError: APIError{Message: "entity summary request cannot be nil"},
			}
		}
		page := *req
		if token != "" {
			page.PageToken = token
		}
		summary, err := s.Summarize(ctx, &page, opts...)
		if err != nil {
			return nil, "", err
		}
		return []*EntitySummary{summary}, summary.NextPageToken, nil
	})
}

// SummarizeFromQuery summarizes the entities matched by a UDM query.
func (s *entityService) SummarizeFromQuery(ctx context.Context, query string, start, end time.Time, opts ...RequestOption) ([]*EntitySummary, error) {
	if query == "" {
		return nil, &ValidationError{
			APIError: APIError{Message: "query cannot be empty"},
		}
	}
	if err := validateTimeRange(start, end); err != nil {
		return nil, err
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	var result struct {
		EntitySummaries []struct {
			Entity []*Entity `json:"entity"`
		} `json:"entitySummaries"`
	}
	err := doJSON(ctx, s.transport, &api.Request{
		Method: http.MethodGet,
		Path:   s.instance + ":summarizeEntitiesFromQuery",
		Query: url.Values{
			"query":               {query},
			"timeRange.startTime": {start.UTC().Format(preciseTimeLayout)},
			"timeRange.endTime":   {end.UTC().Format(preciseTimeLayout)},
		},
		Headers: reqCfg.headers,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("getting entity summaries: %w", err)
	}

	summaries := make([]*EntitySummary, 0, len(result.EntitySummaries))
	for _, es := range result.EntitySummaries {
		summaries = append(summaries, &EntitySummary{Entities: es.Entity})
	}

	return summaries, nil
}

// SummarizeMany summarizes several values concurrently. The first error
// cancels the remaining lookups.
func (s *entityService) SummarizeMany(ctx context.Context, values []string, start, end time.Time, opts ...RequestOption) ([]*EntitySummary, error) {
	summaries := make([]*EntitySummary, len(values))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(summarizeConcurrency)

	for i, value := range values {
		g.Go(func() error {
			summary, err := s.Summarize(ctx, &EntitySummaryRequest{
				Value:     value,
				StartTime: start,
				EndTime:   end,
			}, opts...)
			if err != nil {
				return fmt.Errorf("summarizing %q: %w", value, err)
			}
			summaries[i] = summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return summaries, nil
}
