package secops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"

	"github.com/tphakala/go-secops/internal/api"
)

// Gemini block types.
const (
	BlockTypeText = "TEXT"
	BlockTypeHTML = "HTML"
	BlockTypeCode = "CODE"
)

const optInPreference = "ui_preferences.enable_duet_ai_chat"

// AIService provides natural-language search and Gemini chat.
//
//go:generate mockery --name=AIService --output=mocks --outpkg=mocks --filename=ai_service.go
type AIService interface {
	// Translate converts a natural-language request into a UDM query.
	Translate(ctx context.Context, text string, opts ...RequestOption) (string, error)

	// NLSearch translates text and runs the resulting query. The query in
	// req is ignored.
	NLSearch(ctx context.Context, text string, req *SearchRequest, opts ...RequestOption) (*EventResult, error)

	// OptIn enables Gemini chat for the calling user. It reports false
	// without an error when the caller lacks permission to opt in.
	OptIn(ctx context.Context, opts ...RequestOption) (bool, error)

	// Ask sends a question to Gemini in a new conversation.
	Ask(ctx context.Context, question string, opts ...RequestOption) (*GeminiResponse, error)
}

// aiService implements AIService.
type aiService struct {
	transport    *api.Transport
	instance     string
	search       *searchService
	translations *lru.Cache[string, string]
}

func newAIService(transport *api.Transport, instance string, search *searchService, translations *lru.Cache[string, string]) *aiService {
	return &aiService{
		transport:    transport,
		instance:     instance,
		search:       search,
		translations: translations,
	}
}

// Translate converts a natural-language request into a UDM query.
// Translations are cached per client.
func (s *aiService) Translate(ctx context.Context, text string, opts ...RequestOption) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{
			APIError: APIError{Message: "text cannot be empty"},
		}
	}

	if query, ok := s.translations.Get(text); ok {
		return query, nil
	}

	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	var result struct {
		Query   string `json:"query"`
		Message string `json:"message"`
	}
	err := doJSON(ctx, s.transport, &api.Request{
		Method:  http.MethodPost,
		Path:    s.instance + ":translateUdmQuery",
		Body:    map[string]string{"text": text},
		Headers: reqCfg.headers,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("translating query: %w", err)
	}

	if result.Query == "" {
		if result.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrNoValidQuery, result.Message)
		}
		return "", ErrNoValidQuery
	}

	s.translations.Add(text, result.Query)
	return result.Query, nil
}

// NLSearch translates text and runs the resulting query.
func (s *aiService) NLSearch(ctx context.Context, text string, req *SearchRequest, opts ...RequestOption) (*EventResult, error) {
	if req == nil {
		return nil, &ValidationError{
			APIError: APIError{Message: "search request cannot be nil"},
		}
	}

	query, err := s.Translate(ctx, text, opts...)
	if err != nil {
		return nil, err
	}

	search := *req
	search.Query = query
	return s.search.Events(ctx, &search, opts...)
}

// OptIn enables Gemini chat for the calling user.
func (s *aiService) OptIn(ctx context.Context, opts ...RequestOption) (bool, error) {
	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	err := doJSON(ctx, s.transport, &api.Request{
		Method: http.MethodPatch,
		Path:   s.instance + "/users/me/preferenceSet",
		Query:  url.Values{"updateMask": {optInPreference}},
		Body: map[string]any{
			"ui_preferences": map[string]bool{"enable_duet_ai_chat": true},
		},
		Headers: reqCfg.headers,
	}, nil)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) && authErr.StatusCode == http.StatusForbidden {
			return false, nil
		}
		return false, fmt.Errorf("opting in to Gemini: %w", err)
	}

	return true, nil
}

// Ask sends a question to Gemini in a new conversation. If the user has
// not opted in yet, Ask opts in and retries once.
func (s *aiService) Ask(ctx context.Context, question string, opts ...RequestOption) (*GeminiResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &ValidationError{
			APIError: APIError{Message: "question cannot be empty"},
		}
	}

	ctx, span := tracer.Start(ctx, "secops.ai.ask")
	defer span.End()

	resp, err := s.ask(ctx, question, opts...)
	if err != nil && isOptInError(err) {
		span.SetAttributes(attribute.Bool("secops.opt_in", true))
		optedIn, optErr := s.OptIn(ctx, opts...)
		if optErr != nil {
			err = optErr
		} else if optedIn {
			resp, err = s.ask(ctx, question, opts...)
		}
	}

	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *aiService) ask(ctx context.Context, question string, opts ...RequestOption) (*GeminiResponse, error) {
	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	var conversation struct {
		Name string `json:"name"`
	}
	err := doJSON(ctx, s.transport, &api.Request{
		Method:  http.MethodPost,
		Path:    s.instance + "/users/me/conversations",
		Body:    map[string]string{"displayName": "New chat"},
		Headers: reqCfg.headers,
	}, &conversation)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	if conversation.Name == "" {
		return nil, errors.New("secops: conversation response has no name")
	}

	resp, err := s.transport.Do(ctx, &api.Request{
		Method: http.MethodPost,
		Path:   conversation.Name + "/messages",
		Body: map[string]any{
			"input": map[string]any{
				"body": question,
				"context": map[string]any{
					"uri":  "/search",
					"body": map[string]any{},
				},
			},
		},
		Headers: reqCfg.headers,
	})
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("sending message: %w", parseError(resp.StatusCode, resp.Body, resp.Headers))
	}

	return decodeGeminiResponse(resp.Body)
}

// decodeGeminiResponse flattens the blocks, references and suggested actions
// of every response in a message into one GeminiResponse.
func decodeGeminiResponse(body []byte) (*GeminiResponse, error) {
	var msg struct {
		Name      string `json:"name"`
		Responses []struct {
			Blocks           []GeminiBlock     `json:"blocks"`
			References       []GeminiBlock     `json:"references"`
			SuggestedActions []SuggestedAction `json:"suggestedActions"`
		} `json:"responses"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decoding Gemini response: %w", err)
	}

	out := &GeminiResponse{
		Name:   msg.Name,
		Blocks: []GeminiBlock{},
		Raw:    json.RawMessage(body),
	}
	for _, r := range msg.Responses {
		out.Blocks = append(out.Blocks, r.Blocks...)
		out.References = append(out.References, r.References...)
		out.SuggestedActions = append(out.SuggestedActions, r.SuggestedActions...)
	}

	return out, nil
}

// isOptInError reports whether err is the backend's rejection of a user
// that has not enabled Gemini.
func isOptInError(err error) bool {
	var apiErr *APIError
	msg := err.Error()
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "opt-in") || strings.Contains(msg, "opt in")
}

// TextContent returns the readable text of the answer: TEXT blocks verbatim
// and HTML blocks with markup removed, separated by blank lines.
func (r *GeminiResponse) TextContent() string {
	parts := make([]string, 0, len(r.Blocks))
	for _, b := range r.Blocks {
		var text string
		switch b.BlockType {
		case BlockTypeText:
			text = b.Content
		case BlockTypeHTML:
			text = htmlText(b.Content)
		default:
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// CodeBlocks returns the CODE blocks of the answer.
func (r *GeminiResponse) CodeBlocks() []GeminiBlock {
	var blocks []GeminiBlock
	for _, b := range r.Blocks {
		if b.BlockType == BlockTypeCode {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// htmlText extracts the text nodes of an HTML fragment. Block-level
// elements start a new line.
func htmlText(fragment string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseLines(sb.String())
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteByte('\n')
			}
		}
	}
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
