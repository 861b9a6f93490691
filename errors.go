package secops

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNoCredentials = errors.New("secops: no credentials configured")
	ErrNoInstance    = errors.New("secops: no customer or project ID configured")
	ErrNoValidQuery  = errors.New("secops: no valid query could be generated")
)

// APIError is a non-2xx API response. Message, Detail and Reason come
// from the google.rpc.Status error envelope when the body carries one.
type APIError struct {
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId,omitempty"`

	// Detail is the canonical status, e.g. "PERMISSION_DENIED".
	Detail string `json:"detail,omitempty"`

	// Reason is the ErrorInfo reason, e.g. "SERVICE_DISABLED".
	Reason string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("secops: API error %d: %s (request_id=%s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("secops: API error %d: %s", e.StatusCode, e.Message)
}

// AuthenticationError indicates authentication or authorization failure (401/403).
type AuthenticationError struct {
	APIError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("secops: authentication failed: %s", e.Message)
}

// As lets errors.As match *APIError.
func (e *AuthenticationError) As(target any) bool { return asAPIError(&e.APIError, target) }

// NotFoundError indicates the requested resource was not found (404).
type NotFoundError struct {
	APIError
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	if e.ResourceType != "" && e.ResourceID != "" {
		return fmt.Sprintf("secops: %s not found: %s", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("secops: resource not found: %s", e.Message)
}

// As lets errors.As match *APIError.
func (e *NotFoundError) As(target any) bool { return asAPIError(&e.APIError, target) }

// ValidationError indicates invalid request data (400), either rejected by
// the API or caught client-side before sending. Fields maps each violated
// field to its description.
type ValidationError struct {
	APIError
	Fields map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("secops: validation error: %s (fields: %v)", e.Message, e.Fields)
	}
	return fmt.Sprintf("secops: validation error: %s", e.Message)
}

// As lets errors.As match *APIError.
func (e *ValidationError) As(target any) bool { return asAPIError(&e.APIError, target) }

// RateLimitError indicates the API quota was exceeded (429).
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("secops: rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "secops: rate limit exceeded"
}

// As lets errors.As match *APIError.
func (e *RateLimitError) As(target any) bool { return asAPIError(&e.APIError, target) }

// ServerError indicates an internal server error (5xx).
type ServerError struct {
	APIError
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("secops: server error %d: %s", e.StatusCode, e.Message)
}

// As lets errors.As match *APIError.
func (e *ServerError) As(target any) bool { return asAPIError(&e.APIError, target) }

// SearchErrorKind discriminates the ways an asynchronous search can fail.
type SearchErrorKind int

const (
	// KindSubmission means the search request itself was rejected.
	KindSubmission SearchErrorKind = iota + 1
	// KindMissingOperationID means the submit response named no operation.
	KindMissingOperationID
	// KindPollTransport means a status poll returned a non-success response.
	KindPollTransport
	// KindIncompleteResult means the operation completed without a payload.
	KindIncompleteResult
	// KindTimeout means the poll attempt ceiling was reached.
	KindTimeout
	// KindResultShaping means the payload could not be shaped into a result.
	KindResultShaping
)

func (k SearchErrorKind) String() string {
	switch k {
	case KindSubmission:
		return "submission"
	case KindMissingOperationID:
		return "missing_operation_id"
	case KindPollTransport:
		return "poll_transport"
	case KindIncompleteResult:
		return "incomplete_result"
	case KindTimeout:
		return "timeout"
	case KindResultShaping:
		return "result_shaping"
	default:
		return "unknown"
	}
}

// SearchError is returned by the polling search methods. Every kind is
// terminal; the caller must submit a fresh search to try again.
type SearchError struct {
	Kind       SearchErrorKind
	Message    string
	StatusCode int
	Body       string
	Attempts   int

	// Err is the underlying cause, e.g. the classified *APIError for HTTP
	// failures or the context error for a cancelled poll.
	Err error
}

func (e *SearchError) Error() string {
	msg := fmt.Sprintf("secops: search %s: %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d: %s)", e.StatusCode, e.Body)
	}
	return msg
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// IsSearchErrorKind reports whether err is a *SearchError of the given kind.
func IsSearchErrorKind(err error, kind SearchErrorKind) bool {
	var se *SearchError
	return errors.As(err, &se) && se.Kind == kind
}

func asAPIError(e *APIError, target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = e
		return true
	}
	return false
}

// rpcStatus is the google.rpc.Status error envelope. Some legacy endpoints
// reply with a bare {"message": ...} instead.
type rpcStatus struct {
	Message string `json:"message"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type string `json:"@type"`

			// google.rpc.ErrorInfo
			Reason string `json:"reason"`

			// google.rpc.BadRequest
			FieldViolations []struct {
				Field       string `json:"field"`
				Description string `json:"description"`
			} `json:"fieldViolations"`

			// google.rpc.RetryInfo
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

// parseError classifies a non-2xx response by status code.
func parseError(statusCode int, body []byte, headers http.Header) error {
	base := APIError{
		StatusCode: statusCode,
		RequestID:  headers.Get("X-Request-ID"),
		Message:    strings.TrimSpace(string(body)),
	}
	if base.Message == "" {
		base.Message = http.StatusText(statusCode)
	}

	var (
		fields     map[string]string
		retryDelay time.Duration
		status     rpcStatus
	)
	if json.Unmarshal(body, &status) != nil {
		status = rpcStatus{}
	}
	if status.Message != "" {
		base.Message = status.Message
	}
	if status.Error != nil {
		base.Message = status.Error.Message
		base.Detail = status.Error.Status
		for _, d := range status.Error.Details {
			switch {
			case strings.HasSuffix(d.Type, "google.rpc.ErrorInfo"):
				base.Reason = d.Reason
			case strings.HasSuffix(d.Type, "google.rpc.BadRequest"):
				for _, v := range d.FieldViolations {
					if fields == nil {
						fields = make(map[string]string, len(d.FieldViolations))
					}
					fields[v.Field] = v.Description
				}
			case strings.HasSuffix(d.Type, "google.rpc.RetryInfo"):
				retryDelay, _ = time.ParseDuration(d.RetryDelay)
			}
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthenticationError{APIError: base}
	case statusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case statusCode == http.StatusBadRequest:
		return &ValidationError{APIError: base, Fields: fields}
	case statusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(headers.Get("Retry-After"))
		if retryAfter == 0 {
			retryAfter = retryDelay
		}
		return &RateLimitError{APIError: base, RetryAfter: retryAfter}
	case statusCode >= http.StatusInternalServerError:
		return &ServerError{APIError: base}
	default:
		return &base
	}
}

// parseRetryAfter reads a Retry-After header in delay-seconds or HTTP-date
// form. Unparseable or past values yield zero.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
