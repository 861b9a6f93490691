package secops_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-secops"
)

func TestAPIError(t *testing.T) {
	t.Run("Error without request ID", func(t *testing.T) {
		err := &secops.APIError{
			StatusCode: 500,
			Message:    "internal error",
		}
		assert.Equal(t, "secops: API error 500: internal error", err.Error())
	})

	t.Run("Error with request ID", func(t *testing.T) {
		err := &secops.APIError{
			StatusCode: 500,
			Message:    "internal error",
			RequestID:  "req-123",
		}
		assert.Equal(t, "secops: API error 500: internal error (request_id=req-123)", err.Error())
	})
}

func TestAuthenticationError(t *testing.T) {
	err := &secops.AuthenticationError{
		APIError: secops.APIError{
			StatusCode: 403,
			Message:    "permission denied",
		},
	}
	assert.Equal(t, "secops: authentication failed: permission denied", err.Error())

	var apiErr *secops.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)
}

func TestNotFoundError(t *testing.T) {
	t.Run("with resource info", func(t *testing.T) {
		err := &secops.NotFoundError{
			APIError:     secops.APIError{StatusCode: 404},
			ResourceType: "forwarder",
			ResourceID:   "fwd-1",
		}
		assert.Equal(t, "secops: forwarder not found: fwd-1", err.Error())
	})

	t.Run("without resource info", func(t *testing.T) {
		err := &secops.NotFoundError{
			APIError: secops.APIError{
				StatusCode: 404,
				Message:    "not found",
			},
		}
		assert.Equal(t, "secops: resource not found: not found", err.Error())
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with fields", func(t *testing.T) {
		err := &secops.ValidationError{
			APIError: secops.APIError{
				StatusCode: 400,
				Message:    "invalid request",
			},
			Fields: map[string]string{
				"baselineQuery": "required",
			},
		}
		assert.Contains(t, err.Error(), "secops: validation error: invalid request")
		assert.Contains(t, err.Error(), "baselineQuery")
	})

	t.Run("without fields", func(t *testing.T) {
		err := &secops.ValidationError{
			APIError: secops.APIError{Message: "bad request"},
		}
		assert.Equal(t, "secops: validation error: bad request", err.Error())
	})
}

func TestRateLimitError(t *testing.T) {
	t.Run("with retry-after", func(t *testing.T) {
		err := &secops.RateLimitError{
			APIError:   secops.APIError{StatusCode: 429},
			RetryAfter: 30 * time.Second,
		}
		assert.Equal(t, "secops: rate limit exceeded, retry after 30s", err.Error())
	})

	t.Run("without retry-after", func(t *testing.T) {
		err := &secops.RateLimitError{
			APIError: secops.APIError{StatusCode: 429},
		}
		assert.Equal(t, "secops: rate limit exceeded", err.Error())
	})
}

func TestServerError(t *testing.T) {
	err := &secops.ServerError{
		APIError: secops.APIError{
			StatusCode: 503,
			Message:    "service unavailable",
		},
	}
	assert.Equal(t, "secops: server error 503: service unavailable", err.Error())
}

func TestErrorsAs(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"AuthenticationError", &secops.AuthenticationError{APIError: secops.APIError{StatusCode: 401}}},
		{"NotFoundError", &secops.NotFoundError{APIError: secops.APIError{StatusCode: 404}}},
		{"ValidationError", &secops.ValidationError{APIError: secops.APIError{StatusCode: 400}}},
		{"RateLimitError", &secops.RateLimitError{APIError: secops.APIError{StatusCode: 429}}},
		{"ServerError", &secops.ServerError{APIError: secops.APIError{StatusCode: 500}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *secops.APIError
			require.ErrorAs(t, tt.err, &apiErr, "should be detectable as APIError")
		})
	}
}

func TestSearchError(t *testing.T) {
	t.Run("message without status", func(t *testing.T) {
		err := &secops.SearchError{
			Kind:    secops.KindTimeout,
			Message: "search timed out after 30 attempts",
		}
		assert.Equal(t, "secops: search timeout: search timed out after 30 attempts", err.Error())
	})

	t.Run("message with status", func(t *testing.T) {
		err := &secops.SearchError{
			Kind:       secops.KindPollTransport,
			Message:    "error checking search status",
			StatusCode: 503,
			Body:       "unavailable",
		}
		assert.Equal(t,
			"secops: search poll_transport: error checking search status (status 503: unavailable)",
			err.Error())
	})

	t.Run("unwraps cause", func(t *testing.T) {
		err := &secops.SearchError{
			Kind:    secops.KindTimeout,
			Message: "polling cancelled after 2 attempts",
			Err:     context.Canceled,
		}
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("IsSearchErrorKind sees through wrapping", func(t *testing.T) {
		err := fmt.Errorf("running query: %w", &secops.SearchError{Kind: secops.KindIncompleteResult})
		assert.True(t, secops.IsSearchErrorKind(err, secops.KindIncompleteResult))
		assert.False(t, secops.IsSearchErrorKind(err, secops.KindTimeout))
		assert.False(t, secops.IsSearchErrorKind(errors.New("plain"), secops.KindTimeout))
	})
}

func TestSearchErrorKind_String(t *testing.T) {
	tests := []struct {
		kind secops.SearchErrorKind
		want string
	}{
		{secops.KindSubmission, "submission"},
		{secops.KindMissingOperationID, "missing_operation_id"},
		{secops.KindPollTransport, "poll_transport"},
		{secops.KindIncompleteResult, "incomplete_result"},
		{secops.KindTimeout, "timeout"},
		{secops.KindResultShaping, "result_shaping"},
		{secops.SearchErrorKind(0), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
