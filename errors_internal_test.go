package secops

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseError(t *testing.T) {
	t.Run("google rpc status with details", func(t *testing.T) {
		body := []byte(`{"error": {
			"code": 400,
			"message": "invalid argument",
			"status": "INVALID_ARGUMENT",
			"details": [
				{"@type": "type.googleapis.com/google.rpc.ErrorInfo", "reason": "BAD_QUERY"},
				{"@type": "type.googleapis.com/google.rpc.BadRequest", "fieldViolations": [
					{"field": "baselineQuery", "description": "unexpected token"}
				]}
			]
		}}`)

		err := parseError(http.StatusBadRequest, body, http.Header{"X-Request-Id": {"r-1"}})

		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Equal(t, "invalid argument", valErr.Message)
		assert.Equal(t, "INVALID_ARGUMENT", valErr.Detail)
		assert.Equal(t, "BAD_QUERY", valErr.Reason)
		assert.Equal(t, "r-1", valErr.RequestID)
		assert.Equal(t, map[string]string{"baselineQuery": "unexpected token"}, valErr.Fields)
	})

	t.Run("retry info when header absent", func(t *testing.T) {
		body := []byte(`{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED", "details": [
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "12s"}
		]}}`)

		var rl *RateLimitError
		require.ErrorAs(t, parseError(http.StatusTooManyRequests, body, http.Header{}), &rl)
		assert.Equal(t, 12*time.Second, rl.RetryAfter)

		require.ErrorAs(t, parseError(http.StatusTooManyRequests, body, http.Header{"Retry-After": {"3"}}), &rl)
		assert.Equal(t, 3*time.Second, rl.RetryAfter)
	})

	t.Run("bare message", func(t *testing.T) {
		var serverErr *ServerError
		require.ErrorAs(t, parseError(http.StatusBadGateway, []byte(`{"message": "upstream"}`), http.Header{}), &serverErr)
		assert.Equal(t, "upstream", serverErr.Message)
	})

	t.Run("plain text and empty bodies", func(t *testing.T) {
		var authErr *AuthenticationError
		require.ErrorAs(t, parseError(http.StatusUnauthorized, []byte("token expired\n"), http.Header{}), &authErr)
		assert.Equal(t, "token expired", authErr.Message)

		var notFound *NotFoundError
		require.ErrorAs(t, parseError(http.StatusNotFound, nil, http.Header{}), &notFound)
		assert.Equal(t, "Not Found", notFound.Message)
	})

	t.Run("unclassified status", func(t *testing.T) {
		err := parseError(http.StatusConflict, []byte(`{"error": {"message": "exists", "status": "ALREADY_EXISTS"}}`), http.Header{})
		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
		assert.Equal(t, "ALREADY_EXISTS", apiErr.Detail)
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.Equal(t, 90*time.Second, parseRetryAfter("90"))
	assert.Zero(t, parseRetryAfter("Mon, 02 Jan 2006 15:04:05 GMT"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 58*time.Minute)
	assert.LessOrEqual(t, d, time.Hour)
}
