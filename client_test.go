package secops_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-secops"
)

const (
	testInstance = "projects/test-project/locations/us/instances/test-customer"
	instancePath = "/" + testInstance
)

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...secops.ClientOption) *secops.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []secops.ClientOption{
		secops.WithBaseURL(server.URL),
		secops.WithInstance("test-customer", "test-project", "us"),
		secops.WithAccessToken("test-token"),
		secops.WithPollInterval(time.Millisecond),
	}
	client, err := secops.NewClient(append(base, opts...)...)
	require.NoError(t, err)

	return client
}

func TestNewClient(t *testing.T) {
	t.Run("success with required options", func(t *testing.T) {
		client, err := secops.NewClient(
			secops.WithInstance("cust", "proj", ""),
			secops.WithAccessToken("token"),
		)
		require.NoError(t, err)
		assert.NotNil(t, client.Search)
		assert.NotNil(t, client.Entities)
		assert.NotNil(t, client.Ingest)
		assert.NotNil(t, client.AI)
		assert.Equal(t, "https://us-chronicle.googleapis.com/v1alpha", client.BaseURL())
		assert.Equal(t, "projects/proj/locations/us/instances/cust", client.InstanceID())
	})

	t.Run("regional base URL", func(t *testing.T) {
		client, err := secops.NewClient(
			secops.WithInstance("cust", "proj", "europe"),
			secops.WithAccessToken("token"),
		)
		require.NoError(t, err)
		assert.Equal(t, "https://europe-chronicle.googleapis.com/v1alpha", client.BaseURL())
		assert.Equal(t, "projects/proj/locations/europe/instances/cust", client.InstanceID())
	})

	t.Run("error without instance", func(t *testing.T) {
		_, err := secops.NewClient(
			secops.WithAccessToken("token"),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, secops.ErrNoInstance)
	})

	t.Run("error without project", func(t *testing.T) {
		_, err := secops.NewClient(
			secops.WithInstance("cust", "", "us"),
			secops.WithAccessToken("token"),
		)
		assert.ErrorIs(t, err, secops.ErrNoInstance)
	})

	t.Run("error without credentials", func(t *testing.T) {
		_, err := secops.NewClient(
			secops.WithInstance("cust", "proj", "us"),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, secops.ErrNoCredentials)
	})

	t.Run("error with empty token", func(t *testing.T) {
		_, err := secops.NewClient(
			secops.WithInstance("cust", "proj", "us"),
			secops.WithAccessToken(""),
		)
		assert.ErrorIs(t, err, secops.ErrNoCredentials)
	})

	t.Run("error with invalid base URL", func(t *testing.T) {
		_, err := secops.NewClient(
			secops.WithInstance("cust", "proj", "us"),
			secops.WithAccessToken("token"),
			secops.WithBaseURL("not a url"),
		)
		require.Error(t, err)
	})

	t.Run("success with all options", func(t *testing.T) {
		client, err := secops.NewClient(
			secops.WithInstance("cust", "proj", "us"),
			secops.WithAccessToken("token"),
			secops.WithUserAgent("test-agent/1.0"),
			secops.WithTimeout(60*time.Second),
			secops.WithPollInterval(2*time.Second),
			secops.WithMaxPollAttempts(10),
			secops.WithMaxResponseSize(1<<20),
			secops.WithCacheSize(16),
			secops.WithMetricsRegisterer(prometheus.NewRegistry()),
		)
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("success with custom HTTP client", func(t *testing.T) {
		client, err := secops.NewClient(
			secops.WithInstance("cust", "proj", "us"),
			secops.WithAccessToken("token"),
			secops.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
		)
		require.NoError(t, err)
		assert.NotNil(t, client)
	})
}

func TestClient_SendsHeaders(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent/2.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "req-42", r.Header.Get("X-Request-ID"))
		_, _ = w.Write([]byte(`{"queryType": "QUERY_TYPE_UDM_QUERY"}`))
	}, secops.WithUserAgent("test-agent/2.0"))

	_, err := client.Search.ValidateQuery(t.Context(), `principal.ip = "10.0.0.1"`, secops.WithRequestID("req-42"))
	require.NoError(t, err)
}
