package secops_test

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-secops"
)

const forwardersPath = instancePath + "/forwarders"

func TestIngestService_Log(t *testing.T) {
	t.Run("with explicit forwarder", func(t *testing.T) {
		entry := time.Date(2024, 3, 1, 9, 30, 0, 123456000, time.UTC)
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, instancePath+"/logTypes/OKTA/logs:import", r.URL.Path)

			var body struct {
				InlineSource struct {
					Logs []struct {
						Data           string `json:"data"`
						LogEntryTime   string `json:"log_entry_time"`
						CollectionTime string `json:"collection_time"`
					} `json:"logs"`
					Forwarder string `json:"forwarder"`
				} `json:"inline_source"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if !assert.Len(t, body.InlineSource.Logs, 1) {
				return
			}

			data, err := base64.StdEncoding.DecodeString(body.InlineSource.Logs[0].Data)
			assert.NoError(t, err)
			assert.Equal(t, `{"event":"login"}`, string(data))
			assert.Equal(t, "2024-03-01T09:30:00.123456Z", body.InlineSource.Logs[0].LogEntryTime)
			assert.NotEmpty(t, body.InlineSource.Logs[0].CollectionTime)
			assert.Equal(t, testInstance+"/forwarders/fwd-9", body.InlineSource.Forwarder)

			_, _ = io.WriteString(w, `{"operation": "op-ingest"}`)
		})

		res, err := client.Ingest.Log(t.Context(), &secops.LogIngestRequest{
			LogType:     "OKTA",
			Message:     []byte(`{"event":"login"}`),
			EntryTime:   entry,
			ForwarderID: "fwd-9",
		})
		require.NoError(t, err)
		assert.Equal(t, "op-ingest", res.Operation)
	})

	t.Run("resolves default forwarder once", func(t *testing.T) {
		var lists, creates, imports atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == forwardersPath && r.Method == http.MethodGet:
				lists.Add(1)
				_, _ = io.WriteString(w, `{"forwarders": [{"name": "`+testInstance+`/forwarders/other", "displayName": "Other"}]}`)
			case r.URL.Path == forwardersPath && r.Method == http.MethodPost:
				creates.Add(1)
				var body map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, secops.DefaultForwarderName, body["displayName"])
				assert.Contains(t, body, "config")
				_, _ = io.WriteString(w, `{"name": "`+testInstance+`/forwarders/new", "displayName": "`+secops.DefaultForwarderName+`"}`)
			case r.URL.Path == instancePath+"/logTypes/WINEVTLOG/logs:import":
				imports.Add(1)
				var body map[string]map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, testInstance+"/forwarders/new", body["inline_source"]["forwarder"])
				_, _ = io.WriteString(w, `{}`)
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
		})

		for range 3 {
			_, err := client.Ingest.Log(t.Context(), &secops.LogIngestRequest{
				LogType: "WINEVTLOG",
				Message: []byte("<Event/>"),
			})
			require.NoError(t, err)
		}

		assert.Equal(t, int32(1), lists.Load())
		assert.Equal(t, int32(1), creates.Load())
		assert.Equal(t, int32(3), imports.Load())
	})

	t.Run("validation", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected request")
		})

		var valErr *secops.ValidationError
		_, err := client.Ingest.Log(t.Context(), nil)
		assert.ErrorAs(t, err, &valErr)
		_, err = client.Ingest.Log(t.Context(), &secops.LogIngestRequest{Message: []byte("x")})
		assert.ErrorAs(t, err, &valErr)
		_, err = client.Ingest.Log(t.Context(), &secops.LogIngestRequest{LogType: "OKTA"})
		assert.ErrorAs(t, err, &valErr)
	})
}

func TestIngestService_UDM(t *testing.T) {
	t.Run("fills metadata without mutating input", func(t *testing.T) {
		var received []map[string]any
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, instancePath+"/events:import", r.URL.Path)
			var body struct {
				InlineSource struct {
					Events []struct {
						UDM map[string]any `json:"udm"`
					} `json:"events"`
				} `json:"inline_source"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for _, e := range body.InlineSource.Events {
				received = append(received, e.UDM)
			}
			_, _ = io.WriteString(w, `{}`)
		})

		withID := secops.UDMEvent{
			"metadata": map[string]any{
				"id":              "existing-id",
				"event_type":      "NETWORK_CONNECTION",
				"event_timestamp": "2024-03-01T00:00:00Z",
			},
		}
		bare := secops.UDMEvent{
			"metadata": map[string]any{"event_type": "USER_LOGIN"},
			"principal": map[string]any{"hostname": "web-1"},
		}

		res, err := client.Ingest.UDM(t.Context(), []secops.UDMEvent{withID, bare})
		require.NoError(t, err)
		require.Len(t, res.EventIDs, 2)
		assert.Equal(t, "existing-id", res.EventIDs[0])
		assert.NotEmpty(t, res.EventIDs[1])

		require.Len(t, received, 2)
		md0 := received[0]["metadata"].(map[string]any)
		assert.Equal(t, "existing-id", md0["id"])
		assert.Equal(t, "2024-03-01T00:00:00Z", md0["event_timestamp"])

		md1 := received[1]["metadata"].(map[string]any)
		assert.Equal(t, res.EventIDs[1], md1["id"])
		assert.NotEmpty(t, md1["event_timestamp"])

		assert.NotContains(t, bare["metadata"], "id")
		assert.NotContains(t, bare["metadata"], "event_timestamp")
	})

	t.Run("rejects bad metadata", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected request")
		})

		var valErr *secops.ValidationError
		_, err := client.Ingest.UDM(t.Context(), nil)
		assert.ErrorAs(t, err, &valErr)
		_, err = client.Ingest.UDM(t.Context(), []secops.UDMEvent{{"metadata": "nope"}})
		assert.ErrorAs(t, err, &valErr)
	})
}

func TestIngestService_Forwarders(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, forwardersPath, r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("pageSize"))
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = io.WriteString(w, `{"forwarders": [{"name": "a/forwarders/f1", "displayName": "One"}], "nextPageToken": "next"}`)
		case "next":
			_, _ = io.WriteString(w, `{"forwarders": [{"name": "a/forwarders/f2", "displayName": "Two"}]}`)
		}
	})

	forwarders, err := secops.Collect(client.Ingest.Forwarders(t.Context()))
	require.NoError(t, err)
	require.Len(t, forwarders, 2)
	assert.Equal(t, "f1", forwarders[0].ID())
	assert.Equal(t, "Two", forwarders[1].DisplayName)
}

func TestIngestService_GetOrCreateForwarder_Concurrent(t *testing.T) {
	var lists atomic.Int32
	release := make(chan struct{})
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			lists.Add(1)
			<-release
			_, _ = io.WriteString(w, `{"forwarders": [{"name": "x/forwarders/shared", "displayName": "Shared"}]}`)
			return
		}
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})

	var wg sync.WaitGroup
	results := make([]*secops.Forwarder, 5)
	for i := range results {
		wg.Go(func() {
			fwd, err := client.Ingest.GetOrCreateForwarder(t.Context(), "Shared")
			assert.NoError(t, err)
			results[i] = fwd
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, fwd := range results {
		require.NotNil(t, fwd)
		assert.Equal(t, "shared", fwd.ID())
	}
	assert.LessOrEqual(t, lists.Load(), int32(5))

	before := lists.Load()
	_, err := client.Ingest.GetOrCreateForwarder(t.Context(), "Shared")
	require.NoError(t, err)
	assert.Equal(t, before, lists.Load(), "cached forwarder should not be listed again")
}

func TestIngestService_LogTypes(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, instancePath+"/logTypes", r.URL.Path)
		_, _ = io.WriteString(w, `{"logTypes": [
			{"name": "`+testInstance+`/logTypes/OKTA", "displayName": "Okta"},
			{"name": "`+testInstance+`/logTypes/WINEVTLOG", "displayName": "Windows Event"},
			{"name": "`+testInstance+`/logTypes/PAN_FIREWALL", "displayName": "Palo Alto Networks Firewall"}
		]}`)
	})

	okta, err := secops.First(secops.Filter(client.Ingest.LogTypes(t.Context()), func(lt *secops.LogType) bool {
		return lt.ID() == "OKTA"
	}))
	require.NoError(t, err)
	assert.Equal(t, "Okta", okta.DisplayName)

	ids, err := secops.Collect(secops.Map(client.Ingest.LogTypes(t.Context()), func(lt *secops.LogType) (string, error) {
		return lt.ID(), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"OKTA", "WINEVTLOG", "PAN_FIREWALL"}, ids)
}
