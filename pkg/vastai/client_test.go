package vastai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastai-client/vastai-go/pkg/query"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("test-key", WithBaseURL(server.URL), WithMinInterval(0))
	return client, server
}

func TestSearchOffers(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bundles/", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		var q map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("q")), &q))
		assert.Equal(t, map[string]any{"gt": 0.98}, q["reliability2"])
		assert.Equal(t, map[string]any{"eq": 1.0}, q["num_gpus"])
		assert.Equal(t, map[string]any{"eq": "RTX 3090"}, q["gpu_name"])
		assert.Equal(t, []any{[]any{"dph_total", "desc"}}, q["order"])
		assert.Equal(t, "on-demand", q["type"])
		assert.Equal(t, 5.0, q["allocated_storage"])
		// Default constraints are included unless disabled.
		assert.Equal(t, map[string]any{"eq": true}, q["verified"])

		w.Write([]byte(`{"offers": [
			{"id": 12345, "dph_total": 0.45, "gpu_name": "RTX 3090", "num_gpus": 1,
			 "gpu_ram": 24576, "reliability2": 0.99, "geolocation": "California, US", "rentable": true},
			{"id": 12346, "dph_total": 0.41, "gpu_name": "RTX 3090", "num_gpus": 1,
			 "gpu_ram": 24576, "reliability2": 0.985, "geolocation": "Texas, US", "rentable": true}
		]}`))
	})

	offers, err := client.SearchOffers(context.Background(),
		"reliability > 0.98 num_gpus=1 gpu_name=RTX_3090", "dph-")

	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, 12345, offers[0].ID)
	assert.Equal(t, 0.45, offers[0].DphTotal)
	assert.Equal(t, "RTX 3090", offers[0].GPUName)
	assert.Equal(t, 1, offers[0].NumGPUs)
	assert.Equal(t, 0.99, offers[0].Reliability)
	assert.Equal(t, 12346, offers[1].ID)
}

func TestSearchOffers_MalformedQuery(t *testing.T) {
	client := NewClient("test-key", WithMinInterval(0))

	_, err := client.SearchOffers(context.Background(), "bogus_field=1", "")

	var mqe *query.MalformedQueryError
	require.ErrorAs(t, err, &mqe)
}

func TestSearchOffers_EmptyExpression(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var q map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("q")), &q))
		// No-defaults search of everything: no implicit constraints.
		assert.NotContains(t, q, "verified")
		w.Write([]byte(`{"offers": []}`))
	})

	offers, err := client.SearchOffers(context.Background(), "", "", WithoutDefaults())

	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestSearchOffers_SchemaError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Second offer is missing its price.
		w.Write([]byte(`{"offers": [
			{"id": 1, "dph_total": 0.45, "gpu_name": "RTX 3090", "num_gpus": 1},
			{"id": 2, "gpu_name": "RTX 3090", "num_gpus": 1}
		]}`))
	})

	_, err := client.SearchOffers(context.Background(), "", "")

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "dph_total", se.Field)
	assert.Contains(t, se.Error(), "dph_total")
}

func TestSearchOffers_ExtraFieldsIgnored(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"offers": [
			{"id": 1, "dph_total": 0.45, "gpu_name": "RTX 3090", "num_gpus": 1,
			 "some_future_field": {"nested": true}}
		]}`))
	})

	offers, err := client.SearchOffers(context.Background(), "", "")

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, 1, offers[0].ID)
}

func TestListInstances(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instances/", r.URL.Path)
		assert.Equal(t, "me", r.URL.Query().Get("owner"))

		w.Write([]byte(`{"instances": [
			{"id": 100, "actual_status": "running", "ssh_host": "ssh4.vast.ai", "ssh_port": 14100, "dph_total": 0.5},
			{"id": 101, "actual_status": "loading", "image_uuid": "pytorch/pytorch"}
		]}`))
	})

	instances, err := client.ListInstances(context.Background())

	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, 100, instances[0].ID)
	assert.True(t, instances[0].Running())
	assert.Equal(t, StatusLoading, instances[1].ActualStatus)
}

func TestCreateInstance(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/asks/555/":
			assert.Equal(t, http.MethodPut, r.Method)

			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "me", req["client_id"])
			assert.Equal(t, "pytorch/pytorch", req["image"])
			assert.Equal(t, "ssh_proxy", req["runtype"])
			assert.Equal(t, 10.0, req["disk"])

			w.Write([]byte(`{"success": true, "new_contract": 777}`))
		case "/instances/777/":
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte(`{"id": 777, "actual_status": "loading", "image_uuid": "pytorch/pytorch"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	inst, err := client.CreateInstance(context.Background(), 555, LaunchOptions{
		Image: "pytorch/pytorch",
		SSH:   true,
	})

	require.NoError(t, err)
	assert.Equal(t, 777, inst.ID)
	assert.Equal(t, StatusLoading, inst.ActualStatus)
}

func TestCreateInstance_OfferGone(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.CreateInstance(context.Background(), 99999, LaunchOptions{Image: "pytorch/pytorch"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestCreateInstance_RemoteRefusal(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "instance is no longer available"}`))
	})

	_, err := client.CreateInstance(context.Background(), 555, LaunchOptions{Image: "pytorch/pytorch"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteService)
	assert.Contains(t, err.Error(), "no longer available")
}

func TestCreateInstance_InvalidOptions(t *testing.T) {
	client := NewClient("test-key", WithMinInterval(0))

	_, err := client.CreateInstance(context.Background(), 555, LaunchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch options")

	_, err = client.CreateInstance(context.Background(), 555, LaunchOptions{
		Image:   "pytorch/pytorch",
		Jupyter: true,
		Args:    []string{"serve"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jupyter and args")
}

func TestDestroyInstance(t *testing.T) {
	destroyed := false
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/instances/777/", r.URL.Path)

		if destroyed {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		destroyed = true
		w.Write([]byte(`{"success": true}`))
	})

	// First destroy succeeds, the second hits a gone instance.
	require.NoError(t, client.DestroyInstance(context.Background(), 777))

	err := client.DestroyInstance(context.Background(), 777)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartStopLabel(t *testing.T) {
	var bodies []map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/instances/42/", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		w.Write([]byte(`{"success": true}`))
	})

	ctx := context.Background()
	require.NoError(t, client.StartInstance(ctx, 42))
	require.NoError(t, client.StopInstance(ctx, 42))
	require.NoError(t, client.LabelInstance(ctx, 42, "training-run"))

	require.Len(t, bodies, 3)
	assert.Equal(t, map[string]string{"state": "running"}, bodies[0])
	assert.Equal(t, map[string]string{"state": "stopped"}, bodies[1])
	assert.Equal(t, map[string]string{"label": "training-run"}, bodies[2])
}

func TestSSHURL(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 42, "actual_status": "running", "ssh_host": "ssh4.vast.ai", "ssh_port": 14042}`))
	})

	sshURL, err := client.SSHURL(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "ssh://root@ssh4.vast.ai:14042", sshURL)

	scpURL, err := client.SCPURL(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "scp://root@ssh4.vast.ai:14042", scpURL)
}

func TestSSHURL_NotReady(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 42, "actual_status": "loading"}`))
	})

	_, err := client.SSHURL(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ssh endpoint")
}

func TestCopyRemote(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/commands/rsync/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 100.0, body["src_id"])
		assert.Equal(t, "/workspace/data", body["src_path"])
		assert.Equal(t, 200.0, body["dst_id"])
		assert.Equal(t, "/workspace", body["dst_path"])

		w.Write([]byte(`{"success": true}`))
	})

	err := client.CopyRemote(context.Background(), "100:/workspace/data", "200:/workspace")
	require.NoError(t, err)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthentication},
		{"forbidden", http.StatusForbidden, ErrAuthentication},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrRemoteService},
		{"bad gateway", http.StatusBadGateway, ErrRemoteService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("upstream says no"))
			})

			_, err := client.ListInstances(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.status, ae.StatusCode)
			assert.Equal(t, "ListInstances", ae.Operation)
			assert.Contains(t, ae.Message, "upstream says no")
		})
	}
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient("test-key", WithBaseURL(server.URL), WithMinInterval(0))

	_, err := client.ListInstances(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(newAPIError("op", http.StatusTooManyRequests, "slow down", ErrRateLimited)))
	assert.True(t, IsRetryable(newAPIError("op", http.StatusServiceUnavailable, "down", ErrRemoteService)))
	assert.True(t, IsRetryable(newAPIError("op", 0, "dial tcp: refused", ErrTransport)))
	assert.False(t, IsRetryable(newAPIError("op", http.StatusNotFound, "gone", ErrNotFound)))
	assert.False(t, IsRetryable(newAPIError("op", http.StatusUnauthorized, "bad key", ErrAuthentication)))
}
