package mockvast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestRequiresAPIKey(t *testing.T) {
	s := NewServer("")

	w, body := doJSON(t, s, http.MethodGet, "/bundles/", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = doJSON(t, s, http.MethodGet, "/bundles/?api_key=anything", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRejectsWrongAPIKey(t *testing.T) {
	s := NewServer("secret")

	w, _ := doJSON(t, s, http.MethodGet, "/bundles/?api_key=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, s, http.MethodGet, "/bundles/?api_key=secret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchFiltersAndSorts(t *testing.T) {
	s := NewServer("")

	q := map[string]any{
		"num_gpus":  map[string]any{"gte": 1.0},
		"dph_total": map[string]any{"lte": 2.0},
		"order":     []any{[]any{"dph_total", "desc"}},
	}
	raw, err := json.Marshal(q)
	require.NoError(t, err)

	path := "/bundles/?api_key=k&q=" + url.QueryEscape(string(raw))
	w, body := doJSON(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	offers := body["offers"].([]any)
	// Offers 101, 102 and 103 cost at most $2/h; 104 does not.
	require.Len(t, offers, 3)

	var prev = 1000.0
	for _, o := range offers {
		price := o.(map[string]any)["dph_total"].(float64)
		assert.LessOrEqual(t, price, prev)
		prev = price
	}
}

func TestSearchFiltersByGPUName(t *testing.T) {
	s := NewServer("")

	q := map[string]any{"gpu_name": map[string]any{"eq": "RTX 4090"}}
	raw, _ := json.Marshal(q)

	path := "/bundles/?api_key=k&q=" + url.QueryEscape(string(raw))
	w, body := doJSON(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	offers := body["offers"].([]any)
	require.Len(t, offers, 1)
	assert.Equal(t, float64(102), offers[0].(map[string]any)["id"])
}

func TestCreateShowDestroyFlow(t *testing.T) {
	s := NewServer("")

	w, body := doJSON(t, s, http.MethodPut, "/asks/101/?api_key=k", map[string]any{
		"client_id": "me",
		"image":     "pytorch/pytorch",
		"label":     "trainer",
		"runtype":   "ssh",
		"disk":      20,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["success"])
	id := int(body["new_contract"].(float64))
	assert.GreaterOrEqual(t, id, 10000)

	w, body = doJSON(t, s, http.MethodGet, fmt.Sprintf("/instances/%d/?api_key=k", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trainer", body["label"])
	assert.Equal(t, "pytorch/pytorch", body["image_uuid"])

	// The rented offer disappears from search results.
	w, body = doJSON(t, s, http.MethodGet, "/bundles/?api_key=k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, o := range body["offers"].([]any) {
		assert.NotEqual(t, float64(101), o.(map[string]any)["id"])
	}

	w, body = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/instances/%d/?api_key=k", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	// A second destroy is a 404.
	w, _ = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/instances/%d/?api_key=k", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateUnknownOfferIs404(t *testing.T) {
	s := NewServer("")

	w, _ := doJSON(t, s, http.MethodPut, "/asks/99999/?api_key=k", map[string]any{
		"client_id": "me",
		"image":     "alpine",
		"runtype":   "ssh",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateInstanceStateAndLabel(t *testing.T) {
	s := NewServer("")
	inst, err := s.State().CreateInstance(102, "alpine", "", false)
	require.NoError(t, err)

	w, body := doJSON(t, s, http.MethodPut, fmt.Sprintf("/instances/%d/?api_key=k", inst.ID),
		map[string]string{"state": "stopped"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	got, ok := s.State().Instance(inst.ID)
	require.True(t, ok)
	assert.Equal(t, "stopped", got.ActualStatus)

	w, body = doJSON(t, s, http.MethodPut, fmt.Sprintf("/instances/%d/?api_key=k", inst.ID),
		map[string]string{"label": "renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	got, _ = s.State().Instance(inst.ID)
	assert.Equal(t, "renamed", got.Label)
}

func TestFailNextInjection(t *testing.T) {
	s := NewServer("")

	w, _ := doJSON(t, s, http.MethodPost, "/_test/fail-next",
		map[string]any{"op": "search", "status": 429, "body": "rate limited"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, s, http.MethodGet, "/bundles/?api_key=k", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// One shot only.
	w, _ = doJSON(t, s, http.MethodGet, "/bundles/?api_key=k", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStateReturnsSnapshots(t *testing.T) {
	s := NewServer("")
	inst, err := s.State().CreateInstance(101, "alpine", "before", false)
	require.NoError(t, err)

	snapshot, ok := s.State().Instance(inst.ID)
	require.True(t, ok)

	require.True(t, s.State().SetInstanceState(inst.ID, "stopped"))
	require.True(t, s.State().SetInstanceLabel(inst.ID, "after"))

	// Earlier snapshots are decoupled from later mutations.
	assert.Equal(t, "loading", snapshot.ActualStatus)
	assert.Equal(t, "before", snapshot.Label)

	fresh, ok := s.State().Instance(inst.ID)
	require.True(t, ok)
	assert.Equal(t, "stopped", fresh.ActualStatus)
	assert.Equal(t, "after", fresh.Label)
}

func TestShowInstanceDuringProvisioning(t *testing.T) {
	s := NewServer("")

	w, body := doJSON(t, s, http.MethodPut, "/asks/103/?api_key=k", map[string]any{
		"client_id": "me",
		"image":     "alpine",
		"runtype":   "ssh",
	})
	require.Equal(t, http.StatusOK, w.Code)
	id := int(body["new_contract"].(float64))

	// Hammer the read endpoints while the background loading -> running
	// transition happens; every response must be a coherent snapshot.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(300 * time.Millisecond)
			for time.Now().Before(deadline) {
				req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/instances/%d/?api_key=k", id), nil)
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusOK, rec.Code)

				req = httptest.NewRequest(http.MethodGet, "/instances/?api_key=k", nil)
				rec = httptest.NewRecorder()
				s.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusOK, rec.Code)
			}
		}()
	}
	wg.Wait()

	got, ok := s.State().Instance(id)
	require.True(t, ok)
	assert.Equal(t, "running", got.ActualStatus)
}

func TestReset(t *testing.T) {
	s := NewServer("")
	_, err := s.State().CreateInstance(101, "alpine", "", false)
	require.NoError(t, err)

	w, _ := doJSON(t, s, http.MethodPost, "/_test/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, s.State().Instances())
	assert.Len(t, s.State().Offers(), 4)
}
