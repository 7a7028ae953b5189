package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exrcache/exrcache/pkg/types"
)

type fakePool struct {
	mu          sync.Mutex
	entries     []types.EntryInfo
	capacity    int
	purges      int
	invalidated []string
}

func (p *fakePool) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.PoolStats{Entries: len(p.entries), Capacity: p.capacity, Hits: 4, Misses: 1, HitRate: 0.8}
}

func (p *fakePool) Entries() []types.EntryInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.EntryInfo(nil), p.entries...)
}

func (p *fakePool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purges++
	p.entries = nil
}

func (p *fakePool) Invalidate(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = append(p.invalidated, path)
	n := 0
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.Path == path {
			n++
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
	return n
}

func (p *fakePool) ConfigurePool(maxCaches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capacity = maxCaches
}

func newTestServer(metrics http.Handler) (*Server, *fakePool) {
	pool := &fakePool{
		capacity: 3,
		entries: []types.EntryInfo{
			{Path: "/shots/a.exr", Width: 4, Height: 2, Channels: []string{"B", "G", "R"}, Bytes: 96},
			{Path: "/shots/b.exr", Width: 8, Height: 8, Channels: []string{"Z"}, Bytes: 256},
		},
	}
	return NewServer(DefaultServerConfig(), pool, metrics, nil), pool
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w, body
}

func TestHandleLiveness(t *testing.T) {
	s, _ := newTestServer(nil)

	w, body := do(t, s, http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["alive"])
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandleStats(t *testing.T) {
	s, _ := newTestServer(nil)

	w, body := do(t, s, http.MethodGet, "/pool/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["entries"])
	assert.Equal(t, float64(3), body["capacity"])
	assert.Equal(t, 0.8, body["hit_rate"])

	w, _ = do(t, s, http.MethodPost, "/pool/stats")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleEntries(t *testing.T) {
	s, _ := newTestServer(nil)

	w, body := do(t, s, http.MethodGet, "/pool/entries")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	entries := body["entries"].([]interface{})
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "/shots/a.exr", first["path"])
	assert.Equal(t, []interface{}{"B", "G", "R"}, first["channels"])
}

func TestHandlePurge(t *testing.T) {
	s, pool := newTestServer(nil)

	w, _ := do(t, s, http.MethodGet, "/pool/purge")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 0, pool.purges)

	w, body := do(t, s, http.MethodPost, "/pool/purge")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["purged"])
	assert.Equal(t, 1, pool.purges)
	assert.Empty(t, pool.Entries())
}

func TestHandleInvalidate(t *testing.T) {
	s, pool := newTestServer(nil)

	w, body := do(t, s, http.MethodPost, "/pool/invalidate")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "path required", body["error"])

	w, body = do(t, s, http.MethodPost, "/pool/invalidate?path=/shots/b.exr")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["invalidated"])
	assert.Equal(t, []string{"/shots/b.exr"}, pool.invalidated)
	assert.Len(t, pool.Entries(), 1)

	_, body = do(t, s, http.MethodPost, "/pool/invalidate?path=/shots/b.exr")
	assert.Equal(t, float64(0), body["invalidated"])
}

func TestHandleCapacity(t *testing.T) {
	s, pool := newTestServer(nil)

	_, body := do(t, s, http.MethodGet, "/pool/capacity")
	assert.Equal(t, float64(3), body["max_caches"])

	w, _ := do(t, s, http.MethodPut, "/pool/capacity?max_caches=0")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, pool.Stats().Capacity)

	for _, bad := range []string{"", "-1", "lots"} {
		w, _ = do(t, s, http.MethodPut, "/pool/capacity?max_caches="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, "max_caches=%q", bad)
	}

	w, _ = do(t, s, http.MethodDelete, "/pool/capacity")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleInfo(t *testing.T) {
	s, _ := newTestServer(nil)
	_, body := do(t, s, http.MethodGet, "/info")
	assert.Equal(t, "exrcache", body["service"])
	assert.NotContains(t, body["endpoints"], "/metrics")

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"served": r.URL.Path})
	})
	s, _ = newTestServer(metrics)
	_, body = do(t, s, http.MethodGet, "/info")
	assert.Contains(t, body["endpoints"], "/metrics")

	_, body = do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, "/metrics", body["served"])
	_, body = do(t, s, http.MethodGet, "/debug/operations")
	assert.Equal(t, "/debug/operations", body["served"])
}

func TestCORS(t *testing.T) {
	config := DefaultServerConfig()
	config.EnableCORS = true
	s := NewServer(config, &fakePool{}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/pool/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-done)
}
