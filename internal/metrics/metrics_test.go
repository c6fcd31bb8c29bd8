package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest(ctx, http.MethodGet, "/api/posts", http.StatusOK, time.Millisecond)
		m.RecordCycle(ctx, "Whitebox_Ke", "ok")
		m.RecordStored(ctx, "Whitebox_Ke", 1, 2, 3)
		m.RecordCacheHit(ctx, "k")
		m.RecordCacheMiss(ctx, "k")
	})
}

func TestSetup_ExposesInstruments(t *testing.T) {
	m, handler, err := Setup("posts-test")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCycle(ctx, "Whitebox_Ke", "ok")
	m.RecordStored(ctx, "Whitebox_Ke", 2, 1, 0)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "posts_fetch_cycles_total")
	assert.Contains(t, w.Body.String(), "posts_stored_total")
}

func TestSetup_Repeatable(t *testing.T) {
	_, first, err := Setup("posts-a")
	require.NoError(t, err)
	_, second, err := Setup("posts-b")
	require.NoError(t, err)

	for _, h := range []http.Handler{first, second} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	}
}
