package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeatherPluginCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/observations":
			assert.NotEmpty(t, r.URL.Query().Get("start"))
			w.Write([]byte(`[
				{"observed_at":"2026-03-10T08:12:00Z","precipitation_mm":5.0,"visibility_m":400,"road_surface":"wet"},
				{"observed_at":"2026-03-10T09:02:00Z","precipitation_mm":25.0,"visibility_m":2000,"road_surface":"ice"}
			]`))
		case "/v1/health":
			w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewWeatherPlugin(srv.URL, "sekrit", 0.2)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	frame, err := p.Collect(context.Background(), start, start.Add(2*time.Hour))
	require.NoError(t, err)

	h8 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	h9 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NotNil(t, frame.Get(h8, "precipitation"))
	assert.InDelta(t, 0.5, *frame.Get(h8, "precipitation"), 1e-9)
	assert.InDelta(t, 0.6, *frame.Get(h8, "low_visibility"), 1e-9)
	assert.InDelta(t, 0.4, *frame.Get(h8, "surface_risk"), 1e-9)

	// Heavy rain saturates; good visibility clamps to zero risk.
	assert.InDelta(t, 1.0, *frame.Get(h9, "precipitation"), 1e-9)
	assert.InDelta(t, 0.0, *frame.Get(h9, "low_visibility"), 1e-9)
	assert.InDelta(t, 1.0, *frame.Get(h9, "surface_risk"), 1e-9)

	assert.True(t, p.HealthCheck(context.Background()).Up)
}

func TestWeatherPluginUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewWeatherPlugin(srv.URL, "", 0.2)
	_, err := p.Collect(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	h := p.HealthCheck(context.Background())
	assert.False(t, h.Up)
	assert.NotEmpty(t, h.Message)
}
