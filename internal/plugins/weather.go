package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// weatherObservation is one record from the weather provider's
// observations endpoint.
type weatherObservation struct {
	ObservedAt      time.Time `json:"observed_at"`
	PrecipitationMM float64   `json:"precipitation_mm"`
	VisibilityM     float64   `json:"visibility_m"`
	RoadSurface     string    `json:"road_surface"` // dry, wet, snow, ice
}

// WeatherPlugin pulls roadway weather observations over HTTP and maps
// them onto normalized risk features. Precipitation saturates at 10mm/h,
// visibility risk rises as sight distance falls below 1km, and surface
// condition is a fixed lookup.
type WeatherPlugin struct {
	baseURL    string
	apiKey     string
	weight     float64
	httpClient *http.Client
}

// NewWeatherPlugin creates a plugin against the given weather API.
func NewWeatherPlugin(baseURL, apiKey string, weight float64) *WeatherPlugin {
	return &WeatherPlugin{
		baseURL:    baseURL,
		apiKey:     apiKey,
		weight:     weight,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WeatherPlugin) Features() []string {
	return []string{"precipitation", "low_visibility", "surface_risk"}
}

func (p *WeatherPlugin) Weight() float64 { return p.weight }

func (p *WeatherPlugin) doReq(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("weather GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *WeatherPlugin) Collect(ctx context.Context, start, end time.Time) (*Frame, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	data, err := p.doReq(ctx, "/v1/observations?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var obs []weatherObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}

	frame := NewFrame(p.Features())
	for _, o := range obs {
		ts := o.ObservedAt.UTC().Truncate(time.Hour)
		frame.Set(ts, "precipitation", clamp01(o.PrecipitationMM/10))
		frame.Set(ts, "low_visibility", visibilityRisk(o.VisibilityM))
		frame.Set(ts, "surface_risk", surfaceRisk(o.RoadSurface))
	}
	return frame, nil
}

func (p *WeatherPlugin) HealthCheck(ctx context.Context) Health {
	if _, err := p.doReq(ctx, "/v1/health"); err != nil {
		return Health{Up: false, Message: err.Error()}
	}
	return Health{Up: true}
}

func visibilityRisk(meters float64) float64 {
	if meters <= 0 {
		return 1
	}
	return clamp01(1 - meters/1000)
}

func surfaceRisk(surface string) float64 {
	switch surface {
	case "wet":
		return 0.4
	case "snow":
		return 0.7
	case "ice":
		return 1.0
	default:
		return 0
	}
}
