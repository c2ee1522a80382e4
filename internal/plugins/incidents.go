package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/features"
)

// IncidentSource is the narrow slice of the store the incident plugin
// needs.
type IncidentSource interface {
	IncidentEvents(ctx context.Context, start, end time.Time) ([]features.IncidentEvent, error)
	Ping(ctx context.Context) error
}

// IncidentPlugin bins recent incidents into hourly counts and a
// severity-weighted index. SeverityScale is the weighted count that maps
// to a feature value of 1.0; heavier hours saturate.
type IncidentPlugin struct {
	source        IncidentSource
	weights       ebayes.SeverityWeights
	severityScale float64
	weight        float64
}

// NewIncidentPlugin wires the plugin to its incident feed.
func NewIncidentPlugin(source IncidentSource, weights ebayes.SeverityWeights, severityScale, weight float64) *IncidentPlugin {
	if severityScale <= 0 {
		severityScale = 100
	}
	return &IncidentPlugin{source: source, weights: weights, severityScale: severityScale, weight: weight}
}

func (p *IncidentPlugin) Features() []string {
	return []string{"incident_rate", "severity_index"}
}

func (p *IncidentPlugin) Weight() float64 { return p.weight }

func (p *IncidentPlugin) Collect(ctx context.Context, start, end time.Time) (*Frame, error) {
	events, err := p.source.IncidentEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}

	counts := make(map[int64]int)
	weighted := make(map[int64]float64)
	for _, ev := range events {
		key := ev.Timestamp.Truncate(time.Hour).Unix()
		counts[key]++
		weighted[key] += p.weights.Weight(ev.Severity)
	}

	frame := NewFrame(p.Features())
	for key, n := range counts {
		ts := time.Unix(key, 0).UTC()
		frame.Set(ts, "incident_rate", clamp01(float64(n)/10))
		frame.Set(ts, "severity_index", clamp01(weighted[key]/p.severityScale))
	}
	return frame, nil
}

func (p *IncidentPlugin) HealthCheck(ctx context.Context) Health {
	if err := p.source.Ping(ctx); err != nil {
		return Health{Up: false, Message: err.Error()}
	}
	return Health{Up: true}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
