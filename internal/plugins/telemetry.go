package plugins

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

// TelemetrySource is the narrow slice of the store the telemetry plugin
// needs.
type TelemetrySource interface {
	TelemetryBins(ctx context.Context, start, end time.Time) ([]features.TimeBinFeatures, error)
	Ping(ctx context.Context) error
}

// TelemetryPlugin derives normalized congestion, speed-variance, and
// VRU-exposure features from aggregated roadway telemetry. Each uplift
// factor is already clamped to [0,1] by the uplift model, so the frame
// cells need no further scaling.
type TelemetryPlugin struct {
	source TelemetrySource
	coeffs uplift.Coefficients
	weight float64
}

// NewTelemetryPlugin wires the plugin to its telemetry source.
func NewTelemetryPlugin(source TelemetrySource, coeffs uplift.Coefficients, weight float64) *TelemetryPlugin {
	return &TelemetryPlugin{source: source, coeffs: coeffs, weight: weight}
}

func (p *TelemetryPlugin) Features() []string {
	return []string{"congestion", "speed_variance", "vru_exposure"}
}

func (p *TelemetryPlugin) Weight() float64 { return p.weight }

func (p *TelemetryPlugin) Collect(ctx context.Context, start, end time.Time) (*Frame, error) {
	bins, err := p.source.TelemetryBins(ctx, start, end)
	if errors.Is(err, features.ErrNoData) {
		// A quiet window is an empty contribution, not a failure.
		return NewFrame(p.Features()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query telemetry bins: %w", err)
	}

	frame := NewFrame(p.Features())
	for _, bin := range bins {
		f := uplift.Compute(bin, p.coeffs)
		frame.Set(bin.BinStart, "congestion", f.Congestion)
		frame.Set(bin.BinStart, "speed_variance", f.Variance)
		frame.Set(bin.BinStart, "vru_exposure", f.Conflict)
	}
	return frame, nil
}

func (p *TelemetryPlugin) HealthCheck(ctx context.Context) Health {
	if err := p.source.Ping(ctx); err != nil {
		return Health{Up: false, Message: err.Error()}
	}
	return Health{Up: true}
}
