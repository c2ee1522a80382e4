package main

import (
	"context"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/store"
)

// storeSource adapts the store to the telemetry and incident plugins'
// narrow source interfaces.
type storeSource struct {
	store    store.Store
	binWidth time.Duration
}

func (s *storeSource) TelemetryBins(ctx context.Context, start, end time.Time) ([]features.TimeBinFeatures, error) {
	freeFlow, err := s.store.FreeFlowSpeeds(ctx)
	if err != nil {
		return nil, err
	}
	samples, err := s.store.TelemetrySamples(ctx, start, end)
	if err != nil {
		return nil, err
	}
	incidents, err := s.store.IncidentEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	agg := &features.Aggregator{FreeFlowSpeedKPH: freeFlow}
	return agg.Aggregate(samples, incidents, s.binWidth)
}

func (s *storeSource) IncidentEvents(ctx context.Context, start, end time.Time) ([]features.IncidentEvent, error) {
	return s.store.IncidentEvents(ctx, start, end)
}

func (s *storeSource) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
