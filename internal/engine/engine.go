// Package engine orchestrates the scoring pipeline: feature aggregation,
// historical rate lookup, real-time uplift, RT-SI composition, MCDM
// ranking, and the alpha blend.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/blend"
	"github.com/meridian-mobility/safetyindex/internal/cache"
	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/events"
	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/mcdm"
	"github.com/meridian-mobility/safetyindex/internal/plugins"
	"github.com/meridian-mobility/safetyindex/internal/rtsi"
	"github.com/meridian-mobility/safetyindex/internal/store"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

// FormulaVersion tags every persisted record with the scoring formula
// generation, so historical rows stay interpretable after changes.
const FormulaVersion = 2

// Snapshot is the immutable calibration state the scorer reads. It is
// swapped whole through an atomic pointer and never mutated in place, so
// a request sees one consistent calibration from start to finish.
type Snapshot struct {
	Estimates  map[ebayes.StratumKey]ebayes.Estimate
	PooledRate float64
	Constants  store.NormalizationConstants
}

// Params are the formula coefficients, fixed at startup from config.
type Params struct {
	DefaultAlpha  float64
	BinWidth      time.Duration
	Lookback      time.Duration
	Uplift        uplift.Coefficients
	RTSI          rtsi.Params
	Tau           float64
	BootstrapRate float64
}

// ScoreRequest asks for safety-index records over one intersection and
// time range. Alpha overrides the configured default when non-nil.
type ScoreRequest struct {
	IntersectionID string
	Start, End     time.Time
	Alpha          *float64
}

type Engine struct {
	store    store.Store
	registry *plugins.Registry
	cache    *cache.Cache
	bus      events.Client
	params   Params
	ranker   *mcdm.Engine
	logger   *slog.Logger

	snapshot atomic.Pointer[Snapshot]
}

func New(s store.Store, registry *plugins.Registry, c *cache.Cache, bus events.Client, params Params, logger *slog.Logger) *Engine {
	if params.BinWidth <= 0 {
		params.BinWidth = time.Hour
	}
	if params.Lookback <= 0 {
		params.Lookback = 24 * time.Hour
	}
	e := &Engine{
		store:    s,
		registry: registry,
		cache:    c,
		bus:      bus,
		params:   params,
		ranker:   mcdm.NewEngine(params.Tau),
		logger:   logger,
	}
	// Bootstrap snapshot so scoring works before the first calibration
	// pass: no per-intersection estimates, configured pooled rate,
	// provisional normalization window.
	e.snapshot.Store(&Snapshot{
		Estimates:  map[ebayes.StratumKey]ebayes.Estimate{},
		PooledRate: params.BootstrapRate,
		Constants: store.NormalizationConstants{
			K:       10,
			MinRisk: 0,
			MaxRisk: 5,
		},
	})
	return e
}

// Snapshot returns the current calibration snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// SwapSnapshot installs a new calibration snapshot atomically.
func (e *Engine) SwapSnapshot(s *Snapshot) {
	if s == nil {
		return
	}
	e.snapshot.Store(s)
	snapshotSwaps.Inc()
	e.logger.Info("calibration snapshot swapped",
		"k", s.Constants.K,
		"min_risk", s.Constants.MinRisk,
		"max_risk", s.Constants.MaxRisk)
}

// ScoreRange computes, persists, and returns one record per time bin in
// [req.Start, req.End) for the requested intersection.
func (e *Engine) ScoreRange(ctx context.Context, req ScoreRequest) ([]*store.SafetyIndexRecord, error) {
	started := time.Now()
	recs, err := e.scoreRange(ctx, req)
	scoreDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		scoreFailures.Inc()
		return nil, err
	}
	scoresComputed.Add(float64(len(recs)))
	return recs, nil
}

func (e *Engine) scoreRange(ctx context.Context, req ScoreRequest) ([]*store.SafetyIndexRecord, error) {
	alpha := e.params.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha %f outside [0,1]", alpha)
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("end %v not after start %v", req.End, req.Start)
	}

	snap := e.snapshot.Load()
	if snap == nil {
		return nil, ErrNotCalibrated
	}
	scale := rtsi.Scale{MinRisk: snap.Constants.MinRisk, MaxRisk: snap.Constants.MaxRisk}

	window, err := e.featureWindow(ctx, req)
	if err != nil {
		return nil, err
	}

	var target []features.TimeBinFeatures
	for _, bin := range window {
		if !bin.BinStart.Before(req.Start) && bin.BinStart.Before(req.End) {
			target = append(target, bin)
		}
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("intersection %s in [%v, %v): %w",
			req.IntersectionID, req.Start, req.End, features.ErrNoData)
	}

	// Plugin collection is the expensive RT-SI-side work; it must not
	// run at all when every bin takes the alpha=0 fast path.
	var (
		collectOnce  sync.Once
		externalRisk map[int64]float64
	)
	external := func() map[int64]float64 {
		collectOnce.Do(func() {
			externalRisk = e.collectExternalRisk(ctx, req.Start, req.End)
		})
		return externalRisk
	}

	var out []*store.SafetyIndexRecord
	for _, bin := range target {
		bin := bin
		rec := &store.SafetyIndexRecord{
			IntersectionID: bin.IntersectionID,
			BinStart:       bin.BinStart,
			Alpha:          alpha,
			FormulaVersion: FormulaVersion,
		}

		rtsiProvider := func() (float64, error) {
			rate := snap.PooledRate
			if est, ok := ebayes.Lookup(snap.Estimates, bin.IntersectionID, bin.HourOfDay, bin.DayOfWeek); ok {
				rate = est.ShrunkRate
			}
			factors := uplift.Compute(bin, e.params.Uplift)
			res := rtsi.Compose(bin, rate, factors, e.params.RTSI, scale)

			risk := res.CombinedRisk
			if ext, ok := external()[bin.BinStart.Unix()]; ok {
				risk *= 1 + ext
			}
			score := rtsi.Rescale(risk, scale)

			rec.ShrunkRate = &rate
			rec.CombinedRisk = &risk
			rec.VRUIndex = &res.VRUIndex
			rec.VehicleIndex = &res.VehicleIndex
			return score, nil
		}

		mcdmProvider := func() (float64, error) {
			bs, err := e.ranker.ScoreBin(window, bin.BinStart)
			if err != nil {
				return 0, err
			}
			rec.SAWScore = &bs.SAW
			rec.EDASScore = &bs.EDAS
			rec.CODASScore = &bs.CODAS
			return bs.Combined, nil
		}

		res, err := blend.Blend(alpha, rtsiProvider, mcdmProvider)
		if err != nil {
			return nil, fmt.Errorf("blend %s %v: %w", bin.IntersectionID, bin.BinStart, err)
		}
		rec.FinalScore = res.Final
		rec.RTSI = res.RTSI
		rec.MCDM = res.MCDM

		if err := e.store.SaveIndexRecord(ctx, rec); err != nil {
			e.logger.Warn("persist index record failed",
				"intersection", rec.IntersectionID, "bin", rec.BinStart, "error", err)
		}
		e.cache.PublishRecord(ctx, rec)
		e.publishComputed(rec)

		out = append(out, rec)
	}
	return out, nil
}

// featureWindow aggregates raw telemetry over the request range plus the
// MCDM lookback, filtered to the requested intersection.
func (e *Engine) featureWindow(ctx context.Context, req ScoreRequest) ([]features.TimeBinFeatures, error) {
	from := req.Start.Add(-e.params.Lookback)

	freeFlow, err := e.store.FreeFlowSpeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("free-flow speeds: %w", err)
	}
	samples, err := e.store.TelemetrySamples(ctx, from, req.End)
	if err != nil {
		return nil, fmt.Errorf("telemetry samples: %w", err)
	}
	incidents, err := e.store.IncidentEvents(ctx, from, req.End)
	if err != nil {
		return nil, fmt.Errorf("incident events: %w", err)
	}

	var filteredSamples []features.TelemetrySample
	for _, sm := range samples {
		if sm.IntersectionID == req.IntersectionID {
			filteredSamples = append(filteredSamples, sm)
		}
	}
	var filteredIncidents []features.IncidentEvent
	for _, ev := range incidents {
		if ev.IntersectionID == req.IntersectionID {
			filteredIncidents = append(filteredIncidents, ev)
		}
	}

	agg := &features.Aggregator{FreeFlowSpeedKPH: freeFlow}
	return agg.Aggregate(filteredSamples, filteredIncidents, e.params.BinWidth)
}

// collectExternalRisk runs one plugin collection cycle and returns the
// weighted external risk keyed by bin-start Unix seconds. Plugin
// failures degrade the contribution, never the request.
func (e *Engine) collectExternalRisk(ctx context.Context, start, end time.Time) map[int64]float64 {
	if e.registry == nil {
		return nil
	}
	res, err := e.registry.CollectAll(ctx, start, end)
	if err != nil {
		e.logger.Warn("plugin collection aborted", "error", err)
		return nil
	}
	for _, perr := range res.Failures {
		pluginFailures.WithLabelValues(perr.Plugin).Inc()
		if e.bus != nil {
			_ = e.bus.Publish(events.SubjectPluginFailed(perr.Plugin), events.PluginFailedEvent{
				Plugin:     perr.Plugin,
				Error:      perr.Err.Error(),
				OccurredAt: time.Now().UTC(),
			})
		}
	}
	return res.CombinedRisk()
}

func (e *Engine) publishComputed(rec *store.SafetyIndexRecord) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(events.SubjectIndexComputed(rec.IntersectionID), events.IndexComputedEvent{
		IntersectionID: rec.IntersectionID,
		BinStart:       rec.BinStart,
		Alpha:          rec.Alpha,
		FinalScore:     rec.FinalScore,
		FormulaVersion: rec.FormulaVersion,
		ComputedAt:     rec.ComputedAt,
	})
	if err != nil {
		e.logger.Warn("publish index event failed", "intersection", rec.IntersectionID, "error", err)
	}
}
