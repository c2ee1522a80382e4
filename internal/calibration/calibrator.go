// Package calibration recomputes the engine's calibration snapshot on a
// schedule: EB estimates from crash history, the cross-validated
// shrinkage constant, and the normalization window derived from the
// historical combined-risk distribution.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/engine"
	"github.com/meridian-mobility/safetyindex/internal/events"
	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/rtsi"
	"github.com/meridian-mobility/safetyindex/internal/store"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

// Options fix the calibration pass's inputs.
type Options struct {
	Interval      time.Duration // recalibration period
	HistoryWindow time.Duration // how far back crash history reaches
	RiskWindow    time.Duration // recent telemetry used for the risk distribution
	Severity      ebayes.SeverityWeights
	Stratify      bool
	FallbackK     float64 // used when cross-validation lacks years
	BootstrapRate float64
	Params        engine.Params
}

type Calibrator struct {
	store  store.Store
	engine *engine.Engine
	bus    events.Client
	opts   Options
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, e *engine.Engine, bus events.Client, opts Options, logger *slog.Logger) *Calibrator {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 3 * 365 * 24 * time.Hour
	}
	if opts.RiskWindow <= 0 {
		opts.RiskWindow = 7 * 24 * time.Hour
	}
	if opts.FallbackK <= 0 {
		opts.FallbackK = 10
	}
	return &Calibrator{
		store:  s,
		engine: e,
		bus:    bus,
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (c *Calibrator) Start(ctx context.Context) {
	if c.bus != nil {
		// A peer replica's calibration pass is as good as our own:
		// reload its persisted constants instead of waiting for the
		// local ticker.
		err := c.bus.Subscribe(events.SubjectCalibrationCompleted, func(string, []byte) {
			c.restore(ctx)
		})
		if err != nil {
			c.logger.Warn("subscribe to calibration events failed", "error", err)
		}
	}
	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *Calibrator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Calibrator) loop(ctx context.Context) {
	defer c.wg.Done()

	c.restore(ctx)
	if err := c.RunOnce(ctx); err != nil {
		c.logger.Error("initial calibration failed", "error", err)
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.Error("calibration pass failed", "error", err)
			}
		}
	}
}

// restore installs the last persisted normalization constants, either at
// startup before the first pass or when a peer replica announces a
// completed calibration, so the engine never serves from a staler window
// than the store holds.
func (c *Calibrator) restore(ctx context.Context) {
	nc, err := c.store.CurrentNormalizationConstants(ctx)
	if err != nil {
		c.logger.Warn("load persisted calibration failed", "error", err)
		return
	}
	if nc == nil {
		return
	}
	prev := c.engine.Snapshot()
	if nc.ValidFrom.Equal(prev.Constants.ValidFrom) {
		// Already installed; our own completion event echoes back here.
		return
	}
	c.engine.SwapSnapshot(&engine.Snapshot{
		Estimates:  prev.Estimates,
		PooledRate: prev.PooledRate,
		Constants:  *nc,
	})
	c.logger.Info("restored persisted calibration", "k", nc.K, "valid_from", nc.ValidFrom)
}

// RunOnce executes one full calibration pass and swaps the engine
// snapshot on success. It is also the admin API's manual trigger.
func (c *Calibrator) RunOnce(ctx context.Context) error {
	started := time.Now()
	since := started.Add(-c.opts.HistoryWindow)

	k, heldOutYear, err := c.selectK(ctx)
	if err != nil {
		return err
	}

	records, err := c.store.CrashRecords(ctx, since)
	if err != nil {
		return fmt.Errorf("crash records: %w", err)
	}
	exposure, err := c.store.ExposureByIntersection(ctx, since)
	if err != nil {
		return fmt.Errorf("exposure: %w", err)
	}

	estimator := ebayes.Estimator{
		K:                   k,
		Weights:             c.opts.Severity,
		BootstrapPooledRate: c.opts.BootstrapRate,
		Stratify:            c.opts.Stratify,
	}
	estimates := estimator.Estimate(records, exposure)

	pooled := c.opts.BootstrapRate
	for _, est := range estimates {
		pooled = est.PooledRate
		break
	}

	minRisk, maxRisk, err := c.riskWindow(ctx, started, estimates, pooled)
	if err != nil {
		return err
	}

	nc := &store.NormalizationConstants{
		K:           k,
		MinRisk:     minRisk,
		MaxRisk:     maxRisk,
		HeldOutYear: heldOutYear,
		ValidFrom:   started.UTC(),
	}
	if err := c.store.SaveNormalizationConstants(ctx, nc); err != nil {
		return fmt.Errorf("save normalization constants: %w", err)
	}

	c.engine.SwapSnapshot(&engine.Snapshot{
		Estimates:  estimates,
		PooledRate: pooled,
		Constants:  *nc,
	})

	if c.bus != nil {
		_ = c.bus.Publish(events.SubjectCalibrationCompleted, events.CalibrationCompletedEvent{
			K:           k,
			MinRisk:     minRisk,
			MaxRisk:     maxRisk,
			HeldOutYear: heldOutYear,
			ValidFrom:   nc.ValidFrom,
			DurationMs:  float64(time.Since(started).Milliseconds()),
		})
	}
	c.logger.Info("calibration completed",
		"k", k, "min_risk", minRisk, "max_risk", maxRisk,
		"estimates", len(estimates), "duration", time.Since(started))
	return nil
}

// selectK cross-validates the shrinkage constant against a held-out
// year, falling back to the configured default when the panel is too
// shallow.
func (c *Calibrator) selectK(ctx context.Context) (float64, int, error) {
	obs, err := c.store.YearObservations(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("year observations: %w", err)
	}
	result, err := ebayes.CalibrateK(obs, ebayes.DefaultKGrid())
	if errors.Is(err, ebayes.ErrInsufficientYears) {
		c.logger.Warn("not enough crash years for cross-validation, using fallback k",
			"fallback", c.opts.FallbackK)
		return c.opts.FallbackK, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return result.BestK, result.HeldOutYear, nil
}

// riskWindow rebuilds the combined-risk distribution over recent
// telemetry with the fresh estimates and takes its 5th/95th percentiles
// as the rescale bounds. With too few bins the previous bounds are kept.
func (c *Calibrator) riskWindow(ctx context.Context, now time.Time, estimates map[ebayes.StratumKey]ebayes.Estimate, pooled float64) (float64, float64, error) {
	from := now.Add(-c.opts.RiskWindow)

	freeFlow, err := c.store.FreeFlowSpeeds(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("free-flow speeds: %w", err)
	}
	samples, err := c.store.TelemetrySamples(ctx, from, now)
	if err != nil {
		return 0, 0, fmt.Errorf("telemetry samples: %w", err)
	}
	incidents, err := c.store.IncidentEvents(ctx, from, now)
	if err != nil {
		return 0, 0, fmt.Errorf("incident events: %w", err)
	}

	agg := &features.Aggregator{FreeFlowSpeedKPH: freeFlow}
	bins, err := agg.Aggregate(samples, incidents, c.opts.Params.BinWidth)
	if errors.Is(err, features.ErrNoData) {
		bins = nil
	} else if err != nil {
		return 0, 0, err
	}

	var risks []float64
	scale := rtsi.Scale{MinRisk: 0, MaxRisk: 1} // rescale unused here
	for _, bin := range bins {
		rate := pooled
		if est, ok := ebayes.Lookup(estimates, bin.IntersectionID, bin.HourOfDay, bin.DayOfWeek); ok {
			rate = est.ShrunkRate
		}
		factors := uplift.Compute(bin, c.opts.Params.Uplift)
		res := rtsi.Compose(bin, rate, factors, c.opts.Params.RTSI, scale)
		risks = append(risks, res.CombinedRisk)
	}

	if len(risks) < 2 {
		prev := c.engine.Snapshot().Constants
		c.logger.Warn("too few bins for risk distribution, keeping previous bounds",
			"bins", len(risks))
		return prev.MinRisk, prev.MaxRisk, nil
	}

	sort.Float64s(risks)
	minRisk := stat.Quantile(0.05, stat.Empirical, risks, nil)
	maxRisk := stat.Quantile(0.95, stat.Empirical, risks, nil)
	if maxRisk <= minRisk {
		maxRisk = minRisk + 1e-6
	}
	return minRisk, maxRisk, nil
}
