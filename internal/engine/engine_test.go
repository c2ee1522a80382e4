package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/plugins"
	"github.com/meridian-mobility/safetyindex/internal/rtsi"
	"github.com/meridian-mobility/safetyindex/internal/store"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

type fakeStore struct {
	samples   []features.TelemetrySample
	incidents []features.IncidentEvent
	freeFlow  map[string]float64
	saved     []*store.SafetyIndexRecord
}

func (f *fakeStore) TelemetrySamples(_ context.Context, start, end time.Time) ([]features.TelemetrySample, error) {
	var out []features.TelemetrySample
	for _, sm := range f.samples {
		if !sm.Timestamp.Before(start) && sm.Timestamp.Before(end) {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (f *fakeStore) IncidentEvents(_ context.Context, start, end time.Time) ([]features.IncidentEvent, error) {
	var out []features.IncidentEvent
	for _, ev := range f.incidents {
		if !ev.Timestamp.Before(start) && ev.Timestamp.Before(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) FreeFlowSpeeds(context.Context) (map[string]float64, error) {
	return f.freeFlow, nil
}

func (f *fakeStore) CrashRecords(context.Context, time.Time) ([]ebayes.CrashRecord, error) {
	return nil, nil
}

func (f *fakeStore) ExposureByIntersection(context.Context, time.Time) (map[string]float64, error) {
	return nil, nil
}

func (f *fakeStore) YearObservations(context.Context) ([]ebayes.YearObservation, error) {
	return nil, nil
}

func (f *fakeStore) SaveIndexRecord(_ context.Context, rec *store.SafetyIndexRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) ListIndexRecords(context.Context, store.RecordFilter) ([]*store.SafetyIndexRecord, error) {
	return f.saved, nil
}

func (f *fakeStore) LatestIndexRecord(context.Context, string) (*store.SafetyIndexRecord, error) {
	return nil, nil
}

func (f *fakeStore) SaveNormalizationConstants(context.Context, *store.NormalizationConstants) error {
	return nil
}

func (f *fakeStore) CurrentNormalizationConstants(context.Context) (*store.NormalizationConstants, error) {
	return nil, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func testParams() Params {
	return Params{
		DefaultAlpha:  0.5,
		BinWidth:      time.Hour,
		Lookback:      6 * time.Hour,
		Uplift:        uplift.DefaultCoefficients(),
		RTSI:          rtsi.DefaultParams(),
		Tau:           0.02,
		BootstrapRate: 0.5,
	}
}

// seededStore builds three hourly bins of telemetry for one intersection
// with enough contrast for the MCDM ranking.
func seededStore() *fakeStore {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f := &fakeStore{freeFlow: map[string]float64{"int-7": 50}}

	counts := []int{10, 40, 80}
	speeds := []float64{48, 35, 18}
	for h, n := range counts {
		ts := base.Add(time.Duration(h) * time.Hour)
		for i := 0; i < n; i++ {
			sp := speeds[h]
			f.samples = append(f.samples, features.TelemetrySample{
				IntersectionID: "int-7",
				Timestamp:      ts.Add(time.Duration(i) * time.Second),
				Kind:           features.SampleVehicle,
				SpeedKPH:       &sp,
			})
		}
	}
	f.incidents = append(f.incidents, features.IncidentEvent{
		IntersectionID: "int-7",
		Timestamp:      base.Add(2*time.Hour + 10*time.Minute),
		Severity:       features.SeverityPDO,
	})
	return f
}

func newTestEngine(fs *fakeStore) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fs, nil, nil, nil, testParams(), logger)
}

// countingPlugin emits a fixed risk value at each requested bin start and
// counts its collection calls.
type countingPlugin struct {
	calls atomic.Int32
	value float64
	at    []time.Time
}

func (p *countingPlugin) Collect(_ context.Context, _, _ time.Time) (*plugins.Frame, error) {
	p.calls.Add(1)
	f := plugins.NewFrame(p.Features())
	for _, ts := range p.at {
		f.Set(ts, "risk", p.value)
	}
	return f, nil
}

func (p *countingPlugin) Features() []string                         { return []string{"risk"} }
func (p *countingPlugin) HealthCheck(context.Context) plugins.Health { return plugins.Health{Up: true} }
func (p *countingPlugin) Weight() float64                            { return 1 }

func newTestEngineWithPlugin(t *testing.T, fs *fakeStore, p plugins.Plugin) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := plugins.NewRegistry(logger)
	if err := reg.Register("external", plugins.Registration{Plugin: p, Enabled: true, Weight: 1}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return New(fs, reg, nil, nil, testParams(), logger)
}

func TestScoreRangeProducesRecordPerBin(t *testing.T) {
	fs := seededStore()
	e := newTestEngine(fs)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	recs, err := e.ScoreRange(context.Background(), ScoreRequest{
		IntersectionID: "int-7",
		Start:          start,
		End:            start.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ScoreRange failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.FinalScore < 0 || rec.FinalScore > 100 {
			t.Errorf("record %d: score %f outside [0,100]", i, rec.FinalScore)
		}
		if rec.RTSI == nil || rec.MCDM == nil {
			t.Errorf("record %d: mid-alpha request must carry both sub-scores", i)
		}
		if rec.VRUIndex == nil || rec.VehicleIndex == nil {
			t.Errorf("record %d: missing RT-SI exposure breakdown", i)
		}
		if rec.SAWScore == nil || rec.EDASScore == nil || rec.CODASScore == nil {
			t.Errorf("record %d: missing MCDM method breakdown", i)
		}
		if rec.FormulaVersion != FormulaVersion {
			t.Errorf("record %d: missing formula version", i)
		}
		if rec.Alpha != 0.5 {
			t.Errorf("record %d: expected default alpha, got %f", i, rec.Alpha)
		}
	}
	if len(fs.saved) != 3 {
		t.Errorf("expected 3 persisted records, got %d", len(fs.saved))
	}

	// The congested bin (80 vehicles at 18 km/h) must score more
	// dangerous than the free-flowing one.
	if recs[2].FinalScore >= recs[0].FinalScore {
		t.Errorf("congested bin %f should rank below free-flowing %f",
			recs[2].FinalScore, recs[0].FinalScore)
	}
}

func TestScoreRangeAlphaBoundaries(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	// Three bins so the MCDM lookback window has enough contrast.
	req := func(alpha float64) ScoreRequest {
		return ScoreRequest{
			IntersectionID: "int-7",
			Start:          start,
			End:            start.Add(3 * time.Hour),
			Alpha:          &alpha,
		}
	}

	t.Run("alpha zero skips rtsi", func(t *testing.T) {
		e := newTestEngine(seededStore())
		recs, err := e.ScoreRange(context.Background(), req(0))
		if err != nil {
			t.Fatalf("ScoreRange failed: %v", err)
		}
		if recs[0].RTSI != nil {
			t.Error("RT-SI sub-score must be nil at alpha=0")
		}
		if recs[0].MCDM == nil {
			t.Error("MCDM sub-score must be present at alpha=0")
		}
		if recs[0].ShrunkRate != nil {
			t.Error("skipped RT-SI path must not record a shrunk rate")
		}
		if recs[0].VRUIndex != nil || recs[0].VehicleIndex != nil {
			t.Error("skipped RT-SI path must not record exposure sub-indices")
		}
		if recs[0].SAWScore == nil {
			t.Error("MCDM method breakdown must be present at alpha=0")
		}
	})

	t.Run("alpha one skips mcdm", func(t *testing.T) {
		e := newTestEngine(seededStore())
		recs, err := e.ScoreRange(context.Background(), req(1))
		if err != nil {
			t.Fatalf("ScoreRange failed: %v", err)
		}
		if recs[0].MCDM != nil {
			t.Error("MCDM sub-score must be nil at alpha=1")
		}
		if recs[0].RTSI == nil {
			t.Error("RT-SI sub-score must be present at alpha=1")
		}
		if recs[0].SAWScore != nil || recs[0].EDASScore != nil || recs[0].CODASScore != nil {
			t.Error("skipped MCDM path must not record method scores")
		}
		if recs[0].VRUIndex == nil || recs[0].VehicleIndex == nil {
			t.Error("RT-SI exposure breakdown must be present at alpha=1")
		}
	})

	t.Run("alpha out of range", func(t *testing.T) {
		e := newTestEngine(seededStore())
		if _, err := e.ScoreRange(context.Background(), req(1.5)); err == nil {
			t.Fatal("expected error for alpha outside [0,1]")
		}
	})
}

func TestScoreRangeAlphaZeroSkipsPluginCollection(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	plugin := &countingPlugin{value: 0.5, at: []time.Time{start}}
	e := newTestEngineWithPlugin(t, seededStore(), plugin)

	req := func(alpha float64) ScoreRequest {
		return ScoreRequest{
			IntersectionID: "int-7",
			Start:          start,
			End:            start.Add(3 * time.Hour),
			Alpha:          &alpha,
		}
	}

	if _, err := e.ScoreRange(context.Background(), req(0)); err != nil {
		t.Fatalf("ScoreRange failed: %v", err)
	}
	if got := plugin.calls.Load(); got != 0 {
		t.Errorf("alpha=0 request must not run plugin collection, got %d calls", got)
	}

	// The RT-SI path collects exactly once per request, not per bin.
	if _, err := e.ScoreRange(context.Background(), req(1)); err != nil {
		t.Fatalf("ScoreRange failed: %v", err)
	}
	if got := plugin.calls.Load(); got != 1 {
		t.Errorf("expected one collection cycle for a 3-bin request, got %d", got)
	}
}

func TestScoreRangeAppliesExternalRisk(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	alpha := 1.0
	req := ScoreRequest{
		IntersectionID: "int-7",
		Start:          start,
		End:            start.Add(time.Hour),
		Alpha:          &alpha,
	}

	without := newTestEngine(seededStore())
	base, err := without.ScoreRange(context.Background(), req)
	if err != nil {
		t.Fatalf("ScoreRange failed: %v", err)
	}

	// The plugin reports its risk in a non-UTC zone for the same instant;
	// the lookup must still match the bin.
	zoned := start.In(time.FixedZone("EET", 2*3600))
	plugin := &countingPlugin{value: 0.9, at: []time.Time{zoned}}
	with := newTestEngineWithPlugin(t, seededStore(), plugin)
	risky, err := with.ScoreRange(context.Background(), req)
	if err != nil {
		t.Fatalf("ScoreRange failed: %v", err)
	}

	if *risky[0].CombinedRisk <= *base[0].CombinedRisk {
		t.Errorf("external risk must raise combined risk: base %f with plugin %f",
			*base[0].CombinedRisk, *risky[0].CombinedRisk)
	}
	if risky[0].FinalScore > base[0].FinalScore {
		t.Errorf("external risk must not raise the safety score: base %f with plugin %f",
			base[0].FinalScore, risky[0].FinalScore)
	}
}

func TestScoreRangeNoData(t *testing.T) {
	e := newTestEngine(seededStore())
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	_, err := e.ScoreRange(context.Background(), ScoreRequest{
		IntersectionID: "int-unknown",
		Start:          start,
		End:            start.Add(time.Hour),
	})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData for unknown intersection, got %v", err)
	}
}

func TestSnapshotSwapChangesScale(t *testing.T) {
	fs := seededStore()
	e := newTestEngine(fs)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	alpha := 1.0
	req := ScoreRequest{
		IntersectionID: "int-7",
		Start:          start,
		End:            start.Add(time.Hour),
		Alpha:          &alpha,
	}

	before, err := e.ScoreRange(context.Background(), req)
	if err != nil {
		t.Fatalf("ScoreRange failed: %v", err)
	}

	// A narrower normalization window pushes the same raw risk toward
	// the dangerous end of the scale.
	old := e.Snapshot()
	e.SwapSnapshot(&Snapshot{
		Estimates:  old.Estimates,
		PooledRate: old.PooledRate,
		Constants:  store.NormalizationConstants{K: old.Constants.K, MinRisk: 0, MaxRisk: 0.5},
	})

	after, err := e.ScoreRange(context.Background(), req)
	if err != nil {
		t.Fatalf("ScoreRange after swap failed: %v", err)
	}
	if after[0].FinalScore > before[0].FinalScore {
		t.Errorf("narrower scale should not raise the score: before %f after %f",
			before[0].FinalScore, after[0].FinalScore)
	}
}

func TestScoreRangeRejectsEmptyWindow(t *testing.T) {
	e := newTestEngine(seededStore())
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := e.ScoreRange(context.Background(), ScoreRequest{
		IntersectionID: "int-7",
		Start:          start,
		End:            start,
	}); err == nil {
		t.Fatal("expected error when end is not after start")
	}
}
