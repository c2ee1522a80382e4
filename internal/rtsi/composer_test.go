package rtsi

import (
	"math"
	"testing"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

func float64Ptr(v float64) *float64 { return &v }

func TestScoreWithinBounds(t *testing.T) {
	f := features.TimeBinFeatures{
		IntersectionID:   "x1",
		BinStart:         time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		VehicleCount:     120,
		VRUCount:         15,
		AvgSpeedKPH:      float64Ptr(22),
		SpeedVarianceKPH: float64Ptr(30),
		FreeFlowSpeedKPH: float64Ptr(45),
	}
	u := uplift.Compute(f, uplift.DefaultCoefficients())
	r := Compose(f, 2.0, u, DefaultParams(), Scale{MinRisk: 0, MaxRisk: 10})

	if r.Score < 0 || r.Score > 100 {
		t.Errorf("score %f outside [0,100]", r.Score)
	}
	if r.VRUIndex < 0 || r.VehicleIndex < 0 {
		t.Errorf("sub-indices must be non-negative: %f %f", r.VRUIndex, r.VehicleIndex)
	}
}

func TestInversionHigherRiskLowerScore(t *testing.T) {
	s := Scale{MinRisk: 0, MaxRisk: 10}
	low := Rescale(1, s)
	high := Rescale(9, s)
	if !(high < low) {
		t.Errorf("higher risk must map to lower safety: risk 9 → %f, risk 1 → %f", high, low)
	}
	if Rescale(10, s) != 0 {
		t.Errorf("max risk must map to 0, got %f", Rescale(10, s))
	}
	if Rescale(0, s) != 100 {
		t.Errorf("min risk must map to 100, got %f", Rescale(0, s))
	}
}

func TestRescaleClampsOutOfWindowRisk(t *testing.T) {
	s := Scale{MinRisk: 2, MaxRisk: 8}
	if got := Rescale(12, s); got != 0 {
		t.Errorf("risk above calibration window must clamp to 0, got %f", got)
	}
	if got := Rescale(-1, s); got != 100 {
		t.Errorf("risk below calibration window must clamp to 100, got %f", got)
	}
}

func TestRescaleDegenerateScale(t *testing.T) {
	if got := Rescale(5, Scale{MinRisk: 5, MaxRisk: 5}); got != 50 {
		t.Errorf("degenerate scale should return midpoint, got %f", got)
	}
}

func TestCombinedRiskIsWeightedBlend(t *testing.T) {
	f := features.TimeBinFeatures{
		VehicleCount: 300,
		VRUCount:     30,
		AvgSpeedKPH:  float64Ptr(30),
	}
	p := DefaultParams()
	r := Compose(f, 1.5, uplift.Factors{Combined: 1.2}, p, Scale{MinRisk: 0, MaxRisk: 10})
	want := p.OmegaVRU*r.VRUIndex + p.OmegaVehicle*r.VehicleIndex
	if math.Abs(r.CombinedRisk-want) > 1e-12 {
		t.Errorf("combined risk %f != weighted blend %f", r.CombinedRisk, want)
	}
}

// Congested intersection with zero weighted crash history: the pooled
// baseline keeps the shrunk rate positive, and the heavy congestion
// pushes the safety score near the dangerous end — a valid output, not a
// data-availability failure.
func TestCongestedZeroHistoryScenario(t *testing.T) {
	f := features.TimeBinFeatures{
		IntersectionID:   "x",
		BinStart:         time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC),
		BinWidth:         15 * time.Minute,
		VehicleCount:     316,
		VRUCount:         12,
		AvgSpeedKPH:      float64Ptr(19.6),
		SpeedVarianceKPH: float64Ptr(38.4), // computed from 40 samples
		FreeFlowSpeedKPH: float64Ptr(45),
	}
	u := uplift.Compute(f, uplift.DefaultCoefficients())
	if u.Combined <= 1 {
		t.Fatalf("congested bin should have elevated uplift, got %f", u.Combined)
	}

	// λ_w = 0, so shrunk rate = r₀ = 3.365.
	shrunk := 3.365

	// Scale calibrated so this bin's risk sits at the dangerous end.
	r := Compose(f, shrunk, u, DefaultParams(), Scale{MinRisk: 0.05, MaxRisk: 1.6})
	if math.IsNaN(r.Score) {
		t.Fatal("score must not be NaN")
	}
	if r.Score > 20 {
		t.Errorf("expected near-0 safety score for congested high-rate bin, got %f", r.Score)
	}
	if r.Score < 0 || r.Score > 100 {
		t.Errorf("score %f outside [0,100]", r.Score)
	}
}
