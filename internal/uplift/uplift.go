// Package uplift derives real-time risk multipliers from live time-bin
// features: congestion, speed variance, and VRU conflict exposure.
package uplift

import (
	"math"

	"github.com/meridian-mobility/safetyindex/internal/features"
)

// Coefficients are the fixed uplift scaling constants and combination
// weights. Betas are non-negative and need not sum to 1; the combined
// uplift is bounded above only by 1 + β₁ + β₂ + β₃.
type Coefficients struct {
	K1 float64 // congestion scaling
	K2 float64 // variance scaling
	K3 float64 // conflict scaling

	Beta1 float64
	Beta2 float64
	Beta3 float64

	// TurningFraction is the fixed fraction of vehicle count used as the
	// turning-volume estimate in the conflict factor.
	TurningFraction float64
	ConflictScale   float64

	// Epsilon guards divisions when speeds are zero or absent.
	Epsilon float64
}

// DefaultCoefficients returns the bootstrap uplift coefficients.
func DefaultCoefficients() Coefficients {
	return Coefficients{
		K1: 1.0, K2: 0.5, K3: 1.0,
		Beta1: 0.5, Beta2: 0.3, Beta3: 0.4,
		TurningFraction: 0.15,
		ConflictScale:   500,
		Epsilon:         1e-6,
	}
}

// Factors holds the three clamped uplift factors and their combination.
// Combined is always ≥ 1.
type Factors struct {
	Congestion float64 `json:"congestion"`
	Variance   float64 `json:"variance"`
	Conflict   float64 `json:"conflict"`
	Combined   float64 `json:"combined"`
}

// Compute evaluates the uplift factors for one time bin. A nil average
// speed defines all three factors as 0 and collapses the combined uplift
// to the neutral 1 — an explicit edge-case policy, not a silent default.
func Compute(f features.TimeBinFeatures, c Coefficients) Factors {
	out := Factors{Combined: 1}
	if f.AvgSpeedKPH == nil {
		return out
	}
	avgSpeed := *f.AvgSpeedKPH

	freeFlow := 0.0
	if f.FreeFlowSpeedKPH != nil {
		freeFlow = *f.FreeFlowSpeedKPH
	}
	out.Congestion = clamp01(c.K1 * math.Max(0, freeFlow-avgSpeed) / (freeFlow + c.Epsilon))

	if f.SpeedVarianceKPH != nil {
		out.Variance = clamp01(c.K2 * math.Sqrt(*f.SpeedVarianceKPH) / (avgSpeed + c.Epsilon))
	}

	turning := c.TurningFraction * float64(f.VehicleCount)
	if c.ConflictScale > 0 {
		out.Conflict = clamp01(c.K3 * turning * float64(f.VRUCount) / c.ConflictScale)
	}

	out.Combined = 1 + c.Beta1*out.Congestion + c.Beta2*out.Variance + c.Beta3*out.Conflict
	return out
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
