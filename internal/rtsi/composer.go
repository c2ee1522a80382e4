// Package rtsi composes the real-time safety index from the EB-stabilized
// crash rate, the live uplift, and the VRU/vehicle exposure sub-indices.
package rtsi

import (
	"github.com/meridian-mobility/safetyindex/internal/features"
	"github.com/meridian-mobility/safetyindex/internal/uplift"
)

// Params are the composition constants. OmegaVRU + OmegaVehicle must sum
// to 1 (validated at config load, not here).
type Params struct {
	K4           float64 // VRU exposure scaling
	K5           float64 // vehicle occupancy scaling
	Gamma        float64 // overall intensity scaling
	RoadCapacity float64 // vehicles per bin at capacity
	OmegaVRU     float64
	OmegaVehicle float64
	Epsilon      float64
}

// DefaultParams returns the bootstrap composition constants.
func DefaultParams() Params {
	return Params{
		K4: 2.0, K5: 1.0, Gamma: 1.0,
		RoadCapacity: 600,
		OmegaVRU:     0.6,
		OmegaVehicle: 0.4,
		Epsilon:      1e-6,
	}
}

// Scale holds the calibrated bounds of the historical combined-risk
// distribution used for the final min–max rescale. Versioned and swapped
// whole during calibration, never mutated.
type Scale struct {
	MinRisk float64 `json:"min_risk"`
	MaxRisk float64 `json:"max_risk"`
}

// Result is the composed real-time safety index for one bin. Score uses
// the inverted scale: 0 = most dangerous, 100 = safest. A score of
// exactly 0 is a valid maximum-danger signal, never "missing".
type Result struct {
	Score        float64 `json:"score"`
	VRUIndex     float64 `json:"vru_index"`
	VehicleIndex float64 `json:"vehicle_index"`
	CombinedRisk float64 `json:"combined_risk"`
}

// Compose builds the RT-SI for one bin from its features, the stratum's
// shrunk crash rate, and the precomputed uplift factors.
func Compose(f features.TimeBinFeatures, shrunkRate float64, u uplift.Factors, p Params, s Scale) Result {
	g := clamp01(p.K4 * float64(f.VRUCount) / (float64(f.VehicleCount) + p.Epsilon))
	vruIndex := p.Gamma * shrunkRate * u.Combined * g

	var h float64
	if p.RoadCapacity > 0 {
		h = clamp01(p.K5 * float64(f.VehicleCount) / p.RoadCapacity)
	}
	vehicleIndex := p.Gamma * shrunkRate * u.Combined * h

	combined := p.OmegaVRU*vruIndex + p.OmegaVehicle*vehicleIndex

	return Result{
		Score:        Rescale(combined, s),
		VRUIndex:     vruIndex,
		VehicleIndex: vehicleIndex,
		CombinedRisk: combined,
	}
}

// Rescale maps a combined-risk value onto the inverted 0–100 safety
// scale: the calibrated maximum risk maps to 0 (most dangerous) and the
// minimum to 100 (safest). The inversion direction is a policy decision
// and must be preserved exactly.
func Rescale(risk float64, s Scale) float64 {
	span := s.MaxRisk - s.MinRisk
	if span <= 0 {
		// Degenerate calibration window: a single observed risk level
		// carries no ordering information.
		return 50
	}
	score := 100 * (s.MaxRisk - risk) / span
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
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
