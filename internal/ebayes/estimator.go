// Package ebayes stabilizes per-intersection crash rates with Empirical
// Bayes shrinkage toward a pooled baseline.
package ebayes

import (
	"time"

	"github.com/meridian-mobility/safetyindex/internal/features"
)

// CrashRecord is one historical crash event. Read-only reference data;
// never mutated by this engine.
type CrashRecord struct {
	IntersectionID string
	OccurredAt     time.Time
	Severity       features.Severity
}

// SeverityWeights are the fixed constants applied to crash counts when
// building the severity-weighted numerator. Fatal >> injury >> PDO.
type SeverityWeights struct {
	Fatal  float64
	Injury float64
	PDO    float64
}

// DefaultSeverityWeights returns the bootstrap severity weighting.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{Fatal: 100, Injury: 10, PDO: 1}
}

// Weight returns the weight for a severity class. Unknown classes count
// as property damage only.
func (w SeverityWeights) Weight(s features.Severity) float64 {
	switch s {
	case features.SeverityFatal:
		return w.Fatal
	case features.SeverityInjury:
		return w.Injury
	default:
		return w.PDO
	}
}

// StratumKey identifies a per-intersection estimate, optionally refined
// by hour-of-day and day-of-week. Hour is -1 for unstratified estimates.
type StratumKey struct {
	IntersectionID string
	Hour           int
	Day            time.Weekday
}

// Unstratified returns the intersection-wide key.
func Unstratified(intersectionID string) StratumKey {
	return StratumKey{IntersectionID: intersectionID, Hour: -1}
}

// Estimate holds the EB-stabilized rate for one stratum. ShrunkRate is a
// convex combination of RawRate and PooledRate, so it always lies between
// them inclusive.
type Estimate struct {
	Key        StratumKey `json:"key"`
	Exposure   float64    `json:"exposure"`
	RawRate    float64    `json:"raw_rate"`
	Shrinkage  float64    `json:"shrinkage"` // λ_w = exposure / (exposure + k)
	PooledRate float64    `json:"pooled_rate"`
	ShrunkRate float64    `json:"shrunk_rate"`
}

// Estimator computes severity-weighted crash rates with EB shrinkage.
// K is the shrinkage constant, selected by CalibrateK rather than hand
// tuned. BootstrapPooledRate anchors estimates when the history carries
// no usable pooled mean (e.g. an empty deployment).
type Estimator struct {
	K                   float64
	Weights             SeverityWeights
	BootstrapPooledRate float64
	Stratify            bool
}

// Estimate builds per-stratum EB estimates from crash history and an
// exposure denominator per intersection (e.g. a vehicle-volume proxy).
// A stratum with zero crashes and nonzero exposure still yields a valid
// shrunk rate: (1 − λ_w) × r₀.
func (e *Estimator) Estimate(records []CrashRecord, exposure map[string]float64) map[StratumKey]Estimate {
	weighted := make(map[StratumKey]float64)
	for _, r := range records {
		weighted[e.keyFor(r)] += e.Weights.Weight(r.Severity)
	}

	// Pooled baseline: exposure-weighted mean rate across all
	// intersections. Falls back to the bootstrap when exposure is absent.
	var totalWeighted, totalExposure float64
	for id, exp := range exposure {
		totalExposure += exp
		totalWeighted += e.intersectionWeighted(weighted, id)
	}
	pooled := e.BootstrapPooledRate
	if totalExposure > 0 {
		pooled = totalWeighted / totalExposure
	}

	out := make(map[StratumKey]Estimate)
	for id, exp := range exposure {
		for _, key := range e.keysFor(id) {
			stratumExposure := exp
			if e.Stratify {
				// Exposure splits evenly across the 24×7 strata when
				// per-stratum volumes are not available.
				stratumExposure = exp / (24 * 7)
			}
			out[key] = e.estimateOne(weighted[key], stratumExposure, pooled)
		}
	}
	return out
}

func (e *Estimator) estimateOne(weightedCrashes, exposure, pooled float64) Estimate {
	est := Estimate{
		Exposure:   exposure,
		PooledRate: pooled,
	}
	if exposure > 0 {
		est.RawRate = weightedCrashes / exposure
	}
	est.Shrinkage = shrinkageWeight(exposure, e.K)
	est.ShrunkRate = est.Shrinkage*est.RawRate + (1-est.Shrinkage)*pooled
	return est
}

func (e *Estimator) keyFor(r CrashRecord) StratumKey {
	if !e.Stratify {
		return Unstratified(r.IntersectionID)
	}
	return StratumKey{
		IntersectionID: r.IntersectionID,
		Hour:           r.OccurredAt.Hour(),
		Day:            r.OccurredAt.Weekday(),
	}
}

func (e *Estimator) keysFor(intersectionID string) []StratumKey {
	if !e.Stratify {
		return []StratumKey{Unstratified(intersectionID)}
	}
	keys := make([]StratumKey, 0, 24*7)
	for hour := 0; hour < 24; hour++ {
		for day := time.Sunday; day <= time.Saturday; day++ {
			keys = append(keys, StratumKey{IntersectionID: intersectionID, Hour: hour, Day: day})
		}
	}
	return keys
}

func (e *Estimator) intersectionWeighted(weighted map[StratumKey]float64, id string) float64 {
	if !e.Stratify {
		return weighted[Unstratified(id)]
	}
	var sum float64
	for k, v := range weighted {
		if k.IntersectionID == id {
			sum += v
		}
	}
	return sum
}

// shrinkageWeight is λ_w = exposure / (exposure + k), in [0,1) for any
// exposure ≥ 0 and k > 0.
func shrinkageWeight(exposure, k float64) float64 {
	if exposure <= 0 {
		return 0
	}
	return exposure / (exposure + k)
}

// Lookup finds the estimate for a bin, preferring the hour×day stratum
// and falling back to the intersection-wide estimate.
func Lookup(estimates map[StratumKey]Estimate, intersectionID string, hour int, day time.Weekday) (Estimate, bool) {
	if est, ok := estimates[StratumKey{IntersectionID: intersectionID, Hour: hour, Day: day}]; ok {
		return est, true
	}
	est, ok := estimates[Unstratified(intersectionID)]
	return est, ok
}
