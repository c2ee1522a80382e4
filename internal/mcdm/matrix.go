// Package mcdm ranks time bins with a CRITIC-weighted combination of the
// SAW, EDAS, and CODAS multi-criteria methods.
package mcdm

import (
	"errors"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/features"
)

// ErrInsufficientHistory indicates the lookback window holds fewer than
// two distinct rows, which cannot support correlation-based weighting.
// Callers may retry with a wider window.
var ErrInsufficientHistory = errors.New("lookback window has fewer than 2 distinct rows")

// Criterion describes one column of the decision matrix. Benefit columns
// score higher when larger; cost columns score higher when smaller.
type Criterion struct {
	Name    string `json:"name"`
	Benefit bool   `json:"benefit"`
}

// DefaultCriteria returns the five-column criteria set. Average speed is
// the only benefit column: freer flow reads as safer; counts, variance,
// and incidents all read as risk.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{Name: "vehicle_count"},
		{Name: "vru_count"},
		{Name: "avg_speed", Benefit: true},
		{Name: "speed_variance"},
		{Name: "incident_count"},
	}
}

// Matrix is the decision table: one row per time bin in the lookback
// window, one column per criterion. Built fresh per query; weights are
// filled in by CRITIC.
type Matrix struct {
	Criteria []Criterion
	BinStart []time.Time
	Values   [][]float64 // Values[row][col]
	Weights  []float64
}

// BuildMatrix folds a lookback window of aggregated bins into a decision
// matrix. Nil speed statistics enter the matrix as 0: an empty bin has no
// observed flow and contributes no contrast on the speed columns.
func BuildMatrix(window []features.TimeBinFeatures, criteria []Criterion) (*Matrix, error) {
	if len(criteria) == 0 {
		criteria = DefaultCriteria()
	}
	if distinctRows(window) < 2 {
		return nil, ErrInsufficientHistory
	}

	m := &Matrix{
		Criteria: criteria,
		BinStart: make([]time.Time, len(window)),
		Values:   make([][]float64, len(window)),
	}
	for i, bin := range window {
		m.BinStart[i] = bin.BinStart
		row := make([]float64, len(criteria))
		for j, c := range criteria {
			row[j] = criterionValue(bin, c.Name)
		}
		m.Values[i] = row
	}
	return m, nil
}

func criterionValue(bin features.TimeBinFeatures, name string) float64 {
	switch name {
	case "vehicle_count":
		return float64(bin.VehicleCount)
	case "vru_count":
		return float64(bin.VRUCount)
	case "avg_speed":
		if bin.AvgSpeedKPH != nil {
			return *bin.AvgSpeedKPH
		}
		return 0
	case "speed_variance":
		if bin.SpeedVarianceKPH != nil {
			return *bin.SpeedVarianceKPH
		}
		return 0
	case "incident_count":
		return float64(bin.IncidentTotal())
	default:
		return 0
	}
}

// distinctRows counts rows that differ on at least one criterion value.
func distinctRows(window []features.TimeBinFeatures) int {
	type rowKey struct {
		vehicles, vrus, incidents int
		avgSpeed, variance        float64
		avgNil, varNil            bool
	}
	seen := make(map[rowKey]bool)
	for _, bin := range window {
		k := rowKey{
			vehicles:  bin.VehicleCount,
			vrus:      bin.VRUCount,
			incidents: bin.IncidentTotal(),
			avgNil:    bin.AvgSpeedKPH == nil,
			varNil:    bin.SpeedVarianceKPH == nil,
		}
		if bin.AvgSpeedKPH != nil {
			k.avgSpeed = *bin.AvgSpeedKPH
		}
		if bin.SpeedVarianceKPH != nil {
			k.variance = *bin.SpeedVarianceKPH
		}
		seen[k] = true
	}
	return len(seen)
}

// normalized returns the direction-aware min–max normalization of the
// matrix: every column mapped to [0,1] with 1 = best. Degenerate columns
// (no spread) normalize to all zeros.
func (m *Matrix) normalized() [][]float64 {
	rows := len(m.Values)
	cols := len(m.Criteria)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}

	for j := 0; j < cols; j++ {
		lo, hi := m.columnRange(j)
		span := hi - lo
		if span <= 0 {
			continue
		}
		for i := 0; i < rows; i++ {
			if m.Criteria[j].Benefit {
				out[i][j] = (m.Values[i][j] - lo) / span
			} else {
				out[i][j] = (hi - m.Values[i][j]) / span
			}
		}
	}
	return out
}

func (m *Matrix) columnRange(j int) (lo, hi float64) {
	lo, hi = m.Values[0][j], m.Values[0][j]
	for i := 1; i < len(m.Values); i++ {
		v := m.Values[i][j]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func (m *Matrix) column(values [][]float64, j int) []float64 {
	col := make([]float64, len(values))
	for i := range values {
		col[i] = values[i][j]
	}
	return col
}
