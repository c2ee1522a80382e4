package mcdm

import (
	"gonum.org/v1/gonum/stat"
)

// CriticWeights derives objective criterion weights from the normalized
// matrix: weight_j ∝ std_j × Σ_k (1 − corr_jk). Columns with high
// contrast intensity and low redundancy get more weight. Weights are
// normalized to sum to 1; if every column is degenerate the weights fall
// back to equal.
func (m *Matrix) CriticWeights() []float64 {
	norm := m.normalized()
	cols := len(m.Criteria)

	stds := make([]float64, cols)
	columns := make([][]float64, cols)
	for j := 0; j < cols; j++ {
		columns[j] = m.column(norm, j)
		stds[j] = stat.StdDev(columns[j], nil)
	}

	weights := make([]float64, cols)
	var total float64
	for j := 0; j < cols; j++ {
		var conflict float64
		for k := 0; k < cols; k++ {
			if k == j {
				continue
			}
			conflict += 1 - safeCorrelation(columns[j], columns[k], stds[j], stds[k])
		}
		weights[j] = stds[j] * conflict
		total += weights[j]
	}

	if total <= 0 {
		for j := range weights {
			weights[j] = 1 / float64(cols)
		}
		return weights
	}
	for j := range weights {
		weights[j] /= total
	}
	return weights
}

// safeCorrelation treats correlation against a zero-variance column as 0
// (no shared information) instead of NaN.
func safeCorrelation(a, b []float64, stdA, stdB float64) float64 {
	if stdA == 0 || stdB == 0 {
		return 0
	}
	return stat.Correlation(a, b, nil)
}
