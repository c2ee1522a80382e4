package mcdm

import (
	"math"
)

// saw scores each row as the weighted sum of its normalized values.
func (m *Matrix) saw(norm [][]float64, weights []float64) []float64 {
	scores := make([]float64, len(norm))
	for i, row := range norm {
		var s float64
		for j, v := range row {
			s += weights[j] * v
		}
		scores[i] = s
	}
	return scores
}

// edas scores each row by its distance from the column-wise average,
// split into positive and negative distance measures. Uses the
// direction-aware normalized matrix, so larger is uniformly better and
// every average-distance term is well defined.
func (m *Matrix) edas(norm [][]float64, weights []float64) []float64 {
	rows := len(norm)
	cols := len(weights)

	avg := make([]float64, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += norm[i][j]
		}
		avg[j] = sum / float64(rows)
	}

	sp := make([]float64, rows)
	sn := make([]float64, rows)
	var maxSP, maxSN float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if avg[j] <= 0 {
				continue
			}
			pda := math.Max(0, norm[i][j]-avg[j]) / avg[j]
			nda := math.Max(0, avg[j]-norm[i][j]) / avg[j]
			sp[i] += weights[j] * pda
			sn[i] += weights[j] * nda
		}
		maxSP = math.Max(maxSP, sp[i])
		maxSN = math.Max(maxSN, sn[i])
	}

	scores := make([]float64, rows)
	for i := 0; i < rows; i++ {
		nsp := 0.0
		if maxSP > 0 {
			nsp = sp[i] / maxSP
		}
		nsn := 1.0
		if maxSN > 0 {
			nsn = 1 - sn[i]/maxSN
		}
		scores[i] = (nsp + nsn) / 2
	}
	return scores
}

// codas scores each row by its Euclidean and taxicab distance from the
// negative-ideal solution, with a threshold τ deciding when the taxicab
// distance breaks Euclidean near-ties.
func (m *Matrix) codas(norm [][]float64, weights []float64, tau float64) []float64 {
	rows := len(norm)
	cols := len(weights)

	weighted := make([][]float64, rows)
	for i := range weighted {
		weighted[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			weighted[i][j] = weights[j] * norm[i][j]
		}
	}

	negIdeal := make([]float64, cols)
	for j := 0; j < cols; j++ {
		negIdeal[j] = weighted[0][j]
		for i := 1; i < rows; i++ {
			negIdeal[j] = math.Min(negIdeal[j], weighted[i][j])
		}
	}

	euclid := make([]float64, rows)
	taxicab := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var sq, abs float64
		for j := 0; j < cols; j++ {
			d := weighted[i][j] - negIdeal[j]
			sq += d * d
			abs += math.Abs(d)
		}
		euclid[i] = math.Sqrt(sq)
		taxicab[i] = abs
	}

	scores := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var h float64
		for k := 0; k < rows; k++ {
			if k == i {
				continue
			}
			de := euclid[i] - euclid[k]
			h += de + psi(de, tau)*(taxicab[i]-taxicab[k])
		}
		scores[i] = h
	}
	return scores
}

// psi is the CODAS threshold function: taxicab distances only matter
// when the Euclidean distances are within τ of each other.
func psi(d, tau float64) float64 {
	if math.Abs(d) >= tau {
		return 0
	}
	return 1
}

// rescale100 maps raw method scores onto [0,100] by min–max over the
// rows. A degenerate spread maps every row to 50.
func rescale100(scores []float64) []float64 {
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	out := make([]float64, len(scores))
	span := hi - lo
	for i, s := range scores {
		if span <= 0 {
			out[i] = 50
			continue
		}
		out[i] = 100 * (s - lo) / span
	}
	return out
}
