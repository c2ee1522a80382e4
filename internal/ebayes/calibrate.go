package ebayes

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultKGrid is the candidate grid evaluated by CalibrateK.
func DefaultKGrid() []float64 {
	return []float64{0.1, 0.3, 1, 3, 10, 30, 100, 300, 1000}
}

// ErrInsufficientYears indicates the crash history spans too few years to
// hold one out for validation.
var ErrInsufficientYears = errors.New("need at least two crash years to cross-validate k")

// YearObservation is one (intersection, year) cell of the crash panel:
// the unweighted crash count and the exposure proxy for that year.
type YearObservation struct {
	IntersectionID string
	Year           int
	CrashCount     float64
	Exposure       float64
}

// CandidateScore is the held-out Poisson negative log-likelihood for one
// candidate k.
type CandidateScore struct {
	K   float64 `json:"k"`
	NLL float64 `json:"nll"`
}

// CalibrationResult records the selected shrinkage constant and the full
// candidate grid evaluation.
type CalibrationResult struct {
	BestK       float64          `json:"best_k"`
	HeldOutYear int              `json:"held_out_year"`
	Candidates  []CandidateScore `json:"candidates"`
}

// CalibrateK selects the shrinkage constant by held-out-year cross
// validation: the most recent crash year is held out, estimates are fit
// on the remaining years for each candidate k, and the candidate
// minimizing Poisson negative log-likelihood on the held-out year wins.
func CalibrateK(obs []YearObservation, grid []float64) (*CalibrationResult, error) {
	if len(grid) == 0 {
		grid = DefaultKGrid()
	}

	years := distinctYears(obs)
	if len(years) < 2 {
		return nil, ErrInsufficientYears
	}
	heldOut := years[len(years)-1]

	var train, test []YearObservation
	for _, o := range obs {
		if o.Year == heldOut {
			test = append(test, o)
		} else {
			train = append(train, o)
		}
	}

	result := &CalibrationResult{HeldOutYear: heldOut}
	best := math.Inf(1)
	for _, k := range grid {
		nll := heldOutNLL(train, test, k)
		result.Candidates = append(result.Candidates, CandidateScore{K: k, NLL: nll})
		if nll < best {
			best = nll
			result.BestK = k
		}
	}
	return result, nil
}

// heldOutNLL fits per-intersection shrunk rates on the training years and
// scores the held-out year under a Poisson model with mean
// shrunk_rate × held_out_exposure.
func heldOutNLL(train, test []YearObservation, k float64) float64 {
	counts := make(map[string]float64)
	exposures := make(map[string]float64)
	var totalCount, totalExposure float64
	for _, o := range train {
		counts[o.IntersectionID] += o.CrashCount
		exposures[o.IntersectionID] += o.Exposure
		totalCount += o.CrashCount
		totalExposure += o.Exposure
	}

	var pooled float64
	if totalExposure > 0 {
		pooled = totalCount / totalExposure
	}

	var nll float64
	for _, o := range test {
		exp := exposures[o.IntersectionID]
		var raw float64
		if exp > 0 {
			raw = counts[o.IntersectionID] / exp
		}
		w := shrinkageWeight(exp, k)
		rate := w*raw + (1-w)*pooled

		lambda := rate * o.Exposure
		if lambda <= 0 {
			// Poisson mean must be positive; floor keeps an observed
			// crash at a zero-rate intersection finitely penalized.
			lambda = 1e-9
		}
		nll -= distuv.Poisson{Lambda: lambda}.LogProb(o.CrashCount)
	}
	return nll
}

func distinctYears(obs []YearObservation) []int {
	seen := make(map[int]bool)
	var years []int
	for _, o := range obs {
		if !seen[o.Year] {
			seen[o.Year] = true
			years = append(years, o.Year)
		}
	}
	sort.Ints(years)
	return years
}
