package mcdm

import (
	"fmt"
	"time"

	"github.com/meridian-mobility/safetyindex/internal/features"
)

// BinScore carries the three method scores and their combination for one
// time bin. All values are in [0,100] with 100 = safest.
type BinScore struct {
	BinStart time.Time `json:"bin_start"`
	SAW      float64   `json:"saw_score"`
	EDAS     float64   `json:"edas_score"`
	CODAS    float64   `json:"codas_score"`
	Combined float64   `json:"mcdm_score"` // unweighted mean of the three
}

// Engine applies CRITIC weighting and the three scoring methods to a
// rolling lookback window.
type Engine struct {
	Criteria []Criterion
	Tau      float64 // CODAS tie-break threshold
}

// NewEngine returns an engine with the default criteria set.
func NewEngine(tau float64) *Engine {
	return &Engine{Criteria: DefaultCriteria(), Tau: tau}
}

// Score ranks every bin of the lookback window. Fails with
// ErrInsufficientHistory when the window has fewer than 2 distinct rows.
// The computation is a pure function of the window: identical input
// yields bit-identical output.
func (e *Engine) Score(window []features.TimeBinFeatures) ([]BinScore, error) {
	m, err := BuildMatrix(window, e.Criteria)
	if err != nil {
		return nil, err
	}

	m.Weights = m.CriticWeights()
	norm := m.normalized()

	saw := rescale100(m.saw(norm, m.Weights))
	edas := rescale100(m.edas(norm, m.Weights))
	codas := rescale100(m.codas(norm, m.Weights, e.Tau))

	scores := make([]BinScore, len(window))
	for i := range window {
		scores[i] = BinScore{
			BinStart: m.BinStart[i],
			SAW:      saw[i],
			EDAS:     edas[i],
			CODAS:    codas[i],
			Combined: (saw[i] + edas[i] + codas[i]) / 3,
		}
	}
	return scores, nil
}

// ScoreBin ranks the window and returns the entry for the bin starting
// at target.
func (e *Engine) ScoreBin(window []features.TimeBinFeatures, target time.Time) (BinScore, error) {
	scores, err := e.Score(window)
	if err != nil {
		return BinScore{}, err
	}
	for _, s := range scores {
		if s.BinStart.Equal(target) {
			return s, nil
		}
	}
	return BinScore{}, fmt.Errorf("bin %s not in lookback window: %w", target.Format(time.RFC3339), features.ErrNoData)
}
