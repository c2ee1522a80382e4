package events

import "time"

type IndexComputedEvent struct {
	IntersectionID string    `json:"intersection_id"`
	BinStart       time.Time `json:"bin_start"`
	Alpha          float64   `json:"alpha"`
	FinalScore     float64   `json:"final_score"`
	FormulaVersion int       `json:"formula_version"`
	ComputedAt     time.Time `json:"computed_at"`
}

type CalibrationCompletedEvent struct {
	K           float64   `json:"k"`
	MinRisk     float64   `json:"min_risk"`
	MaxRisk     float64   `json:"max_risk"`
	HeldOutYear int       `json:"held_out_year"`
	ValidFrom   time.Time `json:"valid_from"`
	DurationMs  float64   `json:"duration_ms"`
}

type PluginFailedEvent struct {
	Plugin     string    `json:"plugin"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}
