package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/features"
)

// SafetyIndexRecord is one persisted index computation for an
// intersection time bin. Sub-scores are nullable: nil means the blend's
// fast path skipped that branch for this record, which is distinct from
// a computed 0.0.
type SafetyIndexRecord struct {
	ID             uuid.UUID `json:"id"`
	IntersectionID string    `json:"intersection_id"`
	BinStart       time.Time `json:"bin_start"`

	Alpha      float64  `json:"alpha"`
	FinalScore float64  `json:"final_score"`
	RTSI       *float64 `json:"rtsi,omitempty"`
	MCDM       *float64 `json:"mcdm,omitempty"`

	// RT-SI breakdown, nil when the blend skipped that path.
	VRUIndex     *float64 `json:"vru_index,omitempty"`
	VehicleIndex *float64 `json:"vehicle_index,omitempty"`
	CombinedRisk *float64 `json:"combined_risk,omitempty"`
	ShrunkRate   *float64 `json:"shrunk_rate,omitempty"`

	// MCDM method breakdown, nil when the blend skipped that path.
	SAWScore   *float64 `json:"saw_score,omitempty"`
	EDASScore  *float64 `json:"edas_score,omitempty"`
	CODASScore *float64 `json:"codas_score,omitempty"`

	FormulaVersion int       `json:"formula_version"`
	ComputedAt     time.Time `json:"computed_at"`
}

// RecordFilter narrows ListIndexRecords.
type RecordFilter struct {
	IntersectionID string
	From           time.Time
	To             time.Time
	Limit          int
}

// NormalizationConstants is one versioned calibration row: the EB
// shrinkage constant and the raw-risk window the 0–100 rescale maps
// from. Rows are append-only; the previous row's valid_until is closed
// when a new one is saved, so historical scores stay explainable.
type NormalizationConstants struct {
	ID          uuid.UUID  `json:"id"`
	K           float64    `json:"k"`
	MinRisk     float64    `json:"min_risk"`
	MaxRisk     float64    `json:"max_risk"`
	HeldOutYear int        `json:"held_out_year"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Store interface {
	// Raw inputs.
	TelemetrySamples(ctx context.Context, start, end time.Time) ([]features.TelemetrySample, error)
	IncidentEvents(ctx context.Context, start, end time.Time) ([]features.IncidentEvent, error)
	FreeFlowSpeeds(ctx context.Context) (map[string]float64, error)

	// Crash history is read-only reference data.
	CrashRecords(ctx context.Context, since time.Time) ([]ebayes.CrashRecord, error)
	ExposureByIntersection(ctx context.Context, since time.Time) (map[string]float64, error)
	YearObservations(ctx context.Context) ([]ebayes.YearObservation, error)

	// Computed index records.
	SaveIndexRecord(ctx context.Context, rec *SafetyIndexRecord) error
	ListIndexRecords(ctx context.Context, filter RecordFilter) ([]*SafetyIndexRecord, error)
	LatestIndexRecord(ctx context.Context, intersectionID string) (*SafetyIndexRecord, error)

	// Calibration outputs.
	SaveNormalizationConstants(ctx context.Context, nc *NormalizationConstants) error
	CurrentNormalizationConstants(ctx context.Context) (*NormalizationConstants, error)

	Ping(ctx context.Context) error
	Close() error
}
