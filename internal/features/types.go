package features

import (
	"time"
)

// Severity classifies incident and crash events.
type Severity string

const (
	SeverityFatal  Severity = "fatal"
	SeverityInjury Severity = "injury"
	SeverityPDO    Severity = "pdo" // property damage only
)

// Severities lists all severity classes in descending order of weight.
func Severities() []Severity {
	return []Severity{SeverityFatal, SeverityInjury, SeverityPDO}
}

// SampleKind distinguishes the two presence sample streams.
type SampleKind string

const (
	SampleVehicle SampleKind = "vehicle"
	SampleVRU     SampleKind = "vru"
)

// TelemetrySample is one raw per-message row from the feature store:
// a vehicle presence/speed sample or a VRU presence sample.
type TelemetrySample struct {
	IntersectionID string
	Timestamp      time.Time
	Kind           SampleKind

	// SpeedKPH is set on vehicle samples that carry a speed reading.
	// nil means the detector reported presence only.
	SpeedKPH *float64
}

// IncidentEvent is one raw incident row within the aggregation window.
type IncidentEvent struct {
	IntersectionID string
	Timestamp      time.Time
	Severity       Severity
}

// TimeBinFeatures is one aggregated row per (intersection, time bin).
// Immutable once produced. BinStart is the ordering key; no two bins with
// the same start may coexist for one intersection.
type TimeBinFeatures struct {
	IntersectionID string        `json:"intersection_id"`
	BinStart       time.Time     `json:"bin_start"`
	BinWidth       time.Duration `json:"bin_width"`

	VehicleCount int `json:"vehicle_count"`
	VRUCount     int `json:"vru_count"`

	// Speed statistics are nil (not zero) when the bin has no speed
	// samples. nil must propagate distinctly from 0 downstream.
	AvgSpeedKPH      *float64 `json:"avg_speed_kph,omitempty"`
	SpeedVarianceKPH *float64 `json:"speed_variance_kph,omitempty"`

	// FreeFlowSpeedKPH is the reference speed for the intersection,
	// nil when no reference is configured.
	FreeFlowSpeedKPH *float64 `json:"free_flow_speed_kph,omitempty"`

	IncidentCounts map[Severity]int `json:"incident_counts,omitempty"`

	HourOfDay int          `json:"hour_of_day"`
	DayOfWeek time.Weekday `json:"day_of_week"`
}

// IncidentTotal returns the incident count across all severities.
func (f TimeBinFeatures) IncidentTotal() int {
	var total int
	for _, n := range f.IncidentCounts {
		total += n
	}
	return total
}
