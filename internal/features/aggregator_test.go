package features

import (
	"errors"
	"math"
	"testing"
	"time"
)

func float64Ptr(v float64) *float64 { return &v }

var binStart = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func TestAggregateEmptyWindow(t *testing.T) {
	a := &Aggregator{}
	_, err := a.Aggregate(nil, nil, 15*time.Minute)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestAggregateCountsAndSpeedStats(t *testing.T) {
	samples := []TelemetrySample{
		{IntersectionID: "x1", Timestamp: binStart.Add(time.Minute), Kind: SampleVehicle, SpeedKPH: float64Ptr(30)},
		{IntersectionID: "x1", Timestamp: binStart.Add(2 * time.Minute), Kind: SampleVehicle, SpeedKPH: float64Ptr(40)},
		{IntersectionID: "x1", Timestamp: binStart.Add(3 * time.Minute), Kind: SampleVehicle, SpeedKPH: float64Ptr(50)},
		{IntersectionID: "x1", Timestamp: binStart.Add(4 * time.Minute), Kind: SampleVehicle}, // presence only
		{IntersectionID: "x1", Timestamp: binStart.Add(5 * time.Minute), Kind: SampleVRU},
		{IntersectionID: "x1", Timestamp: binStart.Add(6 * time.Minute), Kind: SampleVRU},
	}
	incidents := []IncidentEvent{
		{IntersectionID: "x1", Timestamp: binStart.Add(7 * time.Minute), Severity: SeverityInjury},
		{IntersectionID: "x1", Timestamp: binStart.Add(8 * time.Minute), Severity: SeverityPDO},
		{IntersectionID: "x1", Timestamp: binStart.Add(9 * time.Minute), Severity: SeverityPDO},
	}

	a := &Aggregator{FreeFlowSpeedKPH: map[string]float64{"x1": 45}}
	rows, err := a.Aggregate(samples, incidents, 15*time.Minute)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 bin, got %d", len(rows))
	}

	row := rows[0]
	if row.VehicleCount != 4 {
		t.Errorf("expected 4 vehicles, got %d", row.VehicleCount)
	}
	if row.VRUCount != 2 {
		t.Errorf("expected 2 VRUs, got %d", row.VRUCount)
	}
	if row.AvgSpeedKPH == nil || math.Abs(*row.AvgSpeedKPH-40) > 1e-9 {
		t.Errorf("expected mean speed 40, got %v", row.AvgSpeedKPH)
	}
	// Sample variance of {30, 40, 50} = 100
	if row.SpeedVarianceKPH == nil || math.Abs(*row.SpeedVarianceKPH-100) > 1e-9 {
		t.Errorf("expected speed variance 100, got %v", row.SpeedVarianceKPH)
	}
	if row.FreeFlowSpeedKPH == nil || *row.FreeFlowSpeedKPH != 45 {
		t.Errorf("expected free-flow 45, got %v", row.FreeFlowSpeedKPH)
	}
	if row.IncidentCounts[SeverityInjury] != 1 || row.IncidentCounts[SeverityPDO] != 2 {
		t.Errorf("unexpected incident counts: %v", row.IncidentCounts)
	}
	if row.IncidentTotal() != 3 {
		t.Errorf("expected 3 incidents total, got %d", row.IncidentTotal())
	}
	if row.HourOfDay != 8 {
		t.Errorf("expected hour 8, got %d", row.HourOfDay)
	}
	if row.DayOfWeek != time.Tuesday {
		t.Errorf("expected Tuesday, got %v", row.DayOfWeek)
	}
}

func TestAggregateZeroVehicleBinHasNilSpeedStats(t *testing.T) {
	samples := []TelemetrySample{
		{IntersectionID: "x1", Timestamp: binStart, Kind: SampleVRU},
	}
	a := &Aggregator{}
	rows, err := a.Aggregate(samples, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	row := rows[0]
	if row.VehicleCount != 0 {
		t.Errorf("expected 0 vehicles, got %d", row.VehicleCount)
	}
	if row.AvgSpeedKPH != nil {
		t.Errorf("expected nil avg speed for empty bin, got %v", *row.AvgSpeedKPH)
	}
	if row.SpeedVarianceKPH != nil {
		t.Errorf("expected nil variance for empty bin, got %v", *row.SpeedVarianceKPH)
	}
}

func TestAggregateSingleSpeedSampleHasNilVariance(t *testing.T) {
	samples := []TelemetrySample{
		{IntersectionID: "x1", Timestamp: binStart, Kind: SampleVehicle, SpeedKPH: float64Ptr(25)},
	}
	a := &Aggregator{}
	rows, err := a.Aggregate(samples, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if rows[0].AvgSpeedKPH == nil || *rows[0].AvgSpeedKPH != 25 {
		t.Errorf("expected avg 25, got %v", rows[0].AvgSpeedKPH)
	}
	if rows[0].SpeedVarianceKPH != nil {
		t.Error("variance undefined for a single sample, expected nil")
	}
}

func TestAggregateBinBoundariesAndOrdering(t *testing.T) {
	samples := []TelemetrySample{
		{IntersectionID: "b", Timestamp: binStart.Add(16 * time.Minute), Kind: SampleVehicle},
		{IntersectionID: "a", Timestamp: binStart.Add(20 * time.Minute), Kind: SampleVehicle},
		{IntersectionID: "a", Timestamp: binStart.Add(time.Minute), Kind: SampleVehicle},
	}
	a := &Aggregator{}
	rows, err := a.Aggregate(samples, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 bins, got %d", len(rows))
	}
	// Sorted by intersection, then bin start.
	if rows[0].IntersectionID != "a" || !rows[0].BinStart.Equal(binStart) {
		t.Errorf("unexpected first row: %s %v", rows[0].IntersectionID, rows[0].BinStart)
	}
	if rows[1].IntersectionID != "a" || !rows[1].BinStart.Equal(binStart.Add(15*time.Minute)) {
		t.Errorf("unexpected second row: %s %v", rows[1].IntersectionID, rows[1].BinStart)
	}
	if rows[2].IntersectionID != "b" {
		t.Errorf("unexpected third row: %s", rows[2].IntersectionID)
	}

	// Uniqueness invariant: one row per (intersection, bin start).
	seen := make(map[string]bool)
	for _, r := range rows {
		k := r.IntersectionID + r.BinStart.String()
		if seen[k] {
			t.Errorf("duplicate bin for %s at %v", r.IntersectionID, r.BinStart)
		}
		seen[k] = true
	}
}

func TestAggregateDeterministic(t *testing.T) {
	samples := []TelemetrySample{
		{IntersectionID: "x1", Timestamp: binStart, Kind: SampleVehicle, SpeedKPH: float64Ptr(33)},
		{IntersectionID: "x2", Timestamp: binStart, Kind: SampleVRU},
		{IntersectionID: "x1", Timestamp: binStart.Add(time.Minute), Kind: SampleVehicle, SpeedKPH: float64Ptr(35)},
	}
	a := &Aggregator{}
	first, err := a.Aggregate(samples, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	second, err := a.Aggregate(samples, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("row counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].IntersectionID != second[i].IntersectionID ||
			!first[i].BinStart.Equal(second[i].BinStart) ||
			first[i].VehicleCount != second[i].VehicleCount {
			t.Errorf("row %d differs between identical runs", i)
		}
		if (first[i].AvgSpeedKPH == nil) != (second[i].AvgSpeedKPH == nil) {
			t.Errorf("row %d speed nil-ness differs", i)
		}
		if first[i].AvgSpeedKPH != nil && *first[i].AvgSpeedKPH != *second[i].AvgSpeedKPH {
			t.Errorf("row %d mean speed differs", i)
		}
	}
}
