package features

import (
	"errors"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ErrNoData indicates the input window contained zero rows for every
// intersection. Distinct from "rows present but values null", which
// aggregates normally with nil speed statistics.
var ErrNoData = errors.New("no telemetry rows in window")

// Aggregator bins raw telemetry rows into fixed intervals. It is a pure
// function of its input window; the only aggregation verbs are sum
// (counts), mean (speed), variance (speed), and first (time features).
type Aggregator struct {
	// FreeFlowSpeedKPH maps intersection ID to its free-flow reference
	// speed. Intersections without an entry get nil reference speed.
	FreeFlowSpeedKPH map[string]float64
}

type binKey struct {
	intersection string
	start        time.Time
}

type binAccum struct {
	vehicleCount int
	vruCount     int
	speeds       []float64
	incidents    map[Severity]int
}

// Aggregate produces one TimeBinFeatures row per (intersection, bin) from
// raw samples and incident events. A bin with zero speed samples yields
// nil speed statistics, never zero.
func (a *Aggregator) Aggregate(samples []TelemetrySample, incidents []IncidentEvent, binWidth time.Duration) ([]TimeBinFeatures, error) {
	if len(samples) == 0 && len(incidents) == 0 {
		return nil, ErrNoData
	}

	accums := make(map[binKey]*binAccum)
	get := func(id string, ts time.Time) *binAccum {
		k := binKey{intersection: id, start: ts.Truncate(binWidth)}
		acc, ok := accums[k]
		if !ok {
			acc = &binAccum{incidents: make(map[Severity]int)}
			accums[k] = acc
		}
		return acc
	}

	for _, s := range samples {
		acc := get(s.IntersectionID, s.Timestamp)
		switch s.Kind {
		case SampleVRU:
			acc.vruCount++
		default:
			acc.vehicleCount++
			if s.SpeedKPH != nil {
				acc.speeds = append(acc.speeds, *s.SpeedKPH)
			}
		}
	}
	for _, ev := range incidents {
		acc := get(ev.IntersectionID, ev.Timestamp)
		acc.incidents[ev.Severity]++
	}

	// Explicit fold over sorted keys keeps output deterministic.
	keys := make([]binKey, 0, len(accums))
	for k := range accums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].intersection != keys[j].intersection {
			return keys[i].intersection < keys[j].intersection
		}
		return keys[i].start.Before(keys[j].start)
	})

	rows := make([]TimeBinFeatures, 0, len(keys))
	for _, k := range keys {
		acc := accums[k]
		row := TimeBinFeatures{
			IntersectionID: k.intersection,
			BinStart:       k.start,
			BinWidth:       binWidth,
			VehicleCount:   acc.vehicleCount,
			VRUCount:       acc.vruCount,
			HourOfDay:      k.start.Hour(),
			DayOfWeek:      k.start.Weekday(),
		}
		if len(acc.incidents) > 0 {
			row.IncidentCounts = acc.incidents
		}
		if len(acc.speeds) > 0 {
			mean := stat.Mean(acc.speeds, nil)
			row.AvgSpeedKPH = &mean
			if len(acc.speeds) > 1 {
				variance := stat.Variance(acc.speeds, nil)
				row.SpeedVarianceKPH = &variance
			}
		}
		if a.FreeFlowSpeedKPH != nil {
			if ff, ok := a.FreeFlowSpeedKPH[k.intersection]; ok {
				v := ff
				row.FreeFlowSpeedKPH = &v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
