// seed_traffic.go — standalone script to seed synthetic intersections,
// telemetry, incidents, and crash history for local development.
//
// Usage:
//
//	go run scripts/seed_traffic.go -db postgres://localhost/safetyindex -intersections 8 -days 14
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var severities = []string{"pdo", "pdo", "pdo", "pdo", "injury", "injury", "fatal"}

func main() {
	dbURL := flag.String("db", "postgres://localhost/safetyindex", "database URL")
	nIntersections := flag.Int("intersections", 8, "number of intersections")
	days := flag.Int("days", 14, "days of telemetry to generate")
	crashYears := flag.Int("crash-years", 3, "years of crash history")
	seed := flag.Int64("seed", 42, "RNG seed")
	dryRun := flag.Bool("dry-run", false, "print row counts without inserting")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Hour)
	samples, incidents, crashes, volumes := 0, 0, 0, 0

	var pool *pgxpool.Pool
	if !*dryRun {
		var err error
		pool, err = pgxpool.New(ctx, *dbURL)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()
	}

	exec := func(query string, args ...interface{}) {
		if *dryRun {
			return
		}
		if _, err := pool.Exec(ctx, query, args...); err != nil {
			log.Fatalf("insert: %v", err)
		}
	}

	for i := 0; i < *nIntersections; i++ {
		id := fmt.Sprintf("int-%03d", i+1)
		freeFlow := 40 + rng.Float64()*20
		busy := 0.3 + rng.Float64()*0.7 // per-intersection traffic level

		exec(`INSERT INTO intersections (intersection_id, free_flow_speed_kph)
			VALUES ($1, $2) ON CONFLICT (intersection_id) DO NOTHING`, id, freeFlow)

		// Hourly telemetry with a diurnal double peak.
		for d := 0; d < *days; d++ {
			var dayVolume int
			for h := 0; h < 24; h++ {
				ts := now.Add(-time.Duration(d*24+h) * time.Hour)
				demand := busy * diurnal(ts.Hour())
				vehicles := int(demand * 400)
				vrus := int(demand * 40 * rng.Float64())
				dayVolume += vehicles

				for v := 0; v < vehicles; v++ {
					speed := freeFlow * (1 - 0.6*demand) * (0.8 + 0.4*rng.Float64())
					exec(`INSERT INTO traffic_telemetry (intersection_id, observed_at, kind, speed_kph)
						VALUES ($1, $2, 'vehicle', $3)`,
						id, ts.Add(time.Duration(rng.Intn(3600))*time.Second), speed)
					samples++
				}
				for v := 0; v < vrus; v++ {
					exec(`INSERT INTO traffic_telemetry (intersection_id, observed_at, kind, speed_kph)
						VALUES ($1, $2, 'vru', NULL)`,
						id, ts.Add(time.Duration(rng.Intn(3600))*time.Second))
					samples++
				}

				// Sparse incidents, more likely at peak demand.
				if rng.Float64() < 0.02*demand*4 {
					exec(`INSERT INTO traffic_incidents (intersection_id, occurred_at, severity)
						VALUES ($1, $2, $3)`,
						id, ts.Add(time.Duration(rng.Intn(3600))*time.Second),
						severities[rng.Intn(len(severities))])
					incidents++
				}
			}
			exec(`INSERT INTO traffic_volume_daily (intersection_id, day, vehicle_count)
				VALUES ($1, $2, $3)
				ON CONFLICT (intersection_id, day) DO UPDATE SET vehicle_count = EXCLUDED.vehicle_count`,
				id, now.AddDate(0, 0, -d).Format("2006-01-02"), dayVolume)
			volumes++
		}

		// Crash history scaled to the intersection's traffic level.
		for y := 0; y < *crashYears; y++ {
			year := now.Year() - 1 - y
			nCrashes := rng.Intn(int(busy*12) + 1)
			for c := 0; c < nCrashes; c++ {
				at := time.Date(year, time.Month(1+rng.Intn(12)), 1+rng.Intn(28),
					rng.Intn(24), 0, 0, 0, time.UTC)
				exec(`INSERT INTO crash_history (intersection_id, occurred_at, severity)
					VALUES ($1, $2, $3)`, id, at, severities[rng.Intn(len(severities))])
				crashes++
			}
			// Rough annual exposure backfill for the EB cross-validation.
			exec(`INSERT INTO traffic_volume_daily (intersection_id, day, vehicle_count)
				VALUES ($1, $2, $3) ON CONFLICT (intersection_id, day) DO NOTHING`,
				id, fmt.Sprintf("%d-06-15", year), int(busy*400*24))
			volumes++
		}
	}

	mode := "inserted"
	if *dryRun {
		mode = "would insert"
	}
	log.Printf("%s %d telemetry samples, %d incidents, %d crashes, %d volume rows for %d intersections",
		mode, samples, incidents, crashes, volumes, *nIntersections)
}

// diurnal returns relative demand for an hour of day: morning and
// evening peaks, quiet nights.
func diurnal(hour int) float64 {
	morning := math.Exp(-math.Pow(float64(hour)-8.5, 2) / 8)
	evening := math.Exp(-math.Pow(float64(hour)-17.5, 2) / 10)
	return 0.1 + 0.9*math.Max(morning, evening)
}
