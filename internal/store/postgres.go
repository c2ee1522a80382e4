package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-mobility/safetyindex/internal/ebayes"
	"github.com/meridian-mobility/safetyindex/internal/features"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) TelemetrySamples(ctx context.Context, start, end time.Time) ([]features.TelemetrySample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT intersection_id, observed_at, kind, speed_kph
		FROM traffic_telemetry
		WHERE observed_at >= $1 AND observed_at < $2
		ORDER BY observed_at ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []features.TelemetrySample
	for rows.Next() {
		var sm features.TelemetrySample
		if err := rows.Scan(&sm.IntersectionID, &sm.Timestamp, &sm.Kind, &sm.SpeedKPH); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncidentEvents(ctx context.Context, start, end time.Time) ([]features.IncidentEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT intersection_id, occurred_at, severity
		FROM traffic_incidents
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []features.IncidentEvent
	for rows.Next() {
		var ev features.IncidentEvent
		if err := rows.Scan(&ev.IntersectionID, &ev.Timestamp, &ev.Severity); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FreeFlowSpeeds(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT intersection_id, free_flow_speed_kph FROM intersections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var speed float64
		if err := rows.Scan(&id, &speed); err != nil {
			return nil, err
		}
		out[id] = speed
	}
	return out, rows.Err()
}

func (s *PostgresStore) CrashRecords(ctx context.Context, since time.Time) ([]ebayes.CrashRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT intersection_id, occurred_at, severity
		FROM crash_history
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ebayes.CrashRecord
	for rows.Next() {
		var cr ebayes.CrashRecord
		if err := rows.Scan(&cr.IntersectionID, &cr.OccurredAt, &cr.Severity); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExposureByIntersection(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT intersection_id, SUM(vehicle_count)::float8
		FROM traffic_volume_daily
		WHERE day >= $1
		GROUP BY intersection_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var exposure float64
		if err := rows.Scan(&id, &exposure); err != nil {
			return nil, err
		}
		out[id] = exposure
	}
	return out, rows.Err()
}

func (s *PostgresStore) YearObservations(ctx context.Context) ([]ebayes.YearObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.intersection_id,
		       EXTRACT(YEAR FROM c.occurred_at)::int AS year,
		       COUNT(*)::int,
		       COALESCE(v.exposure, 0)
		FROM crash_history c
		LEFT JOIN (
			SELECT intersection_id, EXTRACT(YEAR FROM day)::int AS year,
			       SUM(vehicle_count)::float8 AS exposure
			FROM traffic_volume_daily
			GROUP BY intersection_id, EXTRACT(YEAR FROM day)
		) v ON v.intersection_id = c.intersection_id
		   AND v.year = EXTRACT(YEAR FROM c.occurred_at)::int
		GROUP BY c.intersection_id, EXTRACT(YEAR FROM c.occurred_at), v.exposure
		ORDER BY year ASC, c.intersection_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ebayes.YearObservation
	for rows.Next() {
		var ob ebayes.YearObservation
		if err := rows.Scan(&ob.IntersectionID, &ob.Year, &ob.CrashCount, &ob.Exposure); err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

const recordColumns = `id, intersection_id, bin_start,
	alpha, final_score, rtsi, mcdm,
	vru_index, vehicle_index, combined_risk, shrunk_rate,
	saw_score, edas_score, codas_score,
	formula_version, computed_at`

func (s *PostgresStore) SaveIndexRecord(ctx context.Context, rec *SafetyIndexRecord) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO safety_index_records (intersection_id, bin_start,
			alpha, final_score, rtsi, mcdm,
			vru_index, vehicle_index, combined_risk, shrunk_rate,
			saw_score, edas_score, codas_score, formula_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (intersection_id, bin_start, formula_version)
		DO UPDATE SET alpha = EXCLUDED.alpha,
			final_score = EXCLUDED.final_score,
			rtsi = EXCLUDED.rtsi,
			mcdm = EXCLUDED.mcdm,
			vru_index = EXCLUDED.vru_index,
			vehicle_index = EXCLUDED.vehicle_index,
			combined_risk = EXCLUDED.combined_risk,
			shrunk_rate = EXCLUDED.shrunk_rate,
			saw_score = EXCLUDED.saw_score,
			edas_score = EXCLUDED.edas_score,
			codas_score = EXCLUDED.codas_score,
			computed_at = now()
		RETURNING id, computed_at`,
		rec.IntersectionID, rec.BinStart,
		rec.Alpha, rec.FinalScore, rec.RTSI, rec.MCDM,
		rec.VRUIndex, rec.VehicleIndex, rec.CombinedRisk, rec.ShrunkRate,
		rec.SAWScore, rec.EDASScore, rec.CODASScore, rec.FormulaVersion,
	).Scan(&rec.ID, &rec.ComputedAt)
}

func (s *PostgresStore) ListIndexRecords(ctx context.Context, filter RecordFilter) ([]*SafetyIndexRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM safety_index_records WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.IntersectionID != "" {
		n++
		query += fmt.Sprintf(" AND intersection_id = $%d", n)
		args = append(args, filter.IntersectionID)
	}
	if !filter.From.IsZero() {
		n++
		query += fmt.Sprintf(" AND bin_start >= $%d", n)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		n++
		query += fmt.Sprintf(" AND bin_start < $%d", n)
		args = append(args, filter.To)
	}

	query += " ORDER BY bin_start ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SafetyIndexRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestIndexRecord(ctx context.Context, intersectionID string) (*SafetyIndexRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM safety_index_records
		WHERE intersection_id = $1
		ORDER BY bin_start DESC LIMIT 1`, intersectionID)
	rec, err := scanRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*SafetyIndexRecord, error) {
	rec := &SafetyIndexRecord{}
	err := row.Scan(
		&rec.ID, &rec.IntersectionID, &rec.BinStart,
		&rec.Alpha, &rec.FinalScore, &rec.RTSI, &rec.MCDM,
		&rec.VRUIndex, &rec.VehicleIndex, &rec.CombinedRisk, &rec.ShrunkRate,
		&rec.SAWScore, &rec.EDASScore, &rec.CODASScore,
		&rec.FormulaVersion, &rec.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveNormalizationConstants appends a new calibration row and closes
// the previous one in a single transaction.
func (s *PostgresStore) SaveNormalizationConstants(ctx context.Context, nc *NormalizationConstants) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE normalization_constants
		SET valid_until = $1 WHERE valid_until IS NULL`, nc.ValidFrom); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO normalization_constants (k, min_risk, max_risk, held_out_year, valid_from)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		nc.K, nc.MinRisk, nc.MaxRisk, nc.HeldOutYear, nc.ValidFrom,
	).Scan(&nc.ID, &nc.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CurrentNormalizationConstants(ctx context.Context) (*NormalizationConstants, error) {
	nc := &NormalizationConstants{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, k, min_risk, max_risk, held_out_year, valid_from, valid_until, created_at
		FROM normalization_constants
		WHERE valid_until IS NULL
		ORDER BY valid_from DESC LIMIT 1`).Scan(
		&nc.ID, &nc.K, &nc.MinRisk, &nc.MaxRisk, &nc.HeldOutYear,
		&nc.ValidFrom, &nc.ValidUntil, &nc.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return nc, nil
}
