package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/series"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertObservationSQL = `INSERT INTO observations (
        obs_date,
        metric,
        value,
        source
    ) VALUES (
        $1,$2,$3,$4
    );`

	listObservationsSQL = `SELECT
        id,
        obs_date,
        metric,
        value,
        source,
        imported_at
    FROM observations
    WHERE ($1 = '' OR source = $1)
    ORDER BY obs_date, id;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	insertAnomalySQL = `INSERT INTO anomalies (
        evaluated_at,
        period,
        metric,
        value,
        rule_id,
        rule_label,
        score,
        severity,
        direction,
        notified
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (evaluated_at, period, metric, rule_id) DO NOTHING;`

	listRecentAnomaliesSQL = `SELECT
        id,
        evaluated_at,
        period,
        metric,
        value,
        rule_id,
        rule_label,
        score,
        severity,
        direction,
        notified
    FROM anomalies
    ORDER BY evaluated_at DESC, score DESC
    LIMIT $1;`

	deleteAnomaliesBeforeSQL = `DELETE FROM anomalies WHERE evaluated_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore persists raw observation rows.
type ObservationStore interface {
	InsertObservations(ctx context.Context, source string, rows []series.Observation) (int, error)
	ListObservations(ctx context.Context, source string) ([]series.Observation, error)
	CountObservations(ctx context.Context) (int64, error)
}

// AnomalyStore keeps the history of evaluation passes.
type AnomalyStore interface {
	InsertAnomalies(ctx context.Context, evaluatedAt time.Time, anomalies []detector.Anomaly, notified bool) error
	ListRecentAnomalies(ctx context.Context, limit int) ([]AnomalyRecord, error)
	DeleteAnomaliesBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and anomalies.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertObservations writes rows in one batch and returns how many were stored.
// Rows with an infinite or NaN value have no NUMERIC form and are skipped.
func (s *Store) InsertObservations(ctx context.Context, source string, rows []series.Observation) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		if !finite(r.Value) {
			continue
		}
		batch.Queue(insertObservationSQL, r.Date, r.Metric, decimal.NewFromFloat(r.Value).String(), source)
	}
	queued := batch.Len()
	if queued == 0 {
		return 0, nil
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, execErr := results.Exec(); execErr != nil {
			return i, fmt.Errorf("insert observation %d: %w", i, execErr)
		}
	}
	return queued, nil
}

// ListObservations lists stored rows ordered by date; an empty source lists all.
func (s *Store) ListObservations(ctx context.Context, source string) ([]series.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsSQL, source)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations: %w", queryErr)
	}
	defer rows.Close()

	out := make([]series.Observation, 0)
	for rows.Next() {
		rec, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, series.Observation{Date: rec.Date, Metric: rec.Metric, Value: rec.Value.InexactFloat64()})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CountObservations counts stored rows.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertAnomalies persists one evaluation pass. Anomalies with a non-finite
// value or score are skipped.
func (s *Store) InsertAnomalies(ctx context.Context, evaluatedAt time.Time, anomalies []detector.Anomaly, notified bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(anomalies) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range anomalies {
		if !finite(a.Value) || !finite(a.Score) {
			continue
		}
		batch.Queue(insertAnomalySQL,
			evaluatedAt,
			a.Date,
			a.Metric,
			decimal.NewFromFloat(a.Value).String(),
			a.RuleID,
			a.RuleLabel,
			decimal.NewFromFloat(a.Score).Round(6).String(),
			string(a.Severity),
			string(a.Direction),
			notified,
		)
	}

	queued := batch.Len()
	if queued == 0 {
		return nil
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert anomaly: %w", execErr)
		}
	}
	return nil
}

// ListRecentAnomalies lists the most recent anomalies, highest score first within a pass.
func (s *Store) ListRecentAnomalies(ctx context.Context, limit int) ([]AnomalyRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAnomaliesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent anomalies: %w", queryErr)
	}
	defer rows.Close()

	out := make([]AnomalyRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAnomaly(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// DeleteAnomaliesBefore deletes historical anomalies.
func (s *Store) DeleteAnomaliesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAnomaliesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete anomalies before: %w", execErr)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func scanObservation(rows pgx.Rows) (ObservationRecord, error) {
	var (
		rec      ObservationRecord
		valueStr string
	)
	if err := rows.Scan(&rec.ID, &rec.Date, &rec.Metric, &valueStr, &rec.Source, &rec.ImportedAt); err != nil {
		return ObservationRecord{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return ObservationRecord{}, fmt.Errorf("parse observation value: %w", err)
	}
	rec.Value = value
	return rec, nil
}

func scanAnomaly(rows pgx.Rows) (AnomalyRecord, error) {
	var (
		rec      AnomalyRecord
		valueStr string
		scoreStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.EvaluatedAt,
		&rec.Period,
		&rec.Metric,
		&valueStr,
		&rec.RuleID,
		&rec.RuleLabel,
		&scoreStr,
		&rec.Severity,
		&rec.Direction,
		&rec.Notified,
	); err != nil {
		return AnomalyRecord{}, err
	}

	var convErr error
	rec.Value, convErr = decimal.NewFromString(valueStr)
	if convErr != nil {
		return AnomalyRecord{}, fmt.Errorf("parse anomaly value: %w", convErr)
	}
	rec.Score, convErr = decimal.NewFromString(scoreStr)
	if convErr != nil {
		return AnomalyRecord{}, fmt.Errorf("parse anomaly score: %w", convErr)
	}
	return rec, nil
}

var (
	_ ObservationStore = (*Store)(nil)
	_ AnomalyStore     = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
