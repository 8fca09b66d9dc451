package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoSample indicates no sample matched the query.
	ErrNoSample = errors.New("storage: no sample found")
)

const (
	insertSampleSQL = `INSERT INTO price_samples (
        ts,
        eth_price,
        matic_price
    ) VALUES (
        $1,$2,$3
    ) RETURNING id, created_at;`

	listSamplesSinceSQL = `SELECT
        id,
        ts,
        eth_price,
        matic_price,
        created_at
    FROM price_samples
    WHERE ts >= $1
    ORDER BY ts DESC;`

	listSamplesBetweenSQL = `SELECT
        id,
        ts,
        eth_price,
        matic_price,
        created_at
    FROM price_samples
    WHERE ts >= $1 AND ts < $2
    ORDER BY ts ASC;`

	listRecentSamplesSQL = `SELECT
        id,
        ts,
        eth_price,
        matic_price,
        created_at
    FROM price_samples
    ORDER BY ts DESC
    LIMIT $1;`

	latestSampleSQL = `SELECT
        id,
        ts,
        eth_price,
        matic_price,
        created_at
    FROM price_samples
    ORDER BY ts DESC
    LIMIT 1;`

	latestSampleAtOrBeforeSQL = `SELECT
        id,
        ts,
        eth_price,
        matic_price,
        created_at
    FROM price_samples
    WHERE ts <= $1
    ORDER BY ts DESC
    LIMIT 1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE ts < $1;`

	createAlertSQL = `INSERT INTO price_alerts (
        chain,
        target_price,
        email
    ) VALUES (
        $1,$2,$3
    ) RETURNING id, created_at;`

	listPendingAlertsSQL = `SELECT
        id,
        chain,
        target_price,
        email,
        is_triggered,
        created_at,
        triggered_at
    FROM price_alerts
    WHERE is_triggered = FALSE
    ORDER BY created_at;`

	markAlertTriggeredSQL = `UPDATE price_alerts
    SET is_triggered = TRUE, triggered_at = NOW()
    WHERE id = $1
      AND is_triggered = FALSE;`

	deleteTriggeredAlertsBeforeSQL = `DELETE FROM price_alerts
    WHERE is_triggered = TRUE
      AND created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for price sample persistence.
type SampleStore interface {
	InsertSample(ctx context.Context, sample PriceSample) (PriceSample, error)
	ListSamplesSince(ctx context.Context, since time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	LatestSample(ctx context.Context) (PriceSample, error)
	LatestSampleAtOrBefore(ctx context.Context, at time.Time) (PriceSample, error)
	CountSamples(ctx context.Context) (int64, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for price alert persistence.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error)
	ListPendingAlerts(ctx context.Context) ([]PriceAlert, error)
	// MarkAlertTriggered flips is_triggered only when it is still false and
	// reports whether this caller won the claim. This is the compare-and-swap
	// that keeps alert delivery at-most-once under concurrent matchers.
	MarkAlertTriggered(ctx context.Context, id int64) (bool, error)
	DeleteTriggeredAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price samples and alerts.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
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

// InsertSample appends a price sample.
func (s *Store) InsertSample(ctx context.Context, sample PriceSample) (PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, err
	}

	row := pool.QueryRow(ctx, insertSampleSQL,
		sample.Timestamp,
		sample.ETHPrice.String(),
		sample.MATICPrice.String(),
	)
	if scanErr := row.Scan(&sample.ID, &sample.CreatedAt); scanErr != nil {
		return PriceSample{}, fmt.Errorf("insert sample: %w", scanErr)
	}
	return sample, nil
}

// ListSamplesSince lists samples at or after the given instant, newest first.
func (s *Store) ListSamplesSince(ctx context.Context, since time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples since: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

// ListSamplesBetween lists samples inside [from, to), oldest first.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

// ListRecentSamples lists the most recent samples ordered newest first.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

// LatestSample returns the most recent sample, or ErrNoSample.
func (s *Store) LatestSample(ctx context.Context) (PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, err
	}
	return scanSingleSample(pool.QueryRow(ctx, latestSampleSQL))
}

// LatestSampleAtOrBefore returns the most recent sample not newer than at,
// or ErrNoSample.
func (s *Store) LatestSampleAtOrBefore(ctx context.Context, at time.Time) (PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, err
	}
	return scanSingleSample(pool.QueryRow(ctx, latestSampleAtOrBeforeSQL, at))
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// DeleteSamplesBefore removes samples older than the cutoff.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// CreateAlert persists a new pending alert.
func (s *Store) CreateAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceAlert{}, err
	}

	row := pool.QueryRow(ctx, createAlertSQL,
		string(alert.Chain),
		alert.TargetPrice.String(),
		alert.Email,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return PriceAlert{}, fmt.Errorf("create alert: %w", scanErr)
	}
	alert.IsTriggered = false
	return alert, nil
}

// ListPendingAlerts lists alerts that have not fired yet.
func (s *Store) ListPendingAlerts(ctx context.Context) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]PriceAlert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// MarkAlertTriggered performs the conditional pending→triggered transition.
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertTriggeredSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("mark alert triggered: %w", execErr)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// DeleteTriggeredAlertsBefore removes old fired alerts.
func (s *Store) DeleteTriggeredAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteTriggeredAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete triggered alerts before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func collectSamples(rows pgx.Rows) ([]PriceSample, error) {
	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSingleSample(row rowScanner) (PriceSample, error) {
	sample, err := scanSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PriceSample{}, ErrNoSample
		}
		return PriceSample{}, err
	}
	return sample, nil
}

func scanSample(row rowScanner) (PriceSample, error) {
	var (
		id        int64
		ts        time.Time
		ethStr    string
		maticStr  string
		createdAt time.Time
	)

	if err := row.Scan(&id, &ts, &ethStr, &maticStr, &createdAt); err != nil {
		return PriceSample{}, err
	}

	eth, err := decimal.NewFromString(ethStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse eth price: %w", err)
	}
	matic, err := decimal.NewFromString(maticStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse matic price: %w", err)
	}

	return PriceSample{
		ID:         id,
		Timestamp:  ts,
		ETHPrice:   eth,
		MATICPrice: matic,
		CreatedAt:  createdAt,
	}, nil
}

func scanAlert(row rowScanner) (PriceAlert, error) {
	var (
		alert       PriceAlert
		chain       string
		targetStr   string
		triggeredAt *time.Time
	)

	if err := row.Scan(
		&alert.ID,
		&chain,
		&targetStr,
		&alert.Email,
		&alert.IsTriggered,
		&alert.CreatedAt,
		&triggeredAt,
	); err != nil {
		return PriceAlert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return PriceAlert{}, fmt.Errorf("parse target price: %w", err)
	}

	alert.Chain = Chain(chain)
	alert.TargetPrice = target
	alert.TriggeredAt = triggeredAt
	return alert, nil
}
