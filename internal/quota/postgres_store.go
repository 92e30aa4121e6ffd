package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const admitSQL = `
INSERT INTO quota_counters (pipeline, period_key, count, updated_at)
VALUES ($1, $2, 1, now())
ON CONFLICT (pipeline, period_key) DO UPDATE
SET count = quota_counters.count + 1, updated_at = now()
WHERE quota_counters.count < $3
RETURNING count`

// PostgresStore keeps counters in the quota_counters table. The conditional
// upsert takes a row lock, so concurrent admissions serialize on the row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Admit(ctx context.Context, pipeline string, period Period, limits Limits) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetry; attempt++ {
		ok, err := s.admitOnce(ctx, pipeline, period, limits)
		if err == nil {
			return ok, nil
		}
		if !isRetryable(err) {
			return false, err
		}
		lastErr = err
	}
	return false, fmt.Errorf("admit: retries exhausted: %w", lastErr)
}

func (s *PostgresStore) admitOnce(ctx context.Context, pipeline string, period Period, limits Limits) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// day first, then month, in every transaction so row locks are taken in the same order
	for _, c := range []struct {
		key   string
		limit int64
	}{{period.Day, limits.Daily}, {period.Month, limits.Monthly}} {
		var count int64
		err := tx.QueryRowContext(ctx, admitSQL, pipeline, c.key, c.limit).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("increment %s: %w", c.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Counts(ctx context.Context, pipeline string, period Period) (int64, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_key, count FROM quota_counters WHERE pipeline = $1 AND period_key IN ($2, $3)`,
		pipeline, period.Day, period.Month)
	if err != nil {
		return 0, 0, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	var day, month int64
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return 0, 0, fmt.Errorf("scan count: %w", err)
		}
		switch key {
		case period.Day:
			day = n
		case period.Month:
			month = n
		}
	}
	return day, month, rows.Err()
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
