package dlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const recordColumns = `message_id, beer_id, beer_name, brewer, failed_at, failure_count, failure_reason,
failure_kind, source_pipeline, status, payload, replay_message_id, replayed_at, acknowledged_at,
created_at, updated_at`

// PostgresStore keeps records in the dlq_records table.
type PostgresStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, nowFunc: time.Now}
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	now := s.nowFunc().UTC()
	if rec.FailedAt.IsZero() {
		rec.FailedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dlq_records (message_id, beer_id, beer_name, brewer, failed_at, failure_count,
  failure_reason, failure_kind, source_pipeline, status, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
ON CONFLICT (message_id) DO NOTHING`,
		rec.MessageID, rec.BeerID, rec.BeerName, rec.Brewer, rec.FailedAt.UTC(), rec.FailureCount,
		rec.FailureReason, rec.FailureKind, rec.SourcePipeline, StatusPending, rec.Payload, now)
	if err != nil {
		return fmt.Errorf("insert dlq record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, messageID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM dlq_records WHERE message_id = $1`, messageID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM dlq_records
WHERE status = $1 ORDER BY failed_at DESC, message_id LIMIT $2`, string(f.Status), f.limit())
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM dlq_records
ORDER BY failed_at DESC, message_id LIMIT $1`, f.limit())
	}
	if err != nil {
		return nil, fmt.Errorf("list dlq records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, messageID string, from, to Status) error {
	now := s.nowFunc().UTC()
	var query string
	switch to {
	case StatusReplayed:
		query = `UPDATE dlq_records SET status = $3, updated_at = $4, replayed_at = $4
WHERE message_id = $1 AND status = $2`
	case StatusAcknowledged:
		query = `UPDATE dlq_records SET status = $3, updated_at = $4, acknowledged_at = $4
WHERE message_id = $1 AND status = $2`
	default:
		query = `UPDATE dlq_records SET status = $3, updated_at = $4, replayed_at = NULL, replay_message_id = NULL
WHERE message_id = $1 AND status = $2`
	}

	res, err := s.db.ExecContext(ctx, query, messageID, string(from), string(to), now)
	if err != nil {
		return fmt.Errorf("transition dlq record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition dlq record: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	rec, err := s.Get(ctx, messageID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusMismatch, messageID, rec.Status, from)
}

func (s *PostgresStore) SetReplayMessageID(ctx context.Context, messageID, replayMessageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dlq_records SET replay_message_id = $2 WHERE message_id = $1`, messageID, replayMessageID)
	return checkAffected(res, err, "set replay message id", messageID)
}

func (s *PostgresStore) Acknowledge(ctx context.Context, messageID string) error {
	now := s.nowFunc().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE dlq_records SET status = $2, updated_at = $3, acknowledged_at = COALESCE(acknowledged_at, $3)
WHERE message_id = $1`, messageID, string(StatusAcknowledged), now)
	return checkAffected(res, err, "acknowledge dlq record", messageID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var status string
	var replayID sql.NullString
	var replayedAt, ackedAt sql.NullTime
	err := row.Scan(&rec.MessageID, &rec.BeerID, &rec.BeerName, &rec.Brewer, &rec.FailedAt, &rec.FailureCount,
		&rec.FailureReason, &rec.FailureKind, &rec.SourcePipeline, &status, &rec.Payload, &replayID,
		&replayedAt, &ackedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dlq record: %w", err)
	}
	rec.Status = Status(status)
	rec.ReplayMessageID = replayID.String
	if replayedAt.Valid {
		t := replayedAt.Time
		rec.ReplayedAt = &t
	}
	if ackedAt.Valid {
		t := ackedAt.Time
		rec.AcknowledgedAt = &t
	}
	return &rec, nil
}

func checkAffected(res sql.Result, err error, op, messageID string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, messageID)
	}
	return nil
}
