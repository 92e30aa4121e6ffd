package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps claims in the enqueue_claims table.
type PostgresStore struct {
	db      *sql.DB
	window  time.Duration
	nowFunc func() time.Time
}

func NewPostgresStore(db *sql.DB, window time.Duration) *PostgresStore {
	return &PostgresStore{db: db, window: window, nowFunc: time.Now}
}

func (s *PostgresStore) Claim(ctx context.Context, pipeline, beerID string) (bool, error) {
	now := s.nowFunc().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO enqueue_claims (claim_key, pipeline, beer_id, status, claimed_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (claim_key) DO UPDATE
SET status = EXCLUDED.status, claimed_at = EXCLUDED.claimed_at,
    expires_at = EXCLUDED.expires_at, message_id = NULL
WHERE enqueue_claims.expires_at < $5`,
		ClaimKey(pipeline, beerID), pipeline, beerID, StatusInProgress, now, now.Add(s.window))
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, pipeline, beerID string) (*ClaimRecord, error) {
	var rec ClaimRecord
	var messageID sql.NullString
	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT claim_key, pipeline, beer_id, status, message_id, claimed_at, expires_at
FROM enqueue_claims WHERE claim_key = $1`, ClaimKey(pipeline, beerID)).
		Scan(&rec.ClaimKey, &rec.Pipeline, &rec.BeerID, &rec.Status, &messageID, &rec.ClaimedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	rec.MessageID = messageID.String
	rec.ExpiresAt = expires.Unix()
	return &rec, nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, pipeline, beerID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enqueue_claims SET status = $2, message_id = $3 WHERE claim_key = $1`,
		ClaimKey(pipeline, beerID), StatusDone, messageID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, pipeline, beerID, note string) error {
	past := s.nowFunc().UTC().Add(-time.Second)
	_, err := s.db.ExecContext(ctx,
		`UPDATE enqueue_claims SET status = $2, expires_at = $3 WHERE claim_key = $1`,
		ClaimKey(pipeline, beerID), StatusFailed, past)
	if err != nil {
		return fmt.Errorf("mark failed (%s): %w", note, err)
	}
	return nil
}
