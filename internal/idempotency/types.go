// Package idempotency records which beers were recently enqueued so that
// overlapping scheduled runs do not enqueue the same work twice.
package idempotency

import (
	"context"
	"time"
)

// Status values for claim entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// ClaimRecord is the shape persisted in the claims table.
type ClaimRecord struct {
	ClaimKey  string    `dynamodbav:"claim_key"` // PK, pipeline#beer_id
	Pipeline  string    `dynamodbav:"pipeline"`
	BeerID    string    `dynamodbav:"beer_id"`
	Status    string    `dynamodbav:"status"`
	MessageID string    `dynamodbav:"message_id,omitempty"`
	ClaimedAt time.Time `dynamodbav:"claimed_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note      string    `dynamodbav:"note,omitempty"`
}

// Store manages claims. A claim is live until ExpiresAt; Claim succeeds only
// when no live claim exists for the key.
type Store interface {
	Claim(ctx context.Context, pipeline, beerID string) (bool, error)
	Get(ctx context.Context, pipeline, beerID string) (*ClaimRecord, error)
	MarkDone(ctx context.Context, pipeline, beerID, messageID string) error
	// MarkFailed expires the claim at once so the next run may retry.
	MarkFailed(ctx context.Context, pipeline, beerID, note string) error
}

// ClaimKey derives the primary key for a claim.
func ClaimKey(pipeline, beerID string) string {
	return pipeline + "#" + beerID
}
