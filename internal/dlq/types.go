// Package dlq stores messages that exhausted their retries and lets an
// operator list, replay or acknowledge them.
package dlq

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusReplayed     Status = "replayed"
	StatusAcknowledged Status = "acknowledged"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReplayed, StatusAcknowledged:
		return true
	}
	return false
}

var (
	ErrNotFound = errors.New("dead-letter record not found")
	// ErrStatusMismatch is returned when a conditional transition finds the
	// record in a different status than expected.
	ErrStatusMismatch = errors.New("dead-letter status mismatch")
	ErrInvalidFilter  = errors.New("invalid dead-letter filter")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Record is one dead-lettered message. MessageID is the envelope id, so a
// redelivered dead letter maps onto the same record.
type Record struct {
	MessageID       string     `dynamodbav:"message_id" json:"message_id"` // PK
	BeerID          string     `dynamodbav:"beer_id,omitempty" json:"beer_id"`
	BeerName        string     `dynamodbav:"beer_name,omitempty" json:"beer_name"`
	Brewer          string     `dynamodbav:"brewer,omitempty" json:"brewer,omitempty"`
	FailedAt        time.Time  `dynamodbav:"failed_at,unixtime" json:"failed_at"`
	FailureCount    int        `dynamodbav:"failure_count" json:"failure_count"`
	FailureReason   string     `dynamodbav:"failure_reason,omitempty" json:"failure_reason"`
	FailureKind     string     `dynamodbav:"failure_kind,omitempty" json:"failure_kind,omitempty"`
	SourcePipeline  string     `dynamodbav:"source_pipeline" json:"source_pipeline"`
	Status          Status     `dynamodbav:"status" json:"status"`
	Payload         string     `dynamodbav:"payload" json:"payload"`
	ReplayMessageID string     `dynamodbav:"replay_message_id,omitempty" json:"replay_message_id,omitempty"`
	ReplayedAt      *time.Time `dynamodbav:"replayed_at,omitempty" json:"replayed_at,omitempty"`
	AcknowledgedAt  *time.Time `dynamodbav:"acknowledged_at,omitempty" json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// Filter narrows List. A zero Status matches every record.
type Filter struct {
	Status Status
	Limit  int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Store persists dead-letter records.
type Store interface {
	// Insert creates rec in status pending. Inserting an existing message id
	// is a no-op.
	Insert(ctx context.Context, rec Record) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, messageID string) (*Record, error)
	// List returns matching records, most recently failed first.
	List(ctx context.Context, f Filter) ([]Record, error)
	// Transition moves a record from one status to another, returning
	// ErrStatusMismatch when it is not in from.
	Transition(ctx context.Context, messageID string, from, to Status) error
	SetReplayMessageID(ctx context.Context, messageID, replayMessageID string) error
	// Acknowledge marks the record acknowledged whatever its status.
	Acknowledge(ctx context.Context, messageID string) error
}
