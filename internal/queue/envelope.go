// Package queue maps per-message outcomes onto SQS delivery primitives.
package queue

import (
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Message attribute names carried across re-enqueues.
const (
	AttrEnvelopeID      = "envelope_id"
	AttrPriorAttempts   = "prior_attempts"
	AttrSourcePipeline  = "source_pipeline"
	AttrSourceMessageID = "source_message_id"
	AttrFailureReason   = "failure_reason"
	AttrFailureKind     = "failure_kind"
	AttrFailureCount    = "failure_count"
	AttrFailedAt        = "failed_at"
	// AttrDeadLetterAttempts counts store writes tried by the dead-letter
	// consumer, independent of the source queue's receive count.
	AttrDeadLetterAttempts = "dlq_attempts"
)

// Envelope is one delivery of a queued work item.
type Envelope struct {
	// ID is stable across redeliveries and deferrals of the same logical message.
	ID string
	// MessageID identifies this SQS message; it changes when a message is re-enqueued.
	MessageID     string
	ReceiptHandle string
	Body          []byte
	// Attempt starts at 1 and counts deliveries charged against the retry budget.
	Attempt    int
	SentAt     time.Time
	Attributes map[string]string
}

// FromSQS builds an Envelope from a Lambda SQS record.
func FromSQS(msg events.SQSMessage) Envelope {
	attrs := make(map[string]string, len(msg.MessageAttributes))
	for k, v := range msg.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}

	id := attrs[AttrEnvelopeID]
	if id == "" {
		id = msg.MessageId
	}

	receives := atoiDefault(msg.Attributes["ApproximateReceiveCount"], 1)
	if receives < 1 {
		receives = 1
	}
	prior := atoiDefault(attrs[AttrPriorAttempts], 0)
	if prior < 0 {
		prior = 0
	}

	var sentAt time.Time
	if ms, err := strconv.ParseInt(msg.Attributes["SentTimestamp"], 10, 64); err == nil {
		sentAt = time.UnixMilli(ms).UTC()
	}

	return Envelope{
		ID:            id,
		MessageID:     msg.MessageId,
		ReceiptHandle: msg.ReceiptHandle,
		Body:          []byte(msg.Body),
		Attempt:       prior + receives,
		SentAt:        sentAt,
		Attributes:    attrs,
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
