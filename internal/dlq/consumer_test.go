package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

func newTestConsumer(t *testing.T) (*Consumer, *DynamoStore) {
	t.Helper()
	store, _ := newTestDynamoStore(t)
	c := NewConsumer(ConsumerConfig{
		MaxAttempts:   5,
		Backoff:       queue.NewBackoff(5*time.Second, time.Minute),
		DefaultSource: "enrichment",
	}, store, nil)
	c.nowFunc = func() time.Time { return t0 }
	return c, store
}

const payload = `{"beer_id":"b1","beer_name":"Pliny the Elder","brewer":"Russian River"}`

func TestConsumer_RecordsExplicitDeadLetter(t *testing.T) {
	c, store := newTestConsumer(t)
	env := queue.Envelope{
		ID:        "env-1",
		MessageID: "dlq-msg-1",
		Body:      []byte(payload),
		Attempt:   1,
		Attributes: map[string]string{
			queue.AttrSourcePipeline: "cleanup",
			queue.AttrFailureKind:    queue.KindExhausted,
			queue.AttrFailureReason:  "transient_upstream after 2 attempts: 503",
			queue.AttrFailureCount:   "2",
			queue.AttrFailedAt:       "2025-05-01T11:59:00Z",
		},
	}

	out := c.Handle(context.Background(), env)
	assert.Equal(t, queue.ActionAck, out.Action())

	rec, err := store.Get(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Equal(t, "b1", rec.BeerID)
	assert.Equal(t, "Pliny the Elder", rec.BeerName)
	assert.Equal(t, "Russian River", rec.Brewer)
	assert.Equal(t, "cleanup", rec.SourcePipeline)
	assert.Equal(t, 2, rec.FailureCount)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, payload, rec.Payload)
	assert.True(t, rec.FailedAt.Equal(time.Date(2025, 5, 1, 11, 59, 0, 0, time.UTC)))

	// redelivery of the same dead letter does not duplicate it
	assert.Equal(t, queue.ActionAck, c.Handle(context.Background(), env).Action())
	all, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConsumer_NativeRedriveUsesDefaults(t *testing.T) {
	c, store := newTestConsumer(t)
	env := queue.Envelope{ID: "sqs-1", MessageID: "sqs-1", Body: []byte("not json"), Attempt: 1}

	assert.Equal(t, queue.ActionAck, c.Handle(context.Background(), env).Action())

	rec, err := store.Get(context.Background(), "sqs-1")
	require.NoError(t, err)
	assert.Equal(t, "enrichment", rec.SourcePipeline)
	assert.Equal(t, queue.KindExhausted, rec.FailureKind)
	assert.Contains(t, rec.FailureReason, "redriven")
	assert.Empty(t, rec.BeerID)
	assert.True(t, rec.FailedAt.Equal(t0))
}

func TestConsumer_InsertFailureRetriesThenDrops(t *testing.T) {
	store, mock := newTestDynamoStore(t)
	c := NewConsumer(ConsumerConfig{MaxAttempts: 5, DefaultSource: "enrichment"}, store, nil)
	env := queue.Envelope{ID: "env-1", MessageID: "m", Body: []byte(payload), Attempt: 1}

	mock.FailNext("PutItem", errors.New("throttled"))
	out := c.Handle(context.Background(), env)
	assert.Equal(t, queue.ActionRequeue, out.Action())
	assert.Equal(t, "1", out.Attributes()[queue.AttrDeadLetterAttempts])

	env.Attributes = map[string]string{queue.AttrDeadLetterAttempts: "4"}
	mock.FailNext("PutItem", errors.New("throttled"))
	out = c.Handle(context.Background(), env)
	assert.Equal(t, queue.ActionAck, out.Action(), "exhausted budget logs and drops")
	assert.Equal(t, 0, mock.Len(dlqTable))
}

func TestConsumer_BudgetIgnoresSourceQueueCounts(t *testing.T) {
	store, mock := newTestDynamoStore(t)
	c := NewConsumer(ConsumerConfig{MaxAttempts: 5, DefaultSource: "enrichment"}, store, nil)
	// redriven after several deferrals and five receives on the source queue
	env := queue.Envelope{
		ID:         "env-2",
		MessageID:  "m2",
		Body:       []byte(payload),
		Attempt:    8,
		Attributes: map[string]string{queue.AttrPriorAttempts: "3"},
	}

	mock.FailNext("PutItem", errors.New("throttled"))
	out := c.Handle(context.Background(), env)
	require.Equal(t, queue.ActionRequeue, out.Action(), "first store failure on the dead-letter queue is retried")
	assert.Equal(t, "1", out.Attributes()[queue.AttrDeadLetterAttempts])

	env.Attributes[queue.AttrDeadLetterAttempts] = out.Attributes()[queue.AttrDeadLetterAttempts]
	assert.Equal(t, queue.ActionAck, c.Handle(context.Background(), env).Action())
	rec, err := store.Get(context.Background(), "env-2")
	require.NoError(t, err)
	assert.Equal(t, "b1", rec.BeerID)
}

func TestConsumer_RedrivenCleanupJobReplaysToCleanupQueue(t *testing.T) {
	svc, store, pub := newTestService(t)
	c := NewConsumer(ConsumerConfig{MaxAttempts: 5, DefaultSource: "enrichment"}, store, nil)
	ctx := context.Background()

	// stamped at enqueue, then moved by the cleanup queue's redrive policy
	env := queue.Envelope{
		ID:        "env-cleanup-1",
		MessageID: "sqs-7",
		Body:      []byte(`{"beer_id":"b7","beer_name":"Hazy Jane","description":"juicy ipa"}`),
		Attempt:   6,
		Attributes: map[string]string{
			queue.AttrEnvelopeID:     "env-cleanup-1",
			queue.AttrSourcePipeline: "cleanup",
		},
	}
	require.Equal(t, queue.ActionAck, c.Handle(ctx, env).Action())

	rec, err := store.Get(ctx, "env-cleanup-1")
	require.NoError(t, err)
	assert.Equal(t, "cleanup", rec.SourcePipeline)
	assert.Equal(t, queue.KindExhausted, rec.FailureKind)
	assert.Contains(t, rec.FailureReason, "cleanup queue")

	report, err := svc.Replay(ctx, []string{"env-cleanup-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ResultReplayed])
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "https://sqs/cleanup", pub.sent[0].queueURL)
	assert.Equal(t, "cleanup", pub.sent[0].msg.Attributes[queue.AttrSourcePipeline])
}
