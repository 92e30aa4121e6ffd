package dlq

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

type sentMessage struct {
	queueURL string
	msg      aws.OutboundMessage
}

type fakePublisher struct {
	sent []sentMessage
	err  error
}

func (f *fakePublisher) Send(ctx context.Context, queueURL string, msg aws.OutboundMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{queueURL: queueURL, msg: msg})
	return fmt.Sprintf("sqs-%d", len(f.sent)), nil
}

func newTestService(t *testing.T) (*Service, *DynamoStore, *fakePublisher) {
	t.Helper()
	store, _ := newTestDynamoStore(t)
	pub := &fakePublisher{}
	svc := NewService(store, pub, map[string]string{
		"enrichment": "https://sqs/enrichment",
		"cleanup":    "https://sqs/cleanup",
	}, nil, nil)
	n := 0
	svc.newID = func() string { n++; return fmt.Sprintf("env-%d", n) }
	return svc, store, pub
}

func TestReplay_PendingRecordIsEnqueuedOnce(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()
	rec := record("m1", t0)
	require.NoError(t, store.Insert(ctx, rec))

	report, err := svc.Replay(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ResultReplayed])
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "https://sqs/enrichment", pub.sent[0].queueURL)
	assert.Equal(t, rec.Payload, pub.sent[0].msg.Body)
	assert.Equal(t, "env-1", pub.sent[0].msg.Attributes[queue.AttrEnvelopeID])
	assert.Equal(t, "0", pub.sent[0].msg.Attributes[queue.AttrPriorAttempts])
	// a replay that fails again must dead-letter back to the same pipeline
	assert.Equal(t, "enrichment", pub.sent[0].msg.Attributes[queue.AttrSourcePipeline])

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusReplayed, got.Status)
	assert.Equal(t, "sqs-1", got.ReplayMessageID)

	// a second replay is reported, not repeated
	report, err = svc.Replay(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ResultSkipped])
	assert.Equal(t, StatusReplayed, report.Results[0].Status)
	assert.Len(t, pub.sent, 1)
}

func TestReplay_MixedIDs(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, record("m1", t0)))
	cleanup := record("m2", t0)
	cleanup.SourcePipeline = "cleanup"
	require.NoError(t, store.Insert(ctx, cleanup))
	require.NoError(t, store.Insert(ctx, record("m3", t0)))
	require.NoError(t, store.Acknowledge(ctx, "m3"))

	report, err := svc.Replay(ctx, []string{"m1", "m2", "m2", "m3", "missing", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ResultReplayed: 2, ResultSkipped: 1, ResultNotFound: 1}, report.Counts)
	require.Len(t, report.Results, 4)
	assert.Equal(t, StatusAcknowledged, report.Results[2].Status)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "https://sqs/cleanup", pub.sent[1].queueURL)
}

func TestReplay_SendFailureRevertsToPending(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, record("m1", t0)))
	pub.err = errors.New("sqs unavailable")

	report, err := svc.Replay(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ResultFailed])
	assert.Contains(t, report.Results[0].Error, "sqs unavailable")

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	pub.err = nil
	report, err = svc.Replay(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ResultReplayed])
}

func TestReplay_UnknownPipelineFails(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()
	rec := record("m1", t0)
	rec.SourcePipeline = "legacy"
	require.NoError(t, store.Insert(ctx, rec))

	report, err := svc.Replay(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[ResultFailed])
	assert.Empty(t, pub.sent)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestAcknowledge(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, record("m1", t0)))
	require.NoError(t, store.Insert(ctx, record("m2", t0)))
	require.NoError(t, store.Transition(ctx, "m2", StatusPending, StatusReplayed))

	report, err := svc.Acknowledge(ctx, []string{"m1", "m2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ResultAcknowledged: 2, ResultNotFound: 1}, report.Counts)

	acked, err := svc.List(ctx, Filter{Status: StatusAcknowledged})
	require.NoError(t, err)
	assert.Len(t, acked, 2)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.List(context.Background(), Filter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
