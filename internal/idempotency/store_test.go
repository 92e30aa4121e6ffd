package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws/awstest"
	"github.com/imrishuroy/go-beer-pipeline/internal/platform/postgres"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func claimContract(t *testing.T, s Store, c *clock) {
	ctx := context.Background()

	ok, err := s.Claim(ctx, "enrichment", "b1")
	require.NoError(t, err)
	assert.True(t, ok, "first claim should succeed")

	ok, err = s.Claim(ctx, "enrichment", "b1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim inside the window should be rejected")

	// other pipelines are independent
	ok, err = s.Claim(ctx, "cleanup", "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.MarkDone(ctx, "enrichment", "b1", "msg-1"))
	rec, err := s.Get(ctx, "enrichment", "b1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, "msg-1", rec.MessageID)

	// window elapses
	c.now = c.now.Add(25 * time.Hour)
	ok, err = s.Claim(ctx, "enrichment", "b1")
	require.NoError(t, err)
	assert.True(t, ok, "expired claim should be replaced")

	// failure releases the claim immediately
	require.NoError(t, s.MarkFailed(ctx, "enrichment", "b1", "send failed"))
	ok, err = s.Claim(ctx, "enrichment", "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err = s.Get(ctx, "enrichment", "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDynamoStore_Claims(t *testing.T) {
	c := &clock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	mock := awstest.NewDynamo().CreateTable("claims", "claim_key")
	s := NewDynamoStore(mock, "claims", 24*time.Hour)
	s.nowFunc = c.Now

	claimContract(t, s, c)
}

func TestPostgresStore_Claims(t *testing.T) {
	db := postgres.OpenTestDB(t)
	c := &clock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	s := NewPostgresStore(db, 24*time.Hour)
	s.nowFunc = c.Now

	claimContract(t, s, c)
}

func TestDynamoStore_ClaimPropagatesErrors(t *testing.T) {
	mock := awstest.NewDynamo().CreateTable("claims", "claim_key")
	mock.FailNext("PutItem", errors.New("service unavailable"))
	s := NewDynamoStore(mock, "claims", time.Hour)

	ok, err := s.Claim(context.Background(), "enrichment", "b1")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "service unavailable")
}
