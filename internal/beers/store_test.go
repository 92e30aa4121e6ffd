package beers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws/awstest"
	"github.com/imrishuroy/go-beer-pipeline/internal/platform/postgres"
)

const beersTable = "beers"

func newTestDynamoStore(t *testing.T) (*DynamoStore, *awstest.Dynamo) {
	t.Helper()
	mock := awstest.NewDynamo().CreateTable(beersTable, "beer_id")
	s := NewDynamoStore(mock, beersTable)
	s.nowFunc = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func f64(v float64) *float64 { return &v }

// storeContract runs the same behavioural checks against any backend.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Beer{BeerID: "b1", Name: "Pliny the Elder", Brewer: "Russian River", Description: "double ipa"}))
	require.NoError(t, s.Put(ctx, Beer{BeerID: "b2", Name: "Westvleteren 12"}))

	t.Run("set abv twice keeps a single coherent value", func(t *testing.T) {
		require.NoError(t, s.SetABV(ctx, "b1", ABVResult{ABV: f64(8.0), Confidence: "high", Status: ABVStatusFound, Source: "lookup"}))
		require.NoError(t, s.SetABV(ctx, "b1", ABVResult{ABV: f64(8.0), Confidence: "high", Status: ABVStatusFound, Source: "lookup"}))

		b, err := s.Get(ctx, "b1")
		require.NoError(t, err)
		require.NotNil(t, b)
		require.NotNil(t, b.ABV)
		assert.InDelta(t, 8.0, *b.ABV, 0.001)
		assert.Equal(t, ABVStatusFound, b.ABVStatus)
		assert.NotNil(t, b.ABVUpdatedAt)
	})

	t.Run("not found result clears abv", func(t *testing.T) {
		require.NoError(t, s.SetABV(ctx, "b2", ABVResult{Status: ABVStatusNotFound, Confidence: "low", Source: "lookup"}))
		b, err := s.Get(ctx, "b2")
		require.NoError(t, err)
		assert.Nil(t, b.ABV)
		assert.Equal(t, ABVStatusNotFound, b.ABVStatus)
	})

	t.Run("writes to a missing beer report ErrNotFound", func(t *testing.T) {
		err := s.SetABV(ctx, "nope", ABVResult{Status: ABVStatusFound})
		assert.ErrorIs(t, err, ErrNotFound)
		err = s.SetCleanedDescription(ctx, "nope", "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing lookups", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, Beer{BeerID: "b3", Name: "Heady Topper", Description: "hazy"}))
		got, err := s.ListMissingABV(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b3", got[0].BeerID)
	})

	t.Run("missing cleanup skips empty descriptions", func(t *testing.T) {
		require.NoError(t, s.SetCleanedDescription(ctx, "b1", "A double IPA."))
		got, err := s.ListMissingCleanup(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b3", got[0].BeerID)

		b, err := s.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "A double IPA.", b.CleanedDescription)
		assert.NotNil(t, b.CleanedAt)
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		b, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, b)
	})
}

func TestDynamoStore_Contract(t *testing.T) {
	s, _ := newTestDynamoStore(t)
	storeContract(t, s)
}

func TestPostgresStore_Contract(t *testing.T) {
	storeContract(t, NewPostgresStore(postgres.OpenTestDB(t)))
}

func TestDynamoStore_ListHonoursLimitAcrossPages(t *testing.T) {
	s, mock := newTestDynamoStore(t)
	ctx := context.Background()
	for i := 0; i < 250; i++ {
		require.NoError(t, s.Put(ctx, Beer{BeerID: fmt.Sprintf("b%03d", i), Name: "x"}))
	}

	got, err := s.ListMissingABV(ctx, 150)
	require.NoError(t, err)
	assert.Len(t, got, 150)
	assert.Equal(t, 2, mock.Calls["Scan"])
}

func TestDynamoStore_ScanError(t *testing.T) {
	s, mock := newTestDynamoStore(t)
	mock.FailNext("Scan", fmt.Errorf("throttled"))

	_, err := s.ListMissingCleanup(context.Background(), 5)
	assert.ErrorContains(t, err, "throttled")
}
