package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDatabaseURLEnv names the variable that enables Postgres integration tests.
const TestDatabaseURLEnv = "BEERPIPE_TEST_DATABASE_URL"

// OpenTestDB connects to the integration database, applies migrations and
// empties every table. Tests are skipped when the variable is unset.
func OpenTestDB(t testing.TB) *sql.DB {
	t.Helper()

	url := os.Getenv(TestDatabaseURLEnv)
	if url == "" {
		t.Skipf("skipping postgres integration test, set %s to run", TestDatabaseURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, url, Options{MaxOpenConns: 10})
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, nil), "migrate test database")

	_, err = db.ExecContext(ctx, `TRUNCATE beers, quota_counters, dlq_records, enqueue_claims`)
	require.NoError(t, err, "truncate test tables")
	return db
}
