package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Enrich.MaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.Enrich.QuotaRetryDelay)
	assert.Equal(t, 2, cfg.Cleanup.MaxAttempts)
	assert.Equal(t, 5, cfg.Cleanup.Concurrency)
	assert.Equal(t, 5, cfg.DLQ.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.CooldownWindow)
	assert.Equal(t, 5, cfg.Alerts.MaxTraces)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.RecentWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BEERPIPE_QUOTA_ENRICHMENT_DAILY_LIMIT", "10")
	t.Setenv("BEERPIPE_QUOTA_ENRICHMENT_MONTHLY_LIMIT", "100")
	t.Setenv("BEERPIPE_CLEANUP_CONCURRENCY", "8")
	t.Setenv("BEERPIPE_ALERTS_COOLDOWN_WINDOW", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.Quota.Enrichment.DailyLimit)
	assert.Equal(t, int64(100), cfg.Quota.Enrichment.MonthlyLimit)
	assert.Equal(t, 8, cfg.Cleanup.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Alerts.CooldownWindow)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BEERPIPE_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("BEERPIPE_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  backend: postgres\ndatabase:\n  url: postgres://beer@localhost/beer\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "postgres://beer@localhost/beer", cfg.Database.URL)
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BEERPIPE_STORE_BACKEND", "postgres")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_RejectsShortQuotaDelay(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BEERPIPE_ENRICHMENT_QUOTA_RETRY_DELAY", "30s")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	chdirTemp(t)

	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
