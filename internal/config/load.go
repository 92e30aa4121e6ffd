package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. BEERPIPE_QUOTA_ENRICHMENT_DAILY_LIMIT.
const EnvPrefix = "BEERPIPE"

// Load reads configuration with the following precedence (highest first):
// environment variables, .env file, config file (if configFile is set), defaults.
func Load(configFile string) (*Config, error) {
	// a missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Database.Backend = cfg.Store.Backend

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct validation over cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("log_level", "info")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint_override", "")

	v.SetDefault("store.backend", "dynamodb")
	v.SetDefault("store.beers_table", "beers")
	v.SetDefault("store.quota_table", "quota-counters")
	v.SetDefault("store.dlq_table", "dead-letters")
	v.SetDefault("store.claims_table", "enqueue-claims")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.migrate_on_start", false)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("queues.enrichment_url", "")
	v.SetDefault("queues.cleanup_url", "")
	v.SetDefault("queues.dlq_url", "")

	v.SetDefault("quota.enrichment.daily_limit", 200)
	v.SetDefault("quota.enrichment.monthly_limit", 4000)
	v.SetDefault("quota.cleanup.daily_limit", 2000)
	v.SetDefault("quota.cleanup.monthly_limit", 40000)

	v.SetDefault("enrichment.max_attempts", 3)
	v.SetDefault("enrichment.quota_retry_delay", 300*time.Second)
	v.SetDefault("enrichment.call_timeout", 20*time.Second)
	v.SetDefault("enrichment.backoff.base", 30*time.Second)
	v.SetDefault("enrichment.backoff.max", 5*time.Minute)

	v.SetDefault("cleanup.max_attempts", 2)
	v.SetDefault("cleanup.concurrency", 5)
	v.SetDefault("cleanup.quota_retry_delay", 300*time.Second)
	v.SetDefault("cleanup.call_timeout", 15*time.Second)
	v.SetDefault("cleanup.backoff.base", 10*time.Second)
	v.SetDefault("cleanup.backoff.max", 2*time.Minute)

	v.SetDefault("dlq.max_attempts", 5)
	v.SetDefault("dlq.backoff.base", 5*time.Second)
	v.SetDefault("dlq.backoff.max", time.Minute)
	v.SetDefault("dlq.default_source", "")

	v.SetDefault("alerts.cooldown_window", 5*time.Minute)
	v.SetDefault("alerts.max_traces", 5)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.webhook_timeout", 5*time.Second)
	v.SetDefault("alerts.redis_addr", "")
	v.SetDefault("alerts.service", "beer-pipeline")

	v.SetDefault("lookup.base_url", "https://api.perplexity.ai")
	v.SetDefault("lookup.api_key", "")
	v.SetDefault("lookup.model", "sonar")
	v.SetDefault("lookup.timeout", 20*time.Second)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("metrics.backend", "cloudwatch")
	v.SetDefault("metrics.namespace", "BeerPipeline")

	v.SetDefault("scheduler.pipeline", "enrichment")
	v.SetDefault("scheduler.batch_limit", 50)
	v.SetDefault("scheduler.recent_window", 24*time.Hour)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.run_local", false)
	v.SetDefault("server.admin_key", "")
}
