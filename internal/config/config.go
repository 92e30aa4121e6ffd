// Package config loads runtime configuration from the environment, an
// optional .env file and an optional config file.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Env       string          `mapstructure:"env" validate:"required,oneof=dev development test staging production"`
	LogLevel  string          `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queues    QueuesConfig    `mapstructure:"queues"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Enrich    EnrichConfig    `mapstructure:"enrichment"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

type AWSConfig struct {
	Region           string `mapstructure:"region"`
	EndpointOverride string `mapstructure:"endpoint_override"`
}

// StoreConfig selects the persistence backend and its DynamoDB table names.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=dynamodb postgres"`
	BeersTable  string `mapstructure:"beers_table" validate:"required"`
	QuotaTable  string `mapstructure:"quota_table" validate:"required"`
	DLQTable    string `mapstructure:"dlq_table" validate:"required"`
	ClaimsTable string `mapstructure:"claims_table" validate:"required"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required_if=Backend postgres"`
	// Backend mirrors Store.Backend so required_if can see it.
	Backend         string        `mapstructure:"-"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type QueuesConfig struct {
	EnrichmentURL string `mapstructure:"enrichment_url"`
	CleanupURL    string `mapstructure:"cleanup_url"`
	DLQURL        string `mapstructure:"dlq_url"`
}

// Limits are the admission ceilings for one pipeline.
type Limits struct {
	DailyLimit   int64 `mapstructure:"daily_limit" validate:"gt=0"`
	MonthlyLimit int64 `mapstructure:"monthly_limit" validate:"gt=0,gtefield=DailyLimit"`
}

type QuotaConfig struct {
	Enrichment Limits `mapstructure:"enrichment"`
	Cleanup    Limits `mapstructure:"cleanup"`
}

type BackoffConfig struct {
	Base time.Duration `mapstructure:"base" validate:"gt=0"`
	Max  time.Duration `mapstructure:"max" validate:"gtefield=Base"`
}

type EnrichConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	QuotaRetryDelay time.Duration `mapstructure:"quota_retry_delay" validate:"gte=5m"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
}

type CleanupConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1"`
	QuotaRetryDelay time.Duration `mapstructure:"quota_retry_delay" validate:"gte=5m"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
}

type DLQConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"gte=1"`
	Backoff       BackoffConfig `mapstructure:"backoff"`
	DefaultSource string        `mapstructure:"default_source" validate:"omitempty,oneof=enrichment cleanup"`
}

type AlertsConfig struct {
	CooldownWindow time.Duration `mapstructure:"cooldown_window" validate:"gt=0"`
	MaxTraces      int           `mapstructure:"max_traces" validate:"gte=1"`
	WebhookURL     string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" validate:"gt=0"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	Service        string        `mapstructure:"service"`
}

type LookupConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type MetricsConfig struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=prometheus cloudwatch noop"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}

type SchedulerConfig struct {
	Pipeline     string        `mapstructure:"pipeline" validate:"required,oneof=enrichment cleanup"`
	BatchLimit   int           `mapstructure:"batch_limit" validate:"gte=1,lte=1000"`
	RecentWindow time.Duration `mapstructure:"recent_window" validate:"gt=0"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	RunLocal bool   `mapstructure:"run_local"`
	AdminKey string `mapstructure:"admin_key"`
}
