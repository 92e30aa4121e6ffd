// Package bootstrap wires configuration, logging, AWS clients and the selected
// storage backend into the dependencies every binary shares.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
	"github.com/imrishuroy/go-beer-pipeline/internal/beers"
	"github.com/imrishuroy/go-beer-pipeline/internal/config"
	"github.com/imrishuroy/go-beer-pipeline/internal/dlq"
	"github.com/imrishuroy/go-beer-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/logger"
	"github.com/imrishuroy/go-beer-pipeline/internal/metrics"
	"github.com/imrishuroy/go-beer-pipeline/internal/platform/postgres"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
	"github.com/imrishuroy/go-beer-pipeline/internal/quota"
)

// ConfigFileEnv optionally points at a config file read before the environment.
const ConfigFileEnv = "BEERPIPE_CONFIG_FILE"

// App holds the shared dependencies of one process.
type App struct {
	Config    *config.Config
	Logger    *zerolog.Logger
	Clients   *aws.AWSClients
	Metrics   metrics.Service
	Publisher *aws.Publisher

	Beers  beers.Store
	DLQ    dlq.Store
	Claims idempotency.Store
	Quota  *quota.Controller

	db *sql.DB // nil on the dynamodb backend
}

// New loads configuration and builds every shared dependency. component tags
// the process logger.
func New(ctx context.Context, component string) (*App, error) {
	cfg, err := config.Load(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}

	base, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log := base.With().Str("service", component).Logger()

	clients, err := aws.NewAWSClients(ctx, cfg.AWS.Region, cfg.AWS.EndpointOverride)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}

	m, err := metrics.NewMetricsService(cfg.Metrics.Backend, metrics.Options{
		Namespace:  cfg.Metrics.Namespace,
		CloudWatch: clients.CloudWatch,
		Logger:     &log,
	})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    &log,
		Clients:   clients,
		Metrics:   m,
		Publisher: aws.NewPublisher(clients.SQS),
	}
	if err := app.openStores(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("env", cfg.Env).
		Str("store_backend", cfg.Store.Backend).
		Str("metrics_backend", cfg.Metrics.Backend).
		Msg("bootstrap complete")
	return app, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	var quotaStore quota.Store

	switch cfg.Store.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, db, a.Logger); err != nil {
				_ = db.Close()
				return err
			}
		}
		a.db = db
		a.Beers = beers.NewPostgresStore(db)
		a.DLQ = dlq.NewPostgresStore(db)
		a.Claims = idempotency.NewPostgresStore(db, cfg.Scheduler.RecentWindow)
		quotaStore = quota.NewPostgresStore(db)
	default:
		ddb := a.Clients.DynamoDB
		a.Beers = beers.NewDynamoStore(ddb, cfg.Store.BeersTable)
		a.DLQ = dlq.NewDynamoStore(ddb, cfg.Store.DLQTable)
		a.Claims = idempotency.NewDynamoStore(ddb, cfg.Store.ClaimsTable, cfg.Scheduler.RecentWindow)
		quotaStore = quota.NewDynamoStore(ddb, cfg.Store.QuotaTable)
	}

	a.Quota = quota.NewController(quotaStore, QuotaLimits(cfg), a.Metrics, a.Logger)
	return nil
}

// QuotaLimits maps the configured ceilings onto the controller's limits.
func QuotaLimits(cfg *config.Config) map[string]quota.Limits {
	return map[string]quota.Limits{
		jobs.PipelineEnrichment: {Daily: cfg.Quota.Enrichment.DailyLimit, Monthly: cfg.Quota.Enrichment.MonthlyLimit},
		jobs.PipelineCleanup:    {Daily: cfg.Quota.Cleanup.DailyLimit, Monthly: cfg.Quota.Cleanup.MonthlyLimit},
	}
}

// Queues maps each pipeline to its work queue. Pipelines without a URL are omitted.
func Queues(cfg *config.Config) map[string]string {
	out := map[string]string{}
	if cfg.Queues.EnrichmentURL != "" {
		out[jobs.PipelineEnrichment] = cfg.Queues.EnrichmentURL
	}
	if cfg.Queues.CleanupURL != "" {
		out[jobs.PipelineCleanup] = cfg.Queues.CleanupURL
	}
	return out
}

// Runtime returns the queue runtime for pipeline's consumer.
func (a *App) Runtime(pipeline string) *queue.Runtime {
	return queue.NewRuntime(queue.RuntimeConfig{
		Pipeline:           pipeline,
		QueueURL:           Queues(a.Config)[pipeline],
		DeadLetterQueueURL: a.Config.Queues.DLQURL,
	}, a.Publisher, a.Metrics, a.Logger)
}

// Backoff builds a jittered backoff from config.
func Backoff(c config.BackoffConfig) *queue.Backoff {
	return queue.NewBackoff(c.Base, c.Max)
}

// Flush pushes buffered metrics; called at the end of every invocation.
func (a *App) Flush(ctx context.Context) {
	if err := a.Metrics.Flush(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("metrics flush failed")
	}
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}
