package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-beer-pipeline/internal/alerting"
	"github.com/imrishuroy/go-beer-pipeline/internal/bootstrap"
)

// LocalTracesEnv names a file of traces processed once in local runs.
const LocalTracesEnv = "LOCAL_TRACES_FILE"

func main() {
	ctx := context.Background()
	app, err := bootstrap.New(ctx, "tail")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Close()

	cfg := app.Config.Alerts
	store, closeStore := newCooldownStore(cfg, app.Logger)
	defer closeStore()

	processor := alerting.NewProcessor(alerting.ProcessorConfig{
		Service:   cfg.Service,
		MaxTraces: cfg.MaxTraces,
	}, alerting.NewCooldown(store, cfg.CooldownWindow), newNotifier(cfg, app.Logger), app.Metrics, app.Logger)

	// alerting never fails the invocation
	handle := func(ctx context.Context, traces []alerting.Trace) error {
		processor.Process(ctx, traces)
		app.Flush(ctx)
		return nil
	}

	if app.Config.Server.RunLocal {
		raw, err := os.ReadFile(os.Getenv(LocalTracesEnv))
		if err != nil {
			app.Logger.Fatal().Err(err).Str("env", LocalTracesEnv).Msg("read local traces")
		}
		var traces []alerting.Trace
		if err := json.Unmarshal(raw, &traces); err != nil {
			app.Logger.Fatal().Err(err).Msg("decode local traces")
		}
		_ = handle(ctx, traces)
		return
	}

	lambda.Start(handle)
}
