package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-beer-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-beer-pipeline/internal/cleanup"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/platform/gemini"
)

func main() {
	ctx := context.Background()
	app, err := bootstrap.New(ctx, "cleanup-worker")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Close()

	cfg := app.Config
	cleaner, err := gemini.NewCleaner(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model}, app.Logger)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("failed to init cleaner")
	}

	consumer := cleanup.NewConsumer(cleanup.Config{
		MaxAttempts:     cfg.Cleanup.MaxAttempts,
		Concurrency:     cfg.Cleanup.Concurrency,
		QuotaRetryDelay: cfg.Cleanup.QuotaRetryDelay,
		CallTimeout:     cfg.Cleanup.CallTimeout,
		Backoff:         bootstrap.Backoff(cfg.Cleanup.Backoff),
	}, app.Quota, cleaner, app.Beers, app.Logger)
	rt := app.Runtime(jobs.PipelineCleanup)

	handle := func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp := rt.HandleBatch(ctx, ev, consumer.HandleBatch)
		app.Flush(ctx)
		return resp, nil
	}

	if cfg.Server.RunLocal {
		resp, _ := handle(ctx, bootstrap.LocalSQSEvent(`{"beer_id":"local-beer-1","beer_name":"Heady Topper","description":"BEST IPA EVER!!! hoppy and dank"}`))
		out, _ := json.Marshal(resp)
		app.Logger.Info().RawJSON("response", out).Msg("local run complete")
		return
	}

	lambda.Start(handle)
}
