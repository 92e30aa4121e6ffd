package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-beer-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-beer-pipeline/internal/enrichment"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/lookup"
)

func main() {
	ctx := context.Background()
	app, err := bootstrap.New(ctx, "enrichment-worker")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Close()

	cfg := app.Config
	consumer := enrichment.NewConsumer(enrichment.Config{
		MaxAttempts:     cfg.Enrich.MaxAttempts,
		QuotaRetryDelay: cfg.Enrich.QuotaRetryDelay,
		CallTimeout:     cfg.Enrich.CallTimeout,
		Backoff:         bootstrap.Backoff(cfg.Enrich.Backoff),
	}, app.Quota, lookup.NewClient(lookup.Config{
		BaseURL: cfg.Lookup.BaseURL,
		APIKey:  cfg.Lookup.APIKey,
		Model:   cfg.Lookup.Model,
		Timeout: cfg.Lookup.Timeout,
	}, app.Logger), app.Beers, app.Logger)
	rt := app.Runtime(jobs.PipelineEnrichment)

	handle := func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp := rt.HandleEach(ctx, ev, consumer.Handle)
		app.Flush(ctx)
		return resp, nil
	}

	// Local testing helper: simulate one delivery from LOCAL_SQS_BODY.
	if cfg.Server.RunLocal {
		resp, _ := handle(ctx, bootstrap.LocalSQSEvent(`{"beer_id":"local-beer-1","beer_name":"Pliny the Elder","brewer":"Russian River"}`))
		out, _ := json.Marshal(resp)
		app.Logger.Info().RawJSON("response", out).Msg("local run complete")
		return
	}

	lambda.Start(handle)
}
