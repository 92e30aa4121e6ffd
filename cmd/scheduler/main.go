package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-beer-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-beer-pipeline/internal/trigger"
)

func main() {
	ctx := context.Background()
	app, err := bootstrap.New(ctx, "scheduler")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Close()

	cfg := app.Config
	svc := trigger.NewService(app.Publisher, bootstrap.Queues(cfg), app.Beers, app.Claims, app.Logger)
	h := NewHandler(svc, cfg.Scheduler.Pipeline, cfg.Scheduler.BatchLimit, app.Logger)

	handle := func(ctx context.Context, ev events.CloudWatchEvent) (trigger.Result, error) {
		defer app.Flush(ctx)
		return h.Handle(ctx, ev)
	}

	if cfg.Server.RunLocal {
		res, err := handle(ctx, events.CloudWatchEvent{ID: "local"})
		if err != nil {
			app.Logger.Fatal().Err(err).Msg("local run failed")
		}
		app.Logger.Info().Interface("result", res).Msg("local run complete")
		return
	}

	lambda.Start(handle)
}
