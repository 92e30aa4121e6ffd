package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-beer-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-beer-pipeline/internal/dlq"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

func main() {
	ctx := context.Background()
	app, err := bootstrap.New(ctx, "dlq-worker")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Close()

	cfg := app.Config
	consumer := dlq.NewConsumer(dlq.ConsumerConfig{
		MaxAttempts:   cfg.DLQ.MaxAttempts,
		Backoff:       bootstrap.Backoff(cfg.DLQ.Backoff),
		DefaultSource: cfg.DLQ.DefaultSource,
	}, app.DLQ, app.Logger)

	// the dead-letter queue has no further dead-letter hop
	rt := queue.NewRuntime(queue.RuntimeConfig{
		Pipeline: "dlq",
		QueueURL: cfg.Queues.DLQURL,
	}, app.Publisher, app.Metrics, app.Logger)

	handle := func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp := rt.HandleEach(ctx, ev, consumer.Handle)
		app.Flush(ctx)
		return resp, nil
	}

	if cfg.Server.RunLocal {
		resp, _ := handle(ctx, bootstrap.LocalSQSEvent(`{"beer_id":"local-beer-1","beer_name":"Pliny the Elder"}`))
		out, _ := json.Marshal(resp)
		app.Logger.Info().RawJSON("response", out).Msg("local run complete")
		return
	}

	lambda.Start(handle)
}
