package main

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imrishuroy/go-beer-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-beer-pipeline/internal/dlq"
	"github.com/imrishuroy/go-beer-pipeline/internal/handlers"
	"github.com/imrishuroy/go-beer-pipeline/internal/metrics"
	"github.com/imrishuroy/go-beer-pipeline/internal/trigger"
)

func setupRouter(cfg handlers.HandlerConfig, exposeMetrics bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if exposeMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	handlers.RegisterAdminRoutes(r, cfg)

	return r
}

func main() {
	ctx := context.Background()
	app, err := bootstrap.New(ctx, "api")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Close()

	queues := bootstrap.Queues(app.Config)
	cfg := handlers.HandlerConfig{
		Trigger:    trigger.NewService(app.Publisher, queues, app.Beers, app.Claims, app.Logger),
		DLQ:        dlq.NewService(app.DLQ, app.Publisher, queues, app.Metrics, app.Logger),
		Quota:      app.Quota,
		AdminKey:   app.Config.Server.AdminKey,
		BatchLimit: app.Config.Scheduler.BatchLimit,
		Logger:     app.Logger,
	}
	if cfg.AdminKey == "" {
		app.Logger.Warn().Msg("admin key is empty; admin routes are unauthenticated")
	}

	// if server.run_local is set, run local HTTP server for development.
	if app.Config.Server.RunLocal {
		r := setupRouter(cfg, app.Config.Metrics.Backend == metrics.BackendPrometheus)
		addr := fmt.Sprintf(":%d", app.Config.Server.Port)
		app.Logger.Info().Str("addr", addr).Msg("running local server")
		if err := r.Run(addr); err != nil {
			app.Logger.Fatal().Err(err).Msg("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(setupRouter(cfg, false))

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		app.Flush(ctx)
		return resp, err
	})
}
