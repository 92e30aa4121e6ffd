package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/dlq"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/quota"
	"github.com/imrishuroy/go-beer-pipeline/internal/trigger"
	"github.com/imrishuroy/go-beer-pipeline/internal/validation"
)

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// Enqueuer is the trigger surface used by the enqueue routes.
type Enqueuer interface {
	Enqueue(ctx context.Context, pipeline string, raw []json.RawMessage) (trigger.Result, error)
	EnqueueScheduled(ctx context.Context, pipeline string, limit int) (trigger.Result, error)
}

// DeadLetters is the dlq admin surface.
type DeadLetters interface {
	List(ctx context.Context, f dlq.Filter) ([]dlq.Record, error)
	Replay(ctx context.Context, ids []string) (dlq.Report, error)
	Acknowledge(ctx context.Context, ids []string) (dlq.Report, error)
}

// QuotaReporter backs the health route.
type QuotaReporter interface {
	Snapshot(ctx context.Context, pipeline string) (quota.Usage, error)
	Pipelines() []string
}

// HandlerConfig groups dependencies for the admin handlers.
type HandlerConfig struct {
	Trigger    Enqueuer
	DLQ        DeadLetters
	Quota      QuotaReporter
	AdminKey   string // empty disables the check
	BatchLimit int    // default for scheduled enqueue
	Logger     *zerolog.Logger
}

// RegisterAdminRoutes registers the enqueue, dlq and health routes.
func RegisterAdminRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "admin_api").Logger()
	}

	r.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()

		status := http.StatusOK
		usage := make([]quota.Usage, 0, len(cfg.Quota.Pipelines()))
		for _, p := range cfg.Quota.Pipelines() {
			u, err := cfg.Quota.Snapshot(ctx, p)
			if err != nil {
				log.Error().Err(err).Str("pipeline", p).Msg("quota snapshot failed")
				status = http.StatusServiceUnavailable
				continue
			}
			usage = append(usage, u)
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "quota": usage})
	})

	admin := r.Group("/", requireAdminKey(cfg.AdminKey))

	admin.POST("/enqueue/:pipeline", func(c *gin.Context) {
		var req validation.EnqueueRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		res, err := cfg.Trigger.Enqueue(c.Request.Context(), c.Param("pipeline"), req.Jobs)
		if err != nil {
			writeError(c, log, err, res)
			return
		}
		c.JSON(enqueueStatus(res), res)
	})

	admin.POST("/enqueue/:pipeline/scheduled", func(c *gin.Context) {
		var req validation.ScheduledEnqueueRequest
		if c.Request.ContentLength != 0 {
			if err := validation.BindAndValidate(c, &req, v); err != nil {
				return
			}
		}
		limit := req.Limit
		if limit == 0 {
			limit = cfg.BatchLimit
		}

		res, err := cfg.Trigger.EnqueueScheduled(c.Request.Context(), c.Param("pipeline"), limit)
		if err != nil {
			writeError(c, log, err, res)
			return
		}
		c.JSON(enqueueStatus(res), res)
	})

	admin.GET("/dlq", func(c *gin.Context) {
		var q validation.ListDLQQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}

		records, err := cfg.DLQ.List(c.Request.Context(), dlq.Filter{Status: dlq.Status(q.Status), Limit: q.Limit})
		if err != nil {
			writeError(c, log, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
	})

	admin.POST("/dlq/replay", func(c *gin.Context) {
		var req validation.IDsRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		report, err := cfg.DLQ.Replay(c.Request.Context(), req.IDs)
		if err != nil {
			writeError(c, log, err, report)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	admin.POST("/dlq/acknowledge", func(c *gin.Context) {
		var req validation.IDsRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		report, err := cfg.DLQ.Acknowledge(c.Request.Context(), req.IDs)
		if err != nil {
			writeError(c, log, err, report)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func requireAdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// enqueueStatus is 207 when only part of the batch was enqueued.
func enqueueStatus(res trigger.Result) int {
	if len(res.Failed) > 0 && res.Enqueued > 0 {
		return http.StatusMultiStatus
	}
	if len(res.Failed) > 0 {
		return http.StatusBadGateway
	}
	return http.StatusAccepted
}

func writeError(c *gin.Context, log zerolog.Logger, err error, partial any) {
	switch {
	case errors.Is(err, trigger.ErrUnknownPipeline):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_pipeline", "detail": err.Error()})
	case errors.Is(err, jobs.ErrInvalidPayload), errors.Is(err, dlq.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("admin request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_failed", "detail": err.Error(), "partial": partial})
	}
}
