package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/trigger"
)

// ScheduledEnqueuer is the trigger operation the scheduler drives.
type ScheduledEnqueuer interface {
	EnqueueScheduled(ctx context.Context, pipeline string, limit int) (trigger.Result, error)
}

// ruleDetail is the optional constant input of the schedule rule. It
// overrides the configured pipeline and batch limit.
type ruleDetail struct {
	Pipeline string `json:"pipeline"`
	Limit    int    `json:"limit"`
}

// Handler runs one scheduled enqueue per rule invocation.
type Handler struct {
	trigger  ScheduledEnqueuer
	pipeline string
	limit    int
	log      zerolog.Logger
}

func NewHandler(t ScheduledEnqueuer, pipeline string, limit int, log *zerolog.Logger) *Handler {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "scheduler").Logger()
	}
	return &Handler{trigger: t, pipeline: pipeline, limit: limit, log: l}
}

// Handle receives a scheduled rule event and enqueues missing work.
func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (trigger.Result, error) {
	pipeline, limit := h.pipeline, h.limit

	if len(ev.Detail) > 0 && string(ev.Detail) != "null" {
		var d ruleDetail
		if err := json.Unmarshal(ev.Detail, &d); err != nil {
			return trigger.Result{}, fmt.Errorf("invalid rule detail: %w", err)
		}
		if d.Pipeline != "" {
			pipeline = d.Pipeline
		}
		if d.Limit > 0 {
			limit = d.Limit
		}
	}

	h.log.Info().Str("rule_id", ev.ID).Str("pipeline", pipeline).Int("limit", limit).Msg("scheduled run")

	res, err := h.trigger.EnqueueScheduled(ctx, pipeline, limit)
	if err != nil {
		h.log.Error().Err(err).Str("pipeline", pipeline).Msg("scheduled enqueue failed")
		return res, err
	}
	return res, nil
}
