// Package quota gates external calls behind per-pipeline daily and monthly ceilings.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/metrics"
)

// Decision is the result of an admission check.
type Decision int

const (
	Denied Decision = iota
	Admitted
)

func (d Decision) String() string {
	if d == Admitted {
		return "admitted"
	}
	return "denied"
}

// ErrUnknownPipeline is returned for a pipeline with no configured limits.
var ErrUnknownPipeline = errors.New("quota: unknown pipeline")

// Limits are the ceilings for one pipeline.
type Limits struct {
	Daily   int64 `json:"daily_limit"`
	Monthly int64 `json:"monthly_limit"`
}

// Period identifies the day and month counters for one instant.
type Period struct {
	Day   string `json:"day"`
	Month string `json:"month"`
}

// PeriodAt returns the UTC day and month keys containing t. Counters reset
// implicitly because each period gets its own key.
func PeriodAt(t time.Time) Period {
	t = t.UTC()
	return Period{Day: t.Format("2006-01-02"), Month: t.Format("2006-01")}
}

// Usage is a point-in-time view of one pipeline's counters.
type Usage struct {
	Pipeline     string `json:"pipeline"`
	Period       Period `json:"period"`
	DayCount     int64  `json:"day_count"`
	MonthCount   int64  `json:"month_count"`
	Limits       Limits `json:"limits"`
	DayRemaining int64  `json:"day_remaining"`
	Exhausted    bool   `json:"exhausted"`
}

// Store persists counters. Admit must increment both counters in one atomic
// step, and only when each is below its limit; otherwise it changes nothing
// and returns false.
type Store interface {
	Admit(ctx context.Context, pipeline string, period Period, limits Limits) (bool, error)
	Counts(ctx context.Context, pipeline string, period Period) (day, month int64, err error)
}

// Controller is the admission gate shared by the consumers.
type Controller struct {
	store   Store
	limits  map[string]Limits
	metrics metrics.Service
	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewController(store Store, limits map[string]Limits, m metrics.Service, log *zerolog.Logger) *Controller {
	if m == nil {
		m = metrics.NewNoopMetricsService()
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "quota").Logger()
	}
	return &Controller{
		store:   store,
		limits:  limits,
		metrics: m,
		log:     l,
		nowFunc: time.Now,
	}
}

// TryAdmit charges one unit against pipeline's counters if both are below
// their ceilings. A store error is returned as-is with a Denied decision;
// callers treat that as a transient failure, not a quota denial.
func (c *Controller) TryAdmit(ctx context.Context, pipeline string) (Decision, error) {
	limits, ok := c.limits[pipeline]
	if !ok {
		return Denied, fmt.Errorf("%w: %s", ErrUnknownPipeline, pipeline)
	}
	period := PeriodAt(c.nowFunc())

	admitted, err := c.store.Admit(ctx, pipeline, period, limits)
	if err != nil {
		return Denied, fmt.Errorf("quota admit %s: %w", pipeline, err)
	}
	if !admitted {
		c.log.Info().Str("pipeline", pipeline).Str("day", period.Day).Msg("admission denied")
		return Denied, nil
	}
	return Admitted, nil
}

// Snapshot reads the current counters for pipeline and mirrors them to metrics.
func (c *Controller) Snapshot(ctx context.Context, pipeline string) (Usage, error) {
	limits, ok := c.limits[pipeline]
	if !ok {
		return Usage{}, fmt.Errorf("%w: %s", ErrUnknownPipeline, pipeline)
	}
	period := PeriodAt(c.nowFunc())

	day, month, err := c.store.Counts(ctx, pipeline, period)
	if err != nil {
		return Usage{}, fmt.Errorf("quota counts %s: %w", pipeline, err)
	}

	c.metrics.SetQuotaUsage(pipeline, metrics.PeriodDay, day)
	c.metrics.SetQuotaUsage(pipeline, metrics.PeriodMonth, month)

	return Usage{
		Pipeline:     pipeline,
		Period:       period,
		DayCount:     day,
		MonthCount:   month,
		Limits:       limits,
		DayRemaining: max(min(limits.Daily-day, limits.Monthly-month), 0),
		Exhausted:    day >= limits.Daily || month >= limits.Monthly,
	}, nil
}

// Pipelines returns the pipelines with configured limits.
func (c *Controller) Pipelines() []string {
	out := make([]string, 0, len(c.limits))
	for p := range c.limits {
		out = append(out, p)
	}
	return out
}
