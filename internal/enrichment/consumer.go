// Package enrichment looks up the ABV of one beer per message.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/beers"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/lookup"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
	"github.com/imrishuroy/go-beer-pipeline/internal/quota"
	"github.com/imrishuroy/go-beer-pipeline/internal/upstream"
)

// Looker is the external ABV lookup.
type Looker interface {
	LookupABV(ctx context.Context, req lookup.Request) (lookup.Result, error)
}

// Admitter gates each external call.
type Admitter interface {
	TryAdmit(ctx context.Context, pipeline string) (quota.Decision, error)
}

type Config struct {
	MaxAttempts     int
	QuotaRetryDelay time.Duration
	// CallTimeout bounds one lookup; keep it well below the invocation deadline.
	CallTimeout time.Duration
	Backoff     *queue.Backoff
}

// Consumer handles enrichment envelopes.
type Consumer struct {
	cfg    Config
	policy queue.RetryPolicy
	admit  Admitter
	lookup Looker
	beers  beers.Store
	log    zerolog.Logger
}

func NewConsumer(cfg Config, admit Admitter, lk Looker, store beers.Store, log *zerolog.Logger) *Consumer {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "enrichment").Logger()
	}
	return &Consumer{
		cfg:    cfg,
		policy: queue.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		admit:  admit,
		lookup: lk,
		beers:  store,
		log:    l,
	}
}

// Handle processes one envelope. It never returns an error: every path ends in
// an Outcome.
func (c *Consumer) Handle(ctx context.Context, env queue.Envelope) queue.Outcome {
	log := c.log.With().
		Str("message_id", env.MessageID).
		Str("envelope_id", env.ID).
		Int("attempt", env.Attempt).
		Logger()

	// Step 1: decode; a payload that cannot be parsed will never succeed
	job, err := jobs.DecodeEnrichment(env.Body)
	if err != nil {
		log.Error().Err(err).Msg("invalid enrichment payload")
		return queue.DeadLetter(queue.KindInvalidPayload, err.Error())
	}
	log = log.With().Str("beer_id", job.BeerID).Logger()

	// Step 2: quota admission; a denial is not charged as an attempt
	decision, err := c.admit.TryAdmit(ctx, jobs.PipelineEnrichment)
	if err != nil {
		log.Error().Err(err).Msg("quota check failed")
		return c.policy.Failed(env.Attempt, fmt.Errorf("%w: %v", queue.ErrStoreWrite, err))
	}
	if decision == quota.Denied {
		log.Info().Dur("delay", c.cfg.QuotaRetryDelay).Msg("quota exhausted, deferring")
		return queue.Defer(c.cfg.QuotaRetryDelay)
	}

	// Step 3: external lookup, bounded by its own deadline
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	res, err := c.lookup.LookupABV(callCtx, lookup.Request{
		BeerName:    job.BeerName,
		Brewer:      job.Brewer,
		Description: job.Description,
	})
	cancel()
	if err != nil {
		out := c.policy.Failed(env.Attempt, err)
		log.Warn().Err(err).
			Str("error_kind", upstream.Kind(err)).
			Str("outcome", out.String()).
			Msg("abv lookup failed")
		return out
	}

	// Step 4: overwrite the stored ABV; redelivery rewrites the same value
	if err := c.beers.SetABV(ctx, job.BeerID, toABVResult(res)); err != nil {
		if errors.Is(err, beers.ErrNotFound) {
			log.Warn().Msg("beer no longer exists, dropping result")
			return queue.Ack()
		}
		log.Error().Err(err).Msg("abv write failed")
		return c.policy.Failed(env.Attempt, fmt.Errorf("%w: %v", queue.ErrStoreWrite, err))
	}

	ev := log.Info().Bool("found", res.Found).Str("confidence", res.Confidence)
	if res.ABV != nil {
		ev = ev.Float64("abv", *res.ABV)
	}
	ev.Msg("abv recorded")
	return queue.Ack()
}

func toABVResult(res lookup.Result) beers.ABVResult {
	out := beers.ABVResult{
		Confidence: res.Confidence,
		Source:     res.Source,
		Status:     beers.ABVStatusNotFound,
	}
	if res.Found {
		out.ABV = res.ABV
		out.Status = beers.ABVStatusFound
	}
	return out
}
