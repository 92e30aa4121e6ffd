// Package cleanup rewrites beer descriptions in batches.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/beers"
	"github.com/imrishuroy/go-beer-pipeline/internal/concurrency"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/platform/gemini"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
	"github.com/imrishuroy/go-beer-pipeline/internal/quota"
	"github.com/imrishuroy/go-beer-pipeline/internal/upstream"
)

// Cleaner is the external rewrite service.
type Cleaner interface {
	Clean(ctx context.Context, req gemini.Request) (string, error)
}

// Admitter gates each external call.
type Admitter interface {
	TryAdmit(ctx context.Context, pipeline string) (quota.Decision, error)
}

type Config struct {
	MaxAttempts     int
	Concurrency     int
	QuotaRetryDelay time.Duration
	CallTimeout     time.Duration
	Backoff         *queue.Backoff
}

// Consumer handles cleanup batches.
type Consumer struct {
	cfg     Config
	policy  queue.RetryPolicy
	admit   Admitter
	cleaner Cleaner
	beers   beers.Store
	log     zerolog.Logger
}

func NewConsumer(cfg Config, admit Admitter, cleaner Cleaner, store beers.Store, log *zerolog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = concurrency.DefaultLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "cleanup").Logger()
	}
	return &Consumer{
		cfg:     cfg,
		policy:  queue.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		admit:   admit,
		cleaner: cleaner,
		beers:   store,
		log:     l,
	}
}

// HandleBatch processes envs with at most Concurrency items in flight and
// returns one Outcome per envelope. Items succeed or fail independently.
func (c *Consumer) HandleBatch(ctx context.Context, envs []queue.Envelope) []queue.Outcome {
	outcomes := make([]queue.Outcome, len(envs))
	tasks := make([]concurrency.Task, len(envs))
	for i := range envs {
		tasks[i] = func(ctx context.Context) error {
			outcomes[i] = c.handle(ctx, envs[i])
			return nil
		}
	}

	errs := concurrency.Run(ctx, c.cfg.Concurrency, tasks)
	for i, err := range errs {
		if err == nil {
			continue
		}
		// the task panicked or never started
		c.log.Error().Err(err).Str("message_id", envs[i].MessageID).Msg("cleanup task did not complete")
		outcomes[i] = c.policy.Failed(envs[i].Attempt, err)
	}

	c.log.Info().Int("records", len(envs)).Int("acked", countAcked(outcomes)).Msg("cleanup batch settled")
	return outcomes
}

func (c *Consumer) handle(ctx context.Context, env queue.Envelope) queue.Outcome {
	log := c.log.With().
		Str("message_id", env.MessageID).
		Str("envelope_id", env.ID).
		Int("attempt", env.Attempt).
		Logger()

	job, err := jobs.DecodeCleanup(env.Body)
	if err != nil {
		log.Error().Err(err).Msg("invalid cleanup payload")
		return queue.DeadLetter(queue.KindInvalidPayload, err.Error())
	}
	log = log.With().Str("beer_id", job.BeerID).Logger()

	decision, err := c.admit.TryAdmit(ctx, jobs.PipelineCleanup)
	if err != nil {
		log.Error().Err(err).Msg("quota check failed")
		return c.policy.Failed(env.Attempt, fmt.Errorf("%w: %v", queue.ErrStoreWrite, err))
	}
	if decision == quota.Denied {
		log.Info().Dur("delay", c.cfg.QuotaRetryDelay).Msg("quota exhausted, deferring")
		return queue.Defer(c.cfg.QuotaRetryDelay)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	text, err := c.cleaner.Clean(callCtx, gemini.Request{
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
			Msg("description cleanup failed")
		return out
	}

	if err := c.beers.SetCleanedDescription(ctx, job.BeerID, text); err != nil {
		if errors.Is(err, beers.ErrNotFound) {
			log.Warn().Msg("beer no longer exists, dropping result")
			return queue.Ack()
		}
		log.Error().Err(err).Msg("cleaned description write failed")
		return c.policy.Failed(env.Attempt, fmt.Errorf("%w: %v", queue.ErrStoreWrite, err))
	}

	log.Debug().Int("length", len(text)).Msg("description cleaned")
	return queue.Ack()
}

func countAcked(outcomes []queue.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Action() == queue.ActionAck {
			n++
		}
	}
	return n
}
