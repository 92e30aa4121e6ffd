package dlq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

// ConsumerConfig tunes the dead-letter queue consumer.
type ConsumerConfig struct {
	// MaxAttempts is the store-write budget before a record is logged and
	// dropped. It is counted on the dead-letter queue alone.
	MaxAttempts int
	Backoff     *queue.Backoff
	// DefaultSource names the pipeline for messages that carry no
	// source_pipeline attribute at all, such as ones sent to a pipeline queue
	// by hand and then redriven.
	DefaultSource string
}

// Consumer drains the dead-letter queue into the Store.
type Consumer struct {
	cfg     ConsumerConfig
	store   Store
	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewConsumer(cfg ConsumerConfig, store Store, log *zerolog.Logger) *Consumer {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "dlq-consumer").Logger()
	}
	return &Consumer{cfg: cfg, store: store, log: l, nowFunc: time.Now}
}

// Handle records one dead letter. A failing insert is retried within the
// consumer's own budget, then logged and dropped. The budget ignores
// env.Attempt: a redriven message still carries the source queue's counts.
func (c *Consumer) Handle(ctx context.Context, env queue.Envelope) queue.Outcome {
	rec := c.recordFrom(env)
	attempt := localAttempt(env)
	log := c.log.With().
		Str("message_id", rec.MessageID).
		Str("pipeline", rec.SourcePipeline).
		Str("beer_id", rec.BeerID).
		Int("attempt", attempt).
		Logger()

	if err := c.store.Insert(ctx, rec); err != nil {
		if attempt >= c.cfg.MaxAttempts {
			log.Error().Err(err).
				Str("failure_reason", rec.FailureReason).
				Str("payload", rec.Payload).
				Msg("dead-letter insert failed, budget exhausted, dropping")
			return queue.Ack()
		}
		delay := time.Second
		if c.cfg.Backoff != nil {
			delay = c.cfg.Backoff.Duration(attempt)
		}
		log.Warn().Err(err).Dur("delay", delay).Msg("dead-letter insert failed, retrying")
		return queue.Requeue(delay, map[string]string{
			queue.AttrDeadLetterAttempts: strconv.Itoa(attempt),
		})
	}

	log.Info().Str("failure_kind", rec.FailureKind).Int("failure_count", rec.FailureCount).Msg("dead letter recorded")
	return queue.Ack()
}

// localAttempt is 1 on the first delivery to the dead-letter queue.
func localAttempt(env queue.Envelope) int {
	n, err := strconv.Atoi(env.Attributes[queue.AttrDeadLetterAttempts])
	if err != nil || n < 0 {
		return 1
	}
	return n + 1
}

func (c *Consumer) recordFrom(env queue.Envelope) Record {
	ref := jobs.RefFromPayload(env.Body)
	attrs := env.Attributes

	rec := Record{
		MessageID:      env.ID,
		BeerID:         ref.BeerID,
		BeerName:       ref.BeerName,
		Brewer:         ref.Brewer,
		FailureReason:  attrs[queue.AttrFailureReason],
		FailureKind:    attrs[queue.AttrFailureKind],
		SourcePipeline: attrs[queue.AttrSourcePipeline],
		Payload:        string(env.Body),
	}
	if n, err := strconv.Atoi(attrs[queue.AttrFailureCount]); err == nil {
		rec.FailureCount = n
	}
	if t, err := time.Parse(time.RFC3339, attrs[queue.AttrFailedAt]); err == nil {
		rec.FailedAt = t.UTC()
	} else if !env.SentAt.IsZero() {
		rec.FailedAt = env.SentAt
	} else {
		rec.FailedAt = c.nowFunc().UTC()
	}

	if rec.SourcePipeline == "" {
		rec.SourcePipeline = c.cfg.DefaultSource
	}
	if rec.FailureReason == "" {
		rec.FailureKind = queue.KindExhausted
		rec.FailureReason = fmt.Sprintf("redriven by %s queue after exhausting its receive count", rec.SourcePipeline)
	}
	return rec
}
