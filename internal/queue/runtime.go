package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
	"github.com/imrishuroy/go-beer-pipeline/internal/metrics"
)

// Sender is the subset of aws.Publisher the runtime needs.
type Sender interface {
	Send(ctx context.Context, queueURL string, msg aws.OutboundMessage) (string, error)
	ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeout time.Duration) error
}

// Handler processes one envelope.
type Handler func(ctx context.Context, env Envelope) Outcome

// BatchHandler processes a whole batch and returns one Outcome per envelope,
// in the same order.
type BatchHandler func(ctx context.Context, envs []Envelope) []Outcome

type RuntimeConfig struct {
	Pipeline string
	QueueURL string
	// DeadLetterQueueURL receives explicit dead letters. When empty, dead
	// letters are reported as batch failures and left to the queue's redrive policy.
	DeadLetterQueueURL string
}

// Runtime turns Outcomes into SQS actions and a partial batch response.
type Runtime struct {
	cfg     RuntimeConfig
	sender  Sender
	metrics metrics.Service
	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewRuntime(cfg RuntimeConfig, sender Sender, m metrics.Service, log *zerolog.Logger) *Runtime {
	if m == nil {
		m = metrics.NewNoopMetricsService()
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "queue").Str("pipeline", cfg.Pipeline).Logger()
	}
	return &Runtime{
		cfg:     cfg,
		sender:  sender,
		metrics: m,
		log:     l,
		nowFunc: time.Now,
	}
}

// HandleEach runs h over the records one at a time.
func (r *Runtime) HandleEach(ctx context.Context, ev events.SQSEvent, h Handler) events.SQSEventResponse {
	envs := r.envelopes(ev)
	outcomes := make([]Outcome, len(envs))
	for i, env := range envs {
		outcomes[i] = r.safeHandle(ctx, env, h)
	}
	return r.settle(ctx, envs, outcomes)
}

// HandleBatch hands every record to h in one call.
func (r *Runtime) HandleBatch(ctx context.Context, ev events.SQSEvent, h BatchHandler) events.SQSEventResponse {
	envs := r.envelopes(ev)
	outcomes := r.safeHandleBatch(ctx, envs, h)
	return r.settle(ctx, envs, outcomes)
}

func (r *Runtime) envelopes(ev events.SQSEvent) []Envelope {
	envs := make([]Envelope, 0, len(ev.Records))
	for _, rec := range ev.Records {
		envs = append(envs, FromSQS(rec))
	}
	r.log.Debug().Int("records", len(envs)).Msg("received batch")
	return envs
}

func (r *Runtime) safeHandle(ctx context.Context, env Envelope, h Handler) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("message_id", env.MessageID).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			out = RetryAfter(0)
		}
	}()
	return h(ctx, env)
}

func (r *Runtime) safeHandleBatch(ctx context.Context, envs []Envelope, h BatchHandler) (out []Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("batch handler panicked")
			out = make([]Outcome, len(envs))
			for i := range out {
				out[i] = RetryAfter(0)
			}
		}
	}()
	out = h(ctx, envs)
	if len(out) != len(envs) {
		r.log.Error().Int("records", len(envs)).Int("outcomes", len(out)).Msg("outcome count mismatch, retrying unmatched records")
		fixed := make([]Outcome, len(envs))
		for i := range fixed {
			if i < len(out) {
				fixed[i] = out[i]
			} else {
				fixed[i] = RetryAfter(0)
			}
		}
		out = fixed
	}
	return out
}

func (r *Runtime) settle(ctx context.Context, envs []Envelope, outcomes []Outcome) events.SQSEventResponse {
	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for i, env := range envs {
		o := outcomes[i]
		r.metrics.IncProcessed(r.cfg.Pipeline, o.Action().String())
		if !r.apply(ctx, env, o) {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: env.MessageID,
			})
		}
	}
	return resp
}

// apply performs the side effects of o and reports whether the record may be
// deleted from the source queue.
func (r *Runtime) apply(ctx context.Context, env Envelope, o Outcome) bool {
	log := r.log.With().
		Str("message_id", env.MessageID).
		Str("envelope_id", env.ID).
		Int("attempt", env.Attempt).
		Logger()

	switch o.Action() {
	case ActionAck:
		return true

	case ActionRetry:
		r.changeVisibility(ctx, env, o.Delay(), log)
		log.Info().Dur("delay", o.Delay()).Msg("retry scheduled")
		return false

	case ActionDefer:
		r.metrics.IncQuotaDenied(r.cfg.Pipeline)
		// this delivery is not charged
		prior := map[string]string{AttrPriorAttempts: strconv.Itoa(max(env.Attempt-1, 0))}
		if err := r.requeue(ctx, env, o.Delay(), prior); err != nil {
			// fall back to plain redelivery; this charges an attempt but keeps the message
			log.Warn().Err(err).Msg("deferred re-enqueue failed, falling back to visibility delay")
			r.changeVisibility(ctx, env, o.Delay(), log)
			return false
		}
		log.Info().Dur("delay", o.Delay()).Msg("message deferred")
		return true

	case ActionRequeue:
		if err := r.requeue(ctx, env, o.Delay(), o.Attributes()); err != nil {
			log.Warn().Err(err).Msg("re-enqueue failed, falling back to visibility delay")
			r.changeVisibility(ctx, env, o.Delay(), log)
			return false
		}
		log.Info().Dur("delay", o.Delay()).Msg("message requeued")
		return true

	case ActionDeadLetter:
		r.metrics.IncDeadLettered(r.cfg.Pipeline, o.Kind())
		if r.cfg.DeadLetterQueueURL == "" {
			log.Warn().Str("kind", o.Kind()).Str("reason", o.Reason()).Msg("no dead-letter queue configured, leaving to redrive policy")
			return false
		}
		if err := r.deadLetter(ctx, env, o); err != nil {
			log.Error().Err(err).Str("reason", o.Reason()).Msg("dead-letter publish failed, leaving to redrive policy")
			return false
		}
		log.Warn().Str("kind", o.Kind()).Str("reason", o.Reason()).Msg("message dead-lettered")
		return true

	default:
		log.Error().Str("outcome", o.String()).Msg("unknown outcome, retrying")
		return false
	}
}

func (r *Runtime) changeVisibility(ctx context.Context, env Envelope, d time.Duration, log zerolog.Logger) {
	if env.ReceiptHandle == "" || r.cfg.QueueURL == "" {
		return
	}
	if err := r.sender.ChangeVisibility(ctx, r.cfg.QueueURL, env.ReceiptHandle, d); err != nil {
		// the default visibility timeout still applies
		log.Warn().Err(err).Msg("change visibility failed")
	}
}

func (r *Runtime) requeue(ctx context.Context, env Envelope, d time.Duration, set map[string]string) error {
	if r.cfg.QueueURL == "" {
		return fmt.Errorf("requeue: no queue url")
	}
	attrs := copyAttrs(env.Attributes)
	for k, v := range set {
		attrs[k] = v
	}
	attrs[AttrEnvelopeID] = env.ID

	_, err := r.sender.Send(ctx, r.cfg.QueueURL, aws.OutboundMessage{
		Body:       string(env.Body),
		Attributes: attrs,
		Delay:      d,
	})
	return err
}

func (r *Runtime) deadLetter(ctx context.Context, env Envelope, o Outcome) error {
	attrs := copyAttrs(env.Attributes)
	attrs[AttrEnvelopeID] = env.ID
	attrs[AttrSourcePipeline] = r.cfg.Pipeline
	attrs[AttrSourceMessageID] = env.MessageID
	attrs[AttrFailureKind] = o.Kind()
	attrs[AttrFailureReason] = truncate(o.Reason(), 1024)
	attrs[AttrFailureCount] = strconv.Itoa(env.Attempt)
	attrs[AttrFailedAt] = r.nowFunc().UTC().Format(time.RFC3339)
	delete(attrs, AttrPriorAttempts)

	_, err := r.sender.Send(ctx, r.cfg.DeadLetterQueueURL, aws.OutboundMessage{
		Body:       string(env.Body),
		Attributes: attrs,
	})
	return err
}

func copyAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+8)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
