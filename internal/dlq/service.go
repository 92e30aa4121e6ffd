package dlq

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
	"github.com/imrishuroy/go-beer-pipeline/internal/metrics"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

// Per-id results reported by Replay and Acknowledge.
const (
	ResultReplayed     = "replayed"
	ResultAcknowledged = "acknowledged"
	ResultSkipped      = "skipped"
	ResultNotFound     = "not_found"
	ResultFailed       = "failed"
)

// Publisher enqueues replayed payloads.
type Publisher interface {
	Send(ctx context.Context, queueURL string, msg aws.OutboundMessage) (string, error)
}

// ItemResult is the outcome of one id in an admin operation.
type ItemResult struct {
	MessageID       string `json:"message_id"`
	Result          string `json:"result"`
	Status          Status `json:"status,omitempty"`
	ReplayMessageID string `json:"replay_message_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Report summarises an admin operation over a set of ids.
type Report struct {
	Counts  map[string]int `json:"counts"`
	Results []ItemResult   `json:"results"`
}

func (r *Report) add(res ItemResult) {
	r.Counts[res.Result]++
	r.Results = append(r.Results, res)
}

// Service is the admin surface over the dead-letter store.
type Service struct {
	store   Store
	pub     Publisher
	queues  map[string]string // pipeline -> queue url
	metrics metrics.Service
	log     zerolog.Logger
	newID   func() string
}

func NewService(store Store, pub Publisher, queues map[string]string, m metrics.Service, log *zerolog.Logger) *Service {
	if m == nil {
		m = metrics.NewNoopMetricsService()
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "dlq").Logger()
	}
	return &Service{
		store:   store,
		pub:     pub,
		queues:  queues,
		metrics: m,
		log:     l,
		newID:   uuid.NewString,
	}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	return s.store.List(ctx, f)
}

// Replay re-enqueues every pending record in ids onto its source pipeline and
// marks it replayed. Records in any other status are skipped. The status is
// claimed before the send, so concurrent replays of one id enqueue at most once;
// a failed send puts the record back to pending.
func (s *Service) Replay(ctx context.Context, ids []string) (Report, error) {
	report := Report{Counts: map[string]int{}}
	for _, id := range dedupe(ids) {
		res, err := s.replayOne(ctx, id)
		if err != nil {
			return report, err
		}
		report.add(res)
	}
	return report, nil
}

func (s *Service) replayOne(ctx context.Context, id string) (ItemResult, error) {
	log := s.log.With().Str("message_id", id).Logger()

	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ItemResult{MessageID: id, Result: ResultNotFound}, nil
	}
	if err != nil {
		return ItemResult{}, fmt.Errorf("replay %s: %w", id, err)
	}
	if rec.Status != StatusPending {
		return ItemResult{MessageID: id, Result: ResultSkipped, Status: rec.Status}, nil
	}

	url, ok := s.queues[rec.SourcePipeline]
	if !ok || url == "" {
		log.Error().Str("pipeline", rec.SourcePipeline).Msg("no queue for source pipeline")
		return ItemResult{MessageID: id, Result: ResultFailed, Status: rec.Status,
			Error: fmt.Sprintf("no queue configured for pipeline %q", rec.SourcePipeline)}, nil
	}

	// Step 1: claim pending -> replayed
	if err := s.store.Transition(ctx, id, StatusPending, StatusReplayed); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			cur := StatusReplayed
			if again, gerr := s.store.Get(ctx, id); gerr == nil {
				cur = again.Status
			}
			return ItemResult{MessageID: id, Result: ResultSkipped, Status: cur}, nil
		}
		return ItemResult{}, fmt.Errorf("replay %s: %w", id, err)
	}

	// Step 2: enqueue a fresh envelope with the original payload
	envelopeID := s.newID()
	msgID, err := s.pub.Send(ctx, url, aws.OutboundMessage{
		Body: rec.Payload,
		Attributes: map[string]string{
			queue.AttrEnvelopeID:     envelopeID,
			queue.AttrPriorAttempts:  strconv.Itoa(0),
			queue.AttrSourcePipeline: rec.SourcePipeline,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("replay enqueue failed, reverting to pending")
		if rerr := s.store.Transition(ctx, id, StatusReplayed, StatusPending); rerr != nil {
			log.Error().Err(rerr).Msg("revert to pending failed")
		}
		return ItemResult{MessageID: id, Result: ResultFailed, Status: StatusPending, Error: err.Error()}, nil
	}

	// Step 3: remember where it went
	if err := s.store.SetReplayMessageID(ctx, id, msgID); err != nil {
		log.Warn().Err(err).Str("replay_message_id", msgID).Msg("record replay message id failed")
	}
	s.metrics.IncReplayed(rec.SourcePipeline)
	log.Info().
		Str("pipeline", rec.SourcePipeline).
		Str("replay_message_id", msgID).
		Str("envelope_id", envelopeID).
		Msg("dead letter replayed")

	return ItemResult{MessageID: id, Result: ResultReplayed, Status: StatusReplayed, ReplayMessageID: msgID}, nil
}

// Acknowledge marks every record in ids acknowledged, whatever its status.
func (s *Service) Acknowledge(ctx context.Context, ids []string) (Report, error) {
	report := Report{Counts: map[string]int{}}
	for _, id := range dedupe(ids) {
		err := s.store.Acknowledge(ctx, id)
		switch {
		case err == nil:
			report.add(ItemResult{MessageID: id, Result: ResultAcknowledged, Status: StatusAcknowledged})
		case errors.Is(err, ErrNotFound):
			report.add(ItemResult{MessageID: id, Result: ResultNotFound})
		default:
			return report, fmt.Errorf("acknowledge %s: %w", id, err)
		}
	}
	s.log.Info().Int("acknowledged", report.Counts[ResultAcknowledged]).Int("not_found", report.Counts[ResultNotFound]).Msg("dead letters acknowledged")
	return report, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
