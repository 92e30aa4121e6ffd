// Package trigger enqueues enrichment and cleanup jobs, either from an explicit
// admin request or from a scheduled scan for beers missing data.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
	"github.com/imrishuroy/go-beer-pipeline/internal/beers"
	"github.com/imrishuroy/go-beer-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-beer-pipeline/internal/jobs"
	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

var ErrUnknownPipeline = errors.New("unknown pipeline")

// MaxManualJobs caps one manual enqueue request.
const MaxManualJobs = 500

// Publisher is the batch side of aws.Publisher.
type Publisher interface {
	SendBatch(ctx context.Context, queueURL string, msgs []aws.OutboundMessage) ([]aws.BatchFailure, error)
}

// Result reports one enqueue run.
type Result struct {
	Pipeline  string   `json:"pipeline"`
	Requested int      `json:"requested"`
	Enqueued  int      `json:"enqueued"`
	Skipped   int      `json:"skipped,omitempty"` // already claimed within the recent window
	Failed    []string `json:"failed,omitempty"`  // beer ids that could not be enqueued
}

// Service enqueues jobs onto the pipeline queues.
type Service struct {
	pub    Publisher
	queues map[string]string // pipeline -> queue url
	beers  beers.Store
	claims idempotency.Store
	log    zerolog.Logger
	newID  func() string
}

func NewService(pub Publisher, queues map[string]string, store beers.Store, claims idempotency.Store, log *zerolog.Logger) *Service {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "trigger").Logger()
	}
	return &Service{
		pub:    pub,
		queues: queues,
		beers:  store,
		claims: claims,
		log:    l,
		newID:  uuid.NewString,
	}
}

type pending struct {
	beerID     string
	envelopeID string
	body       []byte
}

// Enqueue validates raw job payloads for pipeline and enqueues all of them.
// One invalid payload rejects the whole request.
func (s *Service) Enqueue(ctx context.Context, pipeline string, raw []json.RawMessage) (Result, error) {
	url, err := s.queueURL(pipeline)
	if err != nil {
		return Result{}, err
	}
	if len(raw) > MaxManualJobs {
		return Result{}, fmt.Errorf("%w: %d jobs exceeds the limit of %d", jobs.ErrInvalidPayload, len(raw), MaxManualJobs)
	}

	items := make([]pending, 0, len(raw))
	for i, r := range raw {
		beerID, body, err := normalize(pipeline, r)
		if err != nil {
			return Result{}, fmt.Errorf("job %d: %w", i, err)
		}
		items = append(items, pending{beerID: beerID, envelopeID: s.newID(), body: body})
	}

	res := Result{Pipeline: pipeline, Requested: len(items)}
	failedIdx, err := s.send(ctx, pipeline, url, items)
	for _, i := range failedIdx {
		res.Failed = append(res.Failed, items[i].beerID)
	}
	res.Enqueued = len(items) - len(failedIdx)

	s.log.Info().Str("pipeline", pipeline).Int("requested", res.Requested).Int("enqueued", res.Enqueued).Msg("manual enqueue")
	return res, err
}

// EnqueueScheduled enqueues up to limit beers missing pipeline's data that
// were not enqueued within the claim window.
func (s *Service) EnqueueScheduled(ctx context.Context, pipeline string, limit int) (Result, error) {
	url, err := s.queueURL(pipeline)
	if err != nil {
		return Result{}, err
	}

	var candidates []beers.Beer
	switch pipeline {
	case jobs.PipelineEnrichment:
		candidates, err = s.beers.ListMissingABV(ctx, limit)
	case jobs.PipelineCleanup:
		candidates, err = s.beers.ListMissingCleanup(ctx, limit)
	}
	if err != nil {
		return Result{}, fmt.Errorf("list %s candidates: %w", pipeline, err)
	}

	res := Result{Pipeline: pipeline, Requested: len(candidates)}
	items := make([]pending, 0, len(candidates))
	for _, b := range candidates {
		claimed, err := s.claims.Claim(ctx, pipeline, b.BeerID)
		if err != nil {
			return res, fmt.Errorf("claim %s: %w", b.BeerID, err)
		}
		if !claimed {
			res.Skipped++
			continue
		}
		body, err := json.Marshal(jobFor(pipeline, b))
		if err != nil {
			return res, fmt.Errorf("marshal job %s: %w", b.BeerID, err)
		}
		items = append(items, pending{beerID: b.BeerID, envelopeID: s.newID(), body: body})
	}

	failedIdx, sendErr := s.send(ctx, pipeline, url, items)
	failed := make(map[int]bool, len(failedIdx))
	for _, i := range failedIdx {
		failed[i] = true
		res.Failed = append(res.Failed, items[i].beerID)
		// release the claim so the next run picks it up
		if err := s.claims.MarkFailed(ctx, pipeline, items[i].beerID, "enqueue failed"); err != nil {
			s.log.Warn().Err(err).Str("beer_id", items[i].beerID).Msg("release claim failed")
		}
	}
	for i, it := range items {
		if failed[i] {
			continue
		}
		res.Enqueued++
		if err := s.claims.MarkDone(ctx, pipeline, it.beerID, it.envelopeID); err != nil {
			s.log.Warn().Err(err).Str("beer_id", it.beerID).Msg("mark claim done failed")
		}
	}

	s.log.Info().
		Str("pipeline", pipeline).
		Int("candidates", res.Requested).
		Int("enqueued", res.Enqueued).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Failed)).
		Msg("scheduled enqueue")
	return res, sendErr
}

func (s *Service) queueURL(pipeline string) (string, error) {
	url, ok := s.queues[pipeline]
	if !ok || url == "" || !jobs.ValidPipeline(pipeline) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPipeline, pipeline)
	}
	return url, nil
}

// send returns the indexes of items that were not enqueued. Every message is
// stamped with pipeline so a redriven dead letter can be traced back to it.
func (s *Service) send(ctx context.Context, pipeline, url string, items []pending) ([]int, error) {
	if len(items) == 0 {
		return nil, nil
	}
	msgs := make([]aws.OutboundMessage, len(items))
	for i, it := range items {
		msgs[i] = aws.OutboundMessage{
			Body: string(it.body),
			Attributes: map[string]string{
				queue.AttrEnvelopeID:     it.envelopeID,
				queue.AttrSourcePipeline: pipeline,
			},
		}
	}

	failures, err := s.pub.SendBatch(ctx, url, msgs)
	idx := make([]int, 0, len(failures))
	for _, f := range failures {
		idx = append(idx, f.Index)
	}
	if len(failures) > 0 {
		s.log.Warn().Str("failures", aws.FormatBatchFailures(failures)).Msg("some jobs were not enqueued")
	}
	if err != nil {
		return idx, fmt.Errorf("enqueue: %w", err)
	}
	return idx, nil
}

// normalize decodes and validates one payload and re-encodes it so only known
// fields reach the queue.
func normalize(pipeline string, raw json.RawMessage) (string, []byte, error) {
	switch pipeline {
	case jobs.PipelineEnrichment:
		job, err := jobs.DecodeEnrichment(raw)
		if err != nil {
			return "", nil, err
		}
		body, err := json.Marshal(job)
		return job.BeerID, body, err
	case jobs.PipelineCleanup:
		job, err := jobs.DecodeCleanup(raw)
		if err != nil {
			return "", nil, err
		}
		body, err := json.Marshal(job)
		return job.BeerID, body, err
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipeline)
	}
}

func jobFor(pipeline string, b beers.Beer) any {
	if pipeline == jobs.PipelineCleanup {
		return jobs.CleanupJob{BeerID: b.BeerID, BeerName: b.Name, Description: b.Description, Brewer: b.Brewer}
	}
	return jobs.EnrichmentJob{BeerID: b.BeerID, BeerName: b.Name, Brewer: b.Brewer, Description: b.Description, Priority: "normal"}
}
