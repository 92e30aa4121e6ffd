package alerting

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/metrics"
)

type ProcessorConfig struct {
	Service   string
	MaxTraces int
}

// Processor filters a batch of traces, groups the errors by fingerprint and
// sends one alert per group that is not cooling down.
type Processor struct {
	cfg      ProcessorConfig
	cooldown *Cooldown
	notifier Notifier
	metrics  metrics.Service
	log      zerolog.Logger
	nowFunc  func() time.Time
}

func NewProcessor(cfg ProcessorConfig, cooldown *Cooldown, notifier Notifier, m metrics.Service, log *zerolog.Logger) *Processor {
	if cfg.MaxTraces <= 0 {
		cfg.MaxTraces = DefaultMaxTraces
	}
	if m == nil {
		m = metrics.NewNoopMetricsService()
	}
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "alerts").Logger()
	}
	return &Processor{
		cfg:      cfg,
		cooldown: cooldown,
		notifier: notifier,
		metrics:  m,
		log:      l,
		nowFunc:  time.Now,
	}
}

// Process never fails. Each group is delivered on its own; for groups whose
// alert could not be built or delivered a minimal alert with only their error
// count is sent, and if that fails too the event is logged and dropped.
func (p *Processor) Process(ctx context.Context, traces []Trace) {
	errs := ErrorTraces(traces)
	if len(errs) == 0 {
		return
	}

	now := p.nowFunc()
	failed := 0
	for _, g := range groupByFingerprint(errs) {
		if err := p.sendGroup(ctx, g, now); err != nil {
			p.log.Error().Err(err).Str("fingerprint", g.key).Int("traces", len(g.traces)).Msg("alert processing failed")
			failed += len(g.traces)
		}
	}
	if failed > 0 {
		p.fallback(ctx, failed)
	}
}

// sendGroup releases the cooldown window it was granted when the alert does
// not go out, so the next occurrence is not silenced.
func (p *Processor) sendGroup(ctx context.Context, g traceGroup, now time.Time) (err error) {
	log := p.log.With().Str("fingerprint", g.key).Int("traces", len(g.traces)).Logger()

	granted := false
	suppressed := 0
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("alert processing panicked")
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil && granted {
			if rerr := p.cooldown.Release(ctx, g.key, now, suppressed); rerr != nil {
				log.Warn().Err(rerr).Msg("cooldown release failed")
			}
		}
	}()

	send, err := p.cooldown.ShouldSend(ctx, g.key, now)
	if err != nil {
		// without cooldown state, alert rather than stay silent
		log.Warn().Err(err).Msg("cooldown check failed, sending anyway")
		send = true
	}
	if !send {
		p.metrics.IncAlertsSuppressed()
		log.Debug().Msg("alert suppressed by cooldown")
		return nil
	}
	granted = true

	suppressed, err = p.cooldown.DrainSuppressedCount(ctx, g.key)
	if err != nil {
		log.Warn().Err(err).Msg("drain suppressed count failed")
		suppressed = 0
	}

	alert := Alert{
		Service: p.cfg.Service,
		Subject: BuildSubject(p.cfg.Service, g.traces),
		Body:    BuildBody(g.traces, p.cfg.MaxTraces, suppressed),
	}
	if err := p.notifier.Notify(ctx, alert); err != nil {
		return fmt.Errorf("notify %s: %w", g.key, err)
	}
	p.metrics.IncAlertsSent()
	log.Info().Int("suppressed", suppressed).Msg("alert sent")
	return nil
}

func (p *Processor) fallback(ctx context.Context, count int) {
	alert := Alert{
		Service:  p.cfg.Service,
		Subject:  fmt.Sprintf("[%s] %d error trace(s)", p.cfg.Service, count),
		Body:     fmt.Sprintf("%d error trace(s) received; details could not be rendered or delivered.", count),
		Fallback: true,
	}
	if err := p.notifier.Notify(ctx, alert); err != nil {
		p.log.Error().Err(err).Int("error_traces", count).Msg("fallback alert failed, dropping")
		return
	}
	p.metrics.IncAlertsSent()
}

type traceGroup struct {
	key    string
	traces []Trace
}

// groupByFingerprint keeps groups in order of first appearance.
func groupByFingerprint(ts []Trace) []traceGroup {
	index := map[string]int{}
	var groups []traceGroup
	for _, t := range ts {
		key := Fingerprint(t)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, traceGroup{key: key})
		}
		groups[i].traces = append(groups[i].traces, t)
	}
	return groups
}
