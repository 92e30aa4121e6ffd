package metrics

import "context"

type NoopMetricsService struct {
}

func NewNoopMetricsService() *NoopMetricsService {
	return &NoopMetricsService{}
}

func (nms *NoopMetricsService) IncProcessed(pipeline, outcome string) {
	// no-op
}

func (nms *NoopMetricsService) IncQuotaDenied(pipeline string) {
	// no-op
}

func (nms *NoopMetricsService) SetQuotaUsage(pipeline, period string, used int64) {
	// no-op
}

func (nms *NoopMetricsService) IncDeadLettered(pipeline, reason string) {
	// no-op
}

func (nms *NoopMetricsService) IncReplayed(pipeline string) {
	// no-op
}

func (nms *NoopMetricsService) IncAlertsSent() {
	// no-op
}

func (nms *NoopMetricsService) IncAlertsSuppressed() {
	// no-op
}

func (nms *NoopMetricsService) Flush(ctx context.Context) error {
	return nil
}
