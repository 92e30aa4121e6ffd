package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
)

// maxDatumsPerCall is the PutMetricData limit.
const maxDatumsPerCall = 1000

// CloudWatchMetricsService buffers datums in memory and ships them on Flush.
// Lambda workers flush once at the end of every invocation.
type CloudWatchMetricsService struct {
	client    aws.CloudWatchAPI
	namespace string
	log       zerolog.Logger
	nowFunc   func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

func newCloudWatchMetricsService(client aws.CloudWatchAPI, namespace string, log *zerolog.Logger) *CloudWatchMetricsService {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "metrics").Logger()
	}
	return &CloudWatchMetricsService{
		client:    client,
		namespace: namespace,
		log:       l,
		nowFunc:   time.Now,
	}
}

func (cms *CloudWatchMetricsService) IncProcessed(pipeline, outcome string) {
	cms.add("MessagesProcessed", 1, cwtypes.StandardUnitCount, dim("Pipeline", pipeline), dim("Outcome", outcome))
}

func (cms *CloudWatchMetricsService) IncQuotaDenied(pipeline string) {
	cms.add("QuotaDenied", 1, cwtypes.StandardUnitCount, dim("Pipeline", pipeline))
}

func (cms *CloudWatchMetricsService) SetQuotaUsage(pipeline, period string, used int64) {
	cms.add("QuotaUsed", float64(used), cwtypes.StandardUnitCount, dim("Pipeline", pipeline), dim("Period", period))
}

func (cms *CloudWatchMetricsService) IncDeadLettered(pipeline, reason string) {
	cms.add("MessagesDeadLettered", 1, cwtypes.StandardUnitCount, dim("Pipeline", pipeline), dim("Reason", reason))
}

func (cms *CloudWatchMetricsService) IncReplayed(pipeline string) {
	cms.add("MessagesReplayed", 1, cwtypes.StandardUnitCount, dim("Pipeline", pipeline))
}

func (cms *CloudWatchMetricsService) IncAlertsSent() {
	cms.add("AlertsSent", 1, cwtypes.StandardUnitCount)
}

func (cms *CloudWatchMetricsService) IncAlertsSuppressed() {
	cms.add("AlertsSuppressed", 1, cwtypes.StandardUnitCount)
}

// Flush sends everything buffered so far. Datums that failed to send are dropped
// after logging; metrics must never fail a consumer.
func (cms *CloudWatchMetricsService) Flush(ctx context.Context) error {
	cms.mu.Lock()
	pending := cms.pending
	cms.pending = nil
	cms.mu.Unlock()

	var firstErr error
	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(pending))
		_, err := cms.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(cms.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			cms.log.Warn().Err(err).Int("datums", end-start).Msg("put metric data failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("put metric data: %w", err)
			}
		}
	}
	return firstErr
}

func (cms *CloudWatchMetricsService) add(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	d := cwtypes.MetricDatum{
		MetricName: sdkaws.String(name),
		Value:      sdkaws.Float64(value),
		Unit:       unit,
		Timestamp:  sdkaws.Time(cms.nowFunc()),
		Dimensions: dims,
	}
	cms.mu.Lock()
	cms.pending = append(cms.pending, d)
	cms.mu.Unlock()
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: sdkaws.String(name), Value: sdkaws.String(value)}
}
