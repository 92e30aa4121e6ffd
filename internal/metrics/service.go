package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
)

const (
	BackendPrometheus = "prometheus"
	BackendCloudWatch = "cloudwatch"
	BackendNoop       = "noop"
)

// Period labels used for quota usage gauges.
const (
	PeriodDay   = "day"
	PeriodMonth = "month"
)

// Service records pipeline activity. Implementations must be safe for concurrent use.
type Service interface {
	IncProcessed(pipeline, outcome string)
	IncQuotaDenied(pipeline string)
	SetQuotaUsage(pipeline, period string, used int64)
	IncDeadLettered(pipeline, reason string)
	IncReplayed(pipeline string)
	IncAlertsSent()
	IncAlertsSuppressed()
	// Flush pushes buffered data points. Backends that scrape return nil.
	Flush(ctx context.Context) error
}

// Options carries what the non-noop backends need.
type Options struct {
	Namespace  string
	Registerer prometheus.Registerer
	CloudWatch aws.CloudWatchAPI
	Logger     *zerolog.Logger
}

func NewMetricsService(backend string, opts Options) (Service, error) {
	switch backend {
	case BackendPrometheus:
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		return newPrometheusMetricsService(opts.Namespace, reg)
	case BackendCloudWatch:
		if opts.CloudWatch == nil {
			return nil, fmt.Errorf("metrics: cloudwatch backend requires a client")
		}
		return newCloudWatchMetricsService(opts.CloudWatch, opts.Namespace, opts.Logger), nil
	case BackendNoop, "":
		return NewNoopMetricsService(), nil
	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", backend)
	}
}
