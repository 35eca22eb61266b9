package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsEmitter publishes pass outcome metrics. The dispatcher treats
// metric emission as best-effort; a failed publish never fails a pass.
type MetricsEmitter interface {
	EmitPassMetrics(ctx context.Context, result *PassResult, duration time.Duration)
}

// CloudWatchAPI is the subset of the CloudWatch client the emitter uses.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchEmitter publishes pass metrics to a CloudWatch namespace.
type CloudWatchEmitter struct {
	client    CloudWatchAPI
	namespace string
	service   string
	logger    *slog.Logger
}

var _ MetricsEmitter = (*CloudWatchEmitter)(nil)

// NewCloudWatchEmitter creates a CloudWatch-backed metrics emitter.
func NewCloudWatchEmitter(client CloudWatchAPI, namespace, service string, logger *slog.Logger) *CloudWatchEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchEmitter{
		client:    client,
		namespace: namespace,
		service:   service,
		logger:    logger,
	}
}

// EmitPassMetrics publishes per-pass counters and the pass duration in a
// single PutMetricData call. Errors are logged and swallowed.
func (e *CloudWatchEmitter) EmitPassMetrics(ctx context.Context, result *PassResult, duration time.Duration) {
	now := time.Now().UTC()
	dims := []cwtypes.Dimension{
		{Name: aws.String("Service"), Value: aws.String(e.service)},
	}

	counter := func(name string, value int64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Timestamp:  aws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
			Dimensions: dims,
		}
	}

	data := []cwtypes.MetricDatum{
		counter("SchedulesDue", result.Found),
		counter("EmailsSent", result.Sent),
		counter("EmailsSkipped", result.Skipped),
		counter("EmailsSkippedUnconfigured", result.SkippedUnconfigured),
		counter("SendFailures", result.SendFailures),
		counter("SchedulesExhausted", result.Exhausted),
		{
			MetricName: aws.String("PassDuration"),
			Timestamp:  aws.Time(now),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Dimensions: dims,
		},
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(e.namespace),
		MetricData: data,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish pass metrics", "error", err)
	}
}

// NoopEmitter discards all metrics. Used when no namespace is configured.
type NoopEmitter struct{}

var _ MetricsEmitter = (*NoopEmitter)(nil)

// EmitPassMetrics does nothing.
func (NoopEmitter) EmitPassMetrics(context.Context, *PassResult, time.Duration) {}
