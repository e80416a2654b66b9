package external

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"presto/internal/quota"
	"presto/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	// metricsBufferSize bounds the pending datum queue. RecordReservation
	// drops on overflow rather than block a reservation.
	metricsBufferSize = 256

	// metricsFlushInterval is how often buffered data is shipped. CloudWatch
	// also caps PutMetricData at 1000 datums per call; our batches stay far
	// below that.
	metricsFlushInterval = 30 * time.Second

	metricsFlushBatch = 150
)

// cloudWatchAPI is the slice of the CloudWatch client we call, split out so
// tests can substitute a recorder.
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements quota.MetricsCollector by batching usage
// datums through a buffered channel to a single publisher goroutine.
// Everything about it is best effort: a full buffer drops the datum, a
// failed publish is logged and forgotten, and the ledger never waits on it.
type CloudWatchMetrics struct {
	client    cloudWatchAPI
	namespace string
	logger    *slog.Logger

	datums chan cwtypes.MetricDatum
	done   chan struct{}
	once   sync.Once
}

// NewCloudWatchMetrics builds the collector and starts its publisher. The
// context is used only for AWS credential/region resolution at startup.
func NewCloudWatchMetrics(ctx context.Context, region, namespace string, logger *slog.Logger) (*CloudWatchMetrics, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return newCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), namespace, logger), nil
}

func newCloudWatchMetrics(client cloudWatchAPI, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	m := &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		datums:    make(chan cwtypes.MetricDatum, metricsBufferSize),
		done:      make(chan struct{}),
	}
	go m.publishLoop()
	return m
}

// RecordReservation implements quota.MetricsCollector. Non-blocking.
func (m *CloudWatchMetrics) RecordReservation(identity types.Identity, outcome string, costUnits int) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String("QuotaReservation"),
		Value:      aws.Float64(float64(costUnits)),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(time.Now().UTC()),
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Outcome"), Value: aws.String(outcome)},
			{Name: aws.String("IdentityKind"), Value: aws.String(string(identity.Kind))},
		},
	}

	select {
	case m.datums <- datum:
	default:
		// Buffer full. Telemetry loses; requests do not.
	}
}

// Close stops the publisher after a final flush of whatever is buffered.
func (m *CloudWatchMetrics) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *CloudWatchMetrics) publishLoop() {
	ticker := time.NewTicker(metricsFlushInterval)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, metricsFlushBatch)
	for {
		select {
		case d := <-m.datums:
			batch = append(batch, d)
			if len(batch) >= metricsFlushBatch {
				m.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(batch)
				batch = batch[:0]
			}
		case <-m.done:
			for {
				select {
				case d := <-m.datums:
					batch = append(batch, d)
				default:
					if len(batch) > 0 {
						m.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (m *CloudWatchMetrics) flush(batch []cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil {
		m.logger.Warn("cloudwatch metric publish failed", "count", len(batch), "error", err)
	}
}

// Compile-time assertion that CloudWatchMetrics satisfies the ledger's
// collector contract.
var _ quota.MetricsCollector = (*CloudWatchMetrics)(nil)
