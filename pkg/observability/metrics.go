package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRunsTotal         = "dhpolar.runs.total"
	metricRunDuration       = "dhpolar.run.duration.seconds"
	metricErrorsTotal       = "dhpolar.errors.total"
	metricStoreBytesRead    = "dhpolar.store.bytes.read"
	metricStoreBytesWritten = "dhpolar.store.bytes.written"

	attrFunctional = "functional"
	attrStatus     = "status"

	statusError = "error"
	statusOK    = "ok"
)

// durationBucketBoundaries covers 10ms to 600s; a run spans sub-second
// model problems up to multi-minute paged pipelines.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// RunMetrics holds the OTel instruments recorded once per pipeline run.
type RunMetrics struct {
	runsTotal         metric.Int64Counter
	runDuration       metric.Float64Histogram
	errorsTotal       metric.Int64Counter
	storeBytesRead    metric.Int64Counter
	storeBytesWritten metric.Int64Counter
}

// NewRunMetrics creates run metric instruments from the given meter.
func NewRunMetrics(mt metric.Meter) (*RunMetrics, error) {
	runs, err := mt.Int64Counter(metricRunsTotal,
		metric.WithDescription("Total number of pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricRunDuration,
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of failed runs"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	bytesRead, err := mt.Int64Counter(metricStoreBytesRead,
		metric.WithDescription("Bytes read back from the tensor store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStoreBytesRead, err)
	}

	bytesWritten, err := mt.Int64Counter(metricStoreBytesWritten,
		metric.WithDescription("Bytes written to the tensor store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStoreBytesWritten, err)
	}

	return &RunMetrics{
		runsTotal:         runs,
		runDuration:       duration,
		errorsTotal:       errTotal,
		storeBytesRead:    bytesRead,
		storeBytesWritten: bytesWritten,
	}, nil
}

// RecordRun records a completed pipeline run with its functional and outcome.
func (rm *RunMetrics) RecordRun(ctx context.Context, functional string, runErr error, duration time.Duration) {
	status := statusOK
	if runErr != nil {
		status = statusError
	}

	attrs := metric.WithAttributes(
		attribute.String(attrFunctional, functional),
		attribute.String(attrStatus, status),
	)

	rm.runsTotal.Add(ctx, 1, attrs)
	rm.runDuration.Record(ctx, duration.Seconds(), attrs)

	if runErr != nil {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrFunctional, functional),
		))
	}
}

// RecordStoreTraffic records cumulative store read and write volume.
func (rm *RunMetrics) RecordStoreTraffic(ctx context.Context, read, written int64) {
	rm.storeBytesRead.Add(ctx, read)
	rm.storeBytesWritten.Add(ctx, written)
}
