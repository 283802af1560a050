package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricUnitsTotal     = "genexbench.units.total"
	metricUnitDuration   = "genexbench.unit.duration.seconds"
	metricSkippedTotal   = "genexbench.units.skipped.total"
	metricDatasetsTotal  = "genexbench.datasets.total"
	metricEngineFailures = "genexbench.engine.failures.total"

	attrMethod = "method"
	attrStatus = "status"
	attrReason = "reason"

	// StatusOK and StatusError label finished units and datasets.
	StatusOK    = "ok"
	StatusError = "error"

	// Skip reasons.
	SkipRecorded        = "recorded"
	SkipArtifactMissing = "artifact_missing"
	SkipNoBaseline      = "no_baseline"
	SkipDryRun          = "dry_run"
)

// durationBucketBoundaries covers 1ms to 2h: single queries on small
// datasets up to grouping sweeps on the largest ones.
var durationBucketBoundaries = []float64{
	0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200,
}

// RunMetrics holds the OTel instruments for experiment and grouping runs.
// A unit is one query under one method, or one (distance, threshold) grouping.
type RunMetrics struct {
	unitsTotal     metric.Int64Counter
	unitDuration   metric.Float64Histogram
	skippedTotal   metric.Int64Counter
	datasetsTotal  metric.Int64Counter
	engineFailures metric.Int64Counter
}

// NewRunMetrics creates run metric instruments from the given meter.
func NewRunMetrics(mt metric.Meter) (*RunMetrics, error) {
	units, err := mt.Int64Counter(metricUnitsTotal,
		metric.WithDescription("Units of work executed"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricUnitsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricUnitDuration,
		metric.WithDescription("Wall-clock duration of one unit in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricUnitDuration, err)
	}

	skipped, err := mt.Int64Counter(metricSkippedTotal,
		metric.WithDescription("Units skipped, by reason"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSkippedTotal, err)
	}

	datasets, err := mt.Int64Counter(metricDatasetsTotal,
		metric.WithDescription("Datasets processed"),
		metric.WithUnit("{dataset}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDatasetsTotal, err)
	}

	failures, err := mt.Int64Counter(metricEngineFailures,
		metric.WithDescription("Engine calls that returned an error"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEngineFailures, err)
	}

	return &RunMetrics{
		unitsTotal:     units,
		unitDuration:   duration,
		skippedTotal:   skipped,
		datasetsTotal:  datasets,
		engineFailures: failures,
	}, nil
}

// RecordUnit records one executed unit. Safe to call on a nil receiver.
func (rm *RunMetrics) RecordUnit(ctx context.Context, method string, elapsed time.Duration) {
	if rm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrMethod, method))

	rm.unitsTotal.Add(ctx, 1, attrs)
	rm.unitDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSkip records one skipped unit. Safe to call on a nil receiver.
func (rm *RunMetrics) RecordSkip(ctx context.Context, method, reason string) {
	if rm == nil {
		return
	}

	rm.skippedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrReason, reason),
	))
}

// RecordEngineFailure counts a failed engine call. Safe to call on a nil receiver.
func (rm *RunMetrics) RecordEngineFailure(ctx context.Context, method string) {
	if rm == nil {
		return
	}

	rm.engineFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMethod, method)))
}

// RecordDataset counts a dataset whose processing ended with status.
// Safe to call on a nil receiver.
func (rm *RunMetrics) RecordDataset(ctx context.Context, method, status string) {
	if rm == nil {
		return
	}

	rm.datasetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrStatus, status),
	))
}
