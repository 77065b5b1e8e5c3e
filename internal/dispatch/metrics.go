package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type dispatchMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func newDispatchMetrics(meter metric.Meter) (*dispatchMetrics, error) {
	total, err := meter.Int64Counter(
		"brain.dispatch.total",
		metric.WithDescription("Dispatched actions by kind and outcome"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"brain.dispatch.duration_seconds",
		metric.WithDescription("Time from audit-open to audit-close"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch histogram: %w", err)
	}
	return &dispatchMetrics{total: total, duration: duration}, nil
}

func (m *dispatchMetrics) record(ctx context.Context, kind, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.total.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
