package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/brain/internal/mcp"

// Metrics records tool calls. Instruments that fail to build are left nil and
// skipped.
type Metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

// NewMetrics creates Metrics on mp. A nil mp uses the global provider.
func NewMetrics(mp metric.MeterProvider, logger *zap.Logger) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := mp.Meter(instrumentationName)

	var m Metrics
	var err, errs error
	m.calls, err = meter.Int64Counter("brain.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool and status"),
		metric.WithUnit("{invocation}"))
	errs = errors.Join(errs, err)
	m.duration, err = meter.Float64Histogram("brain.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"))
	errs = errors.Join(errs, err)
	m.failures, err = meter.Int64Counter("brain.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by reason"),
		metric.WithUnit("{error}"))
	errs = errors.Join(errs, err)
	m.inFlight, err = meter.Int64UpDownCounter("brain.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)
	if errs != nil {
		logger.Warn("some mcp instruments unavailable", zap.Error(errs))
	}
	return &m
}

// Begin marks a call to tool as in flight. The returned func ends it and
// records the outcome.
func (m *Metrics) Begin(ctx context.Context, tool string) func(error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}
	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		m.RecordInvocation(ctx, tool, time.Since(start), err)
	}
}

// RecordInvocation records one finished tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, elapsed time.Duration, err error) {
	status := dispatch.StatusSuccess
	if err != nil {
		status = dispatch.StatusFailure
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool), attribute.String("status", status)))
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("reason", categorizeError(err)),
		))
	}
}

// categorizeError maps an error to a low-cardinality reason label.
func categorizeError(err error) string {
	var verr *action.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Stage + "_validation_error"
	case errors.Is(err, dispatch.ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, gitdiff.ErrNotRepository),
		errors.Is(err, gitdiff.ErrNoCommits),
		errors.Is(err, gitdiff.ErrRevisionNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}
