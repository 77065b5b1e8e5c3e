package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
	"github.com/fyrsmithlabs/brain/internal/telemetry"
)

func TestMetrics_RecordInvocation(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewMetrics(tel.MeterProvider(), nil)
	ctx := context.Background()

	m.RecordInvocation(ctx, "brain_hello", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "brain_hello", 50*time.Millisecond, &action.ValidationError{Stage: action.StageInput})

	tool := attribute.String("tool", "brain_hello")
	assert.Equal(t, int64(2), tel.CounterValue(t, "brain.mcp.tool.invocations_total", tool))
	assert.Equal(t, int64(1), tel.CounterValue(t, "brain.mcp.tool.invocations_total", tool,
		attribute.String("status", dispatch.StatusFailure)))
	assert.Equal(t, int64(1), tel.CounterValue(t, "brain.mcp.tool.errors_total", tool,
		attribute.String("reason", "input_validation_error")))
}

func TestMetrics_Begin(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewMetrics(tel.MeterProvider(), nil)
	ctx := context.Background()
	tool := attribute.String("tool", "brain_git_diff")

	done := m.Begin(ctx, "brain_git_diff")
	assert.Equal(t, int64(1), tel.CounterValue(t, "brain.mcp.tool.active_requests", tool))
	done(gitdiff.ErrNoCommits)

	assert.Equal(t, int64(0), tel.CounterValue(t, "brain.mcp.tool.active_requests", tool))
	assert.Equal(t, int64(1), tel.CounterValue(t, "brain.mcp.tool.errors_total", tool,
		attribute.String("reason", "not_found")))
}

func TestMetrics_RecordedByTools(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	env := newTestEnv(t, &Config{MeterProvider: tel.MeterProvider()})

	env.call(t, ToolHello, map[string]any{})
	_, failed := env.callErr(t, ToolVectorSearch, map[string]any{"query": ""})
	require.True(t, failed)

	assert.Equal(t, int64(1), tel.CounterValue(t, "brain.mcp.tool.invocations_total", attribute.String("tool", ToolHello)))
	assert.Equal(t, int64(1), tel.CounterValue(t, "brain.mcp.tool.errors_total",
		attribute.String("tool", ToolVectorSearch), attribute.String("reason", "input_validation_error")))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&action.ValidationError{Stage: action.StageOutput}, "output_validation_error"},
		{fmt.Errorf("route: %w", &dispatch.UnknownActionError{Kind: "x"}), "unknown_action"},
		{fmt.Errorf("diff: %w", gitdiff.ErrRevisionNotFound), "not_found"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("disk full"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err))
	}
}
