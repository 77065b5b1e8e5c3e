package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Underlying().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Underlying().Core().Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Stdout = false
	_, err = NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextFields(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActionKind(ctx, "hello")

	fields := ContextFields(ctx)
	keys := make(map[string]string, len(fields))
	for _, f := range fields {
		keys[f.Key] = f.String
	}

	assert.Equal(t, span.SpanContext().TraceID().String(), keys["trace_id"])
	assert.Equal(t, "req-1", keys["request.id"])
	assert.Equal(t, "hello", keys["action.kind"])
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Equal(t, "", RequestIDFromContext(WithRequestID(context.Background(), "")))
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "stored")
	tl.AssertLogged(t, zapcore.InfoLevel, "stored")

	// Missing logger falls back to nop.
	assert.NotPanics(t, func() { FromContext(context.Background()).Info(context.Background(), "x") })
}

func TestTestLogger_Fields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(context.Background(), "req-9")
	tl.Info(ctx, "dispatched", zap.String("status", "success"))
	tl.Trace(ctx, "step")

	tl.AssertField(t, "dispatched", "status", "success")
	tl.AssertField(t, "dispatched", "request.id", "req-9")
	tl.AssertLogged(t, TraceLevel, "step")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "dispatched")
	assert.Len(t, tl.Entries(), 2)
}

func newBufferedLogger(t *testing.T, cfg RedactionConfig) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)), buf
}

func TestRedactingEncoder(t *testing.T) {
	z, buf := newBufferedLogger(t, NewDefaultConfig().Redaction)

	z.With(zap.String("token", "abc")).Info("call",
		zap.String("api_key", "sk-1"),
		zap.String("header", "Bearer xyz"),
		zap.String("kind", "hello"),
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "[REDACTED]", line["token"])
	assert.Equal(t, "[REDACTED]", line["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", line["header"])
	assert.Equal(t, "hello", line["kind"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	z, buf := newBufferedLogger(t, RedactionConfig{})
	z.Info("call", zap.String("token", "abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc", line["token"])
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	require.Error(t, err)
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	enc := newEncoder("json")
	buf := &bytes.Buffer{}
	base := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	cfg := NewDefaultConfig().Sampling
	cfg.Initial = 1
	cfg.Thereafter = 0
	z := zap.New(newSampledCore(base, cfg))

	for i := 0; i < 5; i++ {
		z.Info("same")
		z.Error("boom")
	}

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 6, lines, "one info plus five errors")
}
