package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{}
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	assert.Error(t, cfg.Validate())
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	logger.Info(context.Background(), "hello")
	assert.NoError(t, logger.Sync())
}

func TestContextFields(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithPhase(ctx, "stabilize")
	ctx = WithBatchID(ctx, "syntax_error-01")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	tl := NewTestLogger()
	tl.Info(ctx, "fix applied", zap.String("problem.id", "abc"))

	tl.AssertLogged(t, zapcore.InfoLevel, "fix applied")
	tl.AssertField(t, "fix applied", "run.id", "run-1")
	tl.AssertField(t, "fix applied", "phase", "stabilize")
	tl.AssertField(t, "fix applied", "batch.id", "syntax_error-01")
	tl.AssertField(t, "fix applied", "trace_id", traceID.String())
	tl.AssertField(t, "fix applied", "problem.id", "abc")
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Equal(t, "", RunIDFromContext(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from context")
	tl.AssertLogged(t, zapcore.WarnLevel, "from context")
}

func TestTraceLevelRecorded(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "verbose detail")
	tl.AssertLogged(t, TraceLevel, "verbose detail")
}

func TestRedactingEncoder(t *testing.T) {
	cfg := NewDefaultConfig().Redaction
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	z := zap.New(core)

	z.Info("calling with Bearer abc.def.ghi",
		zap.String("token", "s3cr3t"),
		zap.String("header", "api_key=12345"),
		zap.String("path", "main.go"),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "[REDACTED]", entry["token"])
	assert.Equal(t, "[REDACTED:pattern]", entry["header"])
	assert.Equal(t, "main.go", entry["path"])
	assert.NotContains(t, entry["msg"], "abc.def.ghi")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)

	var buf bytes.Buffer
	z := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))
	z.Info("plain", zap.String("token", "visible"))

	assert.Contains(t, buf.String(), "visible")
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("password", "hunter2")
	assert.Equal(t, "[REDACTED:7]", f.String)
}
