package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/chatindex/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }},
		{"both consoles", func(c *Config) { c.Output = OutputConfig{Stdout: true, Stderr: true} }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"k": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			_, err := NewLogger(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err, "otel-only output needs a provider")
}

func TestLogger_LevelsAndContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSequenceID(WithSource(context.Background(), "/logs/a.txt"), "seq_1")

	tl.Trace(ctx, "plan slot")
	tl.Debug(ctx, "debug message")
	tl.Info(ctx, "indexed", zap.Int("segments", 3))
	tl.Warn(ctx, "listener failed")
	tl.Error(ctx, "boom")

	require.Len(t, tl.All(), 5)
	tl.AssertLogged(t, TraceLevel, "plan slot")
	tl.AssertLogged(t, zapcore.WarnLevel, "listener failed")
	tl.AssertField(t, "indexed", "source", "/logs/a.txt")
	tl.AssertField(t, "indexed", "sequence_id", "seq_1")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_ExplicitFieldsWinOverContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(WithSource(context.Background(), "/logs/ctx.txt"), "req-1")

	tl.Info(ctx, "sequence added", zap.String("source", "/logs/explicit.txt"))

	entries := tl.FilterMessage("sequence added").All()
	require.Len(t, entries, 1)
	var sources []string
	for _, f := range entries[0].Context {
		if f.Key == "source" {
			sources = append(sources, f.String)
		}
	}
	assert.Equal(t, []string{"/logs/explicit.txt"}, sources)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}

func TestLogger_NamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("watch").With(zap.String("component", "watcher"))
	child.Info(context.Background(), "started")

	entries := tl.FilterMessage("started").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "watch", entries[0].LoggerName)
	assert.Equal(t, "watcher", entries[0].ContextMap()["component"])
}

func TestContextFields_Trace(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-7")

	m := map[string]string{}
	for _, f := range ContextFields(ctx) {
		m[f.Key] = f.String
	}
	assert.Equal(t, sc.TraceID().String(), m["trace_id"])
	assert.Equal(t, sc.SpanID().String(), m["span_id"])
	assert.Equal(t, "req-7", m["request_id"])
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()), "nop fallback")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "via context")
	tl.AssertLogged(t, zapcore.InfoLevel, "via context")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"TRACE", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"chatty", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("LevelFromString(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigFromObservability(t *testing.T) {
	cfg, err := ConfigFromObservability(config.ObservabilityConfig{
		LogLevel:        "trace",
		LogFormat:       "console",
		ServiceName:     "chatindexd",
		EnableTelemetry: true,
	})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "chatindexd", cfg.Fields["service"])
	assert.True(t, cfg.Output.OTEL)
	require.NoError(t, cfg.Validate())

	_, err = ConfigFromObservability(config.ObservabilityConfig{LogLevel: "shout"})
	assert.Error(t, err)
}

func TestSampledCore_ErrorsNeverDropped(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.Underlying().Core(), SamplingConfig{
		Enabled: true, Tick: config.Duration(1 << 40), Initial: 2, Thereafter: 0,
	})
	zl := zap.New(core)
	for i := 0; i < 10; i++ {
		zl.Info("repeated")
		zl.Error("failure")
	}
	assert.Equal(t, 2, tl.FilterMessage("repeated").Len())
	assert.Equal(t, 10, tl.FilterMessage("failure").Len())
}
