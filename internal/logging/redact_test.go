package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/chatindex/internal/config"
)

func newBufferLogger(t *testing.T, cfg RedactionConfig) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	var buf bytes.Buffer
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), TraceLevel)), &buf
}

func TestRedactingEncoder(t *testing.T) {
	zl, buf := newBufferLogger(t, NewDefaultConfig().Redaction)

	zl.With(zap.String("Token", "with-field")).Info("connect",
		zap.String("token", "entry-field"),
		zap.Any("credential", map[string]string{"user": "x"}),
		Secret("nats_token", config.Secret("abcd")),
		zap.String("source", "/logs/a.txt"),
	)
	out := buf.String()

	assert.NotContains(t, out, "with-field")
	assert.NotContains(t, out, "entry-field")
	assert.NotContains(t, out, `"user"`)
	assert.Contains(t, out, `"nats_token":"[REDACTED:4]"`)
	assert.Contains(t, out, `"source":"/logs/a.txt"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	zl, buf := newBufferLogger(t, RedactionConfig{Enabled: false, Fields: []string{"token"}})
	zl.Info("connect", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestEncodeLevel_Trace(t *testing.T) {
	zl, buf := newBufferLogger(t, RedactionConfig{})
	zl.Log(TraceLevel, "deep")
	assert.Contains(t, buf.String(), `"level":"trace"`)
}
