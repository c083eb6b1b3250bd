package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContext(t *testing.T) {
	t.Run("should attach a trace id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background())
		assert.NotEmpty(t, GetTraceID(ctx))
	})

	t.Run("should tolerate nil context", func(t *testing.T) {
		ctx := NewRequestContext(nil)
		assert.NotEmpty(t, GetTraceID(ctx))
	})

	t.Run("should generate distinct trace ids", func(t *testing.T) {
		a := NewRequestContext(context.Background())
		b := NewRequestContext(context.Background())
		assert.NotEqual(t, GetTraceID(a), GetTraceID(b))
	})
}

func TestWithSession(t *testing.T) {
	ctx := WithSession(context.Background(), "app", "user-1", "sess-1")

	assert.Equal(t, "app", GetAppName(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("should include trace fields", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		ctx := WithTraceID(context.Background(), "trace-123")
		ctx = WithSession(ctx, "app", "user", "sess-9")

		logger := LoggerFromContext(ctx, base)
		logger.Info().Msg("hello")

		out := buf.String()
		require.NotEmpty(t, out)
		assert.Contains(t, out, "trace-123")
		assert.Contains(t, out, "sess-9")
	})

	t.Run("should pass through without context values", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		logger := LoggerFromContext(context.Background(), base)
		logger.Info().Msg("plain")

		assert.NotContains(t, buf.String(), "trace_id")
	})
}
