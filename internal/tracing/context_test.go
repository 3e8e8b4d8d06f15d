package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextPropagation(t *testing.T) {
	t.Run("should round-trip trace ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-123")
		assert.Equal(t, "trace-123", GetTraceID(ctx))
	})

	t.Run("should round-trip session ID", func(t *testing.T) {
		ctx := WithSessionID(context.Background(), "s1")
		assert.Equal(t, "s1", GetSessionID(ctx))
	})

	t.Run("should return empty values for bare context", func(t *testing.T) {
		ctx := context.Background()
		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetSessionID(ctx))
		assert.Empty(t, GetRequestID(ctx))
	})

	t.Run("should extract full trace context", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "t")
		ctx = WithSessionID(ctx, "s")
		ctx = WithRequestID(ctx, "r")

		tc := FromContext(ctx)
		assert.Equal(t, "t", tc.TraceID)
		assert.Equal(t, "s", tc.SessionID)
		assert.Equal(t, "r", tc.RequestID)
	})

	t.Run("should generate a trace ID for new request contexts", func(t *testing.T) {
		ctx := NewRequestContext(context.Background())
		assert.NotEmpty(t, GetTraceID(ctx))
	})
}

func TestPropagateToLogger(t *testing.T) {
	t.Run("should add trace fields to logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		ctx := WithTraceID(context.Background(), "trace-xyz")
		ctx = WithSessionID(ctx, "session-abc")

		traced := LoggerFromContext(ctx, logger)
		traced.Info().Msg("hello")

		out := buf.String()
		assert.Contains(t, out, "trace-xyz")
		assert.Contains(t, out, "session-abc")
	})

	t.Run("should leave logger untouched without trace context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		untraced := LoggerFromContext(context.Background(), logger)
		untraced.Info().Msg("hello")

		assert.NotContains(t, buf.String(), "trace_id")
	})
}
