package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	kind   string
	calls  int
	err    error
	output *Output
}

func (f *fakeCaller) Kind() string { return f.kind }

func (f *fakeCaller) Call(ctx context.Context, request Request) (*Output, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestChainInvoke(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should return first handle's output on success", func(t *testing.T) {
		first := &fakeCaller{kind: "mistral", output: &Output{Content: "hello"}}
		second := &fakeCaller{kind: "openai", output: &Output{Content: "unused"}}

		chain, err := NewChain([]Caller{first, second}, time.Second, 1, logger)
		require.NoError(t, err)

		out, err := chain.Invoke(context.Background(), Request{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "hello", out.Content)
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 0, second.calls)
	})

	t.Run("should fall through to next handle on failure", func(t *testing.T) {
		first := &fakeCaller{kind: "mistral", err: fmt.Errorf("invalid API key")}
		second := &fakeCaller{kind: "openai", output: &Output{Content: "fallback"}}

		chain, err := NewChain([]Caller{first, second}, time.Second, 1, logger)
		require.NoError(t, err)

		out, err := chain.Invoke(context.Background(), Request{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "fallback", out.Content)
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 1, second.calls)
	})

	t.Run("should error when every handle fails", func(t *testing.T) {
		first := &fakeCaller{kind: "mistral", err: fmt.Errorf("auth failure")}
		second := &fakeCaller{kind: "openai", err: fmt.Errorf("quota exhausted")}

		chain, err := NewChain([]Caller{first, second}, time.Second, 1, logger)
		require.NoError(t, err)

		_, err = chain.Invoke(context.Background(), Request{Model: "m"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChainExhausted)
	})

	t.Run("should skip handles in cooldown on the next request", func(t *testing.T) {
		first := &fakeCaller{kind: "mistral", err: fmt.Errorf("invalid API key")}
		second := &fakeCaller{kind: "openai", output: &Output{Content: "ok"}}

		chain, err := NewChain([]Caller{first, second}, time.Second, 1, logger)
		require.NoError(t, err)

		_, err = chain.Invoke(context.Background(), Request{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, 1, first.calls)

		_, err = chain.Invoke(context.Background(), Request{Model: "m"})
		require.NoError(t, err)
		// First handle stays in cooldown, no second attempt made.
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 2, second.calls)
	})

	t.Run("should not retry non-retryable errors on the same handle", func(t *testing.T) {
		first := &fakeCaller{kind: "mistral", err: fmt.Errorf("invalid API key")}

		chain, err := NewChain([]Caller{first}, time.Second, 3, logger)
		require.NoError(t, err)

		_, err = chain.Invoke(context.Background(), Request{Model: "m"})
		require.Error(t, err)
		assert.Equal(t, 1, first.calls)
	})

	t.Run("should fill model from handle credential when unset", func(t *testing.T) {
		var seenModel string
		caller := &recordingCaller{kind: "mistral", onCall: func(r Request) { seenModel = r.Model }}

		chain, err := NewChain([]Caller{caller}, time.Second, 1, logger)
		require.NoError(t, err)
		chain.handles[0].Credential.Model = "mistral-small-latest"

		_, err = chain.Invoke(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "mistral-small-latest", seenModel)
	})
}

type recordingCaller struct {
	kind   string
	onCall func(Request)
}

func (r *recordingCaller) Kind() string { return r.kind }

func (r *recordingCaller) Call(ctx context.Context, request Request) (*Output, error) {
	r.onCall(request)
	return &Output{Content: "ok"}, nil
}

func TestNewChain(t *testing.T) {
	t.Run("should fail with zero handles", func(t *testing.T) {
		_, err := NewChain(nil, time.Second, 1, zerolog.Nop())
		require.Error(t, err)

		var buildErr *BuildError
		assert.ErrorAs(t, err, &buildErr)
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("should mark transient errors retryable", func(t *testing.T) {
		assert.True(t, IsRetryable(fmt.Errorf("ECONNRESET")))
		assert.True(t, IsRetryable(fmt.Errorf("429 rate limit exceeded")))
		assert.True(t, IsRetryable(fmt.Errorf("503 service unavailable")))
	})

	t.Run("should mark permanent errors non-retryable", func(t *testing.T) {
		assert.False(t, IsRetryable(fmt.Errorf("invalid API key")))
		assert.False(t, IsRetryable(nil))
	})
}
