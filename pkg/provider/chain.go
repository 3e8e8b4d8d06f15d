package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/averno/clerk/internal/observability"
	"github.com/averno/clerk/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrChainExhausted is returned when every handle in the chain failed.
var ErrChainExhausted = errors.New("all provider handles failed")

// BuildError is a fatal startup error: no usable model backend exists.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("provider chain build failed: %s", e.Reason)
}

// Handle is one credential bound to one backend caller
type Handle struct {
	Credential Credential
	caller     Caller

	failureCount  int
	cooldownUntil *int64
}

// ChainConfig holds chain construction settings
type ChainConfig struct {
	// Kinds lists provider kinds in preference order.
	Kinds []string
	// Models overrides the default model per kind.
	Models map[string]string
	// Timeout bounds each individual API call.
	Timeout time.Duration
	// MaxRetries is the per-handle retry count for retryable errors.
	MaxRetries int
	Logger     zerolog.Logger
}

// Chain tries provider handles strictly in order until one succeeds
type Chain struct {
	handles    []*Handle
	timeout    time.Duration
	maxRetries int
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewCaller creates the backend caller for a credential
func NewCaller(cred Credential) (Caller, error) {
	switch cred.Kind {
	case "anthropic":
		return NewAnthropicCaller(cred.APIKey), nil
	case "openai":
		return NewOpenAICaller(cred.APIKey), nil
	case "mistral":
		return NewMistralCaller(cred.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", cred.Kind)
	}
}

// BuildChain scans the environment for credentials and builds the chain.
// Zero usable credentials is fatal.
func BuildChain(cfg ChainConfig) (*Chain, error) {
	observability.EnsureRegistered()

	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = []string{"mistral", "openai", "anthropic"}
	}

	creds := CollectCredentials(kinds, cfg.Models)
	if len(creds) == 0 {
		return nil, &BuildError{Reason: "no provider credentials found in environment"}
	}

	handles := make([]*Handle, 0, len(creds))
	for _, cred := range creds {
		caller, err := NewCaller(cred)
		if err != nil {
			cfg.Logger.Warn().Str("kind", cred.Kind).Err(err).Msg("Skipping credential")
			continue
		}
		handles = append(handles, &Handle{Credential: cred, caller: caller})
	}

	if len(handles) == 0 {
		return nil, &BuildError{Reason: "no provider handle could be constructed"}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	cfg.Logger.Info().Int("handles", len(handles)).Msg("Provider chain built")

	return &Chain{
		handles:    handles,
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     cfg.Logger,
	}, nil
}

// NewChain builds a chain from pre-constructed handles. Used by tests
// and by callers that manage credentials themselves.
func NewChain(callers []Caller, timeout time.Duration, maxRetries int, logger zerolog.Logger) (*Chain, error) {
	if len(callers) == 0 {
		return nil, &BuildError{Reason: "no provider handles supplied"}
	}

	handles := make([]*Handle, len(callers))
	for i, c := range callers {
		handles[i] = &Handle{
			Credential: Credential{ID: fmt.Sprintf("%s-%d", c.Kind(), i), Kind: c.Kind(), Priority: i},
			caller:     c,
		}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 2
	}

	return &Chain{handles: handles, timeout: timeout, maxRetries: maxRetries, logger: logger}, nil
}

// Size returns the number of handles in the chain
func (c *Chain) Size() int {
	return len(c.handles)
}

// Invoke tries each handle in order until one succeeds. A handle failure
// always advances to the next handle; only a fully exhausted chain errors.
func (c *Chain) Invoke(ctx context.Context, request Request) (*Output, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"clerk.provider",
		"chain.invoke",
		attribute.Int("handles", len(c.handles)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	var lastErr error

	for _, handle := range c.handles {
		kind := handle.Credential.Kind

		if c.inCooldown(handle) {
			observability.SetProviderCooldown(kind, true)
			logger.Debug().Str("handle", handle.Credential.ID).Msg("Skipping handle in cooldown")
			continue
		}
		observability.SetProviderCooldown(kind, false)

		req := request
		if req.Model == "" {
			req.Model = handle.Credential.Model
		}

		start := time.Now()
		output, err := c.callWithRetry(ctx, handle, req)
		if err == nil {
			c.markSuccess(handle)
			observability.RecordProviderAttempt(kind, time.Since(start), true)
			span.SetAttributes(attribute.String("provider", kind))
			return output, nil
		}

		lastErr = err
		c.markFailure(handle)
		observability.RecordProviderAttempt(kind, time.Since(start), false)
		logger.Warn().
			Str("handle", handle.Credential.ID).
			Err(err).
			Msg("Provider handle failed, moving to next")
	}

	if lastErr == nil {
		lastErr = errors.New("every handle is in cooldown")
	}

	err := fmt.Errorf("%w: %w", ErrChainExhausted, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error().Err(lastErr).Msg("Provider chain exhausted")
	return nil, err
}

// callWithRetry performs a bounded local retry on a single handle.
// Only retryable errors (rate limits, 5xx, transport) are retried.
func (c *Chain) callWithRetry(ctx context.Context, handle *Handle, request Request) (*Output, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		output, err := handle.caller.Call(callCtx, request)
		cancel()

		if err == nil {
			return output, nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}

		if attempt == c.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delayMs := 1000 * (1 << attempt)
		c.logger.Info().
			Str("handle", handle.Credential.ID).
			Int("attempt", attempt+1).
			Int("delayMs", delayMs).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func (c *Chain) inCooldown(handle *Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return handle.cooldownUntil != nil && time.Now().UnixMilli() < *handle.cooldownUntil
}

func (c *Chain) markSuccess(handle *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle.failureCount = 0
	handle.cooldownUntil = nil
}

func (c *Chain) markFailure(handle *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle.failureCount++
	until := time.Now().UnixMilli() + int64(60000*handle.failureCount)
	handle.cooldownUntil = &until
	observability.SetProviderCooldown(handle.Credential.Kind, true)
}
