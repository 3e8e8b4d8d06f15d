package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/averno/clerk/internal/tracing"
	"github.com/averno/clerk/pkg/provider"
	"github.com/averno/clerk/pkg/session"
	"github.com/averno/clerk/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNotConverged is returned when the loop hits its iteration cap
// without the model producing a final text answer.
var ErrNotConverged = errors.New("agent loop did not converge")

// ModelInvoker is the single capability the loop needs from the
// provider layer.
type ModelInvoker interface {
	Invoke(ctx context.Context, request provider.Request) (*provider.Output, error)
}

// Config holds loop configuration
type Config struct {
	Chain       ModelInvoker
	Registry    *tools.Registry
	Transcripts *session.Manager
	Logger      zerolog.Logger

	// MaxTurns caps the AGENT/TOOLS oscillations per request.
	MaxTurns    int
	Temperature float64
	MaxTokens   int
	ToolTimeout time.Duration
}

// Loop drives the AGENT -> TOOLS -> AGENT state machine for one
// session at a time.
type Loop struct {
	chain       ModelInvoker
	registry    *tools.Registry
	transcripts *session.Manager
	logger      zerolog.Logger
	maxTurns    int
	temperature float64
	maxTokens   int
	toolTimeout time.Duration
}

// RunResult is the outcome of one completed loop run
type RunResult struct {
	// Transcript is the full conversation including prior history,
	// the new turns and the final assistant answer. Resolution scans
	// all of it.
	Transcript []provider.Message
	// FinalText is the last assistant-authored textual message.
	FinalText string
}

// New creates a new agent loop
func New(cfg Config) (*Loop, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("model chain is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Transcripts == nil {
		return nil, fmt.Errorf("transcript manager is required")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}

	return &Loop{
		chain:       cfg.Chain,
		registry:    cfg.Registry,
		transcripts: cfg.Transcripts,
		logger:      cfg.Logger,
		maxTurns:    maxTurns,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		toolTimeout: toolTimeout,
	}, nil
}

// Run executes the loop for one user message. The system instruction
// is seeded once, prior history is replayed, and every new turn is
// persisted so later requests see the full conversation.
func (l *Loop) Run(ctx context.Context, sessionID, userMessage string) (*RunResult, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"clerk.agent",
		"agent.run",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)

	history, err := l.loadHistory(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	messages := make([]provider.Message, 0, len(history)+2)
	if len(history) == 0 || history[0].Role != "system" {
		messages = append(messages, provider.Message{Role: "system", Content: SystemPrompt()})
	}
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: "user", Content: userMessage})

	if err := l.transcripts.AppendMessageWithContext(ctx, sessionID, session.Message{
		Role:    "user",
		Content: userMessage,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	descriptors := l.registry.Descriptors()

	for turn := 0; turn < l.maxTurns; turn++ {
		output, err := l.chain.Invoke(ctx, provider.Request{
			Messages:     messages,
			Tools:        descriptors,
			SystemPrompt: messages[0].Content,
			Temperature:  l.temperature,
			MaxTokens:    l.maxTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		// END: no tool-invocation requests, the text is the answer.
		if len(output.ToolCalls) == 0 {
			if err := l.transcripts.AppendMessageWithContext(ctx, sessionID, session.Message{
				Role:    "assistant",
				Content: output.Content,
			}); err != nil {
				logger.Error().Err(err).Msg("Failed to persist assistant message")
				return nil, fmt.Errorf("failed to persist assistant message: %w", err)
			}

			messages = append(messages, provider.Message{Role: "assistant", Content: output.Content})

			logger.Debug().Int("turns", turn+1).Msg("Agent loop converged")
			return &RunResult{Transcript: messages, FinalText: output.Content}, nil
		}

		assistantMsg := provider.Message{
			Role:      "assistant",
			Content:   output.Content,
			ToolCalls: output.ToolCalls,
		}
		messages = append(messages, assistantMsg)

		if err := l.transcripts.AppendMessageWithContext(ctx, sessionID, session.Message{
			Role:      "assistant",
			Content:   output.Content,
			ToolCalls: output.ToolCalls,
		}); err != nil {
			logger.Error().Err(err).Msg("Failed to persist assistant tool-call message")
			return nil, fmt.Errorf("failed to persist assistant message: %w", err)
		}

		// TOOLS: execute every pending request, tag each result with
		// its originating call id.
		for _, call := range output.ToolCalls {
			result := l.registry.Execute(ctx, call.Name, sessionID, call.Parameters, l.toolTimeout)
			content := encodeToolResult(result)

			toolMsg := provider.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			}
			messages = append(messages, toolMsg)

			if err := l.transcripts.AppendMessageWithContext(ctx, sessionID, session.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			}); err != nil {
				logger.Error().Err(err).Msg("Failed to persist tool result")
				return nil, fmt.Errorf("failed to persist tool result: %w", err)
			}
		}
	}

	err = fmt.Errorf("%w after %d turns", ErrNotConverged, l.maxTurns)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error().Int("max_turns", l.maxTurns).Msg("Agent loop did not converge")
	return nil, err
}

func (l *Loop) loadHistory(ctx context.Context, sessionID string) ([]provider.Message, error) {
	entries, err := l.transcripts.LoadSessionWithContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]provider.Message, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, provider.Message{
			Role:       entry.Message.Role,
			Content:    entry.Message.Content,
			ToolCalls:  entry.Message.ToolCalls,
			ToolCallID: entry.Message.ToolCallID,
		})
	}
	return messages, nil
}

// encodeToolResult renders a tool outcome as the transcript entry the
// model and the resolver both consume. Failures become structured
// payloads, never loop aborts.
func encodeToolResult(result tools.Result) string {
	payload := result.Output
	if !result.Success {
		payload = map[string]interface{}{
			"success": false,
			"message": result.Error,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"message":%q}`, err.Error())
	}
	return string(data)
}
