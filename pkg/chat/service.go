// Package chat exposes the request-level entry point: one free-text
// message in, one resolved UI directive out.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/averno/clerk/internal/observability"
	"github.com/averno/clerk/internal/tracing"
	"github.com/averno/clerk/pkg/agent"
	"github.com/averno/clerk/pkg/commandqueue"
	"github.com/averno/clerk/pkg/resolve"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrEmptyMessage is returned when the user message is empty or
// whitespace only. No model or tool work happens in that case.
var ErrEmptyMessage = errors.New("message is empty")

// DefaultSessionID is used when the caller supplies no session id.
const DefaultSessionID = "default"

// Service runs one agent loop per chat request, serialized per session.
type Service struct {
	loop   *agent.Loop
	queue  *commandqueue.CommandQueue
	logger zerolog.Logger
}

// New wires a chat service. The queue may be shared with other callers.
func New(loop *agent.Loop, queue *commandqueue.CommandQueue, logger zerolog.Logger) (*Service, error) {
	if loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	observability.EnsureRegistered()

	return &Service{
		loop:   loop,
		queue:  queue,
		logger: logger.With().Str("component", "chat").Logger(),
	}, nil
}

// Handle processes one chat message and returns the resolved directive.
// Requests for the same session run one at a time in arrival order.
func (s *Service) Handle(ctx context.Context, message, sessionID string) (resolve.Directive, error) {
	startTime := time.Now()

	if strings.TrimSpace(message) == "" {
		observability.RecordChatRequest(time.Since(startTime), false)
		return resolve.Directive{}, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"clerk.chat",
		"chat.handle",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Int("message_length", len(message)).
		Msg("Chat request received")

	value, err := s.queue.Enqueue(ctx, commandqueue.SessionLane(sessionID), func(taskCtx context.Context) (interface{}, error) {
		result, runErr := s.loop.Run(taskCtx, sessionID, message)
		if runErr != nil {
			return nil, runErr
		}
		return resolve.Resolve(result.Transcript), nil
	})

	duration := time.Since(startTime)
	observability.RecordChatRequest(duration, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Dur("duration", duration).
			Err(err).
			Msg("Chat request failed")
		return resolve.Directive{}, err
	}

	directive := value.(resolve.Directive)
	logger.Info().
		Str("ui_action", string(directive.UIAction)).
		Dur("duration", duration).
		Msg("Chat request resolved")

	return directive, nil
}
