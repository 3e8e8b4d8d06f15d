// Package gateway is the thin HTTP surface in front of the chat
// service: POST /chat, GET /health and GET /metrics. Validation beyond
// the empty-message check belongs to the chat service, not here.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/averno/clerk/internal/observability"
	"github.com/averno/clerk/pkg/agent"
	"github.com/averno/clerk/pkg/chat"
	"github.com/averno/clerk/pkg/provider"
	"github.com/averno/clerk/pkg/resolve"
	"github.com/rs/zerolog"
)

// ChatHandler processes one chat message. Satisfied by chat.Service.
type ChatHandler interface {
	Handle(ctx context.Context, message, sessionID string) (resolve.Directive, error)
}

// HealthReporter exposes the runtime state shown on /health.
type HealthReporter struct {
	StoreMode func() string
	ChainSize func() int
}

// Config carries the gateway dependencies.
type Config struct {
	Addr    string
	Chat    ChatHandler
	Health  HealthReporter
	Logger  zerolog.Logger
	Timeout time.Duration
}

// Server serves the HTTP endpoints.
type Server struct {
	httpServer *http.Server
	chat       ChatHandler
	health     HealthReporter
	logger     zerolog.Logger
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type uiAction struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type chatResponse struct {
	Message   string   `json:"message"`
	UIAction  uiAction `json:"ui_action"`
	SessionID string   `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	s := &Server{
		chat:   cfg.Chat,
		health: cfg.Health,
		logger: cfg.Logger.With().Str("component", "gateway").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Timeout,
	}

	return s, nil
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Gateway listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = chat.DefaultSessionID
	}

	directive, err := s.chat.Handle(r.Context(), req.Message, sessionID)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		Message: directive.Message,
		UIAction: uiAction{
			Type: string(directive.UIAction),
			Data: directive.Data,
		},
		SessionID: sessionID,
	})
}

// writeChatError maps the chat service's fatal error classes to HTTP
// statuses. Anything else is a plain 500.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, "message cannot be empty")
	case errors.Is(err, provider.ErrChainExhausted):
		s.writeError(w, http.StatusBadGateway, "all model backends failed")
	case errors.Is(err, agent.ErrNotConverged):
		s.writeError(w, http.StatusInternalServerError, "agent did not produce a final answer")
	default:
		s.logger.Error().Err(err).Msg("Chat request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":  "healthy",
		"service": "clerk",
	}
	if s.health.StoreMode != nil {
		payload["store_mode"] = s.health.StoreMode()
	}
	if s.health.ChainSize != nil {
		payload["providers"] = s.health.ChainSize()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
