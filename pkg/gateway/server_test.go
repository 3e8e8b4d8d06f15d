package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/averno/clerk/pkg/agent"
	"github.com/averno/clerk/pkg/chat"
	"github.com/averno/clerk/pkg/provider"
	"github.com/averno/clerk/pkg/resolve"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChat struct {
	directive resolve.Directive
	err       error
	sessionID string
}

func (s *stubChat) Handle(ctx context.Context, message, sessionID string) (resolve.Directive, error) {
	s.sessionID = sessionID
	if s.err != nil {
		return resolve.Directive{}, s.err
	}
	return s.directive, nil
}

func setupServer(t *testing.T, stub *stubChat) *Server {
	t.Helper()

	server, err := New(Config{
		Chat:   stub,
		Logger: zerolog.Nop(),
		Health: HealthReporter{
			StoreMode: func() string { return "volatile" },
			ChainSize: func() int { return 2 },
		},
	})
	require.NoError(t, err)
	return server
}

func postChat(t *testing.T, server *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(encoded))
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestChatEndpoint(t *testing.T) {
	t.Run("should return the resolved directive", func(t *testing.T) {
		stub := &stubChat{directive: resolve.Directive{
			Message:  "Here you go",
			UIAction: resolve.ActionRenderProducts,
			Data:     []interface{}{map[string]interface{}{"id": "p1"}},
		}}
		server := setupServer(t, stub)

		recorder := postChat(t, server, map[string]string{"message": "show me pans", "session_id": "s1"})
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.Equal(t, "Here you go", resp["message"])
		assert.Equal(t, "s1", resp["session_id"])

		action := resp["ui_action"].(map[string]interface{})
		assert.Equal(t, "RENDER_PRODUCTS", action["type"])
		assert.Len(t, action["data"], 1)
	})

	t.Run("should default the session id", func(t *testing.T) {
		stub := &stubChat{directive: resolve.Directive{Message: "hi", UIAction: resolve.ActionNone}}
		server := setupServer(t, stub)

		recorder := postChat(t, server, map[string]string{"message": "hello"})
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, chat.DefaultSessionID, stub.sessionID)
	})

	t.Run("should reject empty messages with 400", func(t *testing.T) {
		stub := &stubChat{err: chat.ErrEmptyMessage}
		server := setupServer(t, stub)

		recorder := postChat(t, server, map[string]string{"message": ""})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("should map chain exhaustion to 502", func(t *testing.T) {
		stub := &stubChat{err: provider.ErrChainExhausted}
		server := setupServer(t, stub)

		recorder := postChat(t, server, map[string]string{"message": "hi"})
		assert.Equal(t, http.StatusBadGateway, recorder.Code)
	})

	t.Run("should map non-convergence to 500", func(t *testing.T) {
		stub := &stubChat{err: agent.ErrNotConverged}
		server := setupServer(t, stub)

		recorder := postChat(t, server, map[string]string{"message": "hi"})
		assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	})

	t.Run("should reject malformed bodies", func(t *testing.T) {
		server := setupServer(t, &stubChat{})

		req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte("{not json")))
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("should reject GET", func(t *testing.T) {
		server := setupServer(t, &stubChat{})

		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("should report store mode and provider count", func(t *testing.T) {
		server := setupServer(t, &stubChat{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, req)
		require.Equal(t, http.StatusOK, recorder.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp["status"])
		assert.Equal(t, "volatile", resp["store_mode"])
		assert.Equal(t, float64(2), resp["providers"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("should expose prometheus metrics", func(t *testing.T) {
		server := setupServer(t, &stubChat{})

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})
}

func TestNew(t *testing.T) {
	t.Run("should require a chat handler", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})
}
