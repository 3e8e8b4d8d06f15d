package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/averno/clerk/pkg/catalog"
	"github.com/averno/clerk/pkg/provider"
	"github.com/averno/clerk/pkg/session"
	"github.com/averno/clerk/pkg/store"
	"github.com/averno/clerk/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInvoker returns canned outputs in order and records the
// requests it saw.
type scriptedInvoker struct {
	outputs  []*provider.Output
	err      error
	requests []provider.Request
}

func (s *scriptedInvoker) Invoke(ctx context.Context, request provider.Request) (*provider.Output, error) {
	s.requests = append(s.requests, request)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.outputs) == 0 {
		return &provider.Output{Content: "done"}, nil
	}
	out := s.outputs[0]
	s.outputs = s.outputs[1:]
	return out, nil
}

func setupLoop(t *testing.T, invoker ModelInvoker) (*Loop, *session.Manager, *store.SessionStore) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"id": "p1", "name": "Pan"}},
			"count":   1,
		})
	}))
	t.Cleanup(server.Close)

	sessions := store.New("", zerolog.Nop())
	t.Cleanup(func() { sessions.Close() })

	registry := tools.NewRegistry()
	search := catalog.NewClient(server.URL, time.Second, zerolog.Nop())
	require.NoError(t, tools.RegisterShopTools(registry, sessions, search))

	transcripts, err := session.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { transcripts.Close() })

	loop, err := New(Config{
		Chain:       invoker,
		Registry:    registry,
		Transcripts: transcripts,
		Logger:      zerolog.Nop(),
		MaxTurns:    10,
	})
	require.NoError(t, err)

	return loop, transcripts, sessions
}

func TestLoopRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should return final text when model makes no tool calls", func(t *testing.T) {
		invoker := &scriptedInvoker{outputs: []*provider.Output{{Content: "Hello there"}}}
		loop, transcripts, _ := setupLoop(t, invoker)

		result, err := loop.Run(ctx, "s1", "hi")
		require.NoError(t, err)
		assert.Equal(t, "Hello there", result.FinalText)

		// user + assistant persisted.
		entries, err := transcripts.LoadSession("s1")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("should seed system prompt once", func(t *testing.T) {
		invoker := &scriptedInvoker{outputs: []*provider.Output{{Content: "first"}, {Content: "second"}}}
		loop, _, _ := setupLoop(t, invoker)

		_, err := loop.Run(ctx, "s1", "hello")
		require.NoError(t, err)
		_, err = loop.Run(ctx, "s1", "again")
		require.NoError(t, err)

		require.Len(t, invoker.requests, 2)
		for _, req := range invoker.requests {
			count := 0
			for _, msg := range req.Messages {
				if msg.Role == "system" {
					count++
				}
			}
			assert.Equal(t, 1, count)
			assert.Equal(t, SystemPrompt(), req.Messages[0].Content)
		}
		// Second request carries the whole prior conversation.
		second := invoker.requests[1]
		assert.Equal(t, "hello", second.Messages[1].Content)
		assert.Equal(t, "first", second.Messages[2].Content)
		assert.Equal(t, "again", second.Messages[3].Content)
	})

	t.Run("should execute tool calls and feed results back", func(t *testing.T) {
		invoker := &scriptedInvoker{outputs: []*provider.Output{
			{
				ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "product_search", Parameters: map[string]interface{}{"query": "kitchen"}},
				},
			},
			{Content: "Here are some kitchen items"},
		}}
		loop, transcripts, _ := setupLoop(t, invoker)

		result, err := loop.Run(ctx, "s1", "show me kitchen items")
		require.NoError(t, err)
		assert.Equal(t, "Here are some kitchen items", result.FinalText)

		// Second model request includes the tool result tagged with
		// its originating call id.
		require.Len(t, invoker.requests, 2)
		second := invoker.requests[1]
		last := second.Messages[len(second.Messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Equal(t, "call_1", last.ToolCallID)
		assert.Contains(t, last.Content, "productsSummary")

		// user + assistant(tool calls) + tool + assistant(final).
		entries, err := transcripts.LoadSession("s1")
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("should hand tools their declared descriptors", func(t *testing.T) {
		invoker := &scriptedInvoker{outputs: []*provider.Output{{Content: "ok"}}}
		loop, _, _ := setupLoop(t, invoker)

		_, err := loop.Run(ctx, "s1", "hi")
		require.NoError(t, err)

		require.Len(t, invoker.requests, 1)
		assert.Len(t, invoker.requests[0].Tools, 5)
	})

	t.Run("should fail when the loop does not converge", func(t *testing.T) {
		toolCall := &provider.Output{
			ToolCalls: []provider.ToolCall{
				{ID: "call_x", Name: "view_cart", Parameters: map[string]interface{}{"action": "view"}},
			},
		}
		outputs := make([]*provider.Output, 15)
		for i := range outputs {
			outputs[i] = toolCall
		}
		invoker := &scriptedInvoker{outputs: outputs}
		loop, _, _ := setupLoop(t, invoker)

		_, err := loop.Run(ctx, "s1", "loop forever")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotConverged)
		assert.Len(t, invoker.requests, 10)
	})

	t.Run("should surface chain exhaustion", func(t *testing.T) {
		invoker := &scriptedInvoker{err: fmt.Errorf("all provider handles failed")}
		loop, _, _ := setupLoop(t, invoker)

		_, err := loop.Run(ctx, "s1", "hi")
		require.Error(t, err)
	})

	t.Run("should feed tool failures back as structured payloads", func(t *testing.T) {
		invoker := &scriptedInvoker{outputs: []*provider.Output{
			{
				ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "view_cart", Parameters: map[string]interface{}{"action": "destroy"}},
				},
			},
			{Content: "sorry about that"},
		}}
		loop, _, _ := setupLoop(t, invoker)

		result, err := loop.Run(ctx, "s1", "break it")
		require.NoError(t, err)
		assert.Equal(t, "sorry about that", result.FinalText)

		second := invoker.requests[1]
		last := second.Messages[len(second.Messages)-1]
		assert.Equal(t, "tool", last.Role)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(last.Content), &payload))
		assert.Equal(t, false, payload["success"])
	})
}

func TestNew(t *testing.T) {
	t.Run("should require chain registry and transcripts", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})
}
