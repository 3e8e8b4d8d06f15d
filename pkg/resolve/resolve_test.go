package resolve

import (
	"testing"

	"github.com/averno/clerk/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Run("should use raw text verbatim when the answer is not JSON", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "Sure, let me think about {that"},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "Sure, let me think about {that", directive.Message)
		assert.Equal(t, ActionNone, directive.UIAction)
		assert.Nil(t, directive.Data)
	})

	t.Run("should parse a fenced JSON self-report", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", Content: "```json\n{\"message\": \"Welcome!\", \"ui_action\": \"REQUEST_INFO\", \"data\": {\"field\": \"first_name\"}}\n```"},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "Welcome!", directive.Message)
		assert.Equal(t, ActionRequestInfo, directive.UIAction)
		assert.Equal(t, map[string]interface{}{"field": "first_name"}, directive.Data)
	})

	t.Run("should parse a fenced block followed by trailing prose", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", Content: "```json\n{\"message\": \"Hi\", \"ui_action\": \"NONE\"}\n```\nLet me know if that works!"},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "Hi", directive.Message)
		assert.Equal(t, ActionNone, directive.UIAction)
	})

	t.Run("should parse a bare fence without a language tag", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", Content: "```\n{\"message\": \"Hello\", \"ui_action\": \"NONE\"}\n```"},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "Hello", directive.Message)
		assert.Equal(t, ActionNone, directive.UIAction)
	})

	t.Run("should let tool calls override a self-reported NONE", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "user", Content: "show me kitchen items"},
			{Role: "assistant", ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "product_search", Parameters: map[string]interface{}{"query": "kitchen"}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"items": [{"id": "p1"}, {"id": "p2"}, {"id": "p3"}], "totalFound": 3, "productsSummary": "Found 3 products"}`},
			{Role: "assistant", Content: `{"message": "Here you go", "ui_action": "NONE", "data": null}`},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "Here you go", directive.Message)
		assert.Equal(t, ActionRenderProducts, directive.UIAction)

		items, ok := directive.Data.([]interface{})
		require.True(t, ok)
		assert.Len(t, items, 3)
	})

	t.Run("should prefer the last tool call when several fire", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "product_search", Parameters: map[string]interface{}{"query": "pans"}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"items": [{"id": "p1"}], "totalFound": 1}`},
			{Role: "assistant", ToolCalls: []provider.ToolCall{
				{ID: "call_2", Name: "view_cart", Parameters: map[string]interface{}{"action": "view"}},
			}},
			{Role: "tool", ToolCallID: "call_2", Content: `{"showCart": true, "action": "view", "message": "1 item", "items": [{"product_id": "p1"}]}`},
			{Role: "assistant", Content: "Your cart has one item"},
		}

		directive := Resolve(transcript)
		assert.Equal(t, ActionRenderCart, directive.UIAction)

		payload, ok := directive.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, payload["showCart"])
	})

	t.Run("should carry the whole payment payload as data", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "process_payment", Parameters: map[string]interface{}{"first_name": "Jean", "phone": "0612345678"}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"success": true, "message": "Payment confirmed", "payment_id": "PAY_JEAN_abc123", "status": "completed"}`},
			{Role: "assistant", Content: `{"message": "All paid!", "ui_action": "RENDER_PAYMENT"}`},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "All paid!", directive.Message)
		assert.Equal(t, ActionRenderPayment, directive.UIAction)

		payload, ok := directive.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "PAY_JEAN_abc123", payload["payment_id"])
		assert.Equal(t, "completed", payload["status"])
	})

	t.Run("should map collect_user_info without touching data", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "collect_user_info", Parameters: map[string]interface{}{"field": "first_name", "value": "Jean"}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"success": true, "field": "first_name", "value": "Jean", "message": "Saved"}`},
			{Role: "assistant", Content: "Thanks Jean, and your phone number?"},
		}

		directive := Resolve(transcript)
		assert.Equal(t, ActionRequestInfo, directive.UIAction)
		assert.Nil(t, directive.Data)
	})

	t.Run("should ignore unknown ui_action values", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", Content: `{"message": "hi", "ui_action": "EXPLODE"}`},
		}

		directive := Resolve(transcript)
		assert.Equal(t, "hi", directive.Message)
		assert.Equal(t, ActionNone, directive.UIAction)
	})

	t.Run("should skip empty data in the self-report", func(t *testing.T) {
		transcript := []provider.Message{
			{Role: "assistant", Content: `{"message": "hi", "ui_action": "RENDER_CART", "data": {}}`},
		}

		directive := Resolve(transcript)
		assert.Equal(t, ActionRenderCart, directive.UIAction)
		assert.Nil(t, directive.Data)
	})

	t.Run("should return an empty directive for an empty transcript", func(t *testing.T) {
		directive := Resolve(nil)
		assert.Equal(t, "", directive.Message)
		assert.Equal(t, ActionNone, directive.UIAction)
		assert.Nil(t, directive.Data)
	})
}

func TestStripFence(t *testing.T) {
	t.Run("should leave unfenced text alone", func(t *testing.T) {
		assert.Equal(t, `{"a": 1}`, stripFence(` {"a": 1} `))
	})

	t.Run("should strip a json fence", func(t *testing.T) {
		assert.Equal(t, `{"a": 1}`, stripFence("```json\n{\"a\": 1}\n```"))
	})

	t.Run("should strip a plain fence", func(t *testing.T) {
		assert.Equal(t, `{"a": 1}`, stripFence("```\n{\"a\": 1}\n```"))
	})

	t.Run("should cut at the first closing fence", func(t *testing.T) {
		assert.Equal(t, `{"a": 1}`, stripFence("```json\n{\"a\": 1}\n```\nLet me know if you need more!"))
	})
}
