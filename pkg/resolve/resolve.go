// Package resolve turns a completed conversation transcript into a UI
// directive. The model's own JSON answer is used as a best-effort first
// pass; tool-call evidence from the transcript always wins for the
// ui_action and data fields.
package resolve

import (
	"encoding/json"
	"strings"

	"github.com/averno/clerk/pkg/provider"
)

// UIAction tells the client which surface to render.
type UIAction string

const (
	ActionNone           UIAction = "NONE"
	ActionRenderProducts UIAction = "RENDER_PRODUCTS"
	ActionRenderCart     UIAction = "RENDER_CART"
	ActionRequestInfo    UIAction = "REQUEST_INFO"
	ActionRenderPayment  UIAction = "RENDER_PAYMENT"
)

// Directive is the resolved output of one chat request.
type Directive struct {
	Message  string      `json:"message"`
	UIAction UIAction    `json:"ui_action"`
	Data     interface{} `json:"data,omitempty"`
}

// toolActions maps tool names to the surface their invocation implies.
var toolActions = map[string]UIAction{
	"product_search":    ActionRenderProducts,
	"view_cart":         ActionRenderCart,
	"collect_user_info": ActionRequestInfo,
	"process_payment":   ActionRenderPayment,
}

var knownActions = map[UIAction]bool{
	ActionNone:           true,
	ActionRenderProducts: true,
	ActionRenderCart:     true,
	ActionRequestInfo:    true,
	ActionRenderPayment:  true,
}

// Resolve reconciles the model's self-reported answer with tool-call
// ground truth and produces a single directive.
func Resolve(transcript []provider.Message) Directive {
	directive := Directive{UIAction: ActionNone}

	raw := lastAssistantText(transcript)
	directive.Message = raw
	applySelfReport(&directive, raw)
	applyToolEvidence(&directive, transcript)

	return directive
}

// lastAssistantText returns the content of the last assistant message
// that carries text.
func lastAssistantText(transcript []provider.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		msg := transcript[i]
		if msg.Role == "assistant" && strings.TrimSpace(msg.Content) != "" {
			return msg.Content
		}
	}
	return ""
}

// applySelfReport parses the model's answer as fenced JSON. A parse
// failure is not an error: the raw text simply stays as the message.
func applySelfReport(directive *Directive, raw string) {
	if raw == "" {
		return
	}

	var report map[string]interface{}
	if err := json.Unmarshal([]byte(stripFence(raw)), &report); err != nil {
		return
	}

	if message, ok := report["message"].(string); ok && message != "" {
		directive.Message = message
	}
	if action, ok := report["ui_action"].(string); ok {
		candidate := UIAction(action)
		if candidate != ActionNone && knownActions[candidate] {
			directive.UIAction = candidate
		}
	}
	if data, ok := report["data"]; ok && !isEmptyValue(data) {
		directive.Data = data
	}
}

// applyToolEvidence overrides ui_action and data from the transcript's
// tool calls and results. The last matching entry wins.
func applyToolEvidence(directive *Directive, transcript []provider.Message) {
	callNames := make(map[string]string)

	for _, msg := range transcript {
		switch msg.Role {
		case "assistant":
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				if action, ok := toolActions[call.Name]; ok {
					directive.UIAction = action
				}
			}
		case "tool":
			name := callNames[msg.ToolCallID]
			data := extractData(name, msg.Content)
			if data != nil {
				directive.Data = data
			}
		}
	}
}

// extractData pulls the authoritative data value out of a tool result
// payload. Only some tools contribute data.
func extractData(toolName, content string) interface{} {
	switch toolName {
	case "product_search":
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			return nil
		}
		if items, ok := payload["items"]; ok {
			return items
		}
		return nil
	case "view_cart", "process_payment":
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			return nil
		}
		return payload
	default:
		return nil
	}
}

// stripFence removes a ```json or ``` code fence wrapping the payload.
// The content runs up to the first closing fence, so prose after the
// block does not spoil the parse.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "```json"):
		trimmed = trimmed[len("```json"):]
	case strings.HasPrefix(trimmed, "```"):
		trimmed = trimmed[len("```"):]
	default:
		return trimmed
	}

	if end := strings.Index(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}

func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}
