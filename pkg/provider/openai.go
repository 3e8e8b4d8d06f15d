package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICaller implements Caller for any OpenAI-compatible chat API.
// The kind field distinguishes backends served through the same wire
// protocol (Mistral exposes an OpenAI-compatible endpoint).
type OpenAICaller struct {
	client openai.Client
	kind   string
}

// NewOpenAICaller creates a caller for the OpenAI API
func NewOpenAICaller(apiKey string) *OpenAICaller {
	return &OpenAICaller{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		kind:   "openai",
	}
}

// NewMistralCaller creates a caller for the Mistral API
func NewMistralCaller(apiKey string) *OpenAICaller {
	return &OpenAICaller{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://api.mistral.ai/v1"),
		),
		kind: "mistral",
	}
}

// Kind returns the provider kind
func (c *OpenAICaller) Kind() string {
	return c.kind
}

// Call makes an API call to the chat completions endpoint
func (c *OpenAICaller) Call(ctx context.Context, request Request) (*Output, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		if msg.Role == "system" {
			continue // Already handled above
		}

		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					paramsJSON, err := json.Marshal(tc.Parameters)
					if err != nil {
						return nil, fmt.Errorf("failed to marshal tool parameters: %w", err)
					}

					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(paramsJSON),
						},
					})
				}

				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool["name"].(string),
					Description: openai.String(tool["description"].(string)),
					Parameters:  openai.FunctionParameters(tool["input_schema"].(map[string]interface{})),
				},
			})
		}
		params.Tools = tools
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	content := choice.Message.Content

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		var callParams map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &callParams); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: callParams,
		})
	}

	return &Output{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}
