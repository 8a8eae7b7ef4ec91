// Package providers adapts external model SDKs to the assistant.Provider
// contract: Anthropic for the standard tool-calling tier and OpenAI for the
// cheap streaming tier.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tracklane/copilot/internal/assistant"
	"github.com/tracklane/copilot/pkg/models"
)

// AnthropicConfig configures the Claude-backed provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AnthropicProvider implements assistant.Provider on the Anthropic API.
// Safe for concurrent use; each call is independent.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider validates config and builds the provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	model := config.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Name implements assistant.Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements assistant.Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req *assistant.ModelRequest) (*assistant.ModelResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &assistant.ModelResponse{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			args, err := json.Marshal(toolUse.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: tool input for %s: %w", toolUse.Name, err)
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				CorrelationID: toolUse.ID,
				Name:          toolUse.Name,
				Args:          args,
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// Stream implements assistant.Provider. Tool schemas are not sent on this
// path; streaming is reserved for plain text answers.
func (p *AnthropicProvider) Stream(ctx context.Context, req *assistant.ModelRequest) (<-chan assistant.StreamChunk, error) {
	streamReq := *req
	streamReq.Tools = nil
	params, err := p.buildParams(&streamReq)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan assistant.StreamChunk)
	go func() {
		defer close(out)
		var inputTokens, outputTokens int64
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				messageStart := event.AsMessageStart()
				if messageStart.Message.Usage.InputTokens > 0 {
					inputTokens = messageStart.Message.Usage.InputTokens
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					select {
					case out <- assistant.StreamChunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				messageDelta := event.AsMessageDelta()
				if messageDelta.Usage.OutputTokens > 0 {
					outputTokens = messageDelta.Usage.OutputTokens
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- assistant.StreamChunk{Err: fmt.Errorf("anthropic stream: %w", err)}
			return
		}
		out <- assistant.StreamChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req *assistant.ModelRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertAnthropicMessages maps the internal transcript onto Anthropic's
// content-block format. Tool-result turns become user messages carrying
// tool_result blocks, per the API's convention.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, result := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				result.CorrelationID,
				toolResultContent(result),
				result.Erred(),
			))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(call.Args, &input); err != nil {
				return nil, fmt.Errorf("anthropic: tool call args for %s: %w", call.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.CorrelationID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(schemas []assistant.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, ts := range schemas {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(ts.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: schema for tool %s: %w", ts.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, ts.Name)
		if ts.Description != "" {
			toolParam.OfTool.Description = anthropic.String(ts.Description)
		}
		out = append(out, toolParam)
	}
	return out, nil
}

// toolResultContent renders a tool result for the model: the payload on
// success, the error kind and message on failure.
func toolResultContent(result models.ToolResult) string {
	if result.Erred() {
		return fmt.Sprintf("error (%s): %s", result.ErrKind, result.ErrMessage)
	}
	return string(result.Payload)
}
