package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tracklane/copilot/internal/assistant"
	"github.com/tracklane/copilot/pkg/models"
)

// OpenAIConfig configures the GPT-backed provider.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIProvider implements assistant.Provider on the OpenAI chat API. It
// serves the cheap streaming tier but supports tool calling too, so it can
// stand in as the standard provider in single-vendor deployments.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider validates config and builds the provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	model := config.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		client: openai.NewClient(config.APIKey),
		model:  model,
	}, nil
}

// Name implements assistant.Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete implements assistant.Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req *assistant.ModelRequest) (*assistant.ModelResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  convertOpenAIMessages(req.Messages, req.System),
		MaxTokens: req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	response, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	choice := response.Choices[0]
	resp := &assistant.ModelResponse{
		Text:         choice.Message.Content,
		InputTokens:  int64(response.Usage.PromptTokens),
		OutputTokens: int64(response.Usage.CompletionTokens),
	}
	for _, call := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			CorrelationID: call.ID,
			Name:          call.Function.Name,
			Args:          json.RawMessage(call.Function.Arguments),
		})
	}
	return resp, nil
}

// Stream implements assistant.Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req *assistant.ModelRequest) (<-chan assistant.StreamChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         p.model,
		Messages:      convertOpenAIMessages(req.Messages, req.System),
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	out := make(chan assistant.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		var inputTokens, outputTokens int64
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- assistant.StreamChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			if err != nil {
				out <- assistant.StreamChunk{Err: fmt.Errorf("openai stream: %w", err)}
				return
			}
			if response.Usage != nil {
				inputTokens = int64(response.Usage.PromptTokens)
				outputTokens = int64(response.Usage.CompletionTokens)
			}
			if len(response.Choices) == 0 {
				continue
			}
			if text := response.Choices[0].Delta.Content; text != "" {
				select {
				case out <- assistant.StreamChunk{Text: text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// convertOpenAIMessages flattens the internal transcript into OpenAI chat
// messages. Tool results become role "tool" messages linked by call id.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleTool {
			for _, result := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    toolResultContent(result),
					ToolCallID: result.CorrelationID,
				})
			}
			continue
		}

		converted := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.CorrelationID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Args),
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func convertOpenAITools(schemas []assistant.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(schemas))
	for i, ts := range schemas {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  json.RawMessage(ts.Schema),
			},
		}
	}
	return out
}
