// Package assistant implements the orchestration engine: request routing,
// the model loop, concurrent tool dispatch, the two-phase action
// confirmation protocol, and cost accounting.
package assistant

import (
	"context"
	"encoding/json"

	"github.com/tracklane/copilot/internal/usage"
	"github.com/tracklane/copilot/pkg/models"
)

// ToolSchema is the shape of a tool as advertised to the model provider.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ModelRequest is a single call to an external model provider.
type ModelRequest struct {
	Tier      usage.Tier       `json:"tier"`
	System    string           `json:"system,omitempty"`
	Messages  []models.Message `json:"messages"`
	Tools     []ToolSchema     `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// ModelResponse is the provider's answer: either final text or a batch of
// tool calls, always with token counts.
type ModelResponse struct {
	Text         string            `json:"text,omitempty"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int64             `json:"input_tokens"`
	OutputTokens int64             `json:"output_tokens"`
}

// StreamChunk is one increment of a streaming completion. Token counts are
// populated on the final chunk (Done true).
type StreamChunk struct {
	Text         string `json:"text,omitempty"`
	Done         bool   `json:"done,omitempty"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
	Err          error  `json:"-"`
}

// Provider is the external model capability: given messages and tool
// schemas it returns either final text or tool-call requests. The engine
// depends only on this contract; implementations must be safe for
// concurrent use.
type Provider interface {
	// Name returns the provider name for logs and metrics.
	Name() string

	// Complete performs one blocking model call.
	Complete(ctx context.Context, req *ModelRequest) (*ModelResponse, error)

	// Stream yields incremental text chunks. Tool calling is not available
	// on the streaming path.
	Stream(ctx context.Context, req *ModelRequest) (<-chan StreamChunk, error)
}
