// Package models contains shared types passed between the gateway, the
// assistant engine, and tool handlers.
package models

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a single tool invocation requested by the model. The
// CorrelationID ties the eventual result back to the request across
// concurrent dispatch.
type ToolCall struct {
	CorrelationID string          `json:"correlation_id"`
	Name          string          `json:"name"`
	Args          json.RawMessage `json:"args"`
}

// ErrKind categorizes tool and request failures for retry decisions and
// HTTP status mapping.
type ErrKind string

const (
	ErrNone             ErrKind = ""
	ErrUnknownTool      ErrKind = "unknown_tool"
	ErrPermissionDenied ErrKind = "permission_denied"
	ErrValidation       ErrKind = "validation"
	ErrNotFound         ErrKind = "not_found"
	ErrTimeout          ErrKind = "timeout"
	ErrUpstream         ErrKind = "upstream_error"
	ErrRateLimited      ErrKind = "rate_limited"
)

// Retryable reports whether a failed read-only call may be retried.
// Mutating calls are never retried regardless of kind.
func (k ErrKind) Retryable() bool {
	switch k {
	case ErrTimeout, ErrUpstream:
		return true
	default:
		return false
	}
}

// ToolResult is the settled outcome of one ToolCall. Exactly one of Payload
// or (ErrKind, ErrMessage) is meaningful.
type ToolResult struct {
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ErrKind       ErrKind         `json:"err_kind,omitempty"`
	ErrMessage    string          `json:"err_message,omitempty"`
}

// Erred reports whether the result carries an error outcome.
func (r ToolResult) Erred() bool { return r.ErrKind != ErrNone }

// OkResult builds a successful result for the given correlation id.
func OkResult(correlationID string, payload json.RawMessage) ToolResult {
	return ToolResult{CorrelationID: correlationID, Payload: payload}
}

// ErrResult builds a failed result for the given correlation id.
func ErrResult(correlationID string, kind ErrKind, message string) ToolResult {
	return ToolResult{CorrelationID: correlationID, ErrKind: kind, ErrMessage: message}
}
