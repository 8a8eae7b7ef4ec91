package assistant

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/internal/usage"
	"github.com/tracklane/copilot/pkg/models"
)

// tracer is a no-op until an OTLP provider is registered at startup.
var tracer = otel.Tracer("copilot/assistant")

// ChatRequest is one conversational turn: the transcript so far, the
// authenticated caller, and an optional snapshot of precomputed aggregates
// the router can answer from without a model call.
type ChatRequest struct {
	Messages []models.Message `json:"messages"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`

	Caller models.CallerContext `json:"-"`
}

// ChatUsage is the token and cost total attributed to one chat turn.
type ChatUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// ChatResponse is the engine's answer for one turn.
type ChatResponse struct {
	Text      string    `json:"text"`
	Usage     ChatUsage `json:"usage"`
	ToolsUsed bool      `json:"tools_used"`
	Path      Path      `json:"path_taken"`
}

// EngineConfig tunes the model loop.
type EngineConfig struct {
	// MaxIterations bounds the tool-calling loop within one turn.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens is the per-call completion budget passed to providers.
	MaxTokens int `yaml:"max_tokens"`

	// SystemPrompt is prepended to every model call.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultEngineConfig returns loop bounds suitable for interactive use.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations: 6,
		MaxTokens:     2048,
		SystemPrompt: "You are the Tracklane project copilot. Answer questions about the " +
			"caller's projects using the provided tools. Propose mutating actions " +
			"with a preview first and only proceed after the user confirms.",
	}
}

// Engine orchestrates one conversational turn end to end: routing, the
// model loop, parallel tool dispatch, and cost accounting. It holds no
// per-turn state; all shared state lives in the injected services.
type Engine struct {
	router     *Router
	registry   *tools.Registry
	dispatcher *Dispatcher
	standard   Provider
	streaming  Provider
	accountant *usage.Accountant
	logger     *observability.Logger
	metrics    *observability.Metrics
	config     EngineConfig
}

// NewEngine wires an engine. streaming may be nil, in which case the
// streaming tier falls back to the standard provider.
func NewEngine(
	router *Router,
	registry *tools.Registry,
	dispatcher *Dispatcher,
	standard, streaming Provider,
	accountant *usage.Accountant,
	logger *observability.Logger,
	metrics *observability.Metrics,
	config EngineConfig,
) *Engine {
	defaults := DefaultEngineConfig()
	if config.MaxIterations < 1 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxTokens < 1 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaults.SystemPrompt
	}
	if streaming == nil {
		streaming = standard
	}
	return &Engine{
		router:     router,
		registry:   registry,
		dispatcher: dispatcher,
		standard:   standard,
		streaming:  streaming,
		accountant: accountant,
		logger:     logger,
		metrics:    metrics,
		config:     config,
	}
}

// Chat handles one turn and returns the final text plus usage.
func (e *Engine) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	started := time.Now()
	route := e.router.Route(lastUserContent(req.Messages), req.Snapshot)

	ctx, span := tracer.Start(ctx, "chat.turn")
	span.SetAttributes(attribute.String("chat.path", string(route.Path)))
	defer span.End()

	resp, err := e.chat(ctx, req, route)
	observability.RecordError(span, err)
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.ChatRequests.WithLabelValues(string(route.Path), status).Inc()
	e.metrics.ChatDuration.WithLabelValues(string(route.Path)).Observe(time.Since(started).Seconds())
	return resp, err
}

func (e *Engine) chat(ctx context.Context, req *ChatRequest, route Route) (*ChatResponse, error) {
	switch route.Path {
	case PathLocal:
		e.logger.Debug(ctx, "answered from snapshot")
		return &ChatResponse{Text: route.Answer, Path: PathLocal}, nil

	case PathStreaming:
		resp := &ChatResponse{Path: PathStreaming}
		modelResp, err := e.complete(ctx, usage.TierStreaming, &ModelRequest{
			Tier:      usage.TierStreaming,
			System:    e.config.SystemPrompt,
			Messages:  req.Messages,
			MaxTokens: e.config.MaxTokens,
		}, resp)
		if err != nil {
			return nil, err
		}
		resp.Text = modelResp.Text
		return resp, nil

	default:
		return e.chatStandard(ctx, req)
	}
}

// chatStandard runs the bounded tool-calling loop: the model either answers
// or requests a batch of tool calls, whose results are fed back in until it
// produces final text or the iteration ceiling is hit.
func (e *Engine) chatStandard(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp := &ChatResponse{Path: PathStandard}
	messages := append([]models.Message(nil), req.Messages...)
	schemas := e.toolSchemas()

	for iteration := 0; iteration < e.config.MaxIterations; iteration++ {
		modelResp, err := e.complete(ctx, usage.TierStandard, &ModelRequest{
			Tier:      usage.TierStandard,
			System:    e.config.SystemPrompt,
			Messages:  messages,
			Tools:     schemas,
			MaxTokens: e.config.MaxTokens,
		}, resp)
		if err != nil {
			return nil, err
		}

		if len(modelResp.ToolCalls) == 0 {
			resp.Text = modelResp.Text
			return resp, nil
		}

		resp.ToolsUsed = true
		e.logger.Debug(ctx, "dispatching tool calls",
			"count", len(modelResp.ToolCalls), "iteration", iteration)
		results := e.dispatcher.Dispatch(ctx, modelResp.ToolCalls, req.Caller)

		messages = append(messages,
			models.Message{Role: models.RoleAssistant, Content: modelResp.Text, ToolCalls: modelResp.ToolCalls},
			models.Message{Role: models.RoleTool, ToolResults: results},
		)
	}
	return nil, fmt.Errorf("no final answer after %d model iterations", e.config.MaxIterations)
}

// ChatStream handles one turn as a chunk stream. Local answers arrive as a
// single chunk; standard-path requests fall back to the blocking loop and
// stream its final text, since tool calling is not available mid-stream.
func (e *Engine) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, Path, error) {
	route := e.router.Route(lastUserContent(req.Messages), req.Snapshot)

	switch route.Path {
	case PathLocal:
		out := make(chan StreamChunk, 2)
		out <- StreamChunk{Text: route.Answer}
		out <- StreamChunk{Done: true}
		close(out)
		e.metrics.ChatRequests.WithLabelValues(string(PathLocal), "success").Inc()
		return out, PathLocal, nil

	case PathStreaming:
		chunks, err := e.streaming.Stream(ctx, &ModelRequest{
			Tier:      usage.TierStreaming,
			System:    e.config.SystemPrompt,
			Messages:  req.Messages,
			MaxTokens: e.config.MaxTokens,
		})
		if err != nil {
			e.metrics.ChatRequests.WithLabelValues(string(PathStreaming), "error").Inc()
			e.metrics.ModelRequests.WithLabelValues(e.streaming.Name(), string(usage.TierStreaming), "error").Inc()
			return nil, PathStreaming, err
		}
		return e.meterStream(chunks), PathStreaming, nil

	default:
		resp, err := e.Chat(ctx, req)
		if err != nil {
			return nil, PathStandard, err
		}
		out := make(chan StreamChunk, 2)
		out <- StreamChunk{Text: resp.Text}
		out <- StreamChunk{Done: true, InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
		close(out)
		return out, resp.Path, nil
	}
}

// meterStream passes chunks through and records usage from the final one.
func (e *Engine) meterStream(in <-chan StreamChunk) <-chan StreamChunk {
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		status := "success"
		for chunk := range in {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Done {
				e.accountant.Record(usage.TierStreaming, chunk.InputTokens, chunk.OutputTokens)
				e.metrics.ModelTokens.WithLabelValues(e.streaming.Name(), string(usage.TierStreaming), "input").Add(float64(chunk.InputTokens))
				e.metrics.ModelTokens.WithLabelValues(e.streaming.Name(), string(usage.TierStreaming), "output").Add(float64(chunk.OutputTokens))
			}
			out <- chunk
		}
		e.metrics.ChatRequests.WithLabelValues(string(PathStreaming), status).Inc()
		e.metrics.ModelRequests.WithLabelValues(e.streaming.Name(), string(usage.TierStreaming), status).Inc()
	}()
	return out
}

// complete performs one provider call, recording tokens and cost into both
// the accountant and the in-flight response.
func (e *Engine) complete(ctx context.Context, tier usage.Tier, modelReq *ModelRequest, resp *ChatResponse) (*ModelResponse, error) {
	provider := e.standard
	if tier == usage.TierStreaming {
		provider = e.streaming
	}

	ctx, span := tracer.Start(ctx, "model.complete")
	span.SetAttributes(
		attribute.String("model.provider", provider.Name()),
		attribute.String("model.tier", string(tier)),
	)
	defer span.End()

	modelResp, err := provider.Complete(ctx, modelReq)
	observability.RecordError(span, err)
	if err != nil {
		e.metrics.ModelRequests.WithLabelValues(provider.Name(), string(tier), "error").Inc()
		return nil, fmt.Errorf("%s completion: %w", provider.Name(), err)
	}
	e.metrics.ModelRequests.WithLabelValues(provider.Name(), string(tier), "success").Inc()
	e.metrics.ModelTokens.WithLabelValues(provider.Name(), string(tier), "input").Add(float64(modelResp.InputTokens))
	e.metrics.ModelTokens.WithLabelValues(provider.Name(), string(tier), "output").Add(float64(modelResp.OutputTokens))

	cost := e.accountant.Record(tier, modelResp.InputTokens, modelResp.OutputTokens)
	resp.Usage.InputTokens += modelResp.InputTokens
	resp.Usage.OutputTokens += modelResp.OutputTokens
	resp.Usage.Cost += cost
	return modelResp, nil
}

func (e *Engine) toolSchemas() []ToolSchema {
	specs := e.registry.List()
	out := make([]ToolSchema, 0, len(specs))
	for _, spec := range specs {
		out = append(out, ToolSchema{
			Name:        spec.Name,
			Description: spec.Description,
			Schema:      spec.Schema,
		})
	}
	return out
}

// lastUserContent returns the content of the most recent user message.
func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
