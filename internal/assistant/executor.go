package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracklane/copilot/internal/audit"
	"github.com/tracklane/copilot/internal/cache"
	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/retry"
	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

// ExecutorConfig tunes per-call limits for tool execution.
type ExecutorConfig struct {
	// CallTimeout bounds a single handler invocation.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Retry governs read-tool retries. Mutations never retry.
	Retry retry.Config `yaml:"retry"`
}

// DefaultExecutorConfig matches the latency budget of an interactive chat
// turn: short timeouts, at most two retries on transient failures.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CallTimeout: 10 * time.Second,
		Retry:       retry.Exponential(3, 200*time.Millisecond, 2*time.Second),
	}
}

// Executor runs individual tool calls through the full pipeline: catalog
// lookup, capability check, argument validation, the two-phase confirmation
// protocol for mutations, and cache plus bounded retries for reads. Every
// call produces exactly one ToolResult and one audit entry; failures are
// folded into the result rather than returned, so a bad call never aborts
// the batch it arrived in.
type Executor struct {
	registry *tools.Registry
	cache    *cache.Cache
	gate     *ConfirmationGate
	audits   audit.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   ExecutorConfig
}

// NewExecutor wires an executor. audits may be nil to disable the trail.
func NewExecutor(
	registry *tools.Registry,
	resultCache *cache.Cache,
	gate *ConfirmationGate,
	audits audit.Store,
	logger *observability.Logger,
	metrics *observability.Metrics,
	config ExecutorConfig,
) *Executor {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultExecutorConfig().CallTimeout
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultExecutorConfig().Retry
	}
	return &Executor{
		registry: registry,
		cache:    resultCache,
		gate:     gate,
		audits:   audits,
		logger:   logger,
		metrics:  metrics,
		config:   config,
	}
}

// Execute runs one tool call for the given caller and returns its result.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, caller models.CallerContext) models.ToolResult {
	started := time.Now()
	result, mutating, confirmed := e.execute(ctx, call, caller)
	e.record(ctx, call, caller, result, mutating, confirmed, time.Since(started))
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall, caller models.CallerContext) (result models.ToolResult, mutating, confirmed bool) {
	spec, ok := e.registry.Get(call.Name)
	if !ok {
		return models.ErrResult(call.CorrelationID, models.ErrUnknownTool,
			fmt.Sprintf("unknown tool %q", call.Name)), false, false
	}
	mutating = spec.Mutating

	if !caller.HasCapability(spec.RequiredCapability) {
		return models.ErrResult(call.CorrelationID, models.ErrPermissionDenied,
			fmt.Sprintf("tool %q requires capability %q", call.Name, spec.RequiredCapability)), mutating, false
	}

	args, isConfirmed, ticketID, err := splitControls(call.Args)
	if err != nil {
		return models.ErrResult(call.CorrelationID, models.ErrValidation, err.Error()), mutating, false
	}
	confirmed = isConfirmed

	if err := e.registry.ValidateArgs(call.Name, args); err != nil {
		return models.ErrResult(call.CorrelationID, tools.Classify(err), err.Error()), mutating, confirmed
	}

	scope := caller.Scope()
	if spec.Mutating {
		return e.executeMutation(ctx, call, spec, args, isConfirmed, ticketID, scope), mutating, confirmed
	}
	return e.executeRead(ctx, call, spec, args, scope), mutating, confirmed
}

// executeMutation drives the two-phase protocol. Phase one runs the
// read-only preview and issues a single-use ticket; phase two spends the
// ticket and performs the mutation exactly once, with no retries.
func (e *Executor) executeMutation(ctx context.Context, call models.ToolCall, spec tools.Spec, args json.RawMessage, confirmed bool, ticketID string, scope models.Scope) models.ToolResult {
	if !confirmed {
		preview, err := e.invoke(ctx, spec.Preview, args, scope)
		if err != nil {
			return models.ErrResult(call.CorrelationID, tools.Classify(err), err.Error())
		}
		if isNoopPreview(preview) {
			return models.OkResult(call.CorrelationID, preview)
		}
		id := e.gate.Issue(call.Name, args, scope)
		e.metrics.ConfirmationTickets.WithLabelValues("issued").Inc()
		return models.OkResult(call.CorrelationID, previewEnvelope(preview, id))
	}

	if err := e.gate.Consume(ticketID, call.Name, args, scope); err != nil {
		e.metrics.ConfirmationTickets.WithLabelValues("rejected").Inc()
		return models.ErrResult(call.CorrelationID, models.ErrValidation, err.Error())
	}
	e.metrics.ConfirmationTickets.WithLabelValues("consumed").Inc()

	payload, err := e.invoke(ctx, spec.Execute, args, scope)
	if err != nil {
		return models.ErrResult(call.CorrelationID, tools.Classify(err), err.Error())
	}
	return models.OkResult(call.CorrelationID, payload)
}

// executeRead serves from the scoped cache when possible, otherwise invokes
// the handler with bounded retries on transient failures only.
func (e *Executor) executeRead(ctx context.Context, call models.ToolCall, spec tools.Spec, args json.RawMessage, scope models.Scope) models.ToolResult {
	var key string
	if spec.Cacheable && e.cache != nil {
		key = cache.Key(call.Name, args, scope.Key())
		if payload, ok := e.cache.Get(key); ok {
			e.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return models.OkResult(call.CorrelationID, payload)
		}
		e.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	payload, err := retry.DoWithValue(ctx, e.config.Retry, func() (json.RawMessage, error) {
		payload, err := e.invoke(ctx, spec.Handler, args, scope)
		if err != nil && !tools.Classify(err).Retryable() {
			return nil, retry.Permanent(err)
		}
		return payload, err
	})
	if err != nil {
		return models.ErrResult(call.CorrelationID, tools.Classify(err), err.Error())
	}

	if key != "" {
		e.cache.Put(key, payload)
	}
	return models.OkResult(call.CorrelationID, payload)
}

// invoke runs a handler under the per-call timeout. The result channel is
// buffered so a handler that finishes after the deadline does not leak its
// goroutine.
func (e *Executor) invoke(ctx context.Context, handler tools.Handler, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	type outcome struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := handler(callCtx, args, scope)
		done <- outcome{payload, err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

func (e *Executor) record(ctx context.Context, call models.ToolCall, caller models.CallerContext, result models.ToolResult, mutating, confirmed bool, elapsed time.Duration) {
	e.metrics.ToolExecutions.WithLabelValues(call.Name, string(result.ErrKind)).Inc()
	e.metrics.ToolDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())

	if result.Erred() {
		e.logger.Warn(ctx, "tool call failed",
			"tool", call.Name,
			"correlation_id", call.CorrelationID,
			"err_kind", string(result.ErrKind),
			"error", result.ErrMessage,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		e.logger.Debug(ctx, "tool call complete",
			"tool", call.Name,
			"correlation_id", call.CorrelationID,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	if e.audits == nil {
		return
	}
	requestID, _ := ctx.Value(observability.RequestIDKey).(string)
	entry := &audit.Entry{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		CallerID:      caller.UserID,
		TenantID:      caller.TenantID,
		ToolName:      call.Name,
		CorrelationID: call.CorrelationID,
		Mutating:      mutating,
		Confirmed:     confirmed,
		ErrKind:       result.ErrKind,
		DurationMS:    elapsed.Milliseconds(),
		CreatedAt:     time.Now(),
	}
	if err := e.audits.Record(ctx, entry); err != nil {
		e.logger.Warn(ctx, "audit write failed", "tool", call.Name, "error", err.Error())
	}
}
