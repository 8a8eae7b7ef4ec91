package assistant

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tracklane/copilot/pkg/models"
)

// DispatchConfig bounds concurrency and wall-clock time for one turn's
// batch of tool calls.
type DispatchConfig struct {
	// MaxParallel caps in-flight tool calls within a turn.
	MaxParallel int `yaml:"max_parallel"`

	// TurnTimeout is the wall-clock ceiling for the whole batch. Calls
	// still pending at the ceiling resolve as timeout errors.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// DefaultDispatchConfig matches the small batches models actually request.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		MaxParallel: 4,
		TurnTimeout: 15 * time.Second,
	}
}

// Dispatcher fans a batch of tool calls out to the executor and collects
// results in the order the calls arrived, so result i always answers call i
// regardless of completion order. Calls are isolated: one failure or slow
// call never cancels or delays its siblings, and every call yields exactly
// one result even when the turn ceiling cuts the batch short.
type Dispatcher struct {
	executor *Executor
	config   DispatchConfig
}

// NewDispatcher wires a dispatcher over the executor.
func NewDispatcher(executor *Executor, config DispatchConfig) *Dispatcher {
	defaults := DefaultDispatchConfig()
	if config.MaxParallel < 1 {
		config.MaxParallel = defaults.MaxParallel
	}
	if config.TurnTimeout <= 0 {
		config.TurnTimeout = defaults.TurnTimeout
	}
	return &Dispatcher{executor: executor, config: config}
}

type indexedResult struct {
	index  int
	result models.ToolResult
}

// Dispatch executes calls concurrently, at most MaxParallel at a time, and
// returns exactly one result per call in input order. When the turn ceiling
// expires, unfinished calls are reported as timeouts immediately; their
// goroutines drain into a buffered channel rather than blocking the return.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall, caller models.CallerContext) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	ctx, span := tracer.Start(ctx, "tools.dispatch")
	span.SetAttributes(attribute.Int("tools.count", len(calls)))
	defer span.End()

	turnCtx, cancel := context.WithTimeout(ctx, d.config.TurnTimeout)
	defer cancel()

	settled := make(chan indexedResult, len(calls))
	sem := make(chan struct{}, d.config.MaxParallel)
	for i, call := range calls {
		go func(i int, call models.ToolCall) {
			select {
			case sem <- struct{}{}:
			case <-turnCtx.Done():
				settled <- indexedResult{i, models.ErrResult(call.CorrelationID,
					models.ErrTimeout, "turn deadline exceeded before the call started")}
				return
			}
			defer func() { <-sem }()
			settled <- indexedResult{i, d.executor.Execute(turnCtx, call, caller)}
		}(i, call)
	}

	done := make([]bool, len(calls))
	for pending := len(calls); pending > 0; {
		select {
		case r := <-settled:
			results[r.index] = r.result
			done[r.index] = true
			pending--
		case <-turnCtx.Done():
			for i, call := range calls {
				if !done[i] {
					results[i] = models.ErrResult(call.CorrelationID,
						models.ErrTimeout, "turn deadline exceeded")
				}
			}
			return results
		}
	}
	return results
}
