package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracklane/copilot/internal/audit"
	"github.com/tracklane/copilot/internal/cache"
	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/retry"
	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

var testCaller = models.CallerContext{
	UserID:       "alice",
	Role:         "member",
	TenantID:     "t1",
	ProjectID:    "p1",
	Capabilities: []string{"timesheets:submit"},
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestExecutor(t *testing.T, registry *tools.Registry, config ExecutorConfig) (*Executor, *audit.MemoryStore) {
	t.Helper()
	if config.CallTimeout == 0 {
		config.CallTimeout = time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = fastRetry(3)
	}
	store := audit.NewMemoryStore()
	executor := NewExecutor(
		registry,
		cache.New(cache.DefaultOptions()),
		NewConfirmationGate(time.Minute),
		store,
		observability.NewTestLogger(),
		observability.NewTestMetrics(),
		config,
	)
	return executor, store
}

func okHandler(payload string) tools.Handler {
	return func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	executor, _ := newTestExecutor(t, tools.NewRegistry(), ExecutorConfig{})

	result := executor.Execute(context.Background(),
		models.ToolCall{CorrelationID: "c1", Name: "nope"}, testCaller)
	if result.ErrKind != models.ErrUnknownTool {
		t.Errorf("err kind = %q, want unknown_tool", result.ErrKind)
	}
	if result.CorrelationID != "c1" {
		t.Errorf("correlation id = %q, want c1", result.CorrelationID)
	}
}

func TestExecutePermissionDenied(t *testing.T) {
	var calls atomic.Int64
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Spec{
		Name:               "secret_report",
		RequiredCapability: "reports:read",
		Handler: func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
			calls.Add(1)
			return json.RawMessage(`{}`), nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	executor, _ := newTestExecutor(t, registry, ExecutorConfig{})

	result := executor.Execute(context.Background(),
		models.ToolCall{CorrelationID: "c1", Name: "secret_report"}, testCaller)
	if result.ErrKind != models.ErrPermissionDenied {
		t.Errorf("err kind = %q, want permission_denied", result.ErrKind)
	}
	if calls.Load() != 0 {
		t.Error("handler must not run without the capability")
	}
}

func TestExecuteValidation(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Spec{
		Name:    "lookup",
		Schema:  json.RawMessage(`{"type":"object","properties":{"week":{"type":"string"}},"additionalProperties":false}`),
		Handler: okHandler(`{}`),
	}); err != nil {
		t.Fatal(err)
	}
	executor, _ := newTestExecutor(t, registry, ExecutorConfig{})

	result := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c1", Name: "lookup", Args: json.RawMessage(`{"week":7}`),
	}, testCaller)
	if result.ErrKind != models.ErrValidation {
		t.Errorf("err kind = %q, want validation", result.ErrKind)
	}
}

func TestExecuteCachesReads(t *testing.T) {
	var calls atomic.Int64
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Spec{
		Name:      "lookup",
		Cacheable: true,
		Handler: func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
			calls.Add(1)
			return json.RawMessage(`{"rows":1}`), nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	executor, _ := newTestExecutor(t, registry, ExecutorConfig{})

	call := models.ToolCall{CorrelationID: "c1", Name: "lookup", Args: json.RawMessage(`{"week":"2026-08-24"}`)}
	first := executor.Execute(context.Background(), call, testCaller)
	second := executor.Execute(context.Background(), call, testCaller)
	if first.Erred() || second.Erred() {
		t.Fatalf("unexpected errors: %v / %v", first.ErrMessage, second.ErrMessage)
	}
	if calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1 (second call served from cache)", calls.Load())
	}

	// Same args under a different caller scope must miss.
	other := testCaller
	other.UserID = "bob"
	executor.Execute(context.Background(), call, other)
	if calls.Load() != 2 {
		t.Errorf("provider called %d times, want 2 after scope change", calls.Load())
	}
}

func TestExecuteRetriesTransientOnly(t *testing.T) {
	var upstreamCalls, validationCalls atomic.Int64
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Spec{
		Name: "flaky",
		Handler: func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
			if upstreamCalls.Add(1) < 3 {
				return nil, fmt.Errorf("connection reset")
			}
			return json.RawMessage(`{}`), nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(tools.Spec{
		Name: "strict",
		Handler: func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
			validationCalls.Add(1)
			return nil, tools.Validation("bad input")
		},
	}); err != nil {
		t.Fatal(err)
	}
	executor, _ := newTestExecutor(t, registry, ExecutorConfig{})

	result := executor.Execute(context.Background(),
		models.ToolCall{CorrelationID: "c1", Name: "flaky"}, testCaller)
	if result.Erred() {
		t.Errorf("expected success after retries, got %s: %s", result.ErrKind, result.ErrMessage)
	}
	if upstreamCalls.Load() != 3 {
		t.Errorf("flaky handler called %d times, want 3", upstreamCalls.Load())
	}

	result = executor.Execute(context.Background(),
		models.ToolCall{CorrelationID: "c2", Name: "strict"}, testCaller)
	if result.ErrKind != models.ErrValidation {
		t.Errorf("err kind = %q, want validation", result.ErrKind)
	}
	if validationCalls.Load() != 1 {
		t.Errorf("validation failures retried: %d calls", validationCalls.Load())
	}
}

func TestExecuteTimeout(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Spec{
		Name: "slow",
		Handler: func(ctx context.Context, _ json.RawMessage, _ models.Scope) (json.RawMessage, error) {
			select {
			case <-time.After(time.Second):
				return json.RawMessage(`{}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}); err != nil {
		t.Fatal(err)
	}
	executor, _ := newTestExecutor(t, registry, ExecutorConfig{
		CallTimeout: 20 * time.Millisecond,
		Retry:       retry.Single(),
	})

	result := executor.Execute(context.Background(),
		models.ToolCall{CorrelationID: "c1", Name: "slow"}, testCaller)
	if result.ErrKind != models.ErrTimeout {
		t.Errorf("err kind = %q, want timeout", result.ErrKind)
	}
}

func mutatingRegistry(t *testing.T, execs *atomic.Int64, drained *atomic.Bool) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	err := registry.Register(tools.Spec{
		Name:               "submit_timesheets",
		Mutating:           true,
		RequiredCapability: "timesheets:submit",
		Preview: func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
			if drained.Load() {
				return json.RawMessage(`{"noop":true,"message":"0 timesheets found matching the criteria."}`), nil
			}
			return json.RawMessage(`{"count":3,"total_hours":24,"message":"This will submit 3 draft timesheet(s) totaling 24.0 hours."}`), nil
		},
		Execute: func(context.Context, json.RawMessage, models.Scope) (json.RawMessage, error) {
			execs.Add(1)
			return json.RawMessage(`{"success":true,"message":"3 timesheet(s) submitted for approval."}`), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return registry
}

func TestExecuteMutationRequiresConfirmation(t *testing.T) {
	var execs atomic.Int64
	var drained atomic.Bool
	executor, _ := newTestExecutor(t, mutatingRegistry(t, &execs, &drained), ExecutorConfig{})

	result := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c1", Name: "submit_timesheets", Args: json.RawMessage(`{}`),
	}, testCaller)
	if result.Erred() {
		t.Fatalf("preview failed: %s", result.ErrMessage)
	}
	if execs.Load() != 0 {
		t.Fatal("mutation executed without confirmation")
	}

	var envelope struct {
		RequiresConfirmation bool   `json:"requires_confirmation"`
		Ticket               string `json:"confirmation_ticket"`
	}
	if err := json.Unmarshal(result.Payload, &envelope); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if !envelope.RequiresConfirmation || envelope.Ticket == "" {
		t.Fatalf("preview envelope = %s", result.Payload)
	}

	// confirmed:false is the same as absent.
	result = executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c2", Name: "submit_timesheets", Args: json.RawMessage(`{"confirmed":false}`),
	}, testCaller)
	if result.Erred() || execs.Load() != 0 {
		t.Errorf("confirmed:false must behave like a preview (execs=%d)", execs.Load())
	}
}

func TestExecuteMutationConfirmedOnce(t *testing.T) {
	var execs atomic.Int64
	var drained atomic.Bool
	executor, audits := newTestExecutor(t, mutatingRegistry(t, &execs, &drained), ExecutorConfig{})

	preview := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c1", Name: "submit_timesheets", Args: json.RawMessage(`{}`),
	}, testCaller)
	var envelope struct {
		Ticket string `json:"confirmation_ticket"`
	}
	if err := json.Unmarshal(preview.Payload, &envelope); err != nil {
		t.Fatal(err)
	}

	confirmArgs := json.RawMessage(fmt.Sprintf(`{"confirmed":true,"confirmation_ticket":%q}`, envelope.Ticket))
	result := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c2", Name: "submit_timesheets", Args: confirmArgs,
	}, testCaller)
	if result.Erred() {
		t.Fatalf("confirmed execute failed: %s", result.ErrMessage)
	}
	if execs.Load() != 1 {
		t.Errorf("mutation ran %d times, want 1", execs.Load())
	}

	// Replaying the same confirmation must not execute again.
	replay := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c3", Name: "submit_timesheets", Args: confirmArgs,
	}, testCaller)
	if replay.ErrKind != models.ErrValidation {
		t.Errorf("replay err kind = %q, want validation", replay.ErrKind)
	}
	if execs.Load() != 1 {
		t.Errorf("replay executed the mutation again (%d runs)", execs.Load())
	}

	if audits.Len() != 3 {
		t.Errorf("audit entries = %d, want 3", audits.Len())
	}
}

func TestExecuteConcurrentDoubleConfirm(t *testing.T) {
	var execs atomic.Int64
	var drained atomic.Bool
	executor, _ := newTestExecutor(t, mutatingRegistry(t, &execs, &drained), ExecutorConfig{})

	preview := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c1", Name: "submit_timesheets", Args: json.RawMessage(`{}`),
	}, testCaller)
	var envelope struct {
		Ticket string `json:"confirmation_ticket"`
	}
	if err := json.Unmarshal(preview.Payload, &envelope); err != nil {
		t.Fatal(err)
	}
	confirmArgs := json.RawMessage(fmt.Sprintf(`{"confirmed":true,"confirmation_ticket":%q}`, envelope.Ticket))

	var wg sync.WaitGroup
	results := make([]models.ToolResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = executor.Execute(context.Background(), models.ToolCall{
				CorrelationID: fmt.Sprintf("c%d", i+2), Name: "submit_timesheets", Args: confirmArgs,
			}, testCaller)
		}(i)
	}
	wg.Wait()

	if execs.Load() != 1 {
		t.Fatalf("mutation ran %d times under concurrent confirmation, want exactly 1", execs.Load())
	}
	winners := 0
	for _, r := range results {
		if !r.Erred() {
			winners++
		} else if r.ErrKind != models.ErrValidation {
			t.Errorf("loser err kind = %q, want validation", r.ErrKind)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestExecuteNoopPreviewSkipsTicketing(t *testing.T) {
	var execs atomic.Int64
	var drained atomic.Bool
	drained.Store(true)
	executor, _ := newTestExecutor(t, mutatingRegistry(t, &execs, &drained), ExecutorConfig{})

	result := executor.Execute(context.Background(), models.ToolCall{
		CorrelationID: "c1", Name: "submit_timesheets", Args: json.RawMessage(`{}`),
	}, testCaller)
	if result.Erred() {
		t.Fatalf("noop preview failed: %s", result.ErrMessage)
	}
	var probe struct {
		Noop                 bool `json:"noop"`
		RequiresConfirmation bool `json:"requires_confirmation"`
	}
	if err := json.Unmarshal(result.Payload, &probe); err != nil {
		t.Fatal(err)
	}
	if !probe.Noop || probe.RequiresConfirmation {
		t.Errorf("noop preview must bypass confirmation: %s", result.Payload)
	}
}
