package assistant

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/internal/usage"
	"github.com/tracklane/copilot/pkg/models"
)

// fakeProvider returns scripted responses and records the requests it saw.
type fakeProvider struct {
	mu        sync.Mutex
	name      string
	responses []*ModelResponse
	requests  []*ModelRequest
	stream    []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, req *ModelRequest) (*ModelResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return &ModelResponse{Text: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *fakeProvider) Stream(_ context.Context, req *ModelRequest) (<-chan StreamChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	out := make(chan StreamChunk, len(p.stream)+1)
	for _, text := range p.stream {
		out <- StreamChunk{Text: text}
	}
	out <- StreamChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(out)
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func newTestEngine(t *testing.T, standard, streaming *fakeProvider) (*Engine, *usage.Accountant) {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Spec{Name: "query_timesheets", Handler: okHandler(`{"rows":[]}`)}); err != nil {
		t.Fatal(err)
	}
	executor, _ := newTestExecutor(t, registry, ExecutorConfig{})
	accountant := usage.NewAccountant(map[usage.Tier]usage.Rates{
		usage.TierStreaming: {InputPerMTok: 1, OutputPerMTok: 2},
		usage.TierStandard:  {InputPerMTok: 10, OutputPerMTok: 20},
	})
	var streamProvider Provider
	if streaming != nil {
		streamProvider = streaming
	}
	engine := NewEngine(
		NewRouter(nil),
		registry,
		NewDispatcher(executor, DefaultDispatchConfig()),
		standard,
		streamProvider,
		accountant,
		observability.NewTestLogger(),
		observability.NewTestMetrics(),
		EngineConfig{MaxIterations: 3},
	)
	return engine, accountant
}

func TestChatLocalPathSkipsModel(t *testing.T) {
	standard := &fakeProvider{name: "standard"}
	engine, accountant := newTestEngine(t, standard, nil)

	resp, err := engine.Chat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "how many open risks?"}},
		Snapshot: testSnapshot(),
		Caller:   testCaller,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Path != PathLocal || resp.ToolsUsed {
		t.Errorf("path=%s toolsUsed=%v, want local/false", resp.Path, resp.ToolsUsed)
	}
	if standard.callCount() != 0 {
		t.Errorf("model called %d times for a snapshot answer", standard.callCount())
	}
	if accountant.TotalCost() != 0 {
		t.Errorf("local answer accrued cost %v", accountant.TotalCost())
	}
}

func TestChatStreamingTier(t *testing.T) {
	standard := &fakeProvider{name: "standard"}
	streaming := &fakeProvider{name: "cheap", responses: []*ModelResponse{
		{Text: "a RAID log tracks risks and issues", InputTokens: 100, OutputTokens: 50},
	}}
	engine, accountant := newTestEngine(t, standard, streaming)

	resp, err := engine.Chat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "explain what a RAID log is"}},
		Caller:   testCaller,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Path != PathStreaming {
		t.Errorf("path = %s, want streaming", resp.Path)
	}
	if standard.callCount() != 0 || streaming.callCount() != 1 {
		t.Errorf("calls standard=%d streaming=%d, want 0/1", standard.callCount(), streaming.callCount())
	}
	if len(streaming.requests[0].Tools) != 0 {
		t.Error("streaming tier must not receive tool schemas")
	}

	totals := accountant.Snapshot()[usage.TierStreaming]
	if totals.InputTokens != 100 || totals.OutputTokens != 50 {
		t.Errorf("recorded tokens %d/%d, want 100/50", totals.InputTokens, totals.OutputTokens)
	}
	wantCost := (100*1.0 + 50*2.0) / 1_000_000
	if math.Abs(resp.Usage.Cost-wantCost) > 1e-12 {
		t.Errorf("cost = %v, want %v", resp.Usage.Cost, wantCost)
	}
}

func TestChatStandardToolLoop(t *testing.T) {
	standard := &fakeProvider{name: "standard", responses: []*ModelResponse{
		{
			ToolCalls: []models.ToolCall{
				{CorrelationID: "c1", Name: "query_timesheets", Args: json.RawMessage(`{}`)},
			},
			InputTokens: 200, OutputTokens: 20,
		},
		{Text: "you have no timesheets", InputTokens: 300, OutputTokens: 30},
	}}
	engine, _ := newTestEngine(t, standard, nil)

	resp, err := engine.Chat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "show my timesheets for last week"}},
		Caller:   testCaller,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Path != PathStandard || !resp.ToolsUsed {
		t.Errorf("path=%s toolsUsed=%v, want standard/true", resp.Path, resp.ToolsUsed)
	}
	if resp.Text != "you have no timesheets" {
		t.Errorf("text = %q", resp.Text)
	}
	if standard.callCount() != 2 {
		t.Fatalf("model called %d times, want 2", standard.callCount())
	}
	if resp.Usage.InputTokens != 500 || resp.Usage.OutputTokens != 50 {
		t.Errorf("usage = %d/%d, want 500/50", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	// The second call must carry the tool results back to the model.
	second := standard.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != models.RoleTool || len(last.ToolResults) != 1 {
		t.Errorf("second request's last message = %+v, want tool results", last)
	}
	if last.ToolResults[0].CorrelationID != "c1" {
		t.Errorf("tool result correlation id = %q, want c1", last.ToolResults[0].CorrelationID)
	}
	if len(second.Tools) == 0 {
		t.Error("standard tier must carry tool schemas")
	}
}

func TestChatIterationCeiling(t *testing.T) {
	loop := &ModelResponse{ToolCalls: []models.ToolCall{
		{CorrelationID: "c1", Name: "query_timesheets", Args: json.RawMessage(`{}`)},
	}}
	standard := &fakeProvider{name: "standard", responses: []*ModelResponse{loop, loop, loop, loop}}
	engine, _ := newTestEngine(t, standard, nil)

	_, err := engine.Chat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "show timesheets for last week"}},
		Caller:   testCaller,
	})
	if err == nil {
		t.Fatal("expected an error when the model never produces final text")
	}
	if standard.callCount() != 3 {
		t.Errorf("model called %d times, want 3 (the configured ceiling)", standard.callCount())
	}
}

func TestChatStreamAssemblesChunks(t *testing.T) {
	standard := &fakeProvider{name: "standard"}
	streaming := &fakeProvider{name: "cheap", stream: []string{"a RAID log ", "tracks risks"}}
	engine, accountant := newTestEngine(t, standard, streaming)

	chunks, path, err := engine.ChatStream(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "explain what a RAID log is"}},
		Caller:   testCaller,
	})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	if path != PathStreaming {
		t.Errorf("path = %s, want streaming", path)
	}

	var text string
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		text += chunk.Text
	}
	if text != "a RAID log tracks risks" {
		t.Errorf("assembled text = %q", text)
	}
	if totals := accountant.Snapshot()[usage.TierStreaming]; totals.InputTokens != 10 {
		t.Errorf("stream usage not recorded: %+v", totals)
	}
}

func TestChatStreamLocalAnswer(t *testing.T) {
	standard := &fakeProvider{name: "standard"}
	engine, _ := newTestEngine(t, standard, nil)

	chunks, path, err := engine.ChatStream(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "budget summary please"}},
		Snapshot: testSnapshot(),
		Caller:   testCaller,
	})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	if path != PathLocal {
		t.Errorf("path = %s, want local", path)
	}
	var text string
	for chunk := range chunks {
		text += chunk.Text
	}
	if text == "" || standard.callCount() != 0 {
		t.Errorf("local stream: text=%q modelCalls=%d", text, standard.callCount())
	}
}
