package llmcore

import (
	"context"
	"testing"

	"meridian/internal/domain/models/llm"
	domainllmcore "meridian/internal/domain/services/llmcore"
)

// scriptedBackend replays one GenerateResponse per StreamTurn call, in
// order, so tool-loop tests can drive a fixed sequence of turns.
type scriptedBackend struct {
	turns []*domainllmcore.GenerateResponse
	calls int
}

func (b *scriptedBackend) Name() string                    { return "scripted" }
func (b *scriptedBackend) SupportsModel(model string) bool { return true }
func (b *scriptedBackend) Complete(ctx context.Context, req *domainllmcore.GenerateRequest) (*domainllmcore.GenerateResponse, error) {
	return b.StreamTurn(ctx, req, func(domainllmcore.StreamEvent) {})
}
func (b *scriptedBackend) StreamTurn(ctx context.Context, req *domainllmcore.GenerateRequest, emit func(domainllmcore.StreamEvent)) (*domainllmcore.GenerateResponse, error) {
	resp := b.turns[b.calls]
	b.calls++
	return resp, nil
}

// echoTool always returns the same result, used to trigger the "Repeated
// identical results" circuit break (§4.5, §8 scenario 3).
type echoTool struct{ result string }

func (e *echoTool) Execute(ctx context.Context, call domainllmcore.ToolCall) domainllmcore.ToolResult {
	return domainllmcore.ToolResult{ID: call.ID, Name: call.Name, Result: e.result}
}

func toolUseTurn(toolCallID string) *domainllmcore.GenerateResponse {
	return &domainllmcore.GenerateResponse{
		StopReason: llm.StopReasonToolUse,
		Content: []llm.ContentBlock{
			llm.Text("Let me check that."),
			llm.ToolUse(toolCallID, "echo", map[string]interface{}{"text": "hi"}),
		},
	}
}

func baseRequest() *domainllmcore.GenerateRequest {
	return &domainllmcore.GenerateRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.Text("hello")}}},
	}
}

func drain(ch <-chan domainllmcore.StreamEvent) []domainllmcore.StreamEvent {
	var out []domainllmcore.StreamEvent
	for e := range ch {
		out = append(out, e)
	}
	return out
}

// TestCircuitBreakerRepeatedResults covers §8: two consecutive identical
// tool results break on the second, and the partial response (with its
// accumulated text) survives the break rather than being discarded.
func TestCircuitBreakerRepeatedResults(t *testing.T) {
	backend := &scriptedBackend{turns: []*domainllmcore.GenerateResponse{
		toolUseTurn("call-1"),
		toolUseTurn("call-2"),
	}}
	failover := NewFailoverState(0)
	p := New(backend, failover, "reasoning-model", "execution-model", nil)

	req := baseRequest()
	req.ToolExecutor = &echoTool{result: "same result every time"}

	ch, err := p.StreamEvents(context.Background(), req)
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}

	var brokeOn string
	var sawSecondToolExecuting int
	for _, e := range drain(ch) {
		if e.CircuitBreak != nil {
			brokeOn = e.CircuitBreak.Reason
			if e.CircuitBreak.Partial == nil {
				t.Fatalf("circuit break event should carry the partial response")
			}
		}
		if e.ToolExecuting != nil {
			sawSecondToolExecuting++
		}
	}
	if brokeOn == "" {
		t.Fatalf("expected a circuit break event")
	}
	if want := "Repeated identical results"; brokeOn != want {
		t.Fatalf("break reason = %q, want %q", brokeOn, want)
	}
	// Exactly two tool executions: the repeat is detected on the second.
	if sawSecondToolExecuting != 2 {
		t.Fatalf("expected exactly 2 tool executions before the break, got %d", sawSecondToolExecuting)
	}
}

// TestCircuitBreakerMaxIterations covers the exactly-N vs N+1 boundary
// (§8): maxIterations distinct iterations complete without a break, and
// iteration N+1 breaks.
func TestCircuitBreakerMaxIterations(t *testing.T) {
	// Every turn stops on tool_use with a distinct result, so only the
	// iteration cap itself can stop the loop.
	turns := make([]*domainllmcore.GenerateResponse, 5)
	for i := range turns {
		turns[i] = toolUseTurn("call")
	}
	backend := &scriptedBackend{turns: turns}
	failover := NewFailoverState(0)
	p := New(backend, failover, "reasoning-model", "execution-model", nil, WithMaxIterations(3))

	req := baseRequest()
	req.ToolExecutor = &distinctResultTool{}

	ch, err := p.StreamEvents(context.Background(), req)
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}

	var reason string
	for _, e := range drain(ch) {
		if e.CircuitBreak != nil {
			reason = e.CircuitBreak.Reason
		}
	}
	if reason != "maximum iterations" {
		t.Fatalf("reason = %q, want %q", reason, "maximum iterations")
	}
	if backend.calls != 4 {
		t.Fatalf("expected exactly maxIterations+1 = 4 turns issued, got %d", backend.calls)
	}
}

type distinctResultTool struct{ n int }

func (d *distinctResultTool) Execute(ctx context.Context, call domainllmcore.ToolCall) domainllmcore.ToolResult {
	d.n++
	return domainllmcore.ToolResult{ID: call.ID, Name: call.Name, Result: d.n}
}

// TestValidateRequestRejectsEmptyMessages covers §8 boundary: 0 messages.
func TestValidateRequestRejectsEmptyMessages(t *testing.T) {
	if err := validateRequest(&domainllmcore.GenerateRequest{}); err == nil {
		t.Fatalf("expected error for empty message list")
	}
}

// TestValidateRequestRejectsWhitespaceContent covers §8 boundary:
// whitespace-only content.
func TestValidateRequestRejectsWhitespaceContent(t *testing.T) {
	req := &domainllmcore.GenerateRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.Text("   \n\t")}}},
	}
	if err := validateRequest(req); err == nil {
		t.Fatalf("expected error for whitespace-only content")
	}
}
