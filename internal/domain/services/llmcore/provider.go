package llmcore

import (
	"context"

	"meridian/internal/domain/models/llm"
)

// Provider is the interface every LLM backend implements (native Anthropic,
// OpenAI-compatible translator, or a failover-wrapped composite). C5.
type Provider interface {
	// GenerateResponse runs one non-streaming round-trip with no tool loop.
	// The fast LLM path (touchstone/fingerprint) does not go through it; it
	// calls a backend's Complete directly.
	GenerateResponse(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// StreamEvents streams a response, looping tool calls under the
	// circuit breaker when req.Tools is non-empty and an executor is set.
	StreamEvents(ctx context.Context, req *GenerateRequest) (<-chan StreamEvent, error)

	Name() string
	SupportsModel(model string) bool
}

// SystemBlock is one entry of the two-block system content (§4.5.3).
type SystemBlock struct {
	Text         string
	CacheControl bool
}

// GenerateRequest is the provider-agnostic request shape.
type GenerateRequest struct {
	System   []SystemBlock
	Messages []llm.Message
	Tools    []llm.ToolDefinition
	Model    string

	MaxTokens   int
	Temperature float64

	ThinkingEnabled bool
	ThinkingBudget  int

	// ToolExecutor, if set, makes StreamEvents run the tool loop described
	// in §4.5 instead of stopping at the first tool_use.
	ToolExecutor ToolExecutor

	// CircuitBreaker configuration; zero value disables iteration limiting
	// beyond the package default.
	MaxIterations int
}

// ToolExecutor runs a single tool call and returns its (JSON-serializable)
// result. Implementations are provided by internal/service/llm/tools.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) ToolResult
}

type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

type ToolResult struct {
	ID      string
	Name    string
	Result  interface{}
	IsError bool
}

// GenerateResponse is the complete, non-streaming provider response.
type GenerateResponse struct {
	Content          []llm.ContentBlock
	Model            string
	InputTokens      int
	OutputTokens     int
	StopReason       string
	ResponseMetadata map[string]interface{}
}

// StreamEvent is one event in a streaming response (§4.5 stream_events).
// Exactly one of the typed fields is non-nil; Complete is always the last
// event sent on a successful stream.
type StreamEvent struct {
	Text          *TextEvent
	Thinking      *ThinkingEvent
	ToolDetected  *ToolDetectedEvent
	ToolExecuting *ToolExecutingEvent
	ToolCompleted *ToolCompletedEvent
	ToolErrorEvt  *ToolErrorEvent
	CircuitBreak  *CircuitBreakerEvent
	Err           *ErrorEvent
	Complete      *CompleteEvent
}

type TextEvent struct{ Content string }
type ThinkingEvent struct{ Content string }
type ToolDetectedEvent struct {
	ID   string
	Name string
}
type ToolExecutingEvent struct {
	ID        string
	ToolName  string
	Arguments map[string]interface{}
}
type ToolCompletedEvent struct {
	ID     string
	Name   string
	Result interface{}
}
type ToolErrorEvent struct {
	ID   string
	Name string
	Err  string
}
// CircuitBreakerEvent marks a tool-loop stop condition (§4.5). Partial
// carries the last model turn seen before the break so callers can still
// surface accumulated text/tools instead of discarding the turn (§7).
type CircuitBreakerEvent struct {
	Reason  string
	Partial *GenerateResponse
}
type ErrorEvent struct{ Message string }
type CompleteEvent struct{ Response GenerateResponse }
