package tools

import (
	"context"
	"sync"

	"meridian/internal/domain/models/llm"
	domainllmcore "meridian/internal/domain/services/llmcore"
)

// Adapter bridges ToolRegistry's own ToolCall/ToolResult shape to the
// narrower domainllmcore.ToolExecutor contract the LLM provider's tool
// loop (§4.5) calls against, and tracks each tool's schema so the
// orchestrator can build the request's []llm.ToolDefinition alongside the
// registry's executors.
type Adapter struct {
	registry *ToolRegistry

	mu    sync.RWMutex
	specs []llm.ToolDefinition
}

func NewAdapter(registry *ToolRegistry) *Adapter {
	return &Adapter{registry: registry}
}

// RegisterTool adds an executor to the underlying registry and records its
// schema for Definitions().
func (a *Adapter) RegisterTool(def llm.ToolDefinition, executor ToolExecutor) {
	a.registry.Register(def.Name, executor)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.specs = append(a.specs, def)
}

// Definitions returns every registered tool's schema, in registration order.
func (a *Adapter) Definitions() []llm.ToolDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]llm.ToolDefinition(nil), a.specs...)
}

// Execute implements domainllmcore.ToolExecutor.
func (a *Adapter) Execute(ctx context.Context, call domainllmcore.ToolCall) domainllmcore.ToolResult {
	result := a.registry.Execute(ctx, ToolCall{ID: call.ID, Name: call.Name, Input: call.Input})
	return domainllmcore.ToolResult{
		ID:      result.ID,
		Name:    result.Name,
		Result:  result.Result,
		IsError: result.IsError,
	}
}
