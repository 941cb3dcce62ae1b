// Package llmcore implements C5: the provider-agnostic tool loop, circuit
// breaker, model-tier selection, and failover routing described in §4.5,
// composed over one or two narrow single-turn backends (native Anthropic,
// OpenAI-compatible translator).
package llmcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"meridian/internal/capabilities"
	"meridian/internal/domain"
	"meridian/internal/domain/models/llm"
	domainllmcore "meridian/internal/domain/services/llmcore"
)

const defaultMaxIterations = 8

// backend is the narrow single-turn contract each concrete provider
// (providers/anthropic, providers/openaicompat) implements. The tool loop,
// circuit breaker, and failover routing live here, one layer up, so both
// backends share identical looping semantics.
type backend interface {
	Name() string
	SupportsModel(model string) bool
	Complete(ctx context.Context, req *domainllmcore.GenerateRequest) (*domainllmcore.GenerateResponse, error)
	StreamTurn(ctx context.Context, req *domainllmcore.GenerateRequest, emit func(domainllmcore.StreamEvent)) (*domainllmcore.GenerateResponse, error)
}

// Provider composes a primary backend with an optional emergency backend
// behind a shared FailoverState, implementing the full domainllmcore.Provider
// contract (§4.5).
type Provider struct {
	primary   backend
	emergency backend
	failover  *FailoverState

	capabilities *capabilities.Registry
	logger       *slog.Logger

	reasoningModel string
	executionModel string
	simpleTools    llm.SimpleToolSet
	maxIterations  int
}

// Option configures a Provider at construction time.
type Option func(*Provider)

func WithEmergencyBackend(b backend) Option {
	return func(p *Provider) { p.emergency = b }
}

func WithCapabilities(reg *capabilities.Registry) Option {
	return func(p *Provider) { p.capabilities = reg }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

func WithMaxIterations(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxIterations = n
		}
	}
}

// New builds a Provider. failover must be the single process-wide
// FailoverState shared by every Provider instance (§4.5 Failover — it must
// never become per-instance).
func New(primary backend, failover *FailoverState, reasoningModel, executionModel string, simpleTools []string, opts ...Option) *Provider {
	p := &Provider{
		primary:        primary,
		failover:       failover,
		reasoningModel: reasoningModel,
		executionModel: executionModel,
		simpleTools:    llm.NewSimpleToolSet(simpleTools),
		maxIterations:  defaultMaxIterations,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.primary.Name() }

func (p *Provider) SupportsModel(model string) bool {
	if p.primary.SupportsModel(model) {
		return true
	}
	return p.emergency != nil && p.emergency.SupportsModel(model)
}

// GenerateResponse runs one non-streaming round trip and never tool-loops.
// An empty req.Model falls back to the reasoning model. The fast-LLM path
// (touchstone/fingerprint) calls a backend's Complete directly instead.
func (p *Provider) GenerateResponse(ctx context.Context, req *domainllmcore.GenerateRequest) (*domainllmcore.GenerateResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.reasoningModel
	}
	turnReq := p.withModel(req, model)

	b, usingEmergency := p.chooseBackend(model)
	resp, err := b.Complete(ctx, turnReq)
	if err != nil && !usingEmergency {
		if activated, fbErr := p.maybeFailover(err); activated {
			return p.emergency.Complete(ctx, turnReq)
		} else if fbErr != nil {
			return nil, fbErr
		}
	}
	return resp, err
}

// StreamEvents drives the tool loop described in §4.5: stream one turn,
// and if it stops on tool_use with an executor configured, execute the
// tools, append results, and re-stream — subject to the circuit breaker.
func (p *Provider) StreamEvents(ctx context.Context, req *domainllmcore.GenerateRequest) (<-chan domainllmcore.StreamEvent, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	ch := make(chan domainllmcore.StreamEvent, 16)
	go func() {
		defer close(ch)
		p.runLoop(ctx, req, ch)
	}()
	return ch, nil
}

func (p *Provider) runLoop(ctx context.Context, req *domainllmcore.GenerateRequest, ch chan<- domainllmcore.StreamEvent) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = p.maxIterations
	}

	messages := append([]llm.Message(nil), req.Messages...)
	var lastStopReason, lastToolName string
	var lastResultSerialized string
	var lastResp *domainllmcore.GenerateResponse
	haveLastResult := false

	for iteration := 1; ; iteration++ {
		model := p.selectModel(req, lastStopReason, lastToolName)
		turnReq := p.withModel(req, model)
		turnReq.Messages = messages

		resp, err := p.streamTurn(ctx, turnReq, ch)
		if err != nil {
			ch <- domainllmcore.StreamEvent{Err: &domainllmcore.ErrorEvent{Message: err.Error()}}
			return
		}

		lastStopReason = resp.StopReason
		lastResp = resp
		if resp.StopReason != llm.StopReasonToolUse || req.ToolExecutor == nil {
			ch <- domainllmcore.StreamEvent{Complete: &domainllmcore.CompleteEvent{Response: *resp}}
			return
		}

		toolCalls := extractToolCalls(resp)
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		var resultBlocks []llm.ContentBlock
		toolErrored := false
		for _, call := range toolCalls {
			lastToolName = call.Name
			ch <- domainllmcore.StreamEvent{ToolExecuting: &domainllmcore.ToolExecutingEvent{ID: call.ID, ToolName: call.Name, Arguments: call.Input}}

			result := req.ToolExecutor.Execute(ctx, call)
			serialized := serializeToolResult(result.Result)

			if result.IsError {
				toolErrored = true
				ch <- domainllmcore.StreamEvent{ToolErrorEvt: &domainllmcore.ToolErrorEvent{ID: call.ID, Name: call.Name, Err: serialized}}
			} else {
				ch <- domainllmcore.StreamEvent{ToolCompleted: &domainllmcore.ToolCompletedEvent{ID: call.ID, Name: call.Name, Result: result.Result}}
			}

			if haveLastResult && serialized == lastResultSerialized {
				ch <- domainllmcore.StreamEvent{CircuitBreak: &domainllmcore.CircuitBreakerEvent{Reason: "Repeated identical results", Partial: lastResp}}
				return
			}
			lastResultSerialized = serialized
			haveLastResult = true

			resultBlocks = append(resultBlocks, llm.ToolResult(call.ID, result.Result, result.IsError))
		}

		if toolErrored {
			ch <- domainllmcore.StreamEvent{CircuitBreak: &domainllmcore.CircuitBreakerEvent{Reason: "Tool error", Partial: lastResp}}
			return
		}

		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: resultBlocks})

		if iteration > maxIterations {
			ch <- domainllmcore.StreamEvent{CircuitBreak: &domainllmcore.CircuitBreakerEvent{Reason: "maximum iterations", Partial: lastResp}}
			return
		}
	}
}

// streamTurn streams exactly one model turn, routing through the emergency
// backend when failover is active and activating failover on a primary
// 5xx/connection failure.
func (p *Provider) streamTurn(ctx context.Context, req *domainllmcore.GenerateRequest, ch chan<- domainllmcore.StreamEvent) (*domainllmcore.GenerateResponse, error) {
	b, usingEmergency := p.chooseBackend(req.Model)
	resp, err := b.StreamTurn(ctx, req, func(e domainllmcore.StreamEvent) { ch <- e })
	if err == nil || usingEmergency {
		return resp, err
	}

	activated, fbErr := p.maybeFailover(err)
	if !activated {
		if fbErr != nil {
			return nil, fbErr
		}
		return nil, err
	}
	p.logger.Warn("llmcore: primary backend failed, retrying via emergency backend", "error", err)
	return p.emergency.StreamTurn(ctx, req, func(e domainllmcore.StreamEvent) { ch <- e })
}

// maybeFailover activates failover and reports true when err looks like a
// 5xx/connection failure the emergency backend should absorb. It returns
// (false, err) unchanged when no emergency backend is configured, so the
// caller surfaces the original error instead of silently swallowing it.
func (p *Provider) maybeFailover(err error) (bool, error) {
	if p.emergency == nil {
		return false, err
	}
	if !errors.Is(err, domain.ErrInfrastructure) {
		return false, err
	}
	p.failover.Activate(func() { p.failover.Deactivate() })
	return true, nil
}

// chooseBackend returns the emergency backend when failover is active
// (regardless of which model was requested, since the emergency endpoint
// translates via the OpenAI-compatible protocol) or the primary otherwise.
func (p *Provider) chooseBackend(model string) (b backend, usingEmergency bool) {
	if p.emergency != nil && p.failover.Active() {
		return p.emergency, true
	}
	return p.primary, false
}

// selectModel implements the one-step look-behind of §4.5: an explicit
// req.Model override bypasses tier selection entirely; otherwise the
// execution tier is used only when the previous iteration ended in
// tool_use against a configured simple tool.
func (p *Provider) selectModel(req *domainllmcore.GenerateRequest, lastStopReason, lastToolName string) string {
	if req.Model != "" {
		return req.Model
	}
	tier := llm.SelectTier(lastStopReason, lastToolName, p.simpleTools)
	if tier == llm.TierExecution {
		return p.executionModel
	}
	return p.reasoningModel
}

// withModel returns a shallow copy of req pinned to model, with thinking
// enabled only when the model is in the reasoning tier and the capability
// registry confirms it supports thinking (§4.5 Model selection).
func (p *Provider) withModel(req *domainllmcore.GenerateRequest, model string) *domainllmcore.GenerateRequest {
	out := *req
	out.Model = model
	out.ThinkingEnabled = req.ThinkingEnabled && model == p.reasoningModel && p.modelSupportsThinking(model)
	return &out
}

func (p *Provider) modelSupportsThinking(model string) bool {
	if p.capabilities == nil {
		return true
	}
	caps, err := p.capabilities.GetModelCapabilities(p.primary.Name(), model)
	if err != nil {
		return true
	}
	return caps.SupportsThinking
}

func extractToolCalls(resp *domainllmcore.GenerateResponse) []domainllmcore.ToolCall {
	var calls []domainllmcore.ToolCall
	for _, b := range resp.Content {
		if b.BlockType != llm.BlockTypeToolUse {
			continue
		}
		calls = append(calls, domainllmcore.ToolCall{ID: b.ToolUseID, Name: b.ToolName, Input: b.Input})
	}
	return calls
}

// serializeToolResult produces the byte-equality representation the
// circuit breaker compares consecutive results against (§4.5 Tool loop).
func serializeToolResult(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

// validateRequest enforces §4.5 Validation: a non-empty message list, and
// no message with empty/whitespace-only text content unless it's an
// assistant message carrying tool_use/non-text blocks.
func validateRequest(req *domainllmcore.GenerateRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: message list must not be empty", domain.ErrValidation)
	}
	for i, msg := range req.Messages {
		if messageHasContent(msg) {
			continue
		}
		return fmt.Errorf("%w: message %d has empty content", domain.ErrValidation, i)
	}
	return nil
}

func messageHasContent(msg llm.Message) bool {
	for _, b := range msg.Content {
		switch b.BlockType {
		case llm.BlockTypeText:
			if hasNonWhitespace(b.Text) {
				return true
			}
		case llm.BlockTypeToolUse, llm.BlockTypeToolResult, llm.BlockTypeImage, llm.BlockTypeThinking:
			return true
		}
	}
	return false
}

func hasNonWhitespace(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
