// Package orchestrator implements C9: the turn orchestrator that drives one
// user message through fingerprinting, retrieval, system-prompt composition,
// the LLM's tool loop, and continuum persistence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
	mmodel "meridian/internal/domain/models/memory"

	"meridian/internal/domain"
	domainembeddings "meridian/internal/domain/services/embeddings"
	domainbus "meridian/internal/domain/services/eventbus"
	domainfp "meridian/internal/domain/services/fingerprint"
	domainllmcore "meridian/internal/domain/services/llmcore"
	domainorch "meridian/internal/domain/services/orchestrator"
	domainretrieval "meridian/internal/domain/services/retrieval"
	domaints "meridian/internal/domain/services/touchstone"
	domainwm "meridian/internal/domain/services/workingmemory"
)

// MemoryCache is the narrow interface the orchestrator needs out of the
// proactive-memory trinket: the cached surfaced set from last turn (step 3)
// and a way to hand it the merged set for this turn (step 10, via the
// normal UpdateTrinketEvent path — see publishSurfacedMemories).
type MemoryCache interface {
	GetCachedMemories(continuumID string) []mmodel.Memory
}

// ToolProvider supplies the request's tool schema list and a matching
// executor (internal/service/llm/tools.Adapter), letting the LLM
// provider's tool loop (§4.5) run against whatever tools are registered.
type ToolProvider interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, call domainllmcore.ToolCall) domainllmcore.ToolResult
}

// Orchestrator implements domainorch.Orchestrator (§4.9).
type Orchestrator struct {
	llm          domainllmcore.Provider
	embeddings   domainembeddings.Client
	retrieval    domainretrieval.Engine
	touchstone   domaints.Generator
	fingerprint  domainfp.Generator
	composer     domainwm.Composer
	bus          domainbus.Bus
	memoryCache  MemoryCache
	tools        ToolProvider
	logger       *slog.Logger
	maxRetrieval int
	maxIterations int
	toolLoaderName string
}

func New(
	llmProvider domainllmcore.Provider,
	embeddingsClient domainembeddings.Client,
	retrievalEngine domainretrieval.Engine,
	touchstoneGen domaints.Generator,
	fingerprintGen domainfp.Generator,
	composer domainwm.Composer,
	bus domainbus.Bus,
	memoryCache MemoryCache,
	tools ToolProvider,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:          llmProvider,
		embeddings:   embeddingsClient,
		retrieval:    retrievalEngine,
		touchstone:   touchstoneGen,
		fingerprint:  fingerprintGen,
		composer:     composer,
		bus:          bus,
		memoryCache:  memoryCache,
		tools:        tools,
		logger:       logger,
		maxRetrieval: 20,
	}
}

const toolLoaderName = "load_tool" // overridable via WithToolLoaderName

// WithToolLoaderName lets the wiring layer override the configured tool
// loader tool name (config.ToolLoaderToolName) without the orchestrator
// importing the config package directly.
func (o *Orchestrator) WithToolLoaderName(name string) *Orchestrator {
	if name != "" {
		o.toolLoaderName = name
	}
	return o
}

func (o *Orchestrator) effectiveToolLoaderName() string {
	if o.toolLoaderName != "" {
		return o.toolLoaderName
	}
	return toolLoaderName
}

// WithMaxIterations overrides the tool loop's circuit-breaker iteration
// cap (config.MaxIterations); zero leaves the provider's own default.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// ProcessMessage implements domainorch.Orchestrator.ProcessMessage (§4.9,
// the 20-step sequence referenced throughout by step number).
func (o *Orchestrator) ProcessMessage(
	ctx context.Context,
	cont *cmodel.Continuum,
	userContent []llm.ContentBlock,
	systemPrompt string,
	stream bool,
	callback domainorch.StreamCallback,
	uow *cmodel.UnitOfWork,
	triedLoadingAllTools bool,
) (string, domainorch.TurnMetadata, error) {
	start := time.Now()
	snapshot := cont.Snapshot()

	// Step 1: append user message, publish any cache-level events.
	userMsg, events := cont.AddUserMessage(userContent)
	o.publishContinuumEvents(ctx, events)

	// Step 2: extract text for embeddings.
	currentText := userMsg.TextContent()
	if currentText == "" {
		currentText = "Image uploaded"
	}

	// §4.7 timing note: generate the touchstone eagerly so C4 always has a
	// fresh one before retrieval.
	ts, tsEmbedding, err := o.touchstone.Generate(ctx, cont, currentText)
	if err != nil {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("orchestrator: generate touchstone: %w", err)
	}
	_ = tsEmbedding // already applied to cont by the generator (SetLastTouchstone)

	// Step 3: previous memories from the proactive-memory trinket's cache.
	previousMemories := o.memoryCache.GetCachedMemories(cont.ID)

	// Step 4: fingerprint + retention.
	fpResult, err := o.fingerprint.Generate(ctx, cont, currentText, previousMemories)
	if err != nil {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("orchestrator: generate fingerprint: %w", err)
	}

	// Step 5: apply retention.
	pinned := domainfp.ApplyRetention(previousMemories, fpResult.RetainedTexts)

	// Step 6: encode fingerprint.
	fpEmbeddings, err := o.embeddings.EncodeFast(ctx, []string{fpResult.Fingerprint})
	if err != nil || len(fpEmbeddings) == 0 {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("%w: orchestrator: encode fingerprint: %v", domain.ErrInfrastructure, err)
	}

	// Step 7: fresh retrieval.
	freshResults, err := o.retrieval.SearchWithEmbedding(ctx, cont.UserID, fpEmbeddings[0], ts, fpResult.Fingerprint, o.maxRetrieval)
	if err != nil {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("orchestrator: retrieval: %w", err)
	}

	// Step 8: merge pinned + fresh, dedup by id, pinned first.
	merged := mergeMemories(pinned, freshResults)

	// Step 9: log retrieval.
	surfacedIDs := make([]string, 0, len(merged))
	for _, m := range merged {
		surfacedIDs = append(surfacedIDs, m.ID)
	}
	uow.SetRetrievalLog(cmodel.RetrievalLogEntry{
		ContinuumID:       cont.ID,
		RawQuery:          currentText,
		Fingerprint:       fpResult.Fingerprint,
		SurfacedMemoryIDs: surfacedIDs,
	})

	// Step 10: publish merged memories to the proactive-memory trinket.
	o.publishSurfacedMemories(ctx, cont.ID, merged)

	// Step 11: compose system prompt.
	cachedContent, nonCachedContent, err := o.composer.Compose(ctx, o.bus, cont.ID, cont.UserID, systemPrompt)
	if err != nil {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("orchestrator: compose system prompt: %w", err)
	}

	// Step 12: assemble API messages.
	system := []domainllmcore.SystemBlock{
		{Text: cachedContent, CacheControl: true},
		{Text: nonCachedContent},
	}

	// Step 13: apply continuum preferences.
	req := &domainllmcore.GenerateRequest{
		System:        system,
		Messages:      cont.GetMessagesForAPI(),
		Model:         cont.Metadata.ModelPreference,
		MaxIterations: o.maxIterations,
	}
	if cont.Metadata.ThinkingBudgetPreference != nil && *cont.Metadata.ThinkingBudgetPreference > 0 {
		req.ThinkingEnabled = true
		req.ThinkingBudget = *cont.Metadata.ThinkingBudgetPreference
	}
	if o.tools != nil {
		req.Tools = o.tools.Definitions()
		req.ToolExecutor = o.tools
	}

	// Step 14: stream events.
	responseText, toolsUsed, invokedToolLoader, rawResponse, err := o.runLLM(ctx, req, stream, callback)
	if err != nil {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("orchestrator: llm stream: %w", err)
	}

	// Step 15: parse tags.
	tags := parseTags(responseText)

	// Step 16: validate non-empty.
	if tags.CleanText == "" {
		cont.Restore(snapshot)
		return "", domainorch.TurnMetadata{}, fmt.Errorf("%w: orchestrator: assistant response is blank", domain.ErrLogic)
	}

	// Step 17: append assistant message.
	assistantMetadata := llm.MessageMetadata{
		ReferencedMemories: tags.ReferencedMemories,
		SurfacedMemories:   surfacedIDs,
		Emotion:            tags.Emotion,
	}
	assistantMsg, events := cont.AddAssistantMessage(tags.CleanText, assistantMetadata)
	o.publishContinuumEvents(ctx, events)

	// Step 18: publish TurnCompletedEvent.
	turnNumber := (len(cont.Messages) + 1) / 2
	o.bus.Publish(ctx, domainorch.TurnCompletedEvent{ContinuumID: cont.ID, TurnNumber: turnNumber, Continuum: cont})

	// Step 19: persist via UoW (caller commits).
	persistedUser := userMsg
	if persistedUser.HasImage() {
		persistedUser = persistedUser.TextOnly()
	}
	uow.AddMessages(persistedUser, assistantMsg)
	if cont.MetadataDirty() {
		uow.MarkMetadataUpdated()
	}

	metadata := domainorch.TurnMetadata{
		ToolsUsed:        toolsUsed,
		TurnNumber:       turnNumber,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	_ = rawResponse

	// Step 20: auto-continuation.
	if invokedToolLoader && !triedLoadingAllTools {
		continuation := []llm.ContentBlock{llm.Text(
			"Great, the tool is now available. Please proceed with completing the original task using the newly loaded tool.",
		)}
		return o.ProcessMessage(ctx, cont, continuation, systemPrompt, stream, callback, uow, true)
	}

	return tags.CleanText, metadata, nil
}

func (o *Orchestrator) publishContinuumEvents(ctx context.Context, events []cmodel.Event) {
	for _, e := range events {
		o.bus.Publish(ctx, continuumEvent{e})
	}
}

// continuumEvent adapts cmodel.Event (which has no EventType method, to
// keep the pure domain model free of the eventbus dependency) to
// domainbus.Event for republishing (§4.10).
type continuumEvent struct {
	cmodel.Event
}

func (continuumEvent) EventType() string { return "continuum_event" }

func (o *Orchestrator) publishSurfacedMemories(ctx context.Context, continuumID string, merged []mmodel.Memory) {
	boxed := make([]interface{}, len(merged))
	for i, m := range merged {
		boxed[i] = m
	}
	o.bus.Publish(ctx, domainwm.UpdateTrinketEvent{
		ContinuumID:   continuumID,
		TargetTrinket: "proactive_memory",
		Context:       domainwm.UpdateContext{Memories: boxed},
	})
}

// mergeMemories dedups by id, pinned first, per §4.9 step 8.
func mergeMemories(pinned []mmodel.Memory, fresh []mmodel.RetrievalResult) []mmodel.Memory {
	seen := make(map[string]bool, len(pinned)+len(fresh))
	out := make([]mmodel.Memory, 0, len(pinned)+len(fresh))
	for _, m := range pinned {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, r := range fresh {
		if r.Memory.ID == "" || seen[r.Memory.ID] {
			continue
		}
		seen[r.Memory.ID] = true
		out = append(out, r.Memory)
	}
	return out
}

// runLLM drains the provider's stream channel, forwarding wire events to
// callback, tracking tool-loader invocations, and capturing the final
// response text and tool list (§4.9 step 14).
func (o *Orchestrator) runLLM(ctx context.Context, req *domainllmcore.GenerateRequest, stream bool, callback domainorch.StreamCallback) (string, []string, bool, *domainllmcore.GenerateResponse, error) {
	ch, err := o.llm.StreamEvents(ctx, req)
	if err != nil {
		return "", nil, false, nil, err
	}

	var (
		responseText      string
		toolsUsed         []string
		invokedToolLoader bool
		final             *domainllmcore.GenerateResponse
		streamErr         error
	)
	loaderName := o.effectiveToolLoaderName()

	for event := range ch {
		switch {
		case event.Text != nil:
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "text", Content: event.Text.Content})
			}
		case event.Thinking != nil:
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "thinking", Content: event.Thinking.Content})
			}
		case event.ToolDetected != nil:
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "tool", Tool: &domainorch.ToolWireEvent{Event: "detected", Name: event.ToolDetected.Name}})
			}
		case event.ToolExecuting != nil:
			toolsUsed = append(toolsUsed, event.ToolExecuting.ToolName)
			if event.ToolExecuting.ToolName == loaderName {
				if mode, _ := event.ToolExecuting.Arguments["mode"].(string); mode == "load" || mode == "fallback" {
					invokedToolLoader = true
				}
			}
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "tool", Tool: &domainorch.ToolWireEvent{Event: "executing", Name: event.ToolExecuting.ToolName}})
			}
		case event.ToolCompleted != nil:
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "tool", Tool: &domainorch.ToolWireEvent{Event: "completed", Name: event.ToolCompleted.Name}})
			}
		case event.ToolErrorEvt != nil:
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "tool", Tool: &domainorch.ToolWireEvent{Event: "error", Name: event.ToolErrorEvt.Name}})
			}
		case event.CircuitBreak != nil:
			// §7: a circuit break is not a failure — the accumulated text
			// and tool list from the turn so far are still returned.
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "error", Content: event.CircuitBreak.Reason})
			}
			if event.CircuitBreak.Partial != nil {
				final = event.CircuitBreak.Partial
				responseText = extractText(final)
			}
		case event.Err != nil:
			if stream && callback != nil {
				callback(domainorch.WireEvent{Type: "error", Content: event.Err.Message})
			}
			streamErr = fmt.Errorf("%w: %s", domain.ErrInfrastructure, event.Err.Message)
		case event.Complete != nil:
			resp := event.Complete.Response
			final = &resp
			responseText = extractText(&resp)
		}
	}

	if streamErr != nil {
		return "", nil, false, nil, streamErr
	}
	if final == nil {
		return "", nil, false, nil, fmt.Errorf("%w: orchestrator: stream ended without a complete event", domain.ErrInfrastructure)
	}
	return responseText, toolsUsed, invokedToolLoader, final, nil
}

func extractText(resp *domainllmcore.GenerateResponse) string {
	var out string
	for _, b := range resp.Content {
		if b.BlockType == llm.BlockTypeText {
			out += b.Text
		}
	}
	return out
}
