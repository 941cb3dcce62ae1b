package orchestrator

import (
	"context"

	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
)

// StreamCallback receives translated provider events as the turn streams,
// for forwarding to the streaming session (C11).
type StreamCallback func(event WireEvent)

// WireEvent is the orchestrator's view of an outbound streaming event,
// already shaped for translation to the client wire protocol (§6).
type WireEvent struct {
	Type    string // text | thinking | tool | error
	Content string
	Tool    *ToolWireEvent
}

type ToolWireEvent struct {
	Event string // executing | completed | error | detected
	Name  string
}

// TurnMetadata is returned alongside the final response.
type TurnMetadata struct {
	ToolsUsed       []string
	ProcessingTimeMS int64
	TurnNumber      int
}

// TurnCompletedEvent is published once an assistant reply has been appended
// to the continuum (§4.9 step 18), ahead of the UoW commit, so subscribers
// (domain-knowledge buffering, tool auto-unload) can react to the finished
// turn.
type TurnCompletedEvent struct {
	ContinuumID string
	TurnNumber  int
	Continuum   *cmodel.Continuum
}

func (TurnCompletedEvent) EventType() string { return "turn_completed" }

// Orchestrator drives one user message to one assistant reply (C9).
type Orchestrator interface {
	ProcessMessage(
		ctx context.Context,
		cont *cmodel.Continuum,
		userContent []llm.ContentBlock,
		systemPrompt string,
		stream bool,
		callback StreamCallback,
		uow *cmodel.UnitOfWork,
		triedLoadingAllTools bool,
	) (finalResponse string, metadata TurnMetadata, err error)
}
