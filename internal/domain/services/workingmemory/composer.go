package workingmemory

import (
	"context"

	"meridian/internal/domain/services/eventbus"
)

// ComposeSystemPromptEvent starts a composition round: the composer clears
// non-base sections, fans UpdateTrinketEvent out to every registered
// trinket, then publishes SystemPromptComposedEvent.
type ComposeSystemPromptEvent struct {
	ContinuumID string
	BasePrompt  string
	UserID      string
}

func (ComposeSystemPromptEvent) EventType() string { return "compose_system_prompt" }

// UpdateTrinketEvent asks one or all trinkets to regenerate their content.
// TargetTrinket == "" means broadcast to all registered trinkets.
type UpdateTrinketEvent struct {
	ContinuumID   string
	TargetTrinket string
	Context       UpdateContext
}

func (UpdateTrinketEvent) EventType() string { return "update_trinket" }

// UpdateContext carries whatever a trinket needs to regenerate its
// section; fields are populated as relevant to the target trinket.
type UpdateContext struct {
	UserID   string
	Memories []interface{} // merged retrieval results (C9 step 10), trinket-interpreted
	Extra    map[string]interface{}
}

// TrinketContentEvent is published by a trinket once it has regenerated
// its section; the composer adds/replaces the named section.
type TrinketContentEvent struct {
	ContinuumID  string
	VariableName string
	Content      string
	CachePolicy  bool
}

func (TrinketContentEvent) EventType() string { return "trinket_content" }

// SystemPromptComposedEvent is published once a compose round completes.
type SystemPromptComposedEvent struct {
	ContinuumID     string
	CachedContent   string
	NonCachedContent string
}

func (SystemPromptComposedEvent) EventType() string { return "system_prompt_composed" }

// Trinket is a pluggable contributor to the system prompt (§4.6).
type Trinket interface {
	Name() string
	CachePolicy() bool
	GenerateContent(ctx context.Context, update UpdateContext) (string, error)
}

// Composer registers trinkets and drives the compose round described in
// §4.6. Implementations subscribe themselves to the event bus at
// construction time.
type Composer interface {
	Register(t Trinket)
	GetTrinket(name string) (Trinket, bool)
	Compose(ctx context.Context, bus eventbus.Bus, continuumID, userID, basePrompt string) (cached, nonCached string, err error)
}
