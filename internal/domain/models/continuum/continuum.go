package continuum

import (
	"time"

	"meridian/internal/domain/models/llm"
)

// Metadata is the persisted, slowly-changing state attached to a continuum.
type Metadata struct {
	LastTouchstone             *Touchstone `json:"last_touchstone,omitempty"`
	LastTouchstoneEmbedding    []float32   `json:"last_touchstone_embedding,omitempty"`
	ModelPreference            string      `json:"model_preference,omitempty"`
	ThinkingBudgetPreference   *int        `json:"thinking_budget_preference,omitempty"`
	LinkedDays                 []string    `json:"linked_days,omitempty"`
}

// Continuum is a single user's ongoing conversation object: an in-memory
// ordered message cache plus metadata, exclusively owned by the
// orchestrator for the duration of one turn.
type Continuum struct {
	ID        string
	UserID    string
	Messages  []llm.Message
	Metadata  Metadata
	CreatedAt time.Time

	dirty bool
}

// Event is emitted by continuum mutations (e.g. a segment boundary crossed
// a size threshold); the orchestrator republishes these on the event bus.
type Event struct {
	Type         string
	ContinuumID  string
	Message      *llm.Message
}

const EventSegmentBoundaryCreated = "segment_boundary_created"

// segmentSizeThreshold is the number of active messages after which a new
// segment boundary sentinel is inserted.
const segmentSizeThreshold = 40

// AddUserMessage appends a user message to the cache and returns any
// cache-level events produced (§4.10).
func (c *Continuum) AddUserMessage(content []llm.ContentBlock) (llm.Message, []Event) {
	msg := llm.Message{
		Role:      llm.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  llm.MessageMetadata{Status: llm.MessageStatusActive},
	}
	c.Messages = append(c.Messages, msg)
	return msg, c.maybeSegment()
}

// AddAssistantMessage appends an assistant message to the cache.
func (c *Continuum) AddAssistantMessage(text string, metadata llm.MessageMetadata) (llm.Message, []Event) {
	metadata.Status = llm.MessageStatusActive
	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   []llm.ContentBlock{llm.Text(text)},
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
	c.Messages = append(c.Messages, msg)
	return msg, c.maybeSegment()
}

func (c *Continuum) maybeSegment() []Event {
	active := 0
	for _, m := range c.Messages {
		if m.Metadata.Status == llm.MessageStatusActive {
			active++
		}
	}
	if active < segmentSizeThreshold {
		return nil
	}
	// The boundary marks a one-time collapse: everything active up to this
	// point is folded into the segment it closes. The boundary sentinel is
	// itself active, so the active count restarts at one and the threshold
	// trips again once 39 more active messages accumulate, not on every
	// message.
	for i := range c.Messages {
		if c.Messages[i].Metadata.Status == llm.MessageStatusActive {
			c.Messages[i].Metadata.Status = llm.MessageStatusCollapsed
		}
	}
	boundary := llm.Message{
		Role:      llm.RoleSystem,
		Content:   []llm.ContentBlock{llm.Text("[segment_boundary]")},
		CreatedAt: time.Now(),
		Metadata:  llm.MessageMetadata{SegmentBoundary: true, Status: llm.MessageStatusActive},
	}
	c.Messages = append(c.Messages, boundary)
	return []Event{{Type: EventSegmentBoundaryCreated, ContinuumID: c.ID, Message: &boundary}}
}

// GetMessagesForAPI serializes the cache to the provider request form.
func (c *Continuum) GetMessagesForAPI() []llm.Message {
	out := make([]llm.Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// SetLastTouchstone records the newly generated touchstone and marks
// metadata dirty for the next UoW commit (§4.7 step 7).
func (c *Continuum) SetLastTouchstone(t Touchstone, embedding []float32) {
	c.Metadata.LastTouchstone = &t
	c.Metadata.LastTouchstoneEmbedding = embedding
	c.dirty = true
}

// MetadataDirty reports whether metadata changed since the snapshot.
func (c *Continuum) MetadataDirty() bool { return c.dirty }

// Snapshot captures the in-memory state so it can be restored on a
// mid-turn failure (spec §9 open question: rollback is mandated).
type Snapshot struct {
	Messages []llm.Message
	Metadata Metadata
	dirty    bool
}

func (c *Continuum) Snapshot() Snapshot {
	messages := make([]llm.Message, len(c.Messages))
	copy(messages, c.Messages)
	return Snapshot{Messages: messages, Metadata: c.Metadata, dirty: c.dirty}
}

func (c *Continuum) Restore(s Snapshot) {
	c.Messages = s.Messages
	c.Metadata = s.Metadata
	c.dirty = s.dirty
}
