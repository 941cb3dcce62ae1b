package continuum

import (
	"testing"

	"meridian/internal/domain/models/llm"
)

// TestSnapshotRestoreRollsBackMutations covers the §9 open question the
// spec resolves explicitly: a mid-turn failure must roll the continuum's
// in-memory cache back to its pre-turn state.
func TestSnapshotRestoreRollsBackMutations(t *testing.T) {
	c := &Continuum{ID: "c1", UserID: "u1"}
	snap := c.Snapshot()

	c.AddUserMessage([]llm.ContentBlock{llm.Text("hi")})
	c.AddAssistantMessage("hello back", llm.MessageMetadata{})
	c.SetLastTouchstone(Touchstone{Narrative: "mid-turn narrative"}, []float32{1, 0, 0})

	if len(c.Messages) != 2 {
		t.Fatalf("expected 2 messages before rollback, got %d", len(c.Messages))
	}

	c.Restore(snap)

	if len(c.Messages) != 0 {
		t.Fatalf("expected messages rolled back to empty, got %d", len(c.Messages))
	}
	if c.Metadata.LastTouchstone != nil {
		t.Fatalf("expected metadata rolled back, touchstone still set")
	}
	if c.MetadataDirty() {
		t.Fatalf("expected dirty flag rolled back to false")
	}
}

// TestAddAssistantMessageSetsActiveStatus ensures a freshly appended
// assistant message is stamped with the active status.
func TestAddAssistantMessageSetsActiveStatus(t *testing.T) {
	c := &Continuum{ID: "c1", UserID: "u1"}
	msg, _ := c.AddAssistantMessage("hello", llm.MessageMetadata{})
	if msg.Metadata.Status != llm.MessageStatusActive {
		t.Fatalf("expected active status, got %q", msg.Metadata.Status)
	}
}

// TestMaybeSegmentInsertsBoundaryAtThreshold covers §4.10: crossing the
// active-message threshold inserts a segment boundary sentinel and emits
// an event for it.
func TestMaybeSegmentInsertsBoundaryAtThreshold(t *testing.T) {
	c := &Continuum{ID: "c1", UserID: "u1"}
	var lastEvents []Event
	for i := 0; i < 40; i++ {
		_, events := c.AddUserMessage([]llm.ContentBlock{llm.Text("msg")})
		lastEvents = events
	}
	if len(lastEvents) != 1 || lastEvents[0].Type != EventSegmentBoundaryCreated {
		t.Fatalf("expected a segment boundary event at the threshold, got %+v", lastEvents)
	}
	last := c.Messages[len(c.Messages)-1]
	if !last.Metadata.SegmentBoundary {
		t.Fatalf("expected last message to be the boundary sentinel")
	}
}
