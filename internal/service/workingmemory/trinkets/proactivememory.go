package trinkets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mmodel "meridian/internal/domain/models/memory"
	"meridian/internal/domain/services/eventbus"
	"meridian/internal/domain/services/workingmemory"
)

// ProactiveMemoryTrinket renders the merged pinned+fresh memory list
// surfaced this turn (§4.9 step 10) and caches it so the orchestrator can
// pull it back out as "previous memories" on the next turn (§4.9 step 3).
// Non-cacheable: the surfaced set changes every turn.
//
// It self-subscribes to UpdateTrinketEvent the same way the composer
// self-subscribes to TrinketContentEvent, so the orchestrator's step-10
// publish of UpdateTrinketEvent{target=proactive_memory, context{memories}}
// reaches it directly rather than through a bespoke setter method.
type ProactiveMemoryTrinket struct {
	mu       sync.Mutex
	memories map[string][]mmodel.Memory // continuum id -> surfaced set
}

func NewProactiveMemoryTrinket(bus eventbus.Bus) *ProactiveMemoryTrinket {
	t := &ProactiveMemoryTrinket{memories: make(map[string][]mmodel.Memory)}
	bus.Subscribe((workingmemory.UpdateTrinketEvent{}).EventType(), t.handleUpdate)
	return t
}

func (t *ProactiveMemoryTrinket) Name() string      { return "proactive_memory" }
func (t *ProactiveMemoryTrinket) CachePolicy() bool { return false }

func (t *ProactiveMemoryTrinket) handleUpdate(_ context.Context, event eventbus.Event) error {
	e, ok := event.(workingmemory.UpdateTrinketEvent)
	if !ok {
		return fmt.Errorf("proactive memory trinket: unexpected event type %T", event)
	}
	if e.TargetTrinket != t.Name() || len(e.Context.Memories) == 0 {
		return nil
	}
	memories := make([]mmodel.Memory, 0, len(e.Context.Memories))
	for _, raw := range e.Context.Memories {
		if m, ok := raw.(mmodel.Memory); ok {
			memories = append(memories, m)
		}
	}
	t.mu.Lock()
	t.memories[e.ContinuumID] = memories
	t.mu.Unlock()
	return nil
}

// GetCachedMemories implements the orchestrator's get_cached_memories() call
// (§4.9 step 3): the previous turn's surfaced set, read before this turn's
// retrieval overwrites it via the step-10 publish.
func (t *ProactiveMemoryTrinket) GetCachedMemories(continuumID string) []mmodel.Memory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]mmodel.Memory(nil), t.memories[continuumID]...)
}

func (t *ProactiveMemoryTrinket) GenerateContent(_ context.Context, update workingmemory.UpdateContext) (string, error) {
	continuumID, _ := update.Extra["continuum_id"].(string)
	t.mu.Lock()
	memories := t.memories[continuumID]
	t.mu.Unlock()

	if len(memories) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString("<surfaced_memories>\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "- [%s] %s\n", m.ID, m.Text)
	}
	sb.WriteString("</surfaced_memories>")
	return sb.String(), nil
}
