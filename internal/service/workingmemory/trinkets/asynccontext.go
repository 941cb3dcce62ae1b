package trinkets

import (
	"context"
	"fmt"
	"strings"

	"meridian/internal/domain/services/workingmemory"
)

// AsyncResultSource fetches deferred search results by task id from KV.
// Backed by Redis in production; a completed task's result is removed
// after one successful read so it surfaces exactly once.
type AsyncResultSource interface {
	PendingTaskIDs(ctx context.Context, userID string) ([]string, error)
	TakeResult(ctx context.Context, taskID string) (string, bool, error)
}

// AsyncContextTrinket displays deferred search results that finished after
// their originating tool call returned (§4.6). Non-cacheable: results
// appear and disappear between turns as background tasks complete.
type AsyncContextTrinket struct {
	source AsyncResultSource
}

func NewAsyncContextTrinket(source AsyncResultSource) *AsyncContextTrinket {
	return &AsyncContextTrinket{source: source}
}

func (t *AsyncContextTrinket) Name() string      { return "async_context_results" }
func (t *AsyncContextTrinket) CachePolicy() bool { return false }

func (t *AsyncContextTrinket) GenerateContent(ctx context.Context, update workingmemory.UpdateContext) (string, error) {
	if t.source == nil {
		return "", nil
	}
	taskIDs, err := t.source.PendingTaskIDs(ctx, update.UserID)
	if err != nil {
		return "", fmt.Errorf("async context trinket: list pending tasks: %w", err)
	}
	if len(taskIDs) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("<async_results>\n")
	found := false
	for _, id := range taskIDs {
		result, ok, err := t.source.TakeResult(ctx, id)
		if err != nil {
			return "", fmt.Errorf("async context trinket: take result %q: %w", id, err)
		}
		if !ok {
			continue
		}
		found = true
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", id, result)
	}
	sb.WriteString("</async_results>")
	if !found {
		return "", nil
	}
	return sb.String(), nil
}
