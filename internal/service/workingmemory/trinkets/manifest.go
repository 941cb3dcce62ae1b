// Package trinkets ships the composer's (C6) registered system-prompt
// contributors, one file per trinket per §4.6.
package trinkets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"meridian/internal/domain/services/workingmemory"
)

// ManifestTrinket renders the segment manifest. Cacheable: the manifest
// only changes when a new segment boundary is crossed, not every turn.
// Summaries reach the trinket only through SetSummaries. Neither the
// orchestrator nor cmd/server calls it, so as wired the manifest section
// is empty and the composer omits it.
type ManifestTrinket struct {
	mu        sync.Mutex
	summaries []string
}

func NewManifestTrinket() *ManifestTrinket { return &ManifestTrinket{} }

func (t *ManifestTrinket) Name() string      { return "manifest" }
func (t *ManifestTrinket) CachePolicy() bool { return true }

// SetSummaries records the collapsed segment summaries surfaced by the
// cold cache loader for this continuum.
func (t *ManifestTrinket) SetSummaries(summaries []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaries = summaries
}

func (t *ManifestTrinket) GenerateContent(_ context.Context, _ workingmemory.UpdateContext) (string, error) {
	t.mu.Lock()
	summaries := append([]string(nil), t.summaries...)
	t.mu.Unlock()

	if len(summaries) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString("<segment_manifest>\n")
	for i, s := range summaries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	sb.WriteString("</segment_manifest>")
	return sb.String(), nil
}
