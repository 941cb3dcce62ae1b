package fingerprint

import (
	"context"

	cmodel "meridian/internal/domain/models/continuum"
	mmodel "meridian/internal/domain/models/memory"
)

// Result is the fingerprint query plus the set of previously-surfaced
// memory texts the model chose to retain (C8).
type Result struct {
	Fingerprint   string
	RetainedTexts map[string]bool
}

// Generator expands the current user message into a retrieval-optimized
// query and decides which previously-surfaced memories to keep pinned.
type Generator interface {
	Generate(ctx context.Context, cont *cmodel.Continuum, currentUserMessage string, previousMemories []mmodel.Memory) (Result, error)
}

// ApplyRetention filters memories to those whose text appears verbatim in
// retained (§4.8, §8 round-trip property). Memories with empty text are
// always dropped.
func ApplyRetention(memories []mmodel.Memory, retained map[string]bool) []mmodel.Memory {
	if len(retained) == 0 {
		return []mmodel.Memory{}
	}
	out := make([]mmodel.Memory, 0, len(memories))
	for _, m := range memories {
		if m.Text == "" {
			continue
		}
		if retained[m.Text] {
			out = append(out, m)
		}
	}
	return out
}
