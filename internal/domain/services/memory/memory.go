package memory

import (
	"context"

	mmodel "meridian/internal/domain/models/memory"
)

// ExtractedMemory is a memory awaiting storage; it has text and optional
// link/importance hints but no id or embedding yet.
type ExtractedMemory struct {
	Text       string
	Importance float64
	Links      []mmodel.Link
}

// HybridSearchParams configures C3.hybrid_search (§4.3).
type HybridSearchParams struct {
	Text          string
	Embedding     []float32
	Intent        string // recall | explore | exact | general
	Limit         int
	MinImportance float64
}

// Patch is a partial update applied by UpdateMemory.
type Patch struct {
	Importance   *float64
	AccessCount  *int
	LastAccessed bool // bump to now
}

// Store is the persistence interface for memories and their link graph
// (C3). Implementations must preserve link-graph mutual consistency
// (§3 invariant: B ∈ A.outbound ⇔ A ∈ B.inbound).
type Store interface {
	StoreMemories(ctx context.Context, userID string, extracted []ExtractedMemory, embeddings [][]float32) ([]string, error)
	SearchSimilar(ctx context.Context, userID string, embedding []float32, limit int, simThreshold, minImportance float64) ([]mmodel.Memory, error)
	HybridSearch(ctx context.Context, userID string, params HybridSearchParams) ([]mmodel.Memory, error)
	GetMemory(ctx context.Context, id string) (*mmodel.Memory, error)
	UpdateMemory(ctx context.Context, id string, patch Patch) error
	TraverseLinks(ctx context.Context, id string, depth int) ([]mmodel.TraversalEntry, error)
}
