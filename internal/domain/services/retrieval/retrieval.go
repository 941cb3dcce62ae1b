package retrieval

import (
	"context"

	cmodel "meridian/internal/domain/models/continuum"
	mmodel "meridian/internal/domain/models/memory"
)

// Engine is the proactive retrieval service (C4): given an embedded query
// and a touchstone, it runs hybrid search, expands and reranks linked
// memories, and optionally cross-encoder reranks the primaries.
type Engine interface {
	SearchWithEmbedding(ctx context.Context, userID string, embedding []float32, touchstone cmodel.Touchstone, queryText string, limit int) ([]mmodel.RetrievalResult, error)
}
