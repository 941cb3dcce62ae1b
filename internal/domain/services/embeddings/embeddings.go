package embeddings

import "context"

// RankedPassage is one scored result from Rerank.
type RankedPassage struct {
	Index   int
	Score   float64
	Passage string
}

// Client wraps the external encoder/reranker (C2). The embedding model and
// reranker themselves are external collaborators (spec §1); this interface
// is the only surface the rest of the system depends on.
type Client interface {
	// EncodeFast returns 384-dim L2-normalized vectors, the low-latency
	// path used for queries, classification, and memory storage.
	EncodeFast(ctx context.Context, texts []string) ([][]float32, error)

	// EncodeDeep returns 1024-dim L2-normalized vectors for long-form
	// retrieval (e.g. temporal archives).
	EncodeDeep(ctx context.Context, texts []string) ([][]float32, error)

	// Rerank cross-encoder scores passages against a query, returning them
	// ordered best-first.
	Rerank(ctx context.Context, query string, passages []string) ([]RankedPassage, error)

	// HasReranker is the capability flag callers branch on instead of
	// reflecting on the client (spec §9: runtime-optional reranker).
	HasReranker() bool
}
