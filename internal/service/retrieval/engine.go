package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"meridian/internal/domain/services/embeddings"
	"meridian/internal/domain/services/memory"

	cmodel "meridian/internal/domain/models/continuum"
	mmodel "meridian/internal/domain/models/memory"
)

// Tuning is the retrieval tuning config (§6): max_memories,
// max_link_traversal_depth, min_importance_score, similarity_threshold.
type Tuning struct {
	MaxLinkTraversalDepth int
	MinImportanceScore    float64
	SimilarityThreshold   float64
}

// Engine implements the proactive retrieval service (C4), grounded on the
// teacher's layered service/repository split: it composes a memory.Store
// and an embeddings.Client rather than owning either concern itself.
type Engine struct {
	store      memory.Store
	embeddings embeddings.Client
	tuning     Tuning
}

func New(store memory.Store, embeddingClient embeddings.Client, tuning Tuning) *Engine {
	return &Engine{store: store, embeddings: embeddingClient, tuning: tuning}
}

// SearchWithEmbedding runs the eight-step hybrid search + link expansion +
// rerank pipeline described in §4.4.
func (e *Engine) SearchWithEmbedding(ctx context.Context, userID string, embedding []float32, touchstone cmodel.Touchstone, queryText string, limit int) ([]mmodel.RetrievalResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("search_with_embedding: embedding is required")
	}
	if limit <= 0 {
		limit = 1
	}

	// Step 1: derive search intent from the touchstone.
	intent := touchstone.DeriveIntent()

	// Step 2: enhance the query string with semantic hooks.
	enhancedQuery := queryText
	if len(touchstone.SemanticHooks) > 0 {
		enhancedQuery = queryText + " " + strings.Join(touchstone.SemanticHooks, " ")
	}

	// Step 3: oversampled hybrid search.
	candidates, err := e.store.HybridSearch(ctx, userID, memory.HybridSearchParams{
		Text:          enhancedQuery,
		Embedding:     embedding,
		Intent:        intent,
		Limit:         limit * 2,
		MinImportance: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	// Step 4: filter by minimum importance, truncate to requested limit.
	primaries := make([]mmodel.Memory, 0, limit)
	for _, m := range candidates {
		if m.Importance < e.tuning.MinImportanceScore {
			continue
		}
		primaries = append(primaries, m)
		if len(primaries) >= limit {
			break
		}
	}

	primaryIDs := make(map[string]bool, len(primaries))
	for _, p := range primaries {
		primaryIDs[p.ID] = true
	}

	results := make([]mmodel.RetrievalResult, len(primaries))
	for i, primary := range primaries {
		// Step 5: expand outbound links up to the configured depth.
		traversal, err := e.store.TraverseLinks(ctx, primary.ID, e.tuning.MaxLinkTraversalDepth)
		if err != nil {
			return nil, fmt.Errorf("traverse links for %s: %w", primary.ID, err)
		}

		// Step 6: filter and score linked memories.
		linked := rerankLinked(primary, traversal, primaryIDs)

		results[i] = mmodel.RetrievalResult{
			Memory:         primary,
			HybridScore:    0,
			LinkedMemories: linked,
		}
	}

	// Step 7: cross-encoder rerank primaries if available, else keep
	// hybrid-score order (already applied by HybridSearch/step 4 ordering).
	if e.embeddings.HasReranker() && len(results) > 0 {
		rerankContext := fmt.Sprintf("Timeline: %s\nAbout user: %s\nContext: %s\nCurrent focus: %s",
			touchstone.TemporalContext, touchstone.RelationshipContext, touchstone.Narrative, queryText)

		passages := make([]string, len(results))
		for i, r := range results {
			passages[i] = r.Memory.Text
		}

		ranked, err := e.embeddings.Rerank(ctx, rerankContext, passages)
		if err == nil && len(ranked) > 0 {
			reordered := make([]mmodel.RetrievalResult, 0, len(results))
			for _, r := range ranked {
				if r.Index >= 0 && r.Index < len(results) {
					reordered = append(reordered, results[r.Index])
				}
			}
			if len(reordered) > limit {
				reordered = reordered[:limit]
			}
			return reordered, nil
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// rerankLinked applies the link rerank rules of §4.4 step 6: drop
// low-confidence links, drop links whose target is already a primary, score
// by type_weight x inherited_importance x confidence, sort descending.
func rerankLinked(primary mmodel.Memory, traversal []mmodel.TraversalEntry, primaryIDs map[string]bool) []mmodel.LinkedMemory {
	linked := make([]mmodel.LinkedMemory, 0, len(traversal))
	for _, entry := range traversal {
		if entry.LinkMeta.Confidence < mmodel.MinLinkConfidence {
			continue
		}
		if primaryIDs[entry.Memory.ID] {
			continue
		}

		inheritedImportance := 0.7*entry.Memory.Importance + 0.3*primary.Importance
		score := mmodel.TypeWeight(entry.LinkMeta.LinkType) * inheritedImportance * entry.LinkMeta.Confidence

		linked = append(linked, mmodel.LinkedMemory{
			Memory: entry.Memory,
			Link:   entry.LinkMeta,
			Score:  score,
		})
	}

	sort.Slice(linked, func(i, j int) bool { return linked[i].Score > linked[j].Score })
	return linked
}
