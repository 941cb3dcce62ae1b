package retrieval

import (
	"testing"

	mmodel "meridian/internal/domain/models/memory"
)

func TestRerankLinkedDropsLowConfidence(t *testing.T) {
	primary := mmodel.Memory{ID: "p", Importance: 0.8}
	traversal := []mmodel.TraversalEntry{
		{
			Memory:   mmodel.Memory{ID: "a", Importance: 0.5},
			LinkMeta: mmodel.LinkMetadata{LinkType: mmodel.LinkCauses, Confidence: 0.59},
		},
	}

	linked := rerankLinked(primary, traversal, map[string]bool{"p": true})
	if len(linked) != 0 {
		t.Fatalf("expected link below MinLinkConfidence to be dropped, got %d", len(linked))
	}
}

func TestRerankLinkedDedupsPrimaries(t *testing.T) {
	primary := mmodel.Memory{ID: "p", Importance: 0.8}
	traversal := []mmodel.TraversalEntry{
		{
			Memory:   mmodel.Memory{ID: "other-primary", Importance: 0.9},
			LinkMeta: mmodel.LinkMetadata{LinkType: mmodel.LinkCauses, Confidence: 0.9},
		},
	}

	linked := rerankLinked(primary, traversal, map[string]bool{"p": true, "other-primary": true})
	if len(linked) != 0 {
		t.Fatalf("expected link to an already-primary memory to be dropped, got %d", len(linked))
	}
}

func TestRerankLinkedScoresAndSorts(t *testing.T) {
	primary := mmodel.Memory{ID: "p", Importance: 1.0}
	traversal := []mmodel.TraversalEntry{
		{
			Memory:   mmodel.Memory{ID: "low", Importance: 0.2},
			LinkMeta: mmodel.LinkMetadata{LinkType: mmodel.LinkSharesEntity, Confidence: 0.8},
		},
		{
			Memory:   mmodel.Memory{ID: "high", Importance: 0.9},
			LinkMeta: mmodel.LinkMetadata{LinkType: mmodel.LinkConflicts, Confidence: 0.9},
		},
	}

	linked := rerankLinked(primary, traversal, map[string]bool{"p": true})
	if len(linked) != 2 {
		t.Fatalf("expected 2 surviving links, got %d", len(linked))
	}
	if linked[0].Memory.ID != "high" {
		t.Fatalf("expected highest-scoring link first, got %s", linked[0].Memory.ID)
	}
	if linked[0].Score <= linked[1].Score {
		t.Fatalf("expected descending score order")
	}
}
