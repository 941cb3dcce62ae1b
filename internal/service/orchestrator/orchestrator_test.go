package orchestrator

import (
	"testing"

	mmodel "meridian/internal/domain/models/memory"
)

func freshResults(ids ...string) []mmodel.RetrievalResult {
	out := make([]mmodel.RetrievalResult, len(ids))
	for i, id := range ids {
		out[i] = mmodel.RetrievalResult{Memory: mmodel.Memory{ID: id}}
	}
	return out
}

func pinnedMemories(ids ...string) []mmodel.Memory {
	out := make([]mmodel.Memory, len(ids))
	for i, id := range ids {
		out[i] = mmodel.Memory{ID: id}
	}
	return out
}

func ids(memories []mmodel.Memory) []string {
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.ID
	}
	return out
}

// TestMergeMemoriesPinnedFirst mirrors §8 scenario 2: a retained memory
// stays first and is not duplicated when retrieval also surfaces it.
func TestMergeMemoriesPinnedFirst(t *testing.T) {
	merged := mergeMemories(pinnedMemories("m1"), freshResults("m1", "m7", "m9"))
	want := []string{"m1", "m7", "m9"}
	got := ids(merged)
	if len(got) != len(want) {
		t.Fatalf("merge(pinned, fresh) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merge(pinned, fresh) = %v, want %v", got, want)
		}
	}
}

// TestMergeMemoriesIdentityWithEmptyFresh covers the §8 round-trip property:
// merge(pinned, []) == pinned.
func TestMergeMemoriesIdentityWithEmptyFresh(t *testing.T) {
	p := pinnedMemories("m1", "m2")
	merged := mergeMemories(p, nil)
	if got := ids(merged); len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("merge(pinned, []) = %v, want %v", got, ids(p))
	}
}

// TestMergeMemoriesIdentityWithEmptyPinned covers merge([], fresh) == fresh.
func TestMergeMemoriesIdentityWithEmptyPinned(t *testing.T) {
	f := freshResults("m7", "m9")
	merged := mergeMemories(nil, f)
	if got := ids(merged); len(got) != 2 || got[0] != "m7" || got[1] != "m9" {
		t.Fatalf("merge([], fresh) = %v, want [m7 m9]", got)
	}
}

// TestMergeMemoriesBounds covers |merge| <= |pinned|+|fresh| and
// |merge| >= max(|pinned|, |fresh_unique|).
func TestMergeMemoriesBounds(t *testing.T) {
	p := pinnedMemories("m1", "m2")
	f := freshResults("m2", "m3", "m3")
	merged := mergeMemories(p, f)
	if len(merged) > len(p)+len(f) {
		t.Fatalf("merge length %d exceeds |pinned|+|fresh| = %d", len(merged), len(p)+len(f))
	}
	if len(merged) < len(p) {
		t.Fatalf("merge length %d below |pinned| = %d", len(merged), len(p))
	}
}

// TestMergeMemoriesDropsMissingID covers "fresh items missing an id are
// dropped" (§4.9 step 8).
func TestMergeMemoriesDropsMissingID(t *testing.T) {
	f := []mmodel.RetrievalResult{{Memory: mmodel.Memory{ID: ""}}, {Memory: mmodel.Memory{ID: "m1"}}}
	merged := mergeMemories(nil, f)
	if got := ids(merged); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("expected id-less fresh result dropped, got %v", got)
	}
}
