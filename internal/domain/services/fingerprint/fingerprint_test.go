package fingerprint

import (
	"reflect"
	"testing"

	mmodel "meridian/internal/domain/models/memory"
)

func TestApplyRetentionIdentity(t *testing.T) {
	memories := []mmodel.Memory{
		{ID: "m1", Text: "Taylor prefers PgBouncer"},
		{ID: "m2", Text: "Taylor's timezone is PT"},
	}
	retained := map[string]bool{}
	for _, m := range memories {
		retained[m.Text] = true
	}

	got := ApplyRetention(memories, retained)
	if !reflect.DeepEqual(got, memories) {
		t.Fatalf("retaining every text should return memories unchanged, got %+v", got)
	}
}

func TestApplyRetentionEmptySetDropsAll(t *testing.T) {
	memories := []mmodel.Memory{{ID: "m1", Text: "Taylor prefers PgBouncer"}}
	got := ApplyRetention(memories, map[string]bool{})
	if len(got) != 0 {
		t.Fatalf("empty retention set should drop every memory, got %d", len(got))
	}
}

func TestApplyRetentionDropsEmptyText(t *testing.T) {
	memories := []mmodel.Memory{{ID: "m1", Text: ""}}
	retained := map[string]bool{"": true}
	got := ApplyRetention(memories, retained)
	if len(got) != 0 {
		t.Fatalf("memories with empty text must always be dropped, got %d", len(got))
	}
}

func TestApplyRetentionExactMatchOnly(t *testing.T) {
	memories := []mmodel.Memory{
		{ID: "m1", Text: "Taylor prefers PgBouncer"},
		{ID: "m2", Text: "Taylor prefers pgbouncer"}, // different case, not an exact match
	}
	retained := map[string]bool{"Taylor prefers PgBouncer": true}

	got := ApplyRetention(memories, retained)
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected only the verbatim match to survive, got %+v", got)
	}
}
