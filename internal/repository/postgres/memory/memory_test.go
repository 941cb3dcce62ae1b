package memory

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if sim := cosineSimilarity(a, b); math.Abs(sim-1.0) > 1e-9 {
		t.Fatalf("expected identical vectors to have similarity 1, got %f", sim)
	}

	orth := []float32{0, 1, 0}
	if sim := cosineSimilarity(a, orth); math.Abs(sim) > 1e-9 {
		t.Fatalf("expected orthogonal vectors to have similarity 0, got %f", sim)
	}

	if sim := cosineSimilarity(a, []float32{1, 0}); sim != 0 {
		t.Fatalf("expected mismatched-length vectors to return 0, got %f", sim)
	}
}

func TestIntentWeights(t *testing.T) {
	cases := []struct {
		intent               string
		wantText, wantVector float64
	}{
		{"exact", 0.7, 0.3},
		{"explore", 0.3, 0.7},
		{"recall", 0.3, 0.7},
		{"general", 0.5, 0.5},
		{"", 0.5, 0.5},
	}
	for _, c := range cases {
		text, vector := intentWeights(c.intent)
		if text != c.wantText || vector != c.wantVector {
			t.Errorf("intentWeights(%q) = (%f, %f), want (%f, %f)", c.intent, text, vector, c.wantText, c.wantVector)
		}
	}
}

func TestValidateNormalized(t *testing.T) {
	unit := []float32{1, 0, 0}
	if err := validateNormalized(unit); err != nil {
		t.Fatalf("unit vector should validate, got %v", err)
	}

	notUnit := []float32{2, 0, 0}
	if err := validateNormalized(notUnit); err == nil {
		t.Fatalf("expected error for non-normalized embedding")
	}

	// Boundary: spec.md mandates |norm-1.0| < 1e-6 as the tolerance, not a
	// looser one — these two cases fail under a 1e-3 tolerance check but
	// must hold at 1e-6.
	justOutside := []float32{float32(1.0 + 2e-6), 0, 0}
	if err := validateNormalized(justOutside); err == nil {
		t.Fatalf("expected error for norm 1.0+2e-6, outside the 1e-6 tolerance")
	}

	justInside := []float32{float32(1.0 + 5e-7), 0, 0}
	if err := validateNormalized(justInside); err != nil {
		t.Fatalf("norm 1.0+5e-7 should validate within the 1e-6 tolerance, got %v", err)
	}
}

func TestIntentWeightsSumToOne(t *testing.T) {
	// Local sanity check that HybridSearch's text/vector blend for the
	// "exact" intent is a proper weighting. The link rerank TypeWeight table
	// lives in the memory domain model package and is not checked here.
	if intentTextWeight, intentVectorWeight := intentWeights("exact"); intentTextWeight+intentVectorWeight != 1.0 {
		t.Fatalf("intent weights should sum to 1.0")
	}
}
