package continuum

import "strings"

// Touchstone is a structured semantic summary of the continuum's current
// focus, regenerated every turn by C7.
type Touchstone struct {
	Narrative            string   `json:"narrative"`
	TemporalContext      string   `json:"temporal_context"`
	RelationshipContext  string   `json:"relationship_context"`
	Entities             string   `json:"entities"`
	ConversationalIntent string   `json:"conversational_intent"`
	SemanticHooks        []string `json:"semantic_hooks"`
}

// RequiredFields are the touchstone fields that must be present for the
// JSON response to be considered valid (§4.7 step 5).
var RequiredFields = []string{"narrative", "relationship_context", "entities"}

// Search intents C4 derives from ConversationalIntent (§4.4 step 1).
const (
	IntentRecall  = "recall"
	IntentExplore = "explore"
	IntentExact   = "exact"
	IntentGeneral = "general"
)

// DeriveIntent keyword-matches the touchstone's conversational intent into
// one of the four retrieval intents, defaulting to general.
func (t Touchstone) DeriveIntent() string {
	intent := t.ConversationalIntent
	switch {
	case containsAny(intent, "remember", "recall", "what did", "told you"):
		return IntentRecall
	case containsAny(intent, "explore", "tell me more", "elaborate", "curious"):
		return IntentExplore
	case containsAny(intent, "exact", "precisely", "specifically", "verbatim"):
		return IntentExact
	default:
		return IntentGeneral
	}
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
