package llm

// Model tier constants (§4.5 Model selection).
const (
	TierReasoning = "reasoning"
	TierExecution = "execution"
)

// SimpleToolSet is a lookup of tool names that trigger the execution tier
// when the prior response's stop reason was tool_use against one of them.
type SimpleToolSet map[string]bool

func NewSimpleToolSet(names []string) SimpleToolSet {
	s := make(SimpleToolSet, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// SelectTier implements the one-step look-behind from §4.5: the execution
// tier is used only when the previous response ended in tool_use against a
// tool in the configured simple_tools set.
func SelectTier(lastStopReason, lastToolName string, simpleTools SimpleToolSet) string {
	if lastStopReason == StopReasonToolUse && simpleTools[lastToolName] {
		return TierExecution
	}
	return TierReasoning
}

// Stop reason constants returned by C5.
const (
	StopReasonEndTurn     = "end_turn"
	StopReasonToolUse     = "tool_use"
	StopReasonMaxTokens   = "max_tokens"
	StopReasonStopSeq     = "stop_sequence"
)
