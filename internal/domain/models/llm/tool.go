package llm

// ToolDefinition is the provider-agnostic description of a tool the model
// may call, translated to each provider's wire format by the adapters in
// internal/service/llmcore/providers.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}
