package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meridian/internal/domain/models/llm"
	"meridian/internal/service/llm/tools/external"
)

// WebSearchTool implements the 'web_search' tool (§6 SimpleTools) against
// an external.SearchClient, letting the LLM look up information outside
// the continuum and the memory store.
type WebSearchTool struct {
	client external.SearchClient
	config *ToolConfig
}

// NewWebSearchTool creates a new WebSearchTool instance.
func NewWebSearchTool(client external.SearchClient, config *ToolConfig) *WebSearchTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	return &WebSearchTool{client: client, config: config}
}

// Execute implements ToolExecutor interface.
// Input parameters:
//   - query (string, required): Search query
//   - max_results (integer, optional): Maximum results to return
//   - topic (string, optional): "general", "news", or "finance"
func (t *WebSearchTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, errors.New("missing required parameter: query (string)")
	}
	query = strings.TrimSpace(query)

	maxResults := t.config.WebSearchDefaultLimit
	if maxVal, exists := input["max_results"]; exists {
		if maxFloat, ok := maxVal.(float64); ok {
			maxResults = int(maxFloat)
			if maxResults < 1 {
				maxResults = 1
			} else if maxResults > t.config.WebSearchMaxLimit {
				maxResults = t.config.WebSearchMaxLimit
			}
		}
	}

	topic := ""
	if topicVal, exists := input["topic"]; exists {
		if topicStr, ok := topicVal.(string); ok {
			topic = strings.TrimSpace(topicStr)
			if topic != "" && topic != "general" && topic != "news" && topic != "finance" {
				return nil, fmt.Errorf("invalid topic '%s': must be 'general', 'news', or 'finance'", topic)
			}
		}
	}

	response, err := t.client.Search(ctx, query, external.SearchOptions{MaxResults: maxResults, Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	resultList := make([]map[string]interface{}, len(response.Results))
	for i, result := range response.Results {
		resultMap := map[string]interface{}{
			"title":   result.Title,
			"url":     result.URL,
			"snippet": result.Snippet,
		}
		if result.PublishedAt != nil {
			resultMap["published_at"] = result.PublishedAt.Format("2006-01-02")
		}
		if result.Score > 0 {
			resultMap["score"] = result.Score
		}
		resultList[i] = resultMap
	}

	return map[string]interface{}{
		"results":      resultList,
		"query":        query,
		"result_count": len(resultList),
	}, nil
}

// Definition returns the tool's schema for the LLM provider's request.
func (t *WebSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information not available in memory or conversation history.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":       map[string]interface{}{"type": "string", "description": "The search query"},
				"max_results": map[string]interface{}{"type": "integer", "description": "Maximum number of results to return"},
				"topic":       map[string]interface{}{"type": "string", "enum": []string{"general", "news", "finance"}},
			},
			"required": []string{"query"},
		},
	}
}
