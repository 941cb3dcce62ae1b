// Package openaicompat implements the OpenAI-compatible translator backend
// (§4.5.1), used both for OpenAI-compatible models configured directly and
// as the failover target when the native Anthropic backend is degraded.
// Translation is bit-exact with the rules the teacher's Anthropic adapter
// mirrors in reverse: system blocks concatenate and drop cache_control,
// tool_use becomes tool_calls, tool_result becomes a role:tool message, and
// thinking blocks are dropped rather than translated.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"meridian/internal/domain"
	"meridian/internal/domain/models/llm"
	"meridian/internal/domain/services/llmcore"
)

// Backend implements the same narrow single-turn contract as
// providers/anthropic.Backend, against any OpenAI Chat Completions
// compatible endpoint.
type Backend struct {
	client *openai.Client
	models map[string]bool
}

// New builds a Backend against baseURL (an OpenAI-compatible endpoint, e.g.
// OpenRouter or a self-hosted gateway) using apiKey, accepting only the
// model ids the caller configured for this provider.
func New(baseURL, apiKey string, models []string) *Backend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	set := make(map[string]bool, len(models))
	for _, m := range models {
		set[m] = true
	}
	return &Backend{client: openai.NewClientWithConfig(cfg), models: set}
}

func (b *Backend) Name() string { return "openaicompat" }

func (b *Backend) SupportsModel(model string) bool {
	return b.models[model]
}

func (b *Backend) Complete(ctx context.Context, req *llmcore.GenerateRequest) (*llmcore.GenerateResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.CreateChatCompletion(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	return convertResponse(&resp), nil
}

// StreamTurn streams exactly one turn. go-openai's stream deltas don't
// distinguish a tool_use content-block start the way Anthropic's SSE does,
// so ToolDetected fires the first time a given tool-call index is seen
// rather than on a dedicated start event.
func (b *Backend) StreamTurn(ctx context.Context, req *llmcore.GenerateRequest, emit func(llmcore.StreamEvent)) (*llmcore.GenerateResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	params.Stream = true
	params.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := b.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	defer stream.Close()

	var content strings.Builder
	var reasoning strings.Builder
	var toolCalls []openai.ToolCall
	seenToolCall := make(map[int]bool)
	var usage openai.Usage
	var model string
	var finishReason openai.FinishReason

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, translateError(err)
		}
		if model == "" && chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				emit(llmcore.StreamEvent{Text: &llmcore.TextEvent{Content: delta.Content}})
				content.WriteString(delta.Content)
			}
			if delta.ReasoningContent != "" {
				emit(llmcore.StreamEvent{Thinking: &llmcore.ThinkingEvent{Content: delta.ReasoningContent}})
				reasoning.WriteString(delta.ReasoningContent)
			}
			for _, tc := range delta.ToolCalls {
				if tc.Index == nil {
					continue
				}
				idx := *tc.Index
				for len(toolCalls) <= idx {
					toolCalls = append(toolCalls, openai.ToolCall{})
				}
				if tc.ID != "" {
					toolCalls[idx].ID = tc.ID
				}
				if tc.Type != "" {
					toolCalls[idx].Type = tc.Type
				}
				if tc.Function.Name != "" {
					toolCalls[idx].Function.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					toolCalls[idx].Function.Arguments += tc.Function.Arguments
				}
				if !seenToolCall[idx] && toolCalls[idx].ID != "" && toolCalls[idx].Function.Name != "" {
					seenToolCall[idx] = true
					emit(llmcore.StreamEvent{ToolDetected: &llmcore.ToolDetectedEvent{ID: toolCalls[idx].ID, Name: toolCalls[idx].Function.Name}})
				}
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}

	resp := openai.ChatCompletionResponse{
		Model: model,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:             openai.ChatMessageRoleAssistant,
				Content:          content.String(),
				ReasoningContent: reasoning.String(),
				ToolCalls:        toolCalls,
			},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
	return convertResponse(&resp), nil
}

func buildParams(req *llmcore.GenerateRequest) (openai.ChatCompletionRequest, error) {
	messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	if len(messages) == 0 {
		return openai.ChatCompletionRequest{}, fmt.Errorf("%w: no messages to send", domain.ErrValidation)
	}

	params := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		params.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ToolChoice = "auto"
	}
	return params, nil
}

// convertMessages concatenates the two system blocks (dropping
// cache_control, which OpenAI-compatible endpoints have no equivalent for)
// into a single leading system message, then maps the rest of the turn
// (§4.5.1): assistant tool_use becomes tool_calls, thinking blocks are
// dropped, and a user message carrying tool_result blocks becomes one or
// more role:tool messages keyed by tool_call_id.
func convertMessages(system []llmcore.SystemBlock, messages []llm.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if len(system) > 0 {
		var sb strings.Builder
		for i, block := range system {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(block.Text)
		}
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sb.String()})
	}

	for i, msg := range messages {
		toolResults := toolResultMessages(msg)
		if toolResults != nil {
			out = append(out, toolResults...)
			continue
		}

		var text strings.Builder
		var toolCalls []openai.ToolCall
		for _, b := range msg.Content {
			switch b.BlockType {
			case llm.BlockTypeText:
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(b.Text)
			case llm.BlockTypeToolUse:
				args, err := json.Marshal(b.Input)
				if err != nil {
					return nil, fmt.Errorf("message %d: marshal tool_use input: %w", i, err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolName,
						Arguments: string(args),
					},
				})
			case llm.BlockTypeThinking:
				// Dropped: OpenAI-compatible chat completions have no
				// assistant-visible thinking-block equivalent to replay.
			}
		}

		switch msg.Role {
		case llm.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text.String()})
		case llm.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   text.String(),
				ToolCalls: toolCalls,
			})
		default:
			return nil, fmt.Errorf("message %d: role %q has no OpenAI mapping", i, msg.Role)
		}
	}
	return out, nil
}

// toolResultMessages returns non-nil if msg is entirely tool_result blocks,
// translating each into its own role:tool message.
func toolResultMessages(msg llm.Message) []openai.ChatCompletionMessage {
	if msg.Role != llm.RoleUser && msg.Role != llm.RoleTool {
		return nil
	}
	var out []openai.ChatCompletionMessage
	for _, b := range msg.Content {
		if b.BlockType != llm.BlockTypeToolResult {
			return nil
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    serializeResult(b.Result),
			ToolCallID: b.ToolResultID,
		})
	}
	return out
}

func serializeResult(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

func convertTools(tools []llm.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}

func convertResponse(resp *openai.ChatCompletionResponse) *llmcore.GenerateResponse {
	msg := resp.Choices[0].Message

	var blocks []llm.ContentBlock
	if msg.Content != "" {
		blocks = append(blocks, llm.Text(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		input := map[string]interface{}{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		blocks = append(blocks, llm.ToolUse(tc.ID, tc.Function.Name, input))
	}

	return &llmcore.GenerateResponse{
		Content:      blocks,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   mapFinishReason(resp.Choices[0].FinishReason),
	}
}

// mapFinishReason applies the §4.5.1 finish_reason mapping so the tool-loop
// wrapper can drive both backends off the same stop-reason vocabulary.
func mapFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return llm.StopReasonEndTurn
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.StopReasonToolUse
	case openai.FinishReasonLength:
		return llm.StopReasonMaxTokens
	default:
		return string(reason)
	}
}

// translateError applies the §4.5.1 error mapping: 400 with a
// context-length complaint becomes ErrContextLength, 401/403 become
// ErrUnauthorized, 429 becomes a plain rate-limit error the failover
// handler treats as a retryable infrastructure failure, and any 5xx
// becomes ErrInfrastructure so the caller's failover path trips.
func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "context length"):
			return fmt.Errorf("%w: %s", domain.ErrContextLength, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: rate limit: %s", domain.ErrInfrastructure, apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %s", domain.ErrInfrastructure, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrInfrastructure, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, reqErr)
	}
	return err
}
