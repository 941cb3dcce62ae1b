// Package anthropic implements the native LLM backend (C5) against
// Anthropic's Messages API, extending the teacher's MVP adapter
// (internal/service/llm/providers/anthropic in the original tree) with
// tool_use/tool_result round-tripping, thinking, and the two-block cached
// system prompt the orchestrator assembles (§4.5, §4.5 system-prompt
// structure).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"meridian/internal/domain"
	"meridian/internal/domain/models/llm"
	"meridian/internal/domain/services/llmcore"
)

// Backend implements the llmcore single-turn streamer contract for the
// native Anthropic provider. The tool loop and circuit breaker live one
// layer up in internal/service/llmcore, shared across backends.
type Backend struct {
	client anthropic.Client
}

func New(apiKey string) *Backend {
	return &Backend{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (b *Backend) Name() string { return "anthropic" }

// SupportsModel matches the teacher's prefix heuristic: Anthropic model ids
// all begin with "claude-".
func (b *Backend) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Complete runs one non-streaming round trip, used for the fast-LLM path
// (touchstone/fingerprint, §4.7/§4.8) and for non-streaming callers.
func (b *Backend) Complete(ctx context.Context, req *llmcore.GenerateRequest) (*llmcore.GenerateResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}
	return convertResponse(message), nil
}

// StreamTurn runs exactly one streamed model turn (no tool execution, no
// looping — that lives in the tool-loop wrapper), emitting Text/Thinking/
// ToolDetected events as they arrive and returning the accumulated
// response once the turn completes.
func (b *Backend) StreamTurn(ctx context.Context, req *llmcore.GenerateRequest, emit func(llmcore.StreamEvent)) (*llmcore.GenerateResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()

		// The SDK has a known issue accumulating content blocks whose
		// input JSON is empty or malformed; we don't rely on the
		// accumulated tool input for anything the delta stream hasn't
		// already told us, so a failed accumulate is logged by the
		// caller and otherwise ignored.
		_ = message.Accumulate(event)

		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				emit(llmcore.StreamEvent{ToolDetected: &llmcore.ToolDetectedEvent{ID: block.ID, Name: block.Name}})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := e.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text != "" {
					emit(llmcore.StreamEvent{Text: &llmcore.TextEvent{Content: d.Text}})
				}
			case anthropic.ThinkingDelta:
				if d.Thinking != "" {
					emit(llmcore.StreamEvent{Thinking: &llmcore.ThinkingEvent{Content: d.Thinking}})
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}

	return convertResponse(&message), nil
}

// translateError classifies an Anthropic SDK error the same way the
// OpenAI-compatible backend does (§4.5.1 error mapping applied symmetrically
// to the native provider, so the tool-loop wrapper's failover check works
// against either backend): 4xx errors surface as the matching domain
// validation/auth error, 429 (still labelled "rate limit"), 5xx and
// connection failures as ErrInfrastructure so the caller's failover routing
// trips.
func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 400 && strings.Contains(strings.ToLower(apiErr.Error()), "context"):
			return fmt.Errorf("%w: %s", domain.ErrContextLength, apiErr.Error())
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Error())
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: rate limit: %s", domain.ErrInfrastructure, apiErr.Error())
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %s", domain.ErrInfrastructure, apiErr.Error())
		}
		return fmt.Errorf("%w: %s", domain.ErrInfrastructure, apiErr.Error())
	}
	// No structured status code: a connection-level failure, treated as
	// infrastructure so failover can absorb it.
	return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
}

func buildParams(req *llmcore.GenerateRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.System) > 0 {
		params.System = convertSystem(req.System)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.ThinkingEnabled && req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	return params, nil
}

// convertSystem builds the two-block cached/non-cached system content
// array (§4.5 system-prompt structure): cached blocks carry
// cache_control:ephemeral, non-cached blocks don't.
func convertSystem(blocks []llmcore.SystemBlock) []anthropic.TextBlockParam {
	out := make([]anthropic.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		block := anthropic.TextBlockParam{Text: b.Text}
		if b.CacheControl {
			block.CacheControl = anthropic.CacheControlEphemeralParam{Type: "ephemeral"}
		}
		out = append(out, block)
	}
	return out
}

func convertTools(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: t.InputSchema["properties"]},
			},
		}
	}
	return out
}

func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for i, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, b := range msg.Content {
			switch b.BlockType {
			case llm.BlockTypeText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case llm.BlockTypeToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, b.Input, b.ToolName))
			case llm.BlockTypeToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResultID, serializeResult(b.Result), b.IsError))
			case llm.BlockTypeImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(b.MIMEType, b.ImageData))
			// Thinking blocks are not re-submitted; Anthropic requires a
			// valid signature to resubmit them and the orchestrator never
			// needs to replay a prior turn's thinking.
			case llm.BlockTypeThinking:
				continue
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case llm.RoleUser, llm.RoleTool:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: role %q has no Anthropic mapping", i, msg.Role)
		}
	}
	return out, nil
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

func convertResponse(msg *anthropic.Message) *llmcore.GenerateResponse {
	blocks := make([]llm.ContentBlock, 0, len(msg.Content))
	for _, content := range msg.Content {
		switch variant := content.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, llm.Text(variant.Text))
		case anthropic.ThinkingBlock:
			blocks = append(blocks, llm.Thinking(variant.Thinking, variant.Signature))
		case anthropic.ToolUseBlock:
			input := map[string]interface{}{}
			_ = json.Unmarshal([]byte(variant.JSON.Input.Raw()), &input)
			blocks = append(blocks, llm.ToolUse(variant.ID, variant.Name, input))
		}
	}

	metadata := map[string]interface{}{}
	if msg.StopSequence != "" {
		metadata["stop_sequence"] = msg.StopSequence
	}
	if msg.Usage.CacheCreationInputTokens > 0 {
		metadata["cache_creation_input_tokens"] = int(msg.Usage.CacheCreationInputTokens)
	}
	if msg.Usage.CacheReadInputTokens > 0 {
		metadata["cache_read_input_tokens"] = int(msg.Usage.CacheReadInputTokens)
	}

	return &llmcore.GenerateResponse{
		Content:          blocks,
		Model:            string(msg.Model),
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		StopReason:       string(msg.StopReason),
		ResponseMetadata: metadata,
	}
}
