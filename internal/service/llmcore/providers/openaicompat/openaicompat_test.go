package openaicompat

import (
	"testing"

	"github.com/sashabaranov/go-openai"

	"meridian/internal/domain/models/llm"
	"meridian/internal/domain/services/llmcore"
)

// TestConvertMessagesDropsCacheControlConcatenatesSystem covers §4.5.1:
// the two system blocks concatenate into one message, cache_control has no
// representation on this side.
func TestConvertMessagesDropsCacheControlConcatenatesSystem(t *testing.T) {
	system := []llmcore.SystemBlock{
		{Text: "cached prefix", CacheControl: true},
		{Text: "dynamic suffix"},
	}
	out, err := convertMessages(system, nil)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 || out[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected a single system message, got %+v", out)
	}
	want := "cached prefix\n\ndynamic suffix"
	if out[0].Content != want {
		t.Fatalf("system content = %q, want %q", out[0].Content, want)
	}
}

// TestConvertMessagesToolUseBecomesToolCalls covers §4.5.1: an assistant
// tool_use block becomes a tool_calls entry preserving the id, and thinking
// blocks are legitimately dropped.
func TestConvertMessagesToolUseBecomesToolCalls(t *testing.T) {
	messages := []llm.Message{
		{
			Role: llm.RoleAssistant,
			Content: []llm.ContentBlock{
				llm.Thinking("internal reasoning", "sig"),
				llm.Text("let me check"),
				llm.ToolUse("call-1", "echo", map[string]interface{}{"text": "hi"}),
			},
		},
	}
	out, err := convertMessages(nil, messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one converted message, got %d", len(out))
	}
	msg := out[0]
	if msg.Content != "let me check" {
		t.Fatalf("thinking block leaked into content: %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "call-1" || msg.ToolCalls[0].Function.Name != "echo" {
		t.Fatalf("tool call not preserved: %+v", msg.ToolCalls)
	}
}

// TestConvertMessagesToolResultBecomesToolMessage covers §4.5.1: a user
// message made of tool_result blocks becomes role:tool messages keyed by
// tool_call_id.
func TestConvertMessagesToolResultBecomesToolMessage(t *testing.T) {
	messages := []llm.Message{
		{
			Role:    llm.RoleUser,
			Content: []llm.ContentBlock{llm.ToolResult("call-1", "42", false)},
		},
	}
	out, err := convertMessages(nil, messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 || out[0].Role != openai.ChatMessageRoleTool {
		t.Fatalf("expected a role:tool message, got %+v", out)
	}
	if out[0].ToolCallID != "call-1" || out[0].Content != "42" {
		t.Fatalf("tool result not preserved: %+v", out[0])
	}
}

// TestConvertResponseRoundTrip covers §8: text, tool names, and tool call
// ids survive anthropic -> openai -> anthropic translation (thinking
// legitimately dropped).
func TestConvertResponseRoundTrip(t *testing.T) {
	resp := &openai.ChatCompletionResponse{
		Model: "gpt-4o",
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: openai.FinishReasonToolCalls,
			Message: openai.ChatCompletionMessage{
				Content: "checking now",
				ToolCalls: []openai.ToolCall{{
					ID:       "call-1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`},
				}},
			},
		}},
	}

	converted := convertResponse(resp)
	if converted.StopReason != llm.StopReasonToolUse {
		t.Fatalf("stop reason = %q, want %q", converted.StopReason, llm.StopReasonToolUse)
	}
	var sawText, sawToolUse bool
	for _, b := range converted.Content {
		switch b.BlockType {
		case llm.BlockTypeText:
			sawText = true
			if b.Text != "checking now" {
				t.Fatalf("text block = %q", b.Text)
			}
		case llm.BlockTypeToolUse:
			sawToolUse = true
			if b.ToolUseID != "call-1" || b.ToolName != "echo" {
				t.Fatalf("tool_use block mismatched: %+v", b)
			}
			if b.Input["text"] != "hi" {
				t.Fatalf("tool input not preserved: %+v", b.Input)
			}
		}
	}
	if !sawText || !sawToolUse {
		t.Fatalf("expected both a text and tool_use block, got %+v", converted.Content)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[openai.FinishReason]string{
		openai.FinishReasonStop:          llm.StopReasonEndTurn,
		openai.FinishReasonToolCalls:     llm.StopReasonToolUse,
		openai.FinishReasonFunctionCall:  llm.StopReasonToolUse,
		openai.FinishReasonLength:        llm.StopReasonMaxTokens,
	}
	for reason, want := range cases {
		if got := mapFinishReason(reason); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", reason, got, want)
		}
	}
}
