package llm

import "time"

// Block type constants. A Message's content is an ordered sequence of these.
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeImage      = "image"
)

// ContentBlock is the single sum type for multimodal turn content: text,
// thinking, tool_use, tool_result, or image. Only the fields relevant to
// BlockType are populated; the rest are zero values.
//
// This generalizes the document-turn content block idiom into a
// conversational one: no reference/partial_reference variants (there is no
// document domain here), but the same "one struct, discriminated by
// BlockType" shape.
type ContentBlock struct {
	BlockType string `json:"type"`

	// text, thinking
	Text string `json:"text,omitempty"`

	// thinking
	Signature string `json:"signature,omitempty"`

	// tool_use
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolResultID string      `json:"tool_result_id,omitempty"`
	Result       interface{} `json:"result,omitempty"`
	IsError      bool        `json:"is_error,omitempty"`

	// image
	ImageData string `json:"image_data,omitempty"` // base64
	MIMEType  string `json:"mime_type,omitempty"`

	// cache_control, only meaningful on system-content blocks (§4.5 two-block prompt)
	CacheControl bool `json:"-"`
}

func Text(s string) ContentBlock {
	return ContentBlock{BlockType: BlockTypeText, Text: s}
}

func Thinking(s, signature string) ContentBlock {
	return ContentBlock{BlockType: BlockTypeThinking, Text: s, Signature: signature}
}

func ToolUse(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{BlockType: BlockTypeToolUse, ToolUseID: id, ToolName: name, Input: input}
}

func ToolResult(toolUseID string, result interface{}, isError bool) ContentBlock {
	return ContentBlock{BlockType: BlockTypeToolResult, ToolResultID: toolUseID, Result: result, IsError: isError}
}

// IsTextLike returns true for blocks that contribute to a plain-text view
// of a message (text, thinking).
func (cb ContentBlock) IsTextLike() bool {
	return cb.BlockType == BlockTypeText || cb.BlockType == BlockTypeThinking
}

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message status, used to distinguish active conversation from collapsed
// (archived) segments for the session cache loader (C13).
const (
	MessageStatusActive    = "active"
	MessageStatusCollapsed = "collapsed"
)

// Message is a single turn entry: a user message, an assistant reply, or a
// synthetic segment-boundary sentinel.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  MessageMetadata `json:"metadata"`
}

// MessageMetadata carries the auxiliary per-message bookkeeping the
// orchestrator and cache loader attach.
type MessageMetadata struct {
	SegmentBoundary   bool     `json:"segment_boundary,omitempty"`
	Status            string   `json:"status,omitempty"`
	ReferencedMemories []string `json:"referenced_memories,omitempty"`
	SurfacedMemories   []string `json:"surfaced_memories,omitempty"`
	Emotion           string   `json:"emotion,omitempty"`
}

// TextContent concatenates every text-like block's text, joined by newlines.
// Used to produce a plain-text view for embeddings and persistence.
func (m *Message) TextContent() string {
	var out string
	for i, b := range m.Content {
		if !b.IsTextLike() {
			continue
		}
		if i > 0 && out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// HasImage reports whether the message carries an image block.
func (m *Message) HasImage() bool {
	for _, b := range m.Content {
		if b.BlockType == BlockTypeImage {
			return true
		}
	}
	return false
}

// TextOnly returns a copy of the message with any non-text-like blocks
// dropped, substituting "Image uploaded" when the only content was an
// image. Used when persisting multimodal user content (spec §4.9 step 19).
func (m *Message) TextOnly() Message {
	clone := *m
	var blocks []ContentBlock
	for _, b := range m.Content {
		if b.IsTextLike() {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) == 0 {
		blocks = []ContentBlock{Text("Image uploaded")}
	}
	clone.Content = blocks
	return clone
}
