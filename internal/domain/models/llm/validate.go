package llm

import (
	"fmt"
	"strings"
)

// ValidateMessages checks a message list before it is sent to a provider
// (§4.5 Validation): non-empty list, no message with empty/whitespace-only
// string content, except assistant messages whose content is a non-empty
// list of non-text blocks (tool_use) which carry no visible text.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: message list is empty", errEmptyMessages)
	}

	for i, m := range messages {
		if len(m.Content) == 0 {
			return fmt.Errorf("%w: message %d has no content", errEmptyMessages, i)
		}

		text := m.TextContent()
		if strings.TrimSpace(text) != "" {
			continue
		}

		if m.Role == RoleAssistant && hasNonTextBlock(m.Content) {
			continue
		}

		return fmt.Errorf("%w: message %d has blank content", errEmptyMessages, i)
	}

	return nil
}

func hasNonTextBlock(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if !b.IsTextLike() {
			return true
		}
	}
	return false
}

var errEmptyMessages = fmt.Errorf("invalid messages")
