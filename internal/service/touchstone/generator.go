// Package touchstone implements C7: the evolving semantic summary of a
// continuum's current focus, regenerated every turn via a fast LLM call
// that bypasses the main reasoning model.
package touchstone

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"meridian/internal/domain"
	"meridian/internal/domain/services/embeddings"
	domainllmcore "meridian/internal/domain/services/llmcore"

	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
)

// FastLLM is the narrow one-shot contract the generator needs: a single
// non-streaming completion against the fast-LLM endpoint (its own
// model/key/system-prompt overrides configured by the caller), never the
// full tool-looping Provider.
type FastLLM interface {
	Complete(ctx context.Context, req *domainllmcore.GenerateRequest) (*domainllmcore.GenerateResponse, error)
}

const systemPrompt = `You maintain a running semantic touchstone for an ongoing conversation. ` +
	`Given the previous touchstone narrative (if any) and the most recent exchanges, respond with ` +
	`a single JSON object with exactly these fields: narrative, temporal_context, relationship_context, ` +
	`entities, conversational_intent, semantic_hooks (array of short strings). Respond with JSON only.`

// Generator implements touchstone.Generator (§4.7).
type Generator struct {
	llm          FastLLM
	embeddings   embeddings.Client
	model        string
	contextPairs int
}

func New(llm FastLLM, embeddingsClient embeddings.Client, model string, contextPairs int) *Generator {
	if contextPairs <= 0 {
		contextPairs = 6
	}
	return &Generator{llm: llm, embeddings: embeddingsClient, model: model, contextPairs: contextPairs}
}

// Generate implements the seven steps of §4.7: gather context, call the
// fast LLM, parse and validate its JSON response, embed it, and mutate the
// continuum's metadata in place.
func (g *Generator) Generate(ctx context.Context, cont *cmodel.Continuum, currentUserMessage string) (cmodel.Touchstone, []float32, error) {
	previousNarrative := ""
	if cont.Metadata.LastTouchstone != nil {
		previousNarrative = cont.Metadata.LastTouchstone.Narrative
	}

	pairs := lastCompletePairs(cont.Messages, g.contextPairs)
	prompt := formatPrompt(previousNarrative, pairs, currentUserMessage)

	resp, err := g.llm.Complete(ctx, &domainllmcore.GenerateRequest{
		System:    []domainllmcore.SystemBlock{{Text: systemPrompt}},
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.Text(prompt)}}},
		Model:     g.model,
		MaxTokens: 1024,
	})
	if err != nil {
		return cmodel.Touchstone{}, nil, fmt.Errorf("touchstone: fast LLM call: %w", err)
	}

	raw := extractText(resp)
	touchstone, err := parseTouchstone(raw)
	if err != nil {
		return cmodel.Touchstone{}, nil, err
	}

	embedText := touchstone.Narrative + " " + touchstone.RelationshipContext + " " + touchstone.Entities
	vectors, err := g.embeddings.EncodeFast(ctx, []string{embedText})
	if err != nil {
		return cmodel.Touchstone{}, nil, fmt.Errorf("touchstone: encode: %w", err)
	}
	var embedding []float32
	if len(vectors) > 0 {
		embedding = vectors[0]
	}

	cont.SetLastTouchstone(touchstone, embedding)
	return touchstone, embedding, nil
}

// lastCompletePairs walks messages backwards collecting up to n complete
// user→assistant pairs, skipping tool and system (segment-boundary)
// messages, per §4.7 step 2.
func lastCompletePairs(messages []llm.Message, n int) []llm.Message {
	var pairs []llm.Message
	for i := len(messages) - 1; i > 0 && len(pairs) < n*2; i-- {
		assistant := messages[i]
		if assistant.Role != llm.RoleAssistant {
			continue
		}
		user := messages[i-1]
		if user.Role != llm.RoleUser {
			continue
		}
		pairs = append([]llm.Message{user, assistant}, pairs...)
		i--
	}
	return pairs
}

func formatPrompt(previousNarrative string, pairs []llm.Message, currentUserMessage string) string {
	var sb strings.Builder
	if previousNarrative != "" {
		sb.WriteString("Previous narrative:\n")
		sb.WriteString(previousNarrative)
		sb.WriteString("\n\n")
	}
	if len(pairs) > 0 {
		sb.WriteString("Recent exchanges:\n")
		for _, m := range pairs {
			sb.WriteString(strings.ToUpper(m.Role))
			sb.WriteString(": ")
			sb.WriteString(m.TextContent())
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Current user message:\n")
	sb.WriteString(currentUserMessage)
	return sb.String()
}

func extractText(resp *domainllmcore.GenerateResponse) string {
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.BlockType == llm.BlockTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// parseTouchstone strips a markdown code fence if present, parses the JSON
// body, attempts one repair pass (trimming to the outermost braces) on
// failure, and validates the required fields (§4.7 steps 4-5).
func parseTouchstone(raw string) (cmodel.Touchstone, error) {
	body := stripCodeFence(raw)

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		repaired, ok := repairJSON(body)
		if !ok {
			return cmodel.Touchstone{}, fmt.Errorf("%w: touchstone response is not valid JSON: %v", domain.ErrLogic, err)
		}
		if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
			return cmodel.Touchstone{}, fmt.Errorf("%w: touchstone response is not valid JSON after repair: %v", domain.ErrLogic, err)
		}
		body = repaired
	}

	for _, field := range cmodel.RequiredFields {
		v, ok := fields[field]
		if !ok {
			return cmodel.Touchstone{}, fmt.Errorf("%w: touchstone response missing required field %q", domain.ErrLogic, field)
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return cmodel.Touchstone{}, fmt.Errorf("%w: touchstone response field %q is empty", domain.ErrLogic, field)
		}
	}

	var touchstone cmodel.Touchstone
	if err := json.Unmarshal([]byte(body), &touchstone); err != nil {
		return cmodel.Touchstone{}, fmt.Errorf("%w: decode touchstone: %v", domain.ErrLogic, err)
	}
	return touchstone, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// repairJSON trims everything outside the outermost braces, recovering
// from a model response that wraps its JSON in prose.
func repairJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
