// Package fingerprint implements C8: a fast-LLM call that expands the
// current user message into a retrieval-optimized query and decides which
// previously-surfaced memories to keep pinned for the next retrieval pass.
package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"meridian/internal/domain"
	domainfp "meridian/internal/domain/services/fingerprint"
	domainllmcore "meridian/internal/domain/services/llmcore"

	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
	mmodel "meridian/internal/domain/models/memory"
)

// FastLLM mirrors touchstone.FastLLM: one non-streaming call against the
// fast-LLM endpoint, independent of the main tool-looping provider.
type FastLLM interface {
	Complete(ctx context.Context, req *domainllmcore.GenerateRequest) (*domainllmcore.GenerateResponse, error)
}

const systemPrompt = `You expand a user's latest message into a detailed retrieval query and decide which ` +
	`previously surfaced memories remain relevant. Respond in exactly this format:

<fingerprint>expanded detailed query string</fingerprint>
<memory_retention>
[x] text of memory to keep
[ ] text of memory to drop
</memory_retention>

Include one retention line per listed memory, in the order given. If no memories are listed, omit the ` +
	`memory_retention block entirely.`

const contextPairCount = 6

var fingerprintTag = regexp.MustCompile(`(?s)<fingerprint>(.*?)</fingerprint>`)
var retentionBlock = regexp.MustCompile(`(?s)<memory_retention>(.*?)</memory_retention>`)
var retentionLine = regexp.MustCompile(`^\[(x|X| )\]\s*(.+)$`)

// Generator implements fingerprint.Generator (§4.8).
type Generator struct {
	llm   FastLLM
	model string
	log   *slog.Logger
}

func New(llm FastLLM, model string, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{llm: llm, model: model, log: log}
}

func (g *Generator) Generate(ctx context.Context, cont *cmodel.Continuum, currentUserMessage string, previousMemories []mmodel.Memory) (domainfp.Result, error) {
	prompt := formatPrompt(cont.Messages, currentUserMessage, previousMemories)

	resp, err := g.llm.Complete(ctx, &domainllmcore.GenerateRequest{
		System:    []domainllmcore.SystemBlock{{Text: systemPrompt}},
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.Text(prompt)}}},
		Model:     g.model,
		MaxTokens: 1024,
	})
	if err != nil {
		return domainfp.Result{}, fmt.Errorf("fingerprint: fast LLM call: %w", err)
	}

	raw := extractText(resp)
	fp, err := extractFingerprint(raw)
	if err != nil {
		return domainfp.Result{}, err
	}

	retained := extractRetention(raw, previousMemories, g.log)
	return domainfp.Result{Fingerprint: fp, RetainedTexts: retained}, nil
}

// formatPrompt gathers the last 6 user/assistant pairs (skipping collapsed
// segment summaries), the current user message, and the previous memories
// as a block (§4.8).
func formatPrompt(messages []llm.Message, currentUserMessage string, previousMemories []mmodel.Memory) string {
	var sb strings.Builder

	pairs := lastActivePairs(messages, contextPairCount)
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
	sb.WriteString("\n")

	if len(previousMemories) > 0 {
		sb.WriteString("\nPreviously surfaced memories:\n")
		for _, m := range previousMemories {
			sb.WriteString("- ")
			sb.WriteString(m.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// lastActivePairs walks messages backwards collecting up to n complete
// user→assistant pairs, skipping collapsed segment summaries and system
// sentinels entirely.
func lastActivePairs(messages []llm.Message, n int) []llm.Message {
	var pairs []llm.Message
	for i := len(messages) - 1; i > 0 && len(pairs) < n*2; i-- {
		assistant := messages[i]
		if assistant.Role != llm.RoleAssistant || assistant.Metadata.Status == llm.MessageStatusCollapsed {
			continue
		}
		user := messages[i-1]
		if user.Role != llm.RoleUser || user.Metadata.Status == llm.MessageStatusCollapsed {
			continue
		}
		pairs = append([]llm.Message{user, assistant}, pairs...)
		i--
	}
	return pairs
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

// extractFingerprint regex-extracts the <fingerprint> tag; if absent, the
// whole response (minus any retention block) is treated as the
// fingerprint. An empty result raises (§4.8 parser rule).
func extractFingerprint(raw string) (string, error) {
	if m := fingerprintTag.FindStringSubmatch(raw); m != nil {
		fp := strings.TrimSpace(m[1])
		if fp == "" {
			return "", fmt.Errorf("%w: fingerprint tag is empty", domain.ErrLogic)
		}
		return fp, nil
	}

	fallback := retentionBlock.ReplaceAllString(raw, "")
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return "", fmt.Errorf("%w: fingerprint response is empty", domain.ErrLogic)
	}
	return fallback, nil
}

// extractRetention parses `[x] …` lines inside <memory_retention>. An
// absent block with previous memories present falls back to the
// conservative default of retaining everything, logging a warning (§4.8).
func extractRetention(raw string, previousMemories []mmodel.Memory, log *slog.Logger) map[string]bool {
	m := retentionBlock.FindStringSubmatch(raw)
	if m == nil {
		if len(previousMemories) > 0 {
			log.Warn("fingerprint: memory_retention block missing, retaining all previous memories")
			return retainAll(previousMemories)
		}
		return map[string]bool{}
	}

	retained := map[string]bool{}
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lm := retentionLine.FindStringSubmatch(line)
		if lm == nil {
			continue
		}
		checked := strings.EqualFold(lm[1], "x")
		if checked {
			retained[strings.TrimSpace(lm[2])] = true
		}
	}
	return retained
}

func retainAll(memories []mmodel.Memory) map[string]bool {
	out := make(map[string]bool, len(memories))
	for _, m := range memories {
		if m.Text != "" {
			out[m.Text] = true
		}
	}
	return out
}
