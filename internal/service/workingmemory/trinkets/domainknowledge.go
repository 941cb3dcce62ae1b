package trinkets

import (
	"context"
	"fmt"

	"meridian/internal/domain/services/workingmemory"
)

// EnabledBlockSource resolves the single enabled domain-knowledge block for
// a user, if any (§3's at-most-one-enabled-per-user invariant).
type EnabledBlockSource interface {
	GetEnabled(ctx context.Context, userID string) (label, description, cachedValue string, ok bool, err error)
}

// DomainKnowledgeTrinket injects the user's enabled domain-knowledge block,
// wrapped in a labeled XML-ish tag. Cacheable: the block only changes when
// the user enables/disables a different one, not every turn.
type DomainKnowledgeTrinket struct {
	blocks EnabledBlockSource
}

func NewDomainKnowledgeTrinket(blocks EnabledBlockSource) *DomainKnowledgeTrinket {
	return &DomainKnowledgeTrinket{blocks: blocks}
}

func (t *DomainKnowledgeTrinket) Name() string      { return "domain_knowledge" }
func (t *DomainKnowledgeTrinket) CachePolicy() bool { return true }

func (t *DomainKnowledgeTrinket) GenerateContent(ctx context.Context, update workingmemory.UpdateContext) (string, error) {
	label, description, cachedValue, ok, err := t.blocks.GetEnabled(ctx, update.UserID)
	if err != nil {
		return "", fmt.Errorf("domain knowledge trinket: %w", err)
	}
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("<%s description=%q>\n%s\n</%s>", label, description, cachedValue, label), nil
}
