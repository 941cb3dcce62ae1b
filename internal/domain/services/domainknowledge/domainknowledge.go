package domainknowledge

import (
	"context"

	model "meridian/internal/domain/models/domainknowledge"
)

// Store manages domain-knowledge blocks, enforcing the at-most-one-enabled
// invariant at write time.
type Store interface {
	List(ctx context.Context, userID string) ([]model.Block, error)
	Create(ctx context.Context, b model.Block) (model.Block, error)
	// Enable enables the named block. It returns domain.ErrValidation and
	// changes nothing if another block with a *different* label is already
	// enabled for the user (§8 scenario 5): enabling a second block while
	// one is already enabled is rejected, not swapped. Enabling the block
	// that is already enabled is a no-op.
	Enable(ctx context.Context, userID, label string) error
	Disable(ctx context.Context, userID, label string) error
	GetEnabled(ctx context.Context, userID string) (*model.Block, error)
}
