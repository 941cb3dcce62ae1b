package continuum

import (
	"context"

	cmodel "meridian/internal/domain/models/continuum"
)

// Repository loads and commits continuums (C10).
type Repository interface {
	// Load fetches or cold-starts a continuum for a user, running the
	// session cache loader (C13) on a cache miss.
	Load(ctx context.Context, userID string) (*cmodel.Continuum, error)

	// Commit persists a unit of work in a single transaction: both
	// messages in chronological order, metadata if dirty, and the
	// retrieval log entry.
	Commit(ctx context.Context, cont *cmodel.Continuum, uow *cmodel.UnitOfWork) error
}

// CacheLoader assembles the cold-start message list (C13):
// [collapse_marker][summaries][continuity-pairs][boundary][active-segment].
type CacheLoader interface {
	Load(ctx context.Context, userID string) (*cmodel.Continuum, error)
}
