package touchstone

import (
	"context"

	cmodel "meridian/internal/domain/models/continuum"
)

// Generator produces an evolved touchstone from the continuum's recent
// history and the current user message (C7).
type Generator interface {
	Generate(ctx context.Context, cont *cmodel.Continuum, currentUserMessage string) (cmodel.Touchstone, []float32, error)
}
