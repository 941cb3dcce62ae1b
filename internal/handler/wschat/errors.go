package wschat

import (
	"context"
	"errors"
	"strings"

	"meridian/internal/domain"
)

// friendlyTurnError translates an orchestrator failure into the §7
// user-visible message table (rate limit, auth, network, timeout, 5xx,
// default), keeping internal details out of the wire frame — they're
// logged by the caller instead.
func friendlyTurnError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long to process. Please try again."
	case strings.Contains(err.Error(), "rate limit"):
		return "I'm currently rate limited. Please try again in a moment."
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		return "There's an issue with API authentication. Please contact support."
	case errors.Is(err, domain.ErrContextLength):
		return "That conversation has gotten too long for me to process. Try starting a new one."
	case errors.Is(err, domain.ErrInfrastructure):
		return "I'm having technical difficulties right now. Please try again shortly."
	case errors.Is(err, domain.ErrCircuitBreak):
		return "I had trouble completing that with the available tools. Please try rephrasing."
	default:
		return "The assistant could not complete that turn. Please try again."
	}
}
