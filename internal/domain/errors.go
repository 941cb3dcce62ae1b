package domain

import "errors"

// Domain errors - use with errors.Is()
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation
	ErrConflict = errors.New("already exists")

	// ErrValidation indicates invalid input
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates authentication failure
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates authorization failure
	ErrForbidden = errors.New("forbidden")

	// ErrCircuitBreak indicates the LLM tool loop was halted by the circuit breaker
	ErrCircuitBreak = errors.New("circuit breaker tripped")

	// ErrInfrastructure indicates a failure in an external dependency (KV, SQL, embedding service)
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrLogic indicates a malformed or incomplete LLM-generated structure (touchstone, fingerprint)
	ErrLogic = errors.New("logic error")

	// ErrContextLength indicates the request exceeded the provider's context window
	ErrContextLength = errors.New("context length exceeded")
)
