package userlock

import "context"

// Lock is the per-user request mutex (C12): KV SET NX EX 60 to acquire,
// DEL to release, key "user_req_lock:<user_id>".
type Lock interface {
	// Acquire is non-blocking; it returns false if the lock is already held.
	Acquire(ctx context.Context, userID, connectionID string) (bool, error)
	Release(ctx context.Context, userID string) error
}
