// Package userlock implements the per-user request mutex (C12): a Redis
// SET NX EX lock that serializes concurrent turns for the same user so the
// orchestrator never races on one continuum.
package userlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL   = 60 * time.Second
	keyPrefix = "user_req_lock:"
)

// Lock implements the userlock.Lock interface against Redis.
type Lock struct {
	redis *redis.Client
}

func New(redisClient *redis.Client) *Lock {
	return &Lock{redis: redisClient}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Acquire attempts SET NX EX 60, storing connectionID as the value so a
// stuck lock can be traced back to the websocket connection that holds it.
func (l *Lock) Acquire(ctx context.Context, userID, connectionID string) (bool, error) {
	ok, err := l.redis.SetNX(ctx, key(userID), connectionID, lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire user lock: %w", err)
	}
	return ok, nil
}

func (l *Lock) Release(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("release user lock: %w", err)
	}
	return nil
}
