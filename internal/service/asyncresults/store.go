// Package asyncresults backs the async-context-results trinket with Redis:
// a per-user set of pending task ids plus one result key per task, written
// by whatever background worker runs the deferred search (§4.6).
package asyncresults

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingSetPrefix = "async_pending:"
	resultKeyPrefix  = "async_result:"
	resultTTL        = 30 * time.Minute
)

// Store implements trinkets.AsyncResultSource against Redis.
type Store struct {
	redis *redis.Client
}

func New(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func pendingKey(userID string) string { return pendingSetPrefix + userID }
func resultKey(taskID string) string  { return resultKeyPrefix + taskID }

// Publish is called by the background worker once a deferred search
// completes: it stores the result and registers the task id against the
// user so the trinket knows to look for it.
func (s *Store) Publish(ctx context.Context, userID, taskID, result string) error {
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, resultKey(taskID), result, resultTTL)
	pipe.SAdd(ctx, pendingKey(userID), taskID)
	pipe.Expire(ctx, pendingKey(userID), resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("asyncresults: publish %q: %w", taskID, err)
	}
	return nil
}

func (s *Store) PendingTaskIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, pendingKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("asyncresults: list pending for %q: %w", userID, err)
	}
	return ids, nil
}

// TakeResult reads and deletes the result, removing it from the pending
// set so it surfaces to the model exactly once.
func (s *Store) TakeResult(ctx context.Context, taskID string) (string, bool, error) {
	result, err := s.redis.Get(ctx, resultKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("asyncresults: read result %q: %w", taskID, err)
	}
	s.redis.Del(ctx, resultKey(taskID))
	return result, true, nil
}
