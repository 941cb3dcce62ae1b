// Package domainknowledge wraps the postgres block store with the
// per-user TTL and turn-count cache the composer's domain-knowledge trinket
// needs:
// GetEnabled is called once per turn for every active continuum, so an
// uncached call would mean one extra round trip to Postgres per message.
package domainknowledge

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainmodel "meridian/internal/domain/models/domainknowledge"
	domainsvc "meridian/internal/domain/services/domainknowledge"
	"meridian/internal/domain/services/eventbus"
	"meridian/internal/domain/services/orchestrator"
)

type cacheEntry struct {
	block     *domainmodel.Block
	expiresAt time.Time
	turns     int
}

// Service implements trinkets.EnabledBlockSource against domainsvc.Store,
// caching the enabled block per user for cacheTTL or batchSize turns,
// whichever comes first (§6 message_batch_size / block_cache_ttl).
type Service struct {
	store     domainsvc.Store
	cacheTTL  time.Duration
	batchSize int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(bus eventbus.Bus, store domainsvc.Store, cacheTTL time.Duration, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 1
	}
	s := &Service{
		store:     store,
		cacheTTL:  cacheTTL,
		batchSize: batchSize,
		cache:     make(map[string]cacheEntry),
	}
	bus.Subscribe((orchestrator.TurnCompletedEvent{}).EventType(), s.handleTurnCompleted)
	return s
}

// handleTurnCompleted implements the "domain-knowledge buffering" subscriber
// named in §4.9 step 18: every completed turn nudges the batch counter,
// evicting the cache entry once batchSize turns have passed so a sync
// picked up by agent_ref is never invisible for more than batchSize turns.
func (s *Service) handleTurnCompleted(_ context.Context, event eventbus.Event) error {
	e, ok := event.(orchestrator.TurnCompletedEvent)
	if !ok || e.Continuum == nil {
		return nil
	}
	s.InvalidateOnTurn(e.Continuum.UserID)
	return nil
}

// GetEnabled implements trinkets.EnabledBlockSource.
func (s *Service) GetEnabled(ctx context.Context, userID string) (label, description, cachedValue string, ok bool, err error) {
	if entry, found := s.lookup(userID); found {
		if entry.block == nil {
			return "", "", "", false, nil
		}
		return entry.block.Label, entry.block.Description, entry.block.CachedValue, true, nil
	}

	block, err := s.store.GetEnabled(ctx, userID)
	if err != nil {
		return "", "", "", false, fmt.Errorf("domainknowledge: get enabled block: %w", err)
	}
	s.remember(userID, block)

	if block == nil {
		return "", "", "", false, nil
	}
	return block.Label, block.Description, block.CachedValue, true, nil
}

func (s *Service) lookup(userID string) (cacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (s *Service) remember(userID string, block *domainmodel.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[userID] = cacheEntry{block: block, expiresAt: time.Now().Add(s.cacheTTL)}
}

// InvalidateOnTurn drops the cache entry after batchSize turns even if the
// TTL hasn't expired yet.
func (s *Service) InvalidateOnTurn(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[userID]
	if !ok {
		return
	}
	entry.turns++
	if entry.turns >= s.batchSize {
		delete(s.cache, userID)
		return
	}
	s.cache[userID] = entry
}

// List, Create, Enable, Disable pass straight through: they're
// user-initiated CRUD operations (internal/handler/domainblocks.go), not
// on the per-turn hot path, so they bypass the cache. Create, Enable and
// Disable also evict the affected user's entry on success to keep it from
// serving a stale read afterward.
func (s *Service) List(ctx context.Context, userID string) ([]domainmodel.Block, error) {
	return s.store.List(ctx, userID)
}

func (s *Service) Create(ctx context.Context, b domainmodel.Block) (domainmodel.Block, error) {
	created, err := s.store.Create(ctx, b)
	if err == nil {
		s.evict(b.UserID)
	}
	return created, err
}

func (s *Service) Enable(ctx context.Context, userID, label string) error {
	err := s.store.Enable(ctx, userID, label)
	if err == nil {
		s.evict(userID)
	}
	return err
}

func (s *Service) Disable(ctx context.Context, userID, label string) error {
	err := s.store.Disable(ctx, userID, label)
	if err == nil {
		s.evict(userID)
	}
	return err
}

func (s *Service) evict(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, userID)
}
