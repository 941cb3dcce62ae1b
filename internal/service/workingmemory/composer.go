// Package workingmemory implements C6: the event-driven system-prompt
// composer. Trinkets contribute named sections; the composer concatenates
// them in registration order into a cached block (base prompt plus every
// cacheable section) and a non-cached block, every turn.
package workingmemory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"meridian/internal/domain/services/eventbus"
	"meridian/internal/domain/services/workingmemory"
)

type section struct {
	name        string
	content     string
	cachePolicy bool
}

// Composer implements workingmemory.Composer (§4.6). It subscribes itself
// to the event bus at construction time so ComposeSystemPromptEvent and
// TrinketContentEvent publishing work without the caller wiring anything
// beyond New.
type Composer struct {
	mu          sync.Mutex
	basePrompt  string
	order       []string
	sections    map[string]section
	trinkets    []workingmemory.Trinket
	trinketByName map[string]workingmemory.Trinket
	logger      *slog.Logger
}

func New(bus eventbus.Bus, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Composer{
		sections:      make(map[string]section),
		trinketByName: make(map[string]workingmemory.Trinket),
		logger:        logger,
	}
	bus.Subscribe((workingmemory.TrinketContentEvent{}).EventType(), c.handleTrinketContent)
	return c
}

func (c *Composer) Register(t workingmemory.Trinket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trinkets = append(c.trinkets, t)
	c.trinketByName[t.Name()] = t
}

func (c *Composer) GetTrinket(name string) (workingmemory.Trinket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trinketByName[name]
	return t, ok
}

// handleTrinketContent adds or replaces the named section, preserving
// first-registration order (§4.6 Composition).
func (c *Composer) handleTrinketContent(_ context.Context, event eventbus.Event) error {
	e, ok := event.(workingmemory.TrinketContentEvent)
	if !ok {
		return fmt.Errorf("workingmemory: unexpected event type %T", event)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sections[e.VariableName]; !exists {
		c.order = append(c.order, e.VariableName)
	}
	c.sections[e.VariableName] = section{name: e.VariableName, content: e.Content, cachePolicy: e.CachePolicy}
	return nil
}

// Compose drives one compose round (§4.6): clear non-base sections, fan
// UpdateTrinketEvent out to every registered trinket, then concatenate.
// The event bus is synchronous, so by the time Publish returns every
// trinket that chose to contribute has already called handleTrinketContent.
func (c *Composer) Compose(ctx context.Context, bus eventbus.Bus, continuumID, userID, basePrompt string) (string, string, error) {
	bus.Publish(ctx, workingmemory.ComposeSystemPromptEvent{ContinuumID: continuumID, BasePrompt: basePrompt, UserID: userID})

	c.mu.Lock()
	c.basePrompt = basePrompt
	c.order = nil
	c.sections = make(map[string]section)
	trinkets := append([]workingmemory.Trinket(nil), c.trinkets...)
	c.mu.Unlock()

	// Each registered trinket is asked to regenerate its section via the
	// same UpdateTrinketEvent a selective re-fetch (e.g. a reminder trinket
	// reacting to an external change) would use; here the fan-out targets
	// every trinket rather than one, so every section is fresh this turn.
	updateCtx := workingmemory.UpdateContext{UserID: userID, Extra: map[string]interface{}{"continuum_id": continuumID}}
	for _, t := range trinkets {
		bus.Publish(ctx, workingmemory.UpdateTrinketEvent{ContinuumID: continuumID, TargetTrinket: t.Name(), Context: updateCtx})
		content, err := t.GenerateContent(ctx, updateCtx)
		if err != nil {
			c.logger.Error("workingmemory: trinket failed to generate content", "trinket", t.Name(), "error", err)
			continue
		}
		if content == "" {
			continue
		}
		bus.Publish(ctx, workingmemory.TrinketContentEvent{
			ContinuumID:  continuumID,
			VariableName: t.Name(),
			Content:      content,
			CachePolicy:  t.CachePolicy(),
		})
	}

	cached, nonCached := c.render()
	bus.Publish(ctx, workingmemory.SystemPromptComposedEvent{ContinuumID: continuumID, CachedContent: cached, NonCachedContent: nonCached})
	return cached, nonCached, nil
}

// render concatenates sections in registration order: the base prompt is
// always first in the cached block, followed by every cacheable section;
// non-cacheable sections go in the non-cached block.
func (c *Composer) render() (cached, nonCached string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cachedParts, nonCachedParts []string
	if c.basePrompt != "" {
		cachedParts = append(cachedParts, c.basePrompt)
	}
	for _, name := range c.order {
		s := c.sections[name]
		if s.content == "" {
			continue
		}
		if s.cachePolicy {
			cachedParts = append(cachedParts, s.content)
		} else {
			nonCachedParts = append(nonCachedParts, s.content)
		}
	}
	return strings.Join(cachedParts, "\n\n"), strings.Join(nonCachedParts, "\n\n")
}
