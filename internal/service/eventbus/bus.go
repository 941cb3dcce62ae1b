package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"meridian/internal/domain"
	"meridian/internal/domain/services/eventbus"
)

// Bus is a synchronous, in-process publish/subscribe registry. Publish runs
// every subscriber for the event's type, in registration order, on the
// calling goroutine; one handler's panic or error is isolated and logged,
// the rest still run. Grounded on cns/core's event bus (original_source)
// and adapted to Go's error/recover idiom instead of Python's try/except.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]eventbus.Handler
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]eventbus.Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(eventType string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *Bus) Publish(ctx context.Context, event eventbus.Event) []eventbus.HandlerError {
	b.mu.RLock()
	handlers := append([]eventbus.Handler(nil), b.handlers[event.EventType()]...)
	b.mu.RUnlock()

	var failures []eventbus.HandlerError
	for _, h := range handlers {
		if herr := b.runHandler(ctx, event, h); herr != nil {
			failures = append(failures, *herr)
		}
	}
	return failures
}

func (b *Bus) runHandler(ctx context.Context, event eventbus.Event, h eventbus.Handler) (result *eventbus.HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			b.logger.Error("event handler panicked", "event_type", event.EventType(), "error", err)
			result = &eventbus.HandlerError{EventType: event.EventType(), Category: eventbus.CategoryLogic, Err: err}
		}
	}()

	if err := h(ctx, event); err != nil {
		category := categorize(err)
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"category", category,
			"error", err,
		)
		return &eventbus.HandlerError{EventType: event.EventType(), Category: category, Err: err}
	}
	return nil
}

// categorize infers infrastructure vs logic from the sentinel error chain,
// matching §4.1's "category inferred from the exception class" rule.
func categorize(err error) eventbus.ErrorCategory {
	if errors.Is(err, domain.ErrInfrastructure) {
		return eventbus.CategoryInfrastructure
	}
	return eventbus.CategoryLogic
}
