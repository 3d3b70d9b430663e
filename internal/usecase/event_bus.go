package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trebuchet-org/txm/internal/domain"
)

// EventHandler handles one event published on the bus
type EventHandler func(ctx context.Context, event domain.Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus is the in-process publish/subscribe channel connecting the
// manager's components. Delivery is synchronous; a failing or panicking
// handler is logged and never affects the publisher or other handlers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[domain.HookType][]subscription
	nextID   uint64
	log      *slog.Logger
}

// NewEventBus creates an empty bus
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[domain.HookType][]subscription),
		log:      log.With("component", "EventBus"),
	}
}

// Subscribe registers handler for topic and returns a function removing it
func (b *EventBus) Subscribe(topic domain.HookType, handler EventHandler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[topic]
			for i, s := range subs {
				if s.id == id {
					b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers event to every handler of its topic
func (b *EventBus) Publish(ctx context.Context, event domain.Event) {
	topic := event.HookType()
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := safeHandle(ctx, s.handler, event); err != nil {
			b.log.Error("event handler failed", "topic", topic, "error", err)
		}
	}
}

// On subscribes a handler typed to a single event payload
func On[E domain.Event](b *EventBus, handler func(ctx context.Context, event E) error) func() {
	var zero E
	return b.Subscribe(zero.HookType(), func(ctx context.Context, event domain.Event) error {
		typed, ok := event.(E)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event, zero.HookType())
		}
		return handler(ctx, typed)
	})
}

func safeHandle(ctx context.Context, handler EventHandler, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, event)
}
