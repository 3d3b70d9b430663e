package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trebuchet-org/txm/internal/domain"
)

// hookTopics are the bus topics re-exposed through the hook API
var hookTopics = []domain.HookType{
	domain.HookNewBlock,
	domain.HookTransactionStatusChanged,
	domain.HookTransactionSaveFailed,
	domain.HookTransactionSubmissionFailed,
	domain.HookRpcIsDown,
	domain.HookRpcIsUp,
}

type hook struct {
	id      uint64
	handler HookHandler
}

// HookManager forwards bus events to externally registered hooks
type HookManager struct {
	log *slog.Logger

	mu     sync.RWMutex
	hooks  map[domain.HookType][]hook
	nextID uint64
}

// NewHookManager subscribes to every hook topic on bus
func NewHookManager(bus *EventBus, log *slog.Logger) *HookManager {
	h := &HookManager{
		log:   log.With("component", "HookManager"),
		hooks: make(map[domain.HookType][]hook),
	}
	for _, topic := range hookTopics {
		bus.Subscribe(topic, h.dispatch)
	}
	return h
}

// AddHook registers handler for events of hookType, or for every event with
// domain.HookAll. The returned function removes the hook.
func (h *HookManager) AddHook(hookType domain.HookType, handler HookHandler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.hooks[hookType] = append(h.hooks[hookType], hook{id: id, handler: handler})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			hooks := h.hooks[hookType]
			for i, hk := range hooks {
				if hk.id == id {
					h.hooks[hookType] = append(hooks[:i:i], hooks[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *HookManager) dispatch(ctx context.Context, event domain.Event) error {
	h.mu.RLock()
	targets := append([]hook(nil), h.hooks[event.HookType()]...)
	targets = append(targets, h.hooks[domain.HookAll]...)
	h.mu.RUnlock()

	for _, hk := range targets {
		if err := runHook(ctx, hk.handler, event); err != nil {
			h.log.Error("hook failed", "hook_type", event.HookType(), "error", err)
		}
	}
	return nil
}

func runHook(ctx context.Context, handler HookHandler, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, event)
}
