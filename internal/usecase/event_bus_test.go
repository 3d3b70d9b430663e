package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

func TestEventBus(t *testing.T) {
	t.Run("delivers to every subscriber of the topic", func(t *testing.T) {
		bus := usecase.NewEventBus(discardLogger())
		var blocks []uint64
		usecase.On(bus, func(_ context.Context, e domain.NewBlockEvent) error {
			blocks = append(blocks, e.Block.Number)
			return nil
		})
		usecase.On(bus, func(_ context.Context, e domain.NewBlockEvent) error {
			blocks = append(blocks, e.Block.Number*10)
			return nil
		})
		var downs int
		usecase.On(bus, func(context.Context, domain.RpcIsDownEvent) error {
			downs++
			return nil
		})

		bus.Publish(context.Background(), domain.NewBlockEvent{Block: models.Block{Number: 3}})

		assert.Equal(t, []uint64{3, 30}, blocks)
		assert.Zero(t, downs)
	})

	t.Run("failing handlers do not affect others", func(t *testing.T) {
		bus := usecase.NewEventBus(discardLogger())
		bus.Subscribe(domain.HookRpcIsUp, func(context.Context, domain.Event) error {
			panic("boom")
		})
		bus.Subscribe(domain.HookRpcIsUp, func(context.Context, domain.Event) error {
			return errors.New("handler failed")
		})
		var delivered bool
		bus.Subscribe(domain.HookRpcIsUp, func(context.Context, domain.Event) error {
			delivered = true
			return nil
		})

		assert.NotPanics(t, func() {
			bus.Publish(context.Background(), domain.RpcIsUpEvent{})
		})
		assert.True(t, delivered)
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		bus := usecase.NewEventBus(discardLogger())
		var first, second int
		unsubscribe := bus.Subscribe(domain.HookRpcIsDown, func(context.Context, domain.Event) error {
			first++
			return nil
		})
		bus.Subscribe(domain.HookRpcIsDown, func(context.Context, domain.Event) error {
			second++
			return nil
		})

		unsubscribe()
		unsubscribe()
		bus.Publish(context.Background(), domain.RpcIsDownEvent{})

		assert.Zero(t, first)
		assert.Equal(t, 1, second)
	})
}

func TestHookManager(t *testing.T) {
	ctx := context.Background()
	bus := usecase.NewEventBus(discardLogger())
	hooks := usecase.NewHookManager(bus, discardLogger())

	var specific, all []domain.HookType
	removeSpecific := hooks.AddHook(domain.HookTransactionStatusChanged, func(_ context.Context, e domain.Event) error {
		specific = append(specific, e.HookType())
		return nil
	})
	hooks.AddHook(domain.HookAll, func(_ context.Context, e domain.Event) error {
		all = append(all, e.HookType())
		return nil
	})
	hooks.AddHook(domain.HookTransactionStatusChanged, func(context.Context, domain.Event) error {
		panic("hook bug")
	})

	tx := models.NewTransaction(models.TransactionParams{})
	bus.Publish(ctx, domain.TransactionStatusChangedEvent{Transaction: tx, From: models.TransactionStatusNotAttempted, To: models.TransactionStatusPending})
	bus.Publish(ctx, domain.NewBlockEvent{Block: models.Block{Number: 1}})

	removeSpecific()
	bus.Publish(ctx, domain.TransactionStatusChangedEvent{Transaction: tx, From: models.TransactionStatusPending, To: models.TransactionStatusSuccess})

	assert.Equal(t, []domain.HookType{domain.HookTransactionStatusChanged}, specific)
	assert.Equal(t, []domain.HookType{
		domain.HookTransactionStatusChanged,
		domain.HookNewBlock,
		domain.HookTransactionStatusChanged,
	}, all)
}
