package usecase

import (
	"context"
	"log/slog"

	"github.com/trebuchet-org/txm/internal/domain/models"
)

// blockMailbox holds at most one pending block. Putting a newer block
// replaces a queued older one, so a busy consumer only ever sees the latest.
type blockMailbox struct {
	ch chan models.Block
}

func newBlockMailbox() *blockMailbox {
	return &blockMailbox{ch: make(chan models.Block, 1)}
}

// Put queues block, discarding a stale queued one
func (m *blockMailbox) Put(block models.Block) {
	for {
		select {
		case m.ch <- block:
			return
		default:
		}
		select {
		case queued := <-m.ch:
			if queued.Number > block.Number {
				block = queued
			}
		default:
		}
	}
}

// run processes blocks one at a time until ctx is done
func (m *blockMailbox) run(ctx context.Context, log *slog.Logger, process func(context.Context, models.Block) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case block := <-m.ch:
			if err := process(ctx, block); err != nil && ctx.Err() == nil {
				log.Warn("block reaction failed", "block", block.Number, "error", err)
			}
		}
	}
}
