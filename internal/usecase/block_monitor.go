package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jpillora/backoff"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// BlockMonitor publishes NewBlock for every strictly increasing head. A
// subscription that stays silent longer than the inactivity timeout is torn
// down and recreated.
type BlockMonitor struct {
	client  ChainClient
	bus     *EventBus
	tracker CallTracker
	cfg     config.RPCConfig
	metrics Metrics
	log     *slog.Logger

	mu        sync.Mutex
	lastBlock *models.Block
}

// NewBlockMonitor creates a block monitor
func NewBlockMonitor(client ChainClient, bus *EventBus, tracker CallTracker, cfg config.RPCConfig, metrics Metrics, log *slog.Logger) *BlockMonitor {
	return &BlockMonitor{
		client:  client,
		bus:     bus,
		tracker: tracker,
		cfg:     cfg,
		metrics: metrics,
		log:     log.With("component", "BlockMonitor"),
	}
}

// Run follows the chain head until ctx is done
func (m *BlockMonitor) Run(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    m.cfg.RetryDelay,
		Max:    m.cfg.BlockInactivityTimeout,
		Factor: 2,
		Jitter: true,
	}
	for ctx.Err() == nil {
		err := m.follow(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrSubscriptionsUnsupported):
			m.log.Info("node does not support subscriptions, polling for blocks", "interval", m.cfg.PollingInterval)
			m.poll(ctx)
			return
		case err != nil:
			delay := b.Duration()
			m.log.Warn("block subscription failed, resubscribing", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		default:
			b.Reset()
		}
	}
}

// follow consumes one subscription. It returns nil when the subscription was
// abandoned for inactivity.
func (m *BlockMonitor) follow(ctx context.Context) error {
	heads := make(chan *types.Header, 16)
	sub, err := m.client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(m.cfg.BlockInactivityTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return errors.New("subscription closed")
			}
			return err
		case head := <-heads:
			m.ProcessHeader(ctx, head)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.cfg.BlockInactivityTimeout)
		case <-timer.C:
			m.log.Warn("no block received, recreating subscription", "timeout", m.cfg.BlockInactivityTimeout)
			return nil
		}
	}
}

func (m *BlockMonitor) poll(ctx context.Context) {
	interval := m.cfg.PollingInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		head, err := m.client.HeaderByNumber(callCtx, nil)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				m.log.Debug("failed to poll latest header", "error", err)
			}
		} else {
			m.ProcessHeader(ctx, head)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessHeader publishes NewBlock unless the header does not advance the chain
func (m *BlockMonitor) ProcessHeader(ctx context.Context, head *types.Header) {
	block := models.BlockFromHeader(head)

	m.mu.Lock()
	if m.lastBlock != nil && block.Number <= m.lastBlock.Number {
		last := m.lastBlock.Number
		m.mu.Unlock()
		m.log.Debug("skipping block not after last processed", "block", block.Number, "last", last)
		return
	}
	m.lastBlock = &block
	m.mu.Unlock()

	m.tracker.TrackSuccess()
	m.metrics.SetLatestBlock(block.Number)
	m.log.Debug("new block", "block", block.Number, "base_fee", block.BaseFee)
	m.bus.Publish(ctx, domain.NewBlockEvent{Block: block})
}

// LastBlock returns the most recent published block
func (m *BlockMonitor) LastBlock() (models.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastBlock == nil {
		return models.Block{}, false
	}
	return *m.lastBlock, true
}
