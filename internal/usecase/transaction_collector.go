package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"golang.org/x/sync/errgroup"
)

// Liveness reports whether the RPC is healthy enough to submit
type Liveness interface {
	IsAlive() bool
}

// TransactionCollector pulls new transactions from the originators on every
// block and submits their first attempt
type TransactionCollector struct {
	repo      *TransactionRepository
	nonces    *NonceManager
	submitter *TransactionSubmitter
	oracle    GasPriceOracle
	liveness  Liveness
	bus       *EventBus
	status    *StatusNotifier
	metrics   Metrics
	log       *slog.Logger
	mailbox   *blockMailbox

	mu          sync.RWMutex
	originators []Originator
}

// NewTransactionCollector creates a collector
func NewTransactionCollector(
	repo *TransactionRepository,
	nonces *NonceManager,
	submitter *TransactionSubmitter,
	oracle GasPriceOracle,
	liveness Liveness,
	bus *EventBus,
	status *StatusNotifier,
	metrics Metrics,
	log *slog.Logger,
) *TransactionCollector {
	return &TransactionCollector{
		repo:      repo,
		nonces:    nonces,
		submitter: submitter,
		oracle:    oracle,
		liveness:  liveness,
		bus:       bus,
		status:    status,
		metrics:   metrics,
		log:       log.With("component", "TransactionCollector"),
		mailbox:   newBlockMailbox(),
	}
}

// AddOriginator registers a source of new transactions
func (c *TransactionCollector) AddOriginator(o Originator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.originators = append(c.originators, o)
}

// OnNewBlock queues block for collection
func (c *TransactionCollector) OnNewBlock(_ context.Context, event domain.NewBlockEvent) error {
	c.mailbox.Put(event.Block)
	return nil
}

// Run collects queued blocks until ctx is done
func (c *TransactionCollector) Run(ctx context.Context) {
	c.mailbox.run(ctx, c.log, c.Collect)
}

// Collect runs every originator for block and submits what they return
func (c *TransactionCollector) Collect(ctx context.Context, block models.Block) error {
	c.mu.RLock()
	originators := append([]Originator(nil), c.originators...)
	c.mu.RUnlock()
	if len(originators) == 0 {
		return nil
	}

	results := make([][]*models.Transaction, len(originators))
	g, gctx := errgroup.WithContext(ctx)
	for i, o := range originators {
		g.Go(func() error {
			txs, err := o(gctx, block)
			if err != nil {
				c.log.Warn("originator failed", "block", block.Number, "error", err)
				return nil
			}
			results[i] = txs
			return nil
		})
	}
	_ = g.Wait()

	txs := lo.Filter(lo.Flatten(results), func(tx *models.Transaction, _ int) bool {
		return tx != nil
	})
	return c.SubmitTransactions(ctx, block, txs)
}

// SubmitTransactions persists a batch collected at block and submits the
// first attempt of each, soonest deadline first
func (c *TransactionCollector) SubmitTransactions(ctx context.Context, block models.Block, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	sortByDeadline(txs)
	for _, tx := range txs {
		tx.SetCollectionBlock(block.Number)
	}
	c.metrics.AddCollected(len(txs))

	if err := c.repo.SaveTransactions(ctx, txs); err != nil {
		c.bus.Publish(ctx, domain.TransactionSaveFailedEvent{Transactions: txs, Err: err})
		return fmt.Errorf("failed to persist collected transactions: %w", err)
	}

	if !c.liveness.IsAlive() {
		c.log.Warn("rpc is down, deferring submission", "block", block.Number, "transactions", len(txs))
		return nil
	}

	fee := c.oracle.SuggestGasForNextBlock()
	for _, tx := range txs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.submitFirst(ctx, tx, fee)
	}
	return nil
}

func (c *TransactionCollector) submitFirst(ctx context.Context, tx *models.Transaction, fee GasSuggestion) {
	if !tx.Claim() {
		c.log.Debug("skipping transaction claimed by the monitor", "intent_id", tx.IntentID)
		return
	}
	defer tx.Release()

	switch tx.Status() {
	case models.TransactionStatusInterrupted:
		c.status.change(ctx, tx, models.TransactionStatusPending)
	case models.TransactionStatusNotAttempted:
	default:
		c.log.Debug("skipping transaction already in flight", "intent_id", tx.IntentID, "status", tx.Status())
		return
	}
	submitFresh(ctx, c.nonces, c.submitter, c.bus, c.log, tx, fee)
}

// submitFresh submits tx at a newly reserved nonce. The caller must hold the
// claim on tx. The nonce goes back to the ledger unless the attempt was
// already stored.
func submitFresh(ctx context.Context, nonces *NonceManager, submitter *TransactionSubmitter, bus *EventBus, log *slog.Logger, tx *models.Transaction, fee GasSuggestion) bool {
	nonce := nonces.RequestNonce()
	err := submitter.Submit(ctx, tx, SubmitParams{
		Type:                 models.AttemptTypeOriginal,
		Nonce:                nonce,
		MaxFeePerGas:         fee.MaxFeePerGas,
		MaxPriorityFeePerGas: fee.MaxPriorityFeePerGas,
	})
	if err == nil {
		return true
	}

	log.Warn("failed to submit transaction", "intent_id", tx.IntentID, "nonce", nonce, "error", err)
	if !domain.IsFlushed(err) {
		nonces.ReturnNonce(nonce)
	}
	bus.Publish(ctx, submissionFailedEvent(tx, err))
	return false
}

func submissionFailedEvent(tx *models.Transaction, err error) domain.TransactionSubmissionFailedEvent {
	event := domain.TransactionSubmissionFailedEvent{Transaction: tx, Description: err.Error()}
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) {
		event.Cause = subErr.Cause
		event.Description = subErr.Description
	}
	return event
}

// sortByDeadline orders by ascending deadline, transactions without one last
func sortByDeadline(txs []*models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i].Deadline, txs[j].Deadline
		switch {
		case a == 0:
			return false
		case b == 0:
			return true
		default:
			return a < b
		}
	})
}
