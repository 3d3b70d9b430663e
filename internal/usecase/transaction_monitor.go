package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"golang.org/x/sync/errgroup"
)

// replacementBumpPercent is the minimum fee increase nodes accept for a replacement
const replacementBumpPercent = 10

// TransactionMonitor drives every in-flight transaction towards a terminal
// status. Block reactions are serialized; a block arriving while one is being
// processed waits, replacing any older block still waiting.
type TransactionMonitor struct {
	client      ChainClient
	repo        *TransactionRepository
	nonces      *NonceManager
	submitter   *TransactionSubmitter
	oracle      GasPriceOracle
	retry       RetryPolicy
	liveness    Liveness
	bus         *EventBus
	status      *StatusNotifier
	metrics     Metrics
	blockTime   time.Duration
	concurrency int
	log         *slog.Logger
	mailbox     *blockMailbox
}

// NewTransactionMonitor creates a monitor
func NewTransactionMonitor(
	client ChainClient,
	repo *TransactionRepository,
	nonces *NonceManager,
	submitter *TransactionSubmitter,
	oracle GasPriceOracle,
	retry RetryPolicy,
	liveness Liveness,
	bus *EventBus,
	status *StatusNotifier,
	metrics Metrics,
	blockTime time.Duration,
	concurrency int,
	log *slog.Logger,
) *TransactionMonitor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TransactionMonitor{
		client:      client,
		repo:        repo,
		nonces:      nonces,
		submitter:   submitter,
		oracle:      oracle,
		retry:       retry,
		liveness:    liveness,
		bus:         bus,
		status:      status,
		metrics:     metrics,
		blockTime:   blockTime,
		concurrency: concurrency,
		log:         log.With("component", "TransactionMonitor"),
		mailbox:     newBlockMailbox(),
	}
}

// OnNewBlock queues block for processing
func (m *TransactionMonitor) OnNewBlock(_ context.Context, event domain.NewBlockEvent) error {
	m.mailbox.Put(event.Block)
	return nil
}

// Run processes queued blocks until ctx is done
func (m *TransactionMonitor) Run(ctx context.Context) {
	m.mailbox.run(ctx, m.log, m.Process)
}

// Process examines every not-finalized transaction collected before block
func (m *TransactionMonitor) Process(ctx context.Context, block models.Block) error {
	if !m.liveness.IsAlive() {
		m.log.Debug("rpc is down, skipping block", "block", block.Number)
		return nil
	}

	txs := m.repo.GetNotFinalizedTransactionsOlderThan(block.Number)
	if len(txs) == 0 {
		return nil
	}

	if err := m.nonces.Resync(ctx); err != nil {
		m.log.Warn("failed to refresh executed nonce", "error", err)
	}
	fee := m.oracle.SuggestGasForNextBlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, tx := range txs {
		g.Go(func() error {
			m.processTransaction(gctx, block, tx, fee)
			return nil
		})
	}
	_ = g.Wait()

	if err := m.repo.SaveTransactions(ctx, txs); err != nil {
		m.bus.Publish(ctx, domain.TransactionSaveFailedEvent{Transactions: txs, Err: err})
		return err
	}
	return nil
}

func (m *TransactionMonitor) processTransaction(ctx context.Context, block models.Block, tx *models.Transaction, fee GasSuggestion) {
	if !tx.Claim() {
		m.log.Debug("skipping transaction claimed by the collector", "intent_id", tx.IntentID, "block", block.Number)
		return
	}
	defer tx.Release()

	inAir := tx.InAirAttempts()
	if len(inAir) == 0 {
		m.handleNotAttempted(ctx, block, tx, fee)
		return
	}

	receipt, attempt, err := m.findReceipt(ctx, tx, inAir)
	if err != nil {
		m.log.Warn("receipt lookup failed, skipping transaction this block", "intent_id", tx.IntentID, "error", err)
		return
	}
	if receipt != nil {
		m.handleReceipt(ctx, block, tx, attempt, receipt, fee)
		return
	}

	last := inAir[len(inAir)-1]
	switch {
	case last.Nonce < m.nonces.ExecutedCount():
		m.log.Warn("nonce consumed by another transaction", "intent_id", tx.IntentID, "nonce", last.Nonce)
		m.status.change(ctx, tx, models.TransactionStatusInterrupted)
	case tx.IsExpired(block, m.blockTime) && last.Type != models.AttemptTypeCancellation:
		m.handleExpired(ctx, tx, last, fee)
	default:
		m.handleStuck(ctx, tx, last, fee)
	}
}

type receiptResult struct {
	receipt *types.Receipt
	attempt models.Attempt
	err     error
}

// findReceipt queries every in-air attempt concurrently. The first receipt
// found wins and cancels the other queries. If none is found and any query
// failed with something other than "not found" the outcome is ambiguous and
// an error is returned.
func (m *TransactionMonitor) findReceipt(ctx context.Context, tx *models.Transaction, attempts []models.Attempt) (*types.Receipt, models.Attempt, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan receiptResult, len(attempts))
	for _, a := range attempts {
		go func() {
			receipt, err := m.client.TransactionReceipt(ctx, a.Hash)
			results <- receiptResult{receipt: receipt, attempt: a, err: err}
		}()
	}

	var errs []error
	for range attempts {
		r := <-results
		switch {
		case r.err == nil && r.receipt != nil:
			return r.receipt, r.attempt, nil
		case r.err == nil, errors.Is(r.err, ethereum.NotFound):
		default:
			errs = append(errs, r.err)
		}
	}
	if len(errs) > 0 {
		return nil, models.Attempt{}, errors.Join(errs...)
	}
	return nil, models.Attempt{}, nil
}

func (m *TransactionMonitor) handleReceipt(ctx context.Context, block models.Block, tx *models.Transaction, attempt models.Attempt, receipt *types.Receipt, fee GasSuggestion) {
	log := m.log.With("intent_id", tx.IntentID, "nonce", attempt.Nonce, "hash", attempt.Hash)
	if receipt.BlockNumber != nil {
		if mined := receipt.BlockNumber.Uint64(); mined >= tx.CollectionBlock() {
			m.metrics.ObserveInclusionBlocks(mined - tx.CollectionBlock())
		}
	}

	if attempt.Type == models.AttemptTypeCancellation {
		log.Info("cancellation mined")
		m.status.change(ctx, tx, models.TransactionStatusCancelled)
		return
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		log.Info("transaction succeeded", "block", receipt.BlockNumber)
		m.status.change(ctx, tx, models.TransactionStatusSuccess)
		return
	}

	if m.retry.ShouldRetry(ctx, tx, attempt, receipt) {
		// Expired is only for transactions that never reached the chain
		if tx.IsExpired(block, m.blockTime) {
			log.Info("transaction reverted past its deadline, not retrying", "gas_used", receipt.GasUsed, "deadline", tx.Deadline)
			m.status.change(ctx, tx, models.TransactionStatusFailed)
			return
		}
		log.Info("transaction reverted, retrying with a new nonce", "gas_used", receipt.GasUsed, "gas", attempt.Gas)
		m.metrics.IncRetried()
		submitFresh(ctx, m.nonces, m.submitter, m.bus, m.log, tx, fee)
		return
	}

	log.Info("transaction reverted", "gas_used", receipt.GasUsed)
	m.status.change(ctx, tx, models.TransactionStatusFailed)
}

// handleExpired burns the nonce with a zero-value self transfer
func (m *TransactionMonitor) handleExpired(ctx context.Context, tx *models.Transaction, last models.Attempt, fee GasSuggestion) {
	m.log.Info("transaction expired, cancelling", "intent_id", tx.IntentID, "nonce", last.Nonce, "deadline", tx.Deadline)
	m.status.change(ctx, tx, models.TransactionStatusCancelling)

	replacement := ReplacementFee(last, fee)
	err := m.submitter.Submit(ctx, tx, SubmitParams{
		Type:                 models.AttemptTypeCancellation,
		Nonce:                last.Nonce,
		MaxFeePerGas:         replacement.MaxFeePerGas,
		MaxPriorityFeePerGas: replacement.MaxPriorityFeePerGas,
	})
	if err != nil {
		m.log.Warn("failed to submit cancellation", "intent_id", tx.IntentID, "error", err)
		m.bus.Publish(ctx, submissionFailedEvent(tx, err))
	}
}

// handleStuck bumps the fee of an attempt priced below the market, and
// otherwise rebroadcasts it unchanged
func (m *TransactionMonitor) handleStuck(ctx context.Context, tx *models.Transaction, last models.Attempt, fee GasSuggestion) {
	if !m.shouldReplace(last) {
		if err := m.submitter.RetryAttempt(ctx, tx, last); err != nil {
			m.log.Debug("failed to resend attempt", "intent_id", tx.IntentID, "hash", last.Hash, "error", err)
		}
		return
	}

	replacement := ReplacementFee(last, fee)
	m.log.Info("replacing underpriced attempt", "intent_id", tx.IntentID, "nonce", last.Nonce,
		"max_fee", replacement.MaxFeePerGas, "tip", replacement.MaxPriorityFeePerGas)
	err := m.submitter.Submit(ctx, tx, SubmitParams{
		Type:                 last.Type,
		Nonce:                last.Nonce,
		MaxFeePerGas:         replacement.MaxFeePerGas,
		MaxPriorityFeePerGas: replacement.MaxPriorityFeePerGas,
		Gas:                  last.Gas,
	})
	if err != nil {
		m.log.Warn("failed to submit replacement", "intent_id", tx.IntentID, "error", err)
		m.bus.Publish(ctx, submissionFailedEvent(tx, err))
	}
}

// shouldReplace reports whether the attempt can no longer compete for the next block
func (m *TransactionMonitor) shouldReplace(a models.Attempt) bool {
	if a.MaxPriorityFeePerGas.Cmp(m.oracle.TargetPriorityFee()) < 0 {
		return true
	}
	baseFeeBudget := new(big.Int).Sub(a.MaxFeePerGas, a.MaxPriorityFeePerGas)
	return baseFeeBudget.Cmp(m.oracle.ExpectedNextBaseFee()) < 0
}

func (m *TransactionMonitor) handleNotAttempted(ctx context.Context, block models.Block, tx *models.Transaction, fee GasSuggestion) {
	if tx.IsExpired(block, m.blockTime) {
		m.log.Info("transaction expired before first attempt", "intent_id", tx.IntentID, "deadline", tx.Deadline)
		m.status.change(ctx, tx, models.TransactionStatusExpired)
		return
	}
	submitFresh(ctx, m.nonces, m.submitter, m.bus, m.log, tx, fee)
}

// ReplacementFee returns fees at least replacementBumpPercent above the
// previous attempt and never below the market suggestion
func ReplacementFee(previous models.Attempt, market GasSuggestion) GasSuggestion {
	return GasSuggestion{
		MaxFeePerGas:         maxBig(bump(previous.MaxFeePerGas), market.MaxFeePerGas),
		MaxPriorityFeePerGas: maxBig(bump(previous.MaxPriorityFeePerGas), market.MaxPriorityFeePerGas),
	}
}

// bump rounds up so small values still increase
func bump(v *big.Int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(100+replacementBumpPercent))
	out.Add(out, big.NewInt(99))
	return out.Div(out, big.NewInt(100))
}

func maxBig(a, b *big.Int) *big.Int {
	if b != nil && a.Cmp(b) < 0 {
		return new(big.Int).Set(b)
	}
	return new(big.Int).Set(a)
}
