package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

const finalizedCacheSize = 1024

// TransactionRepository keeps every not-finalized transaction of the signing
// address in memory and reads finalized ones from the store
type TransactionRepository struct {
	store   TransactionStore
	address common.Address
	purge   config.PurgeConfig
	metrics Metrics
	log     *slog.Logger

	mu           sync.RWMutex
	notFinalized []*models.Transaction
	finalized    *lru.Cache[uuid.UUID, *models.Transaction]

	// saveMu orders snapshots with their writes so an older snapshot of a
	// row never lands after a newer one
	saveMu sync.Mutex

	purging   atomic.Bool
	lastPurge atomic.Int64
}

// NewTransactionRepository creates a repository for address
func NewTransactionRepository(store TransactionStore, address common.Address, purge config.PurgeConfig, metrics Metrics, log *slog.Logger) (*TransactionRepository, error) {
	finalized, err := lru.New[uuid.UUID, *models.Transaction](finalizedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &TransactionRepository{
		store:     store,
		address:   address,
		purge:     purge,
		metrics:   metrics,
		log:       log.With("component", "TransactionRepository"),
		finalized: finalized,
	}, nil
}

// Start loads the not-finalized transactions into memory
func (r *TransactionRepository) Start(ctx context.Context) error {
	start := time.Now()
	records, err := r.store.List(ctx, r.address, models.NotFinalizedStatuses)
	r.metrics.ObserveStore("list", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}

	txs := make([]*models.Transaction, 0, len(records))
	for _, rec := range records {
		tx, err := models.FromRecord(rec)
		if err != nil {
			return fmt.Errorf("failed to load transaction %s: %w", rec.IntentID, err)
		}
		txs = append(txs, tx)
	}

	r.mu.Lock()
	r.notFinalized = txs
	r.mu.Unlock()

	r.metrics.SetNotFinalized(len(txs))
	r.log.Info("loaded not finalized transactions", "count", len(txs))
	return nil
}

// GetTransaction looks the transaction up in memory, then in the store
func (r *TransactionRepository) GetTransaction(ctx context.Context, intentID uuid.UUID) (*models.Transaction, error) {
	r.mu.RLock()
	tx, found := lo.Find(r.notFinalized, func(tx *models.Transaction) bool {
		return tx.IntentID == intentID
	})
	r.mu.RUnlock()
	if found {
		return tx, nil
	}
	if tx, ok := r.finalized.Get(intentID); ok {
		return tx, nil
	}

	start := time.Now()
	rec, err := r.store.Get(ctx, intentID)
	r.metrics.ObserveStore("get", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	tx, err = models.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	if !tx.Status().IsNotFinalized() {
		r.finalized.Add(intentID, tx)
	}
	return tx, nil
}

// ListTransactions reads every stored transaction of the signing address,
// restricted to statuses when non-empty
func (r *TransactionRepository) ListTransactions(ctx context.Context, statuses []models.TransactionStatus) ([]*models.Transaction, error) {
	start := time.Now()
	records, err := r.store.List(ctx, r.address, statuses)
	r.metrics.ObserveStore("list", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	txs := make([]*models.Transaction, 0, len(records))
	for _, rec := range records {
		tx, err := models.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// NotFinalizedTransactions returns the in-memory transactions
func (r *TransactionRepository) NotFinalizedTransactions() []*models.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.Transaction(nil), r.notFinalized...)
}

// GetNotFinalizedTransactionsOlderThan returns the in-memory transactions
// collected before blockNumber
func (r *TransactionRepository) GetNotFinalizedTransactionsOlderThan(blockNumber uint64) []*models.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.notFinalized, func(tx *models.Transaction, _ int) bool {
		return tx.CollectionBlock() < blockNumber
	})
}

// SaveTransactions writes every transaction that needs a flush in one atomic
// store operation. Flush flags are only cleared when the write succeeds.
func (r *TransactionRepository) SaveTransactions(ctx context.Context, txs []*models.Transaction) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	var (
		inserts, updates []models.TransactionRecord
		flushed          []*models.Transaction
		versions         []uint64
	)
	for _, tx := range txs {
		if !tx.NeedsFlush() {
			continue
		}
		rec, err := tx.ToRecord()
		if err != nil {
			return fmt.Errorf("failed to serialize transaction %s: %w", tx.IntentID, err)
		}
		if tx.IsPersisted() {
			updates = append(updates, rec)
		} else {
			inserts = append(inserts, rec)
		}
		flushed = append(flushed, tx)
		versions = append(versions, rec.Version)
	}
	if len(flushed) == 0 {
		return nil
	}

	start := time.Now()
	err := r.store.Save(ctx, inserts, updates)
	r.metrics.ObserveStore("save", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save %d transactions: %w", len(flushed), err)
	}

	for i, tx := range flushed {
		tx.MarkFlushed(versions[i])
	}
	r.refreshCache(flushed)
	return nil
}

// refreshCache drops finalized transactions from memory and adds new not-finalized ones
func (r *TransactionRepository) refreshCache(saved []*models.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[uuid.UUID]struct{}, len(r.notFinalized))
	kept := r.notFinalized[:0:0]
	for _, tx := range r.notFinalized {
		if tx.Status().IsNotFinalized() {
			kept = append(kept, tx)
			known[tx.IntentID] = struct{}{}
		} else {
			r.finalized.Add(tx.IntentID, tx)
		}
	}
	for _, tx := range saved {
		if _, ok := known[tx.IntentID]; ok {
			continue
		}
		if tx.Status().IsNotFinalized() {
			kept = append(kept, tx)
			known[tx.IntentID] = struct{}{}
		} else {
			r.finalized.Add(tx.IntentID, tx)
		}
	}
	r.notFinalized = kept
	r.metrics.SetNotFinalized(len(kept))
}

// GetHighestNonce returns the highest nonce used by any stored attempt
func (r *TransactionRepository) GetHighestNonce(ctx context.Context) (uint64, bool, error) {
	nonces, err := r.storedNonces(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(nonces) == 0 {
		return 0, false, nil
	}
	return lo.Max(lo.Keys(nonces)), true, nil
}

// GetNotReservedNoncesInRange returns the nonces in [from, to] that no stored attempt uses
func (r *TransactionRepository) GetNotReservedNoncesInRange(ctx context.Context, from, to uint64) ([]uint64, error) {
	nonces, err := r.storedNonces(ctx)
	if err != nil {
		return nil, err
	}
	var free []uint64
	for n := from; n <= to; n++ {
		if _, used := nonces[n]; !used {
			free = append(free, n)
		}
	}
	return free, nil
}

func (r *TransactionRepository) storedNonces(ctx context.Context) (map[uint64]struct{}, error) {
	records, err := r.store.List(ctx, r.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored transactions: %w", err)
	}
	nonces := make(map[uint64]struct{})
	for _, rec := range records {
		for _, a := range rec.Attempts {
			nonces[a.Nonce] = struct{}{}
		}
	}
	return nonces, nil
}

// PurgeFinalizedTransactions deletes finalized transactions older than the purge age
func (r *TransactionRepository) PurgeFinalizedTransactions(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.purge.Age)

	start := time.Now()
	deleted, err := r.store.DeleteFinalizedBefore(ctx, r.address, cutoff)
	r.metrics.ObserveStore("purge", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to purge transactions: %w", err)
	}

	for _, id := range r.finalized.Keys() {
		if tx, ok := r.finalized.Peek(id); ok && tx.UpdatedAt().Before(cutoff) {
			r.finalized.Remove(id)
		}
	}
	r.lastPurge.Store(time.Now().UnixNano())
	if deleted > 0 {
		r.log.Info("purged finalized transactions", "count", deleted)
	}
	return deleted, nil
}

// OnNewBlock starts a background purge when one is due
func (r *TransactionRepository) OnNewBlock(ctx context.Context, _ models.Block) error {
	if r.purge.Age <= 0 {
		return nil
	}
	if last := r.lastPurge.Load(); last != 0 && time.Since(time.Unix(0, last)) < r.purge.Interval {
		return nil
	}
	if !r.purging.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		defer r.purging.Store(false)
		if _, err := r.PurgeFinalizedTransactions(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("purge failed", "error", err)
		}
	}()
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
