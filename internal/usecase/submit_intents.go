package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trebuchet-org/txm/internal/domain/models"
)

// SubmitIntentsParams contains parameters for submitting an intents file
type SubmitIntentsParams struct {
	Path string
	Wait bool
}

// SubmitIntentsResult contains the submitted transactions
type SubmitIntentsResult struct {
	Transactions []*models.Transaction
	// Finalized is false when the caller did not wait or the wait was interrupted
	Finalized bool
}

// SubmitIntents loads intents from a file and hands them to a running manager
type SubmitIntents struct {
	manager  *TransactionManager
	source   IntentSource
	progress ProgressSink
	log      *slog.Logger
}

// NewSubmitIntents creates a new SubmitIntents use case
func NewSubmitIntents(manager *TransactionManager, source IntentSource, progress ProgressSink, log *slog.Logger) *SubmitIntents {
	return &SubmitIntents{
		manager:  manager,
		source:   source,
		progress: progress,
		log:      log.With("component", "SubmitIntents"),
	}
}

func (uc *SubmitIntents) build(path string) ([]*models.Transaction, error) {
	params, err := uc.source.Load(path)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no transactions in %s", path)
	}

	txs := make([]*models.Transaction, 0, len(params))
	for i, p := range params {
		tx, err := uc.manager.CreateTransaction(p)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Run submits every intent in the file directly and optionally waits for
// all of them to finalize. The manager must be started.
func (uc *SubmitIntents) Run(ctx context.Context, params SubmitIntentsParams) (*SubmitIntentsResult, error) {
	txs, err := uc.build(params.Path)
	if err != nil {
		return nil, err
	}

	uc.progress.OnProgress(ctx, ProgressEvent{Stage: "submitting", Total: len(txs), Message: fmt.Sprintf("Submitting %d transactions", len(txs)), Spinner: true})
	if err := uc.manager.SendTransactions(ctx, txs); err != nil {
		uc.progress.OnProgress(ctx, ProgressEvent{Stage: "submitting", Total: len(txs)})
		return nil, err
	}
	uc.log.Info("submitted intents", "path", params.Path, "count", len(txs))

	result := &SubmitIntentsResult{Transactions: txs}
	if !params.Wait {
		uc.progress.OnProgress(ctx, ProgressEvent{Stage: "submitted", Current: len(txs), Total: len(txs)})
		return result, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		uc.progress.OnProgress(ctx, ProgressEvent{
			Stage:   "waiting",
			Current: done,
			Total:   len(txs),
			Message: fmt.Sprintf("Waiting for finalization (%d/%d)", done, len(txs)),
			Spinner: done < len(txs),
		})
	}
	report()

	var wg sync.WaitGroup
	for _, tx := range txs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tx.WaitForFinalization(ctx); err != nil {
				return
			}
			mu.Lock()
			done++
			mu.Unlock()
			report()
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		uc.progress.OnProgress(ctx, ProgressEvent{Stage: "waiting", Current: done, Total: len(txs)})
		return result, fmt.Errorf("stopped waiting for finalization: %w", err)
	}
	result.Finalized = true
	return result, nil
}

// Queue registers an originator that hands the file's intents to the
// collector on the next block, once
func (uc *SubmitIntents) Queue(path string) (int, error) {
	txs, err := uc.build(path)
	if err != nil {
		return 0, err
	}

	var once sync.Once
	uc.manager.AddOriginator(func(context.Context, models.Block) ([]*models.Transaction, error) {
		var batch []*models.Transaction
		once.Do(func() { batch = txs })
		return batch, nil
	})
	uc.log.Info("queued intents", "path", path, "count", len(txs))
	return len(txs), nil
}
