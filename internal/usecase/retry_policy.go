package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// OutOfGasRetryPolicy retries a reverted transaction only when it ran out of gas
type OutOfGasRetryPolicy struct {
	client     ChainClient
	allowDebug bool
	log        *slog.Logger
}

// NewOutOfGasRetryPolicy creates the default retry policy. With allowDebug the
// revert is classified from the call trace, otherwise from the gas used.
func NewOutOfGasRetryPolicy(client ChainClient, allowDebug bool, log *slog.Logger) *OutOfGasRetryPolicy {
	return &OutOfGasRetryPolicy{
		client:     client,
		allowDebug: allowDebug,
		log:        log.With("component", "RetryPolicy"),
	}
}

func (p *OutOfGasRetryPolicy) ShouldRetry(ctx context.Context, tx *models.Transaction, attempt models.Attempt, receipt *types.Receipt) bool {
	if p.allowDebug {
		frame, err := p.client.TraceTransaction(ctx, receipt.TxHash)
		switch {
		case err == nil:
			return frame.ContainsError("out of gas")
		case errors.Is(err, domain.ErrTracingUnavailable):
		default:
			p.log.Warn("failed to trace reverted transaction", "intent_id", tx.IntentID, "hash", receipt.TxHash, "error", err)
		}
	}
	return receipt.GasUsed == attempt.Gas
}

var _ RetryPolicy = (*OutOfGasRetryPolicy)(nil)
