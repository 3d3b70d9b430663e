package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// CancellationGas is the gas limit of a zero-value self transfer
const CancellationGas uint64 = 21000

// SubmitParams describes the attempt to build
type SubmitParams struct {
	Type                 models.AttemptType
	Nonce                uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	// Gas reuses a known limit; zero means the transaction's fixed gas or an estimate
	Gas uint64
}

// TransactionSubmitter builds, signs, persists and broadcasts single attempts
type TransactionSubmitter struct {
	client    ChainClient
	signer    Signer
	chainID   *big.Int
	repo      *TransactionRepository
	nonces    *NonceManager
	estimator GasEstimator
	abis      ABIRegistry
	status    *StatusNotifier
	log       *slog.Logger
}

// NewTransactionSubmitter creates a submitter
func NewTransactionSubmitter(
	client ChainClient,
	signer Signer,
	chainID uint64,
	repo *TransactionRepository,
	nonces *NonceManager,
	estimator GasEstimator,
	abis ABIRegistry,
	status *StatusNotifier,
	log *slog.Logger,
) *TransactionSubmitter {
	return &TransactionSubmitter{
		client:    client,
		signer:    signer,
		chainID:   new(big.Int).SetUint64(chainID),
		repo:      repo,
		nonces:    nonces,
		estimator: estimator,
		abis:      abis,
		status:    status,
		log:       log.With("component", "TransactionSubmitter"),
	}
}

// Submit builds a new attempt for tx, makes it durable and broadcasts it.
// Errors are *domain.SubmissionError; Flushed tells whether the nonce is
// now owned by a stored attempt.
func (s *TransactionSubmitter) Submit(ctx context.Context, tx *models.Transaction, p SubmitParams) error {
	unsigned, err := s.build(ctx, tx, p)
	if err != nil {
		return err
	}

	signed, err := s.signer.SignTx(unsigned, s.chainID)
	if err != nil {
		return &domain.SubmissionError{
			Cause:       domain.CauseFailedToSignTransaction,
			Description: "failed to sign transaction",
			Err:         err,
		}
	}

	attempt := models.Attempt{
		Type:                 p.Type,
		Hash:                 signed.Hash(),
		Nonce:                p.Nonce,
		MaxFeePerGas:         new(big.Int).Set(p.MaxFeePerGas),
		MaxPriorityFeePerGas: new(big.Int).Set(p.MaxPriorityFeePerGas),
		Gas:                  signed.Gas(),
	}

	from := tx.Status()
	promoted, err := tx.AddAttempt(attempt)
	if err != nil {
		return &domain.SubmissionError{
			Cause:       domain.CauseFailedToUpdate,
			Description: "failed to add attempt",
			Err:         err,
		}
	}

	// the attempt must be durable before anyone can see it onchain
	if err := s.repo.SaveTransactions(ctx, []*models.Transaction{tx}); err != nil {
		tx.RemoveAttempt(attempt.Hash, promoted)
		return &domain.SubmissionError{
			Cause:       domain.CauseFailedToUpdate,
			Description: "failed to persist attempt",
			Err:         err,
		}
	}
	if promoted {
		s.status.announce(ctx, tx, from)
	}

	log := s.log.With("intent_id", tx.IntentID, "nonce", attempt.Nonce, "hash", attempt.Hash, "type", attempt.Type)
	if err := s.send(ctx, signed); err != nil {
		log.Warn("failed to broadcast attempt", "error", err)
		return &domain.SubmissionError{
			Cause:       domain.CauseFailedToSendRawTransaction,
			Description: "failed to send raw transaction",
			Flushed:     true,
			Err:         err,
		}
	}
	log.Debug("attempt broadcast", "max_fee", attempt.MaxFeePerGas, "tip", attempt.MaxPriorityFeePerGas, "gas", attempt.Gas)
	return nil
}

// RetryAttempt re-signs attempt unchanged and broadcasts it again. Signing is
// deterministic, so the hash matches the stored attempt.
func (s *TransactionSubmitter) RetryAttempt(ctx context.Context, tx *models.Transaction, attempt models.Attempt) error {
	unsigned, err := s.build(ctx, tx, SubmitParams{
		Type:                 attempt.Type,
		Nonce:                attempt.Nonce,
		MaxFeePerGas:         attempt.MaxFeePerGas,
		MaxPriorityFeePerGas: attempt.MaxPriorityFeePerGas,
		Gas:                  attempt.Gas,
	})
	if err != nil {
		return err
	}
	signed, err := s.signer.SignTx(unsigned, s.chainID)
	if err != nil {
		return &domain.SubmissionError{
			Cause:       domain.CauseFailedToSignTransaction,
			Description: "failed to sign transaction",
			Flushed:     true,
			Err:         err,
		}
	}
	if signed.Hash() != attempt.Hash {
		s.log.Warn("resent attempt hash differs from stored attempt", "intent_id", tx.IntentID, "stored", attempt.Hash, "resent", signed.Hash())
	}
	if err := s.send(ctx, signed); err != nil {
		return &domain.SubmissionError{
			Cause:       domain.CauseFailedToSendRawTransaction,
			Description: "failed to resend attempt",
			Flushed:     true,
			Err:         err,
		}
	}
	return nil
}

func (s *TransactionSubmitter) send(ctx context.Context, signed *types.Transaction) error {
	err := s.client.SendTransaction(ctx, signed)
	switch {
	case err == nil, isAlreadyKnown(err):
		return nil
	case isNonceTooLow(err):
		if rerr := s.nonces.Resync(ctx); rerr != nil {
			s.log.Warn("failed to resync nonce", "error", rerr)
		}
	}
	return err
}

func (s *TransactionSubmitter) build(ctx context.Context, tx *models.Transaction, p SubmitParams) (*types.Transaction, error) {
	if p.Type == models.AttemptTypeCancellation {
		self := s.signer.Address()
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     p.Nonce,
			GasTipCap: p.MaxPriorityFeePerGas,
			GasFeeCap: p.MaxFeePerGas,
			Gas:       CancellationGas,
			To:        &self,
			Value:     new(big.Int),
		}), nil
	}

	data, err := resolveCalldata(s.abis, tx)
	if err != nil {
		cause := domain.CauseFailedToEncodeCalldata
		if errors.Is(err, domain.ErrABINotFound) {
			cause = domain.CauseABINotFound
		}
		return nil, &domain.SubmissionError{Cause: cause, Description: err.Error(), Err: err}
	}

	gas := p.Gas
	if gas == 0 {
		gas = tx.Gas
	}
	if gas == 0 {
		gas, err = s.estimator.EstimateGas(ctx, tx)
		if err != nil {
			var estErr *domain.EstimateGasError
			if errors.As(err, &estErr) && estErr.Cause == domain.EstimateGasABINotFound {
				return nil, &domain.SubmissionError{Cause: domain.CauseABINotFound, Description: estErr.Description, Err: err}
			}
			return nil, &domain.SubmissionError{
				Cause:       domain.CauseFailedToEstimateGas,
				Description: fmt.Sprintf("failed to estimate gas: %v", err),
				Err:         err,
			}
		}
	}

	to := tx.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     p.Nonce,
		GasTipCap: p.MaxPriorityFeePerGas,
		GasFeeCap: p.MaxFeePerGas,
		Gas:       gas,
		To:        &to,
		Value:     tx.Value,
		Data:      data,
	}), nil
}
