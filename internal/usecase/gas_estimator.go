package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// SimulationGasEstimator estimates gas by simulating the call on the node
type SimulationGasEstimator struct {
	client ChainClient
	abis   ABIRegistry
}

// NewSimulationGasEstimator creates the default gas estimator
func NewSimulationGasEstimator(client ChainClient, abis ABIRegistry) *SimulationGasEstimator {
	return &SimulationGasEstimator{client: client, abis: abis}
}

// EstimateGas simulates tx from its sender against the latest state
func (e *SimulationGasEstimator) EstimateGas(ctx context.Context, tx *models.Transaction) (uint64, error) {
	data, err := resolveCalldata(e.abis, tx)
	if err != nil {
		return 0, &domain.EstimateGasError{
			Cause:       domain.EstimateGasABINotFound,
			Description: err.Error(),
			Err:         err,
		}
	}

	to := tx.To
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  tx.From,
		To:    &to,
		Value: tx.Value,
		Data:  data,
	})
	if err != nil {
		cause := domain.EstimateGasClientError
		if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
			cause = domain.EstimateGasExecutionError
		}
		return 0, &domain.EstimateGasError{Cause: cause, Description: err.Error(), Err: err}
	}
	return gas, nil
}

// resolveCalldata returns the raw calldata or encodes the ABI call
func resolveCalldata(abis ABIRegistry, tx *models.Transaction) ([]byte, error) {
	if tx.ContractName == "" {
		return tx.Calldata, nil
	}
	if abis == nil {
		return nil, fmt.Errorf("%s: %w", tx.ContractName, domain.ErrABINotFound)
	}
	data, err := abis.Encode(tx.ContractName, tx.FunctionName, tx.Args)
	if err != nil {
		if errors.Is(err, domain.ErrABINotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to encode %s.%s: %w", tx.ContractName, tx.FunctionName, err)
	}
	return data, nil
}

var _ GasEstimator = (*SimulationGasEstimator)(nil)
