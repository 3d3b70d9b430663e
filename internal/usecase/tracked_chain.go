package usecase

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trebuchet-org/txm/internal/domain"
)

// CallTracker receives the outcome of every chain call
type CallTracker interface {
	TrackSuccess()
	TrackError()
}

// TrackedChainClient reports the outcome of every call it forwards to the
// liveness monitor and metrics. A "not found" answer counts as a success,
// calls abandoned by their caller are not counted.
type TrackedChainClient struct {
	inner   ChainClient
	tracker CallTracker
	metrics Metrics
}

// NewTrackedChainClient wraps inner
func NewTrackedChainClient(inner ChainClient, tracker CallTracker, metrics Metrics) *TrackedChainClient {
	return &TrackedChainClient{inner: inner, tracker: tracker, metrics: metrics}
}

func (c *TrackedChainClient) record(ctx context.Context, method string, start time.Time, err error) {
	if err != nil && ctx.Err() != nil {
		return
	}
	if errors.Is(err, ethereum.NotFound) {
		err = nil
	}
	c.metrics.ObserveRPC(method, time.Since(start), err)
	if err != nil {
		c.tracker.TrackError()
	} else {
		c.tracker.TrackSuccess()
	}
}

func (c *TrackedChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := c.inner.ChainID(ctx)
	c.record(ctx, "eth_chainId", start, err)
	return id, err
}

func (c *TrackedChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	start := time.Now()
	header, err := c.inner.HeaderByNumber(ctx, number)
	c.record(ctx, "eth_getBlockByNumber", start, err)
	return header, err
}

func (c *TrackedChainClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	start := time.Now()
	sub, err := c.inner.SubscribeNewHead(ctx, ch)
	// unsupported subscriptions fall back to polling, not a node failure
	if errors.Is(err, domain.ErrSubscriptionsUnsupported) {
		return nil, err
	}
	c.record(ctx, "eth_subscribe", start, err)
	return sub, err
}

func (c *TrackedChainClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.inner.TransactionReceipt(ctx, hash)
	c.record(ctx, "eth_getTransactionReceipt", start, err)
	return receipt, err
}

func (c *TrackedChainClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	start := time.Now()
	nonce, err := c.inner.NonceAt(ctx, account, blockNumber)
	c.record(ctx, "eth_getTransactionCount", start, err)
	return nonce, err
}

func (c *TrackedChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	start := time.Now()
	gas, err := c.inner.EstimateGas(ctx, msg)
	// a reverting simulation is a healthy node answer
	if err != nil && isExecutionError(err) {
		c.record(ctx, "eth_estimateGas", start, nil)
		return gas, err
	}
	c.record(ctx, "eth_estimateGas", start, err)
	return gas, err
}

func (c *TrackedChainClient) FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	start := time.Now()
	history, err := c.inner.FeeHistory(ctx, blockCount, lastBlock, rewardPercentiles)
	c.record(ctx, "eth_feeHistory", start, err)
	return history, err
}

func (c *TrackedChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	start := time.Now()
	err := c.inner.SendTransaction(ctx, tx)
	// the node answered, it just refused the transaction
	if err != nil && isRejection(err) {
		c.record(ctx, "eth_sendRawTransaction", start, nil)
		return err
	}
	c.record(ctx, "eth_sendRawTransaction", start, err)
	return err
}

func (c *TrackedChainClient) TraceTransaction(ctx context.Context, hash common.Hash) (*domain.CallFrame, error) {
	start := time.Now()
	frame, err := c.inner.TraceTransaction(ctx, hash)
	if errors.Is(err, domain.ErrTracingUnavailable) {
		return nil, err
	}
	c.record(ctx, "debug_traceTransaction", start, err)
	return frame, err
}

var _ ChainClient = (*TrackedChainClient)(nil)
