package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jpillora/backoff"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// Backend is the part of ethclient used by Client. Both *ethclient.Client and
// the simulated backend client implement it.
type Backend interface {
	ethereum.ChainIDReader
	ethereum.ChainReader
	ethereum.TransactionReader
	ethereum.ChainStateReader
	ethereum.GasEstimator
	ethereum.FeeHistoryReader
	ethereum.TransactionSender
}

// Client implements usecase.ChainClient on top of ethclient. Every call runs
// under the configured timeout; idempotent reads are retried with backoff.
type Client struct {
	eth Backend
	raw *rpc.Client
	cfg config.RPCConfig
}

// Dial connects to the configured endpoint
func Dial(ctx context.Context, cfg config.RPCConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rpc url is not configured")
	}
	raw, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewClient(ethclient.NewClient(raw), raw, cfg), nil
}

// NewClient wraps an existing backend. raw may be nil, in which case
// transaction tracing is unavailable.
func NewClient(eth Backend, raw *rpc.Client, cfg config.RPCConfig) *Client {
	return &Client{eth: eth, raw: raw, cfg: cfg}
}

// Close releases the underlying connection
func (c *Client) Close() {
	if c.raw != nil {
		c.raw.Close()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// read runs an idempotent call, retrying transport failures
func read[T any](ctx context.Context, c *Client, call func(ctx context.Context) (T, error)) (T, error) {
	b := &backoff.Backoff{
		Min:    c.cfg.RetryDelay,
		Max:    c.cfg.RetryDelay * 8,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 0; ; attempt++ {
		callCtx, cancel := c.withTimeout(ctx)
		v, err := call(callCtx)
		cancel()
		if err == nil || !retryable(ctx, err) || attempt >= c.cfg.Retries {
			return v, err
		}
		select {
		case <-ctx.Done():
			return v, err
		case <-time.After(b.Duration()):
		}
	}
}

// retryable reports whether err looks like a transient transport failure
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ethereum.NotFound) || errors.Is(err, domain.ErrTracingUnavailable) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return read(ctx, c, c.eth.ChainID)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return read(ctx, c, func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
}

// SubscribeNewHead subscribes to new heads. HTTP endpoints report
// domain.ErrSubscriptionsUnsupported.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := c.eth.SubscribeNewHead(ctx, ch)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscriptionsUnsupported, err)
	}
	return sub, err
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return read(ctx, c, func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, hash)
	})
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return read(ctx, c, func(ctx context.Context) (uint64, error) {
		return c.eth.NonceAt(ctx, account, blockNumber)
	})
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return read(ctx, c, func(ctx context.Context) (uint64, error) {
		return c.eth.EstimateGas(ctx, msg)
	})
}

func (c *Client) FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	return read(ctx, c, func(ctx context.Context) (*ethereum.FeeHistory, error) {
		return c.eth.FeeHistory(ctx, blockCount, lastBlock, rewardPercentiles)
	})
}

// SendTransaction broadcasts once. Resending is the monitor's decision.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.eth.SendTransaction(ctx, tx)
}

// TraceTransaction replays hash with the call tracer
func (c *Client) TraceTransaction(ctx context.Context, hash common.Hash) (*domain.CallFrame, error) {
	if c.raw == nil {
		return nil, domain.ErrTracingUnavailable
	}
	return read(ctx, c, func(ctx context.Context) (*domain.CallFrame, error) {
		var frame domain.CallFrame
		err := c.raw.CallContext(ctx, &frame, "debug_traceTransaction", hash, map[string]any{"tracer": "callTracer"})
		if err != nil {
			if isMethodUnavailable(err) {
				return nil, fmt.Errorf("%w: %v", domain.ErrTracingUnavailable, err)
			}
			return nil, err
		}
		return &frame, nil
	})
}

func isMethodUnavailable(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32601 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "not available")
}

var _ usecase.ChainClient = (*Client)(nil)
