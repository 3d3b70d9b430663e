package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceHistory exposes the nonces already attached to stored attempts
type NonceHistory interface {
	GetHighestNonce(ctx context.Context) (uint64, bool, error)
	GetNotReservedNoncesInRange(ctx context.Context, from, to uint64) ([]uint64, error)
}

// NonceManager hands out sequential nonces for the signing address and
// recycles the ones that were reserved but never broadcast
type NonceManager struct {
	client  ChainClient
	history NonceHistory
	address common.Address
	metrics Metrics
	log     *slog.Logger

	mu       sync.Mutex
	next     uint64
	returned []uint64
	// executed is the chain transaction count at the last resync
	executed uint64
}

// NewNonceManager creates a nonce manager for address
func NewNonceManager(client ChainClient, history NonceHistory, address common.Address, metrics Metrics, log *slog.Logger) *NonceManager {
	return &NonceManager{
		client:  client,
		history: history,
		address: address,
		metrics: metrics,
		log:     log.With("component", "NonceManager"),
	}
}

// Start reconciles the chain transaction count with the stored attempts.
// Nonces between the chain count and the highest stored nonce that no stored
// attempt uses are queued for reuse.
func (n *NonceManager) Start(ctx context.Context) error {
	chainCount, err := n.client.NonceAt(ctx, n.address, nil)
	if err != nil {
		return fmt.Errorf("failed to read transaction count: %w", err)
	}

	highest, found, err := n.history.GetHighestNonce(ctx)
	if err != nil {
		return fmt.Errorf("failed to read highest stored nonce: %w", err)
	}

	var returned []uint64
	next := chainCount
	if found && highest >= chainCount {
		next = highest + 1
		returned, err = n.history.GetNotReservedNoncesInRange(ctx, chainCount, highest)
		if err != nil {
			return fmt.Errorf("failed to read reserved nonces: %w", err)
		}
		slices.Sort(returned)
	}

	n.mu.Lock()
	n.next = next
	n.returned = returned
	n.executed = chainCount
	n.mu.Unlock()

	n.metrics.SetNextNonce(next)
	n.log.Info("nonce manager started", "address", n.address, "chain_count", chainCount, "next", next, "recovered", len(returned))
	return nil
}

// RequestNonce reserves a nonce, preferring returned ones
func (n *NonceManager) RequestNonce() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.returned) > 0 {
		nonce := n.returned[0]
		n.returned = n.returned[1:]
		return nonce
	}
	nonce := n.next
	n.next++
	n.metrics.SetNextNonce(n.next)
	return nonce
}

// ReturnNonce gives back a reservation that was never broadcast
func (n *NonceManager) ReturnNonce(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if nonce < n.executed || nonce >= n.next {
		n.log.Warn("ignoring returned nonce outside reserved range", "nonce", nonce, "executed", n.executed, "next", n.next)
		return
	}
	i, found := slices.BinarySearch(n.returned, nonce)
	if found {
		return
	}
	n.returned = slices.Insert(n.returned, i, nonce)
	n.metrics.IncReturnedNonces()
}

// Resync refreshes the executed watermark from the chain. The counter never
// moves backwards and returned nonces the chain already consumed are dropped.
func (n *NonceManager) Resync(ctx context.Context) error {
	chainCount, err := n.client.NonceAt(ctx, n.address, nil)
	if err != nil {
		return fmt.Errorf("failed to resync nonce: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.executed = max(n.executed, chainCount)
	if chainCount > n.next {
		n.log.Warn("chain nonce ahead of local counter", "chain_count", chainCount, "next", n.next)
		n.next = chainCount
		n.metrics.SetNextNonce(n.next)
	}
	n.returned = slices.DeleteFunc(n.returned, func(nonce uint64) bool {
		return nonce < chainCount
	})
	return nil
}

// ExecutedCount is the chain transaction count seen at the last resync.
// Nonces below it have been consumed onchain.
func (n *NonceManager) ExecutedCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.executed
}

// ReturnedNonces returns a copy of the reuse queue
func (n *NonceManager) ReturnedNonces() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.returned)
}
