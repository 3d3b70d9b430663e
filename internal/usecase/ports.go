package usecase

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// ChainClient is the subset of the node RPC the manager uses
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	// TraceTransaction runs debug_traceTransaction with the call tracer.
	// Returns domain.ErrTracingUnavailable when debug calls are disabled.
	TraceTransaction(ctx context.Context, hash common.Hash) (*domain.CallFrame, error)
}

// Signer holds the single signing key of a manager instance
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// TransactionStore persists transaction rows
type TransactionStore interface {
	// List returns the rows sent from address, restricted to statuses when non-empty
	List(ctx context.Context, from common.Address, statuses []models.TransactionStatus) ([]models.TransactionRecord, error)
	// Get returns domain.ErrNotFound for unknown ids
	Get(ctx context.Context, intentID uuid.UUID) (models.TransactionRecord, error)
	// Save writes all inserts and updates atomically. Inserting an existing
	// id fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, inserts, updates []models.TransactionRecord) error
	// DeleteFinalizedBefore removes rows from address in a terminal status
	// last updated before the cutoff
	DeleteFinalizedBefore(ctx context.Context, from common.Address, before time.Time) (int, error)
	Close() error
}

// ABIRegistry resolves ABI aliases to calldata
type ABIRegistry interface {
	// Encode packs a call. Unknown aliases wrap domain.ErrABINotFound.
	Encode(contractName, functionName string, args []any) ([]byte, error)
	Has(contractName string) bool
}

// GasSuggestion is a fee pair for the next block
type GasSuggestion struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasPriceOracle maintains fee suggestions from recent blocks
type GasPriceOracle interface {
	Start(ctx context.Context) error
	OnNewBlock(ctx context.Context, block models.Block) error
	SuggestGasForNextBlock() GasSuggestion
	ExpectedNextBaseFee() *big.Int
	TargetPriorityFee() *big.Int
}

// GasEstimator decides the gas limit of an attempt. Failures are returned
// as *domain.EstimateGasError and never retried internally.
type GasEstimator interface {
	EstimateGas(ctx context.Context, tx *models.Transaction) (uint64, error)
}

// RetryPolicy decides whether a reverted transaction gets a fresh nonce
type RetryPolicy interface {
	ShouldRetry(ctx context.Context, tx *models.Transaction, attempt models.Attempt, receipt *types.Receipt) bool
}

// Originator produces new transactions for a block
type Originator func(ctx context.Context, block models.Block) ([]*models.Transaction, error)

// HookHandler receives events from the hook API
type HookHandler func(ctx context.Context, event domain.Event) error

// IntentSource loads transaction intents from an external description
type IntentSource interface {
	Load(path string) ([]models.TransactionParams, error)
}

// Metrics records operational measurements
type Metrics interface {
	ObserveRPC(method string, duration time.Duration, err error)
	SetRPCAlive(alive bool)
	SetLatestBlock(number uint64)
	SetNextNonce(nonce uint64)
	IncReturnedNonces()
	AddCollected(n int)
	SetNotFinalized(n int)
	IncStatusChange(status models.TransactionStatus)
	ObserveAttemptsUntilFinalization(attempts int)
	ObserveInclusionBlocks(blocks uint64)
	IncRetried()
	ObserveStore(op string, duration time.Duration, err error)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) ObserveRPC(string, time.Duration, error)   {}
func (NopMetrics) SetRPCAlive(bool)                          {}
func (NopMetrics) SetLatestBlock(uint64)                     {}
func (NopMetrics) SetNextNonce(uint64)                       {}
func (NopMetrics) IncReturnedNonces()                        {}
func (NopMetrics) AddCollected(int)                          {}
func (NopMetrics) SetNotFinalized(int)                       {}
func (NopMetrics) IncStatusChange(models.TransactionStatus)  {}
func (NopMetrics) ObserveAttemptsUntilFinalization(int)      {}
func (NopMetrics) ObserveInclusionBlocks(uint64)             {}
func (NopMetrics) IncRetried()                               {}
func (NopMetrics) ObserveStore(string, time.Duration, error) {}

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage   string
	Current int
	Total   int
	Message string
	Spinner bool
}

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}
