package models

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TransactionStatus represents the state of a managed transaction
type TransactionStatus string

const (
	TransactionStatusNotAttempted TransactionStatus = "NotAttempted"
	TransactionStatusPending      TransactionStatus = "Pending"
	TransactionStatusInterrupted  TransactionStatus = "Interrupted"
	TransactionStatusExpired      TransactionStatus = "Expired"
	TransactionStatusCancelling   TransactionStatus = "Cancelling"
	TransactionStatusCancelled    TransactionStatus = "Cancelled"
	TransactionStatusFailed       TransactionStatus = "Failed"
	TransactionStatusSuccess      TransactionStatus = "Success"
)

// NotFinalizedStatuses are the statuses the monitor keeps watching
var NotFinalizedStatuses = []TransactionStatus{
	TransactionStatusNotAttempted,
	TransactionStatusPending,
	TransactionStatusCancelling,
}

// IsTerminal reports whether no further transition can leave s
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusExpired, TransactionStatusCancelled:
		return true
	}
	return false
}

// IsNotFinalized reports whether s is one of NotFinalizedStatuses
func (s TransactionStatus) IsNotFinalized() bool {
	return slices.Contains(NotFinalizedStatuses, s)
}

// AttemptType distinguishes a regular broadcast from a nonce-burning cancellation
type AttemptType string

const (
	AttemptTypeOriginal     AttemptType = "Original"
	AttemptTypeCancellation AttemptType = "Cancellation"
)

// Attempt is one signed broadcast of a transaction
type Attempt struct {
	Type                 AttemptType `json:"type"`
	Hash                 common.Hash `json:"hash"`
	Nonce                uint64      `json:"nonce"`
	MaxFeePerGas         *big.Int    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int    `json:"maxPriorityFeePerGas"`
	Gas                  uint64      `json:"gas"`
}

// StatusCallback is invoked after a transaction enters the status it was registered for
type StatusCallback func(tx *Transaction)

// TransactionParams describes a new transaction intent. Either Calldata or
// ContractName with FunctionName must be set.
type TransactionParams struct {
	From    common.Address
	ChainID uint64
	To      common.Address
	Value   *big.Int

	Calldata     []byte
	ContractName string
	FunctionName string
	Args         []any

	// Deadline in unix seconds, zero for none
	Deadline uint64
	// Gas fixes the gas limit and skips estimation when non-zero
	Gas      uint64
	Metadata map[string]any
}

// Transaction is a durable intent to execute one onchain call.
// Identity fields are immutable; everything else is accessed through methods.
type Transaction struct {
	IntentID     uuid.UUID
	From         common.Address
	ChainID      uint64
	To           common.Address
	Value        *big.Int
	Calldata     []byte
	ContractName string
	FunctionName string
	Args         []any
	Deadline     uint64
	Gas          uint64
	Metadata     map[string]any
	CreatedAt    time.Time

	mu              sync.Mutex
	status          TransactionStatus
	attempts        []Attempt
	collectionBlock uint64
	updatedAt       time.Time
	version         uint64
	pendingFlush    bool
	notPersisted    bool
	claimed         bool
	callbacks       map[TransactionStatus][]StatusCallback
	done            chan struct{}
}

// NewTransaction creates a NotAttempted transaction with a fresh intent ID
func NewTransaction(p TransactionParams) *Transaction {
	now := time.Now().UTC()
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Transaction{
		IntentID:     uuid.New(),
		From:         p.From,
		ChainID:      p.ChainID,
		To:           p.To,
		Value:        value,
		Calldata:     p.Calldata,
		ContractName: p.ContractName,
		FunctionName: p.FunctionName,
		Args:         p.Args,
		Deadline:     p.Deadline,
		Gas:          p.Gas,
		Metadata:     metadata,
		CreatedAt:    now,
		status:       TransactionStatusNotAttempted,
		updatedAt:    now,
		pendingFlush: true,
		notPersisted: true,
		callbacks:    make(map[TransactionStatus][]StatusCallback),
		done:         make(chan struct{}),
	}
}

// Status returns the current status
func (t *Transaction) Status() TransactionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) UpdatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updatedAt
}

func (t *Transaction) CollectionBlock() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collectionBlock
}

// SetCollectionBlock stamps the block at which the transaction was queued
func (t *Transaction) SetCollectionBlock(number uint64) {
	t.mu.Lock()
	t.collectionBlock = number
	t.touch()
	t.mu.Unlock()
}

// Attempts returns a copy of the attempt history, oldest first
func (t *Transaction) Attempts() []Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.attempts)
}

// LastAttempt returns the most recent attempt
func (t *Transaction) LastAttempt() (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.attempts) == 0 {
		return Attempt{}, false
	}
	return t.attempts[len(t.attempts)-1], true
}

// InAirAttempts returns the attempts sharing the highest nonce used so far.
// At most one of them can ever be mined.
func (t *Transaction) InAirAttempts() []Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.attempts) == 0 {
		return nil
	}
	var maxNonce uint64
	for _, a := range t.attempts {
		maxNonce = max(maxNonce, a.Nonce)
	}
	var inAir []Attempt
	for _, a := range t.attempts {
		if a.Nonce == maxNonce {
			inAir = append(inAir, a)
		}
	}
	return inAir
}

// AttemptByHash finds an attempt by its transaction hash
func (t *Transaction) AttemptByHash(hash common.Hash) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.attempts {
		if a.Hash == hash {
			return a, true
		}
	}
	return Attempt{}, false
}

// Claim reserves the transaction for the caller until Release. Only the
// holder of a claim may request a nonce for it. Claim reports false while
// another caller holds it.
func (t *Transaction) Claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claimed {
		return false
	}
	t.claimed = true
	return true
}

// Release ends a claim taken with Claim
func (t *Transaction) Release() {
	t.mu.Lock()
	t.claimed = false
	t.mu.Unlock()
}

// AddAttempt appends an attempt. A NotAttempted transaction moves to Pending
// together with its first attempt; promoted reports that this happened so the
// caller can announce the transition once the attempt is durable.
func (t *Transaction) AddAttempt(a Attempt) (promoted bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false, fmt.Errorf("transaction %s is %s: %w", t.IntentID, t.status, ErrTerminal)
	}
	if n := len(t.attempts); n > 0 && a.Nonce < t.attempts[n-1].Nonce {
		return false, fmt.Errorf("attempt nonce %d below previous nonce %d", a.Nonce, t.attempts[n-1].Nonce)
	}
	t.attempts = append(t.attempts, a)
	if t.status == TransactionStatusNotAttempted {
		t.status = TransactionStatusPending
		promoted = true
	}
	t.touch()
	return promoted, nil
}

// RemoveAttempt drops an attempt that never became durable. demote undoes
// the Pending promotion made by AddAttempt.
func (t *Transaction) RemoveAttempt(hash common.Hash, demote bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = slices.DeleteFunc(t.attempts, func(a Attempt) bool {
		return a.Hash == hash
	})
	if demote && t.status == TransactionStatusPending {
		t.status = TransactionStatusNotAttempted
	}
	t.touch()
}

// ErrTerminal is returned when mutating a transaction that already reached a terminal status
var ErrTerminal = errors.New("transaction is finalized")

// ChangeStatus moves the transaction to status and runs the callbacks
// registered for it. Terminal statuses are sticky: once one is reached every
// later change is ignored, which makes finalization happen exactly once.
// Callback failures are recovered and returned joined.
func (t *Transaction) ChangeStatus(status TransactionStatus) (changed bool, err error) {
	t.mu.Lock()
	if t.status == status || t.status.IsTerminal() {
		t.mu.Unlock()
		return false, nil
	}
	t.status = status
	t.touch()
	if status.IsTerminal() {
		close(t.done)
	}
	t.mu.Unlock()

	return true, t.AnnounceStatus()
}

// AnnounceStatus runs the callbacks registered for the current status
func (t *Transaction) AnnounceStatus() error {
	t.mu.Lock()
	status := t.status
	cbs := slices.Clone(t.callbacks[status])
	t.mu.Unlock()

	var errs []error
	for _, cb := range cbs {
		if err := runCallback(cb, t); err != nil {
			errs = append(errs, fmt.Errorf("%s callback: %w", status, err))
		}
	}
	return errors.Join(errs...)
}

func runCallback(cb StatusCallback, t *Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	cb(t)
	return nil
}

// On registers a callback for status
func (t *Transaction) On(status TransactionStatus, cb StatusCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[status] = append(t.callbacks[status], cb)
}

// Done is closed when the transaction reaches a terminal status
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// WaitForFinalization blocks until the transaction reaches a terminal status
// or ctx is done.
func (t *Transaction) WaitForFinalization(ctx context.Context) (TransactionStatus, error) {
	select {
	case <-t.done:
		return t.Status(), nil
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
}

// IsExpired reports whether the deadline will have passed by the next block
func (t *Transaction) IsExpired(block Block, blockTime time.Duration) bool {
	if t.Deadline == 0 {
		return false
	}
	return block.Timestamp+uint64(blockTime/time.Second) > t.Deadline
}

// NeedsFlush reports whether there are changes not yet written to storage
func (t *Transaction) NeedsFlush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingFlush
}

// IsPersisted reports whether the transaction has ever been written to storage
func (t *Transaction) IsPersisted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.notPersisted
}

// MarkFlushed records a successful save of the snapshot taken at version.
// Changes made after that snapshot keep the transaction flagged.
func (t *Transaction) MarkFlushed(version uint64) {
	t.mu.Lock()
	if t.version == version {
		t.pendingFlush = false
	}
	t.notPersisted = false
	t.mu.Unlock()
}

// MarkUpdated flags the transaction for the next save
func (t *Transaction) MarkUpdated() {
	t.mu.Lock()
	t.touch()
	t.mu.Unlock()
}

func (t *Transaction) touch() {
	t.updatedAt = time.Now().UTC()
	t.version++
	t.pendingFlush = true
}

func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{%s %s attempts=%d}", t.IntentID, t.Status(), len(t.Attempts()))
}
