package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// TransactionRecord is the storage row for a Transaction
type TransactionRecord struct {
	IntentID        string            `json:"intentId"`
	From            common.Address    `json:"from"`
	ChainID         uint64            `json:"chainId"`
	To              common.Address    `json:"address"`
	Value           *hexutil.Big      `json:"value"`
	Calldata        hexutil.Bytes     `json:"calldata,omitempty"`
	ContractName    string            `json:"contractName,omitempty"`
	FunctionName    string            `json:"functionName,omitempty"`
	Args            json.RawMessage   `json:"args,omitempty"`
	Deadline        uint64            `json:"deadline,omitempty"`
	Gas             uint64            `json:"gas,omitempty"`
	Status          TransactionStatus `json:"status"`
	Attempts        []Attempt         `json:"attempts"`
	CollectionBlock uint64            `json:"collectionBlock"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`

	// Version identifies the in-memory snapshot, it is not stored
	Version uint64 `json:"-"`
}

// ToRecord snapshots the transaction for storage
func (t *Transaction) ToRecord() (TransactionRecord, error) {
	var args json.RawMessage
	if len(t.Args) > 0 {
		raw, err := json.Marshal(t.Args)
		if err != nil {
			return TransactionRecord{}, fmt.Errorf("failed to encode args: %w", err)
		}
		args = raw
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return TransactionRecord{
		IntentID:        t.IntentID.String(),
		From:            t.From,
		ChainID:         t.ChainID,
		To:              t.To,
		Value:           (*hexutil.Big)(t.Value),
		Calldata:        t.Calldata,
		ContractName:    t.ContractName,
		FunctionName:    t.FunctionName,
		Args:            args,
		Deadline:        t.Deadline,
		Gas:             t.Gas,
		Status:          t.status,
		Attempts:        append([]Attempt(nil), t.attempts...),
		CollectionBlock: t.collectionBlock,
		Metadata:        t.Metadata,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.updatedAt,
		Version:         t.version,
	}, nil
}

// FromRecord rebuilds a persisted transaction. The result is marked flushed.
func FromRecord(r TransactionRecord) (*Transaction, error) {
	id, err := uuid.Parse(r.IntentID)
	if err != nil {
		return nil, fmt.Errorf("invalid intent id %q: %w", r.IntentID, err)
	}
	var args []any
	if len(r.Args) > 0 {
		if err := json.Unmarshal(r.Args, &args); err != nil {
			return nil, fmt.Errorf("failed to decode args: %w", err)
		}
	}
	value := new(big.Int)
	if r.Value != nil {
		value = r.Value.ToInt()
	}
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	tx := &Transaction{
		IntentID:        id,
		From:            r.From,
		ChainID:         r.ChainID,
		To:              r.To,
		Value:           value,
		Calldata:        r.Calldata,
		ContractName:    r.ContractName,
		FunctionName:    r.FunctionName,
		Args:            args,
		Deadline:        r.Deadline,
		Gas:             r.Gas,
		Metadata:        metadata,
		CreatedAt:       r.CreatedAt,
		status:          r.Status,
		attempts:        r.Attempts,
		collectionBlock: r.CollectionBlock,
		updatedAt:       r.UpdatedAt,
		callbacks:       make(map[TransactionStatus][]StatusCallback),
		done:            make(chan struct{}),
	}
	if tx.status.IsTerminal() {
		close(tx.done)
	}
	return tx, nil
}
