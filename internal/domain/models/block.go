package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is the subset of a block header the manager reacts to
type Block struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	BaseFee   *big.Int
	GasUsed   uint64
	GasLimit  uint64
}

// BlockFromHeader converts a chain header
func BlockFromHeader(h *types.Header) Block {
	b := Block{
		Number:    h.Number.Uint64(),
		Hash:      h.Hash(),
		Timestamp: h.Time,
		GasUsed:   h.GasUsed,
		GasLimit:  h.GasLimit,
	}
	if h.BaseFee != nil {
		b.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	return b
}
