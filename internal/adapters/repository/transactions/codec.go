package transactions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/snappy"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// encodeRecord serializes a row as snappy compressed JSON
func encodeRecord(r models.TransactionRecord) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction %s: %w", r.IntentID, err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeRecord(value []byte) (models.TransactionRecord, error) {
	var r models.TransactionRecord
	raw, err := snappy.Decode(nil, value)
	if err != nil {
		return r, fmt.Errorf("failed to decompress transaction: %w", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return r, nil
}

// matches reports whether r belongs to from and has one of statuses.
// An empty status list matches every status.
func matches(r models.TransactionRecord, from common.Address, statuses []models.TransactionStatus) bool {
	if r.From != from {
		return false
	}
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

func purgeable(r models.TransactionRecord, from common.Address, before time.Time) bool {
	return r.From == from && r.Status.IsTerminal() && r.UpdatedAt.Before(before)
}
