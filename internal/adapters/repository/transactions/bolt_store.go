package transactions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

const (
	BoltFile          = "transactions.db"
	transactionBucket = "transactions"
	bucketFillPercent = 0.9
)

// BoltStore keeps one row per intent in a bolt bucket. Each Save runs in a
// single bolt transaction, so a batch is written entirely or not at all.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dir
func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, BoltFile), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(transactionBucket))
		if err != nil {
			return err
		}
		b.FillPercent = bucketFillPercent
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transaction bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) List(ctx context.Context, from common.Address, statuses []models.TransactionStatus) ([]models.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []models.TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transactionBucket)).ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("row %s: %w", k, err)
			}
			if matches(r, from, statuses) {
				records = append(records, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltStore) Get(ctx context.Context, intentID uuid.UUID) (models.TransactionRecord, error) {
	var r models.TransactionRecord
	if err := ctx.Err(); err != nil {
		return r, err
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(transactionBucket)).Get([]byte(intentID.String()))
		if v == nil {
			return fmt.Errorf("transaction %s: %w", intentID, domain.ErrNotFound)
		}
		var err error
		r, err = decodeRecord(v)
		return err
	})
	return r, err
}

func (s *BoltStore) Save(ctx context.Context, inserts, updates []models.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(transactionBucket))
		b.FillPercent = bucketFillPercent

		for _, r := range inserts {
			key := []byte(r.IntentID)
			if b.Get(key) != nil {
				return fmt.Errorf("transaction %s: %w", r.IntentID, domain.ErrAlreadyExists)
			}
			if err := put(b, key, r); err != nil {
				return err
			}
		}
		for _, r := range updates {
			if err := put(b, []byte(r.IntentID), r); err != nil {
				return err
			}
		}
		return nil
	})
}

func put(b *bolt.Bucket, key []byte, r models.TransactionRecord) error {
	value, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (s *BoltStore) DeleteFinalizedBefore(ctx context.Context, from common.Address, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(transactionBucket))

		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("row %s: %w", k, err)
			}
			if purgeable(r, from, before) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ usecase.TransactionStore = (*BoltStore)(nil)
