package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

const TransactionsFile = "transactions.json"

// FileStore keeps every row in memory and rewrites a single JSON file on
// each change. It suits development setups with few transactions.
type FileStore struct {
	path string
	mu   sync.RWMutex
	rows map[string]models.TransactionRecord
}

// NewFileStore loads dir/transactions.json, creating dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &FileStore{
		path: filepath.Join(dir, TransactionsFile),
		rows: make(map[string]models.TransactionRecord),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.rows)
}

// saveFile writes rows to a temp file and renames it into place
func (s *FileStore) saveFile(rows map[string]models.TransactionRecord) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *FileStore) List(ctx context.Context, from common.Address, statuses []models.TransactionStatus) ([]models.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []models.TransactionRecord
	for _, r := range s.rows {
		if matches(r, from, statuses) {
			records = append(records, r)
		}
	}
	return records, nil
}

func (s *FileStore) Get(ctx context.Context, intentID uuid.UUID) (models.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.TransactionRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[intentID.String()]
	if !ok {
		return r, fmt.Errorf("transaction %s: %w", intentID, domain.ErrNotFound)
	}
	return r, nil
}

func (s *FileStore) Save(ctx context.Context, inserts, updates []models.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.rows)
	for _, r := range inserts {
		if _, exists := next[r.IntentID]; exists {
			return fmt.Errorf("transaction %s: %w", r.IntentID, domain.ErrAlreadyExists)
		}
		next[r.IntentID] = r
	}
	for _, r := range updates {
		next[r.IntentID] = r
	}

	if err := s.saveFile(next); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	s.rows = next
	return nil
}

func (s *FileStore) DeleteFinalizedBefore(ctx context.Context, from common.Address, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.rows)
	maps.DeleteFunc(next, func(_ string, r models.TransactionRecord) bool {
		return purgeable(r, from, before)
	})
	deleted := len(s.rows) - len(next)
	if deleted == 0 {
		return 0, nil
	}

	if err := s.saveFile(next); err != nil {
		return 0, fmt.Errorf("failed to save transactions: %w", err)
	}
	s.rows = next
	return deleted, nil
}

func (s *FileStore) Close() error {
	return nil
}

var _ usecase.TransactionStore = (*FileStore)(nil)
