package transactions

import (
	"fmt"

	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// NewStoreFromConfig opens the store selected by store.driver
func NewStoreFromConfig(cfg *config.RuntimeConfig) (usecase.TransactionStore, func(), error) {
	var (
		store usecase.TransactionStore
		err   error
	)
	switch cfg.Store.Driver {
	case config.StoreDriverBolt, "":
		store, err = NewBoltStore(cfg.Store.Path)
	case config.StoreDriverFile:
		store, err = NewFileStore(cfg.Store.Path)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
