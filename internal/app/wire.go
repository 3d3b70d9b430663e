//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/txm/internal/adapters"
	"github.com/trebuchet-org/txm/internal/config"
	"github.com/trebuchet-org/txm/internal/logging"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// InitApp creates a fully wired App instance. The cleanup closes the node
// connection and the store.
func InitApp(v *viper.Viper, sink usecase.ProgressSink) (*App, func(), error) {
	wire.Build(
		// Configuration
		config.Provider,
		logging.LoggingSet,

		// Adapters
		adapters.AllAdapters,

		// Use cases
		usecase.UsecaseSet,

		// App
		NewApp,
	)
	return nil, nil, nil
}
