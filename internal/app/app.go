package app

import (
	"log/slog"

	"github.com/trebuchet-org/txm/internal/adapters/abi"
	"github.com/trebuchet-org/txm/internal/adapters/metrics"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig
	Log    *slog.Logger

	// Use cases
	Manager       *usecase.TransactionManager
	SubmitIntents *usecase.SubmitIntents

	// Adapters needed directly by commands
	ABIs    *abi.Registry
	Metrics *metrics.Prometheus
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	log *slog.Logger,
	manager *usecase.TransactionManager,
	submitIntents *usecase.SubmitIntents,
	abis *abi.Registry,
	prom *metrics.Prometheus,
) (*App, error) {
	return &App{
		Config:        cfg,
		Log:           log,
		Manager:       manager,
		SubmitIntents: submitIntents,
		ABIs:          abis,
		Metrics:       prom,
	}, nil
}
