package adapters

import (
	"github.com/google/wire"
	"github.com/trebuchet-org/txm/internal/adapters/abi"
	"github.com/trebuchet-org/txm/internal/adapters/blockchain"
	"github.com/trebuchet-org/txm/internal/adapters/intents"
	"github.com/trebuchet-org/txm/internal/adapters/metrics"
	"github.com/trebuchet-org/txm/internal/adapters/repository/transactions"
	"github.com/trebuchet-org/txm/internal/adapters/signer"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// BlockchainSet provides the node client and signing key
var BlockchainSet = wire.NewSet(
	blockchain.ProvideClient,
	wire.Bind(new(usecase.ChainClient), new(*blockchain.Client)),

	signer.ProvideSigner,
	wire.Bind(new(usecase.Signer), new(*signer.KeySigner)),
)

// StorageSet provides the configured transaction store
var StorageSet = wire.NewSet(
	transactions.NewStoreFromConfig,
)

// ABISet provides the ABI alias registry
var ABISet = wire.NewSet(
	abi.NewRegistryFromConfig,
	wire.Bind(new(usecase.ABIRegistry), new(*abi.Registry)),
)

// MetricsSet provides prometheus metrics
var MetricsSet = wire.NewSet(
	metrics.NewPrometheus,
	wire.Bind(new(usecase.Metrics), new(*metrics.Prometheus)),
)

// IntentsSet provides file based intent loading
var IntentsSet = wire.NewSet(
	intents.NewYAMLSource,
	wire.Bind(new(usecase.IntentSource), new(*intents.YAMLSource)),
)

// AllAdapters includes all adapter sets
var AllAdapters = wire.NewSet(
	BlockchainSet,
	StorageSet,
	ABISet,
	MetricsSet,
	IntentsSet,
)
