package config

import (
	"math/big"
	"time"
)

// RuntimeConfig represents the complete runtime configuration
// This is injected into use cases and contains all resolved settings
type RuntimeConfig struct {
	// Core settings
	DataDir   string
	ChainID   uint64
	BlockTime time.Duration

	// PrivateKey is the hex encoded signing key, never logged
	PrivateKey string

	// Execution settings
	Debug   bool
	JSON    bool
	Timeout time.Duration

	RPC       RPCConfig
	Liveness  LivenessConfig
	Gas       GasConfig
	Store     StoreConfig
	Purge     PurgeConfig
	Monitor   MonitorConfig
	Metrics   MetricsConfig
	Telemetry TelemetryConfig

	// ABIManifest is the path of a TOML file mapping aliases to ABI JSON files
	ABIManifest string
}

// RPCConfig controls how the chain client talks to the node
type RPCConfig struct {
	URL                    string
	Timeout                time.Duration
	Retries                int
	RetryDelay             time.Duration
	AllowDebug             bool
	PollingInterval        time.Duration
	BlockInactivityTimeout time.Duration
}

// LivenessConfig controls the sliding window health tracker
type LivenessConfig struct {
	Window        time.Duration
	Threshold     float64
	SuccessCount  int
	DownDelay     time.Duration
	CheckInterval time.Duration
}

// EIP1559Config holds the chain's base fee parameters
type EIP1559Config struct {
	ElasticityMultiplier     uint64
	BaseFeeChangeDenominator uint64
}

// GasConfig controls fee suggestions
type GasConfig struct {
	EIP1559                   EIP1559Config
	BaseFeeMarginPercent      uint64
	MinPriorityFeePerGas      *big.Int
	MaxPriorityFeePerGas      *big.Int // nil means uncapped
	PriorityFeePercentile     float64
	PriorityFeeAnalysisBlocks uint64
}

// StoreDriver names a TransactionStore implementation
type StoreDriver string

const (
	StoreDriverBolt StoreDriver = "bolt"
	StoreDriverFile StoreDriver = "file"
)

type StoreConfig struct {
	Driver StoreDriver
	Path   string
}

// PurgeConfig controls deletion of finalized transactions.
// A zero Age disables purging.
type PurgeConfig struct {
	Age      time.Duration
	Interval time.Duration
}

type MonitorConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Port int
}

// TraceExporter selects where spans are sent
type TraceExporter string

const (
	TraceExporterNone   TraceExporter = "none"
	TraceExporterStdout TraceExporter = "stdout"
	TraceExporterOTLP   TraceExporter = "otlp"
)

// TelemetryConfig controls span export. Endpoint is the OTLP/HTTP URL; when
// empty the OTEL_EXPORTER_OTLP_* environment variables apply.
type TelemetryConfig struct {
	Exporter    TraceExporter
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// DefaultRuntimeConfig returns a config with every default filled in.
// ChainID, PrivateKey and RPC.URL are left empty.
func DefaultRuntimeConfig() *RuntimeConfig {
	blockTime := 2 * time.Second
	return &RuntimeConfig{
		DataDir:   ".txm",
		BlockTime: blockTime,
		Timeout:   5 * time.Minute,
		RPC: RPCConfig{
			Timeout:                2 * time.Second,
			Retries:                2,
			RetryDelay:             50 * time.Millisecond,
			PollingInterval:        blockTime / 2,
			BlockInactivityTimeout: 4 * time.Second,
		},
		Liveness: LivenessConfig{
			Window:        10 * time.Second,
			Threshold:     0.85,
			SuccessCount:  3,
			DownDelay:     5 * time.Second,
			CheckInterval: 2 * time.Second,
		},
		Gas: GasConfig{
			EIP1559: EIP1559Config{
				ElasticityMultiplier:     6,
				BaseFeeChangeDenominator: 250,
			},
			BaseFeeMarginPercent:      20,
			MinPriorityFeePerGas:      big.NewInt(0),
			PriorityFeePercentile:     50,
			PriorityFeeAnalysisBlocks: 2,
		},
		Store: StoreConfig{
			Driver: StoreDriverBolt,
			Path:   ".txm",
		},
		Purge: PurgeConfig{
			Age:      2 * time.Minute,
			Interval: 30 * time.Second,
		},
		Monitor: MonitorConfig{Concurrency: 16},
		Telemetry: TelemetryConfig{
			Exporter:    TraceExporterNone,
			ServiceName: "txm",
			SampleRatio: 1,
		},
	}
}
