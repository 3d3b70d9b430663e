package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/txm/internal/domain/config"
)

// flagKeys maps CLI flag names to config keys where they differ
var flagKeys = map[string]string{
	"rpc-url":      "rpc.url",
	"chain-id":     "chain_id",
	"store":        "store.driver",
	"data-dir":     "store.path",
	"metrics-port": "metrics.port",
	"trace":        "telemetry.exporter",
}

// SetupViper creates a viper instance reading, in order of precedence,
// bound flags, TXM_* environment variables, an optional txm.{yaml,toml,json}
// in dir, then defaults. A config file that exists but cannot be parsed is
// an error.
func SetupViper(dir string, cmd *cobra.Command) (*viper.Viper, error) {
	LoadEnvFiles(dir)

	v := viper.New()
	v.SetConfigName("txm")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("TXM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if cmd != nil {
		bindFlags(v, cmd.Flags())
	}
	return v, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})
}

func setDefaults(v *viper.Viper) {
	d := config.DefaultRuntimeConfig()

	v.SetDefault("debug", false)
	v.SetDefault("json", false)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("block_time", d.BlockTime)

	v.SetDefault("rpc.timeout", d.RPC.Timeout)
	v.SetDefault("rpc.retries", d.RPC.Retries)
	v.SetDefault("rpc.retry_delay", d.RPC.RetryDelay)
	v.SetDefault("rpc.allow_debug", false)
	v.SetDefault("rpc.block_inactivity_timeout", d.RPC.BlockInactivityTimeout)
	v.SetDefault("rpc.liveness_window", d.Liveness.Window)
	v.SetDefault("rpc.liveness_threshold", d.Liveness.Threshold)
	v.SetDefault("rpc.liveness_success_count", d.Liveness.SuccessCount)
	v.SetDefault("rpc.liveness_down_delay", d.Liveness.DownDelay)
	v.SetDefault("rpc.liveness_check_interval", d.Liveness.CheckInterval)

	v.SetDefault("gas.eip1559.elasticity_multiplier", d.Gas.EIP1559.ElasticityMultiplier)
	v.SetDefault("gas.eip1559.base_fee_change_denominator", d.Gas.EIP1559.BaseFeeChangeDenominator)
	v.SetDefault("gas.base_fee_margin_percent", d.Gas.BaseFeeMarginPercent)
	v.SetDefault("gas.min_priority_fee_per_gas", "0")
	v.SetDefault("gas.max_priority_fee_per_gas", "0")
	v.SetDefault("gas.priority_fee_percentile", d.Gas.PriorityFeePercentile)
	v.SetDefault("gas.priority_fee_analysis_blocks", d.Gas.PriorityFeeAnalysisBlocks)

	v.SetDefault("store.driver", string(d.Store.Driver))
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("purge.age", d.Purge.Age)
	v.SetDefault("purge.interval", d.Purge.Interval)
	v.SetDefault("monitor.concurrency", d.Monitor.Concurrency)
	v.SetDefault("metrics.port", 0)
	v.SetDefault("telemetry.exporter", string(d.Telemetry.Exporter))
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)
}

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	cfg := config.DefaultRuntimeConfig()

	cfg.ChainID = v.GetUint64("chain_id")
	cfg.PrivateKey = v.GetString("private_key")
	cfg.BlockTime = v.GetDuration("block_time")
	cfg.Debug = v.GetBool("debug")
	cfg.JSON = v.GetBool("json")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.ABIManifest = v.GetString("abis")

	cfg.RPC = config.RPCConfig{
		URL:                    v.GetString("rpc.url"),
		Timeout:                v.GetDuration("rpc.timeout"),
		Retries:                v.GetInt("rpc.retries"),
		RetryDelay:             v.GetDuration("rpc.retry_delay"),
		AllowDebug:             v.GetBool("rpc.allow_debug"),
		PollingInterval:        v.GetDuration("rpc.polling_interval"),
		BlockInactivityTimeout: v.GetDuration("rpc.block_inactivity_timeout"),
	}
	if cfg.RPC.PollingInterval <= 0 {
		cfg.RPC.PollingInterval = cfg.BlockTime / 2
	}

	cfg.Liveness = config.LivenessConfig{
		Window:        v.GetDuration("rpc.liveness_window"),
		Threshold:     v.GetFloat64("rpc.liveness_threshold"),
		SuccessCount:  v.GetInt("rpc.liveness_success_count"),
		DownDelay:     v.GetDuration("rpc.liveness_down_delay"),
		CheckInterval: v.GetDuration("rpc.liveness_check_interval"),
	}

	minTip, err := parseWei(v.GetString("gas.min_priority_fee_per_gas"))
	if err != nil {
		return nil, fmt.Errorf("gas.min_priority_fee_per_gas: %w", err)
	}
	maxTip, err := parseWei(v.GetString("gas.max_priority_fee_per_gas"))
	if err != nil {
		return nil, fmt.Errorf("gas.max_priority_fee_per_gas: %w", err)
	}
	if maxTip.Sign() == 0 {
		maxTip = nil
	}
	cfg.Gas = config.GasConfig{
		EIP1559: config.EIP1559Config{
			ElasticityMultiplier:     v.GetUint64("gas.eip1559.elasticity_multiplier"),
			BaseFeeChangeDenominator: v.GetUint64("gas.eip1559.base_fee_change_denominator"),
		},
		BaseFeeMarginPercent:      v.GetUint64("gas.base_fee_margin_percent"),
		MinPriorityFeePerGas:      minTip,
		MaxPriorityFeePerGas:      maxTip,
		PriorityFeePercentile:     v.GetFloat64("gas.priority_fee_percentile"),
		PriorityFeeAnalysisBlocks: v.GetUint64("gas.priority_fee_analysis_blocks"),
	}

	cfg.Store = config.StoreConfig{
		Driver: config.StoreDriver(v.GetString("store.driver")),
		Path:   v.GetString("store.path"),
	}
	cfg.DataDir = cfg.Store.Path
	cfg.Purge = config.PurgeConfig{
		Age:      v.GetDuration("purge.age"),
		Interval: v.GetDuration("purge.interval"),
	}
	cfg.Monitor.Concurrency = v.GetInt("monitor.concurrency")
	cfg.Metrics.Port = v.GetInt("metrics.port")
	cfg.Telemetry = config.TelemetryConfig{
		Exporter:    config.TraceExporter(strings.ToLower(v.GetString("telemetry.exporter"))),
		Endpoint:    v.GetString("telemetry.endpoint"),
		ServiceName: v.GetString("telemetry.service_name"),
		SampleRatio: v.GetFloat64("telemetry.sample_ratio"),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command depends on
func Validate(cfg *config.RuntimeConfig) error {
	switch {
	case cfg.BlockTime <= 0:
		return fmt.Errorf("block_time must be positive")
	case cfg.Liveness.Threshold < 0 || cfg.Liveness.Threshold > 1:
		return fmt.Errorf("rpc.liveness_threshold must be between 0 and 1")
	case cfg.Liveness.SuccessCount < 1:
		return fmt.Errorf("rpc.liveness_success_count must be at least 1")
	case cfg.Gas.EIP1559.ElasticityMultiplier == 0 || cfg.Gas.EIP1559.BaseFeeChangeDenominator == 0:
		return fmt.Errorf("gas.eip1559 parameters must be positive")
	case cfg.Gas.PriorityFeePercentile < 0 || cfg.Gas.PriorityFeePercentile > 100:
		return fmt.Errorf("gas.priority_fee_percentile must be between 0 and 100")
	case cfg.Gas.MaxPriorityFeePerGas != nil && cfg.Gas.MaxPriorityFeePerGas.Cmp(cfg.Gas.MinPriorityFeePerGas) < 0:
		return fmt.Errorf("gas.max_priority_fee_per_gas is below gas.min_priority_fee_per_gas")
	case cfg.Monitor.Concurrency < 1:
		return fmt.Errorf("monitor.concurrency must be at least 1")
	case cfg.Purge.Age < 0:
		return fmt.Errorf("purge.age must not be negative")
	case cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1:
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	switch cfg.Telemetry.Exporter {
	case config.TraceExporterNone, config.TraceExporterStdout, config.TraceExporterOTLP:
	default:
		return fmt.Errorf("telemetry.exporter must be one of none, stdout or otlp, got %q", cfg.Telemetry.Exporter)
	}
	return nil
}

// RequireNode checks the settings needed to talk to a chain
func RequireNode(cfg *config.RuntimeConfig) error {
	if cfg.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required (flag --rpc-url or TXM_RPC_URL)")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain_id is required (flag --chain-id or TXM_CHAIN_ID)")
	}
	return nil
}

// parseWei accepts decimal or 0x-prefixed integers
func parseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
