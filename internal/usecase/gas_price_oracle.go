package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

// FeeHistoryGasOracle derives fee suggestions from the latest header and the
// priority fee percentile of recent blocks
type FeeHistoryGasOracle struct {
	client ChainClient
	cfg    config.GasConfig
	log    *slog.Logger

	mu                sync.RWMutex
	nextBaseFee       *big.Int
	targetPriorityFee *big.Int
}

// NewFeeHistoryGasOracle creates the default gas price oracle
func NewFeeHistoryGasOracle(client ChainClient, cfg config.GasConfig, log *slog.Logger) *FeeHistoryGasOracle {
	return &FeeHistoryGasOracle{
		client:            client,
		cfg:               cfg,
		log:               log.With("component", "GasPriceOracle"),
		nextBaseFee:       new(big.Int),
		targetPriorityFee: minPriorityFee(cfg),
	}
}

// Start primes the oracle from the latest block
func (o *FeeHistoryGasOracle) Start(ctx context.Context) error {
	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch latest header: %w", err)
	}
	return o.OnNewBlock(ctx, models.BlockFromHeader(header))
}

// OnNewBlock refreshes the suggestion. The base fee update never fails; a
// fee history error keeps the previous priority fee.
func (o *FeeHistoryGasOracle) OnNewBlock(ctx context.Context, block models.Block) error {
	nextBase := CalcNextBaseFee(o.cfg.EIP1559, block)

	o.mu.Lock()
	o.nextBaseFee = nextBase
	o.mu.Unlock()

	tip, err := o.priorityFeeFromHistory(ctx, block)
	if err != nil {
		return fmt.Errorf("failed to fetch fee history: %w", err)
	}

	o.mu.Lock()
	o.targetPriorityFee = tip
	o.mu.Unlock()
	return nil
}

func (o *FeeHistoryGasOracle) priorityFeeFromHistory(ctx context.Context, block models.Block) (*big.Int, error) {
	blocks := o.cfg.PriorityFeeAnalysisBlocks
	if blocks == 0 {
		return minPriorityFee(o.cfg), nil
	}
	history, err := o.client.FeeHistory(ctx, blocks, new(big.Int).SetUint64(block.Number), []float64{o.cfg.PriorityFeePercentile})
	if err != nil {
		return nil, err
	}

	sum := new(big.Int)
	count := int64(0)
	for _, rewards := range history.Reward {
		if len(rewards) == 0 || rewards[0] == nil {
			continue
		}
		sum.Add(sum, rewards[0])
		count++
	}
	tip := new(big.Int)
	if count > 0 {
		tip.Div(sum, big.NewInt(count))
	}
	return o.clamp(tip), nil
}

func (o *FeeHistoryGasOracle) clamp(tip *big.Int) *big.Int {
	if floor := minPriorityFee(o.cfg); tip.Cmp(floor) < 0 {
		tip = floor
	}
	if ceiling := o.cfg.MaxPriorityFeePerGas; ceiling != nil && ceiling.Sign() > 0 && tip.Cmp(ceiling) > 0 {
		tip = new(big.Int).Set(ceiling)
	}
	return tip
}

// SuggestGasForNextBlock returns the next base fee plus margin, plus the target tip
func (o *FeeHistoryGasOracle) SuggestGasForNextBlock() GasSuggestion {
	o.mu.RLock()
	defer o.mu.RUnlock()

	maxFee := new(big.Int).Mul(o.nextBaseFee, new(big.Int).SetUint64(100+o.cfg.BaseFeeMarginPercent))
	maxFee.Div(maxFee, big.NewInt(100))
	maxFee.Add(maxFee, o.targetPriorityFee)
	return GasSuggestion{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(o.targetPriorityFee),
	}
}

func (o *FeeHistoryGasOracle) ExpectedNextBaseFee() *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return new(big.Int).Set(o.nextBaseFee)
}

func (o *FeeHistoryGasOracle) TargetPriorityFee() *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return new(big.Int).Set(o.targetPriorityFee)
}

func minPriorityFee(cfg config.GasConfig) *big.Int {
	if cfg.MinPriorityFeePerGas == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cfg.MinPriorityFeePerGas)
}

// CalcNextBaseFee applies the EIP-1559 update rule with chain specific
// elasticity and change denominator
func CalcNextBaseFee(params config.EIP1559Config, parent models.Block) *big.Int {
	if parent.BaseFee == nil {
		return new(big.Int)
	}
	base := new(big.Int).Set(parent.BaseFee)
	if params.ElasticityMultiplier == 0 || params.BaseFeeChangeDenominator == 0 {
		return base
	}

	target := parent.GasLimit / params.ElasticityMultiplier
	if target == 0 || parent.GasUsed == target {
		return base
	}

	denominator := new(big.Int).SetUint64(params.BaseFeeChangeDenominator)
	targetBig := new(big.Int).SetUint64(target)

	if parent.GasUsed > target {
		delta := new(big.Int).SetUint64(parent.GasUsed - target)
		delta.Mul(delta, base)
		delta.Div(delta, targetBig)
		delta.Div(delta, denominator)
		if delta.Sign() == 0 {
			delta.SetUint64(1)
		}
		return base.Add(base, delta)
	}

	delta := new(big.Int).SetUint64(target - parent.GasUsed)
	delta.Mul(delta, base)
	delta.Div(delta, targetBig)
	delta.Div(delta, denominator)
	base.Sub(base, delta)
	if base.Sign() < 0 {
		base.SetUint64(0)
	}
	return base
}

var _ GasPriceOracle = (*FeeHistoryGasOracle)(nil)
