package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Plugins overrides the default strategies. Nil fields use the defaults.
type Plugins struct {
	GasEstimator   GasEstimator
	RetryPolicy    RetryPolicy
	GasPriceOracle GasPriceOracle
}

// TransactionManager owns every component serving one signing account on one chain
type TransactionManager struct {
	cfg     *config.RuntimeConfig
	raw     ChainClient
	client  ChainClient
	signer  Signer
	abis    ABIRegistry
	metrics Metrics
	log     *slog.Logger

	bus         *EventBus
	hooks       *HookManager
	liveness    *RpcLivenessMonitor
	repo        *TransactionRepository
	nonces      *NonceManager
	oracle      GasPriceOracle
	submitter   *TransactionSubmitter
	collector   *TransactionCollector
	monitor     *TransactionMonitor
	blocks      *BlockMonitor
	unsubscribe []func()

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTransactionManager assembles the components. Nothing talks to the chain
// until Start.
func NewTransactionManager(
	cfg *config.RuntimeConfig,
	client ChainClient,
	signer Signer,
	store TransactionStore,
	abis ABIRegistry,
	metrics Metrics,
	plugins Plugins,
	log *slog.Logger,
) (*TransactionManager, error) {
	log = log.With("address", signer.Address(), "chain_id", cfg.ChainID)
	bus := NewEventBus(log)

	liveness := NewRpcLivenessMonitor(cfg.Liveness, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.RPC.Timeout)
		defer cancel()
		_, err := client.ChainID(ctx)
		return err
	}, bus, metrics, log)
	tracked := NewTrackedChainClient(client, liveness, metrics)

	repo, err := NewTransactionRepository(store, signer.Address(), cfg.Purge, metrics, log)
	if err != nil {
		return nil, err
	}
	nonces := NewNonceManager(tracked, repo, signer.Address(), metrics, log)

	oracle := plugins.GasPriceOracle
	if oracle == nil {
		oracle = NewFeeHistoryGasOracle(tracked, cfg.Gas, log)
	}
	estimator := plugins.GasEstimator
	if estimator == nil {
		estimator = NewSimulationGasEstimator(tracked, abis)
	}
	retry := plugins.RetryPolicy
	if retry == nil {
		retry = NewOutOfGasRetryPolicy(tracked, cfg.RPC.AllowDebug, log)
	}

	status := NewStatusNotifier(bus, metrics, log)
	submitter := NewTransactionSubmitter(tracked, signer, cfg.ChainID, repo, nonces, estimator, abis, status, log)

	m := &TransactionManager{
		cfg:       cfg,
		raw:       client,
		client:    tracked,
		signer:    signer,
		abis:      abis,
		metrics:   metrics,
		log:       log.With("component", "TransactionManager"),
		bus:       bus,
		hooks:     NewHookManager(bus, log),
		liveness:  liveness,
		repo:      repo,
		nonces:    nonces,
		oracle:    oracle,
		submitter: submitter,
		collector: NewTransactionCollector(repo, nonces, submitter, oracle, liveness, bus, status, metrics, log),
		monitor: NewTransactionMonitor(tracked, repo, nonces, submitter, oracle, retry, liveness, bus, status, metrics,
			cfg.BlockTime, cfg.Monitor.Concurrency, log),
		blocks: NewBlockMonitor(tracked, bus, liveness, cfg.RPC, metrics, log),
	}

	m.unsubscribe = append(m.unsubscribe,
		On(bus, func(ctx context.Context, e domain.NewBlockEvent) error {
			return m.oracle.OnNewBlock(ctx, e.Block)
		}),
		On(bus, m.collector.OnNewBlock),
		On(bus, m.monitor.OnNewBlock),
		On(bus, func(ctx context.Context, e domain.NewBlockEvent) error {
			return m.repo.OnNewBlock(ctx, e.Block)
		}),
	)
	return m, nil
}

// Start verifies the chain, restores state and begins following blocks.
// A chain ID mismatch or an unreadable transaction count aborts startup.
func (m *TransactionManager) Start(ctx context.Context) error {
	return telemetry.Trace(ctx, "TransactionManager.Start", func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.started {
			return nil
		}

		chainID, err := m.client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain ID: %w", err)
		}
		if chainID.Uint64() != m.cfg.ChainID {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrChainIDMismatch, m.cfg.ChainID, chainID.Uint64())
		}

		if err := m.oracle.Start(ctx); err != nil {
			return fmt.Errorf("failed to start gas price oracle: %w", err)
		}
		if err := m.repo.Start(ctx); err != nil {
			return fmt.Errorf("failed to start repository: %w", err)
		}
		if err := m.nonces.Start(ctx); err != nil {
			return fmt.Errorf("failed to start nonce manager: %w", err)
		}

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		m.liveness.Start(runCtx)
		m.goRun(func() { m.collector.Run(runCtx) })
		m.goRun(func() { m.monitor.Run(runCtx) })
		m.goRun(func() { m.blocks.Run(runCtx) })

		m.started = true
		m.log.Info("transaction manager started")
		return nil
	}, attribute.Int64("chain_id", int64(m.cfg.ChainID)))
}

func (m *TransactionManager) goRun(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Stop halts block processing and waits for running reactions to return
func (m *TransactionManager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.log.Info("transaction manager stopped")
}

// Address is the signing account
func (m *TransactionManager) Address() common.Address {
	return m.signer.Address()
}

func (m *TransactionManager) ChainID() uint64 {
	return m.cfg.ChainID
}

// IsRpcAlive reports the liveness monitor's verdict
func (m *TransactionManager) IsRpcAlive() bool {
	return m.liveness.IsAlive()
}

// AddOriginator registers a source of transactions polled on every block
func (m *TransactionManager) AddOriginator(o Originator) {
	m.collector.AddOriginator(o)
}

// AddHook subscribes handler to hookType and returns the unsubscribe function
func (m *TransactionManager) AddHook(hookType domain.HookType, handler HookHandler) func() {
	return m.hooks.AddHook(hookType, handler)
}

// CreateTransaction builds a transaction from the signing account. ABI based
// calls are encoded once here so unknown aliases fail early.
func (m *TransactionManager) CreateTransaction(params models.TransactionParams) (*models.Transaction, error) {
	params.From = m.signer.Address()
	params.ChainID = m.cfg.ChainID

	if params.ContractName != "" {
		if m.abis == nil || !m.abis.Has(params.ContractName) {
			return nil, fmt.Errorf("%s: %w", params.ContractName, domain.ErrABINotFound)
		}
		if _, err := m.abis.Encode(params.ContractName, params.FunctionName, params.Args); err != nil {
			return nil, err
		}
	} else if params.FunctionName != "" {
		return nil, fmt.Errorf("%w: function %q without contract", domain.ErrInvalidTransaction, params.FunctionName)
	}
	return models.NewTransaction(params), nil
}

// SendTransactions submits transactions directly, outside of any originator.
// They are stamped with the latest processed block.
func (m *TransactionManager) SendTransactions(ctx context.Context, txs []*models.Transaction) error {
	return telemetry.Trace(ctx, "TransactionManager.SendTransactions", func(ctx context.Context) error {
		for _, tx := range txs {
			if tx.From != m.signer.Address() || tx.ChainID != m.cfg.ChainID {
				return fmt.Errorf("%w: %s not created by this manager", domain.ErrInvalidTransaction, tx.IntentID)
			}
		}
		block, ok := m.blocks.LastBlock()
		if !ok {
			header, err := m.client.HeaderByNumber(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to fetch latest block: %w", err)
			}
			block = models.BlockFromHeader(header)
		}
		return m.collector.SubmitTransactions(ctx, block, txs)
	}, attribute.Int("transactions", len(txs)))
}

// GetTransaction returns a transaction by intent ID
func (m *TransactionManager) GetTransaction(ctx context.Context, intentID uuid.UUID) (*models.Transaction, error) {
	return telemetry.TraceValue(ctx, "TransactionManager.GetTransaction", func(ctx context.Context) (*models.Transaction, error) {
		return m.repo.GetTransaction(ctx, intentID)
	}, attribute.String("intent_id", intentID.String()))
}

// ListTransactions returns stored transactions, filtered by status when given
func (m *TransactionManager) ListTransactions(ctx context.Context, statuses ...models.TransactionStatus) ([]*models.Transaction, error) {
	return telemetry.TraceValue(ctx, "TransactionManager.ListTransactions", func(ctx context.Context) ([]*models.Transaction, error) {
		return m.repo.ListTransactions(ctx, statuses)
	})
}

// PurgeFinalizedTransactions deletes finalized transactions older than the purge age
func (m *TransactionManager) PurgeFinalizedTransactions(ctx context.Context) (int, error) {
	if m.cfg.Purge.Age <= 0 {
		return 0, errors.New("purging is disabled")
	}
	return telemetry.TraceValue(ctx, "TransactionManager.PurgeFinalizedTransactions", m.repo.PurgeFinalizedTransactions)
}

// WaitForBlocks blocks until n further blocks have been published or ctx is done
func (m *TransactionManager) WaitForBlocks(ctx context.Context, n int) error {
	seen := make(chan struct{}, n)
	unsubscribe := On(m.bus, func(context.Context, domain.NewBlockEvent) error {
		select {
		case seen <- struct{}{}:
		default:
		}
		return nil
	})
	defer unsubscribe()

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-seen:
		}
	}
	return nil
}
