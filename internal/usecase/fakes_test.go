package usecase_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

const testChainID = 1337

var gwei = big.NewInt(1_000_000_000)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain is an in-memory node. Transactions are only mined when a test calls mine.
type fakeChain struct {
	mu          sync.Mutex
	chainID     *big.Int
	nonce       uint64
	head        *types.Header
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	traces      map[common.Hash]*domain.CallFrame
	estimate    uint64
	estimateErr error
	sendErr     error
	receiptErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID: big.NewInt(testChainID),
		head: &types.Header{
			Number:   big.NewInt(1),
			Time:     1_700_000_000,
			BaseFee:  new(big.Int).Mul(big.NewInt(10), gwei),
			GasLimit: 30_000_000,
			GasUsed:  5_000_000,
		},
		receipts: make(map[common.Hash]*types.Receipt),
		traces:   make(map[common.Hash]*domain.CallFrame),
		estimate: 50_000,
	}
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CopyHeader(c.head), nil
}

func (c *fakeChain) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, domain.ErrSubscriptionsUnsupported
}

func (c *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *fakeChain) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

func (c *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimate, c.estimateErr
}

func (c *fakeChain) FeeHistory(_ context.Context, blockCount uint64, _ *big.Int, _ []float64) (*ethereum.FeeHistory, error) {
	rewards := make([][]*big.Int, blockCount)
	for i := range rewards {
		rewards[i] = []*big.Int{new(big.Int).Set(gwei)}
	}
	return &ethereum.FeeHistory{Reward: rewards}, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeChain) TraceTransaction(_ context.Context, hash common.Hash) (*domain.CallFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame, ok := c.traces[hash]
	if !ok {
		return nil, domain.ErrTracingUnavailable
	}
	return frame, nil
}

// mine includes hash in a block and consumes its nonce
func (c *fakeChain) mine(hash common.Hash, status, gasUsed, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      status,
		GasUsed:     gasUsed,
		BlockNumber: new(big.Int).SetUint64(block),
	}
	c.nonce++
}

// advance produces the next head
func (c *fakeChain) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := types.CopyHeader(c.head)
	head.Number = new(big.Int).Add(head.Number, big.NewInt(1))
	head.Time += 2
	c.head = head
}

func (c *fakeChain) setReceiptErr(err error) {
	c.mu.Lock()
	c.receiptErr = err
	c.mu.Unlock()
}

func (c *fakeChain) setTrace(hash common.Hash, frame *domain.CallFrame) {
	c.mu.Lock()
	c.traces[hash] = frame
	c.mu.Unlock()
}

func (c *fakeChain) sentTransactions() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *fakeChain) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeChain) setNonce(n uint64) {
	c.mu.Lock()
	c.nonce = n
	c.mu.Unlock()
}

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &keySigner{key: key}
}

func (s *keySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// memStore keeps records in memory. Queued saveErrs fail the next saves in order.
type memStore struct {
	mu       sync.Mutex
	records  map[string]models.TransactionRecord
	saveErrs []error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]models.TransactionRecord)}
}

func (s *memStore) List(_ context.Context, from common.Address, statuses []models.TransactionStatus) ([]models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TransactionRecord
	for _, r := range s.records {
		if r.From != from {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id.String()]
	if !ok {
		return models.TransactionRecord{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memStore) Save(_ context.Context, inserts, updates []models.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, r := range inserts {
		if _, ok := s.records[r.IntentID]; ok {
			return domain.ErrAlreadyExists
		}
	}
	for _, r := range append(inserts, updates...) {
		s.records[r.IntentID] = r
	}
	return nil
}

func (s *memStore) DeleteFinalizedBefore(_ context.Context, from common.Address, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, r := range s.records {
		if r.From == from && r.Status.IsTerminal() && r.UpdatedAt.Before(before) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) failNextSaves(errs ...error) {
	s.mu.Lock()
	s.saveErrs = append(s.saveErrs, errs...)
	s.mu.Unlock()
}

func (s *memStore) record(t *testing.T, id uuid.UUID) models.TransactionRecord {
	t.Helper()
	r, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func containsStatus(statuses []models.TransactionStatus, s models.TransactionStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// fixedOracle suggests 10 gwei base fee and 1 gwei tip unless changed
type fixedOracle struct {
	mu      sync.Mutex
	baseFee *big.Int
	tip     *big.Int
}

func newFixedOracle() *fixedOracle {
	return &fixedOracle{
		baseFee: new(big.Int).Mul(big.NewInt(10), gwei),
		tip:     new(big.Int).Set(gwei),
	}
}

func (o *fixedOracle) Start(context.Context) error                     { return nil }
func (o *fixedOracle) OnNewBlock(context.Context, models.Block) error { return nil }

func (o *fixedOracle) SuggestGasForNextBlock() usecase.GasSuggestion {
	o.mu.Lock()
	defer o.mu.Unlock()
	maxFee := new(big.Int).Mul(o.baseFee, big.NewInt(2))
	return usecase.GasSuggestion{
		MaxFeePerGas:         maxFee.Add(maxFee, o.tip),
		MaxPriorityFeePerGas: new(big.Int).Set(o.tip),
	}
}

func (o *fixedOracle) ExpectedNextBaseFee() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(big.Int).Set(o.baseFee)
}

func (o *fixedOracle) TargetPriorityFee() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(big.Int).Set(o.tip)
}

func (o *fixedOracle) set(baseFee, tip *big.Int) {
	o.mu.Lock()
	o.baseFee, o.tip = baseFee, tip
	o.mu.Unlock()
}

type staticLiveness bool

func (l staticLiveness) IsAlive() bool { return bool(l) }

// eventRecorder collects every event published on a bus
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func recordEvents(bus *usecase.EventBus) *eventRecorder {
	r := &eventRecorder{}
	for _, topic := range []domain.HookType{
		domain.HookNewBlock,
		domain.HookTransactionStatusChanged,
		domain.HookTransactionSaveFailed,
		domain.HookTransactionSubmissionFailed,
		domain.HookRpcIsDown,
		domain.HookRpcIsUp,
	} {
		bus.Subscribe(topic, func(_ context.Context, e domain.Event) error {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			return nil
		})
	}
	return r
}

func (r *eventRecorder) transitions(id uuid.UUID) []models.TransactionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TransactionStatus
	for _, e := range r.events {
		if changed, ok := e.(domain.TransactionStatusChangedEvent); ok && changed.Transaction.IntentID == id {
			out = append(out, changed.To)
		}
	}
	return out
}

func (r *eventRecorder) ofType(hook domain.HookType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.HookType() == hook {
			out = append(out, e)
		}
	}
	return out
}

// harness wires the core components against the fakes without background loops
type harness struct {
	chain     *fakeChain
	store     *memStore
	signer    *keySigner
	oracle    *fixedOracle
	bus       *usecase.EventBus
	events    *eventRecorder
	repo      *usecase.TransactionRepository
	nonces    *usecase.NonceManager
	submitter *usecase.TransactionSubmitter
	collector *usecase.TransactionCollector
	monitor   *usecase.TransactionMonitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, newFakeChain(), newMemStore(), newKeySigner(t))
}

func newHarnessWith(t *testing.T, chain *fakeChain, store *memStore, signer *keySigner) *harness {
	t.Helper()
	ctx := context.Background()
	log := discardLogger()
	metrics := usecase.NopMetrics{}

	h := &harness{chain: chain, store: store, signer: signer, oracle: newFixedOracle()}
	h.bus = usecase.NewEventBus(log)
	h.events = recordEvents(h.bus)

	var err error
	h.repo, err = usecase.NewTransactionRepository(store, signer.Address(), config.PurgeConfig{}, metrics, log)
	require.NoError(t, err)
	require.NoError(t, h.repo.Start(ctx))

	h.nonces = usecase.NewNonceManager(chain, h.repo, signer.Address(), metrics, log)
	require.NoError(t, h.nonces.Start(ctx))

	h.useEstimator(usecase.NewSimulationGasEstimator(chain, nil))
	return h
}

// useEstimator rebuilds the submitter, collector and monitor around estimator
func (h *harness) useEstimator(estimator usecase.GasEstimator) {
	log := discardLogger()
	metrics := usecase.NopMetrics{}
	status := usecase.NewStatusNotifier(h.bus, metrics, log)
	retry := usecase.NewOutOfGasRetryPolicy(h.chain, true, log)
	h.submitter = usecase.NewTransactionSubmitter(h.chain, h.signer, testChainID, h.repo, h.nonces, estimator, nil, status, log)
	h.collector = usecase.NewTransactionCollector(h.repo, h.nonces, h.submitter, h.oracle, staticLiveness(true), h.bus, status, metrics, log)
	h.monitor = usecase.NewTransactionMonitor(h.chain, h.repo, h.nonces, h.submitter, h.oracle, retry, staticLiveness(true),
		h.bus, status, metrics, 2*time.Second, 4, log)
}

// gatedEstimator parks every estimation until release is closed
type gatedEstimator struct {
	entered chan *models.Transaction
	release chan struct{}
}

func newGatedEstimator() *gatedEstimator {
	return &gatedEstimator{
		entered: make(chan *models.Transaction),
		release: make(chan struct{}),
	}
}

func (e *gatedEstimator) EstimateGas(ctx context.Context, tx *models.Transaction) (uint64, error) {
	select {
	case e.entered <- tx:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case <-e.release:
		return 50_000, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *harness) newTransaction(deadline uint64) *models.Transaction {
	return models.NewTransaction(models.TransactionParams{
		From:     h.signer.Address(),
		ChainID:  testChainID,
		To:       common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Calldata: []byte{0xde, 0xad, 0xbe, 0xef},
		Deadline: deadline,
	})
}

func block(number uint64) models.Block {
	return models.Block{
		Number:    number,
		Timestamp: 1_700_000_000 + number*2,
		BaseFee:   new(big.Int).Mul(big.NewInt(10), gwei),
	}
}

var errStoreDown = errors.New("store unavailable")

// stubRegistry knows a single "Token" alias whose transfer takes two arguments
type stubRegistry struct{}

func (stubRegistry) Has(contractName string) bool { return contractName == "Token" }

func (r stubRegistry) Encode(contractName, functionName string, args []any) ([]byte, error) {
	if !r.Has(contractName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrABINotFound, contractName)
	}
	if functionName != "transfer" || len(args) != 2 {
		return nil, fmt.Errorf("%s.%s expects 2 arguments, got %d", contractName, functionName, len(args))
	}
	return []byte{0xa9, 0x05, 0x9c, 0xbb}, nil
}

// backdate moves a stored record's last update to at
func (s *memStore) backdate(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[id.String()]
	r.UpdatedAt = at
	s.records[id.String()] = r
}

func (s *memStore) has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id.String()]
	return ok
}
