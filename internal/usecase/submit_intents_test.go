package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

type staticIntents struct {
	params []models.TransactionParams
	err    error
}

func (s staticIntents) Load(string) ([]models.TransactionParams, error) {
	return s.params, s.err
}

type recordingProgress struct {
	usecase.NopProgress
	mu     sync.Mutex
	events []usecase.ProgressEvent
}

func (r *recordingProgress) OnProgress(_ context.Context, e usecase.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingProgress) last() usecase.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func twoIntents() staticIntents {
	return staticIntents{params: []models.TransactionParams{
		{To: common.HexToAddress("0xaa"), Calldata: []byte{0x01}},
		{To: common.HexToAddress("0xbb"), Calldata: []byte{0x02}},
	}}
}

func TestSubmitIntents_RunAndWait(t *testing.T) {
	chain := newFakeChain()
	m, err := usecase.NewTransactionManager(newManagerConfig(), chain, newKeySigner(t), newMemStore(), nil, usecase.NopMetrics{}, usecase.Plugins{}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	progress := &recordingProgress{}
	uc := usecase.NewSubmitIntents(m, twoIntents(), progress, discardLogger())

	type outcome struct {
		result *usecase.SubmitIntentsResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := uc.Run(ctx, usecase.SubmitIntentsParams{Path: "intents.yaml", Wait: true})
		done <- outcome{result, err}
	}()

	require.Eventually(t, func() bool { return len(chain.sentTransactions()) == 2 }, time.Second, 5*time.Millisecond)
	for _, tx := range chain.sentTransactions() {
		chain.mine(tx.Hash(), types.ReceiptStatusSuccessful, 30_000, 2)
	}
	chain.advance()

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.result.Finalized)
	require.Len(t, out.result.Transactions, 2)
	for _, tx := range out.result.Transactions {
		assert.Equal(t, models.TransactionStatusSuccess, tx.Status())
	}

	final := progress.last()
	assert.Equal(t, "waiting", final.Stage)
	assert.Equal(t, 2, final.Current)
	assert.False(t, final.Spinner)
}

func TestSubmitIntents_Errors(t *testing.T) {
	m, err := usecase.NewTransactionManager(newManagerConfig(), newFakeChain(), newKeySigner(t), newMemStore(), nil, usecase.NopMetrics{}, usecase.Plugins{}, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("unreadable file", func(t *testing.T) {
		uc := usecase.NewSubmitIntents(m, staticIntents{err: errors.New("no such file")}, usecase.NopProgress{}, discardLogger())
		_, err := uc.Run(ctx, usecase.SubmitIntentsParams{Path: "missing.yaml"})
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		uc := usecase.NewSubmitIntents(m, staticIntents{}, usecase.NopProgress{}, discardLogger())
		_, err := uc.Queue("empty.yaml")
		assert.Error(t, err)
	})

	t.Run("unknown abi alias", func(t *testing.T) {
		source := staticIntents{params: []models.TransactionParams{{ContractName: "Token", FunctionName: "transfer"}}}
		uc := usecase.NewSubmitIntents(m, source, usecase.NopProgress{}, discardLogger())
		_, err := uc.Run(ctx, usecase.SubmitIntentsParams{Path: "intents.yaml"})
		assert.Error(t, err)
		listed, err := m.ListTransactions(ctx)
		require.NoError(t, err)
		assert.Empty(t, listed)
	})
}

func TestSubmitIntents_QueueCollectsOnce(t *testing.T) {
	chain := newFakeChain()
	m, err := usecase.NewTransactionManager(newManagerConfig(), chain, newKeySigner(t), newMemStore(), nil, usecase.NopMetrics{}, usecase.Plugins{}, discardLogger())
	require.NoError(t, err)

	uc := usecase.NewSubmitIntents(m, twoIntents(), usecase.NopProgress{}, discardLogger())
	n, err := uc.Queue("intents.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool { return len(chain.sentTransactions()) == 2 }, time.Second, 5*time.Millisecond)

	var blocks atomic.Int32
	m.AddHook(domain.HookNewBlock, func(context.Context, domain.Event) error {
		blocks.Add(1)
		return nil
	})
	chain.advance()
	require.Eventually(t, func() bool { return blocks.Load() >= 1 }, time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		listed, err := m.ListTransactions(ctx)
		return err != nil || len(listed) != 2
	}, 100*time.Millisecond, 10*time.Millisecond)
}
