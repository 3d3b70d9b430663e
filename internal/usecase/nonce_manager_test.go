package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// MockNonceHistory is a mock implementation of NonceHistory
type MockNonceHistory struct {
	mock.Mock
}

func (m *MockNonceHistory) GetHighestNonce(ctx context.Context) (uint64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *MockNonceHistory) GetNotReservedNoncesInRange(ctx context.Context, from, to uint64) ([]uint64, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

var testAddress = common.HexToAddress("0x00000000000000000000000000000000000000f1")

func newNonceManager(t *testing.T, chainCount uint64, history *MockNonceHistory) *usecase.NonceManager {
	t.Helper()
	chain := newFakeChain()
	chain.setNonce(chainCount)
	n := usecase.NewNonceManager(chain, history, testAddress, usecase.NopMetrics{}, discardLogger())
	require.NoError(t, n.Start(context.Background()))
	return n
}

func TestNonceManager_Start(t *testing.T) {
	t.Run("empty history starts at chain count", func(t *testing.T) {
		history := &MockNonceHistory{}
		history.On("GetHighestNonce", mock.Anything).Return(uint64(0), false, nil)

		n := newNonceManager(t, 7, history)

		assert.Equal(t, uint64(7), n.RequestNonce())
		assert.Equal(t, uint64(8), n.RequestNonce())
		assert.Equal(t, uint64(7), n.ExecutedCount())
		history.AssertNotCalled(t, "GetNotReservedNoncesInRange", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("gaps in stored nonces are reused first", func(t *testing.T) {
		history := &MockNonceHistory{}
		history.On("GetHighestNonce", mock.Anything).Return(uint64(8), true, nil)
		history.On("GetNotReservedNoncesInRange", mock.Anything, uint64(5), uint64(8)).Return([]uint64{7, 6}, nil)

		n := newNonceManager(t, 5, history)

		assert.Equal(t, []uint64{6, 7}, n.ReturnedNonces())
		assert.Equal(t, uint64(6), n.RequestNonce())
		assert.Equal(t, uint64(7), n.RequestNonce())
		assert.Equal(t, uint64(9), n.RequestNonce())
		history.AssertExpectations(t)
	})

	t.Run("stored nonces below chain count are ignored", func(t *testing.T) {
		history := &MockNonceHistory{}
		history.On("GetHighestNonce", mock.Anything).Return(uint64(3), true, nil)

		n := newNonceManager(t, 10, history)

		assert.Equal(t, uint64(10), n.RequestNonce())
		assert.Empty(t, n.ReturnedNonces())
	})

	t.Run("history failure aborts start", func(t *testing.T) {
		history := &MockNonceHistory{}
		history.On("GetHighestNonce", mock.Anything).Return(uint64(0), false, errors.New("disk full"))

		n := usecase.NewNonceManager(newFakeChain(), history, testAddress, usecase.NopMetrics{}, discardLogger())
		err := n.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestNonceManager_ReturnNonce(t *testing.T) {
	history := &MockNonceHistory{}
	history.On("GetHighestNonce", mock.Anything).Return(uint64(0), false, nil)
	n := newNonceManager(t, 3, history)

	a, b, c := n.RequestNonce(), n.RequestNonce(), n.RequestNonce()
	require.Equal(t, []uint64{3, 4, 5}, []uint64{a, b, c})

	n.ReturnNonce(5)
	n.ReturnNonce(4)
	n.ReturnNonce(4)
	// outside the reserved range
	n.ReturnNonce(2)
	n.ReturnNonce(6)

	assert.Equal(t, []uint64{4, 5}, n.ReturnedNonces())
	assert.Equal(t, uint64(4), n.RequestNonce())
	assert.Equal(t, uint64(5), n.RequestNonce())
	assert.Equal(t, uint64(6), n.RequestNonce())
}

func TestNonceManager_Resync(t *testing.T) {
	history := &MockNonceHistory{}
	history.On("GetHighestNonce", mock.Anything).Return(uint64(0), false, nil)
	chain := newFakeChain()
	n := usecase.NewNonceManager(chain, history, testAddress, usecase.NopMetrics{}, discardLogger())
	require.NoError(t, n.Start(context.Background()))

	for range 4 {
		n.RequestNonce()
	}
	n.ReturnNonce(1)
	n.ReturnNonce(3)

	chain.setNonce(2)
	require.NoError(t, n.Resync(context.Background()))
	assert.Equal(t, uint64(2), n.ExecutedCount())
	assert.Equal(t, []uint64{3}, n.ReturnedNonces())

	// another sender raced ahead of the local counter
	chain.setNonce(9)
	require.NoError(t, n.Resync(context.Background()))
	assert.Empty(t, n.ReturnedNonces())
	assert.Equal(t, uint64(9), n.RequestNonce())

	// the watermark never moves backwards
	chain.setNonce(1)
	require.NoError(t, n.Resync(context.Background()))
	assert.Equal(t, uint64(9), n.ExecutedCount())
}

func TestNonceManager_ConcurrentRequestsAreUnique(t *testing.T) {
	history := &MockNonceHistory{}
	history.On("GetHighestNonce", mock.Anything).Return(uint64(0), false, nil)
	n := newNonceManager(t, 0, history)

	const workers, perWorker = 16, 50
	var (
		mu   sync.Mutex
		seen = make(map[uint64]int)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				nonce := n.RequestNonce()
				if i%5 == 0 {
					n.ReturnNonce(nonce)
					continue
				}
				mu.Lock()
				seen[nonce]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for nonce, count := range seen {
		assert.Equal(t, 1, count, "nonce %d handed out %d times", nonce, count)
	}
	assert.Len(t, seen, workers*perWorker*4/5)
}
