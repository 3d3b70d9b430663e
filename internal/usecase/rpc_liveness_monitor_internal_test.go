package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRpcLivenessMonitor(t *testing.T) {
	cfg := config.LivenessConfig{
		Window:        10 * time.Second,
		Threshold:     0.5,
		SuccessCount:  2,
		DownDelay:     5 * time.Millisecond,
		CheckInterval: 5 * time.Millisecond,
	}

	var healthy atomic.Bool
	var probes atomic.Int32
	probe := func(context.Context) error {
		probes.Add(1)
		if !healthy.Load() {
			return errors.New("connection refused")
		}
		return nil
	}

	bus := NewEventBus(testLogger())
	var downs, ups atomic.Int32
	On(bus, func(context.Context, domain.RpcIsDownEvent) error {
		downs.Add(1)
		return nil
	})
	On(bus, func(context.Context, domain.RpcIsUpEvent) error {
		ups.Add(1)
		return nil
	})

	m := NewRpcLivenessMonitor(cfg, probe, bus, NopMetrics{}, testLogger())
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.TrackSuccess()
	m.TrackSuccess()
	m.TrackError()
	assert.True(t, m.IsAlive())
	ratio, calls := m.SuccessRatio()
	assert.InDelta(t, 2.0/3.0, ratio, 1e-9)
	assert.Equal(t, 3, calls)

	// exactly at the threshold is still alive
	m.TrackError()
	assert.True(t, m.IsAlive())

	m.TrackError()
	assert.False(t, m.IsAlive())
	assert.Equal(t, int32(1), downs.Load())

	// further errors while down publish nothing new
	m.TrackError()
	assert.Equal(t, int32(1), downs.Load())

	assert.Eventually(t, func() bool { return probes.Load() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, m.IsAlive())

	healthy.Store(true)
	assert.Eventually(t, m.IsAlive, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), ups.Load())

	// the window restarts empty after recovery
	_, calls = m.SuccessRatio()
	assert.Zero(t, calls)
}

func TestRpcLivenessMonitor_WindowExpires(t *testing.T) {
	cfg := config.LivenessConfig{Window: 3 * time.Second, Threshold: 0.5, SuccessCount: 1, DownDelay: time.Hour, CheckInterval: time.Hour}
	m := NewRpcLivenessMonitor(cfg, func(context.Context) error { return nil }, NewEventBus(testLogger()), NopMetrics{}, testLogger())
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.TrackSuccess()
	m.TrackSuccess()
	m.TrackSuccess()
	now = now.Add(5 * time.Second)
	_, calls := m.SuccessRatio()
	assert.Zero(t, calls)

	m.TrackSuccess()
	m.TrackError()
	assert.True(t, m.IsAlive())

	// the expired successes no longer hold the ratio up
	m.TrackError()
	assert.False(t, m.IsAlive())
}

func TestBlockMailbox(t *testing.T) {
	t.Run("keeps only the newest queued block", func(t *testing.T) {
		mb := newBlockMailbox()
		mb.Put(models.Block{Number: 3})
		mb.Put(models.Block{Number: 5})
		mb.Put(models.Block{Number: 4})

		got := <-mb.ch
		assert.Equal(t, uint64(5), got.Number)
		assert.Empty(t, mb.ch)
	})

	t.Run("processes blocks sequentially", func(t *testing.T) {
		mb := newBlockMailbox()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var (
			mu        sync.Mutex
			processed []uint64
			running   atomic.Int32
			overlap   atomic.Bool
		)
		release := make(chan struct{})
		go mb.run(ctx, testLogger(), func(_ context.Context, b models.Block) error {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			defer running.Add(-1)
			if b.Number == 1 {
				<-release
			}
			mu.Lock()
			processed = append(processed, b.Number)
			mu.Unlock()
			return nil
		})

		mb.Put(models.Block{Number: 1})
		assert.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, time.Millisecond)
		// block 2 is superseded by block 3 while block 1 is being processed
		mb.Put(models.Block{Number: 2})
		mb.Put(models.Block{Number: 3})
		close(release)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(processed) == 2
		}, time.Second, time.Millisecond)
		mu.Lock()
		assert.Equal(t, []uint64{1, 3}, processed)
		mu.Unlock()
		assert.False(t, overlap.Load())
	})
}
