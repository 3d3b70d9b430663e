package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
)

// LivenessProbe is the cheap idempotent call used while the RPC is down
type LivenessProbe func(ctx context.Context) error

type livenessBucket struct {
	second  int64
	success int
	errors  int
}

// RpcLivenessMonitor tracks the success ratio of chain calls over a sliding
// window of one-second buckets. When the ratio falls below the threshold the
// RPC is considered down until enough consecutive probes succeed.
type RpcLivenessMonitor struct {
	cfg     config.LivenessConfig
	probe   LivenessProbe
	bus     *EventBus
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	buckets []livenessBucket
	alive   bool
	probing bool
}

// NewRpcLivenessMonitor creates a monitor that starts in the alive state
func NewRpcLivenessMonitor(cfg config.LivenessConfig, probe LivenessProbe, bus *EventBus, metrics Metrics, log *slog.Logger) *RpcLivenessMonitor {
	size := int(cfg.Window / time.Second)
	if size < 1 {
		size = 1
	}
	return &RpcLivenessMonitor{
		cfg:     cfg,
		probe:   probe,
		bus:     bus,
		metrics: metrics,
		log:     log.With("component", "RpcLivenessMonitor"),
		now:     time.Now,
		ctx:     context.Background(),
		buckets: make([]livenessBucket, size),
		alive:   true,
	}
}

// Start binds the probe loop to ctx
func (m *RpcLivenessMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.metrics.SetRPCAlive(true)
}

// IsAlive reports whether submissions should proceed
func (m *RpcLivenessMonitor) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

// TrackSuccess records a successful chain call
func (m *RpcLivenessMonitor) TrackSuccess() {
	m.track(true)
}

// TrackError records a failed chain call
func (m *RpcLivenessMonitor) TrackError() {
	m.track(false)
}

func (m *RpcLivenessMonitor) track(success bool) {
	m.mu.Lock()
	second := m.now().Unix()
	b := &m.buckets[int(second%int64(len(m.buckets)))]
	if b.second != second {
		*b = livenessBucket{second: second}
	}
	if success {
		b.success++
	} else {
		b.errors++
	}

	if !m.alive || success {
		m.mu.Unlock()
		return
	}
	ratio, total := m.ratioLocked(second)
	if total == 0 || ratio >= m.cfg.Threshold {
		m.mu.Unlock()
		return
	}
	m.alive = false
	startProbe := !m.probing
	m.probing = true
	ctx := m.ctx
	m.mu.Unlock()

	m.log.Warn("rpc is down", "success_ratio", ratio, "calls", total)
	m.metrics.SetRPCAlive(false)
	m.bus.Publish(ctx, domain.RpcIsDownEvent{})
	if startProbe {
		go m.probeUntilHealthy(ctx)
	}
}

// SuccessRatio returns the ratio over the current window and the number of calls in it
func (m *RpcLivenessMonitor) SuccessRatio() (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ratioLocked(m.now().Unix())
}

func (m *RpcLivenessMonitor) ratioLocked(now int64) (float64, int) {
	var success, total int
	oldest := now - int64(len(m.buckets)) + 1
	for _, b := range m.buckets {
		if b.second < oldest || b.second > now {
			continue
		}
		success += b.success
		total += b.success + b.errors
	}
	if total == 0 {
		return 1, 0
	}
	return float64(success) / float64(total), total
}

// probeUntilHealthy waits the down delay, then probes until the configured
// number of consecutive successes is reached
func (m *RpcLivenessMonitor) probeUntilHealthy(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.probing = false
		m.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.DownDelay):
	}

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	consecutive := 0
	for {
		if err := m.probe(ctx); err != nil {
			consecutive = 0
			m.log.Debug("liveness probe failed", "error", err)
		} else {
			consecutive++
		}

		if consecutive >= m.cfg.SuccessCount {
			m.mu.Lock()
			for i := range m.buckets {
				m.buckets[i] = livenessBucket{}
			}
			m.alive = true
			m.mu.Unlock()

			m.log.Info("rpc is up", "probes", consecutive)
			m.metrics.SetRPCAlive(true)
			m.bus.Publish(ctx, domain.RpcIsUpEvent{})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
