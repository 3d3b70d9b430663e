package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
)

const namespace = "txm"

// Prometheus implements usecase.Metrics on its own registry
type Prometheus struct {
	registry *prometheus.Registry

	rpcCalls           *prometheus.CounterVec
	rpcErrors          *prometheus.CounterVec
	rpcLatency         *prometheus.HistogramVec
	rpcAlive           prometheus.Gauge
	latestBlock        prometheus.Gauge
	nextNonce          prometheus.Gauge
	returnedNonces     prometheus.Counter
	collected          prometheus.Counter
	notFinalized       prometheus.Gauge
	statusChanges      *prometheus.CounterVec
	attemptsUntilFinal prometheus.Histogram
	inclusionBlocks    prometheus.Histogram
	retried            prometheus.Counter
	storeOps           *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
	storeLatency       *prometheus.HistogramVec
}

// NewPrometheus registers every collector, labelled with the chain id
func NewPrometheus(cfg *config.RuntimeConfig) *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{
		"chain_id": strconv.FormatUint(cfg.ChainID, 10),
	}, reg))

	return &Prometheus{
		registry: reg,
		rpcCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rpc_calls_total", Help: "RPC calls by method.",
		}, []string{"method"}),
		rpcErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rpc_errors_total", Help: "Failed RPC calls by method.",
		}, []string{"method"}),
		rpcLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rpc_duration_seconds", Help: "RPC call latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method"}),
		rpcAlive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rpc_alive", Help: "1 while the RPC is considered healthy.",
		}),
		latestBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "latest_block", Help: "Number of the last processed block.",
		}),
		nextNonce: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "next_nonce", Help: "Next nonce to be handed out.",
		}),
		returnedNonces: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "returned_nonces_total", Help: "Nonces given back after failed submissions.",
		}),
		collected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "collected_transactions_total", Help: "Transactions collected from originators.",
		}),
		notFinalized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "not_finalized_transactions", Help: "Transactions not yet in a terminal status.",
		}),
		statusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_changes_total", Help: "Transaction status transitions by target status.",
		}, []string{"status"}),
		attemptsUntilFinal: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "attempts_until_finalization", Help: "Attempts a transaction needed before finalizing.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		inclusionBlocks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "inclusion_blocks", Help: "Blocks between collection and inclusion.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		retried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retried_transactions_total", Help: "Reverted transactions retried with a new nonce.",
		}),
		storeOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_operations_total", Help: "Store operations by kind.",
		}, []string{"op"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total", Help: "Failed store operations by kind.",
		}, []string{"op"}),
		storeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "store_duration_seconds", Help: "Store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) ObserveRPC(method string, duration time.Duration, err error) {
	p.rpcCalls.WithLabelValues(method).Inc()
	p.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
	if err != nil {
		p.rpcErrors.WithLabelValues(method).Inc()
	}
}

func (p *Prometheus) SetRPCAlive(alive bool) {
	if alive {
		p.rpcAlive.Set(1)
		return
	}
	p.rpcAlive.Set(0)
}

func (p *Prometheus) SetLatestBlock(number uint64) { p.latestBlock.Set(float64(number)) }
func (p *Prometheus) SetNextNonce(nonce uint64)    { p.nextNonce.Set(float64(nonce)) }
func (p *Prometheus) IncReturnedNonces()           { p.returnedNonces.Inc() }
func (p *Prometheus) AddCollected(n int)           { p.collected.Add(float64(n)) }
func (p *Prometheus) SetNotFinalized(n int)        { p.notFinalized.Set(float64(n)) }
func (p *Prometheus) IncRetried()                  { p.retried.Inc() }

func (p *Prometheus) IncStatusChange(status models.TransactionStatus) {
	p.statusChanges.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) ObserveAttemptsUntilFinalization(attempts int) {
	p.attemptsUntilFinal.Observe(float64(attempts))
}

func (p *Prometheus) ObserveInclusionBlocks(blocks uint64) {
	p.inclusionBlocks.Observe(float64(blocks))
}

func (p *Prometheus) ObserveStore(op string, duration time.Duration, err error) {
	p.storeOps.WithLabelValues(op).Inc()
	p.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		p.storeErrors.WithLabelValues(op).Inc()
	}
}

var _ usecase.Metrics = (*Prometheus)(nil)
