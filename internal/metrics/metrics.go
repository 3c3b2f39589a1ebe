package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	MempoolEntries  *prometheus.GaugeVec
	MempoolBytes    *prometheus.GaugeVec
	MempoolOrphans  *prometheus.GaugeVec
	MempoolAdmitted *prometheus.CounterVec
	MempoolRejected *prometheus.CounterVec
	MempoolRemoved  *prometheus.CounterVec

	ChainTipHeight     *prometheus.GaugeVec
	ChainBlocks        *prometheus.CounterVec
	ChainReorgs        *prometheus.CounterVec
	ChainReorgDepth    *prometheus.HistogramVec
	ValidationDuration *prometheus.HistogramVec

	BridgeTransitions *prometheus.CounterVec
	BridgeActive      prometheus.Gauge
	BridgeQuorumTime  prometheus.Histogram

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call from
// every component constructor.
func Init() {
	prometheusMetricsInitOnce.Do(initPrometheusMetrics)
}

func initPrometheusMetrics() {
	MempoolEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mempool_entries",
			Help: "Number of transactions in the mempool",
		},
		[]string{"chain"},
	)
	MempoolBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mempool_bytes",
			Help: "Serialized size of all transactions in the mempool",
		},
		[]string{"chain"},
	)
	MempoolOrphans = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mempool_orphans",
			Help: "Number of transactions parked in the orphan pool",
		},
		[]string{"chain"},
	)
	MempoolAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mempool_admitted",
			Help: "Number of transactions admitted to the mempool",
		},
		[]string{"chain"},
	)
	MempoolRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mempool_rejected",
			Help: "Number of transactions rejected by the mempool",
		},
		[]string{
			"chain",
			"kind", // error class of the rejection
		},
	)
	MempoolRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mempool_removed",
			Help: "Number of transactions removed from the mempool",
		},
		[]string{
			"chain",
			"reason", // confirmed, conflict, expired, evicted, replaced
		},
	)

	ChainTipHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chain_tip_height",
			Help: "Height of the canonical tip",
		},
		[]string{"chain"},
	)
	ChainBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_blocks",
			Help: "Number of submitted blocks by outcome",
		},
		[]string{
			"chain",
			"outcome", // connected, side, rejected
		},
	)
	ChainReorgs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_reorgs",
			Help: "Number of chain reorganizations",
		},
		[]string{"chain"},
	)
	ChainReorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_reorg_depth",
			Help:    "Number of blocks disconnected by a reorganization",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		},
		[]string{"chain"},
	)
	ValidationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "block_validation_seconds",
			Help:    "Time to fully validate a block",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"chain"},
	)

	BridgeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transitions",
			Help: "Number of transfer state transitions",
		},
		[]string{
			"from",
			"to",
		},
	)
	BridgeActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_active_transfers",
			Help: "Number of transfers not yet in a terminal state",
		},
	)
	BridgeQuorumTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_quorum_seconds",
			Help:    "Time to collect a validator quorum",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)
}

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting prometheus endpoint on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
