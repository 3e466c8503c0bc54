// Package metrics registers the prometheus collectors of the daemon.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Proposals       *prometheus.CounterVec
	Rollbacks       *prometheus.CounterVec
	Finalized       prometheus.Counter
	Blocks          prometheus.Counter
	PoolDepth       *prometheus.GaugeVec
	PoolCustody     *prometheus.GaugeVec
	Reconciliations *prometheus.CounterVec
	WatcherHeight   prometheus.Gauge
	Reorgs          prometheus.Counter

	initOnce sync.Once
)

// Init registers the collectors with the default registry once.
func Init() {
	initOnce.Do(register)
}

func register() {
	Proposals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Name:      "proposals_total",
			Help:      "Number of spend proposals by result",
		},
		[]string{"result"},
	)
	Rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Name:      "rollbacks_total",
			Help:      "Number of rollback notices by outcome",
		},
		[]string{"outcome"},
	)
	Finalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poold",
			Name:      "finalized_total",
			Help:      "Number of transactions finalized",
		},
	)
	Blocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poold",
			Name:      "blocks_total",
			Help:      "Number of block notifications processed",
		},
	)
	PoolDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Name:      "pool_state_depth",
			Help:      "Retained custody states per pool",
		},
		[]string{"pool"},
	)
	PoolCustody = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Name:      "pool_custody_sats",
			Help:      "Value of the head custody UTXO per pool",
		},
		[]string{"pool"},
	)
	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Name:      "reconciliations_total",
			Help:      "Number of deposit reconciliations by result",
		},
		[]string{"result"},
	)
	WatcherHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Name:      "watcher_height",
			Help:      "Last block height processed by the chain watcher",
		},
	)
	Reorgs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poold",
			Name:      "reorgs_total",
			Help:      "Number of chain reorganizations detected",
		},
	)
}
