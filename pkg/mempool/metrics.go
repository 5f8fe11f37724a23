package mempool

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
const MetricsSubsystem = "mempool"

// Metrics contains the mempool metrics.
type Metrics struct {
	Size         metrics.Gauge
	Staged       metrics.Gauge
	AddedTxs     metrics.Counter
	RefusedTxs   metrics.Counter
	CommittedTxs metrics.Counter
	EvictedTxs   metrics.Counter
	RewoundTxs   metrics.Counter
}

// PrometheusMetrics returns Metrics built using Prometheus client library
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}

	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}

	return &Metrics{
		Size:         gauge("size", "Number of transactions waiting to be proposed."),
		Staged:       gauge("staged", "Number of transactions handed to a proposal and not yet decided."),
		AddedTxs:     counter("added_txs_total", "Total number of accepted transactions."),
		RefusedTxs:   counter("refused_txs_total", "Total number of transactions refused on admission."),
		CommittedTxs: counter("committed_txs_total", "Total number of transactions included in decided blocks."),
		EvictedTxs:   counter("evicted_txs_total", "Total number of transactions evicted as rejected or stale."),
		RewoundTxs:   counter("rewound_txs_total", "Total number of staged transactions returned to the queue."),
	}
}

// NopMetrics returns no-op Metrics
func NopMetrics() *Metrics {
	return &Metrics{
		Size:         discard.NewGauge(),
		Staged:       discard.NewGauge(),
		AddedTxs:     discard.NewCounter(),
		RefusedTxs:   discard.NewCounter(),
		CommittedTxs: discard.NewCounter(),
		EvictedTxs:   discard.NewCounter(),
		RewoundTxs:   discard.NewCounter(),
	}
}
