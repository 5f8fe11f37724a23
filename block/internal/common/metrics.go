package common

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/evstack/ev-batcher/types"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "batcher"
)

// Metrics contains all metrics exposed by this package.
type Metrics struct {
	// Proposal lifecycle
	ProposalStarted   metrics.Counter
	ProposalSucceeded metrics.Counter
	ProposalFailed    metrics.Counter
	ProposalAborted   metrics.Counter

	// Transactions
	BatchedTransactions  metrics.Counter
	RejectedTransactions metrics.Counter
	RevertedTransactions metrics.Counter
	ReExecutions         metrics.Counter // Transactions executed again at commit time

	// Blocks
	BlockCloseReasons map[types.BlockCloseReason]metrics.Counter
	FullBlocks        metrics.Counter
	StorageHeight     metrics.Gauge
	BuildDuration     metrics.Histogram
	TxsPerBlock       metrics.Histogram
}

// PrometheusMetrics returns Metrics built using Prometheus client library
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}

	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}

	m := &Metrics{
		ProposalStarted:      counter("proposal_started_total", "Total number of proposals started."),
		ProposalSucceeded:    counter("proposal_succeeded_total", "Total number of proposals that sealed a block."),
		ProposalFailed:       counter("proposal_failed_total", "Total number of proposals that ended with an error."),
		ProposalAborted:      counter("proposal_aborted_total", "Total number of aborted proposals."),
		BatchedTransactions:  counter("batched_transactions_total", "Total number of transactions included in decided blocks."),
		RejectedTransactions: counter("rejected_transactions_total", "Total number of transactions rejected from decided blocks."),
		RevertedTransactions: counter("reverted_transactions_total", "Total number of included transactions that reverted."),
		ReExecutions:         counter("reexecutions_total", "Total number of transactions re-executed while committing."),
		FullBlocks:           counter("full_blocks_total", "Total number of blocks closed because they were full."),
		BlockCloseReasons:    make(map[types.BlockCloseReason]metrics.Counter),
	}

	m.StorageHeight = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "storage_height",
		Help:      "Next height to be committed to storage.",
	}, labels).With(labelsAndValues...)

	m.BuildDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "block_build_duration_seconds",
		Help:      "Duration of block builds in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, labels).With(labelsAndValues...)

	m.TxsPerBlock = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "txs_per_block",
		Help:      "Number of transactions per block",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, labels).With(labelsAndValues...)

	for _, reason := range types.AllBlockCloseReasons() {
		m.BlockCloseReasons[reason] = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "block_close_reason_total",
			Help:      "Total number of closed blocks by reason",
			ConstLabels: map[string]string{
				"reason": string(reason),
			},
		}, labels).With(labelsAndValues...)
	}

	return m
}

// NopMetrics returns no-op Metrics
func NopMetrics() *Metrics {
	m := &Metrics{
		ProposalStarted:      discard.NewCounter(),
		ProposalSucceeded:    discard.NewCounter(),
		ProposalFailed:       discard.NewCounter(),
		ProposalAborted:      discard.NewCounter(),
		BatchedTransactions:  discard.NewCounter(),
		RejectedTransactions: discard.NewCounter(),
		RevertedTransactions: discard.NewCounter(),
		ReExecutions:         discard.NewCounter(),
		FullBlocks:           discard.NewCounter(),
		StorageHeight:        discard.NewGauge(),
		BuildDuration:        discard.NewHistogram(),
		TxsPerBlock:          discard.NewHistogram(),
		BlockCloseReasons:    make(map[types.BlockCloseReason]metrics.Counter),
	}

	for _, reason := range types.AllBlockCloseReasons() {
		m.BlockCloseReasons[reason] = discard.NewCounter()
	}

	return m
}

// RecordCloseReason counts a sealed block by close reason.
func (m *Metrics) RecordCloseReason(reason types.BlockCloseReason) {
	if c, ok := m.BlockCloseReasons[reason]; ok {
		c.Add(1)
	}
	if reason == types.BlockCloseReasonFullBlock {
		m.FullBlocks.Add(1)
	}
}
