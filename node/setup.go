package node

import (
	"time"

	"github.com/evstack/ev-batcher/block"
	"github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/pkg/mempool"
)

const readHeaderTimeout = 10 * time.Second

// MetricsProvider returns the block production and mempool metrics.
type MetricsProvider func() (*block.Metrics, *mempool.Metrics)

// DefaultMetricsProvider returns Metrics build using Prometheus client library
// if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(config *config.InstrumentationConfig) MetricsProvider {
	return func() (*block.Metrics, *mempool.Metrics) {
		if config != nil && config.Prometheus {
			return block.PrometheusMetrics(config.Namespace), mempool.PrometheusMetrics(config.Namespace)
		}
		return block.NopMetrics(), mempool.NopMetrics()
	}
}
