// Package node wires the batcher to its storage, transaction sources and
// a single sequencer consensus driver.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/evstack/ev-batcher/block"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/pkg/converter"
	"github.com/evstack/ev-batcher/pkg/l1provider"
	"github.com/evstack/ev-batcher/pkg/mempool"
	"github.com/evstack/ev-batcher/pkg/store"
)

// Datastore prefixes of the components sharing the node database.
const (
	MempoolPrefix    = "mempool"
	L1ProviderPrefix = "l1"
	ClassesPrefix    = "classes"
)

// Node is a single sequencer node producing blocks with the batcher.
type Node struct {
	nodeConfig config.Config
	logger     zerolog.Logger

	baseStore *store.DefaultStore
	Store     store.Store
	Mempool   *mempool.Mempool
	L1        *l1provider.Provider
	Classes   *converter.ClassManager

	components *block.Components
	driver     *driver

	prometheusSrv *http.Server
	pprofSrv      *http.Server
	ingressSrv    *http.Server
}

// NewNode creates a node on top of database. Mempool and L1 provider state
// persisted by a previous run is reloaded.
func NewNode(
	ctx context.Context,
	nodeConfig config.Config,
	database ds.Batching,
	txExecutor execution.TxExecutor,
	metricsProvider MetricsProvider,
	logger zerolog.Logger,
) (*Node, error) {
	if metricsProvider == nil {
		metricsProvider = DefaultMetricsProvider(nodeConfig.Instrumentation)
	}
	blockMetrics, mempoolMetrics := metricsProvider()

	baseStore := store.New(store.NewBatcherKVStore(database))
	cachedStore, err := store.NewCachedStore(baseStore, store.DefaultStateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cached store: %w", err)
	}
	var batcherStore store.Store = cachedStore
	if nodeConfig.Instrumentation.IsTracingEnabled() {
		batcherStore = store.WithTracingStore(cachedStore)
	}

	height, err := batcherStore.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store height: %w", err)
	}

	pool, err := mempool.NewMempool(database, MempoolPrefix, batcherStore, nodeConfig.Mempool.MaxSize, mempoolMetrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mempool: %w", err)
	}
	if err := pool.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load mempool: %w", err)
	}

	l1 := l1provider.NewProvider(database, L1ProviderPrefix, height, logger)
	if err := l1.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load L1 provider: %w", err)
	}

	classes, err := converter.NewClassManager(database, ClassesPrefix, converter.DefaultClassCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create class manager: %w", err)
	}
	conv := converter.NewConverter(classes)

	components, err := block.NewBatcherComponents(nodeConfig, batcherStore, pool, l1, conv, txExecutor, blockMetrics, logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		nodeConfig: nodeConfig,
		logger:     logger.With().Str("component", "node").Logger(),
		baseStore:  baseStore,
		Store:      batcherStore,
		Mempool:    pool,
		L1:         l1,
		Classes:    classes,
		components: components,
		driver:     newDriver(components.Batcher, baseStore, nodeConfig, logger),
	}

	if addr := nodeConfig.Node.TxIngressAddress; addr != "" {
		n.ingressSrv = &http.Server{
			Addr: addr,
			Handler: newIngressHandler(&ingress{
				converter: conv,
				mempool:   pool,
				l1:        l1,
				height:    batcherStore,
				logger:    logger.With().Str("component", "ingress").Logger(),
			}),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	n.logger.Info().Uint64("height", height).Int("mempool_txs", pool.Size()).Int("pending_l1_txs", l1.PendingCount()).Msg("node created")
	return n, nil
}

// Batcher returns the batcher driven by the node.
func (n *Node) Batcher() *block.Batcher {
	return n.components.Batcher
}

// startInstrumentationServer starts HTTP servers for instrumentation (Prometheus metrics and pprof).
func (n *Node) startInstrumentationServer() (*http.Server, *http.Server) {
	var prometheusServer, pprofServer *http.Server

	if n.nodeConfig.Instrumentation.IsPrometheusEnabled() {
		prometheusMux := http.NewServeMux()
		prometheusMux.Handle("/metrics", promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.nodeConfig.Instrumentation.MaxOpenConnections},
			),
		))

		prometheusServer = &http.Server{
			Addr:              n.nodeConfig.Instrumentation.PrometheusListenAddr,
			Handler:           prometheusMux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		n.serve(prometheusServer, "Prometheus")
	}

	if n.nodeConfig.Instrumentation.IsPprofEnabled() {
		pprofMux := http.NewServeMux()
		pprofMux.HandleFunc("/debug/pprof/", pprof.Index)
		pprofMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		pprofMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		pprofMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		pprofMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		pprofServer = &http.Server{
			Addr:              n.nodeConfig.Instrumentation.GetPprofListenAddr(),
			Handler:           pprofMux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		n.serve(pprofServer, "pprof")
	}

	return prometheusServer, pprofServer
}

func (n *Node) serve(srv *http.Server, name string) {
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Str("server", name).Msg("HTTP server ListenAndServe")
		}
	}()
	n.logger.Info().Str("addr", srv.Addr).Str("server", name).Msg("Started HTTP server")
}

// Run produces blocks until ctx is cancelled, then shuts everything down.
func (n *Node) Run(parentCtx context.Context) error {
	ctx, cancelNode := context.WithCancel(parentCtx)
	defer cancelNode()

	if n.nodeConfig.Instrumentation != nil &&
		(n.nodeConfig.Instrumentation.IsPrometheusEnabled() || n.nodeConfig.Instrumentation.IsPprofEnabled()) {
		n.prometheusSrv, n.pprofSrv = n.startInstrumentationServer()
	}

	if err := n.components.Start(ctx); err != nil {
		return fmt.Errorf("starting block components: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	if n.ingressSrv != nil {
		g.Go(func() error {
			n.logger.Info().Str("addr", n.ingressSrv.Addr).Msg("Started transaction ingress")
			if err := n.ingressSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("transaction ingress: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return n.driver.Run(gCtx)
	})

	var runtimeErr error
	go func() {
		<-gCtx.Done()
		if n.ingressSrv != nil {
			_ = n.ingressSrv.Close()
		}
	}()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		runtimeErr = err
	}

	cancelNode()
	n.logger.Info().Msg("halting node and its sub services...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 9*time.Second)
	defer cancel()

	var shutdownMultiErr error
	if err := n.components.Stop(); err != nil {
		shutdownMultiErr = errors.Join(shutdownMultiErr, fmt.Errorf("stopping block components: %w", err))
	}
	for name, srv := range map[string]*http.Server{"Prometheus": n.prometheusSrv, "pprof": n.pprofSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownMultiErr = errors.Join(shutdownMultiErr, fmt.Errorf("shutting down %s server: %w", name, err))
		}
	}

	// Closed last so pending writes get flushed.
	if err := n.baseStore.Sync(shutdownCtx); err != nil {
		shutdownMultiErr = errors.Join(shutdownMultiErr, fmt.Errorf("syncing store: %w", err))
	}
	if err := n.baseStore.Close(); err != nil {
		shutdownMultiErr = errors.Join(shutdownMultiErr, fmt.Errorf("closing store: %w", err))
	}

	if shutdownMultiErr != nil {
		n.logger.Error().Err(shutdownMultiErr).Msg("error during shutdown")
	} else {
		n.logger.Info().Msg("node halted successfully")
	}
	if runtimeErr != nil {
		return runtimeErr
	}
	if shutdownMultiErr != nil {
		return shutdownMultiErr
	}
	return ctx.Err()
}
