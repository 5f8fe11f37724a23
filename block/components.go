package block

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/block/internal/batching"
	"github.com/evstack/ev-batcher/block/internal/pruner"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/pkg/telemetry"
)

// Components represents the block production components of a sequencer node.
type Components struct {
	Batcher *Batcher
	Storage Storage
	Mempool MempoolClient
	L1      L1ProviderClient

	// Pruner is set when the storage supports pruning revert data and a
	// recovery history depth is configured.
	Pruner *pruner.Pruner
}

// PrunableStorage is a Storage whose revert data can be pruned.
type PrunableStorage interface {
	Storage
	DeleteRevertDataAtHeight(ctx context.Context, height uint64) error
}

// Start starts the background components.
func (bc *Components) Start(ctx context.Context) error {
	if bc.Pruner != nil {
		return bc.Pruner.Start(ctx)
	}
	return nil
}

// Stop aborts any proposal still building and stops the background components.
func (bc *Components) Stop() error {
	if bc.Batcher != nil {
		bc.Batcher.Close()
	}
	if bc.Pruner != nil {
		return bc.Pruner.Stop()
	}
	return nil
}

// BatcherConfigFromConfig maps the node configuration onto the batcher.
func BatcherConfigFromConfig(cfg config.Config) BatcherConfig {
	return BatcherConfig{
		OutputContentChunkSize:  cfg.Batcher.OutputContentChunkSize,
		StoredBlockHashBuffer:   cfg.Batcher.StoredBlockHashBuffer,
		MaxL1HandlerTxsPerBlock: cfg.Batcher.MaxL1HandlerTxsPerBlock,
		ProposalTimeout:         cfg.Builder.ProposalDeadline.Duration,
		ValidationTimeout:       cfg.Builder.ValidationDeadline.Duration,
		NConcurrentTxs:          cfg.Builder.NConcurrentTxs,
		NWorkers:                cfg.Builder.NWorkers,
		TxPollingInterval:       cfg.Builder.TxPollingInterval.Duration,
		BouncerCapacity:         cfg.Bouncer.Weights(),
		FeeTokenAddress:         cfg.Chain.GetFeeTokenAddress(),
	}
}

// NewBatcherComponents creates the batcher and wires it to its collaborators.
// The transaction executor is traced when tracing is enabled.
func NewBatcherComponents(
	cfg config.Config,
	storage Storage,
	mempool MempoolClient,
	l1 L1ProviderClient,
	converter TransactionConverter,
	txExecutor execution.TxExecutor,
	metrics *Metrics,
	logger zerolog.Logger,
) (*Components, error) {
	var errs error
	if storage == nil {
		errs = errors.Join(errs, errors.New("storage is required"))
	}
	if mempool == nil {
		errs = errors.Join(errs, errors.New("mempool client is required"))
	}
	if l1 == nil {
		errs = errors.Join(errs, errors.New("L1 provider client is required"))
	}
	if converter == nil {
		errs = errors.Join(errs, errors.New("transaction converter is required"))
	}
	if txExecutor == nil {
		errs = errors.Join(errs, errors.New("transaction executor is required"))
	}
	if errs != nil {
		return nil, fmt.Errorf("failed to create batcher components: %w", errs)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}

	if cfg.Instrumentation.IsTracingEnabled() {
		txExecutor = telemetry.WithTracingTxExecutor(txExecutor)
	}

	batcher := batching.NewBatcher(
		BatcherConfigFromConfig(cfg),
		storage,
		mempool,
		l1,
		converter,
		txExecutor,
		metrics,
		logger,
	)

	comps := &Components{
		Batcher: batcher,
		Storage: storage,
		Mempool: mempool,
		L1:      l1,
	}
	if prunable, ok := storage.(PrunableStorage); ok && cfg.Node.RecoveryHistoryDepth > 0 {
		comps.Pruner = pruner.New(logger, prunable, cfg.Node.RecoveryHistoryDepth)
	}
	return comps, nil
}
