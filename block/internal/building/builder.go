package building

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/block/internal/common"
	"github.com/evstack/ev-batcher/block/internal/executing"
	"github.com/evstack/ev-batcher/compression"
	"github.com/evstack/ev-batcher/types"
)

const (
	// DefaultNConcurrentTxs is the default number of transactions in flight.
	DefaultNConcurrentTxs = 100
	// DefaultTxPollingInterval is the default wait between empty fetches.
	DefaultTxPollingInterval = 10 * time.Millisecond
)

// BlockExecutor executes the transactions of one block.
type BlockExecutor interface {
	AddTxs(txs []types.Transaction)
	CollectResults() ([]executing.TxResult, error)
	IsHalted() bool
	CloseBlock(ctx context.Context, finalN int) (*executing.BlockSummary, error)
	AbortBlock()
}

var _ BlockExecutor = (*executing.ConcurrentExecutor)(nil)

// Builder builds one block.
type Builder interface {
	Build(ctx context.Context) (*types.BlockExecutionArtifacts, error)
}

// Config configures a single block build.
type Config struct {
	Deadline          time.Time
	NConcurrentTxs    int
	TxPollingInterval time.Duration
	// Validator selects validator semantics: the block must match the
	// streamed proposal, so running out of capacity or time is a failure.
	Validator bool
}

// BlockBuilder runs the build loop of one block until it is sealed, aborted
// or failed.
type BlockBuilder struct {
	executor BlockExecutor
	provider TransactionProvider
	// output receives accepted transactions in block order. Nil for
	// validators.
	output  func(txs []types.Transaction)
	abortCh <-chan struct{}
	config  Config
	metrics *common.Metrics
	logger  zerolog.Logger

	nSubmitted int
	results    []executing.TxResult
}

var _ Builder = (*BlockBuilder)(nil)

// NewBlockBuilder creates a builder. Closing abortCh aborts the build.
func NewBlockBuilder(
	executor BlockExecutor,
	provider TransactionProvider,
	output func(txs []types.Transaction),
	abortCh <-chan struct{},
	config Config,
	metrics *common.Metrics,
	logger zerolog.Logger,
) *BlockBuilder {
	if config.NConcurrentTxs <= 0 {
		config.NConcurrentTxs = DefaultNConcurrentTxs
	}
	if config.TxPollingInterval <= 0 {
		config.TxPollingInterval = DefaultTxPollingInterval
	}

	return &BlockBuilder{
		executor: executor,
		provider: provider,
		output:   output,
		abortCh:  abortCh,
		config:   config,
		metrics:  metrics,
		logger:   logger.With().Str("component", "block_builder").Logger(),
	}
}

// Build runs the loop. It returns ErrBlockBuildAborted on abort and a
// *common.FailOnError when a validator build cannot match the proposal.
func (b *BlockBuilder) Build(ctx context.Context) (*types.BlockExecutionArtifacts, error) {
	start := time.Now()
	defer func() {
		b.metrics.BuildDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		if b.aborted(ctx) {
			b.executor.AbortBlock()
			return nil, common.ErrBlockBuildAborted
		}

		if err := b.collect(ctx); err != nil {
			b.executor.AbortBlock()
			return nil, err
		}

		if finalN, ok := b.provider.GetFinalNExecutedTxs(); ok && len(b.results) >= finalN {
			return b.seal(ctx, finalN, types.BlockCloseReasonValidatorFinished)
		}

		if b.executor.IsHalted() {
			// Pick up the last commits, and a worker failure if that is
			// what halted the executor.
			if err := b.collect(ctx); err != nil {
				b.executor.AbortBlock()
				return nil, err
			}
			if finalN, ok := b.provider.GetFinalNExecutedTxs(); ok && len(b.results) >= finalN {
				return b.seal(ctx, finalN, types.BlockCloseReasonValidatorFinished)
			}
			if b.config.Validator {
				b.executor.AbortBlock()
				return nil, common.NewFailOnError(common.CauseBlockFull, nil)
			}
			return b.seal(ctx, len(b.results), types.BlockCloseReasonFullBlock)
		}

		if !time.Now().Before(b.config.Deadline) {
			if b.config.Validator {
				b.executor.AbortBlock()
				return nil, common.NewFailOnError(common.CauseDeadlineReached, nil)
			}
			return b.seal(ctx, len(b.results), types.BlockCloseReasonDeadline)
		}

		fetched, err := b.fetch(ctx)
		if err != nil {
			b.executor.AbortBlock()
			return nil, err
		}
		if fetched == 0 {
			b.sleep(ctx)
		}
	}
}

func (b *BlockBuilder) aborted(ctx context.Context) bool {
	select {
	case <-b.abortCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// collect drains newly committed results and streams the accepted ones.
func (b *BlockBuilder) collect(ctx context.Context) error {
	results, err := b.executor.CollectResults()
	if err != nil {
		return fmt.Errorf("execute block: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	var accepted []types.Transaction
	for _, r := range results {
		if !r.Rejected() {
			accepted = append(accepted, *r.Tx)
			continue
		}
		if finalN, ok := b.provider.GetFinalNExecutedTxs(); ok && r.Index >= finalN {
			continue
		}
		if b.config.Validator {
			return common.NewFailOnError(common.CauseTransactionFailed, fmt.Errorf("tx %s: %w", r.Hash.Hex(), r.Err))
		}
		b.logger.Debug().Str("tx_hash", r.Hash.Hex()).Err(r.Err).Msg("transaction rejected")
	}
	b.results = append(b.results, results...)

	if b.output != nil && len(accepted) > 0 {
		b.output(accepted)
	}
	return nil
}

// fetch tops the executor up to NConcurrentTxs transactions in flight.
func (b *BlockBuilder) fetch(ctx context.Context) (int, error) {
	inFlight := b.nSubmitted - len(b.results)
	if inFlight >= b.config.NConcurrentTxs {
		return 0, nil
	}

	txs, err := b.provider.GetTxs(ctx, b.config.NConcurrentTxs-inFlight)
	if err != nil {
		var l1Err *L1HandlerValidationError
		if errors.As(err, &l1Err) {
			return 0, common.NewFailOnError(common.CauseL1HandlerTransactionValidationFailed, err)
		}
		return 0, fmt.Errorf("get transactions: %w", err)
	}
	if len(txs) > 0 {
		b.executor.AddTxs(txs)
		b.nSubmitted += len(txs)
	}
	return len(txs), nil
}

func (b *BlockBuilder) sleep(ctx context.Context) {
	wait := min(b.config.TxPollingInterval, time.Until(b.config.Deadline))
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-b.abortCh:
	case <-ctx.Done():
	}
}

// seal closes the block with its first finalN transactions.
func (b *BlockBuilder) seal(ctx context.Context, finalN int, reason types.BlockCloseReason) (*types.BlockExecutionArtifacts, error) {
	summary, err := b.executor.CloseBlock(ctx, finalN)
	if err != nil {
		return nil, fmt.Errorf("close block: %w", err)
	}

	artifacts := types.NewBlockExecutionArtifacts()
	for _, r := range b.results[:finalN] {
		if r.Rejected() {
			artifacts.RejectedTxHashes.Add(r.Hash)
			continue
		}
		artifacts.AddExecutionInfo(r.Info)
		artifacts.L2GasUsed += r.Info.L2GasUsed
		if r.Tx.IsL1Handler() {
			artifacts.ConsumedL1HandlerTxHashes.Add(r.Hash)
		}
	}
	artifacts.StateDiff = summary.StateDiff
	artifacts.BouncerWeights = summary.Weights
	artifacts.FinalNExecutedTxs = finalN
	artifacts.CloseReason = reason

	if artifacts.CompressedStateDiff, err = compression.CompressStateDiff(summary.StateDiff); err != nil {
		return nil, fmt.Errorf("compress state diff: %w", err)
	}

	b.metrics.RecordCloseReason(reason)
	b.metrics.TxsPerBlock.Observe(float64(len(artifacts.TxHashes)))

	b.logger.Info().
		Str("close_reason", string(reason)).
		Int("txs", len(artifacts.TxHashes)).
		Int("rejected", artifacts.RejectedTxHashes.Cardinality()).
		Int("final_n_executed_txs", finalN).
		Msg("block sealed")

	return artifacts, nil
}
