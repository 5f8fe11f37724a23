package executing

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/evstack/ev-batcher/block/internal/bouncer"
	"github.com/evstack/ev-batcher/block/internal/common"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

// DefaultNWorkers is the worker pool size used when none is configured.
const DefaultNWorkers = 4

// BlockSummary is the combined effect of the committed prefix of a block.
type BlockSummary struct {
	StateDiff *types.StateDiff
	Weights   types.BouncerWeights
	NTxs      int
}

// ConcurrentExecutor executes the transactions of one block on a pool of
// workers. Transactions may be added while the block is being executed;
// results are collected in index order.
type ConcurrentExecutor struct {
	scheduler *Scheduler
	state     *VersionedState
	worker    *WorkerExecutor
	bouncer   *bouncer.Bouncer

	cancel context.CancelFunc
	g      *errgroup.Group

	// accessed by the single collecting goroutine
	nCollected int

	stopOnce sync.Once
	// done is closed once every worker returned.
	done   chan struct{}
	runErr error

	logger zerolog.Logger
}

// NewConcurrentExecutor starts nWorkers workers executing against base. The
// executor must be closed with CloseBlock or AbortBlock.
func NewConcurrentExecutor(
	ctx context.Context,
	base execution.StateReader,
	exec execution.TxExecutor,
	capacity types.BouncerWeights,
	blockCtx execution.BlockContext,
	nWorkers int,
	metrics *common.Metrics,
	logger zerolog.Logger,
) *ConcurrentExecutor {
	if nWorkers <= 0 {
		nWorkers = DefaultNWorkers
	}

	logger = logger.With().
		Str("component", "concurrent_executor").
		Uint64("height", blockCtx.BlockInfo.Height).
		Logger()

	scheduler := NewScheduler()
	state := NewVersionedState(base)
	b := bouncer.New(capacity)

	e := &ConcurrentExecutor{
		scheduler: scheduler,
		state:     state,
		bouncer:   b,
		worker:    NewWorkerExecutor(scheduler, state, exec, b, blockCtx, metrics.ReExecutions, logger),
		done:      make(chan struct{}),
		logger:    logger,
	}

	var workerCtx context.Context
	workerCtx, e.cancel = context.WithCancel(ctx)
	e.g, workerCtx = errgroup.WithContext(workerCtx)
	for range nWorkers {
		e.g.Go(func() error {
			return e.worker.Run(workerCtx)
		})
	}
	return e
}

// AddTxs streams more transactions into the block.
func (e *ConcurrentExecutor) AddTxs(txs []types.Transaction) {
	e.worker.AddTxs(txs)
}

// CollectResults returns the results finalized since the previous call, in
// index order. A worker failure is returned once the scheduler has halted.
func (e *ConcurrentExecutor) CollectResults() ([]TxResult, error) {
	n := e.worker.NFinalized()
	var out []TxResult
	for ; e.nCollected < n; e.nCollected++ {
		out = append(out, e.worker.Result(e.nCollected))
	}
	if e.scheduler.IsHalted() && e.worker.NFinalized() == n {
		e.stop()
		if err := e.worker.Err(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// IsHalted reports whether execution stopped on its own, because the block
// is full or a worker failed.
func (e *ConcurrentExecutor) IsHalted() bool {
	return e.scheduler.IsHalted()
}

// CloseBlock stops the workers and summarizes the first finalN transactions.
// finalN must not exceed the number of collected results. It does not wait
// for transactions still executing: their indices are past the committed
// prefix, so they cannot change the summary.
func (e *ConcurrentExecutor) CloseBlock(ctx context.Context, finalN int) (*BlockSummary, error) {
	e.stop()
	if err := e.worker.Err(); err != nil {
		return nil, err
	}
	if finalN < 0 || finalN > e.nCollected {
		return nil, fmt.Errorf("close block with %d txs: only %d collected", finalN, e.nCollected)
	}

	diff, err := e.state.StateDiff(ctx, finalN)
	if err != nil {
		return nil, fmt.Errorf("compute state diff: %w", err)
	}

	// The bouncer may already count commits made after the last collect.
	var weights types.BouncerWeights
	for i := range finalN {
		if r := e.worker.Result(i); !r.Rejected() {
			weights = weights.Add(r.Info.Resources)
		}
	}

	if e.logger.GetLevel() <= zerolog.DebugLevel {
		e.logDependencies(finalN)
	}

	return &BlockSummary{StateDiff: diff, Weights: weights, NTxs: finalN}, nil
}

// AbortBlock stops the workers and discards everything. It returns without
// waiting for transactions still executing.
func (e *ConcurrentExecutor) AbortBlock() {
	e.stop()
}

// Wait stops the workers and blocks until all of them have returned.
func (e *ConcurrentExecutor) Wait() error {
	e.stop()
	<-e.done
	return e.runErr
}

// stop halts the scheduler and cancels the workers. The workers are joined in
// the background; a transaction the executor never returns from only leaks
// its own goroutine.
func (e *ConcurrentExecutor) stop() {
	e.stopOnce.Do(func() {
		e.scheduler.Halt()
		e.cancel()
		go func() {
			e.runErr = e.g.Wait()
			if e.runErr != nil {
				e.logger.Debug().Err(e.runErr).Msg("workers stopped with error")
			}
			close(e.done)
		}()
	})
}

func (e *ConcurrentExecutor) logDependencies(n int) {
	io := make([]TxIO, n)
	for i := range n {
		if out := e.worker.output(i); out != nil {
			io[i] = TxIO{Reads: out.reads, Writes: out.writes}
		}
	}
	stats := BuildDependencyDAG(io, e.logger).Stats()
	e.logger.Debug().
		Int("txs", n).
		Int("dependencies", stats.Edges).
		Int("independent_txs", stats.Roots).
		Int("longest_chain", stats.LongestChain).
		Msg("block dependency profile")
}
