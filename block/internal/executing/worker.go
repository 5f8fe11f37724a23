package executing

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/block/internal/bouncer"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

// idleWait bounds how long an idle worker sleeps before polling again.
const idleWait = time.Millisecond

// ErrExecutionPanicked wraps a panic raised by the transaction executor.
var ErrExecutionPanicked = errors.New("transaction execution panicked")

// TxResult is the final outcome of a committed transaction index. Err is set
// when the transaction was rejected; its writes are then not part of the
// block.
type TxResult struct {
	Index int
	Tx    *types.Transaction
	Hash  types.TxHash
	Info  *types.ExecutionInfo
	Err   error
}

// Rejected reports whether the transaction is excluded from the block.
func (r TxResult) Rejected() bool {
	return r.Err != nil
}

// CommitResult is the outcome of committing one index.
type CommitResult uint8

const (
	CommitSuccess CommitResult = iota
	CommitValidationFailed
	CommitBlockFull
)

type executionOutput struct {
	info   *types.ExecutionInfo
	err    error
	reads  map[types.StateKey]types.Felt
	writes map[types.StateKey]types.Felt
}

type txEntry struct {
	tx     *types.Transaction
	hash   types.TxHash
	output atomic.Pointer[executionOutput]
	// result is written by the committer before nFinalized is advanced past
	// the entry and never changes afterwards.
	result TxResult
}

// WorkerExecutor runs the execute, validate and commit steps for the
// transactions of one block. It is shared by every worker goroutine.
type WorkerExecutor struct {
	scheduler *Scheduler
	state     *VersionedState
	exec      execution.TxExecutor
	bouncer   *bouncer.Bouncer
	blockCtx  execution.BlockContext
	seqKey    types.StateKey

	entriesMu sync.RWMutex
	entries   []*txEntry

	nFinalized   atomic.Int64
	reExecutions metrics.Counter

	errMu sync.Mutex
	err   error

	logger zerolog.Logger
}

// NewWorkerExecutor returns a worker executor over state.
func NewWorkerExecutor(
	scheduler *Scheduler,
	state *VersionedState,
	exec execution.TxExecutor,
	bouncer *bouncer.Bouncer,
	blockCtx execution.BlockContext,
	reExecutions metrics.Counter,
	logger zerolog.Logger,
) *WorkerExecutor {
	return &WorkerExecutor{
		scheduler:    scheduler,
		state:        state,
		exec:         exec,
		bouncer:      bouncer,
		blockCtx:     blockCtx,
		seqKey:       execution.FeeBalanceKey(blockCtx.FeeTokenAddress, blockCtx.BlockInfo.SequencerAddress),
		reExecutions: reExecutions,
		logger:       logger,
	}
}

// AddTxs appends transactions and makes them available to the scheduler.
func (w *WorkerExecutor) AddTxs(txs []types.Transaction) {
	if len(txs) == 0 {
		return
	}
	w.entriesMu.Lock()
	for i := range txs {
		tx := txs[i]
		w.entries = append(w.entries, &txEntry{tx: &tx, hash: tx.Hash()})
	}
	w.entriesMu.Unlock()
	w.scheduler.AddTxs(len(txs))
}

func (w *WorkerExecutor) entry(i int) *txEntry {
	w.entriesMu.RLock()
	defer w.entriesMu.RUnlock()
	return w.entries[i]
}

// NFinalized returns the number of indices whose result is final.
func (w *WorkerExecutor) NFinalized() int {
	return int(w.nFinalized.Load())
}

// Result returns the final result of index i. It must only be called for
// i < NFinalized().
func (w *WorkerExecutor) Result(i int) TxResult {
	return w.entry(i).result
}

// Err returns the failure that halted the workers, if any.
func (w *WorkerExecutor) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// fail records err before halting the scheduler, so a halt caused by a
// failure is never mistaken for a full block.
func (w *WorkerExecutor) fail(err error) error {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
	w.scheduler.Halt()
	return err
}

func (w *WorkerExecutor) output(i int) *executionOutput {
	return w.entry(i).output.Load()
}

// Run is the worker loop. It returns when the scheduler is done or ctx is
// cancelled.
func (w *WorkerExecutor) Run(ctx context.Context) error {
	task := Task{Kind: TaskAskForTask}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.commitWhilePossible(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return w.fail(err)
		}

		switch task.Kind {
		case TaskExecution:
			w.execute(ctx, task.Index)
			w.scheduler.FinishExecution(task.Index)
			task = Task{Kind: TaskAskForTask}
		case TaskValidation:
			next, err := w.validate(ctx, task.Index)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return w.fail(err)
			}
			task = next
		case TaskNoTaskAvailable:
			w.scheduler.WaitForWork(ctx, idleWait)
			task = Task{Kind: TaskAskForTask}
		case TaskAskForTask:
			task = w.scheduler.NextTask()
		case TaskDone:
			return nil
		}
	}
}

// execute runs index i against the versioned view pinned at i and publishes
// its writes. A failed execution publishes no writes.
func (w *WorkerExecutor) execute(ctx context.Context, i int) {
	e := w.entry(i)
	view := newTxState(w.state, i)

	blockCtx := w.blockCtx
	blockCtx.ConcurrencyMode = e.tx.Sender != blockCtx.BlockInfo.SequencerAddress

	info, err := w.runTx(execution.WithTxIndex(ctx, i), e.tx, view, blockCtx)
	out := &executionOutput{info: info, err: err, reads: view.reads, writes: view.writes}
	if err != nil {
		out.writes = map[types.StateKey]types.Felt{}
	}

	var prevWrites map[types.StateKey]types.Felt
	if prev := e.output.Swap(out); prev != nil {
		prevWrites = prev.writes
	}
	w.state.ApplyWrites(i, prevWrites, out.writes)
}

func (w *WorkerExecutor) runTx(ctx context.Context, tx *types.Transaction, view execution.State, blockCtx execution.BlockContext) (info *types.ExecutionInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("transaction execution panicked")
			info, err = nil, fmt.Errorf("%w: %v", ErrExecutionPanicked, r)
		}
	}()
	return w.exec.ExecuteTx(ctx, tx, view, blockCtx)
}

// validate checks the read set of index i. On a mismatch the writes of i are
// removed and i is scheduled for re-execution.
func (w *WorkerExecutor) validate(ctx context.Context, i int) (Task, error) {
	out := w.output(i)
	valid, err := w.state.ValidateReads(ctx, i, out.reads)
	if err != nil {
		return Task{}, fmt.Errorf("validate tx %d: %w", i, err)
	}
	if valid || !w.scheduler.TryValidationAbort(i) {
		return Task{Kind: TaskAskForTask}, nil
	}
	w.state.DeleteWrites(i, out.writes)
	return w.scheduler.FinishAbort(i), nil
}

// commitWhilePossible commits the longest prefix of executed indices. Only
// one worker commits at a time; the others return immediately.
func (w *WorkerExecutor) commitWhilePossible(ctx context.Context) error {
	committer, ok := w.scheduler.TryEnterCommitPhase()
	if !ok {
		return nil
	}
	defer committer.Release()

	for {
		if ctx.Err() != nil {
			return nil
		}
		i, ok := committer.TryCommit()
		if !ok {
			return nil
		}

		res, err := w.commitTx(ctx, i)
		if err != nil {
			committer.Uncommit()
			return err
		}

		if res == CommitValidationFailed {
			// Every index below i is committed, so this execution is final.
			w.reExecute(ctx, i)
			if ctx.Err() != nil {
				committer.Uncommit()
				return nil
			}
			if res, err = w.commitTx(ctx, i); err != nil {
				committer.Uncommit()
				return err
			}
			if res == CommitValidationFailed {
				w.logger.Error().Int("tx_index", i).Msg("validation failed after re-execution during commit")
				committer.Uncommit()
				return fmt.Errorf("tx %d failed validation after re-execution", i)
			}
		}

		switch res {
		case CommitSuccess:
			w.nFinalized.Add(1)
		case CommitBlockFull:
			w.logger.Debug().Int("tx_index", i).Msg("block full")
			committer.Uncommit()
			committer.HaltScheduler()
			return nil
		}
	}
}

func (w *WorkerExecutor) reExecute(ctx context.Context, i int) {
	if w.reExecutions != nil {
		w.reExecutions.Add(1)
	}
	w.state.DeleteWrites(i, w.output(i).writes)
	w.execute(ctx, i)
	w.scheduler.FinishExecutionDuringCommit(i)
}

// commitTx finalizes index i. The read set is checked once more, as
// validation tasks may have run against writes that were aborted since.
func (w *WorkerExecutor) commitTx(ctx context.Context, i int) (CommitResult, error) {
	e := w.entry(i)
	out := e.output.Load()

	valid, err := w.state.ValidateReads(ctx, i, out.reads)
	if err != nil {
		return CommitValidationFailed, fmt.Errorf("validate tx %d at commit: %w", i, err)
	}
	if !valid {
		return CommitValidationFailed, nil
	}

	e.result = TxResult{Index: i, Tx: e.tx, Hash: e.hash, Info: out.info, Err: out.err}
	if out.err != nil {
		return CommitSuccess, nil
	}

	if err := w.bouncer.TryUpdate(out.info.Resources); err != nil {
		if errors.Is(err, bouncer.ErrBlockFull) {
			return CommitBlockFull, nil
		}
		// Too large for any block: drop the transaction and let later
		// readers of its writes revalidate.
		w.state.DeleteWrites(i, out.writes)
		w.scheduler.FinishExecutionDuringCommit(i)
		e.result.Err = err
		return CommitSuccess, nil
	}

	if err := w.creditSequencer(ctx, i, e.tx, out); err != nil {
		return CommitValidationFailed, err
	}
	return CommitSuccess, nil
}

// creditSequencer adds the fee of index i to the sequencer balance. In
// concurrency mode the executor leaves the sequencer balance untouched, so it
// is settled here once all lower indices are committed.
func (w *WorkerExecutor) creditSequencer(ctx context.Context, i int, tx *types.Transaction, out *executionOutput) error {
	fee := out.info.ActualFee
	if fee == nil || fee.IsZero() || tx.Sender == w.blockCtx.BlockInfo.SequencerAddress {
		return nil
	}

	base, ok := out.writes[w.seqKey]
	if !ok {
		var err error
		if base, err = w.state.Read(ctx, i, w.seqKey); err != nil {
			return fmt.Errorf("read sequencer balance: %w", err)
		}
	}
	credited := types.FeltFromUint256(new(uint256.Int).Add(types.FeltToUint256(base), fee))

	writes := make(map[types.StateKey]types.Felt, len(out.writes)+1)
	for k, v := range out.writes {
		writes[k] = v
	}
	writes[w.seqKey] = credited
	w.state.ApplyWrites(i, out.writes, writes)
	w.entry(i).output.Store(&executionOutput{info: out.info, err: out.err, reads: out.reads, writes: writes})
	return nil
}
