package executing

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/block/internal/bouncer"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

var (
	alice     = common.HexToAddress("0xa11ce")
	bob       = common.HexToAddress("0xb0b")
	sequencer = common.HexToAddress("0x5e9")
	feeToken  = common.HexToAddress("0xfee")
	counter   = types.StorageKey(common.HexToAddress("0xc0"), types.FeltFromUint64(0))
)

func incrementTx(sender types.Address, nonce uint64, delta uint64) types.Transaction {
	return types.Transaction{
		Kind:     types.TxKindInvoke,
		Sender:   sender,
		Nonce:    nonce,
		Calldata: execution.EncodeScript(execution.Increment(counter, delta)),
	}
}

type workerFixture struct {
	scheduler    *Scheduler
	state        *VersionedState
	worker       *WorkerExecutor
	reExecutions *generic.Counter
}

func newWorkerFixture(t *testing.T, base *memState, capacity types.BouncerWeights, blockCtx execution.BlockContext, txs ...types.Transaction) *workerFixture {
	t.Helper()
	f := &workerFixture{
		scheduler:    NewScheduler(),
		state:        NewVersionedState(base),
		reExecutions: generic.NewCounter("reexecutions"),
	}
	f.worker = NewWorkerExecutor(f.scheduler, f.state, execution.NewDummyTxExecutor(), bouncer.New(capacity), blockCtx, f.reExecutions, zerolog.Nop())
	f.worker.AddTxs(txs)
	return f
}

// claimAll hands every added index to the caller as an execution task.
func (f *workerFixture) claimAll(t *testing.T) {
	t.Helper()
	for i := range f.scheduler.NTxs() {
		require.Equal(t, Task{Kind: TaskExecution, Index: i}, f.scheduler.NextTask())
	}
}

func (f *workerFixture) executeInOrder(ctx context.Context, order ...int) {
	for _, i := range order {
		f.worker.execute(ctx, i)
		f.scheduler.FinishExecution(i)
	}
}

func TestWorkerSpeculativeReExecution(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, newMemState(), types.MaxBouncerWeights(), execution.BlockContext{},
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 10),
	)
	f.claimAll(t)

	// Index 1 runs first and reads the counter before index 0 wrote it.
	f.executeInOrder(ctx, 1, 0)

	committer, ok := f.scheduler.TryEnterCommitPhase()
	require.True(t, ok)
	defer committer.Release()

	i, ok := committer.TryCommit()
	require.True(t, ok)
	require.Equal(t, 0, i)
	res, err := f.worker.commitTx(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, CommitSuccess, res)

	i, ok = committer.TryCommit()
	require.True(t, ok)
	require.Equal(t, 1, i)
	res, err = f.worker.commitTx(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, CommitValidationFailed, res)

	f.worker.reExecute(ctx, 1)
	res, err = f.worker.commitTx(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, CommitSuccess, res)
	assert.Equal(t, float64(1), f.reExecutions.Value())

	diff, err := f.state.StateDiff(ctx, 2)
	require.NoError(t, err)
	v, _ := diff.Get(counter)
	assert.Equal(t, types.FeltFromUint64(11), v)
}

func TestWorkerCommitWhilePossibleReExecutesInline(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, newMemState(), types.MaxBouncerWeights(), execution.BlockContext{},
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 10),
		incrementTx(alice, 1, 100),
	)
	f.claimAll(t)
	f.executeInOrder(ctx, 2, 1, 0)

	require.NoError(t, f.worker.commitWhilePossible(ctx))
	require.Equal(t, 3, f.worker.NFinalized())
	assert.Equal(t, float64(2), f.reExecutions.Value())

	for i := range 3 {
		r := f.worker.Result(i)
		assert.Equal(t, i, r.Index)
		assert.False(t, r.Rejected())
		assert.Equal(t, StatusCommitted, f.scheduler.TxStatus(i))
	}

	diff, err := f.state.StateDiff(ctx, 3)
	require.NoError(t, err)
	v, _ := diff.Get(counter)
	assert.Equal(t, types.FeltFromUint64(111), v)
	assert.Equal(t, map[types.Address]uint64{alice: 2, bob: 1}, diff.AddressToNonce())
}

func TestWorkerValidateAbortsStaleExecution(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, newMemState(), types.MaxBouncerWeights(), execution.BlockContext{},
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 10),
	)
	f.claimAll(t)
	f.executeInOrder(ctx, 1, 0)

	task, err := f.worker.validate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, TaskAskForTask, task.Kind)

	task, err = f.worker.validate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Task{Kind: TaskExecution, Index: 1}, task)
	assert.Equal(t, StatusExecuting, f.scheduler.TxStatus(1))

	got, err := f.state.Read(ctx, 2, counter)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(1), got, "aborted writes are removed")
}

func TestWorkerRejectsFailedAndOversizedTxs(t *testing.T) {
	ctx := context.Background()
	capacity := types.MaxBouncerWeights()
	capacity.NEvents = 1

	f := newWorkerFixture(t, newMemState(), capacity, execution.BlockContext{},
		types.Transaction{Sender: alice, Nonce: 5},
		types.Transaction{Sender: bob, Calldata: execution.EncodeScript(
			execution.Increment(counter, 1), execution.EmitEvent(), execution.EmitEvent())},
		incrementTx(alice, 0, 7),
	)
	f.claimAll(t)
	f.executeInOrder(ctx, 0, 1, 2)

	require.NoError(t, f.worker.commitWhilePossible(ctx))
	require.Equal(t, 3, f.worker.NFinalized())

	assert.ErrorIs(t, f.worker.Result(0).Err, execution.ErrInvalidNonce)
	assert.ErrorIs(t, f.worker.Result(1).Err, bouncer.ErrTransactionTooLarge)
	assert.False(t, f.worker.Result(2).Rejected())

	diff, err := f.state.StateDiff(ctx, 3)
	require.NoError(t, err)
	v, _ := diff.Get(counter)
	assert.Equal(t, types.FeltFromUint64(7), v)
	assert.Equal(t, map[types.Address]uint64{alice: 1}, diff.AddressToNonce())
}

func TestWorkerBlockFullHalts(t *testing.T) {
	ctx := context.Background()
	capacity := types.MaxBouncerWeights()
	capacity.NTxs = 1

	f := newWorkerFixture(t, newMemState(), capacity, execution.BlockContext{},
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 1),
	)
	f.claimAll(t)
	f.executeInOrder(ctx, 0, 1)

	require.NoError(t, f.worker.commitWhilePossible(ctx))
	assert.Equal(t, 1, f.worker.NFinalized())
	assert.Equal(t, 1, f.scheduler.NCommittedTxs())
	assert.Equal(t, StatusExecuted, f.scheduler.TxStatus(1))
	assert.True(t, f.scheduler.IsHalted())
}

func TestWorkerCreditsSequencerAtCommit(t *testing.T) {
	ctx := context.Background()
	blockCtx := execution.BlockContext{
		BlockInfo:       types.BlockInfo{SequencerAddress: sequencer, L2GasPrice: uint256.NewInt(1)},
		FeeTokenAddress: feeToken,
	}
	base := newMemState()
	base.set(execution.FeeBalanceKey(feeToken, alice), 1000)
	base.set(execution.FeeBalanceKey(feeToken, bob), 1000)
	base.set(execution.FeeBalanceKey(feeToken, sequencer), 5)

	f := newWorkerFixture(t, base, types.MaxBouncerWeights(), blockCtx,
		types.Transaction{Sender: alice},
		types.Transaction{Sender: bob},
	)
	f.claimAll(t)
	f.executeInOrder(ctx, 1, 0)

	require.NoError(t, f.worker.commitWhilePossible(ctx))
	require.Equal(t, 2, f.worker.NFinalized())
	assert.Zero(t, f.reExecutions.Value(), "fee transfers do not conflict")

	diff, err := f.state.StateDiff(ctx, 2)
	require.NoError(t, err)
	seqBalance, _ := diff.Get(execution.FeeBalanceKey(feeToken, sequencer))
	assert.Equal(t, uint64(5+2*execution.DummyBaseGas), types.FeltToUint64(seqBalance))
	aliceBalance, _ := diff.Get(execution.FeeBalanceKey(feeToken, alice))
	assert.Equal(t, uint64(1000-execution.DummyBaseGas), types.FeltToUint64(aliceBalance))
}
