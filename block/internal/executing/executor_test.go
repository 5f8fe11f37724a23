package executing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/block/internal/common"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

func newTestExecutor(t *testing.T, base *memState, capacity types.BouncerWeights, nWorkers int) *ConcurrentExecutor {
	t.Helper()
	e := NewConcurrentExecutor(
		context.Background(),
		base,
		execution.NewDummyTxExecutor(),
		capacity,
		execution.BlockContext{BlockInfo: types.BlockInfo{Height: 1}},
		nWorkers,
		common.NopMetrics(),
		zerolog.Nop(),
	)
	t.Cleanup(func() { _ = e.Wait() })
	return e
}

// collectUntil drains results until n are collected or the executor halts.
func collectUntil(t *testing.T, e *ConcurrentExecutor, n int) []TxResult {
	t.Helper()
	var results []TxResult
	require.Eventually(t, func() bool {
		out, err := e.CollectResults()
		require.NoError(t, err)
		results = append(results, out...)
		return len(results) >= n || (e.IsHalted() && len(out) == 0)
	}, 10*time.Second, time.Millisecond)
	return results
}

func TestConcurrentExecutorPreservesOrder(t *testing.T) {
	const nTxs = 64
	e := newTestExecutor(t, newMemState(), types.MaxBouncerWeights(), 8)

	senders := []types.Address{alice, bob, sequencer}
	nonces := map[types.Address]uint64{}
	var txs []types.Transaction
	for i := range nTxs {
		sender := senders[i%len(senders)]
		txs = append(txs, incrementTx(sender, nonces[sender], uint64(i+1)))
		nonces[sender]++
	}

	// Stream the block in chunks.
	for i := 0; i < nTxs; i += 10 {
		e.AddTxs(txs[i:min(i+10, nTxs)])
	}

	results := collectUntil(t, e, nTxs)
	require.Len(t, results, nTxs)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, txs[i].Hash(), r.Hash)
		assert.False(t, r.Rejected(), "tx %d: %v", i, r.Err)
	}

	summary, err := e.CloseBlock(context.Background(), nTxs)
	require.NoError(t, err)
	assert.Equal(t, nTxs, summary.NTxs)
	assert.Equal(t, uint64(nTxs), summary.Weights.NTxs)

	v, _ := summary.StateDiff.Get(counter)
	assert.Equal(t, uint64(nTxs*(nTxs+1)/2), types.FeltToUint64(v))
	assert.Equal(t, nonces, summary.StateDiff.AddressToNonce())
}

func TestConcurrentExecutorFullBlock(t *testing.T) {
	capacity := types.MaxBouncerWeights()
	capacity.NTxs = 1
	e := newTestExecutor(t, newMemState(), capacity, 2)

	e.AddTxs([]types.Transaction{
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 1),
		incrementTx(sequencer, 0, 1),
	})

	results := collectUntil(t, e, 3)
	require.Len(t, results, 1)
	assert.True(t, e.IsHalted())

	summary, err := e.CloseBlock(context.Background(), len(results))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NTxs)
	assert.Equal(t, map[types.Address]uint64{alice: 1}, summary.StateDiff.AddressToNonce())
}

// hangingTxExecutor never returns from transactions of sender until release
// is closed, whatever the context says.
type hangingTxExecutor struct {
	execution.TxExecutor
	sender  types.Address
	release chan struct{}
}

func (e *hangingTxExecutor) ExecuteTx(ctx context.Context, tx *types.Transaction, state execution.State, blockCtx execution.BlockContext) (*types.ExecutionInfo, error) {
	if tx.Sender == e.sender {
		<-e.release
	}
	return e.TxExecutor.ExecuteTx(ctx, tx, state, blockCtx)
}

func TestConcurrentExecutorDoesNotWaitForHangingTx(t *testing.T) {
	stuck := types.Address{0x57, 0xac}
	hanging := &hangingTxExecutor{TxExecutor: execution.NewDummyTxExecutor(), sender: stuck, release: make(chan struct{})}

	capacity := types.MaxBouncerWeights()
	capacity.NTxs = 1
	e := NewConcurrentExecutor(
		context.Background(),
		newMemState(),
		hanging,
		capacity,
		execution.BlockContext{BlockInfo: types.BlockInfo{Height: 1}},
		4,
		common.NopMetrics(),
		zerolog.Nop(),
	)
	t.Cleanup(func() { _ = e.Wait() })
	t.Cleanup(func() { close(hanging.release) })

	start := time.Now()
	// the bouncer fills up at index 1 while index 2 is still executing
	e.AddTxs([]types.Transaction{
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 1),
		incrementTx(stuck, 0, 1),
	})

	results := collectUntil(t, e, 3)
	require.Len(t, results, 1)
	summary, err := e.CloseBlock(context.Background(), len(results))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, summary.NTxs)
	assert.Equal(t, uint64(1), summary.Weights.NTxs)
	assert.Equal(t, map[types.Address]uint64{alice: 1}, summary.StateDiff.AddressToNonce())
}

func TestConcurrentExecutorAbortDoesNotWaitForHangingTx(t *testing.T) {
	stuck := types.Address{0x57, 0xac}
	hanging := &hangingTxExecutor{TxExecutor: execution.NewDummyTxExecutor(), sender: stuck, release: make(chan struct{})}
	e := NewConcurrentExecutor(
		context.Background(),
		newMemState(),
		hanging,
		types.MaxBouncerWeights(),
		execution.BlockContext{BlockInfo: types.BlockInfo{Height: 1}},
		2,
		common.NopMetrics(),
		zerolog.Nop(),
	)

	e.AddTxs([]types.Transaction{incrementTx(stuck, 0, 1)})
	require.Eventually(t, func() bool {
		return e.scheduler.TxStatus(0) == StatusExecuting
	}, time.Second, time.Millisecond)

	aborted := make(chan struct{})
	go func() {
		e.AbortBlock()
		close(aborted)
	}()
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("AbortBlock waited for the executing transaction")
	}

	close(hanging.release)
	require.NoError(t, e.Wait())
}

func TestConcurrentExecutorTruncatedClose(t *testing.T) {
	e := newTestExecutor(t, newMemState(), types.MaxBouncerWeights(), 4)
	e.AddTxs([]types.Transaction{
		incrementTx(alice, 0, 1),
		incrementTx(bob, 0, 2),
		incrementTx(alice, 1, 4),
	})
	require.Len(t, collectUntil(t, e, 3), 3)

	summary, err := e.CloseBlock(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NTxs)
	assert.Equal(t, uint64(2), summary.Weights.NTxs)
	v, _ := summary.StateDiff.Get(counter)
	assert.Equal(t, uint64(3), types.FeltToUint64(v))
	assert.Equal(t, map[types.Address]uint64{alice: 1, bob: 1}, summary.StateDiff.AddressToNonce())
}

func TestConcurrentExecutorCloseBeyondCollected(t *testing.T) {
	e := newTestExecutor(t, newMemState(), types.MaxBouncerWeights(), 1)
	_, err := e.CloseBlock(context.Background(), 1)
	assert.Error(t, err)
}

func TestDependencyDAGStats(t *testing.T) {
	writesCounter := map[types.StateKey]types.Felt{counter: {}}
	readsCounter := map[types.StateKey]types.Felt{counter: {}}

	d := BuildDependencyDAG([]TxIO{
		{Writes: writesCounter},
		{Reads: readsCounter, Writes: writesCounter},
		{Reads: map[types.StateKey]types.Felt{keyA: {}}},
		{Reads: readsCounter},
	}, zerolog.Nop())

	stats := d.Stats()
	assert.Equal(t, 4, stats.Vertices)
	assert.Equal(t, 3, stats.Edges)
	assert.Equal(t, 2, stats.Roots)
	assert.Equal(t, 3, stats.LongestChain)
}
