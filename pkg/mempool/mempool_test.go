package mempool

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/types"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

// nonceState serves committed nonces from a map.
type nonceState map[types.Address]uint64

func (s nonceState) Get(_ context.Context, key types.StateKey) (types.Felt, error) {
	if key.Kind != types.StateKeyNonce {
		return types.Felt{}, nil
	}
	return types.FeltFromUint64(s[key.Address]), nil
}

func newTestMempool(t *testing.T, db ds.Batching, state nonceState, maxSize int) *Mempool {
	t.Helper()
	m, err := NewMempool(db, "mempool", state, maxSize, nil, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func invoke(sender types.Address, nonce uint64) types.Transaction {
	return types.Transaction{Kind: types.TxKindInvoke, Sender: sender, Nonce: nonce}
}

func hashes(txs []types.Transaction) []types.TxHash {
	out := make([]types.TxHash, len(txs))
	for i := range txs {
		out[i] = txs[i].Hash()
	}
	return out
}

func TestAddTxAdmission(t *testing.T) {
	ctx := context.Background()
	db := dssync.MutexWrap(ds.NewMapDatastore())
	m := newTestMempool(t, db, nonceState{alice: 2}, 3)

	_, err := m.AddTx(ctx, invoke(alice, 1))
	require.ErrorIs(t, err, ErrNonceTooLow)

	_, err = m.AddTx(ctx, types.Transaction{Kind: types.TxKindL1Handler, Sender: alice})
	require.ErrorIs(t, err, ErrL1HandlerTx)

	_, err = m.AddTx(ctx, invoke(alice, 2))
	require.NoError(t, err)
	_, err = m.AddTx(ctx, invoke(alice, 2))
	require.ErrorIs(t, err, ErrDuplicateTx)

	require.NoError(t, m.UpdateGasPrice(ctx, uint256.NewInt(10)))
	cheap := invoke(bob, 0)
	cheap.MaxFee = uint256.NewInt(5)
	_, err = m.AddTx(ctx, cheap)
	require.ErrorIs(t, err, ErrMaxFeeTooLow)

	_, err = m.AddTx(ctx, invoke(bob, 0))
	require.NoError(t, err)
	_, err = m.AddTx(ctx, invoke(bob, 1))
	require.NoError(t, err)
	_, err = m.AddTx(ctx, invoke(bob, 2))
	require.ErrorIs(t, err, ErrMempoolFull)

	assert.Equal(t, 3, m.Size())
}

func TestGetTxsStagesInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestMempool(t, dssync.MutexWrap(ds.NewMapDatastore()), nonceState{}, 0)

	want := []types.Transaction{invoke(alice, 0), invoke(bob, 0), invoke(alice, 1)}
	for _, tx := range want {
		_, err := m.AddTx(ctx, tx)
		require.NoError(t, err)
	}

	first, err := m.GetTxs(ctx, 2)
	require.NoError(t, err)
	second, err := m.GetTxs(ctx, 5)
	require.NoError(t, err)
	empty, err := m.GetTxs(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, hashes(want), hashes(append(first, second...)))
	assert.Empty(t, empty)
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 3, m.StagedSize())
}

func TestCommitBlockSettlesStagedTxs(t *testing.T) {
	ctx := context.Background()
	m := newTestMempool(t, dssync.MutexWrap(ds.NewMapDatastore()), nonceState{}, 0)

	a0, a1, b0, b1 := invoke(alice, 0), invoke(alice, 1), invoke(bob, 0), invoke(bob, 1)
	queued := invoke(alice, 2)
	for _, tx := range []types.Transaction{a0, b0, a1, b1, queued} {
		_, err := m.AddTx(ctx, tx)
		require.NoError(t, err)
	}

	staged, err := m.GetTxs(ctx, 4)
	require.NoError(t, err)
	require.Len(t, staged, 4)

	// The block included alice 0 and rejected bob 0; the rest were not reached.
	require.NoError(t, m.CommitBlock(ctx, types.CommitBlockArgs{
		AddressToNonce:   map[types.Address]uint64{alice: 1},
		RejectedTxHashes: []types.TxHash{b0.Hash()},
	}))

	assert.Equal(t, 0, m.StagedSize())
	next, err := m.GetTxs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, hashes([]types.Transaction{a1, b1, queued}), hashes(next))

	// a committed transaction cannot be replayed, a rejected one may be resent
	_, err = m.AddTx(ctx, a0)
	require.ErrorIs(t, err, ErrDuplicateTx)
	_, err = m.AddTx(ctx, b0)
	require.NoError(t, err)
}

func TestCommitBlockEvictsStaleQueuedTxs(t *testing.T) {
	ctx := context.Background()
	m := newTestMempool(t, dssync.MutexWrap(ds.NewMapDatastore()), nonceState{}, 0)

	for _, tx := range []types.Transaction{invoke(alice, 0), invoke(alice, 1), invoke(bob, 0)} {
		_, err := m.AddTx(ctx, tx)
		require.NoError(t, err)
	}

	// a synced block advanced alice past both queued transactions
	require.NoError(t, m.CommitBlock(ctx, types.CommitBlockArgs{
		AddressToNonce: map[types.Address]uint64{alice: 2},
	}))

	txs, err := m.GetTxs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, hashes([]types.Transaction{invoke(bob, 0)}), hashes(txs))
}

func TestLoadRestoresQueueFromWAL(t *testing.T) {
	ctx := context.Background()
	db := dssync.MutexWrap(ds.NewMapDatastore())
	m := newTestMempool(t, db, nonceState{}, 0)

	want := make([]types.Transaction, 0, 12)
	for i := range uint64(12) {
		tx := invoke(alice, i)
		want = append(want, tx)
		_, err := m.AddTx(ctx, tx)
		require.NoError(t, err)
	}
	_, err := m.GetTxs(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, m.CommitBlock(ctx, types.CommitBlockArgs{AddressToNonce: map[types.Address]uint64{alice: 2}}))

	restarted := newTestMempool(t, db, nonceState{}, 0)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, 10, restarted.Size())

	txs, err := restarted.GetTxs(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, hashes(want[2:]), hashes(txs))

	_, err = restarted.AddTx(ctx, invoke(bob, 0))
	require.NoError(t, err)
	_, err = restarted.AddTx(ctx, want[5])
	require.ErrorIs(t, err, ErrDuplicateTx)
}
