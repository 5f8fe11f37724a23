package l1provider

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

func l1Tx(nonce uint64) types.Transaction {
	return types.Transaction{
		Kind:     types.TxKindL1Handler,
		Sender:   common.HexToAddress("0x11"),
		Nonce:    nonce,
		MaxFee:   uint256.NewInt(0),
		Calldata: []byte{0x01, byte(nonce)},
	}
}

func newTestProvider(t *testing.T, height uint64, txs ...types.Transaction) (*Provider, ds.Batching) {
	t.Helper()
	db := dssync.MutexWrap(ds.NewMapDatastore())
	p := NewProvider(db, "l1", height, zerolog.Nop())
	_, err := p.AddTxs(context.Background(), txs)
	require.NoError(t, err)
	return p, db
}

func TestAddTxs(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t, 0)

	n, err := p.AddTxs(ctx, []types.Transaction{l1Tx(0), l1Tx(1), l1Tx(0)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, p.PendingCount())

	_, err = p.AddTxs(ctx, []types.Transaction{{Kind: types.TxKindInvoke}})
	require.ErrorIs(t, err, ErrNotL1Handler)
}

func TestHeightChecks(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t, 5)

	require.ErrorIs(t, p.StartHeight(ctx, 4), ErrUnexpectedHeight)
	require.ErrorIs(t, p.StartBlock(ctx, types.SessionPropose, 6), ErrUnexpectedHeight)
	require.NoError(t, p.StartHeight(ctx, 5))

	_, err := p.GetTxs(ctx, 1, 5)
	require.ErrorIs(t, err, ErrWrongSession)

	require.NoError(t, p.StartBlock(ctx, types.SessionValidate, 5))
	_, err = p.GetTxs(ctx, 1, 5)
	require.ErrorIs(t, err, ErrWrongSession)

	require.ErrorIs(t, p.CommitBlock(ctx, nil, nil, 6), ErrUnexpectedHeight)
}

func TestGetTxsSkipsTxsAlreadyHandedOut(t *testing.T) {
	ctx := context.Background()
	txs := []types.Transaction{l1Tx(0), l1Tx(1), l1Tx(2)}
	p, _ := newTestProvider(t, 0, txs...)

	require.NoError(t, p.StartBlock(ctx, types.SessionPropose, 0))
	first, err := p.GetTxs(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, txs[:2], first)

	second, err := p.GetTxs(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, txs[2:], second)

	// A new session starts over.
	require.NoError(t, p.StartBlock(ctx, types.SessionPropose, 0))
	again, err := p.GetTxs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, txs, again)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	pending, included, cancelled := l1Tx(0), l1Tx(1), l1Tx(2)
	p, _ := newTestProvider(t, 0, pending, included, cancelled)

	require.NoError(t, p.StartBlock(ctx, types.SessionPropose, 0))
	require.NoError(t, p.CommitBlock(ctx, []types.TxHash{included.Hash()}, nil, 0))
	require.NoError(t, p.ConsumeOnL1(ctx, []types.TxHash{cancelled.Hash()}))

	require.NoError(t, p.StartBlock(ctx, types.SessionValidate, 1))
	cases := []struct {
		name string
		hash types.TxHash
		want types.L1ValidationStatus
	}{
		{"pending", pending.Hash(), types.L1ValidationValidated},
		{"same tx twice in proposal", pending.Hash(), types.L1ValidationAlreadyIncludedInProposedBlock},
		{"included in earlier block", included.Hash(), types.L1ValidationAlreadyIncludedOnL2},
		{"cancelled on L1", cancelled.Hash(), types.L1ValidationConsumedOnL1},
		{"unknown", common.HexToHash("0xdead"), types.L1ValidationNotFound},
	}
	for _, tc := range cases {
		got, err := p.Validate(ctx, tc.hash, 1)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := p.Validate(ctx, pending.Hash(), 2)
	require.ErrorIs(t, err, ErrUnexpectedHeight)
}

func TestCommitBlock(t *testing.T) {
	ctx := context.Background()
	consumed, rejected, untouched := l1Tx(0), l1Tx(1), l1Tx(2)
	p, _ := newTestProvider(t, 3, consumed, rejected, untouched)

	require.NoError(t, p.StartBlock(ctx, types.SessionPropose, 3))
	_, err := p.GetTxs(ctx, 3, 3)
	require.NoError(t, err)

	synced := common.HexToHash("0xabc")
	accountTx := common.HexToHash("0xacc")
	require.NoError(t, p.CommitBlock(ctx,
		[]types.TxHash{consumed.Hash(), synced},
		[]types.TxHash{rejected.Hash(), accountTx},
		3,
	))

	assert.Equal(t, uint64(4), p.Height())
	assert.Equal(t, 1, p.PendingCount())

	state, ok := p.State(consumed.Hash())
	require.True(t, ok)
	assert.Equal(t, TxCommitted, state)
	state, ok = p.State(rejected.Hash())
	require.True(t, ok)
	assert.Equal(t, TxRejected, state)
	state, ok = p.State(synced)
	require.True(t, ok)
	assert.Equal(t, TxCommitted, state)
	_, ok = p.State(accountTx)
	assert.False(t, ok)

	// The session ended with the block.
	_, err = p.GetTxs(ctx, 1, 4)
	require.ErrorIs(t, err, ErrWrongSession)

	require.NoError(t, p.StartBlock(ctx, types.SessionPropose, 4))
	txs, err := p.GetTxs(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []types.Transaction{untouched}, txs)
}

func TestLoadRestoresRecords(t *testing.T) {
	ctx := context.Background()
	txs := []types.Transaction{l1Tx(0), l1Tx(1), l1Tx(2), l1Tx(3)}
	p, db := newTestProvider(t, 0, txs...)

	require.NoError(t, p.StartBlock(ctx, types.SessionPropose, 0))
	require.NoError(t, p.CommitBlock(ctx, []types.TxHash{txs[1].Hash()}, nil, 0))
	require.NoError(t, p.ConsumeOnL1(ctx, []types.TxHash{txs[3].Hash()}))

	restarted := NewProvider(db, "l1", 1, zerolog.Nop())
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, 2, restarted.PendingCount())

	state, ok := restarted.State(txs[1].Hash())
	require.True(t, ok)
	assert.Equal(t, TxCommitted, state)

	require.NoError(t, restarted.StartBlock(ctx, types.SessionPropose, 1))
	got, err := restarted.GetTxs(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []types.Transaction{txs[0], txs[2]}, got)

	n, err := restarted.AddTxs(ctx, txs)
	require.NoError(t, err)
	assert.Zero(t, n)
}
