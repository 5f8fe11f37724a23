package execution

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/types"
)

type mapState struct {
	values map[types.StateKey]types.Felt
	reads  []types.StateKey
}

func newMapState() *mapState {
	return &mapState{values: make(map[types.StateKey]types.Felt)}
}

func (s *mapState) Get(_ context.Context, key types.StateKey) (types.Felt, error) {
	s.reads = append(s.reads, key)
	return s.values[key], nil
}

func (s *mapState) Set(key types.StateKey, value types.Felt) {
	s.values[key] = value
}

var (
	sender    = common.HexToAddress("0xa1")
	sequencer = common.HexToAddress("0x5e")
	feeToken  = common.HexToAddress("0xfee")
	counter   = types.StorageKey(common.HexToAddress("0xc0"), types.FeltFromUint64(1))
)

func TestDummyTxExecutorScript(t *testing.T) {
	exec := NewDummyTxExecutor()
	st := newMapState()
	tx := &types.Transaction{
		Kind:     types.TxKindInvoke,
		Sender:   sender,
		Nonce:    0,
		Calldata: EncodeScript(Increment(counter, 5), EmitEvent(), SendMessage()),
	}

	info, err := exec.ExecuteTx(context.Background(), tx, st, BlockContext{})
	require.NoError(t, err)
	assert.False(t, info.Reverted)
	assert.Equal(t, tx.Hash(), info.TxHash)
	assert.Equal(t, types.FeltFromUint64(5), st.values[counter])
	assert.Equal(t, types.FeltFromUint64(1), st.values[types.NonceKey(sender)])
	assert.Equal(t, uint64(1), info.Resources.NEvents)
	assert.Equal(t, uint64(1), info.Resources.MessageSegmentLength)
	assert.Equal(t, uint64(2), info.Resources.StateDiffSize)
	assert.Equal(t, uint64(DummyBaseGas+3*DummyOpGas+DummyWriteGas), info.L2GasUsed)
	assert.True(t, info.ActualFee.IsZero())
}

func TestDummyTxExecutorRevertKeepsNonceOnly(t *testing.T) {
	exec := NewDummyTxExecutor()
	st := newMapState()
	tx := &types.Transaction{
		Sender:   sender,
		Calldata: EncodeScript(Write(counter, types.FeltFromUint64(9)), Revert("boom")),
	}

	info, err := exec.ExecuteTx(context.Background(), tx, st, BlockContext{})
	require.NoError(t, err)
	assert.True(t, info.Reverted)
	assert.Equal(t, "boom", info.RevertReason)
	_, written := st.values[counter]
	assert.False(t, written)
	assert.Equal(t, types.FeltFromUint64(1), st.values[types.NonceKey(sender)])
}

func TestDummyTxExecutorHardFailures(t *testing.T) {
	specs := map[string]struct {
		tx     *types.Transaction
		expErr error
	}{
		"bad nonce": {
			tx:     &types.Transaction{Sender: sender, Nonce: 3},
			expErr: ErrInvalidNonce,
		},
		"fail op": {
			tx:     &types.Transaction{Sender: sender, Calldata: EncodeScript(Fail("nope"))},
			expErr: ErrExecutionFailure,
		},
		"garbage calldata": {
			tx:     &types.Transaction{Sender: sender, Calldata: []byte{0xff, 0x01}},
			expErr: ErrInvalidCalldata,
		},
		"max fee": {
			tx:     &types.Transaction{Sender: sender, MaxFee: uint256.NewInt(1)},
			expErr: ErrMaxFeeExceeded,
		},
		"no balance": {
			tx:     &types.Transaction{Sender: sender},
			expErr: ErrInsufficientBalance,
		},
	}

	blockCtx := BlockContext{
		BlockInfo:       types.BlockInfo{L2GasPrice: uint256.NewInt(1), SequencerAddress: sequencer},
		FeeTokenAddress: feeToken,
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			_, err := NewDummyTxExecutor().ExecuteTx(context.Background(), spec.tx, newMapState(), blockCtx)
			assert.ErrorIs(t, err, spec.expErr)
		})
	}
}

func TestDummyTxExecutorFeeTransfer(t *testing.T) {
	specs := map[string]struct {
		concurrency  bool
		expSequencer uint64
	}{
		"sequential credits sequencer":       {concurrency: false, expSequencer: DummyBaseGas},
		"concurrent leaves sequencer alone": {concurrency: true, expSequencer: 0},
	}

	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			st := newMapState()
			st.values[FeeBalanceKey(feeToken, sender)] = types.FeltFromUint64(1000)
			blockCtx := BlockContext{
				BlockInfo:       types.BlockInfo{L2GasPrice: uint256.NewInt(1), SequencerAddress: sequencer},
				FeeTokenAddress: feeToken,
				ConcurrencyMode: spec.concurrency,
			}

			info, err := NewDummyTxExecutor().ExecuteTx(context.Background(), &types.Transaction{Sender: sender}, st, blockCtx)
			require.NoError(t, err)
			assert.Equal(t, uint64(DummyBaseGas), info.ActualFee.Uint64())
			assert.Equal(t, types.FeltFromUint64(1000-DummyBaseGas), st.values[FeeBalanceKey(feeToken, sender)])
			assert.Equal(t, spec.expSequencer, types.FeltToUint64(st.values[FeeBalanceKey(feeToken, sequencer)]))
			if spec.concurrency {
				assert.NotContains(t, st.reads, FeeBalanceKey(feeToken, sequencer))
			}
		})
	}
}
