package building

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/test/mocks"
	"github.com/evstack/ev-batcher/types"
)

func invokeTx(nonce uint64) types.Transaction {
	return types.Transaction{Kind: types.TxKindInvoke, Sender: common.HexToAddress("0xa1"), Nonce: nonce}
}

func l1HandlerTx(nonce uint64) types.Transaction {
	return types.Transaction{Kind: types.TxKindL1Handler, Sender: common.HexToAddress("0x11"), Nonce: nonce}
}

func TestProposeProviderTakesL1HandlersFirst(t *testing.T) {
	ctx := context.Background()
	mempool := mocks.NewMockMempoolClient(t)
	l1 := mocks.NewMockL1ProviderClient(t)
	p := NewProposeTransactionProvider(mempool, l1, 7, 3)

	l1.On("GetTxs", mock.Anything, 3, uint64(7)).Return([]types.Transaction{l1HandlerTx(0), l1HandlerTx(1)}, nil).Once()
	mempool.On("GetTxs", mock.Anything, 2).Return([]types.Transaction{invokeTx(0), invokeTx(1)}, nil).Once()

	txs, err := p.GetTxs(ctx, 4)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.True(t, txs[0].IsL1Handler())
	assert.True(t, txs[1].IsL1Handler())
	assert.False(t, txs[2].IsL1Handler())

	// L1 returned fewer than asked, so only the mempool is asked from now on.
	mempool.On("GetTxs", mock.Anything, 4).Return([]types.Transaction{}, nil).Once()
	txs, err = p.GetTxs(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, known := p.GetFinalNExecutedTxs()
	assert.False(t, known)
}

func TestProposeProviderRespectsL1HandlerLimit(t *testing.T) {
	ctx := context.Background()
	mempool := mocks.NewMockMempoolClient(t)
	l1 := mocks.NewMockL1ProviderClient(t)
	p := NewProposeTransactionProvider(mempool, l1, 1, 2)

	l1.On("GetTxs", mock.Anything, 2, uint64(1)).Return([]types.Transaction{l1HandlerTx(0), l1HandlerTx(1)}, nil).Once()
	txs, err := p.GetTxs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	mempool.On("GetTxs", mock.Anything, 5).Return([]types.Transaction{invokeTx(0)}, nil).Once()
	txs, err = p.GetTxs(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []types.Transaction{invokeTx(0)}, txs)
}

func TestProposeProviderPropagatesErrors(t *testing.T) {
	mempool := mocks.NewMockMempoolClient(t)
	l1 := mocks.NewMockL1ProviderClient(t)
	p := NewProposeTransactionProvider(mempool, l1, 1, 0)

	boom := errors.New("mempool down")
	mempool.On("GetTxs", mock.Anything, 3).Return(nil, boom).Once()
	_, err := p.GetTxs(context.Background(), 3)
	assert.ErrorIs(t, err, boom)
}

func TestValidateProviderStreamsChunks(t *testing.T) {
	ctx := context.Background()
	txsCh := make(chan []types.Transaction, 4)
	finishCh := make(chan int, 1)
	l1 := mocks.NewMockL1ProviderClient(t)
	p := NewValidateTransactionProvider(txsCh, finishCh, l1, 3)

	txs, err := p.GetTxs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)

	txsCh <- []types.Transaction{invokeTx(0), invokeTx(1)}
	txsCh <- []types.Transaction{invokeTx(2)}
	txs, err = p.GetTxs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []types.Transaction{invokeTx(0), invokeTx(1)}, txs)

	txs, err = p.GetTxs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []types.Transaction{invokeTx(2)}, txs)

	_, known := p.GetFinalNExecutedTxs()
	assert.False(t, known)
	finishCh <- 3
	n, known := p.GetFinalNExecutedTxs()
	assert.True(t, known)
	assert.Equal(t, 3, n)
	n, known = p.GetFinalNExecutedTxs()
	assert.True(t, known, "final count is remembered")
	assert.Equal(t, 3, n)
}

func TestValidateProviderChecksL1Handlers(t *testing.T) {
	specs := map[string]struct {
		status types.L1ValidationStatus
		expErr bool
	}{
		"validated":        {status: types.L1ValidationValidated},
		"already on l2":    {status: types.L1ValidationAlreadyIncludedOnL2, expErr: true},
		"already proposed": {status: types.L1ValidationAlreadyIncludedInProposedBlock, expErr: true},
		"consumed on l1":   {status: types.L1ValidationConsumedOnL1, expErr: true},
		"not found":        {status: types.L1ValidationNotFound, expErr: true},
	}

	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			txsCh := make(chan []types.Transaction, 1)
			l1 := mocks.NewMockL1ProviderClient(t)
			p := NewValidateTransactionProvider(txsCh, make(chan int), l1, 9)

			tx := l1HandlerTx(5)
			l1.On("Validate", mock.Anything, tx.Hash(), uint64(9)).Return(spec.status, nil).Once()
			txsCh <- []types.Transaction{invokeTx(0), tx}

			txs, err := p.GetTxs(context.Background(), 5)
			if !spec.expErr {
				require.NoError(t, err)
				assert.Len(t, txs, 2)
				return
			}
			var l1Err *L1HandlerValidationError
			require.ErrorAs(t, err, &l1Err)
			assert.Equal(t, tx.Hash(), l1Err.TxHash)
			assert.Equal(t, spec.status, l1Err.Status)
		})
	}
}
