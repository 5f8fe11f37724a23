package mocks

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/evstack/ev-batcher/types"
)

// NewMockMempoolClient creates a new instance of MockMempoolClient.
// It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockMempoolClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMempoolClient {
	m := &MockMempoolClient{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// MockMempoolClient is a mock of the mempool client.
type MockMempoolClient struct {
	mock.Mock
}

// UpdateGasPrice sets the L2 gas price of the next block.
func (m *MockMempoolClient) UpdateGasPrice(ctx context.Context, price *uint256.Int) error {
	args := m.Called(ctx, price)
	return args.Error(0)
}

// CommitBlock notifies the mempool of a decided block.
func (m *MockMempoolClient) CommitBlock(ctx context.Context, commitArgs types.CommitBlockArgs) error {
	args := m.Called(ctx, commitArgs)
	return args.Error(0)
}

// GetTxs returns up to n transactions.
func (m *MockMempoolClient) GetTxs(ctx context.Context, n int) ([]types.Transaction, error) {
	args := m.Called(ctx, n)
	var txs []types.Transaction
	if args.Get(0) != nil {
		txs = args.Get(0).([]types.Transaction)
	}
	return txs, args.Error(1)
}
