package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/evstack/ev-batcher/types"
)

// NewMockL1ProviderClient creates a new instance of MockL1ProviderClient.
// It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockL1ProviderClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockL1ProviderClient {
	m := &MockL1ProviderClient{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// MockL1ProviderClient is a mock of the L1 provider client.
type MockL1ProviderClient struct {
	mock.Mock
}

// StartHeight announces a new height.
func (m *MockL1ProviderClient) StartHeight(ctx context.Context, height uint64) error {
	args := m.Called(ctx, height)
	return args.Error(0)
}

// StartBlock announces a proposal or validation session.
func (m *MockL1ProviderClient) StartBlock(ctx context.Context, session types.SessionState, height uint64) error {
	args := m.Called(ctx, session, height)
	return args.Error(0)
}

// CommitBlock reports the consumed and rejected L1 handler transactions.
func (m *MockL1ProviderClient) CommitBlock(ctx context.Context, consumed, rejected []types.TxHash, height uint64) error {
	args := m.Called(ctx, consumed, rejected, height)
	return args.Error(0)
}

// GetTxs returns up to n L1 handler transactions.
func (m *MockL1ProviderClient) GetTxs(ctx context.Context, n int, height uint64) ([]types.Transaction, error) {
	args := m.Called(ctx, n, height)
	var txs []types.Transaction
	if args.Get(0) != nil {
		txs = args.Get(0).([]types.Transaction)
	}
	return txs, args.Error(1)
}

// Validate checks an L1 handler transaction of a proposal.
func (m *MockL1ProviderClient) Validate(ctx context.Context, hash types.TxHash, height uint64) (types.L1ValidationStatus, error) {
	args := m.Called(ctx, hash, height)
	return args.Get(0).(types.L1ValidationStatus), args.Error(1)
}
