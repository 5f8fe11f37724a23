package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

// NewMockTxExecutor creates a new instance of MockTxExecutor.
// It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockTxExecutor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTxExecutor {
	m := &MockTxExecutor{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// MockTxExecutor is a mock of execution.TxExecutor.
type MockTxExecutor struct {
	mock.Mock
}

var _ execution.TxExecutor = (*MockTxExecutor)(nil)

// ExecuteTx implements execution.TxExecutor.
func (m *MockTxExecutor) ExecuteTx(ctx context.Context, tx *types.Transaction, state execution.State, blockCtx execution.BlockContext) (*types.ExecutionInfo, error) {
	args := m.Called(ctx, tx, state, blockCtx)
	var info *types.ExecutionInfo
	if args.Get(0) != nil {
		info = args.Get(0).(*types.ExecutionInfo)
	}
	return info, args.Error(1)
}
