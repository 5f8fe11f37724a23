package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/evstack/ev-batcher/types"
)

// NewMockTransactionConverter creates a new instance of MockTransactionConverter.
// It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockTransactionConverter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTransactionConverter {
	m := &MockTransactionConverter{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// MockTransactionConverter is a mock of the consensus transaction converter.
type MockTransactionConverter struct {
	mock.Mock
}

// ConvertConsensusTx converts a consensus transaction.
func (m *MockTransactionConverter) ConvertConsensusTx(ctx context.Context, tx types.ConsensusTransaction) (types.Transaction, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(types.Transaction), args.Error(1)
}
