// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/evstack/ev-batcher/types"
)

// NewMockStorage creates a new instance of MockStorage.
// It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockStorage(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStorage {
	m := &MockStorage{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// MockStorage is a mock of the batcher's committed storage.
type MockStorage struct {
	mock.Mock
}

// Get implements execution.StateReader.
func (m *MockStorage) Get(ctx context.Context, key types.StateKey) (types.Felt, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(types.Felt), args.Error(1)
}

// Height returns the next height to be committed.
func (m *MockStorage) Height(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

// CommitProposal applies a decided block.
func (m *MockStorage) CommitProposal(ctx context.Context, height uint64, diff *types.StateDiff) error {
	args := m.Called(ctx, height, diff)
	return args.Error(0)
}

// RevertBlock undoes the latest block.
func (m *MockStorage) RevertBlock(ctx context.Context, height uint64) error {
	args := m.Called(ctx, height)
	return args.Error(0)
}
