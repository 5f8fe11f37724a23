package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/types"
)

func TestCachedStoreEvictsCommittedAndRevertedKeys(t *testing.T) {
	ctx := context.Background()
	cs, err := NewCachedStore(newTestStore(t), 16)
	require.NoError(t, err)

	slot := types.StorageKey(alice, types.FeltFromUint64(3))

	v, err := cs.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.Felt{}, v)
	assert.True(t, cs.stateCache.Contains(slot))

	require.NoError(t, cs.CommitProposal(ctx, 0, diffOf(entry(slot, 5))))
	assert.False(t, cs.stateCache.Contains(slot))

	v, err = cs.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(5), v)

	require.NoError(t, cs.RevertBlock(ctx, 0))
	assert.False(t, cs.stateCache.Contains(slot))

	v, err = cs.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.Felt{}, v)
}

func TestCachedStoreFailedRevertPurges(t *testing.T) {
	ctx := context.Background()
	cs, err := NewCachedStore(newTestStore(t), 0)
	require.NoError(t, err)

	_, err = cs.Get(ctx, types.NonceKey(bob))
	require.NoError(t, err)
	require.Equal(t, 1, cs.stateCache.Len())

	require.ErrorIs(t, cs.RevertBlock(ctx, 0), ErrEmptyStore)
	assert.Zero(t, cs.stateCache.Len())
}
