package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/types"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func newTestStore(t *testing.T) *DefaultStore {
	t.Helper()
	kv, err := NewTestInMemoryKVStore()
	require.NoError(t, err)
	s := New(NewBatcherKVStore(kv))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func diffOf(entries ...types.StateEntry) *types.StateDiff {
	d := types.NewStateDiff()
	for _, e := range entries {
		d.Set(e.Key, e.Value)
	}
	return d
}

func entry(key types.StateKey, v uint64) types.StateEntry {
	return types.StateEntry{Key: key, Value: types.FeltFromUint64(v)}
}

func TestCommitProposal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	height, err := s.Height(ctx)
	require.NoError(t, err)
	require.Zero(t, height)

	slot := types.StorageKey(alice, types.FeltFromUint64(1))
	diff := diffOf(entry(slot, 10), entry(types.NonceKey(alice), 1))
	require.NoError(t, s.CommitProposal(ctx, 0, diff))

	height, err = s.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)

	v, err := s.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(10), v)

	v, err = s.Get(ctx, types.NonceKey(bob))
	require.NoError(t, err)
	assert.Equal(t, types.Felt{}, v)

	stored, err := s.GetStateDiff(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, diff.Entries(), stored.Entries())

	err = s.CommitProposal(ctx, 0, diff)
	require.ErrorIs(t, err, ErrHeightMismatch)
	err = s.CommitProposal(ctx, 2, diff)
	require.ErrorIs(t, err, ErrHeightMismatch)
}

func TestCommitEmptyBlock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CommitProposal(ctx, 0, nil))
	stored, err := s.GetStateDiff(ctx, 0)
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())

	height, err := s.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)
}

func TestRevertBlockRestoresPreviousState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	slot := types.StorageKey(alice, types.FeltFromUint64(1))
	require.NoError(t, s.CommitProposal(ctx, 0, diffOf(entry(slot, 10))))
	require.NoError(t, s.CommitProposal(ctx, 1, diffOf(entry(slot, 20), entry(types.NonceKey(bob), 1))))

	err := s.RevertBlock(ctx, 0)
	require.ErrorIs(t, err, ErrHeightMismatch)

	require.NoError(t, s.RevertBlock(ctx, 1))

	height, err := s.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)

	v, err := s.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(10), v)

	v, err = s.Get(ctx, types.NonceKey(bob))
	require.NoError(t, err)
	assert.Equal(t, types.Felt{}, v, "a key first written by the reverted block reads as never written")

	_, err = s.GetStateDiff(ctx, 1)
	require.ErrorIs(t, err, ds.ErrNotFound)

	// the height can be committed again
	require.NoError(t, s.CommitProposal(ctx, 1, diffOf(entry(slot, 30))))
	v, err = s.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(30), v)
}

func TestRevertBlockOnEmptyStore(t *testing.T) {
	s := newTestStore(t)
	require.ErrorIs(t, s.RevertBlock(context.Background(), 0), ErrEmptyStore)
}

func TestDeleteRevertDataAtHeight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	slot := types.StorageKey(alice, types.FeltFromUint64(1))
	require.NoError(t, s.CommitProposal(ctx, 0, diffOf(entry(slot, 10))))
	require.NoError(t, s.DeleteRevertDataAtHeight(ctx, 0))

	// the block itself is kept
	diff, err := s.GetStateDiff(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, diff.Len())

	require.ErrorIs(t, s.RevertBlock(ctx, 0), ds.ErrNotFound)
	v, err := s.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(10), v)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	s := New(dssync.MutexWrap(ds.NewMapDatastore()))

	_, err := s.GetMetadata(ctx, "missing")
	require.ErrorIs(t, err, ds.ErrNotFound)

	require.NoError(t, s.SetMetadata(ctx, "k", []byte("v")))
	v, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestSnapshotRequiresBadger(t *testing.T) {
	s := New(dssync.MutexWrap(ds.NewMapDatastore()))
	_, err := s.Backup(context.Background(), &bytes.Buffer{}, 0)
	require.Error(t, err)
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	slot := types.StorageKey(alice, types.FeltFromUint64(7))
	require.NoError(t, src.CommitProposal(ctx, 0, diffOf(entry(slot, 99))))

	var buf bytes.Buffer
	version, err := src.Backup(ctx, &buf, 0)
	require.NoError(t, err)
	assert.NotZero(t, version)

	kv, err := NewDefaultKVStore(t.TempDir(), "data", "restored")
	require.NoError(t, err)
	dst := New(NewBatcherKVStore(kv))
	t.Cleanup(func() { _ = dst.Close() })
	require.NoError(t, dst.Restore(ctx, &buf))

	height, err := dst.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)
	v, err := dst.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(99), v)
}
