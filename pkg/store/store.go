package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"

	"github.com/evstack/ev-batcher/compression"
	"github.com/evstack/ev-batcher/types"
)

// DefaultStore keeps the current state, the height marker and, per block,
// the committed diff and the diff that undoes it.
type DefaultStore struct {
	db ds.Batching
}

var _ Store = &DefaultStore{}

// New returns new, default store.
func New(ds ds.Batching) *DefaultStore {
	return &DefaultStore{
		db: ds,
	}
}

// Close safely closes underlying data storage, to ensure that data is actually saved.
func (s *DefaultStore) Close() error {
	return s.db.Close()
}

// Height returns the next height to be committed.
func (s *DefaultStore) Height(ctx context.Context) (uint64, error) {
	heightBytes, err := s.db.Get(ctx, ds.NewKey(getHeightKey()))
	if errors.Is(err, ds.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeHeight(heightBytes)
}

// Get returns the committed value of key, or the zero Felt if it was never
// written.
func (s *DefaultStore) Get(ctx context.Context, key types.StateKey) (types.Felt, error) {
	value, err := s.db.Get(ctx, ds.NewKey(GetStateKey(key)))
	if errors.Is(err, ds.ErrNotFound) {
		return types.Felt{}, nil
	}
	if err != nil {
		return types.Felt{}, fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return common.BytesToHash(value), nil
}

// GetStateDiff returns the diff committed at height.
func (s *DefaultStore) GetStateDiff(ctx context.Context, height uint64) (*types.StateDiff, error) {
	return s.loadDiff(ctx, GetStateDiffKey(height))
}

func (s *DefaultStore) loadDiff(ctx context.Context, key string) (*types.StateDiff, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to load state diff %s: %w", key, err)
	}
	diff, err := compression.DecompressStateDiff(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state diff %s: %w", key, err)
	}
	return diff, nil
}

// CommitProposal applies diff as the block at height. The diff, the diff
// restoring the previous values and the new height marker are written in one
// batch.
func (s *DefaultStore) CommitProposal(ctx context.Context, height uint64, diff *types.StateDiff) error {
	current, err := s.Height(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current height: %w", err)
	}
	if height != current {
		return fmt.Errorf("%w: commit %d, store at %d", ErrHeightMismatch, height, current)
	}
	if diff == nil {
		diff = types.NewStateDiff()
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return fmt.Errorf("failed to create a new batch: %w", err)
	}

	reverse := types.NewStateDiff()
	for _, entry := range diff.Entries() {
		prev, err := s.Get(ctx, entry.Key)
		if err != nil {
			return err
		}
		reverse.Set(entry.Key, prev)
		if err := putState(ctx, batch, entry.Key, entry.Value); err != nil {
			return err
		}
	}

	diffBlob, err := compression.CompressStateDiff(diff)
	if err != nil {
		return fmt.Errorf("failed to encode state diff: %w", err)
	}
	reverseBlob, err := compression.CompressStateDiff(reverse)
	if err != nil {
		return fmt.Errorf("failed to encode reverse state diff: %w", err)
	}
	if err := batch.Put(ctx, ds.NewKey(GetStateDiffKey(height)), diffBlob); err != nil {
		return fmt.Errorf("failed to put state diff in batch: %w", err)
	}
	if err := batch.Put(ctx, ds.NewKey(getReverseDiffKey(height)), reverseBlob); err != nil {
		return fmt.Errorf("failed to put reverse state diff in batch: %w", err)
	}
	if err := batch.Put(ctx, ds.NewKey(getHeightKey()), encodeHeight(height+1)); err != nil {
		return fmt.Errorf("failed to set height: %w", err)
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// RevertBlock undoes the block at height, which must be the latest committed
// block.
func (s *DefaultStore) RevertBlock(ctx context.Context, height uint64) error {
	current, err := s.Height(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current height: %w", err)
	}
	if current == 0 {
		return ErrEmptyStore
	}
	if height != current-1 {
		return fmt.Errorf("%w: revert %d, latest block is %d", ErrHeightMismatch, height, current-1)
	}

	reverse, err := s.loadDiff(ctx, getReverseDiffKey(height))
	if err != nil {
		return err
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return fmt.Errorf("failed to create a new batch: %w", err)
	}
	for _, entry := range reverse.Entries() {
		if err := putState(ctx, batch, entry.Key, entry.Value); err != nil {
			return err
		}
	}
	if err := batch.Delete(ctx, ds.NewKey(GetStateDiffKey(height))); err != nil {
		return fmt.Errorf("failed to delete state diff in batch: %w", err)
	}
	if err := batch.Delete(ctx, ds.NewKey(getReverseDiffKey(height))); err != nil {
		return fmt.Errorf("failed to delete reverse state diff in batch: %w", err)
	}
	if err := batch.Put(ctx, ds.NewKey(getHeightKey()), encodeHeight(height)); err != nil {
		return fmt.Errorf("failed to set height: %w", err)
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// DeleteRevertDataAtHeight removes the reverse diff of the block at height.
// The block can no longer be reverted afterwards.
func (s *DefaultStore) DeleteRevertDataAtHeight(ctx context.Context, height uint64) error {
	if err := s.db.Delete(ctx, ds.NewKey(getReverseDiffKey(height))); err != nil {
		return fmt.Errorf("failed to delete reverse state diff at height %d: %w", height, err)
	}
	return nil
}

// putState writes value, deleting the key for the zero Felt so that reverted
// keys read as never written.
func putState(ctx context.Context, batch ds.Batch, key types.StateKey, value types.Felt) error {
	dsKey := ds.NewKey(GetStateKey(key))
	if value == (types.Felt{}) {
		if err := batch.Delete(ctx, dsKey); err != nil {
			return fmt.Errorf("failed to delete state %s in batch: %w", key, err)
		}
		return nil
	}
	if err := batch.Put(ctx, dsKey, value.Bytes()); err != nil {
		return fmt.Errorf("failed to put state %s in batch: %w", key, err)
	}
	return nil
}

// SetMetadata saves arbitrary value in the store.
//
// Metadata is separated from other data by using prefix in KV.
func (s *DefaultStore) SetMetadata(ctx context.Context, key string, value []byte) error {
	if err := s.db.Put(ctx, ds.NewKey(GetMetaKey(key)), value); err != nil {
		return fmt.Errorf("failed to set metadata for key '%s': %w", key, err)
	}
	return nil
}

// GetMetadata returns values stored for given key with SetMetadata.
func (s *DefaultStore) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	data, err := s.db.Get(ctx, ds.NewKey(GetMetaKey(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for key '%s': %w", key, err)
	}
	return data, nil
}

// Sync flushes the store state to disk.
// Returns an error instead of panicking if the database was closed during shutdown.
func (s *DefaultStore) Sync(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync failed: database closed")
		}
	}()
	return s.db.Sync(ctx, ds.NewKey("/"))
}

const heightLength = 8

func encodeHeight(height uint64) []byte {
	heightBytes := make([]byte, heightLength)
	binary.LittleEndian.PutUint64(heightBytes, height)
	return heightBytes
}

func decodeHeight(heightBytes []byte) (uint64, error) {
	if len(heightBytes) != heightLength {
		return 0, fmt.Errorf("invalid height length: %d (expected %d)", len(heightBytes), heightLength)
	}
	return binary.LittleEndian.Uint64(heightBytes), nil
}
