package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/evstack/ev-batcher/types"
)

// DefaultStateCacheSize is the default number of state values kept in memory.
const DefaultStateCacheSize = 100_000

// CachedStore wraps a Store with an LRU cache of committed state values.
// Every key of a committed or reverted block is evicted.
type CachedStore struct {
	Store

	stateCache *lru.Cache[types.StateKey, types.Felt]
}

// NewCachedStore creates a new CachedStore wrapping the given store.
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultStateCacheSize
	}
	cache, err := lru.New[types.StateKey, types.Felt](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: store, stateCache: cache}, nil
}

// Get returns the committed value of key, from the cache when possible.
func (cs *CachedStore) Get(ctx context.Context, key types.StateKey) (types.Felt, error) {
	if value, ok := cs.stateCache.Get(key); ok {
		return value, nil
	}
	value, err := cs.Store.Get(ctx, key)
	if err != nil {
		return value, err
	}
	cs.stateCache.Add(key, value)
	return value, nil
}

// CommitProposal commits diff and evicts its keys.
func (cs *CachedStore) CommitProposal(ctx context.Context, height uint64, diff *types.StateDiff) error {
	defer cs.evict(diff)
	return cs.Store.CommitProposal(ctx, height, diff)
}

// RevertBlock reverts the block at height and evicts the keys it touched.
func (cs *CachedStore) RevertBlock(ctx context.Context, height uint64) error {
	diff, err := cs.Store.GetStateDiff(ctx, height)
	if err != nil {
		// Nothing is known about the keys, so drop everything.
		defer cs.stateCache.Purge()
	} else {
		defer cs.evict(diff)
	}
	return cs.Store.RevertBlock(ctx, height)
}

func (cs *CachedStore) evict(diff *types.StateDiff) {
	for _, entry := range diff.Entries() {
		cs.stateCache.Remove(entry.Key)
	}
}

// ClearCache drops all cached values.
func (cs *CachedStore) ClearCache() {
	cs.stateCache.Purge()
}
