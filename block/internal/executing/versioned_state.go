package executing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

type versionEntry struct {
	txIndex int
	value   types.Felt
}

func versionLess(a, b versionEntry) bool { return a.txIndex < b.txIndex }

// keyVersions holds every buffered write to one key, ordered by writer index.
type keyVersions struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[versionEntry]
}

func newKeyVersions() *keyVersions {
	return &keyVersions{tree: btree.NewG[versionEntry](8, versionLess)}
}

// latestBefore returns the write of the highest index lower than txIndex.
func (kv *keyVersions) latestBefore(txIndex int) (types.Felt, bool) {
	if txIndex <= 0 {
		return types.Felt{}, false
	}
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	var (
		found versionEntry
		ok    bool
	)
	kv.tree.DescendLessOrEqual(versionEntry{txIndex: txIndex - 1}, func(e versionEntry) bool {
		found, ok = e, true
		return false
	})
	return found.value, ok
}

func (kv *keyVersions) set(txIndex int, value types.Felt) {
	kv.mu.Lock()
	kv.tree.ReplaceOrInsert(versionEntry{txIndex: txIndex, value: value})
	kv.mu.Unlock()
}

func (kv *keyVersions) delete(txIndex int) {
	kv.mu.Lock()
	kv.tree.Delete(versionEntry{txIndex: txIndex})
	kv.mu.Unlock()
}

// VersionedState is the multi-version store shared by the workers of one
// block. Reads at index i see the latest write of an index lower than i,
// speculative or committed, and fall back to the base state. Every key has
// its own lock, so unrelated keys never contend.
type VersionedState struct {
	base     execution.StateReader
	baseVals *xsync.MapOf[types.StateKey, types.Felt]
	versions *xsync.MapOf[types.StateKey, *keyVersions]
}

// NewVersionedState returns an empty overlay over base.
func NewVersionedState(base execution.StateReader) *VersionedState {
	return &VersionedState{
		base:     base,
		baseVals: xsync.NewMapOf[types.StateKey, types.Felt](),
		versions: xsync.NewMapOf[types.StateKey, *keyVersions](),
	}
}

// Read returns the value of key as seen by the transaction at txIndex.
func (vs *VersionedState) Read(ctx context.Context, txIndex int, key types.StateKey) (types.Felt, error) {
	if kv, ok := vs.versions.Load(key); ok {
		if v, found := kv.latestBefore(txIndex); found {
			return v, nil
		}
	}
	return vs.baseValue(ctx, key)
}

// baseValue reads key from the base state once and caches it, so every
// transaction of the block observes the same initial value.
func (vs *VersionedState) baseValue(ctx context.Context, key types.StateKey) (types.Felt, error) {
	if v, ok := vs.baseVals.Load(key); ok {
		return v, nil
	}
	v, err := vs.base.Get(ctx, key)
	if err != nil {
		return types.Felt{}, fmt.Errorf("read base state %s: %w", key, err)
	}
	actual, _ := vs.baseVals.LoadOrStore(key, v)
	return actual, nil
}

// ApplyWrites records the writes of txIndex. Keys written by a previous
// incarnation of the transaction but absent from writes are removed.
func (vs *VersionedState) ApplyWrites(txIndex int, prev, writes map[types.StateKey]types.Felt) {
	for key := range prev {
		if _, ok := writes[key]; !ok {
			vs.deleteWrite(txIndex, key)
		}
	}
	for key, value := range writes {
		kv, _ := vs.versions.LoadOrStore(key, newKeyVersions())
		kv.set(txIndex, value)
	}
}

// DeleteWrites removes the buffered writes of txIndex.
func (vs *VersionedState) DeleteWrites(txIndex int, writes map[types.StateKey]types.Felt) {
	for key := range writes {
		vs.deleteWrite(txIndex, key)
	}
}

func (vs *VersionedState) deleteWrite(txIndex int, key types.StateKey) {
	if kv, ok := vs.versions.Load(key); ok {
		kv.delete(txIndex)
	}
}

// ValidateReads reports whether every value in reads is still what the
// transaction at txIndex would read now.
func (vs *VersionedState) ValidateReads(ctx context.Context, txIndex int, reads map[types.StateKey]types.Felt) (bool, error) {
	for key, seen := range reads {
		current, err := vs.Read(ctx, txIndex, key)
		if err != nil {
			return false, err
		}
		if current != seen {
			return false, nil
		}
	}
	return true, nil
}

// StateDiff returns the combined effect of transactions [0, n) relative to
// the base state. Writes that restore the base value are dropped.
func (vs *VersionedState) StateDiff(ctx context.Context, n int) (*types.StateDiff, error) {
	diff := types.NewStateDiff()
	var rangeErr error
	vs.versions.Range(func(key types.StateKey, kv *keyVersions) bool {
		v, ok := kv.latestBefore(n)
		if !ok {
			return true
		}
		base, err := vs.baseValue(ctx, key)
		if err != nil {
			rangeErr = err
			return false
		}
		if v != base {
			diff.Set(key, v)
		}
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return diff, nil
}

// txState is the view of one transaction incarnation. It records the first
// read of every key and buffers writes until the executor returns.
type txState struct {
	vs      *VersionedState
	txIndex int
	reads   map[types.StateKey]types.Felt
	writes  map[types.StateKey]types.Felt
}

func newTxState(vs *VersionedState, txIndex int) *txState {
	return &txState{
		vs:      vs,
		txIndex: txIndex,
		reads:   make(map[types.StateKey]types.Felt),
		writes:  make(map[types.StateKey]types.Felt),
	}
}

var _ execution.State = (*txState)(nil)

func (s *txState) Get(ctx context.Context, key types.StateKey) (types.Felt, error) {
	if v, ok := s.writes[key]; ok {
		return v, nil
	}
	if v, ok := s.reads[key]; ok {
		return v, nil
	}
	v, err := s.vs.Read(ctx, s.txIndex, key)
	if err != nil {
		return types.Felt{}, err
	}
	s.reads[key] = v
	return v, nil
}

func (s *txState) Set(key types.StateKey, value types.Felt) {
	s.writes[key] = value
}
