// Package converter turns transactions exchanged with consensus into
// executable ones and keeps the contract classes they declare.
package converter

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	ds "github.com/ipfs/go-datastore"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/pkg/store"
	"github.com/evstack/ev-batcher/types"
)

// DefaultClassCacheSize bounds the class definitions kept in memory.
const DefaultClassCacheSize = 256

var (
	// ErrClassNotFound is returned when a declare references an unknown class.
	ErrClassNotFound = errors.New("class not found")
	// ErrClassHashMismatch is returned when an inline class does not hash to
	// the declared class hash.
	ErrClassHashMismatch = errors.New("class hash mismatch")
	// ErrEmptyClass is returned when an empty class definition is added.
	ErrEmptyClass = errors.New("empty class definition")
)

// ClassManager stores contract class definitions by class hash.
type ClassManager struct {
	db     ds.Batching
	cache  *lru.Cache[types.Felt, []byte]
	logger zerolog.Logger
}

// NewClassManager creates a class manager persisting definitions under prefix.
func NewClassManager(db ds.Batching, prefix string, cacheSize int, logger zerolog.Logger) (*ClassManager, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultClassCacheSize
	}
	cache, err := lru.New[types.Felt, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create class cache: %w", err)
	}
	return &ClassManager{
		db:     store.NewPrefixKVStore(db, prefix),
		cache:  cache,
		logger: logger.With().Str("component", "class_manager").Logger(),
	}, nil
}

func classKey(hash types.Felt) ds.Key {
	return ds.NewKey(hash.Hex())
}

// AddClass stores definition and returns its class hash. Adding a known
// class is a no-op.
func (m *ClassManager) AddClass(ctx context.Context, definition []byte) (types.Felt, error) {
	if len(definition) == 0 {
		return types.Felt{}, ErrEmptyClass
	}
	hash := types.ClassHash(definition)
	if m.cache.Contains(hash) {
		return hash, nil
	}

	has, err := m.db.Has(ctx, classKey(hash))
	if err != nil {
		return types.Felt{}, fmt.Errorf("failed to check class %s: %w", hash.Hex(), err)
	}
	if !has {
		if err := m.db.Put(ctx, classKey(hash), definition); err != nil {
			return types.Felt{}, fmt.Errorf("failed to store class %s: %w", hash.Hex(), err)
		}
		m.logger.Debug().Str("class_hash", hash.Hex()).Int("size", len(definition)).Msg("class added")
	}
	m.cache.Add(hash, definition)
	return hash, nil
}

// GetClass returns the definition of the class with the given hash.
func (m *ClassManager) GetClass(ctx context.Context, hash types.Felt) ([]byte, error) {
	if definition, ok := m.cache.Get(hash); ok {
		return definition, nil
	}
	definition, err := m.db.Get(ctx, classKey(hash))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, hash.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load class %s: %w", hash.Hex(), err)
	}
	m.cache.Add(hash, definition)
	return definition, nil
}

// HasClass reports whether the class is known.
func (m *ClassManager) HasClass(ctx context.Context, hash types.Felt) (bool, error) {
	if m.cache.Contains(hash) {
		return true, nil
	}
	return m.db.Has(ctx, classKey(hash))
}
