package store

import (
	"path"
	"path/filepath"
	"strings"

	ds "github.com/ipfs/go-datastore"
	ktds "github.com/ipfs/go-datastore/keytransform"
	badger4 "github.com/ipfs/go-ds-badger4"
)

// BatcherPrefix separates batcher data from other data sharing the database.
const BatcherPrefix = "0"

// NewDefaultKVStore opens the badger database at rootDir/dbPath/dbName.
func NewDefaultKVStore(rootDir, dbPath, dbName string) (ds.Batching, error) {
	return badger4.NewDatastore(filepath.Join(rootify(rootDir, dbPath), dbName), BadgerOptions())
}

// NewDefaultReadOnlyKVStore opens the badger database read-only, so it can be
// inspected while no node holds it.
func NewDefaultReadOnlyKVStore(rootDir, dbPath, dbName string) (ds.Batching, error) {
	opts := BadgerOptions()
	opts.Options = opts.WithReadOnly(true)
	return badger4.NewDatastore(filepath.Join(rootify(rootDir, dbPath), dbName), opts)
}

// NewPrefixKVStore creates a new key-value store with a prefix applied to all keys.
func NewPrefixKVStore(kvStore ds.Batching, prefix string) ds.Batching {
	return ktds.Wrap(kvStore, ktds.PrefixTransform{Prefix: ds.NewKey(prefix)})
}

// NewBatcherKVStore applies BatcherPrefix to all keys.
func NewBatcherKVStore(kvStore ds.Batching) ds.Batching {
	return NewPrefixKVStore(kvStore, BatcherPrefix)
}

// GenerateKey creates a key from a slice of string fields, joining them with slashes.
func GenerateKey(fields []string) string {
	key := "/" + strings.Join(fields, "/")
	return path.Clean(key)
}

func rootify(rootDir, dbPath string) string {
	if filepath.IsAbs(dbPath) {
		return dbPath
	}
	return filepath.Join(rootDir, dbPath)
}

// NewTestInMemoryKVStore builds KVStore that works in-memory (without accessing disk).
func NewTestInMemoryKVStore() (ds.Batching, error) {
	inMemoryOptions := &badger4.Options{
		Options: badger4.DefaultOptions.WithInMemory(true),
	}
	return badger4.NewDatastore("", inMemoryOptions)
}
