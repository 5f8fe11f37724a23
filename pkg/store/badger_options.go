package store

import (
	"runtime"

	badger4 "github.com/ipfs/go-ds-badger4"
)

// BadgerOptions returns Badger options tuned for one write batch per block.
func BadgerOptions() *badger4.Options {
	opts := badger4.DefaultOptions

	// Blocks are committed by a single writer.
	opts.Options = opts.WithDetectConflicts(false)
	opts.Options = opts.WithNumLevelZeroTables(10)
	opts.Options = opts.WithNumLevelZeroTablesStall(20)
	opts.Options = opts.WithNumCompactors(compactorCount())

	return &opts
}

func compactorCount() int {
	return min(max(runtime.NumCPU(), 4), 8)
}
