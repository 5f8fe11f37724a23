package store

import (
	"context"
	"errors"
	"io"

	"github.com/evstack/ev-batcher/types"
)

var (
	// ErrHeightMismatch is returned when a block is committed or reverted out of order.
	ErrHeightMismatch = errors.New("height does not match store height")

	// ErrEmptyStore is returned when reverting with no committed block.
	ErrEmptyStore = errors.New("no committed block")
)

// Reader gives read access to committed state.
type Reader interface {
	// Height returns the next height to be committed.
	Height(ctx context.Context) (uint64, error)
	// Get returns the committed value of key, or the zero Felt.
	Get(ctx context.Context, key types.StateKey) (types.Felt, error)
	// GetStateDiff returns the diff committed at height.
	GetStateDiff(ctx context.Context, height uint64) (*types.StateDiff, error)
	// GetMetadata returns values stored for given key with SetMetadata.
	GetMetadata(ctx context.Context, key string) ([]byte, error)
}

// Store is the committed chain state of the batcher.
type Store interface {
	Reader

	// CommitProposal applies diff as the block at height, which must be the
	// store height.
	CommitProposal(ctx context.Context, height uint64, diff *types.StateDiff) error
	// RevertBlock undoes the block at height, which must be the latest one.
	RevertBlock(ctx context.Context, height uint64) error
	// DeleteRevertDataAtHeight drops what RevertBlock needs for height.
	DeleteRevertDataAtHeight(ctx context.Context, height uint64) error

	// SetMetadata saves arbitrary value in the store.
	SetMetadata(ctx context.Context, key string, value []byte) error

	// Close safely closes underlying data storage, to ensure that data is actually saved.
	Close() error
}

// Snapshotter streams full copies of the underlying database.
type Snapshotter interface {
	Backup(ctx context.Context, writer io.Writer, since uint64) (uint64, error)
	Restore(ctx context.Context, reader io.Reader) error
}
