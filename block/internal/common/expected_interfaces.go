package common

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

// Storage is the committed chain state as seen by the batcher.
type Storage interface {
	execution.StateReader

	// Height returns the next height to be committed.
	Height(ctx context.Context) (uint64, error)
	// CommitProposal applies diff as the block at height.
	CommitProposal(ctx context.Context, height uint64, diff *types.StateDiff) error
	// RevertBlock undoes the block at height, which must be the latest one.
	RevertBlock(ctx context.Context, height uint64) error
}

// MempoolClient is the source of account transactions.
type MempoolClient interface {
	UpdateGasPrice(ctx context.Context, price *uint256.Int) error
	CommitBlock(ctx context.Context, args types.CommitBlockArgs) error
	GetTxs(ctx context.Context, n int) ([]types.Transaction, error)
}

// L1ProviderClient is the source of L1 handler transactions.
type L1ProviderClient interface {
	StartHeight(ctx context.Context, height uint64) error
	StartBlock(ctx context.Context, session types.SessionState, height uint64) error
	CommitBlock(ctx context.Context, consumed, rejected []types.TxHash, height uint64) error
	GetTxs(ctx context.Context, n int, height uint64) ([]types.Transaction, error)
	Validate(ctx context.Context, hash types.TxHash, height uint64) (types.L1ValidationStatus, error)
}

// TransactionConverter turns consensus transactions into executable ones.
type TransactionConverter interface {
	ConvertConsensusTx(ctx context.Context, tx types.ConsensusTransaction) (types.Transaction, error)
}
