package execution

import (
	"context"

	"github.com/evstack/ev-batcher/types"
)

// StateReader gives read access to contract state.
type StateReader interface {
	// Get returns the value stored under key, or the zero Felt if the key
	// was never written.
	Get(ctx context.Context, key types.StateKey) (types.Felt, error)
}

// State is the view a single transaction executes against.
//
// Writes are buffered by the caller: they become visible to other
// transactions only after ExecuteTx returns without error.
type State interface {
	StateReader
	Set(key types.StateKey, value types.Felt)
}

// BlockContext is the block-level input of transaction execution.
type BlockContext struct {
	BlockInfo       types.BlockInfo
	FeeTokenAddress types.Address

	// ConcurrencyMode tells the executor that transactions of this block run
	// speculatively in parallel. In this mode the executor must neither read
	// nor write the sequencer's fee balance: the fee is only reported in
	// ExecutionInfo.ActualFee and credited to the sequencer at commit time.
	ConcurrencyMode bool
}

// TxExecutor defines the interface of the contract execution engine. The
// block builder treats it as a black box that executes one transaction.
//
// Note: if you are modifying this interface, ensure that all implementations
// are compatible.
type TxExecutor interface {
	// ExecuteTx runs a single transaction against state.
	// Requirements:
	// - Must be deterministic given the values read from state
	// - Must read state only through the given State, so every read is tracked
	// - Must charge the fee to the sender, and to the sequencer only when
	//   blockCtx.ConcurrencyMode is false
	// - Must be safe for concurrent use with distinct State values
	//
	// Returns:
	// - info: the receipt; info.Reverted is set when the transaction reverted
	//   (its fee is still charged and its nonce still advanced)
	// - err: a hard failure (bad nonce, insufficient balance, ...); the
	//   transaction is rejected and none of its writes are kept
	ExecuteTx(ctx context.Context, tx *types.Transaction, state State, blockCtx BlockContext) (info *types.ExecutionInfo, err error)
}
