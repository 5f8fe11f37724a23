package types

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
)

// BlockCloseReason explains why a block build stopped.
type BlockCloseReason string

const (
	BlockCloseReasonFullBlock         BlockCloseReason = "full_block"
	BlockCloseReasonDeadline          BlockCloseReason = "deadline"
	BlockCloseReasonValidatorFinished BlockCloseReason = "validator_finished"
)

// AllBlockCloseReasons returns every close reason.
func AllBlockCloseReasons() []BlockCloseReason {
	return []BlockCloseReason{
		BlockCloseReasonFullBlock,
		BlockCloseReasonDeadline,
		BlockCloseReasonValidatorFinished,
	}
}

// ExecutionInfo is the receipt of one executed transaction.
type ExecutionInfo struct {
	TxHash       TxHash
	Reverted     bool
	RevertReason string
	ActualFee    *uint256.Int
	L2GasUsed    uint64
	Resources    BouncerWeights
}

// BlockExecutionArtifacts is the sealed output of one block build.
type BlockExecutionArtifacts struct {
	// TxHashes holds the included transactions in block order.
	TxHashes       []TxHash
	ExecutionInfos map[TxHash]*ExecutionInfo

	RejectedTxHashes          mapset.Set[TxHash]
	ConsumedL1HandlerTxHashes mapset.Set[TxHash]

	StateDiff           *StateDiff
	CompressedStateDiff []byte
	BouncerWeights      BouncerWeights
	L2GasUsed           uint64

	// FinalNExecutedTxs is the number of transactions of the input sequence
	// covered by the block, rejected ones included.
	FinalNExecutedTxs int
	CloseReason       BlockCloseReason
}

// NewBlockExecutionArtifacts returns empty artifacts.
func NewBlockExecutionArtifacts() *BlockExecutionArtifacts {
	return &BlockExecutionArtifacts{
		ExecutionInfos:            make(map[TxHash]*ExecutionInfo),
		RejectedTxHashes:          mapset.NewThreadUnsafeSet[TxHash](),
		ConsumedL1HandlerTxHashes: mapset.NewThreadUnsafeSet[TxHash](),
		StateDiff:                 NewStateDiff(),
	}
}

// AddExecutionInfo appends an included transaction.
func (a *BlockExecutionArtifacts) AddExecutionInfo(info *ExecutionInfo) {
	a.TxHashes = append(a.TxHashes, info.TxHash)
	a.ExecutionInfos[info.TxHash] = info
}

// OrderedExecutionInfos returns the receipts in block order.
func (a *BlockExecutionArtifacts) OrderedExecutionInfos() []*ExecutionInfo {
	out := make([]*ExecutionInfo, 0, len(a.TxHashes))
	for _, h := range a.TxHashes {
		out = append(out, a.ExecutionInfos[h])
	}
	return out
}

// Commitment returns the commitment consensus agrees on.
func (a *BlockExecutionArtifacts) Commitment() ProposalCommitment {
	return ProposalCommitment{StateDiffCommitment: a.StateDiff.Commitment()}
}

// CommitBlockArgs returns what the mempool needs to know about the block.
func (a *BlockExecutionArtifacts) CommitBlockArgs() CommitBlockArgs {
	return CommitBlockArgs{
		AddressToNonce:   a.StateDiff.AddressToNonce(),
		RejectedTxHashes: a.RejectedTxHashes.ToSlice(),
	}
}

// CommitBlockArgs is passed to the mempool once a block is decided.
type CommitBlockArgs struct {
	AddressToNonce   map[Address]uint64
	RejectedTxHashes []TxHash
}
