package types

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// ProposalID identifies a proposal within the lifetime of a batcher.
type ProposalID uint64

// ProposalCommitment is what consensus votes on.
type ProposalCommitment struct {
	StateDiffCommitment Felt
}

func (c ProposalCommitment) String() string {
	return c.StateDiffCommitment.Hex()
}

// BlockHashAndNumber refers to an already decided block.
type BlockHashAndNumber struct {
	Number BlockNumber
	Hash   Felt
}

// BlockInfo is the block context handed to the builder.
type BlockInfo struct {
	Height           BlockNumber
	Timestamp        time.Time
	SequencerAddress Address
	L2GasPrice       *uint256.Int
	UseKZGDA         bool
}

// ProposeBlockInput starts a proposer build.
type ProposeBlockInput struct {
	Deadline               time.Time
	RetrospectiveBlockHash *BlockHashAndNumber
	BlockInfo              BlockInfo
}

// ValidateBlockInput starts a validator build.
type ValidateBlockInput struct {
	Deadline               time.Time
	RetrospectiveBlockHash *BlockHashAndNumber
	BlockInfo              BlockInfo
}

// ProposalContentKind is the kind of a message streamed into a validator.
type ProposalContentKind uint8

const (
	ProposalContentTxs ProposalContentKind = iota
	ProposalContentFinish
	ProposalContentAbort
)

// ProposalContent is one message streamed into a validator build.
type ProposalContent struct {
	Kind              ProposalContentKind
	Txs               []ConsensusTransaction
	FinalNExecutedTxs int
}

// TxsContent feeds transactions to a validator build.
func TxsContent(txs []ConsensusTransaction) ProposalContent {
	return ProposalContent{Kind: ProposalContentTxs, Txs: txs}
}

// FinishContent marks the end of the proposal.
func FinishContent(finalNExecutedTxs int) ProposalContent {
	return ProposalContent{Kind: ProposalContentFinish, FinalNExecutedTxs: finalNExecutedTxs}
}

// AbortContent cancels a validator build.
func AbortContent() ProposalContent {
	return ProposalContent{Kind: ProposalContentAbort}
}

// ProposalStatusKind is the outcome of SendProposalContent.
type ProposalStatusKind uint8

const (
	ProposalStatusProcessing ProposalStatusKind = iota
	ProposalStatusFinished
	ProposalStatusInvalidProposal
	ProposalStatusAborted
)

func (k ProposalStatusKind) String() string {
	switch k {
	case ProposalStatusProcessing:
		return "processing"
	case ProposalStatusFinished:
		return "finished"
	case ProposalStatusInvalidProposal:
		return "invalid_proposal"
	case ProposalStatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ProposalStatus is returned by SendProposalContent. Commitment is set only
// when Kind is ProposalStatusFinished.
type ProposalStatus struct {
	Kind       ProposalStatusKind
	Commitment ProposalCommitment
}

// GetProposalContentResponse is one chunk of a proposer's content stream.
// Finished is set on the terminal chunk.
type GetProposalContentResponse struct {
	Txs               []Transaction
	Finished          bool
	Commitment        ProposalCommitment
	FinalNExecutedTxs int
}

// DecisionReachedResponse carries what downstream consumers need from a
// decided block.
type DecisionReachedResponse struct {
	StateDiff      *StateDiff
	L2GasUsed      uint64
	BouncerWeights BouncerWeights
	ExecutionInfos []*ExecutionInfo
}

// SyncBlock is a block learned through state sync.
type SyncBlock struct {
	Height            BlockNumber
	StateDiff         *StateDiff
	AccountTxHashes   []TxHash
	L1HandlerTxHashes []TxHash
}

// RevertBlockInput asks the batcher to drop the latest block.
type RevertBlockInput struct {
	Height BlockNumber
}

// SessionState tells the L1 provider what the batcher is about to do.
type SessionState uint8

const (
	SessionPropose SessionState = iota
	SessionValidate
)

func (s SessionState) String() string {
	if s == SessionValidate {
		return "validate"
	}
	return "propose"
}

// L1ValidationStatus is the L1 provider's verdict on an L1 handler
// transaction seen in a proposal.
type L1ValidationStatus uint8

const (
	L1ValidationValidated L1ValidationStatus = iota
	L1ValidationAlreadyIncludedInProposedBlock
	L1ValidationAlreadyIncludedOnL2
	L1ValidationConsumedOnL1
	L1ValidationNotFound
)

func (s L1ValidationStatus) String() string {
	switch s {
	case L1ValidationValidated:
		return "validated"
	case L1ValidationAlreadyIncludedInProposedBlock:
		return "already_included_in_proposed_block"
	case L1ValidationAlreadyIncludedOnL2:
		return "already_included_on_l2"
	case L1ValidationConsumedOnL1:
		return "consumed_on_l1"
	case L1ValidationNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}
