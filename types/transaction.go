package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	// Felt is a 32 byte field element, the unit of value stored in state.
	Felt = common.Hash
	// Address identifies a contract or an account.
	Address = common.Address
	// TxHash identifies a transaction.
	TxHash = common.Hash
	// BlockNumber is a block height.
	BlockNumber = uint64
)

// TxKind is the kind of an executable transaction.
type TxKind uint8

const (
	TxKindInvoke TxKind = iota
	TxKindDeclare
	TxKindDeployAccount
	TxKindL1Handler
)

func (k TxKind) String() string {
	switch k {
	case TxKindInvoke:
		return "invoke"
	case TxKindDeclare:
		return "declare"
	case TxKindDeployAccount:
		return "deploy_account"
	case TxKindL1Handler:
		return "l1_handler"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Transaction is an executable transaction as consumed by the block builder.
// Account transactions pay fees in the fee token; L1 handler transactions are
// paid for on L1 and never move the sequencer balance.
type Transaction struct {
	Kind      TxKind
	Sender    Address
	Nonce     uint64
	ClassHash Felt
	MaxFee    *uint256.Int
	Calldata  []byte
}

// IsL1Handler reports whether the transaction originates from an L1 message.
func (tx *Transaction) IsL1Handler() bool {
	return tx.Kind == TxKindL1Handler
}

// ConsensusTransaction is the representation of a transaction exchanged with
// consensus. Declare transactions may carry the class definition inline or
// reference a class already known to the class manager.
type ConsensusTransaction struct {
	Kind          TxKind
	Sender        Address
	Nonce         uint64
	ClassHash     Felt
	ContractClass []byte
	MaxFee        *uint256.Int
	Calldata      []byte
}

// FeltFromUint64 encodes v as a big-endian field element.
func FeltFromUint64(v uint64) Felt {
	return FeltFromUint256(uint256.NewInt(v))
}

// FeltFromUint256 encodes v as a big-endian field element.
func FeltFromUint256(v *uint256.Int) Felt {
	if v == nil {
		return Felt{}
	}
	return Felt(v.Bytes32())
}

// FeltToUint256 decodes a big-endian field element.
func FeltToUint256(f Felt) *uint256.Int {
	return new(uint256.Int).SetBytes32(f[:])
}

// FeltToUint64 decodes a field element, truncating values above 2^64.
func FeltToUint64(f Felt) uint64 {
	return FeltToUint256(f).Uint64()
}
