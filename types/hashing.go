package types

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// Hash returns the keccak256 hash of the RLP encoded transaction.
func (tx *Transaction) Hash() TxHash {
	bz, err := tx.MarshalBinary()
	if err != nil {
		return TxHash{}
	}
	return crypto.Keccak256Hash(bz)
}

// Commitment returns the keccak256 hash of the RLP encoded diff.
func (d *StateDiff) Commitment() Felt {
	if d == nil {
		d = NewStateDiff()
	}
	bz, err := d.MarshalBinary()
	if err != nil {
		return Felt{}
	}
	return crypto.Keccak256Hash(bz)
}

// ClassHash returns the hash a contract class definition is registered under.
func ClassHash(definition []byte) Felt {
	return crypto.Keccak256Hash(definition)
}
