package converter

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/evstack/ev-batcher/types"
)

// Converter converts between consensus and executable transactions.
type Converter struct {
	classes *ClassManager
}

// NewConverter creates a converter backed by classes.
func NewConverter(classes *ClassManager) *Converter {
	return &Converter{classes: classes}
}

// ConvertConsensusTx returns the executable form of tx. A declare carrying
// its class inline registers the class. A declare referencing a class
// fails with ErrClassNotFound when the class is unknown.
func (c *Converter) ConvertConsensusTx(ctx context.Context, tx types.ConsensusTransaction) (types.Transaction, error) {
	out := types.Transaction{
		Kind:      tx.Kind,
		Sender:    tx.Sender,
		Nonce:     tx.Nonce,
		ClassHash: tx.ClassHash,
		Calldata:  tx.Calldata,
	}
	if tx.MaxFee != nil {
		out.MaxFee = new(uint256.Int).Set(tx.MaxFee)
	}
	if tx.Kind != types.TxKindDeclare {
		return out, nil
	}

	if len(tx.ContractClass) > 0 {
		hash, err := c.classes.AddClass(ctx, tx.ContractClass)
		if err != nil {
			return types.Transaction{}, err
		}
		if tx.ClassHash != (types.Felt{}) && tx.ClassHash != hash {
			return types.Transaction{}, fmt.Errorf("%w: declared %s, computed %s", ErrClassHashMismatch, tx.ClassHash.Hex(), hash.Hex())
		}
		out.ClassHash = hash
		return out, nil
	}

	has, err := c.classes.HasClass(ctx, tx.ClassHash)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("failed to look up class %s: %w", tx.ClassHash.Hex(), err)
	}
	if !has {
		return types.Transaction{}, fmt.Errorf("%w: %s", ErrClassNotFound, tx.ClassHash.Hex())
	}
	return out, nil
}

// ToConsensusTx returns the consensus form of tx. Declares reference their
// class by hash.
func ToConsensusTx(tx types.Transaction) types.ConsensusTransaction {
	out := types.ConsensusTransaction{
		Kind:      tx.Kind,
		Sender:    tx.Sender,
		Nonce:     tx.Nonce,
		ClassHash: tx.ClassHash,
		Calldata:  tx.Calldata,
	}
	if tx.MaxFee != nil {
		out.MaxFee = new(uint256.Int).Set(tx.MaxFee)
	}
	return out
}
