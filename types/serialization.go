package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

type rlpStateEntry struct {
	Kind    uint8
	Address Address
	Slot    Felt
	Value   Felt
}

// MarshalBinary encodes the diff with RLP. Entries are sorted, so equal diffs
// always encode to equal bytes.
func (d *StateDiff) MarshalBinary() ([]byte, error) {
	entries := d.Entries()
	out := make([]rlpStateEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, rlpStateEntry{
			Kind:    uint8(e.Key.Kind),
			Address: e.Key.Address,
			Slot:    e.Key.Slot,
			Value:   e.Value,
		})
	}
	return rlp.EncodeToBytes(out)
}

// UnmarshalBinary decodes a diff encoded by MarshalBinary.
func (d *StateDiff) UnmarshalBinary(data []byte) error {
	var entries []rlpStateEntry
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return fmt.Errorf("decode state diff: %w", err)
	}
	*d = *NewStateDiff()
	for _, e := range entries {
		if StateKeyKind(e.Kind) > StateKeyClassHash {
			return fmt.Errorf("decode state diff: invalid key kind %d", e.Kind)
		}
		d.Set(StateKey{Kind: StateKeyKind(e.Kind), Address: e.Address, Slot: e.Slot}, e.Value)
	}
	return nil
}

// MarshalBinary encodes the transaction with RLP.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// UnmarshalBinary decodes a transaction encoded by MarshalBinary.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	if err := rlp.DecodeBytes(data, tx); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	return nil
}
