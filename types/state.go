package types

import (
	"bytes"
	"fmt"
	"sort"
)

// StateKeyKind selects which part of a contract's state a key refers to.
type StateKeyKind uint8

const (
	StateKeyStorage StateKeyKind = iota
	StateKeyNonce
	StateKeyClassHash
)

// StateKey addresses a single value in state.
type StateKey struct {
	Kind    StateKeyKind
	Address Address
	Slot    Felt
}

// StorageKey returns the key of a storage slot of a contract.
func StorageKey(addr Address, slot Felt) StateKey {
	return StateKey{Kind: StateKeyStorage, Address: addr, Slot: slot}
}

// NonceKey returns the key of the nonce of an account.
func NonceKey(addr Address) StateKey {
	return StateKey{Kind: StateKeyNonce, Address: addr}
}

// ClassHashKey returns the key of the class hash a contract is deployed with.
func ClassHashKey(addr Address) StateKey {
	return StateKey{Kind: StateKeyClassHash, Address: addr}
}

// Less orders keys by kind, address and slot.
func (k StateKey) Less(o StateKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if c := bytes.Compare(k.Address[:], o.Address[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.Slot[:], o.Slot[:]) < 0
}

func (k StateKey) String() string {
	switch k.Kind {
	case StateKeyNonce:
		return fmt.Sprintf("nonce/%s", k.Address.Hex())
	case StateKeyClassHash:
		return fmt.Sprintf("class/%s", k.Address.Hex())
	default:
		return fmt.Sprintf("storage/%s/%s", k.Address.Hex(), k.Slot.Hex())
	}
}

// StateDiff is the set of state values changed by a block.
type StateDiff struct {
	StorageDiffs map[Address]map[Felt]Felt
	Nonces       map[Address]Felt
	ClassHashes  map[Address]Felt
}

// NewStateDiff returns an empty state diff.
func NewStateDiff() *StateDiff {
	return &StateDiff{
		StorageDiffs: make(map[Address]map[Felt]Felt),
		Nonces:       make(map[Address]Felt),
		ClassHashes:  make(map[Address]Felt),
	}
}

// Set records value for key, replacing any earlier value.
func (d *StateDiff) Set(key StateKey, value Felt) {
	switch key.Kind {
	case StateKeyNonce:
		d.Nonces[key.Address] = value
	case StateKeyClassHash:
		d.ClassHashes[key.Address] = value
	default:
		slots, ok := d.StorageDiffs[key.Address]
		if !ok {
			slots = make(map[Felt]Felt)
			d.StorageDiffs[key.Address] = slots
		}
		slots[key.Slot] = value
	}
}

// Get returns the value recorded for key.
func (d *StateDiff) Get(key StateKey) (Felt, bool) {
	var (
		v  Felt
		ok bool
	)
	switch key.Kind {
	case StateKeyNonce:
		v, ok = d.Nonces[key.Address]
	case StateKeyClassHash:
		v, ok = d.ClassHashes[key.Address]
	default:
		v, ok = d.StorageDiffs[key.Address][key.Slot]
	}
	return v, ok
}

// Len returns the number of values in the diff.
func (d *StateDiff) Len() int {
	n := len(d.Nonces) + len(d.ClassHashes)
	for _, slots := range d.StorageDiffs {
		n += len(slots)
	}
	return n
}

// IsEmpty reports whether the diff changes nothing.
func (d *StateDiff) IsEmpty() bool {
	return d == nil || d.Len() == 0
}

// StateEntry is a single key/value pair of a diff.
type StateEntry struct {
	Key   StateKey
	Value Felt
}

// Entries returns the diff as a list sorted by key.
func (d *StateDiff) Entries() []StateEntry {
	if d == nil {
		return nil
	}
	entries := make([]StateEntry, 0, d.Len())
	for addr, slots := range d.StorageDiffs {
		for slot, v := range slots {
			entries = append(entries, StateEntry{Key: StorageKey(addr, slot), Value: v})
		}
	}
	for addr, v := range d.Nonces {
		entries = append(entries, StateEntry{Key: NonceKey(addr), Value: v})
	}
	for addr, v := range d.ClassHashes {
		entries = append(entries, StateEntry{Key: ClassHashKey(addr), Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Less(entries[j].Key) })
	return entries
}

// AddressToNonce returns the next nonce of every account touched by the diff.
func (d *StateDiff) AddressToNonce() map[Address]uint64 {
	out := make(map[Address]uint64, len(d.Nonces))
	for addr, n := range d.Nonces {
		out[addr] = FeltToUint64(n)
	}
	return out
}
