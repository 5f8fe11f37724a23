package store

import (
	"strconv"

	"github.com/evstack/ev-batcher/types"
)

const (
	stateDiffPrefix   = "d"
	reverseDiffPrefix = "r"
	statePrefix       = "s"
	metaPrefix        = "m"
	heightPrefix      = "t"
)

// GetStateDiffKey returns the store key of the diff committed at height.
func GetStateDiffKey(height uint64) string {
	return GenerateKey([]string{stateDiffPrefix, strconv.FormatUint(height, 10)})
}

func getReverseDiffKey(height uint64) string {
	return GenerateKey([]string{reverseDiffPrefix, strconv.FormatUint(height, 10)})
}

// GetStateKey returns the store key of a state value.
func GetStateKey(key types.StateKey) string {
	fields := []string{statePrefix, strconv.Itoa(int(key.Kind)), key.Address.Hex()}
	if key.Kind == types.StateKeyStorage {
		fields = append(fields, key.Slot.Hex())
	}
	return GenerateKey(fields)
}

// GetMetaKey returns the store key for a metadata entry.
func GetMetaKey(key string) string {
	return GenerateKey([]string{metaPrefix, key})
}

func getHeightKey() string {
	return GenerateKey([]string{heightPrefix})
}
