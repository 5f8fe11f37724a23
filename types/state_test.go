package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateDiffSetGet(t *testing.T) {
	addr := common.HexToAddress("0x01")
	testCases := map[string]struct {
		key   StateKey
		value Felt
	}{
		"storage": {key: StorageKey(addr, FeltFromUint64(7)), value: FeltFromUint64(1)},
		"nonce":   {key: NonceKey(addr), value: FeltFromUint64(3)},
		"class":   {key: ClassHashKey(addr), value: common.HexToHash("0xabc")},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			d := NewStateDiff()
			_, ok := d.Get(tc.key)
			assert.False(t, ok)

			d.Set(tc.key, tc.value)
			got, ok := d.Get(tc.key)
			require.True(t, ok)
			assert.Equal(t, tc.value, got)
			assert.Equal(t, 1, d.Len())
		})
	}
}

func TestStateDiffEntriesSorted(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	d := NewStateDiff()
	d.Set(NonceKey(b), FeltFromUint64(1))
	d.Set(StorageKey(b, FeltFromUint64(1)), FeltFromUint64(1))
	d.Set(StorageKey(a, FeltFromUint64(2)), FeltFromUint64(1))
	d.Set(StorageKey(a, FeltFromUint64(1)), FeltFromUint64(1))

	entries := d.Entries()
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].Key.Less(entries[i].Key))
	}
	assert.Equal(t, StateKeyNonce, entries[3].Key.Kind)
}

func TestStateDiffBinaryRoundTrip(t *testing.T) {
	d := NewStateDiff()
	d.Set(StorageKey(common.HexToAddress("0x0a"), FeltFromUint64(1)), FeltFromUint64(42))
	d.Set(NonceKey(common.HexToAddress("0x0b")), FeltFromUint64(5))

	bz, err := d.MarshalBinary()
	require.NoError(t, err)

	var decoded StateDiff
	require.NoError(t, decoded.UnmarshalBinary(bz))
	assert.Equal(t, d.Entries(), decoded.Entries())
	assert.Equal(t, d.Commitment(), decoded.Commitment())
	assert.Equal(t, map[Address]uint64{common.HexToAddress("0x0b"): 5}, decoded.AddressToNonce())
}

func TestBouncerWeightsFitsIn(t *testing.T) {
	capacity := BouncerWeights{NTxs: 2, SierraGas: 100}

	assert.True(t, BouncerWeights{NTxs: 2, SierraGas: 100}.FitsIn(capacity))
	assert.False(t, BouncerWeights{NTxs: 3}.FitsIn(capacity))
	assert.False(t, BouncerWeights{L1Gas: 1}.FitsIn(capacity))
	assert.True(t, BouncerWeights{L1Gas: 1 << 62}.FitsIn(MaxBouncerWeights()))

	sum := MaxBouncerWeights().Add(BouncerWeights{NTxs: 1})
	assert.Equal(t, MaxBouncerWeights(), sum)
}
