package converter

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evstack/ev-batcher/types"
)

func newTestClassManager(t *testing.T, db ds.Batching) *ClassManager {
	t.Helper()
	m, err := NewClassManager(db, "classes", 2, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestClassManager(t *testing.T) {
	ctx := context.Background()
	db := dssync.MutexWrap(ds.NewMapDatastore())
	m := newTestClassManager(t, db)

	_, err := m.AddClass(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyClass)

	definition := []byte(`{"abi":[]}`)
	hash, err := m.AddClass(ctx, definition)
	require.NoError(t, err)
	assert.Equal(t, types.ClassHash(definition), hash)

	again, err := m.AddClass(ctx, definition)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, err = m.GetClass(ctx, common.HexToHash("0x1"))
	require.ErrorIs(t, err, ErrClassNotFound)

	// A fresh manager reads through to the datastore.
	reopened := newTestClassManager(t, db)
	has, err := reopened.HasClass(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)
	got, err := reopened.GetClass(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, definition, got)
}

func TestConvertConsensusTx(t *testing.T) {
	ctx := context.Background()
	classes := newTestClassManager(t, dssync.MutexWrap(ds.NewMapDatastore()))
	c := NewConverter(classes)
	sender := common.HexToAddress("0xa11ce")
	definition := []byte("class")

	t.Run("invoke is copied", func(t *testing.T) {
		in := types.ConsensusTransaction{Kind: types.TxKindInvoke, Sender: sender, Nonce: 3, MaxFee: uint256.NewInt(9), Calldata: []byte{1}}
		out, err := c.ConvertConsensusTx(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, types.Transaction{Kind: types.TxKindInvoke, Sender: sender, Nonce: 3, MaxFee: uint256.NewInt(9), Calldata: []byte{1}}, out)
		assert.Equal(t, in, ToConsensusTx(out))
	})

	t.Run("declare of unknown class", func(t *testing.T) {
		_, err := c.ConvertConsensusTx(ctx, types.ConsensusTransaction{Kind: types.TxKindDeclare, Sender: sender, ClassHash: types.ClassHash(definition)})
		require.ErrorIs(t, err, ErrClassNotFound)
	})

	t.Run("declare with mismatching inline class", func(t *testing.T) {
		_, err := c.ConvertConsensusTx(ctx, types.ConsensusTransaction{
			Kind: types.TxKindDeclare, Sender: sender, ClassHash: common.HexToHash("0xbad"), ContractClass: definition,
		})
		require.ErrorIs(t, err, ErrClassHashMismatch)
	})

	t.Run("inline declare registers the class", func(t *testing.T) {
		out, err := c.ConvertConsensusTx(ctx, types.ConsensusTransaction{Kind: types.TxKindDeclare, Sender: sender, ContractClass: definition})
		require.NoError(t, err)
		assert.Equal(t, types.ClassHash(definition), out.ClassHash)

		out, err = c.ConvertConsensusTx(ctx, types.ConsensusTransaction{Kind: types.TxKindDeclare, Sender: sender, Nonce: 1, ClassHash: types.ClassHash(definition)})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), out.Nonce)
	})
}
