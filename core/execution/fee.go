package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/evstack/ev-batcher/types"
)

// ErrInsufficientBalance is returned when the sender cannot pay the fee.
var ErrInsufficientBalance = errors.New("insufficient fee token balance")

// FeeBalanceKey returns the storage key holding account's fee token balance.
func FeeBalanceKey(feeToken, account types.Address) types.StateKey {
	return types.StorageKey(feeToken, common.BytesToHash(account.Bytes()))
}

// ChargeFee moves fee from sender to the sequencer. In concurrency mode only
// the sender side is written; the sequencer side is settled at commit.
func ChargeFee(ctx context.Context, state State, blockCtx BlockContext, sender types.Address, fee *uint256.Int) error {
	if fee == nil || fee.IsZero() {
		return nil
	}

	senderKey := FeeBalanceKey(blockCtx.FeeTokenAddress, sender)
	raw, err := state.Get(ctx, senderKey)
	if err != nil {
		return fmt.Errorf("read sender balance: %w", err)
	}
	balance := types.FeltToUint256(raw)
	if balance.Lt(fee) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance.Dec(), fee.Dec())
	}
	state.Set(senderKey, types.FeltFromUint256(new(uint256.Int).Sub(balance, fee)))

	if blockCtx.ConcurrencyMode {
		return nil
	}

	seqKey := FeeBalanceKey(blockCtx.FeeTokenAddress, blockCtx.BlockInfo.SequencerAddress)
	raw, err = state.Get(ctx, seqKey)
	if err != nil {
		return fmt.Errorf("read sequencer balance: %w", err)
	}
	state.Set(seqKey, types.FeltFromUint256(new(uint256.Int).Add(types.FeltToUint256(raw), fee)))
	return nil
}
