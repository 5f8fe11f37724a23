package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/evstack/ev-batcher/types"
)

//---------------------
// DummyTxExecutor
//---------------------

// OpCode is an instruction of the dummy executor's script language.
type OpCode uint8

const (
	OpRead OpCode = iota
	OpWrite
	OpIncrement
	OpEmitEvent
	OpSendMessage
	OpRevert
	OpFail
)

// Op is one instruction. The calldata of a transaction run by the
// DummyTxExecutor is an RLP encoded list of ops.
type Op struct {
	Code   OpCode
	Key    types.StateKey
	Value  types.Felt
	Reason string
}

// Gas costs charged by the DummyTxExecutor.
const (
	DummyBaseGas  = 100
	DummyOpGas    = 10
	DummyWriteGas = 50
	DummyL1DAGas  = 16
)

var (
	ErrInvalidNonce     = errors.New("invalid transaction nonce")
	ErrMaxFeeExceeded   = errors.New("actual fee exceeds max fee")
	ErrAlreadyDeployed  = errors.New("account already deployed")
	ErrInvalidCalldata  = errors.New("invalid calldata")
	ErrExecutionFailure = errors.New("execution failed")
)

// DeclaredClassesAddress is the system contract recording declared classes.
var DeclaredClassesAddress = common.HexToAddress("0x01")

// Read returns an op reading key.
func Read(key types.StateKey) Op { return Op{Code: OpRead, Key: key} }

// Write returns an op storing value under key.
func Write(key types.StateKey, value types.Felt) Op {
	return Op{Code: OpWrite, Key: key, Value: value}
}

// Increment returns an op adding delta to the value under key.
func Increment(key types.StateKey, delta uint64) Op {
	return Op{Code: OpIncrement, Key: key, Value: types.FeltFromUint64(delta)}
}

// EmitEvent returns an op emitting an event.
func EmitEvent() Op { return Op{Code: OpEmitEvent} }

// SendMessage returns an op sending an L2 to L1 message.
func SendMessage() Op { return Op{Code: OpSendMessage} }

// Revert returns an op reverting the transaction.
func Revert(reason string) Op { return Op{Code: OpRevert, Reason: reason} }

// Fail returns an op failing the transaction hard.
func Fail(reason string) Op { return Op{Code: OpFail, Reason: reason} }

// EncodeScript encodes ops as transaction calldata.
func EncodeScript(ops ...Op) []byte {
	bz, err := rlp.EncodeToBytes(ops)
	if err != nil {
		panic(fmt.Sprintf("encode script: %v", err))
	}
	return bz
}

// DecodeScript decodes transaction calldata into ops.
func DecodeScript(calldata []byte) ([]Op, error) {
	if len(calldata) == 0 {
		return nil, nil
	}
	var ops []Op
	if err := rlp.DecodeBytes(calldata, &ops); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCalldata, err)
	}
	return ops, nil
}

// DummyTxExecutor is a deterministic executor for testing. It interprets the
// calldata of a transaction as a script of state reads and writes.
type DummyTxExecutor struct{}

// NewDummyTxExecutor creates a new DummyTxExecutor.
func NewDummyTxExecutor() *DummyTxExecutor {
	return &DummyTxExecutor{}
}

var _ TxExecutor = (*DummyTxExecutor)(nil)

// ExecuteTx implements TxExecutor.
func (e *DummyTxExecutor) ExecuteTx(ctx context.Context, tx *types.Transaction, state State, blockCtx BlockContext) (*types.ExecutionInfo, error) {
	ops, err := DecodeScript(tx.Calldata)
	if err != nil {
		return nil, err
	}

	if !tx.IsL1Handler() {
		if err := e.bumpNonce(ctx, tx, state); err != nil {
			return nil, err
		}
	}

	switch tx.Kind {
	case types.TxKindDeclare:
		state.Set(types.StorageKey(DeclaredClassesAddress, tx.ClassHash), types.FeltFromUint64(1))
	case types.TxKindDeployAccount:
		current, err := state.Get(ctx, types.ClassHashKey(tx.Sender))
		if err != nil {
			return nil, err
		}
		if current != (types.Felt{}) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyDeployed, tx.Sender.Hex())
		}
		state.Set(types.ClassHashKey(tx.Sender), tx.ClassHash)
	}

	res := types.BouncerWeights{NTxs: 1}
	gas := uint64(DummyBaseGas)
	overlay := make(map[types.StateKey]types.Felt)
	get := func(key types.StateKey) (types.Felt, error) {
		if v, ok := overlay[key]; ok {
			return v, nil
		}
		return state.Get(ctx, key)
	}

	var revertReason string
	reverted := false
run:
	for _, op := range ops {
		gas += DummyOpGas
		switch op.Code {
		case OpRead:
			if _, err := get(op.Key); err != nil {
				return nil, err
			}
		case OpWrite:
			gas += DummyWriteGas
			overlay[op.Key] = op.Value
		case OpIncrement:
			gas += DummyWriteGas
			cur, err := get(op.Key)
			if err != nil {
				return nil, err
			}
			sum := new(uint256.Int).Add(types.FeltToUint256(cur), types.FeltToUint256(op.Value))
			overlay[op.Key] = types.FeltFromUint256(sum)
		case OpEmitEvent:
			res.NEvents++
		case OpSendMessage:
			res.MessageSegmentLength++
		case OpRevert:
			reverted = true
			revertReason = op.Reason
			break run
		case OpFail:
			return nil, fmt.Errorf("%w: %s", ErrExecutionFailure, op.Reason)
		default:
			return nil, fmt.Errorf("%w: unknown op %d", ErrInvalidCalldata, op.Code)
		}
	}

	if reverted {
		overlay = nil
		res.NEvents = 0
		res.MessageSegmentLength = 0
	}
	for k, v := range overlay {
		state.Set(k, v)
	}

	res.StateDiffSize = uint64(len(overlay))
	if !tx.IsL1Handler() {
		// nonce update
		res.StateDiffSize++
	}
	if !blockCtx.BlockInfo.UseKZGDA {
		res.L1Gas = res.StateDiffSize * DummyL1DAGas
	}
	res.SierraGas = gas
	res.ProvingGas = gas

	fee := new(uint256.Int)
	if price := blockCtx.BlockInfo.L2GasPrice; price != nil && !tx.IsL1Handler() {
		fee.Mul(uint256.NewInt(gas), price)
	}
	if tx.MaxFee != nil && !tx.MaxFee.IsZero() && fee.Gt(tx.MaxFee) {
		return nil, fmt.Errorf("%w: fee %s, max %s", ErrMaxFeeExceeded, fee.Dec(), tx.MaxFee.Dec())
	}
	if err := ChargeFee(ctx, state, blockCtx, tx.Sender, fee); err != nil {
		return nil, err
	}

	return &types.ExecutionInfo{
		TxHash:       tx.Hash(),
		Reverted:     reverted,
		RevertReason: revertReason,
		ActualFee:    fee,
		L2GasUsed:    gas,
		Resources:    res,
	}, nil
}

func (e *DummyTxExecutor) bumpNonce(ctx context.Context, tx *types.Transaction, state State) error {
	raw, err := state.Get(ctx, types.NonceKey(tx.Sender))
	if err != nil {
		return err
	}
	current := types.FeltToUint64(raw)
	if current != tx.Nonce {
		return fmt.Errorf("%w: account %s expects %d, got %d", ErrInvalidNonce, tx.Sender.Hex(), current, tx.Nonce)
	}
	state.Set(types.NonceKey(tx.Sender), types.FeltFromUint64(current+1))
	return nil
}
