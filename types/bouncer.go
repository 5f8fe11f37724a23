package types

import "math"

// BouncerWeights is the resource usage of a transaction or of a whole block.
type BouncerWeights struct {
	L1Gas                uint64
	MessageSegmentLength uint64
	NEvents              uint64
	NTxs                 uint64
	StateDiffSize        uint64
	SierraGas            uint64
	ProvingGas           uint64
}

// MaxBouncerWeights is a capacity that never fills.
func MaxBouncerWeights() BouncerWeights {
	return BouncerWeights{
		L1Gas:                math.MaxUint64,
		MessageSegmentLength: math.MaxUint64,
		NEvents:              math.MaxUint64,
		NTxs:                 math.MaxUint64,
		StateDiffSize:        math.MaxUint64,
		SierraGas:            math.MaxUint64,
		ProvingGas:           math.MaxUint64,
	}
}

// Add returns the saturating sum of w and o.
func (w BouncerWeights) Add(o BouncerWeights) BouncerWeights {
	return BouncerWeights{
		L1Gas:                satAdd(w.L1Gas, o.L1Gas),
		MessageSegmentLength: satAdd(w.MessageSegmentLength, o.MessageSegmentLength),
		NEvents:              satAdd(w.NEvents, o.NEvents),
		NTxs:                 satAdd(w.NTxs, o.NTxs),
		StateDiffSize:        satAdd(w.StateDiffSize, o.StateDiffSize),
		SierraGas:            satAdd(w.SierraGas, o.SierraGas),
		ProvingGas:           satAdd(w.ProvingGas, o.ProvingGas),
	}
}

// FitsIn reports whether every dimension of w is within capacity.
func (w BouncerWeights) FitsIn(capacity BouncerWeights) bool {
	return w.L1Gas <= capacity.L1Gas &&
		w.MessageSegmentLength <= capacity.MessageSegmentLength &&
		w.NEvents <= capacity.NEvents &&
		w.NTxs <= capacity.NTxs &&
		w.StateDiffSize <= capacity.StateDiffSize &&
		w.SierraGas <= capacity.SierraGas &&
		w.ProvingGas <= capacity.ProvingGas
}

// IsZero reports whether no resources were used.
func (w BouncerWeights) IsZero() bool {
	return w == BouncerWeights{}
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
