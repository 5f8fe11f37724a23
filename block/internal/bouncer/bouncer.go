// Package bouncer tracks the resources consumed by a block under
// construction and decides whether the next transaction still fits.
package bouncer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/evstack/ev-batcher/types"
)

var (
	// ErrBlockFull is returned when a transaction fits an empty block but not
	// the remaining capacity. The block must be closed before it.
	ErrBlockFull = errors.New("block is full")

	// ErrTransactionTooLarge is returned when a transaction exceeds the
	// capacity of an empty block. The transaction must be rejected.
	ErrTransactionTooLarge = errors.New("transaction exceeds block capacity")
)

// Bouncer accumulates the weights of committed transactions.
type Bouncer struct {
	mu          sync.Mutex
	capacity    types.BouncerWeights
	accumulated types.BouncerWeights
}

// New returns an empty bouncer with the given capacity.
func New(capacity types.BouncerWeights) *Bouncer {
	return &Bouncer{capacity: capacity}
}

// TryUpdate adds weights to the block if they fit.
func (b *Bouncer) TryUpdate(weights types.BouncerWeights) error {
	if !weights.FitsIn(b.capacity) {
		return fmt.Errorf("%w: %+v", ErrTransactionTooLarge, weights)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.accumulated.Add(weights)
	if !next.FitsIn(b.capacity) {
		return ErrBlockFull
	}
	b.accumulated = next
	return nil
}

// Weights returns the accumulated weights.
func (b *Bouncer) Weights() types.BouncerWeights {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accumulated
}

// Capacity returns the block capacity.
func (b *Bouncer) Capacity() types.BouncerWeights {
	return b.capacity
}
