package building

import (
	"context"
	"fmt"

	"github.com/evstack/ev-batcher/block/internal/common"
	"github.com/evstack/ev-batcher/types"
)

// TransactionProvider feeds transactions into a block build.
type TransactionProvider interface {
	// GetTxs returns up to n transactions without blocking. An empty result
	// means nothing is available right now.
	GetTxs(ctx context.Context, n int) ([]types.Transaction, error)
	// GetFinalNExecutedTxs returns the number of transactions the block must
	// contain, once it is known.
	GetFinalNExecutedTxs() (int, bool)
}

// L1HandlerValidationError is returned when a proposal carries an L1 handler
// transaction the L1 provider does not accept.
type L1HandlerValidationError struct {
	TxHash types.TxHash
	Status types.L1ValidationStatus
}

func (e *L1HandlerValidationError) Error() string {
	return fmt.Sprintf("l1 handler transaction %s failed validation: %s", e.TxHash.Hex(), e.Status)
}

// ProposeTransactionProvider takes L1 handler transactions first, up to a
// per-block limit, then mempool transactions.
type ProposeTransactionProvider struct {
	mempool common.MempoolClient
	l1      common.L1ProviderClient
	height  uint64

	maxL1HandlerTxs int
	nL1HandlerTxs   int
	l1Exhausted     bool
}

// NewProposeTransactionProvider creates a provider for a proposer build at height.
func NewProposeTransactionProvider(mempool common.MempoolClient, l1 common.L1ProviderClient, height uint64, maxL1HandlerTxs int) *ProposeTransactionProvider {
	return &ProposeTransactionProvider{
		mempool:         mempool,
		l1:              l1,
		height:          height,
		maxL1HandlerTxs: maxL1HandlerTxs,
	}
}

var _ TransactionProvider = (*ProposeTransactionProvider)(nil)

func (p *ProposeTransactionProvider) GetTxs(ctx context.Context, n int) ([]types.Transaction, error) {
	var txs []types.Transaction

	if budget := min(n, p.maxL1HandlerTxs-p.nL1HandlerTxs); budget > 0 && !p.l1Exhausted {
		l1Txs, err := p.l1.GetTxs(ctx, budget, p.height)
		if err != nil {
			return nil, fmt.Errorf("get l1 handler txs: %w", err)
		}
		if len(l1Txs) < budget {
			p.l1Exhausted = true
		}
		p.nL1HandlerTxs += len(l1Txs)
		txs = append(txs, l1Txs...)
	}

	if remaining := n - len(txs); remaining > 0 {
		mempoolTxs, err := p.mempool.GetTxs(ctx, remaining)
		if err != nil {
			return nil, fmt.Errorf("get mempool txs: %w", err)
		}
		txs = append(txs, mempoolTxs...)
	}
	return txs, nil
}

// GetFinalNExecutedTxs is never known for a proposer.
func (p *ProposeTransactionProvider) GetFinalNExecutedTxs() (int, bool) {
	return 0, false
}

// ValidateTransactionProvider serves the transactions streamed in by
// consensus for a validator build.
type ValidateTransactionProvider struct {
	txsCh    <-chan []types.Transaction
	finishCh <-chan int
	l1       common.L1ProviderClient
	height   uint64

	pending []types.Transaction
	finalN  *int
}

// NewValidateTransactionProvider creates a provider reading transactions
// from txsCh and the final count from finishCh.
func NewValidateTransactionProvider(txsCh <-chan []types.Transaction, finishCh <-chan int, l1 common.L1ProviderClient, height uint64) *ValidateTransactionProvider {
	return &ValidateTransactionProvider{
		txsCh:    txsCh,
		finishCh: finishCh,
		l1:       l1,
		height:   height,
	}
}

var _ TransactionProvider = (*ValidateTransactionProvider)(nil)

func (p *ValidateTransactionProvider) GetTxs(ctx context.Context, n int) ([]types.Transaction, error) {
drain:
	for len(p.pending) < n {
		select {
		case chunk, ok := <-p.txsCh:
			if !ok {
				break drain
			}
			p.pending = append(p.pending, chunk...)
		default:
			break drain
		}
	}

	take := min(n, len(p.pending))
	txs := p.pending[:take:take]
	p.pending = p.pending[take:]

	for i := range txs {
		if !txs[i].IsL1Handler() {
			continue
		}
		hash := txs[i].Hash()
		status, err := p.l1.Validate(ctx, hash, p.height)
		if err != nil {
			return nil, fmt.Errorf("validate l1 handler tx %s: %w", hash.Hex(), err)
		}
		if status != types.L1ValidationValidated {
			return nil, &L1HandlerValidationError{TxHash: hash, Status: status}
		}
	}
	return txs, nil
}

func (p *ValidateTransactionProvider) GetFinalNExecutedTxs() (int, bool) {
	if p.finalN == nil {
		select {
		case n := <-p.finishCh:
			p.finalN = &n
		default:
			return 0, false
		}
	}
	return *p.finalN, true
}
