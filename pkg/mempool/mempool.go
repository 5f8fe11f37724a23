// Package mempool holds account transactions waiting to be proposed.
package mempool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/pkg/store"
	"github.com/evstack/ev-batcher/types"
)

// DefaultCommittedCacheSize bounds the recently committed hashes remembered
// to refuse replays.
const DefaultCommittedCacheSize = 10_000

type pendingTx struct {
	tx   types.Transaction
	hash types.TxHash
	seq  uint64
}

// Mempool is a FIFO of account transactions backed by a write-ahead log.
//
// GetTxs moves transactions to a staged set instead of dropping them.
// CommitBlock drops the staged transactions the block included or rejected
// and puts the others back at the front of the queue in their original order.
type Mempool struct {
	db      ds.Batching
	state   execution.StateReader
	maxSize int
	metrics *Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	queue     []*pendingTx
	head      int // index of the first element in the queue
	staged    []*pendingTx
	known     map[types.TxHash]*pendingTx
	committed *lru.Cache[types.TxHash, struct{}]
	gasPrice  *uint256.Int
	nextSeq   uint64
}

// NewMempool creates a mempool persisting its transactions under prefix.
// Nonces of new transactions are checked against state. A maxSize of 0 means
// unlimited.
func NewMempool(db ds.Batching, prefix string, state execution.StateReader, maxSize int, metrics *Metrics, logger zerolog.Logger) (*Mempool, error) {
	committed, err := lru.New[types.TxHash, struct{}](DefaultCommittedCacheSize)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Mempool{
		db:        store.NewPrefixKVStore(db, prefix),
		state:     state,
		maxSize:   maxSize,
		metrics:   metrics,
		logger:    logger.With().Str("component", "mempool").Logger(),
		known:     make(map[types.TxHash]*pendingTx),
		committed: committed,
	}, nil
}

// AddTx admits an account transaction and writes it to the WAL.
func (m *Mempool) AddTx(ctx context.Context, tx types.Transaction) (types.TxHash, error) {
	hash := tx.Hash()
	if err := m.admit(ctx, &tx, hash); err != nil {
		m.metrics.RefusedTxs.Add(1)
		return hash, err
	}
	return hash, nil
}

func (m *Mempool) admit(ctx context.Context, tx *types.Transaction, hash types.TxHash) error {
	if tx.IsL1Handler() {
		return ErrL1HandlerTx
	}

	// Read outside the lock; state only moves forward while txs wait.
	next, err := m.state.Get(ctx, types.NonceKey(tx.Sender))
	if err != nil {
		return fmt.Errorf("read nonce of %s: %w", tx.Sender.Hex(), err)
	}
	if tx.Nonce < types.FeltToUint64(next) {
		return fmt.Errorf("%w: got %d, next %d", ErrNonceTooLow, tx.Nonce, types.FeltToUint64(next))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.known[hash]; ok || m.committed.Contains(hash) {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, hash.Hex())
	}
	if m.maxSize > 0 && len(m.known) >= m.maxSize {
		return ErrMempoolFull
	}
	if m.gasPrice != nil && tx.MaxFee != nil && !tx.MaxFee.IsZero() && tx.MaxFee.Lt(m.gasPrice) {
		return fmt.Errorf("%w: max fee %s, gas price %s", ErrMaxFeeTooLow, tx.MaxFee.Dec(), m.gasPrice.Dec())
	}

	p := &pendingTx{tx: *tx, hash: hash, seq: m.nextSeq}
	if err := m.persist(ctx, p); err != nil {
		return err
	}
	m.nextSeq++
	m.queue = append(m.queue, p)
	m.known[hash] = p
	m.metrics.AddedTxs.Add(1)
	m.updateGaugesLocked()

	m.logger.Debug().Str("tx", hash.Hex()).Str("sender", tx.Sender.Hex()).Uint64("nonce", tx.Nonce).Msg("transaction added")
	return nil
}

// GetTxs hands out up to n transactions in arrival order.
func (m *Mempool) GetTxs(ctx context.Context, n int) ([]types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n = min(n, len(m.queue)-m.head)
	if n <= 0 {
		return nil, nil
	}

	txs := make([]types.Transaction, 0, n)
	for i := 0; i < n; i++ {
		p := m.queue[m.head]
		m.queue[m.head] = nil
		m.head++
		m.staged = append(m.staged, p)
		txs = append(txs, p.tx)
	}
	m.compactLocked()
	m.updateGaugesLocked()
	return txs, nil
}

// compactLocked releases the consumed prefix of the queue once it dominates.
func (m *Mempool) compactLocked() {
	if m.head > len(m.queue)/2 && m.head > 100 {
		remaining := copy(m.queue, m.queue[m.head:])
		clear(m.queue[remaining:])
		m.queue = m.queue[:remaining]
		m.head = 0
	}
}

// CommitBlock settles the staged transactions against a decided block.
func (m *Mempool) CommitBlock(ctx context.Context, args types.CommitBlockArgs) error {
	rejected := make(map[types.TxHash]struct{}, len(args.RejectedTxHashes))
	for _, h := range args.RejectedTxHashes {
		rejected[h] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stale := func(p *pendingTx) bool {
		next, ok := args.AddressToNonce[p.tx.Sender]
		return ok && p.tx.Nonce < next
	}

	var rewind []*pendingTx
	var nCommitted, nEvicted int
	for _, p := range m.staged {
		_, isRejected := rejected[p.hash]
		switch {
		case stale(p):
			m.committed.Add(p.hash, struct{}{})
			nCommitted++
		case isRejected:
			nEvicted++
		default:
			rewind = append(rewind, p)
			continue
		}
		if err := m.dropLocked(ctx, p); err != nil {
			return err
		}
	}
	m.staged = m.staged[:0]

	// Queued transactions made stale by the block can never execute.
	kept := m.queue[:0]
	for _, p := range m.queue[m.head:] {
		if stale(p) {
			if err := m.dropLocked(ctx, p); err != nil {
				return err
			}
			nEvicted++
			continue
		}
		kept = append(kept, p)
	}
	clear(m.queue[len(kept):])
	m.queue = append(rewind, kept...)
	m.head = 0

	m.metrics.CommittedTxs.Add(float64(nCommitted))
	m.metrics.EvictedTxs.Add(float64(nEvicted))
	m.metrics.RewoundTxs.Add(float64(len(rewind)))
	m.updateGaugesLocked()

	m.logger.Debug().
		Int("committed", nCommitted).
		Int("evicted", nEvicted).
		Int("rewound", len(rewind)).
		Msg("block committed")
	return nil
}

// UpdateGasPrice sets the gas price new transactions must be able to pay.
func (m *Mempool) UpdateGasPrice(ctx context.Context, price *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if price == nil {
		m.gasPrice = nil
		return nil
	}
	m.gasPrice = new(uint256.Int).Set(price)
	return nil
}

// Load reloads all transactions from the WAL after a restart. Staged
// transactions of an undecided block are queued again.
func (m *Mempool) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = make([]*pendingTx, 0)
	m.head = 0
	m.staged = nil
	m.known = make(map[types.TxHash]*pendingTx)

	results, err := m.db.Query(ctx, query.Query{Orders: []query.Order{query.OrderByKey{}}})
	if err != nil {
		return fmt.Errorf("error querying datastore: %w", err)
	}
	defer results.Close()

	for result := range results.Next() {
		if result.Error != nil {
			m.logger.Error().Err(result.Error).Msg("error reading entry from datastore")
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimPrefix(result.Key, "/"), 10, 64)
		if err != nil {
			m.logger.Error().Err(err).Str("key", result.Key).Msg("malformed WAL key, skipping entry")
			continue
		}
		var tx types.Transaction
		if err := tx.UnmarshalBinary(result.Value); err != nil {
			m.logger.Error().Err(err).Str("key", result.Key).Msg("error decoding transaction, skipping entry")
			continue
		}
		p := &pendingTx{tx: tx, hash: tx.Hash(), seq: seq}
		m.queue = append(m.queue, p)
		m.known[p.hash] = p
		m.nextSeq = max(m.nextSeq, seq+1)
	}

	m.updateGaugesLocked()
	m.logger.Info().Int("txs", len(m.queue)).Msg("mempool loaded")
	return nil
}

// Size returns the number of transactions waiting to be proposed.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) - m.head
}

// StagedSize returns the number of transactions handed out and not yet decided.
func (m *Mempool) StagedSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged)
}

func (m *Mempool) updateGaugesLocked() {
	m.metrics.Size.Set(float64(len(m.queue) - m.head))
	m.metrics.Staged.Set(float64(len(m.staged)))
}

func walKey(seq uint64) ds.Key {
	// Zero padding keeps key order equal to arrival order.
	return ds.NewKey(fmt.Sprintf("%020d", seq))
}

func (m *Mempool) persist(ctx context.Context, p *pendingTx) error {
	encoded, err := p.tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	if err := m.db.Put(ctx, walKey(p.seq), encoded); err != nil {
		return fmt.Errorf("persist transaction: %w", err)
	}
	return nil
}

func (m *Mempool) dropLocked(ctx context.Context, p *pendingTx) error {
	delete(m.known, p.hash)
	if err := m.db.Delete(ctx, walKey(p.seq)); err != nil {
		return fmt.Errorf("delete transaction %s from WAL: %w", p.hash.Hex(), err)
	}
	return nil
}
