// Package l1provider tracks L1 handler transactions from scraping to inclusion.
package l1provider

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/pkg/store"
	"github.com/evstack/ev-batcher/types"
)

// TxState is the lifecycle position of an L1 handler transaction.
type TxState uint8

const (
	TxPending TxState = iota
	TxCommitted
	TxRejected
	TxConsumedOnL1
)

func (s TxState) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxCommitted:
		return "committed"
	case TxRejected:
		return "rejected"
	case TxConsumedOnL1:
		return "consumed_on_l1"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type record struct {
	Seq   uint64
	State TxState
	Tx    types.Transaction
}

// Provider serves L1 handler transactions to proposals, validates the ones
// seen in proposals and records which were included.
//
// The provider follows the batcher height by height: StartBlock opens a
// propose or validate session at the current height and CommitBlock moves
// to the next one.
type Provider struct {
	db     ds.Batching
	logger zerolog.Logger

	mu       sync.Mutex
	height   uint64
	session  *types.SessionState
	records  map[types.TxHash]*record
	pending  []types.TxHash // arrival order
	proposed map[types.TxHash]struct{}
	nextSeq  uint64
}

// NewProvider creates a provider at height, persisting its records under prefix.
func NewProvider(db ds.Batching, prefix string, height uint64, logger zerolog.Logger) *Provider {
	return &Provider{
		db:       store.NewPrefixKVStore(db, prefix),
		logger:   logger.With().Str("component", "l1_provider").Logger(),
		height:   height,
		records:  make(map[types.TxHash]*record),
		proposed: make(map[types.TxHash]struct{}),
	}
}

// AddTxs records scraped L1 handler transactions. Known transactions are
// skipped. It returns the number added.
func (p *Provider) AddTxs(ctx context.Context, txs []types.Transaction) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, tx := range txs {
		if !tx.IsL1Handler() {
			return added, fmt.Errorf("%w: kind %s", ErrNotL1Handler, tx.Kind)
		}
		hash := tx.Hash()
		if _, ok := p.records[hash]; ok {
			continue
		}
		r := &record{Seq: p.nextSeq, State: TxPending, Tx: tx}
		if err := p.persist(ctx, hash, r); err != nil {
			return added, err
		}
		p.nextSeq++
		p.records[hash] = r
		p.pending = append(p.pending, hash)
		added++
	}
	if added > 0 {
		p.logger.Debug().Int("added", added).Int("pending", len(p.pending)).Msg("L1 handler transactions added")
	}
	return added, nil
}

// StartHeight moves the provider to height when it is the current one.
func (p *Provider) StartHeight(ctx context.Context, height uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height != p.height {
		return fmt.Errorf("%w: start %d, provider at %d", ErrUnexpectedHeight, height, p.height)
	}
	p.session = nil
	clear(p.proposed)
	return nil
}

// StartBlock opens a session at height. Transactions handed out or validated
// in an earlier session are available again.
func (p *Provider) StartBlock(ctx context.Context, session types.SessionState, height uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height != p.height {
		return fmt.Errorf("%w: start block %d, provider at %d", ErrUnexpectedHeight, height, p.height)
	}
	p.session = &session
	clear(p.proposed)
	return nil
}

func (p *Provider) checkSessionLocked(want types.SessionState, height uint64) error {
	if height != p.height {
		return fmt.Errorf("%w: %d, provider at %d", ErrUnexpectedHeight, height, p.height)
	}
	if p.session == nil || *p.session != want {
		return fmt.Errorf("%w: need %s session", ErrWrongSession, want)
	}
	return nil
}

// GetTxs hands out up to n pending transactions not yet handed out in this
// propose session.
func (p *Provider) GetTxs(ctx context.Context, n int, height uint64) ([]types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkSessionLocked(types.SessionPropose, height); err != nil {
		return nil, err
	}

	var txs []types.Transaction
	for _, hash := range p.pending {
		if len(txs) >= n {
			break
		}
		if _, ok := p.proposed[hash]; ok {
			continue
		}
		p.proposed[hash] = struct{}{}
		txs = append(txs, p.records[hash].Tx)
	}
	return txs, nil
}

// Validate checks an L1 handler transaction seen in a proposal under validation.
func (p *Provider) Validate(ctx context.Context, hash types.TxHash, height uint64) (types.L1ValidationStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkSessionLocked(types.SessionValidate, height); err != nil {
		return 0, err
	}

	if _, ok := p.proposed[hash]; ok {
		return types.L1ValidationAlreadyIncludedInProposedBlock, nil
	}
	r, ok := p.records[hash]
	if !ok {
		return types.L1ValidationNotFound, nil
	}
	switch r.State {
	case TxCommitted, TxRejected:
		return types.L1ValidationAlreadyIncludedOnL2, nil
	case TxConsumedOnL1:
		return types.L1ValidationConsumedOnL1, nil
	}
	p.proposed[hash] = struct{}{}
	return types.L1ValidationValidated, nil
}

// CommitBlock records the L1 handler transactions of the decided block at
// height and moves to the next height. Hashes of account transactions in
// rejected are ignored.
func (p *Provider) CommitBlock(ctx context.Context, consumed, rejected []types.TxHash, height uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height != p.height {
		return fmt.Errorf("%w: commit %d, provider at %d", ErrUnexpectedHeight, height, p.height)
	}

	settled := make(map[types.TxHash]struct{}, len(consumed)+len(rejected))
	for _, hash := range consumed {
		r, ok := p.records[hash]
		if !ok {
			// Included by a block this node did not build.
			r = &record{Seq: p.nextSeq, Tx: types.Transaction{Kind: types.TxKindL1Handler}}
			p.nextSeq++
			p.records[hash] = r
		}
		r.State = TxCommitted
		if err := p.persist(ctx, hash, r); err != nil {
			return err
		}
		settled[hash] = struct{}{}
	}
	for _, hash := range rejected {
		r, ok := p.records[hash]
		if !ok {
			continue
		}
		r.State = TxRejected
		if err := p.persist(ctx, hash, r); err != nil {
			return err
		}
		settled[hash] = struct{}{}
	}

	p.pending = slices.DeleteFunc(p.pending, func(h types.TxHash) bool {
		_, ok := settled[h]
		return ok
	})
	p.height = height + 1
	p.session = nil
	clear(p.proposed)

	p.logger.Debug().
		Uint64("height", height).
		Int("consumed", len(consumed)).
		Int("pending", len(p.pending)).
		Msg("block committed")
	return nil
}

// ConsumeOnL1 records transactions cancelled on L1. Pending ones are no
// longer proposed.
func (p *Provider) ConsumeOnL1(ctx context.Context, hashes []types.TxHash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cancelled := make(map[types.TxHash]struct{}, len(hashes))
	for _, hash := range hashes {
		r, ok := p.records[hash]
		if !ok || r.State != TxPending {
			continue
		}
		r.State = TxConsumedOnL1
		if err := p.persist(ctx, hash, r); err != nil {
			return err
		}
		cancelled[hash] = struct{}{}
	}
	p.pending = slices.DeleteFunc(p.pending, func(h types.TxHash) bool {
		_, ok := cancelled[h]
		return ok
	})
	return nil
}

// Height returns the height the provider is at.
func (p *Provider) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// State returns the state of a known transaction.
func (p *Provider) State(hash types.TxHash) (TxState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[hash]
	if !ok {
		return 0, false
	}
	return r.State, true
}

// PendingCount returns the number of transactions waiting for inclusion.
func (p *Provider) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Load restores the records from the datastore after a restart.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, err := p.db.Query(ctx, query.Query{})
	if err != nil {
		return fmt.Errorf("error querying datastore: %w", err)
	}
	defer results.Close()

	p.records = make(map[types.TxHash]*record)
	type loaded struct {
		hash types.TxHash
		seq  uint64
	}
	var pending []loaded
	for result := range results.Next() {
		if result.Error != nil {
			p.logger.Error().Err(result.Error).Msg("error reading entry from datastore")
			continue
		}
		r := new(record)
		if err := rlp.DecodeBytes(result.Value, r); err != nil {
			p.logger.Error().Err(err).Str("key", result.Key).Msg("error decoding record, skipping entry")
			continue
		}
		hash := keyHash(result.Key)
		p.records[hash] = r
		p.nextSeq = max(p.nextSeq, r.Seq+1)
		if r.State == TxPending {
			pending = append(pending, loaded{hash: hash, seq: r.Seq})
		}
	}

	slices.SortFunc(pending, func(a, b loaded) int {
		return cmp.Compare(a.seq, b.seq)
	})
	p.pending = p.pending[:0]
	for _, l := range pending {
		p.pending = append(p.pending, l.hash)
	}

	p.logger.Info().Int("records", len(p.records)).Int("pending", len(p.pending)).Msg("L1 provider loaded")
	return nil
}

func recordKey(hash types.TxHash) ds.Key {
	return ds.NewKey(hash.Hex())
}

func keyHash(key string) types.TxHash {
	return common.HexToHash(ds.NewKey(key).BaseNamespace())
}

func (p *Provider) persist(ctx context.Context, hash types.TxHash, r *record) error {
	encoded, err := rlp.EncodeToBytes(r)
	if err != nil {
		return fmt.Errorf("encode L1 handler record: %w", err)
	}
	if err := p.db.Put(ctx, recordKey(hash), encoded); err != nil {
		return fmt.Errorf("persist L1 handler record: %w", err)
	}
	return nil
}
