package pruner

import (
	"context"
	"errors"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/rs/zerolog"
)

const (
	defaultPruneInterval = 15 * time.Minute
	// maxPruneBatch limits how many heights we prune per cycle to bound work.
	maxPruneBatch = uint64(1000)
)

// Store is the part of the batcher store the pruner works on.
type Store interface {
	Height(ctx context.Context) (uint64, error)
	DeleteRevertDataAtHeight(ctx context.Context, height uint64) error
}

// Pruner periodically removes revert data of blocks outside the recovery window.
type Pruner struct {
	store     Store
	retention uint64
	interval  time.Duration
	logger    zerolog.Logger

	mu         sync.Mutex
	lastPruned uint64
	pruned     bool

	// Lifecycle
	ctx    context.Context
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a pruner keeping the revert data of the latest retention blocks.
func New(logger zerolog.Logger, store Store, retention uint64) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  defaultPruneInterval,
		logger:    logger.With().Str("component", "prune").Logger(),
	}
}

// Start begins the pruning loop.
func (p *Pruner) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Go(p.pruneLoop)

	p.logger.Info().Uint64("retention", p.retention).Msg("pruner started")
	return nil
}

// Stop stops the pruning loop.
func (p *Pruner) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.logger.Info().Msg("pruner stopped")
	return nil
}

func (p *Pruner) pruneLoop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.PruneRecoveryHistory(p.ctx); err != nil {
				p.logger.Error().Err(err).Msg("failed to prune recovery history")
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// PruneRecoveryHistory deletes the revert data of blocks more than retention
// blocks behind the store height. State and state diffs are kept; only the
// ability to revert those blocks is lost.
func (p *Pruner) PruneRecoveryHistory(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	height, err := p.store.Height(ctx)
	if err != nil {
		return err
	}
	if height <= p.retention {
		return nil
	}

	// Blocks below target are outside the window.
	target := height - p.retention
	start := uint64(0)
	if p.pruned {
		start = p.lastPruned + 1
	}
	if start >= target {
		return nil
	}

	end := min(target-1, start+maxPruneBatch-1)
	for h := start; h <= end; h++ {
		if err := p.store.DeleteRevertDataAtHeight(ctx, h); err != nil && !errors.Is(err, ds.ErrNotFound) {
			return err
		}
	}

	p.lastPruned, p.pruned = end, true
	p.logger.Debug().Uint64("from", start).Uint64("to", end).Msg("pruned revert data")
	return nil
}
