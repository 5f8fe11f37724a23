package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/block"
	"github.com/evstack/ev-batcher/pkg/config"
	"github.com/evstack/ev-batcher/types"
)

const (
	blockHashMetaPrefix = "block_hash/"

	proposeRetryInterval = 50 * time.Millisecond
	proposeMaxRetries    = 10
)

// batcherAPI is the part of the batcher consensus talks to.
type batcherAPI interface {
	GetHeight(ctx context.Context) (uint64, error)
	StartHeight(ctx context.Context, height uint64) error
	ProposeBlock(ctx context.Context, input types.ProposeBlockInput) (types.ProposalID, error)
	GetProposalContent(ctx context.Context, id types.ProposalID) (*types.GetProposalContentResponse, error)
	DecisionReached(ctx context.Context, id types.ProposalID) (*types.DecisionReachedResponse, error)
}

type metadataStore interface {
	SetMetadata(ctx context.Context, key string, value []byte) error
	GetMetadata(ctx context.Context, key string) ([]byte, error)
}

// driver plays the role of consensus for a single sequencer: every block
// time it proposes a block at the next height and decides it as soon as the
// content stream ends.
type driver struct {
	batcher batcherAPI
	meta    metadataStore
	logger  zerolog.Logger

	blockTime        time.Duration
	proposalDeadline time.Duration
	hashBuffer       uint64
	sequencer        types.Address
	gasPrice         uint64

	// onBlock is called after every decided block.
	onBlock func(height uint64, resp *types.DecisionReachedResponse)
}

func newDriver(batcher batcherAPI, meta metadataStore, cfg config.Config, logger zerolog.Logger) *driver {
	return &driver{
		batcher:          batcher,
		meta:             meta,
		logger:           logger.With().Str("component", "driver").Logger(),
		blockTime:        cfg.Node.BlockTime.Duration,
		proposalDeadline: cfg.Builder.ProposalDeadline.Duration,
		hashBuffer:       cfg.Batcher.StoredBlockHashBuffer,
		sequencer:        cfg.Chain.GetSequencerAddress(),
		gasPrice:         cfg.Chain.L2GasPrice,
	}
}

// Run produces blocks until ctx is done.
func (d *driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		height, err := d.produceBlock(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			d.logger.Error().Err(err).Uint64("height", height).Msg("failed to produce block")
		}
	}
}

// produceBlock runs one height through propose, content and decision.
func (d *driver) produceBlock(ctx context.Context) (uint64, error) {
	height, err := d.batcher.GetHeight(ctx)
	if err != nil {
		return 0, err
	}
	if err := d.batcher.StartHeight(ctx, height); err != nil && !errors.Is(err, block.ErrHeightInProgress) {
		return height, fmt.Errorf("start height: %w", err)
	}

	input := types.ProposeBlockInput{
		BlockInfo: types.BlockInfo{
			Height:           height,
			SequencerAddress: d.sequencer,
			L2GasPrice:       uint256.NewInt(d.gasPrice),
		},
	}
	if height >= d.hashBuffer {
		retro, err := d.blockHash(ctx, height-d.hashBuffer)
		if err != nil {
			return height, err
		}
		input.RetrospectiveBlockHash = &types.BlockHashAndNumber{Number: height - d.hashBuffer, Hash: retro}
	}

	id, err := backoff.RetryWithData(func() (types.ProposalID, error) {
		now := time.Now()
		input.BlockInfo.Timestamp = now
		input.Deadline = now.Add(d.proposalDeadline)
		id, err := d.batcher.ProposeBlock(ctx, input)
		if err != nil && !errors.Is(err, block.ErrNotReady) {
			return 0, backoff.Permanent(err)
		}
		return id, err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(proposeRetryInterval), proposeMaxRetries), ctx))
	if err != nil {
		return height, fmt.Errorf("propose block: %w", err)
	}

	nTxs := 0
	var commitment types.ProposalCommitment
	for {
		resp, err := d.batcher.GetProposalContent(ctx, id)
		if err != nil {
			return height, fmt.Errorf("get proposal content: %w", err)
		}
		nTxs += len(resp.Txs)
		if resp.Finished {
			commitment = resp.Commitment
			break
		}
	}

	decision, err := d.batcher.DecisionReached(ctx, id)
	if err != nil {
		return height, fmt.Errorf("decision reached: %w", err)
	}
	if err := d.meta.SetMetadata(ctx, blockHashKey(height), commitment.StateDiffCommitment.Bytes()); err != nil {
		return height, fmt.Errorf("store block hash: %w", err)
	}

	d.logger.Info().
		Uint64("height", height).
		Int("txs", nTxs).
		Stringer("commitment", commitment).
		Uint64("l2_gas_used", decision.L2GasUsed).
		Msg("block decided")
	if d.onBlock != nil {
		d.onBlock(height, decision)
	}
	return height, nil
}

// blockHash returns the hash recorded for height. Blocks this node did not
// produce have none and hash to zero.
func (d *driver) blockHash(ctx context.Context, height uint64) (types.Felt, error) {
	bz, err := d.meta.GetMetadata(ctx, blockHashKey(height))
	if err != nil {
		d.logger.Debug().Err(err).Uint64("height", height).Msg("no stored block hash")
		return types.Felt{}, nil
	}
	return common.BytesToHash(bz), nil
}

func blockHashKey(height uint64) string {
	return fmt.Sprintf("%s%d", blockHashMetaPrefix, height)
}
