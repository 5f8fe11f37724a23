package batching

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/block/internal/building"
	"github.com/evstack/ev-batcher/block/internal/common"
	"github.com/evstack/ev-batcher/block/internal/executing"
	"github.com/evstack/ev-batcher/core/execution"
	"github.com/evstack/ev-batcher/types"
)

const (
	// DefaultOutputContentChunkSize is the maximum number of transactions
	// returned by one GetProposalContent call.
	DefaultOutputContentChunkSize = 100
	// DefaultStoredBlockHashBuffer is the distance to the block whose hash a
	// proposer must supply.
	DefaultStoredBlockHashBuffer = 10
	// DefaultMaxL1HandlerTxsPerBlock bounds the L1 handler transactions of a
	// proposed block.
	DefaultMaxL1HandlerTxsPerBlock = 200
	// DefaultProposalTimeout is the build time of a proposal without an
	// explicit deadline.
	DefaultProposalTimeout = 2 * time.Second
	// DefaultValidationTimeout is the build time of a validation without an
	// explicit deadline.
	DefaultValidationTimeout = 4 * time.Second

	validationTxsBuffer = 64
)

// Config configures the batcher.
type Config struct {
	OutputContentChunkSize  int
	StoredBlockHashBuffer   uint64
	MaxL1HandlerTxsPerBlock int
	ProposalTimeout         time.Duration
	ValidationTimeout       time.Duration

	NConcurrentTxs    int
	NWorkers          int
	TxPollingInterval time.Duration
	BouncerCapacity   types.BouncerWeights
	FeeTokenAddress   types.Address
}

// DefaultConfig returns the default batcher configuration.
func DefaultConfig() Config {
	return Config{
		OutputContentChunkSize:  DefaultOutputContentChunkSize,
		StoredBlockHashBuffer:   DefaultStoredBlockHashBuffer,
		MaxL1HandlerTxsPerBlock: DefaultMaxL1HandlerTxsPerBlock,
		ProposalTimeout:         DefaultProposalTimeout,
		ValidationTimeout:       DefaultValidationTimeout,
		NConcurrentTxs:          building.DefaultNConcurrentTxs,
		NWorkers:                executing.DefaultNWorkers,
		TxPollingInterval:       building.DefaultTxPollingInterval,
		BouncerCapacity:         types.MaxBouncerWeights(),
	}
}

// Batcher drives the height and proposal lifecycle. At most one height is
// active, and at most one proposal of that height builds at a time.
type Batcher struct {
	config     Config
	storage    common.Storage
	mempool    common.MempoolClient
	l1         common.L1ProviderClient
	converter  common.TransactionConverter
	txExecutor execution.TxExecutor
	metrics    *common.Metrics
	logger     zerolog.Logger

	lastProposalID atomic.Uint64

	// heightMu serializes StartHeight.
	heightMu sync.Mutex

	// mu guards the fields below. It is never held while calling a
	// collaborator or waiting on a build.
	mu           sync.Mutex
	activeHeight *uint64
	active       *proposalTask
	results      map[types.ProposalID]*proposalResult
	streams      map[types.ProposalID]*proposalStream
	validations  map[types.ProposalID]*validationInput
}

// NewBatcher creates a batcher. Zero sizes and timeouts take their defaults.
func NewBatcher(
	config Config,
	storage common.Storage,
	mempool common.MempoolClient,
	l1 common.L1ProviderClient,
	converter common.TransactionConverter,
	txExecutor execution.TxExecutor,
	metrics *common.Metrics,
	logger zerolog.Logger,
) *Batcher {
	defaults := DefaultConfig()
	if config.OutputContentChunkSize <= 0 {
		config.OutputContentChunkSize = defaults.OutputContentChunkSize
	}
	if config.StoredBlockHashBuffer == 0 {
		config.StoredBlockHashBuffer = defaults.StoredBlockHashBuffer
	}
	if config.ProposalTimeout <= 0 {
		config.ProposalTimeout = defaults.ProposalTimeout
	}
	if config.ValidationTimeout <= 0 {
		config.ValidationTimeout = defaults.ValidationTimeout
	}
	if config.BouncerCapacity.IsZero() {
		config.BouncerCapacity = defaults.BouncerCapacity
	}

	b := &Batcher{
		config:     config,
		storage:    storage,
		mempool:    mempool,
		l1:         l1,
		converter:  converter,
		txExecutor: txExecutor,
		metrics:    metrics,
		logger:     logger.With().Str("component", "batcher").Logger(),
	}
	b.resetHeightLocked()
	return b
}

func (b *Batcher) resetHeightLocked() {
	b.results = make(map[types.ProposalID]*proposalResult)
	b.streams = make(map[types.ProposalID]*proposalStream)
	b.validations = make(map[types.ProposalID]*validationInput)
}

// GetHeight returns the next height to be committed.
func (b *Batcher) GetHeight(ctx context.Context) (uint64, error) {
	height, err := b.storage.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: get storage height: %w", common.ErrInternal, err)
	}
	return height, nil
}

// StartHeight makes height the active height. It must be the next height to
// be committed.
func (b *Batcher) StartHeight(ctx context.Context, height uint64) error {
	// Held for the whole call so that concurrent starts of one height
	// cannot both pass the in-progress check.
	b.heightMu.Lock()
	defer b.heightMu.Unlock()

	b.mu.Lock()
	inProgress := b.activeHeight != nil && *b.activeHeight == height
	b.mu.Unlock()
	if inProgress {
		return fmt.Errorf("%w: %d", common.ErrHeightInProgress, height)
	}

	storageHeight, err := b.GetHeight(ctx)
	if err != nil {
		return err
	}
	if storageHeight != height {
		return fmt.Errorf("%w: requested %d, storage at %d", common.ErrStorageHeightMarkerMismatch, height, storageHeight)
	}

	b.abortActiveProposal()

	b.mu.Lock()
	b.resetHeightLocked()
	b.activeHeight = &height
	b.mu.Unlock()

	b.metrics.StorageHeight.Set(float64(storageHeight))

	if err := b.l1.StartHeight(ctx, height); err != nil {
		b.logger.Error().Err(err).Uint64("height", height).Msg("failed to notify l1 provider of new height")
	}

	b.logger.Info().Uint64("height", height).Msg("height started")
	return nil
}

// ProposeBlock starts building a new block at the active height and returns
// immediately. The block content is read with GetProposalContent.
func (b *Batcher) ProposeBlock(ctx context.Context, input types.ProposeBlockInput) (types.ProposalID, error) {
	height, err := b.checkCanStartProposal(input.BlockInfo.Height)
	if err != nil {
		return 0, err
	}
	if height >= b.config.StoredBlockHashBuffer && input.RetrospectiveBlockHash == nil {
		return 0, fmt.Errorf("%w: height %d", common.ErrMissingRetrospectiveBlockHash, height)
	}

	if err := b.mempool.UpdateGasPrice(ctx, input.BlockInfo.L2GasPrice); err != nil {
		return 0, fmt.Errorf("%w: update mempool gas price: %w", common.ErrInternal, err)
	}
	if err := b.l1.StartBlock(ctx, types.SessionPropose, height); err != nil {
		return 0, fmt.Errorf("%w: start l1 provider block: %w", common.ErrNotReady, err)
	}

	task, err := b.reserveProposal(height, false)
	if err != nil {
		return 0, err
	}
	stream := newProposalStream(task)

	b.mu.Lock()
	b.streams[task.id] = stream
	b.mu.Unlock()

	provider := building.NewProposeTransactionProvider(b.mempool, b.l1, height, b.config.MaxL1HandlerTxsPerBlock)
	b.spawn(ctx, task, input.BlockInfo, input.Deadline, provider, stream.push)
	return task.id, nil
}

// ValidateBlock starts re-executing a block whose content is streamed in
// with SendProposalContent.
func (b *Batcher) ValidateBlock(ctx context.Context, input types.ValidateBlockInput) (types.ProposalID, error) {
	height, err := b.checkCanStartProposal(input.BlockInfo.Height)
	if err != nil {
		return 0, err
	}
	if err := b.l1.StartBlock(ctx, types.SessionValidate, height); err != nil {
		return 0, fmt.Errorf("%w: start l1 provider block: %w", common.ErrNotReady, err)
	}

	task, err := b.reserveProposal(height, true)
	if err != nil {
		return 0, err
	}
	in := newValidationInput(task, validationTxsBuffer)

	b.mu.Lock()
	b.validations[task.id] = in
	b.mu.Unlock()

	provider := building.NewValidateTransactionProvider(in.txsCh, in.finishCh, b.l1, height)
	b.spawn(ctx, task, input.BlockInfo, input.Deadline, provider, nil)
	return task.id, nil
}

func (b *Batcher) checkCanStartProposal(height uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeHeight == nil {
		return 0, common.ErrNoActiveHeight
	}
	if height != *b.activeHeight {
		return 0, fmt.Errorf("%w: proposal for height %d, active height %d", common.ErrStorageHeightMarkerMismatch, height, *b.activeHeight)
	}
	if b.active != nil {
		return 0, fmt.Errorf("%w: proposal %d", common.ErrAnotherProposalInProgress, b.active.id)
	}
	return height, nil
}

func (b *Batcher) reserveProposal(height uint64, validator bool) (*proposalTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeHeight == nil || *b.activeHeight != height {
		return nil, common.ErrNoActiveHeight
	}
	if b.active != nil {
		return nil, fmt.Errorf("%w: proposal %d", common.ErrAnotherProposalInProgress, b.active.id)
	}

	task := newProposalTask(types.ProposalID(b.lastProposalID.Add(1)), height, validator)
	b.active = task
	return task, nil
}

// spawn runs the build of task in the background. The build outlives ctx but
// keeps its values.
func (b *Batcher) spawn(
	ctx context.Context,
	task *proposalTask,
	info types.BlockInfo,
	deadline time.Time,
	provider building.TransactionProvider,
	output func([]types.Transaction),
) {
	if deadline.IsZero() {
		timeout := b.config.ProposalTimeout
		if task.validator {
			timeout = b.config.ValidationTimeout
		}
		deadline = time.Now().Add(timeout)
	}

	logger := b.logger.With().
		Uint64("height", task.height).
		Uint64("proposal_id", uint64(task.id)).
		Bool("validator", task.validator).
		Logger()

	buildCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	blockCtx := execution.BlockContext{BlockInfo: info, FeeTokenAddress: b.config.FeeTokenAddress}
	executor := executing.NewConcurrentExecutor(
		buildCtx,
		b.storage,
		b.txExecutor,
		b.config.BouncerCapacity,
		blockCtx,
		b.config.NWorkers,
		b.metrics,
		logger,
	)

	var builder building.Builder = building.NewBlockBuilder(executor, provider, output, task.abortCh, building.Config{
		Deadline:          deadline,
		NConcurrentTxs:    b.config.NConcurrentTxs,
		TxPollingInterval: b.config.TxPollingInterval,
		Validator:         task.validator,
	}, b.metrics, logger)
	builder = building.WithTracingBuilder(builder, task.height, task.id, task.validator)

	b.metrics.ProposalStarted.Add(1)
	logger.Info().Time("deadline", deadline).Msg("proposal started")

	go func() {
		defer cancel()
		artifacts, err := builder.Build(buildCtx)
		b.finishProposal(task, artifacts, err, logger)
	}()
}

func (b *Batcher) finishProposal(task *proposalTask, artifacts *types.BlockExecutionArtifacts, err error, logger zerolog.Logger) {
	if failure := task.failureErr(); failure != nil && (err == nil || errors.Is(err, common.ErrBlockBuildAborted)) {
		artifacts, err = nil, failure
	}

	switch {
	case err == nil:
		b.metrics.ProposalSucceeded.Add(1)
		logger.Info().
			Str("commitment", artifacts.Commitment().String()).
			Int("txs", len(artifacts.TxHashes)).
			Str("close_reason", string(artifacts.CloseReason)).
			Msg("proposal finished")
	case errors.Is(err, common.ErrBlockBuildAborted):
		b.metrics.ProposalAborted.Add(1)
		logger.Info().Msg("proposal aborted")
	default:
		b.metrics.ProposalFailed.Add(1)
		logger.Warn().Err(err).Msg("proposal failed")
	}

	b.mu.Lock()
	b.results[task.id] = &proposalResult{artifacts: artifacts, err: err}
	if b.active == task {
		b.active = nil
	}
	b.mu.Unlock()

	close(task.done)
}

// abortActiveProposal cancels the building proposal, if any, and waits for
// it to stop.
func (b *Batcher) abortActiveProposal() {
	b.mu.Lock()
	task := b.active
	b.mu.Unlock()
	if task == nil {
		return
	}
	task.abort()
	<-task.done
}

// AwaitActiveProposal waits until the building proposal, if any, is done. It
// reports whether there was one.
func (b *Batcher) AwaitActiveProposal(ctx context.Context) (bool, error) {
	b.mu.Lock()
	task := b.active
	b.mu.Unlock()
	if task == nil {
		return false, nil
	}
	select {
	case <-task.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// SendProposalContent streams content into a validator build.
func (b *Batcher) SendProposalContent(ctx context.Context, id types.ProposalID, content types.ProposalContent) (types.ProposalStatus, error) {
	b.mu.Lock()
	in, ok := b.validations[id]
	b.mu.Unlock()
	if !ok {
		return types.ProposalStatus{}, fmt.Errorf("%w: %d", common.ErrProposalNotFound, id)
	}

	switch content.Kind {
	case types.ProposalContentTxs:
		return b.sendTxs(ctx, in, content.Txs)
	case types.ProposalContentFinish:
		return b.sendFinish(ctx, in, content.FinalNExecutedTxs)
	case types.ProposalContentAbort:
		return b.sendAbort(ctx, in)
	default:
		return types.ProposalStatus{}, fmt.Errorf("unknown proposal content kind %d", content.Kind)
	}
}

func (b *Batcher) sendTxs(ctx context.Context, in *validationInput, consensusTxs []types.ConsensusTransaction) (types.ProposalStatus, error) {
	if in.task.isDone() {
		return b.completedStatus(in.task.id)
	}

	txs := make([]types.Transaction, 0, len(consensusTxs))
	for _, consensusTx := range consensusTxs {
		tx, err := b.converter.ConvertConsensusTx(ctx, consensusTx)
		if err != nil {
			b.logger.Warn().Err(err).Uint64("proposal_id", uint64(in.task.id)).Msg("proposal carries an invalid transaction")
			in.task.failWith(common.NewFailOnError(common.CauseTransactionFailed, err))
			select {
			case <-in.task.done:
			case <-ctx.Done():
				return types.ProposalStatus{}, ctx.Err()
			}
			return types.ProposalStatus{Kind: types.ProposalStatusInvalidProposal}, nil
		}
		txs = append(txs, tx)
	}

	select {
	case in.txsCh <- txs:
		return types.ProposalStatus{Kind: types.ProposalStatusProcessing}, nil
	case <-in.task.done:
		return b.completedStatus(in.task.id)
	case <-ctx.Done():
		return types.ProposalStatus{}, ctx.Err()
	}
}

func (b *Batcher) sendFinish(ctx context.Context, in *validationInput, finalN int) (types.ProposalStatus, error) {
	select {
	case in.finishCh <- finalN:
	default:
	}

	select {
	case <-in.task.done:
	case <-ctx.Done():
		return types.ProposalStatus{}, ctx.Err()
	}

	b.mu.Lock()
	delete(b.validations, in.task.id)
	b.mu.Unlock()
	return b.completedStatus(in.task.id)
}

func (b *Batcher) sendAbort(ctx context.Context, in *validationInput) (types.ProposalStatus, error) {
	in.task.abort()
	select {
	case <-in.task.done:
	case <-ctx.Done():
		return types.ProposalStatus{}, ctx.Err()
	}

	b.mu.Lock()
	delete(b.validations, in.task.id)
	delete(b.results, in.task.id)
	b.mu.Unlock()
	return types.ProposalStatus{Kind: types.ProposalStatusAborted}, nil
}

func (b *Batcher) completedStatus(id types.ProposalID) (types.ProposalStatus, error) {
	b.mu.Lock()
	res, ok := b.results[id]
	b.mu.Unlock()
	if !ok {
		return types.ProposalStatus{}, fmt.Errorf("%w: %d", common.ErrProposalNotFound, id)
	}

	switch {
	case res.err == nil:
		return types.ProposalStatus{Kind: types.ProposalStatusFinished, Commitment: res.artifacts.Commitment()}, nil
	case errors.Is(res.err, common.ErrFailOnError):
		return types.ProposalStatus{Kind: types.ProposalStatusInvalidProposal}, nil
	case errors.Is(res.err, common.ErrBlockBuildAborted):
		return types.ProposalStatus{Kind: types.ProposalStatusAborted}, nil
	default:
		return types.ProposalStatus{}, fmt.Errorf("%w: %w", common.ErrProposalFailed, res.err)
	}
}

// GetProposalContent returns the next chunk of a proposer's block. Once all
// transactions were returned it returns the finished response, after which
// the proposal is no longer found.
func (b *Batcher) GetProposalContent(ctx context.Context, id types.ProposalID) (*types.GetProposalContentResponse, error) {
	b.mu.Lock()
	stream, ok := b.streams[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", common.ErrProposalNotFound, id)
	}

	for {
		chunk, wait := stream.next(b.config.OutputContentChunkSize)
		if len(chunk) > 0 {
			return &types.GetProposalContentResponse{Txs: chunk}, nil
		}

		select {
		case <-wait:
			continue
		case <-stream.task.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// Output is pushed before the build returns.
		if chunk, _ := stream.next(b.config.OutputContentChunkSize); len(chunk) > 0 {
			return &types.GetProposalContentResponse{Txs: chunk}, nil
		}

		b.mu.Lock()
		delete(b.streams, id)
		res := b.results[id]
		b.mu.Unlock()

		if res == nil {
			return nil, fmt.Errorf("%w: %d", common.ErrProposalNotFound, id)
		}
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrProposalFailed, res.err)
		}
		return &types.GetProposalContentResponse{
			Finished:          true,
			Commitment:        res.artifacts.Commitment(),
			FinalNExecutedTxs: stream.streamed(),
		}, nil
	}
}

// DecisionReached commits the block of proposal id. Storage is committed
// first; when the mempool or the L1 provider then fail, storage is reverted.
func (b *Batcher) DecisionReached(ctx context.Context, id types.ProposalID) (*types.DecisionReachedResponse, error) {
	b.mu.Lock()
	task := b.active
	b.mu.Unlock()
	if task != nil {
		if task.id == id {
			select {
			case <-task.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			b.abortActiveProposal()
		}
	}

	b.mu.Lock()
	res, ok := b.results[id]
	delete(b.results, id)
	height := b.activeHeight
	b.mu.Unlock()
	if !ok || res.err != nil || height == nil {
		return nil, fmt.Errorf("%w: %d", common.ErrExecutedProposalNotFound, id)
	}

	artifacts := res.artifacts
	args := artifacts.CommitBlockArgs()
	args.RejectedTxHashes = sortedHashes(artifacts.RejectedTxHashes)
	err := b.commit(ctx, *height, artifacts.StateDiff, args, sortedHashes(artifacts.ConsumedL1HandlerTxHashes), args.RejectedTxHashes)
	if err != nil {
		b.mu.Lock()
		if b.activeHeight != nil && *b.activeHeight == *height {
			b.results[id] = res
		}
		b.mu.Unlock()
		return nil, err
	}

	infos := artifacts.OrderedExecutionInfos()
	nReverted := 0
	for _, info := range infos {
		if info.Reverted {
			nReverted++
		}
	}
	b.metrics.BatchedTransactions.Add(float64(len(infos)))
	b.metrics.RejectedTransactions.Add(float64(artifacts.RejectedTxHashes.Cardinality()))
	b.metrics.RevertedTransactions.Add(float64(nReverted))

	b.logger.Info().
		Uint64("height", *height).
		Uint64("proposal_id", uint64(id)).
		Int("txs", len(infos)).
		Str("commitment", artifacts.Commitment().String()).
		Msg("decision reached")

	return &types.DecisionReachedResponse{
		StateDiff:      artifacts.StateDiff,
		L2GasUsed:      artifacts.L2GasUsed,
		BouncerWeights: artifacts.BouncerWeights,
		ExecutionInfos: infos,
	}, nil
}

// AddSyncBlock commits a block learned through state sync without executing
// it.
func (b *Batcher) AddSyncBlock(ctx context.Context, block types.SyncBlock) error {
	storageHeight, err := b.GetHeight(ctx)
	if err != nil {
		return err
	}
	if block.Height != storageHeight {
		return fmt.Errorf("%w: sync block %d, storage at %d", common.ErrStorageHeightMarkerMismatch, block.Height, storageHeight)
	}

	b.abortActiveProposal()

	diff := block.StateDiff
	if diff == nil {
		diff = types.NewStateDiff()
	}
	args := types.CommitBlockArgs{AddressToNonce: diff.AddressToNonce()}
	if err := b.commit(ctx, block.Height, diff, args, block.L1HandlerTxHashes, nil); err != nil {
		return err
	}

	b.metrics.BatchedTransactions.Add(float64(len(block.AccountTxHashes) + len(block.L1HandlerTxHashes)))
	b.logger.Info().Uint64("height", block.Height).Msg("sync block added")
	return nil
}

// commit writes a decided block to storage, the mempool and the L1 provider,
// and leaves the height.
func (b *Batcher) commit(ctx context.Context, height uint64, diff *types.StateDiff, args types.CommitBlockArgs, consumed, rejected []types.TxHash) error {
	if err := b.storage.CommitProposal(ctx, height, diff); err != nil {
		return fmt.Errorf("commit block %d to storage: %w", height, err)
	}
	if err := b.mempool.CommitBlock(ctx, args); err != nil {
		return b.revertStorage(ctx, height, fmt.Errorf("commit block %d to mempool: %w", height, err))
	}
	if err := b.l1.CommitBlock(ctx, consumed, rejected, height); err != nil {
		return b.revertStorage(ctx, height, fmt.Errorf("commit block %d to l1 provider: %w", height, err))
	}

	b.mu.Lock()
	b.activeHeight = nil
	b.resetHeightLocked()
	b.mu.Unlock()

	b.metrics.StorageHeight.Set(float64(height + 1))
	return nil
}

func (b *Batcher) revertStorage(ctx context.Context, height uint64, cause error) error {
	b.logger.Error().Err(cause).Uint64("height", height).Msg("commit failed, reverting storage")
	if err := b.storage.RevertBlock(ctx, height); err != nil {
		b.logger.Error().Err(err).Uint64("height", height).Msg("failed to revert storage, manual intervention required")
		return errors.Join(cause, fmt.Errorf("revert block %d: %w", height, err))
	}
	return cause
}

// RevertBlock drops the latest committed block.
func (b *Batcher) RevertBlock(ctx context.Context, input types.RevertBlockInput) error {
	storageHeight, err := b.GetHeight(ctx)
	if err != nil {
		return err
	}
	if storageHeight == 0 || input.Height != storageHeight-1 {
		return fmt.Errorf("%w: revert %d, storage at %d", common.ErrStorageHeightMarkerMismatch, input.Height, storageHeight)
	}

	b.abortActiveProposal()

	b.mu.Lock()
	b.activeHeight = nil
	b.resetHeightLocked()
	b.mu.Unlock()

	if err := b.storage.RevertBlock(ctx, input.Height); err != nil {
		return fmt.Errorf("revert block %d: %w", input.Height, err)
	}

	b.metrics.StorageHeight.Set(float64(input.Height))
	b.logger.Info().Uint64("height", input.Height).Msg("block reverted")
	return nil
}

// Close aborts the building proposal and waits for it.
func (b *Batcher) Close() {
	b.abortActiveProposal()
}

func sortedHashes(set mapset.Set[types.TxHash]) []types.TxHash {
	hashes := set.ToSlice()
	slices.SortFunc(hashes, func(a, b types.TxHash) int { return a.Cmp(b) })
	return hashes
}
