package batching

import (
	"sync"

	"github.com/evstack/ev-batcher/types"
)

// proposalTask is the handle of a build running in the background. The owner
// always calls abort and then waits on done before dropping it.
type proposalTask struct {
	id        types.ProposalID
	height    uint64
	validator bool

	abortCh   chan struct{}
	abortOnce sync.Once
	done      chan struct{}

	failMu  sync.Mutex
	failure error
}

func newProposalTask(id types.ProposalID, height uint64, validator bool) *proposalTask {
	return &proposalTask{
		id:        id,
		height:    height,
		validator: validator,
		abortCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (t *proposalTask) abort() {
	t.abortOnce.Do(func() { close(t.abortCh) })
}

// failWith aborts the build and makes err its outcome instead of an abort.
func (t *proposalTask) failWith(err error) {
	t.failMu.Lock()
	if t.failure == nil {
		t.failure = err
	}
	t.failMu.Unlock()
	t.abort()
}

func (t *proposalTask) failureErr() error {
	t.failMu.Lock()
	defer t.failMu.Unlock()
	return t.failure
}

func (t *proposalTask) isDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// proposalResult is the outcome of a finished build.
type proposalResult struct {
	artifacts *types.BlockExecutionArtifacts
	err       error
}

// proposalStream buffers the transactions a proposer build accepted until
// consensus reads them with GetProposalContent.
type proposalStream struct {
	task *proposalTask

	mu        sync.Mutex
	txs       []types.Transaction
	nStreamed int
	notify    chan struct{}
}

func newProposalStream(task *proposalTask) *proposalStream {
	return &proposalStream{task: task, notify: make(chan struct{})}
}

func (s *proposalStream) push(txs []types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, txs...)
	s.nStreamed += len(txs)
	close(s.notify)
	s.notify = make(chan struct{})
}

// next pops up to max buffered transactions. When none are buffered it
// returns a channel closed on the next push.
func (s *proposalStream) next(max int) ([]types.Transaction, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txs) == 0 {
		return nil, s.notify
	}
	n := min(max, len(s.txs))
	chunk := s.txs[:n:n]
	s.txs = s.txs[n:]
	return chunk, nil
}

func (s *proposalStream) streamed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nStreamed
}

// validationInput carries the content consensus streams into a validator
// build.
type validationInput struct {
	task     *proposalTask
	txsCh    chan []types.Transaction
	finishCh chan int
}

func newValidationInput(task *proposalTask, bufferSize int) *validationInput {
	return &validationInput{
		task:     task,
		txsCh:    make(chan []types.Transaction, bufferSize),
		finishCh: make(chan int, 1),
	}
}
