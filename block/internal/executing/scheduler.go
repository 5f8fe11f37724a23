package executing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TxStatus is the scheduling state of one transaction index.
type TxStatus uint8

const (
	StatusReadyToExecute TxStatus = iota
	StatusExecuting
	StatusExecuted
	// StatusAborting is held between a failed validation and the return to
	// ReadyToExecute, while the stale writes are removed.
	StatusAborting
	StatusCommitted
)

func (s TxStatus) String() string {
	switch s {
	case StatusReadyToExecute:
		return "ready_to_execute"
	case StatusExecuting:
		return "executing"
	case StatusExecuted:
		return "executed"
	case StatusAborting:
		return "aborting"
	case StatusCommitted:
		return "committed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// TaskKind is the kind of work handed to a worker.
type TaskKind uint8

const (
	TaskAskForTask TaskKind = iota
	TaskExecution
	TaskValidation
	TaskNoTaskAvailable
	TaskDone
)

// Task is a unit of work for a worker.
type Task struct {
	Kind  TaskKind
	Index int
}

type txSlot struct {
	mu     sync.Mutex
	status TxStatus
}

// Scheduler dispenses execution and validation tasks over a growing list of
// transactions and admits commits strictly in index order.
type Scheduler struct {
	executionIdx  atomic.Int64
	validationIdx atomic.Int64
	nTxs          atomic.Int64
	commitIdx     atomic.Int64
	halted        atomic.Bool

	slotsMu sync.RWMutex
	slots   []*txSlot
	wake    chan struct{}

	commitMu sync.Mutex
}

// NewScheduler returns a scheduler with no transactions.
func NewScheduler() *Scheduler {
	return &Scheduler{wake: make(chan struct{})}
}

// AddTxs appends n transactions in ReadyToExecute and wakes idle workers.
func (s *Scheduler) AddTxs(n int) {
	if n <= 0 {
		return
	}
	s.slotsMu.Lock()
	for range n {
		s.slots = append(s.slots, &txSlot{})
	}
	s.nTxs.Add(int64(n))
	close(s.wake)
	s.wake = make(chan struct{})
	s.slotsMu.Unlock()
}

// NTxs returns the number of transactions added so far.
func (s *Scheduler) NTxs() int {
	return int(s.nTxs.Load())
}

func (s *Scheduler) slot(i int) *txSlot {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()
	return s.slots[i]
}

// NextTask returns the next task for a worker.
func (s *Scheduler) NextTask() Task {
	if s.halted.Load() {
		return Task{Kind: TaskDone}
	}

	n := s.nTxs.Load()
	validationIdx := s.validationIdx.Load()
	executionIdx := s.executionIdx.Load()
	if min(validationIdx, executionIdx) >= n {
		return Task{Kind: TaskNoTaskAvailable}
	}

	if validationIdx < executionIdx {
		if i, ok := s.nextVersionToValidate(n); ok {
			return Task{Kind: TaskValidation, Index: i}
		}
	}
	if i, ok := s.nextVersionToExecute(n); ok {
		return Task{Kind: TaskExecution, Index: i}
	}
	return Task{Kind: TaskAskForTask}
}

func (s *Scheduler) nextVersionToExecute(n int64) (int, bool) {
	i, ok := claim(&s.executionIdx, n)
	if !ok {
		return 0, false
	}
	return i, s.tryIncarnate(i)
}

func (s *Scheduler) nextVersionToValidate(n int64) (int, bool) {
	i, ok := claim(&s.validationIdx, n)
	if !ok {
		return 0, false
	}
	slot := s.slot(i)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return i, slot.status == StatusExecuted
}

// claim advances cursor by one if it is below n. The cursor never passes the
// number of added transactions, so transactions appended later are not
// skipped.
func claim(cursor *atomic.Int64, n int64) (int, bool) {
	for {
		i := cursor.Load()
		if i >= n {
			return 0, false
		}
		if cursor.CompareAndSwap(i, i+1) {
			return int(i), true
		}
	}
}

func decreaseTo(cursor *atomic.Int64, target int64) {
	for {
		cur := cursor.Load()
		if cur <= target || cursor.CompareAndSwap(cur, target) {
			return
		}
	}
}

func (s *Scheduler) tryIncarnate(i int) bool {
	slot := s.slot(i)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.status != StatusReadyToExecute {
		return false
	}
	slot.status = StatusExecuting
	return true
}

// FinishExecution marks i Executed and schedules it, and every later index,
// for validation.
func (s *Scheduler) FinishExecution(i int) {
	slot := s.slot(i)
	slot.mu.Lock()
	if slot.status == StatusExecuting {
		slot.status = StatusExecuted
	}
	slot.mu.Unlock()
	decreaseTo(&s.validationIdx, int64(i))
}

// FinishExecutionDuringCommit records a re-execution made by the committer.
// The status stays Committed; later indices are revalidated.
func (s *Scheduler) FinishExecutionDuringCommit(i int) {
	decreaseTo(&s.validationIdx, int64(i+1))
}

// TryValidationAbort moves i from Executed to Aborting. It fails if i was
// committed or aborted concurrently.
func (s *Scheduler) TryValidationAbort(i int) bool {
	slot := s.slot(i)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.status != StatusExecuted {
		return false
	}
	slot.status = StatusAborting
	return true
}

// FinishAbort returns i to ReadyToExecute. The caller gets the re-execution
// when the execution cursor has already passed i.
func (s *Scheduler) FinishAbort(i int) Task {
	s.SetTxStatus(i, StatusReadyToExecute)
	decreaseTo(&s.validationIdx, int64(i+1))
	if s.executionIdx.Load() > int64(i) && s.tryIncarnate(i) {
		return Task{Kind: TaskExecution, Index: i}
	}
	return Task{Kind: TaskAskForTask}
}

// SetTxStatus overrides the status of i.
func (s *Scheduler) SetTxStatus(i int, status TxStatus) {
	slot := s.slot(i)
	slot.mu.Lock()
	slot.status = status
	slot.mu.Unlock()
}

// TxStatus returns the status of i.
func (s *Scheduler) TxStatus(i int) TxStatus {
	slot := s.slot(i)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.status
}

// NCommittedTxs returns the length of the committed prefix.
func (s *Scheduler) NCommittedTxs() int {
	return int(s.commitIdx.Load())
}

// Halt stops dispensing tasks; NextTask returns Done from now on.
func (s *Scheduler) Halt() {
	if s.halted.CompareAndSwap(false, true) {
		s.slotsMu.Lock()
		close(s.wake)
		s.wake = make(chan struct{})
		s.slotsMu.Unlock()
	}
}

// IsHalted reports whether Halt was called.
func (s *Scheduler) IsHalted() bool {
	return s.halted.Load()
}

// WaitForWork blocks until transactions are added, the scheduler halts, ctx
// is done or timeout elapses.
func (s *Scheduler) WaitForWork(ctx context.Context, timeout time.Duration) {
	s.slotsMu.RLock()
	wake := s.wake
	s.slotsMu.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wake:
	case <-ctx.Done():
	case <-timer.C:
	}
}

// TryEnterCommitPhase returns a Committer if no other worker is committing.
func (s *Scheduler) TryEnterCommitPhase() (*Committer, bool) {
	if !s.commitMu.TryLock() {
		return nil, false
	}
	return &Committer{s: s}, true
}

// Committer is the exclusive right to advance the commit index.
type Committer struct {
	s *Scheduler
}

// TryCommit marks the next index Committed if it has been executed and
// returns it. The caller must still validate it.
func (c *Committer) TryCommit() (int, bool) {
	s := c.s
	if s.halted.Load() {
		return 0, false
	}
	i := s.commitIdx.Load()
	if i >= s.nTxs.Load() {
		return 0, false
	}
	slot := s.slot(int(i))
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.status != StatusExecuted {
		return 0, false
	}
	slot.status = StatusCommitted
	s.commitIdx.Store(i + 1)
	return int(i), true
}

// Uncommit reverts the last TryCommit.
func (c *Committer) Uncommit() {
	s := c.s
	i := s.commitIdx.Add(-1)
	s.SetTxStatus(int(i), StatusExecuted)
}

// HaltScheduler halts the scheduler from within the commit phase.
func (c *Committer) HaltScheduler() {
	c.s.Halt()
}

// Release gives up the commit phase.
func (c *Committer) Release() {
	c.s.commitMu.Unlock()
}
