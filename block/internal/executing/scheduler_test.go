package executing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDispatchesExecutionThenValidation(t *testing.T) {
	s := NewScheduler()
	assert.Equal(t, Task{Kind: TaskNoTaskAvailable}, s.NextTask())

	s.AddTxs(2)
	assert.Equal(t, Task{Kind: TaskExecution, Index: 0}, s.NextTask())
	assert.Equal(t, Task{Kind: TaskExecution, Index: 1}, s.NextTask())
	assert.Equal(t, StatusExecuting, s.TxStatus(0))

	// Handing out index 1 already moved the validation cursor past index 0,
	// which was still executing. Index 1 drains the cursor without work.
	assert.Equal(t, Task{Kind: TaskAskForTask}, s.NextTask())
	assert.Equal(t, Task{Kind: TaskNoTaskAvailable}, s.NextTask())

	// FinishExecution pulls the validation cursor back to index 0.
	s.FinishExecution(0)
	assert.Equal(t, StatusExecuted, s.TxStatus(0))
	assert.Equal(t, Task{Kind: TaskValidation, Index: 0}, s.NextTask())
}

func TestSchedulerStreamingDoesNotSkipNewTxs(t *testing.T) {
	s := NewScheduler()
	s.AddTxs(1)
	require.Equal(t, Task{Kind: TaskExecution, Index: 0}, s.NextTask())
	s.FinishExecution(0)
	require.Equal(t, Task{Kind: TaskValidation, Index: 0}, s.NextTask())
	require.Equal(t, Task{Kind: TaskNoTaskAvailable}, s.NextTask())

	s.AddTxs(2)
	assert.Equal(t, 3, s.NTxs())
	assert.Equal(t, Task{Kind: TaskExecution, Index: 1}, s.NextTask())
	assert.Equal(t, Task{Kind: TaskExecution, Index: 2}, s.NextTask())
}

func TestSchedulerAbortHandsBackReExecution(t *testing.T) {
	s := NewScheduler()
	s.AddTxs(2)
	require.Equal(t, 0, s.NextTask().Index)
	require.Equal(t, 1, s.NextTask().Index)
	s.FinishExecution(1)

	require.True(t, s.TryValidationAbort(1))
	assert.Equal(t, StatusAborting, s.TxStatus(1))
	assert.False(t, s.TryValidationAbort(1), "an index is aborted at most once per incarnation")

	assert.Equal(t, Task{Kind: TaskExecution, Index: 1}, s.FinishAbort(1))
	assert.Equal(t, StatusExecuting, s.TxStatus(1))
}

func TestSchedulerCommitIsExclusiveAndOrdered(t *testing.T) {
	s := NewScheduler()
	s.AddTxs(2)
	require.Equal(t, 0, s.NextTask().Index)
	require.Equal(t, 1, s.NextTask().Index)
	s.FinishExecution(1)

	c, ok := s.TryEnterCommitPhase()
	require.True(t, ok)
	_, ok = s.TryEnterCommitPhase()
	assert.False(t, ok)

	_, ok = c.TryCommit()
	assert.False(t, ok, "index 1 must wait for index 0")

	s.FinishExecution(0)
	i, ok := c.TryCommit()
	require.True(t, ok)
	assert.Equal(t, 0, i)
	assert.Equal(t, StatusCommitted, s.TxStatus(0))
	assert.False(t, s.TryValidationAbort(0))

	i, ok = c.TryCommit()
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, 2, s.NCommittedTxs())

	c.Uncommit()
	assert.Equal(t, 1, s.NCommittedTxs())
	assert.Equal(t, StatusExecuted, s.TxStatus(1))
	c.Release()

	_, ok = s.TryEnterCommitPhase()
	assert.True(t, ok)
}

func TestSchedulerHalt(t *testing.T) {
	s := NewScheduler()
	s.AddTxs(1)
	require.Equal(t, 0, s.NextTask().Index)
	s.FinishExecution(0)

	c, ok := s.TryEnterCommitPhase()
	require.True(t, ok)
	c.HaltScheduler()
	c.Release()

	assert.True(t, s.IsHalted())
	assert.Equal(t, Task{Kind: TaskDone}, s.NextTask())
	c, _ = s.TryEnterCommitPhase()
	_, ok = c.TryCommit()
	assert.False(t, ok)
}

func TestSchedulerWaitForWorkWakesOnAddTxs(t *testing.T) {
	s := NewScheduler()
	done := make(chan struct{})
	go func() {
		s.WaitForWork(context.Background(), time.Minute)
		close(done)
	}()

	// Give the waiter time to pick up the current wake channel.
	time.Sleep(10 * time.Millisecond)
	s.AddTxs(1)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestSchedulerAssignsEachIndexOnce(t *testing.T) {
	const nTxs = 200
	s := NewScheduler()
	s.AddTxs(nTxs)

	var (
		mu       sync.Mutex
		executed = make(map[int]int)
		wg       sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task := s.NextTask()
				switch task.Kind {
				case TaskExecution:
					mu.Lock()
					executed[task.Index]++
					mu.Unlock()
				case TaskNoTaskAvailable:
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, executed, nTxs)
	for i, n := range executed {
		assert.Equal(t, 1, n, "index %d", i)
	}
}
