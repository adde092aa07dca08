package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goExecutor runs every task on its own goroutine.
type goExecutor struct{}

func (goExecutor) Execute(task func()) { go task() }

func TestLimitExecutorCoalesces(t *testing.T) {
	e := NewLimitExecutor(goExecutor{})

	release := make(chan struct{})
	started := make(chan struct{})
	e.Execute(func() {
		close(started)
		<-release
	})
	<-started

	// one submission lands in the waiting slot, the rest are dropped
	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	e.Execute(func() {
		ran.Add(1)
		wg.Done()
	})
	for i := 0; i < 5; i++ {
		e.Execute(func() { ran.Add(1) })
	}

	close(release)
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), ran.Load())
}

func TestLimitExecutorRunsSequentially(t *testing.T) {
	e := NewLimitExecutor(goExecutor{})
	var wg sync.WaitGroup
	var running atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		done := make(chan struct{})
		e.Execute(func() {
			defer wg.Done()
			defer close(done)
			require.Equal(t, int32(1), running.Add(1), "two tasks active at once")
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
		// wait so every submission finds empty slots and none are dropped
		<-done
	}
	wg.Wait()
}

func TestTagExecutorReplacesWaitingTask(t *testing.T) {
	e := NewTagExecutor(goExecutor{})

	release := make(chan struct{})
	started := make(chan struct{})
	e.Execute("k", func() {
		close(started)
		<-release
	})
	<-started

	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	e.Execute("k", func() { got.Store(1) })
	e.Execute("k", func() {
		got.Store(2)
		wg.Done()
	})

	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), got.Load(), "the later task must win")
}

func TestTagExecutorDistinctTagsRunConcurrently(t *testing.T) {
	e := NewTagExecutor(goExecutor{})
	var wg sync.WaitGroup
	gate := make(chan struct{})
	started := make(chan struct{}, 3)
	for _, tag := range []string{"a", "b", "c"} {
		wg.Add(1)
		e.Execute(tag, func() {
			started <- struct{}{}
			<-gate
			wg.Done()
		})
	}
	// all three must be in flight before the gate opens
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 tasks in flight", i)
		}
	}
	close(gate)
	wg.Wait()
}

func TestBinarySearchPairs(t *testing.T) {
	pairs := []int{10, 1, 20, 2, 40, 3}
	assert.Equal(t, -1, BinarySearchPairs(pairs, 5))
	assert.Equal(t, 0, BinarySearchPairs(pairs, 10))
	assert.Equal(t, 0, BinarySearchPairs(pairs, 19))
	assert.Equal(t, 1, BinarySearchPairs(pairs, 20))
	assert.Equal(t, 1, BinarySearchPairs(pairs, 39))
	assert.Equal(t, 2, BinarySearchPairs(pairs, 40))
	assert.Equal(t, 2, BinarySearchPairs(pairs, 1000))
	assert.Equal(t, -1, BinarySearchPairs(nil, 3))
}

func TestRandomName(t *testing.T) {
	a, b := RandomName(), RandomName()
	assert.Len(t, a, NameSize)
	assert.Len(t, b, NameSize)
	assert.NotEqual(t, a, b)
}
