package kv

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInternalLimitIgnoresOutOfRange(t *testing.T) {
	defer SetInternalLimit(defaultInternalLimit)

	SetInternalLimit(4096)
	assert.Equal(t, 4096, InternalLimit())

	// out-of-range values are ignored
	SetInternalLimit(100)
	assert.Equal(t, 4096, InternalLimit())
	SetInternalLimit(1 << 20)
	assert.Equal(t, 4096, InternalLimit())

	SetInternalLimit(minInternalLimit)
	assert.Equal(t, minInternalLimit, InternalLimit())
	SetInternalLimit(maxInternalLimit)
	assert.Equal(t, maxInternalLimit, InternalLimit())
}

func TestPoolExecutorRunsAllTasks(t *testing.T) {
	p := newPoolExecutor(4, 100*time.Millisecond)
	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Execute(func() {
			count.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int32(100), count.Load())

	// workers exit after the idle timeout and respawn on demand
	time.Sleep(250 * time.Millisecond)
	p.mu.Lock()
	idleWorkers := p.workers
	p.mu.Unlock()
	assert.Equal(t, 0, idleWorkers)

	wg.Add(1)
	p.Execute(func() { wg.Done() })
	wg.Wait()
}

func TestPoolExecutorBoundsWorkerCount(t *testing.T) {
	p := newPoolExecutor(2, time.Second)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Execute(func() {
			<-gate
			wg.Done()
		})
	}
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	assert.LessOrEqual(t, workers, 2)
	close(gate)
	wg.Wait()
}

func TestSetExecutorIgnoresNil(t *testing.T) {
	before := SharedExecutor()
	SetExecutor(nil)
	assert.Equal(t, before, SharedExecutor())
}
