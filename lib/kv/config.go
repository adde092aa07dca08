package kv

import (
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Process-Wide Configuration
// --------------------------------------------------------------------------

const (
	defaultInternalLimit = 8192
	minInternalLimit     = 2048
	maxInternalLimit     = 0xFFFF
)

// Executor runs tasks asynchronously. The shared executor is used for
// loading, background commits and sidecar file I/O.
type Executor interface {
	Execute(task func())
}

var (
	configMu      sync.RWMutex
	sLogger       Logger = facadeLogger{}
	sExecutor     Executor
	internalLimit = defaultInternalLimit
)

// SetLogger replaces the process-wide logger. Passing nil silences all
// engine diagnostics.
func SetLogger(logger Logger) {
	configMu.Lock()
	sLogger = logger
	configMu.Unlock()
}

// CurrentLogger returns the configured logger, or nil when silenced.
func CurrentLogger() Logger {
	configMu.RLock()
	defer configMu.RUnlock()
	return sLogger
}

// SetExecutor replaces the shared executor. It is highly recommended to
// set your own executor to reuse threads of a common pool. A nil
// executor is ignored.
func SetExecutor(executor Executor) {
	if executor == nil {
		return
	}
	configMu.Lock()
	sExecutor = executor
	configMu.Unlock()
}

// SharedExecutor returns the configured executor, creating the default
// pool on first use.
func SharedExecutor() Executor {
	configMu.RLock()
	e := sExecutor
	configMu.RUnlock()
	if e != nil {
		return e
	}
	configMu.Lock()
	defer configMu.Unlock()
	if sExecutor == nil {
		sExecutor = newPoolExecutor(4, 10*time.Second)
	}
	return sExecutor
}

// SetInternalLimit adjusts the threshold (in bytes) above which string,
// bytes and object values spill to sidecar files. Values outside
// [2048, 65535] are ignored.
func SetInternalLimit(limit int) {
	if limit >= minInternalLimit && limit <= maxInternalLimit {
		configMu.Lock()
		internalLimit = limit
		configMu.Unlock()
	}
}

// InternalLimit returns the current inline-vs-sidecar threshold.
func InternalLimit() int {
	configMu.RLock()
	defer configMu.RUnlock()
	return internalLimit
}

// --------------------------------------------------------------------------
// Default Executor
// --------------------------------------------------------------------------

// poolExecutor is the default shared executor: a fixed number of workers
// draining an unbounded queue. Idle workers exit after the idle timeout
// and are respawned on demand.
type poolExecutor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	workers int
	size    int
	idle    time.Duration
}

func newPoolExecutor(size int, idle time.Duration) *poolExecutor {
	p := &poolExecutor{size: size, idle: idle}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *poolExecutor) Execute(task func()) {
	if task == nil {
		return
	}
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	if p.workers < p.size {
		p.workers++
		go p.worker()
	}
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *poolExecutor) worker() {
	for {
		p.mu.Lock()
		deadline := time.Now().Add(p.idle)
		for len(p.tasks) == 0 {
			if !p.waitUntil(deadline) && len(p.tasks) == 0 {
				p.workers--
				p.mu.Unlock()
				return
			}
		}
		task := p.tasks[0]
		p.tasks = p.tasks[1:]
		p.mu.Unlock()
		task()
	}
}

// waitUntil blocks on the pool condition until signalled or the deadline
// passes. Returns false once the deadline has passed. Must be called
// with the pool lock held.
func (p *poolExecutor) waitUntil(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.AfterFunc(remaining, p.cond.Broadcast)
	p.cond.Wait()
	timer.Stop()
	return time.Now().Before(deadline)
}
