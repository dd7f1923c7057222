// Package pool bounds concurrently-running exploration workers to a
// configured count using a per-depth condition-variable array, exactly as
// the worker pool component of this generator's choice-driven enumeration
// engine specifies. OS-level fork/wait primitives have no Go analogue, so
// "worker" here means goroutine and the descendant-death pipe is replaced by
// golang.org/x/sync/errgroup's structured join.
package pool

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

// ErrStop is returned by any operation that observes the pool's Stop flag.
// Every goroutine that owns a Worker must treat it as "exit now, do not
// emit anything".
var ErrStop = errors.New("pool: stop requested")

// Pool bounds Running to Cores using Cond[0..MaxDepth), one condition
// variable per choice-tree depth. Releasing the deepest parked worker first
// approximates depth-first completion and keeps memory footprint low.
type Pool struct {
	mu      sync.Mutex
	cond    []*sync.Cond
	waiting []int
	running int

	cores    int
	maxDepth int
	stop     bool

	nextID    atomic.Int64
	maxSeenRunning int

	leavesEmitted   atomic.Int64
	leavesDiscarded atomic.Int64

	Logger *log.Logger
}

// New creates a pool bounding concurrency to cores, with a per-depth
// condition-variable array sized for maxDepth choice-tree levels.
func New(cores, maxDepth int, logger *log.Logger) *Pool {
	p := &Pool{
		cores:    cores,
		maxDepth: maxDepth,
		waiting:  make([]int, maxDepth),
		Logger:   logger,
	}
	p.cond = make([]*sync.Cond, maxDepth)
	for i := range p.cond {
		p.cond[i] = sync.NewCond(&p.mu)
	}
	p.running = 1 // the root worker counts as already running
	p.nextID.Store(1)
	return p
}

// NextID claims the next monotonically increasing leaf identifier.
func (p *Pool) NextID() int64 { return p.nextID.Add(1) }

// Stopped reports whether Die has been called.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop
}

// IncreaseRunners blocks the calling goroutine until there is room for one
// more concurrently-running worker (accounting for a just-forked child),
// then reserves that slot. It rejects depth >= MaxDepth as a fatal contract
// violation.
func (p *Pool) IncreaseRunners(depth int) error {
	if depth >= p.maxDepth || depth < 0 {
		return p.Die("choice-tree depth exceeds MaxDepth")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.running >= p.cores {
		if p.stop {
			return ErrStop
		}
		p.waiting[depth]++
		p.cond[depth].Wait()
		if p.stop {
			return ErrStop
		}
	}
	p.running++
	if p.running > p.maxSeenRunning {
		p.maxSeenRunning = p.running
	}
	return nil
}

// DecreaseRunners releases this worker's slot and wakes at most one parked
// waiter, preferring the deepest non-empty depth. Every worker must call
// this exactly once when it stops running (the goroutine analogue of the
// atexit(decrease_runners) hook).
func (p *Pool) DecreaseRunners() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running <= 0 {
		panic("pool: DecreaseRunners called with no running workers")
	}
	p.running--
	for d := p.maxDepth - 1; d >= 0; d-- {
		if p.waiting[d] > 0 {
			p.waiting[d]--
			p.cond[d].Signal()
			return
		}
	}
}

// Die sets Stop, broadcasts every condition variable so parked and future
// waiters unblock, logs msg, and returns ErrStop for the caller to propagate.
func (p *Pool) Die(msg string) error {
	p.mu.Lock()
	p.stop = true
	for _, c := range p.cond {
		c.Broadcast()
	}
	p.mu.Unlock()
	if p.Logger != nil {
		p.Logger.Printf("fatal: %s", msg)
	}
	return ErrStop
}

// MaxSeenRunning returns the maximum observed Running value across the
// pool's lifetime, surfaced to callers through Run's Stats.
func (p *Pool) MaxSeenRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeenRunning
}

// RecordEmitted/RecordDiscarded maintain the leaf-count statistics surfaced
// at the end of a root Run().
func (p *Pool) RecordEmitted()   { p.leavesEmitted.Add(1) }
func (p *Pool) RecordDiscarded() { p.leavesDiscarded.Add(1) }

// Stats returns (leaves emitted, leaves discarded).
func (p *Pool) Stats() (int64, int64) {
	return p.leavesEmitted.Load(), p.leavesDiscarded.Load()
}
