package optfuzz

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/benbjohnson/immutable"
	"golang.org/x/sync/errgroup"

	"github.com/regehr/opt-fuzz/internal/ir"
	"github.com/regehr/opt-fuzz/pkg/optfuzz/pool"
)

// MaxDepth bounds the choice-tree depth this pool's per-depth condition
// array supports; exceeding it is a fatal contract violation (Die).
const MaxDepth = 4096

// Engine owns the lifecycle of one generation run: the worker pool, the
// structured join over every forked goroutine, and the emitter every leaf
// writes through.
type Engine struct {
	Opts    Options
	Pool    *pool.Pool
	Emitter *Emitter
	Logger  *log.Logger
	// Stdout receives the single emitted module's text when Opts.Fuzz is
	// set — --fuzz always produces exactly one leaf (random and replay
	// choice modes never fork), and that leaf is a value to pipe to an
	// optimizer, not a bucket file to scan later.
	Stdout io.Writer

	eg *errgroup.Group
}

// Stats summarizes a finished run, surfaced by Run for operators sanity-
// checking --cores and read by TestExhaustiveRunEmitsToBucketFile.
type Stats struct {
	LeavesEmitted   int64
	LeavesDiscarded int64
	MaxRunning      int
}

// Run allocates the shared pool state, runs the root worker through
// generate-then-emit, then joins every goroutine it forked along the way —
// the goroutine analogue of a parent process reading EOF from its
// descendants' death pipe.
func Run(ctx context.Context, opts Options) (Stats, error) {
	if err := opts.Validate(); err != nil {
		return Stats{}, err
	}
	logger := log.New(os.Stderr, "", 0)
	p := pool.New(opts.Cores, MaxDepth, logger)

	e := &Engine{
		Opts:    opts,
		Pool:    p,
		Emitter: NewEmitter(opts),
		Logger:  logger,
		Stdout:  os.Stdout,
		eg:      &errgroup.Group{},
	}

	root, err := rootWorker(opts)
	if err != nil {
		return Stats{}, err
	}

	runErr := func() error {
		defer p.DecreaseRunners()
		return e.runWorker(ctx, root)
	}()

	waitErr := e.eg.Wait()

	emitted, discarded := p.Stats()
	stats := Stats{LeavesEmitted: emitted, LeavesDiscarded: discarded, MaxRunning: p.MaxSeenRunning()}

	if runErr != nil && runErr != pool.ErrStop {
		return stats, runErr
	}
	if waitErr != nil && waitErr != pool.ErrStop {
		return stats, waitErr
	}
	if runErr == pool.ErrStop || waitErr == pool.ErrStop {
		return stats, pool.ErrStop
	}
	return stats, nil
}

// GenerateOne runs a single leaf deterministically from a pre-parsed
// Choices sequence (forced-replay mode) and returns its textual IR. It uses
// a private single-core pool only for the leaf id and never claims or waits
// for a runner slot. The CLI's --fuzz --choices path goes through Run
// instead.
func GenerateOne(opts Options, choices []int) (string, error) {
	logger := log.New(os.Stderr, "", 0)
	p := pool.New(1, MaxDepth, logger)
	e := &Engine{Opts: opts, Pool: p, Emitter: NewEmitter(opts), Logger: logger, eg: &errgroup.Group{}}

	w := &Worker{Mode: ModeReplay, Depth: 1, ID: p.NextID(), Choices: immutable.NewList[int]()}
	for _, c := range choices {
		w.Choices = w.Choices.Append(c)
	}

	fn, err := e.synthesizeLeaf(w)
	if err != nil {
		return "", err
	}
	return e.Emitter.Render(fn, w.ID), nil
}

// runWorker performs "generate(); output()" for a single worker: synthesize
// a function, fix up its CFG, verify and emit it. A structural dead-end is
// swallowed here (the leaf is discarded, siblings continue); every other
// error propagates to Run.
func (e *Engine) runWorker(ctx context.Context, w *Worker) error {
	if e.Pool.Stopped() {
		return pool.ErrStop
	}
	if err := ctx.Err(); err != nil {
		return nil
	}

	fn, err := e.synthesizeLeaf(w)
	if err != nil {
		if isDiscarded(err) {
			e.Pool.RecordDiscarded()
			return nil
		}
		return err
	}

	if err := e.emit(fn, w); err != nil {
		return err
	}
	e.Pool.RecordEmitted()
	return nil
}

// synthesizeLeaf runs the value synthesizer followed by the CFG fix-up pass
// for worker w, returning the finished function or errDiscarded.
func (e *Engine) synthesizeLeaf(w *Worker) (*ir.Function, error) {
	s := newSynthesis(e, w)
	if _, err := s.genRoot(); err != nil {
		return nil, err
	}
	s.b.CreateRet(s.retVal)

	if e.Opts.Branches {
		if err := fixupCFG(s); err != nil {
			return nil, err
		}
	}

	if e.Opts.Verify {
		if err := s.fn.Verify(); err != nil {
			return nil, e.Pool.Die(fmt.Sprintf("internal verifier failed: %v", err))
		}
	}
	return s.fn, nil
}

// Choose is the choice oracle: it dispatches to forced replay, random, or
// exhaustive-fork behavior depending on w.Mode.
func (e *Engine) Choose(w *Worker, n int) (int, error) {
	if n == 0 {
		return 0, e.Pool.Die("choose(0): contract violation")
	}
	if n == 1 {
		return 0, nil
	}
	switch w.Mode {
	case ModeReplay:
		if w.pos >= w.Choices.Len() {
			return 0, fmt.Errorf("optfuzz: forced choices exhausted (contract violation)")
		}
		v := w.Choices.Get(w.pos)
		w.pos++
		if v < 0 || v >= n {
			return 0, fmt.Errorf("optfuzz: forced choice %d out of range [0,%d)", v, n)
		}
		return v, nil
	case ModeRandom:
		v := int(w.rng.upto(uint32(n)))
		w.Choices = w.Choices.Append(v)
		return v, nil
	default: // ModeExhaustive
		if w.pos < w.Choices.Len() {
			v := w.Choices.Get(w.pos)
			w.pos++
			return v, nil
		}
		return e.forkChoose(w, n)
	}
}

// forkChoose implements exhaustive choose(n): fork n-1 children, one per
// value in [0,n-1), each replaying the parent's full decision path plus its
// own new token from scratch in a new goroutine; the current goroutine
// takes the final value n-1 in place, without forking, which saves one
// goroutine per call compared with forking a child for every value.
func (e *Engine) forkChoose(w *Worker, n int) (int, error) {
	for i := 0; i < n-1; i++ {
		if e.Pool.Stopped() {
			return 0, pool.ErrStop
		}
		child := &Worker{
			Mode:    ModeExhaustive,
			Choices: w.Choices.Append(i),
			ID:      e.Pool.NextID(),
			Depth:   w.Depth + 1,
		}
		// The child goroutine is launched unconditionally, mirroring fork():
		// a forked child lives independently of its parent's own throttle.
		// It claims its pool slot itself, once one is free, rather than
		// having the parent block here waiting on its behalf — if the
		// parent itself occupies the pool's sole slot (--cores=1), blocking
		// here before the child exists would park forever with nothing left
		// to ever wake it.
		e.eg.Go(func() error {
			if err := e.Pool.IncreaseRunners(child.Depth); err != nil {
				return err
			}
			defer e.Pool.DecreaseRunners()
			return e.runWorker(context.Background(), child)
		})
	}
	w.Choices = w.Choices.Append(n - 1)
	w.pos++
	return n - 1, nil
}
