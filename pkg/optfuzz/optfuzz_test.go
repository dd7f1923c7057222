package optfuzz

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/immutable"
	"golang.org/x/sync/errgroup"

	"github.com/regehr/opt-fuzz/internal/ir"
	"github.com/regehr/opt-fuzz/pkg/optfuzz/pool"
)

func listOfInts(xs []int) *immutable.List[int] {
	l := immutable.NewList[int]()
	for _, x := range xs {
		l = l.Append(x)
	}
	return l
}

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	return &Engine{
		Opts:    opts,
		Pool:    pool.New(opts.Cores, MaxDepth, logger),
		Emitter: NewEmitter(opts),
		Logger:  logger,
		Stdout:  io.Discard,
		eg:      &errgroup.Group{},
	}
}

func TestOptionsValidateRejectsNarrowWidth(t *testing.T) {
	o := Defaults()
	o.Width = 1
	err := o.Validate()
	if err == nil || err.Error() != "Width must be >= 2" {
		t.Fatalf("got %v, want exact message %q", err, "Width must be >= 2")
	}
}

func TestOptionsValidateRejectsSeedOutsideFuzz(t *testing.T) {
	o := Defaults()
	o.SeedSet = true
	if err := o.Validate(); err == nil {
		t.Fatal("expected --seed outside --fuzz to be rejected")
	}
}

// TestReplayReproducesIdenticalIR is the replay law: recording a random
// run's Choices trace and feeding it back through forced replay must
// synthesize byte-for-byte identical IR.
func TestReplayReproducesIdenticalIR(t *testing.T) {
	opts := Defaults()
	opts.Width = 4
	opts.NumInsns = 4
	opts.Branches = true
	opts.UseIntrinsics = true
	opts.Fuzz = true
	opts.SeedSet = true
	opts.Seed = 12345

	e := testEngine(t, opts)

	w1, err := rootWorker(opts)
	if err != nil {
		t.Fatalf("rootWorker: %v", err)
	}
	fn1, err := e.synthesizeLeaf(w1)
	if err != nil {
		t.Fatalf("synthesizeLeaf (random): %v", err)
	}

	trace := w1.ChoicesSlice()
	if len(trace) == 0 {
		t.Fatal("expected the random run to record a non-empty choice trace")
	}

	w2 := &Worker{Mode: ModeReplay, Depth: 1, ID: 2, Choices: listOfInts(trace)}
	fn2, err := e.synthesizeLeaf(w2)
	if err != nil {
		t.Fatalf("synthesizeLeaf (replay): %v", err)
	}

	got1 := (&ir.Module{Functions: []*ir.Function{fn1}}).String()
	got2 := (&ir.Module{Functions: []*ir.Function{fn2}}).String()
	if got1 != got2 {
		t.Fatalf("replay diverged from original run:\n--- original ---\n%s\n--- replay ---\n%s", got1, got2)
	}
}

// TestReplayRejectsShortSequence checks that forced replay reports a
// contract violation rather than silently guessing when its Choices run
// out mid-synthesis.
func TestReplayRejectsShortSequence(t *testing.T) {
	opts := Defaults()
	opts.Width = 4
	opts.NumInsns = 4

	e := testEngine(t, opts)
	// Token 1 picks the constant alternative, whose own 16-way choice then
	// finds the sequence exhausted.
	w := &Worker{Mode: ModeReplay, Depth: 1, ID: 1, Choices: listOfInts([]int{1})}
	if _, err := e.synthesizeLeaf(w); err == nil {
		t.Fatal("expected an error once the forced choice sequence runs out")
	}
}

// TestExhaustiveRunEmitsToBucketFile drives a full small exhaustive run
// through Run and checks it produces at least one leaf without error, and
// that the bucket file it names actually exists and is non-empty.
func TestExhaustiveRunEmitsToBucketFile(t *testing.T) {
	dir := t.TempDir()
	opts := Defaults()
	opts.Width = 2
	opts.NumInsns = 1
	opts.Cores = 2
	opts.NumFiles = 1
	opts.OutputDir = dir
	opts.Base = "leaf_"

	stats, err := Run(context.Background(), opts)
	if err != nil && err != pool.ErrStop {
		t.Fatalf("Run: %v", err)
	}
	if stats.LeavesEmitted == 0 {
		t.Fatal("expected at least one leaf to be emitted")
	}

	data, err := os.ReadFile(filepath.Join(dir, "0.ll"))
	if err != nil {
		t.Fatalf("reading bucket file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty bucket file")
	}
}

// TestArgumentChoiceOffersAtMostOneUnused checks that genVal's argument
// alternative never offers more than one not-yet-referenced argument of a
// given width at once: with two width-W argument slots both still unused,
// only the first (lower-index) one may appear as a choosable alternative
// until it is actually referenced.
func TestArgumentChoiceOffersAtMostOneUnused(t *testing.T) {
	opts := Defaults()
	opts.Width = 4
	opts.NumInsns = 1

	e := testEngine(t, opts)
	w := &Worker{Mode: ModeExhaustive, Depth: 1, ID: 1, Choices: immutable.NewList[int]()}
	s := newSynthesis(e, w)

	// argWidthSchedule(4) == {4, 4, 1, 2, 8}: args[0] and args[1] are both
	// width 4 and start unused.
	var offered []int
	for i, a := range s.fn.Args {
		if a.Ty.Bits == 4 {
			offered = append(offered, i)
		}
	}
	if len(offered) != 2 {
		t.Fatalf("expected two width-4 arguments in the fixed schedule, got %v", offered)
	}

	alts := s.argAlts(4)
	if len(alts) != 1 {
		t.Fatalf("expected exactly one offered width-4 argument alternative before any are used, got %d", len(alts))
	}

	s.used[offered[0]] = true
	alts = s.argAlts(4)
	if len(alts) != 2 {
		t.Fatalf("expected both width-4 arguments offered once the first is used, got %d", len(alts))
	}
}
