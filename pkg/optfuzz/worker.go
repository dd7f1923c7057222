package optfuzz

import (
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Mode selects one of the three choice-oracle behaviors.
type Mode int

const (
	ModeExhaustive Mode = iota
	ModeReplay
	ModeRandom
)

// Worker is the per-worker (per-goroutine) state a single leaf's generation
// carries. Choices is the full root-to-here decision path, held as a
// persistent list so a fork can hand a child "the parent's history plus one
// token" in O(1) without mutating the parent's own view — the goroutine
// replacement for fork()'s copy-on-write isolation.
type Worker struct {
	Mode    Mode
	Choices *immutable.List[int]
	pos     int
	ID      int64
	Depth   int
	rng     *rng
}

// ChoicesSlice materializes Choices as a plain slice, for diagnostics and
// for writing a leaf's ".choices" replay file.
func (w *Worker) ChoicesSlice() []int {
	out := make([]int, w.Choices.Len())
	itr := w.Choices.Iterator()
	for !itr.Done() {
		i, v := itr.Next()
		out[i] = v
	}
	return out
}

// ChoicesString renders Choices as the space-separated token trace used by
// --choices replay.
func (w *Worker) ChoicesString() string {
	s := w.ChoicesSlice()
	out := make([]byte, 0, len(s)*3)
	for i, v := range s {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, []byte(fmt.Sprintf("%d", v))...)
	}
	return string(out)
}

// rootWorker builds the worker that begins generation at the root of the
// choice tree.
func rootWorker(opts Options) (*Worker, error) {
	w := &Worker{Depth: 1, ID: 1, Choices: immutable.NewList[int]()}
	switch {
	case opts.Fuzz && opts.Choices != "":
		w.Mode = ModeReplay
		toks, err := parseChoices(opts.Choices)
		if err != nil {
			return nil, err
		}
		for _, t := range toks {
			w.Choices = w.Choices.Append(t)
		}
	case opts.Fuzz:
		w.Mode = ModeRandom
		w.rng = newRNG(opts.Seed)
	default:
		w.Mode = ModeExhaustive
	}
	return w, nil
}

func parseChoices(s string) ([]int, error) {
	var out []int
	var cur int
	have := false
	flush := func() error {
		if have {
			out = append(out, cur)
			cur, have = 0, false
		}
		return nil
	}
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t':
			if err := flush(); err != nil {
				return nil, err
			}
		case r >= '0' && r <= '9':
			cur = cur*10 + int(r-'0')
			have = true
		default:
			return nil, fmt.Errorf("invalid --choices token containing %q", r)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
