package optfuzz

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/regehr/opt-fuzz/internal/ir"
)

// Emitter renders a finished function to its textual form and writes it to
// disk, either as one file per leaf or appended into one of NumFiles shared
// bucket files.
type Emitter struct {
	opts Options
}

// NewEmitter builds the emitter for a run's option set.
func NewEmitter(opts Options) *Emitter {
	return &Emitter{opts: opts}
}

// Render gives fn its final symbol name and returns its textual IR. It does
// not touch disk; GenerateOne uses it directly without an Engine's file
// layout policy applying.
func (em *Emitter) Render(fn *ir.Function, id int64) string {
	fn.Rename(fmt.Sprintf("%s%d", em.opts.Base, id))
	m := &ir.Module{Functions: []*ir.Function{fn}}
	return m.String()
}

// emit writes one finished leaf to disk per the run's file-layout policy,
// and, when requested, a sibling ".choices" replay file. Under --fuzz the
// run produces exactly one leaf and that leaf goes to Stdout instead: a
// fuzzing run is meant to be piped straight into whatever it's testing, not
// scanned back out of a bucket file.
func (e *Engine) emit(fn *ir.Function, w *Worker) error {
	text := e.Emitter.Render(fn, w.ID)

	if e.Opts.Fuzz {
		if _, err := io.WriteString(e.Stdout, text); err != nil {
			return fmt.Errorf("optfuzz: writing to stdout: %w", err)
		}
		if e.Opts.DumpChoices {
			path := filepath.Join(e.Opts.OutputDir, fmt.Sprintf("%s%d.ll", e.Opts.Base, w.ID))
			return e.emitChoicesSidecar(path, w)
		}
		return nil
	}

	var path string
	var err error
	if e.Opts.OneFuncPerFile {
		path, err = e.emitOwnFile(text, w.ID)
	} else {
		path, err = e.emitBucket(text, w.ID)
	}
	if err != nil {
		return err
	}

	if e.Opts.DumpChoices {
		if err := e.emitChoicesSidecar(path, w); err != nil {
			return err
		}
	}
	return nil
}

// emitOwnFile creates a dedicated file for one leaf. O_EXCL enforces the
// one-writer-per-name invariant: id is unique per run, so a collision means
// something else already wrote this name and is itself a contract
// violation worth failing loudly on.
func (e *Engine) emitOwnFile(text string, id int64) (string, error) {
	name := fmt.Sprintf("%s%d.ll", e.Opts.Base, id)
	path := filepath.Join(e.Opts.OutputDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("optfuzz: creating leaf file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return "", fmt.Errorf("optfuzz: writing leaf file %s: %w", path, err)
	}
	return path, nil
}

// bucketAtomicWriteLimit bounds a bucket write: emitBucket relies on
// O_APPEND plus one write(2) call per leaf being atomic with respect to other appenders of the same file, which
// holds for any single write below the platform's atomic-append limit
// (POSIX guarantees at least PIPE_BUF, 4096 bytes, for regular files opened
// O_APPEND). A leaf whose text exceeds that bound is a fatal contract
// violation rather than a value worth risking interleaved output for.
const bucketAtomicWriteLimit = 4096

// emitBucket appends text to one of NumFiles bucket files, picked as the
// leaf id modulo NumFiles rather than at random, opening, writing and closing fresh on every call so no worker goroutine
// ever holds a bucket file open across a choose() call or a fork.
func (e *Engine) emitBucket(text string, id int64) (string, error) {
	bucket := int(id % int64(e.Opts.NumFiles))
	name := fmt.Sprintf("%d.ll", bucket)
	path := filepath.Join(e.Opts.OutputDir, name)

	if len(text) > bucketAtomicWriteLimit {
		return "", e.Pool.Die(fmt.Sprintf("leaf %d exceeds atomic bucket-write limit (%d > %d bytes)", id, len(text), bucketAtomicWriteLimit))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("optfuzz: opening bucket file %s: %w", path, err)
	}
	defer f.Close()
	n, err := f.WriteString(text)
	if err != nil {
		return "", fmt.Errorf("optfuzz: writing bucket file %s: %w", path, err)
	}
	if n != len(text) {
		return "", e.Pool.Die(fmt.Sprintf("short write to bucket file %s (%d of %d bytes)", path, n, len(text)))
	}
	return path, nil
}

// emitChoicesSidecar records w's full decision path next to the leaf it
// produced, making the replay law directly exercisable from disk: feeding
// the sidecar's contents back as --fuzz --choices reproduces the leaf's
// function. The symbol name, which carries the leaf id, differs, and so
// does a --fewconsts random constant drawn under --fuzz.
func (e *Engine) emitChoicesSidecar(leafPath string, w *Worker) error {
	path := leafPath + fmt.Sprintf(".%d.choices", w.ID)
	return os.WriteFile(path, []byte(w.ChoicesString()+"\n"), 0644)
}
