package ir

import "fmt"

// Block is a basic block: a sequence of instructions ending, once the
// function is well-formed, in exactly one terminator. Preds is maintained by
// whoever creates branches into this block; it is not computed lazily.
type Block struct {
	Name   string
	Instrs []Instr
	Preds  []*Block
}

// Terminator returns the block's terminator instruction, or nil if the block
// is not yet terminated.
func (b *Block) Terminator() Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if IsTerminator(last) {
		return last
	}
	return nil
}

// SplitBefore splits b so that everything from index i onward moves into a
// freshly created block; b keeps an unconditional branch to the new block.
// A terminator moved into the tail takes its edges with it: each of its
// successors has b replaced by the tail in its Preds (phi incoming edges
// are not relabeled). SplitBefore returns the new tail block.
func (b *Block) SplitBefore(i int, newName string) *Block {
	if i < 0 || i > len(b.Instrs) {
		i = len(b.Instrs)
	}
	tail := &Block{Name: newName, Instrs: append([]Instr{}, b.Instrs[i:]...), Preds: []*Block{b}}
	b.Instrs = append(b.Instrs[:i:i], &Br{Target: tail})
	var succs []*Block
	switch t := tail.Terminator().(type) {
	case *Br:
		succs = []*Block{t.Target}
	case *CondBr:
		succs = []*Block{t.True, t.False}
	}
	for _, s := range succs {
		for k, p := range s.Preds {
			if p == b {
				s.Preds[k] = tail
			}
		}
	}
	return tail
}

// NonTerminatorPositions returns (block, index) for every instruction in f
// that is not a terminator, skipping the very first instruction of the
// entry block (per the branch-retargeting rule: the entry point itself is
// never a valid split/branch target).
func (f *Function) NonTerminatorPositions() []BlockPos {
	var out []BlockPos
	for bi, b := range f.Blocks {
		for ii, instr := range b.Instrs {
			if bi == 0 && ii == 0 {
				continue
			}
			if IsTerminator(instr) {
				continue
			}
			out = append(out, BlockPos{Block: b, Index: ii})
		}
	}
	return out
}

// BlockPos names one instruction position within a function.
type BlockPos struct {
	Block *Block
	Index int
}

// Function is a single-function module unit: a fixed argument schedule, a
// return type, and a list of basic blocks rooted at Blocks[0].
type Function struct {
	Name    string
	Args    []*Arg
	RetTy   IntType
	Blocks  []*Block
	nextVal int
	nextBB  int
}

// NewFunction creates a function with the given name, argument widths and
// return width, and a single empty entry block.
func NewFunction(name string, argWidths []int, retBits int) *Function {
	f := &Function{Name: name, RetTy: IntType{Bits: retBits}}
	for i, w := range argWidths {
		f.Args = append(f.Args, &Arg{Ty: IntType{Bits: w}, Index: i})
	}
	f.Blocks = []*Block{f.NewBlock()}
	return f
}

// NewBlock allocates a fresh, unattached basic block with a unique name.
func (f *Function) NewBlock() *Block {
	b := &Block{Name: fmt.Sprintf("bb%d", f.nextBB)}
	f.nextBB++
	return b
}

// AppendBlock appends an already-created block to the function's block
// list (used once a speculative block becomes reachable).
func (f *Function) AppendBlock(b *Block) {
	f.Blocks = append(f.Blocks, b)
}

func (f *Function) nextValueID() int {
	id := f.nextVal
	f.nextVal++
	return id
}

// Predecessors returns b's recorded predecessor blocks in insertion order.
func (f *Function) Predecessors(b *Block) []*Block {
	return b.Preds
}

// Module is a flat list of functions; this generator only ever builds one
// function per module, but the type stays plural to match a real IR
// library's module/function split.
type Module struct {
	Functions []*Function
}

// AddFunction appends fn to m and returns it for chaining.
func (m *Module) AddFunction(fn *Function) *Function {
	m.Functions = append(m.Functions, fn)
	return fn
}
