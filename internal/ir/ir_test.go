package ir

import "testing"

func buildStraightLine(t *testing.T) *Function {
	t.Helper()
	fn := NewFunction("f", []int{4, 4}, 4)
	b := NewBuilder(fn)
	sum := b.CreateBinOp(Add, fn.Args[0], fn.Args[1], false, false, false)
	b.CreateRet(sum)
	return fn
}

func TestStraightLineVerifies(t *testing.T) {
	fn := buildStraightLine(t)
	if err := fn.Verify(); err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
}

func TestPrintIncludesOperands(t *testing.T) {
	fn := buildStraightLine(t)
	m := &Module{Functions: []*Function{fn}}
	text := m.String()
	if text == "" {
		t.Fatal("expected non-empty output")
	}
	if want := "add i4 %a0, i4 %a1"; !contains(text, want) {
		t.Fatalf("expected printed IR to contain %q, got:\n%s", want, text)
	}
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	fn := NewFunction("f", []int{4}, 4)
	// no terminator appended: Blocks[0] has zero instructions.
	if err := fn.Verify(); err == nil {
		t.Fatal("expected verify to reject an empty block")
	}
}

func TestVerifyRejectsUnreachableBlock(t *testing.T) {
	fn := buildStraightLine(t)
	orphan := fn.NewBlock()
	b := NewBuilder(fn)
	b.SetInsertPoint(orphan)
	b.CreateRet(fn.Args[0])
	fn.AppendBlock(orphan)
	if err := fn.Verify(); err == nil {
		t.Fatal("expected verify to reject a block with no predecessors")
	}
}

func TestSplitBeforePreservesInstructionOrder(t *testing.T) {
	fn := NewFunction("f", []int{4, 4}, 4)
	b := NewBuilder(fn)
	a := b.CreateBinOp(Add, fn.Args[0], fn.Args[1], false, false, false)
	c := b.CreateBinOp(Sub, a, fn.Args[0], false, false, false)

	entry := fn.Blocks[0]
	tail := entry.SplitBefore(1, "tail")
	fn.AppendBlock(tail)

	if len(entry.Instrs) != 2 {
		t.Fatalf("expected entry to retain its first instruction plus the new branch, got %d", len(entry.Instrs))
	}
	if _, ok := entry.Terminator().(*Br); !ok {
		t.Fatalf("expected entry to end in an unconditional branch after split")
	}
	if len(tail.Instrs) != 1 || tail.Instrs[0] != c {
		t.Fatalf("expected tail to carry the second instruction forward")
	}
	if len(tail.Preds) != 1 || tail.Preds[0] != entry {
		t.Fatalf("expected tail's sole predecessor to be entry")
	}
}

func TestPhiIncomingMustMatchPredecessorCount(t *testing.T) {
	fn := NewFunction("f", []int{4, 4}, 4)
	b := NewBuilder(fn)
	entry := fn.Blocks[0]

	left := fn.NewBlock()
	right := fn.NewBlock()
	merge := fn.NewBlock()
	fn.AppendBlock(left)
	fn.AppendBlock(right)
	fn.AppendBlock(merge)

	b.SetInsertPoint(entry)
	b.CreateCondBr(fn.Args[0], left, right)
	left.Preds = []*Block{entry}
	right.Preds = []*Block{entry}
	merge.Preds = []*Block{left, right}

	b.SetInsertPoint(left)
	b.CreateBr(merge)
	b.SetInsertPoint(right)
	b.CreateBr(merge)

	b.SetInsertPoint(merge)
	phi := b.CreatePhi(4)
	phi.AddIncoming(left, fn.Args[0])
	b.CreateRet(phi)

	if err := fn.Verify(); err == nil {
		t.Fatal("expected verify to reject a phi with fewer incoming edges than predecessors")
	}

	phi.AddIncoming(right, fn.Args[1])
	if err := fn.Verify(); err != nil {
		t.Fatalf("unexpected verify error once phi is complete: %v", err)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
