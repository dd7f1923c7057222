package ir

import "fmt"

// Verify performs the structural checks this generator relies on: every
// block ends in exactly one terminator, every phi's incoming-edge count
// equals its block's predecessor count and every incoming predecessor is
// actually a predecessor of the block, phis occupy a contiguous prefix of
// their block, and every branch/condbr target is a block that belongs to
// the function.
func (f *Function) Verify() error {
	blockSet := make(map[*Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		blockSet[b] = true
	}

	for _, b := range f.Blocks {
		if len(b.Instrs) == 0 {
			return fmt.Errorf("block %s has no instructions", b.Name)
		}
		seenNonPhi := false
		for i, instr := range b.Instrs {
			if IsPhi(instr) {
				if seenNonPhi {
					return fmt.Errorf("block %s: phi after non-phi instruction", b.Name)
				}
				continue
			}
			if !IsTerminator(instr) {
				seenNonPhi = true
				continue
			}
			if i != len(b.Instrs)-1 {
				return fmt.Errorf("block %s: terminator not in final position", b.Name)
			}
			switch t := instr.(type) {
			case *Br:
				if !blockSet[t.Target] {
					return fmt.Errorf("block %s: br target not in function", b.Name)
				}
			case *CondBr:
				if !blockSet[t.True] || !blockSet[t.False] {
					return fmt.Errorf("block %s: condbr target not in function", b.Name)
				}
			}
		}
		term := b.Terminator()
		if term == nil {
			return fmt.Errorf("block %s has no terminator", b.Name)
		}
		for _, instr := range b.Instrs {
			phi, ok := instr.(*Phi)
			if !ok {
				continue
			}
			if len(phi.Incoming) != len(b.Preds) {
				return fmt.Errorf("block %s: phi %s has %d incoming values, want %d (one per predecessor)",
					b.Name, phi.name(), len(phi.Incoming), len(b.Preds))
			}
			predSet := make(map[*Block]bool, len(b.Preds))
			for _, p := range b.Preds {
				predSet[p] = true
			}
			for _, e := range phi.Incoming {
				if !predSet[e.Pred] {
					return fmt.Errorf("block %s: phi %s has incoming edge from non-predecessor %s", b.Name, phi.name(), e.Pred.Name)
				}
			}
		}
	}

	if len(f.Blocks) == 0 {
		return fmt.Errorf("function %s has no blocks", f.Name)
	}
	for i, b := range f.Blocks {
		if i == 0 {
			continue
		}
		if len(b.Preds) == 0 {
			return fmt.Errorf("function %s: unreachable block %s", f.Name, b.Name)
		}
	}
	return nil
}
