package optfuzz

import "github.com/regehr/opt-fuzz/internal/ir"

// branchSite pairs a speculative branch with its retargeting state. Exactly
// one of br/condBr is set, matching whichever genBranch created: both still
// point at the function's entry block (the sentinel) until retargetBranches
// runs.
type branchSite struct {
	br     *ir.Br
	condBr *ir.CondBr
}

// fixupCFG canonicalizes the branch-polluted skeleton genRoot just built
// into a legal CFG: retarget every speculative branch onto a real
// instruction position, normalize every block so its phis occupy a
// contiguous prefix, wire every phi's incoming edges from its block's real
// predecessors, then discard the leaf if any non-entry block is left
// unreachable. Run only after the function's exit block already has its ret.
func fixupCFG(s *synthesis) error {
	if err := s.retargetBranches(); err != nil {
		return err
	}
	s.normalizePhiPrefixes()
	if err := s.wirePhiOperands(); err != nil {
		return err
	}
	if s.hasUnreachableBlock() {
		return errDiscarded
	}
	return nil
}

// retargetBranches picks a real successor for every speculative branch.
// Conditional branches pick two independent targets.
func (s *synthesis) retargetBranches() error {
	for _, site := range s.branches {
		target, err := s.chooseTarget()
		if err != nil {
			return err
		}
		if site.br != nil {
			head := containingBlock(s.fn, site.br)
			site.br.Target = target
			target.Preds = append(target.Preds, head)
			continue
		}

		head := containingBlock(s.fn, site.condBr)
		site.condBr.True = target
		target.Preds = append(target.Preds, head)

		target2, err := s.chooseTarget()
		if err != nil {
			return err
		}
		head2 := containingBlock(s.fn, site.condBr)
		site.condBr.False = target2
		target2.Preds = append(target2.Preds, head2)
	}
	return nil
}

// chooseTarget picks a retargeting destination: either one of genBranch's
// continuation blocks directly, or a fresh tail
// split off one of the function's non-terminator instruction positions.
// Continuation blocks must be offered directly rather than only reachable
// by happening to split inside them — splitting always hands the tail (a
// brand new block) the instructions and leaves the original block behind
// as a forwarding stub, so the original block itself would otherwise never
// acquire a predecessor and fixupCFG's unreachable-block check would
// always discard the leaf. Each call re-collects positions since earlier
// splits (by this or an earlier branch) change the candidate set.
func (s *synthesis) chooseTarget() (*ir.Block, error) {
	positions := s.fn.NonTerminatorPositions()
	total := len(s.continuations) + len(positions)
	if total == 0 {
		return nil, errDiscarded
	}
	i, err := s.choose(total)
	if err != nil {
		return nil, err
	}
	if i < len(s.continuations) {
		return s.continuations[i], nil
	}
	pos := positions[i-len(s.continuations)]
	tail := pos.Block.SplitBefore(pos.Index, s.freshBlockName())
	s.fn.AppendBlock(tail)
	return tail, nil
}

// freshBlockName borrows Function's block-id counter for a name without
// attaching the throwaway Block it comes with.
func (s *synthesis) freshBlockName() string {
	return s.fn.NewBlock().Name
}

// containingBlock finds the block that currently holds term as its
// terminator. A branch instruction's containing block can change under
// splitting performed while retargeting an earlier branch, so callers
// re-resolve this on every use instead of caching a block pointer.
func containingBlock(f *ir.Function, term ir.Instr) *ir.Block {
	for _, b := range f.Blocks {
		if n := len(b.Instrs); n > 0 && b.Instrs[n-1] == term {
			return b
		}
	}
	return nil
}

// normalizePhiPrefixes repeatedly splits the first block it finds with a
// phi following a non-phi instruction, until every block's phis occupy a
// contiguous prefix.
func (s *synthesis) normalizePhiPrefixes() {
	for s.splitOnePhiViolation() {
	}
}

func (s *synthesis) splitOnePhiViolation() bool {
	for _, b := range s.fn.Blocks {
		seenNonPhi := false
		for i, instr := range b.Instrs {
			if ir.IsPhi(instr) {
				if seenNonPhi {
					tail := b.SplitBefore(i, s.freshBlockName())
					s.fn.AppendBlock(tail)
					return true
				}
				continue
			}
			if !ir.IsTerminator(instr) {
				seenNonPhi = true
			}
		}
	}
	return false
}

// wirePhiOperands fills in one incoming value per predecessor for every phi
// created during synthesis. Each incoming value is synthesized at budget 0
// so fix-up never grows the function further; values may come from any
// already-recorded value, argument, or a fresh constant.
func (s *synthesis) wirePhiOperands() error {
	save := s.budget
	defer func() { s.budget = save }()

	for _, phi := range s.phis {
		block := blockOf(s.fn, phi)
		if block == nil {
			continue
		}
		for _, pred := range block.Preds {
			s.b.SetInsertPoint(pred)
			s.budget = 0
			v, err := s.genVal(phi.Type().Bits, true, true)
			if err != nil {
				return err
			}
			phi.AddIncoming(pred, v)
		}
	}
	return nil
}

// blockOf finds the block currently containing instr, wherever fix-up's
// splitting has relocated it.
func blockOf(f *ir.Function, instr ir.Instr) *ir.Block {
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i == instr {
				return b
			}
		}
	}
	return nil
}

// hasUnreachableBlock reports whether any non-entry block ended up with no
// predecessors after fix-up.
func (s *synthesis) hasUnreachableBlock() bool {
	for i, b := range s.fn.Blocks {
		if i == 0 {
			continue
		}
		if len(b.Preds) == 0 {
			return true
		}
	}
	return false
}
