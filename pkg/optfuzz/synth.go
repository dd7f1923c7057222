package optfuzz

import (
	"github.com/regehr/opt-fuzz/internal/ir"
)

// synthesis carries the mutable state one leaf's straight-line value
// synthesis needs: the function/builder under construction, the running
// instruction budget, per-argument usage tracking for the at-most-one-
// unused-argument rule, and the pool of already-produced values available
// for reuse at each width.
type synthesis struct {
	eng  *Engine
	w    *Worker
	opts Options

	fn *ir.Function
	b  *ir.Builder

	budget int
	used   []bool

	valsByWidth map[int][]ir.Value
	// widthOrder lists every width seen so far in first-seen order. Map
	// iteration order is randomized, so anything that feeds a choose() call
	// must walk this instead of ranging over valsByWidth directly, or the
	// same Choices sequence would pick a different width across runs.
	widthOrder []int

	icmps  int
	binops int

	// N is the instruction budget this leaf started with; the branch
	// alternative in genVal is only offered once budget has moved off N,
	// i.e. everywhere except the very first (root) call.
	N int

	// branches collects every speculative branch created by genBranch, for
	// fixupCFG's retargeting pass. phis collects every phi created by
	// genPhi, for fixupCFG's prefix-normalization and operand-wiring passes.
	// continuations collects every block genBranch opened to hold the value
	// it still had to produce after the branch — retargetBranches offers
	// these directly as targets, since nothing else would ever give them a
	// predecessor.
	branches      []branchSite
	phis          []*ir.Phi
	continuations []*ir.Block

	// retVal is the function's single return value, as produced by genRoot.
	retVal ir.Value
}

func newSynthesis(e *Engine, w *Worker) *synthesis {
	widths := argWidths(e.Opts)
	retBits := e.Opts.Width
	if e.Opts.GenI1 {
		retBits = 1
	}
	fn := ir.NewFunction(e.Opts.Base, widths, retBits)
	s := &synthesis{
		eng:         e,
		w:           w,
		opts:        e.Opts,
		fn:          fn,
		b:           ir.NewBuilder(fn),
		budget:      e.Opts.NumInsns,
		N:           e.Opts.NumInsns,
		used:        make([]bool, len(widths)),
		valsByWidth: make(map[int][]ir.Value),
	}
	for _, a := range fn.Args {
		s.record(a)
	}
	return s
}

func (s *synthesis) choose(n int) (int, error) {
	return s.eng.Choose(s.w, n)
}

// record makes v available for the existing-value-reuse alternative at its
// own width.
func (s *synthesis) record(v ir.Value) {
	w := v.Type().Bits
	if _, seen := s.valsByWidth[w]; !seen {
		s.widthOrder = append(s.widthOrder, w)
	}
	s.valsByWidth[w] = append(s.valsByWidth[w], v)
}

// genRoot synthesizes the function's single return value, at GenI1's width
// when set, otherwise at the configured base width.
func (s *synthesis) genRoot() (ir.Value, error) {
	width := s.opts.Width
	if s.opts.GenI1 {
		width = 1
	}
	v, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	s.retVal = v
	return v, nil
}

// alt is one candidate production for genVal: a thunk building the value,
// consuming Choices tokens of its own as needed.
type alt func() (ir.Value, error)

// genVal is the choice-driven value synthesizer: it builds the list of
// currently-applicable alternatives for a value of the given width and lets
// the choice oracle pick among them. constOK/argOK gate whether a bare
// constant or bare argument may be chosen here at all, implementing the
// left-operand constant-avoidance rule from the caller's side.
func (s *synthesis) genVal(width int, constOK, argOK bool) (ir.Value, error) {
	var alts []alt

	// Arguments are only reusable once referenced; an unused argument is
	// offered solely through argAlts.
	var vs []ir.Value
	for _, v := range s.valsByWidth[width] {
		if a, ok := v.(*ir.Arg); ok && !s.used[a.Index] {
			continue
		}
		vs = append(vs, v)
	}
	if len(vs) > 0 {
		alts = append(alts, func() (ir.Value, error) {
			i, err := s.choose(len(vs))
			if err != nil {
				return nil, err
			}
			return vs[i], nil
		})
	}

	if argOK {
		alts = append(alts, s.argAlts(width)...)
	}

	if constOK {
		alts = append(alts, func() (ir.Value, error) { return s.genConst(width) })
	}

	if constOK && s.opts.GenerateUndef {
		alts = append(alts, func() (ir.Value, error) { return s.b.UndefOf(width), nil })
	}

	if s.budget > 0 {
		alts = append(alts, s.constructiveAlts(width, constOK, argOK)...)
	}

	if len(alts) == 0 {
		return nil, errDiscarded
	}

	i, err := s.choose(len(alts))
	if err != nil {
		return nil, err
	}
	v, err := alts[i]()
	if err != nil {
		return nil, err
	}
	if a, ok := v.(*ir.Arg); ok {
		s.used[a.Index] = true
	}
	s.record(v)
	return v, nil
}

// argAlts lists the function-argument alternatives offered for a value of
// the given width: every already-used argument of that width, plus at most
// one not-yet-used argument of that width. Restricting to a single
// not-yet-used candidate per width is what keeps "which of several
// same-width arguments is still unreferenced" from multiplying the choice
// tree — two leaves differing only in that respect would otherwise be
// duplicates up to argument rename.
func (s *synthesis) argAlts(width int) []alt {
	var alts []alt
	unusedOffered := false
	for i, a := range s.fn.Args {
		if a.Ty.Bits != width {
			continue
		}
		idx := i
		if !s.used[idx] {
			if unusedOffered {
				continue
			}
			unusedOffered = true
		}
		alts = append(alts, func() (ir.Value, error) {
			return s.fn.Args[idx], nil
		})
	}
	return alts
}

// constructiveAlts lists every instruction-producing alternative applicable
// at width given the run's feature flags, in the order this system's value
// generator tries them.
func (s *synthesis) constructiveAlts(width int, constOK, argOK bool) []alt {
	var alts []alt

	if s.opts.Branches {
		alts = append(alts, func() (ir.Value, error) { return s.genPhi(width) })
		// The branch alternative is withheld at budget == N: that is only
		// true on the very first (root) call into genVal, before anything
		// has spent budget yet.
		if s.budget != s.N {
			alts = append(alts, func() (ir.Value, error) { return s.genBranch(width, constOK, argOK) })
		}
	}

	if s.opts.GenerateFreeze {
		alts = append(alts, func() (ir.Value, error) { return s.genFreeze(width) })
	}

	if width == 1 {
		alts = append(alts, func() (ir.Value, error) { return s.genICmp() })
	}

	if !s.opts.OneBinop || s.binops == 0 {
		alts = append(alts, func() (ir.Value, error) { return s.genBinOp(width) })
	}

	alts = append(alts, func() (ir.Value, error) { return s.genSelect(width) })
	alts = append(alts, func() (ir.Value, error) { return s.genCast(width) })

	if s.opts.UseIntrinsics {
		alts = append(alts, func() (ir.Value, error) { return s.genBitIntrinsic(width) })
		alts = append(alts, func() (ir.Value, error) { return s.genSatOrMinMax(width) })
		alts = append(alts, func() (ir.Value, error) { return s.genFunnelShift(width) })
		if width == s.opts.Width {
			alts = append(alts, func() (ir.Value, error) { return s.genWithOverflow(width) })
		}
	}

	return alts
}

func (s *synthesis) spendOneInsn() {
	s.budget--
}

// operandWidths lists the widths this leaf has any value for, used to pick
// a source width for a cast or an operand width for an icmp.
func (s *synthesis) operandWidths() []int {
	seen := map[int]bool{}
	var out []int
	add := func(w int) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	add(s.opts.Width)
	add(1)
	for _, w := range s.widthOrder {
		add(w)
	}
	return out
}

func (s *synthesis) genConst(width int) (ir.Value, error) {
	if !s.opts.FewConsts && width <= 20 {
		n := 1 << width
		v, err := s.choose(n)
		if err != nil {
			return nil, err
		}
		return s.b.ConstInt(width, int64(v)), nil
	}
	picks := []int64{0, 1, -1}
	i, err := s.choose(len(picks) + 1)
	if err != nil {
		return nil, err
	}
	if i < len(picks) {
		return s.b.ConstInt(width, picks[i]), nil
	}
	var v int64
	if s.w.rng != nil {
		v = s.w.rng.int63()
	}
	return s.b.ConstInt(width, v), nil
}

// genPhi creates an empty phi node. Its incoming edges are left unset here;
// fixupCFG wires one incoming value per real predecessor once the phi's
// block actually has predecessors.
func (s *synthesis) genPhi(width int) (ir.Value, error) {
	s.spendOneInsn()
	phi := s.b.CreatePhi(width)
	s.phis = append(s.phis, phi)
	return phi, nil
}

// genBranch creates a speculative branch to the function's entry block (the
// sentinel fixupCFG retargets later), opens a fresh block, and recurses
// there for the value this call actually needs to produce — the branch
// itself is pure side effect as far as this call's return value goes.
func (s *synthesis) genBranch(width int, constOK, argOK bool) (ir.Value, error) {
	s.spendOneInsn()
	sentinel := s.fn.Blocks[0]

	kind, err := s.choose(2)
	if err != nil {
		return nil, err
	}
	if kind == 0 {
		br := s.b.CreateBr(sentinel)
		s.branches = append(s.branches, branchSite{br: br})
	} else {
		cond, err := s.genVal(1, true, true)
		if err != nil {
			return nil, err
		}
		condBr := s.b.CreateCondBr(cond, sentinel, sentinel)
		s.branches = append(s.branches, branchSite{condBr: condBr})
	}

	blk := s.fn.NewBlock()
	s.fn.AppendBlock(blk)
	s.continuations = append(s.continuations, blk)
	s.b.SetInsertPoint(blk)

	return s.genVal(width, constOK, argOK)
}

func (s *synthesis) genFreeze(width int) (ir.Value, error) {
	s.spendOneInsn()
	src, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	return s.b.CreateFreeze(src), nil
}

func (s *synthesis) genICmp() (ir.Value, error) {
	s.spendOneInsn()
	widths := s.operandWidths()
	wi, err := s.choose(len(widths))
	if err != nil {
		return nil, err
	}
	opw := widths[wi]

	preds := ir.AllPredicates
	if s.opts.OneICmp {
		preds = []ir.Predicate{ir.EQ}
	}
	pi, err := s.choose(len(preds))
	if err != nil {
		return nil, err
	}

	lhs, err := s.genVal(opw, false, true)
	if err != nil {
		return nil, err
	}
	rhs, err := s.genVal(opw, true, true)
	if err != nil {
		return nil, err
	}
	s.icmps++
	return s.b.CreateICmp(preds[pi], lhs, rhs), nil
}

func (s *synthesis) genBinOp(width int) (ir.Value, error) {
	s.spendOneInsn()
	ops := ir.AllBinOps
	if s.opts.OneBinop {
		ops = []ir.BinOpKind{ir.Add}
	}
	oi, err := s.choose(len(ops))
	if err != nil {
		return nil, err
	}
	op := ops[oi]

	lhs, err := s.genVal(width, false, true)
	if err != nil {
		return nil, err
	}
	rhs, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}

	var nsw, nuw, exact bool
	if !s.opts.NoUB {
		switch op {
		case ir.Add, ir.Sub, ir.Mul, ir.Shl:
			c, err := s.choose(4)
			if err != nil {
				return nil, err
			}
			nsw = c == 1 || c == 3
			nuw = c == 2 || c == 3
		case ir.LShr, ir.AShr, ir.UDiv, ir.SDiv:
			c, err := s.choose(2)
			if err != nil {
				return nil, err
			}
			exact = c == 1
		}
	}
	s.binops++
	return s.b.CreateBinOp(op, lhs, rhs, nsw, nuw, exact), nil
}

func (s *synthesis) genSelect(width int) (ir.Value, error) {
	s.spendOneInsn()
	cond, err := s.genVal(1, true, true)
	if err != nil {
		return nil, err
	}
	t, err := s.genVal(width, false, true)
	if err != nil {
		return nil, err
	}
	f, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	return s.b.CreateSelect(cond, t, f), nil
}

func (s *synthesis) genCast(width int) (ir.Value, error) {
	widths := s.operandWidths()
	var candidates []int
	for _, w := range widths {
		if w != width {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		candidates = []int{width}
	}
	s.spendOneInsn()
	ci, err := s.choose(len(candidates))
	if err != nil {
		return nil, err
	}
	srcWidth := candidates[ci]
	src, err := s.genVal(srcWidth, true, true)
	if err != nil {
		return nil, err
	}

	if srcWidth > width {
		return s.b.CreateCast(ir.Trunc, src, width), nil
	}
	if srcWidth == width {
		return src, nil
	}
	k, err := s.choose(2)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		return s.b.CreateCast(ir.ZExt, src, width), nil
	}
	return s.b.CreateCast(ir.SExt, src, width), nil
}

var bitIntrinsics = []ir.IntrinsicKind{ir.Ctpop, ir.Bitreverse, ir.Bswap, ir.Ctlz, ir.Cttz, ir.Abs}
var hasImmIntrinsic = map[ir.IntrinsicKind]bool{ir.Ctlz: true, ir.Cttz: true, ir.Abs: true}

func (s *synthesis) genBitIntrinsic(width int) (ir.Value, error) {
	s.spendOneInsn()
	ki, err := s.choose(len(bitIntrinsics))
	if err != nil {
		return nil, err
	}
	kind := bitIntrinsics[ki]
	arg, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	hasImm := hasImmIntrinsic[kind]
	imm := false
	if hasImm {
		c, err := s.choose(2)
		if err != nil {
			return nil, err
		}
		imm = c == 1
	}
	return s.b.CreateIntrinsic(kind, width, []ir.Value{arg}, imm, hasImm), nil
}

var satMinMaxIntrinsics = []ir.IntrinsicKind{
	ir.UAddSat, ir.SAddSat, ir.USubSat, ir.SSubSat, ir.SMax, ir.SMin, ir.UMax, ir.UMin,
}

func (s *synthesis) genSatOrMinMax(width int) (ir.Value, error) {
	s.spendOneInsn()
	ki, err := s.choose(len(satMinMaxIntrinsics))
	if err != nil {
		return nil, err
	}
	kind := satMinMaxIntrinsics[ki]
	lhs, err := s.genVal(width, false, true)
	if err != nil {
		return nil, err
	}
	rhs, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	return s.b.CreateIntrinsic(kind, width, []ir.Value{lhs, rhs}, false, false), nil
}

func (s *synthesis) genFunnelShift(width int) (ir.Value, error) {
	s.spendOneInsn()
	c, err := s.choose(2)
	if err != nil {
		return nil, err
	}
	kind := ir.Fshl
	if c == 1 {
		kind = ir.Fshr
	}
	hi, err := s.genVal(width, false, true)
	if err != nil {
		return nil, err
	}
	lo, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	shift, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	return s.b.CreateIntrinsic(kind, width, []ir.Value{hi, lo, shift}, false, false), nil
}

var withOverflowIntrinsics = []ir.IntrinsicKind{
	ir.UAddWithOverflow, ir.SAddWithOverflow, ir.USubWithOverflow, ir.SSubWithOverflow,
	ir.UMulWithOverflow, ir.SMulWithOverflow,
}

// genWithOverflow builds a with-overflow pair on two operands of the
// requested width and returns its numeric result. It is offered only at the
// base width and never returns the overflow bit; the overflow bit is recorded
// as an existing i1 value, which later genVal(1, ...) calls can pick through
// the reuse alternative.
func (s *synthesis) genWithOverflow(width int) (ir.Value, error) {
	s.spendOneInsn()
	ki, err := s.choose(len(withOverflowIntrinsics))
	if err != nil {
		return nil, err
	}
	kind := withOverflowIntrinsics[ki]
	lhs, err := s.genVal(width, false, true)
	if err != nil {
		return nil, err
	}
	rhs, err := s.genVal(width, true, true)
	if err != nil {
		return nil, err
	}
	num, overflow := s.b.CreateWithOverflow(kind, lhs, rhs)
	s.record(overflow)
	return num, nil
}
