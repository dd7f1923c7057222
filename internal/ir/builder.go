package ir

// Builder is a cursor-based instruction builder: all Create* methods append
// to the block the cursor currently points at.
type Builder struct {
	F    *Function
	Cur  *Block
}

// NewBuilder returns a builder positioned at fn's entry block.
func NewBuilder(fn *Function) *Builder {
	return &Builder{F: fn, Cur: fn.Blocks[0]}
}

// SetInsertPoint repositions the cursor.
func (b *Builder) SetInsertPoint(block *Block) { b.Cur = block }

func (b *Builder) append(i Instr) { b.Cur.Instrs = append(b.Cur.Instrs, i) }

// ConstInt creates an integer literal of the given width. Values outside the
// representable range are masked by Const.String at print time.
func (b *Builder) ConstInt(width int, v int64) *Const {
	return &Const{Ty: IntType{Bits: width}, Val: v}
}

// UndefOf creates the undef value of the given width.
func (b *Builder) UndefOf(width int) *Undef {
	return &Undef{Ty: IntType{Bits: width}}
}

// CreateBinOp appends a binary instruction and returns its result value.
func (b *Builder) CreateBinOp(op BinOpKind, lhs, rhs Value, nsw, nuw, exact bool) *BinOp {
	v := &BinOp{valueInstr: valueInstr{id: b.F.nextValueID(), ty: lhs.Type()}, Op: op, LHS: lhs, RHS: rhs, NSW: nsw, NUW: nuw, Exact: exact}
	b.append(v)
	return v
}

// CreateICmp appends an icmp instruction; the result is always i1.
func (b *Builder) CreateICmp(pred Predicate, lhs, rhs Value) *ICmp {
	v := &ICmp{valueInstr: valueInstr{id: b.F.nextValueID(), ty: IntType{Bits: 1}}, Pred: pred, LHS: lhs, RHS: rhs}
	b.append(v)
	return v
}

// CreateCast appends a trunc/zext/sext instruction targeting the given width.
func (b *Builder) CreateCast(kind CastKind, src Value, toWidth int) *Cast {
	v := &Cast{valueInstr: valueInstr{id: b.F.nextValueID(), ty: IntType{Bits: toWidth}}, Kind: kind, Src: src}
	b.append(v)
	return v
}

// CreateSelect appends a select instruction.
func (b *Builder) CreateSelect(cond, t, f Value) *Select {
	v := &Select{valueInstr: valueInstr{id: b.F.nextValueID(), ty: t.Type()}, Cond: cond, True: t, False: f}
	b.append(v)
	return v
}

// CreateFreeze appends a freeze instruction.
func (b *Builder) CreateFreeze(src Value) *Freeze {
	v := &Freeze{valueInstr: valueInstr{id: b.F.nextValueID(), ty: src.Type()}, Src: src}
	b.append(v)
	return v
}

// CreateIntrinsic appends a single-result bit/sat/minmax intrinsic.
func (b *Builder) CreateIntrinsic(kind IntrinsicKind, resultWidth int, args []Value, imm bool, hasImm bool) *Intrinsic {
	v := &Intrinsic{valueInstr: valueInstr{id: b.F.nextValueID(), ty: IntType{Bits: resultWidth}}, Kind: kind, Args: args, Imm: imm, HasImm: hasImm}
	b.append(v)
	return v
}

// CreateWithOverflow appends a with-overflow intrinsic call and returns both
// logical results via ExtractValue instructions.
func (b *Builder) CreateWithOverflow(kind IntrinsicKind, lhs, rhs Value) (num *ExtractValue, overflow *ExtractValue) {
	wo := &WithOverflow{id: b.F.nextValueID(), Kind: kind, LHS: lhs, RHS: rhs, NumTy: lhs.Type()}
	b.append(wo)
	num = &ExtractValue{valueInstr: valueInstr{id: b.F.nextValueID(), ty: lhs.Type()}, Agg: wo, Index: 0}
	overflow = &ExtractValue{valueInstr: valueInstr{id: b.F.nextValueID(), ty: IntType{Bits: 1}}, Agg: wo, Index: 1}
	b.append(num)
	b.append(overflow)
	return num, overflow
}

// CreatePhi appends an empty phi of the given width; incoming edges are
// filled in later by the CFG fix-up pass.
func (b *Builder) CreatePhi(width int) *Phi {
	v := &Phi{valueInstr: valueInstr{id: b.F.nextValueID(), ty: IntType{Bits: width}}}
	b.append(v)
	return v
}

// CreateBr appends an unconditional branch to a sentinel/placeholder target.
// The target is retargeted later by the CFG fix-up pass.
func (b *Builder) CreateBr(target *Block) *Br {
	v := &Br{Target: target}
	b.append(v)
	return v
}

// CreateCondBr appends a conditional branch to two sentinel/placeholder
// targets.
func (b *Builder) CreateCondBr(cond Value, t, f *Block) *CondBr {
	v := &CondBr{Cond: cond, True: t, False: f}
	b.append(v)
	return v
}

// CreateRet appends a return terminator.
func (b *Builder) CreateRet(v Value) *Ret {
	r := &Ret{Val: v}
	b.append(r)
	return r
}
