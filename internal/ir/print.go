package ir

import (
	"fmt"
	"strings"
)

// String renders m as LLVM-flavored textual IR, one function per module.
func (m *Module) String() string {
	var b strings.Builder
	for i, fn := range m.Functions {
		if i > 0 {
			b.WriteString("\n")
		}
		fn.print(&b)
	}
	return b.String()
}

// Rename changes fn's printed symbol name without touching any internal
// value/block naming; used by the emitter to give each leaf a short, unique
// function symbol.
func (fn *Function) Rename(name string) { fn.Name = name }

func (fn *Function) print(b *strings.Builder) {
	fmt.Fprintf(b, "define %s @%s(", fn.RetTy.String(), fn.Name)
	for i, a := range fn.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s %s", a.Ty.String(), a.name())
	}
	b.WriteString(") {\n")
	for _, blk := range fn.Blocks {
		fmt.Fprintf(b, "%s:\n", blk.Name)
		for _, instr := range blk.Instrs {
			printInstr(b, instr)
		}
	}
	b.WriteString("}\n")
}

func operand(v Value) string {
	switch vv := v.(type) {
	case *Const:
		return fmt.Sprintf("%s %s", vv.Ty.String(), vv.String())
	case *Undef:
		return fmt.Sprintf("%s undef", vv.Ty.String())
	case *Arg:
		return fmt.Sprintf("%s %s", vv.Ty.String(), vv.name())
	default:
		return fmt.Sprintf("%s %s", v.Type().String(), v.name())
	}
}

func printInstr(b *strings.Builder, instr Instr) {
	switch v := instr.(type) {
	case *BinOp:
		flags := ""
		if v.NSW {
			flags += " nsw"
		}
		if v.NUW {
			flags += " nuw"
		}
		if v.Exact {
			flags += " exact"
		}
		fmt.Fprintf(b, "  %s = %s%s %s, %s\n", v.name(), v.Op.String(), flags, operand(v.LHS), operand(v.RHS))
	case *ICmp:
		fmt.Fprintf(b, "  %s = icmp %s %s, %s\n", v.name(), v.Pred.String(), operand(v.LHS), operand(v.RHS))
	case *Cast:
		fmt.Fprintf(b, "  %s = %s %s to %s\n", v.name(), v.Kind.String(), operand(v.Src), v.ty.String())
	case *Select:
		fmt.Fprintf(b, "  %s = select %s, %s, %s\n", v.name(), operand(v.Cond), operand(v.True), operand(v.False))
	case *Freeze:
		fmt.Fprintf(b, "  %s = freeze %s\n", v.name(), operand(v.Src))
	case *Intrinsic:
		args := make([]string, 0, len(v.Args)+1)
		for _, a := range v.Args {
			args = append(args, operand(a))
		}
		if v.HasImm {
			args = append(args, fmt.Sprintf("i1 %t", v.Imm))
		}
		fmt.Fprintf(b, "  %s = call %s @llvm.%s(%s)\n", v.name(), v.ty.String(), v.Kind.String(), strings.Join(args, ", "))
	case *WithOverflow:
		fmt.Fprintf(b, "  %s = call {%s, i1} @llvm.%s(%s, %s)\n", v.name(), v.NumTy.String(), v.Kind.String(), operand(v.LHS), operand(v.RHS))
	case *ExtractValue:
		fmt.Fprintf(b, "  %s = extractvalue %s %d\n", v.name(), v.Agg.name(), v.Index)
	case *Phi:
		parts := make([]string, 0, len(v.Incoming))
		for _, e := range v.Incoming {
			parts = append(parts, fmt.Sprintf("[ %s, %%%s ]", e.Val.name(), e.Pred.Name))
		}
		fmt.Fprintf(b, "  %s = phi %s %s\n", v.name(), v.ty.String(), strings.Join(parts, ", "))
	case *Br:
		fmt.Fprintf(b, "  br label %%%s\n", v.Target.Name)
	case *CondBr:
		fmt.Fprintf(b, "  br %s, label %%%s, label %%%s\n", operand(v.Cond), v.True.Name, v.False.Name)
	case *Ret:
		fmt.Fprintf(b, "  ret %s\n", operand(v.Val))
	}
}
