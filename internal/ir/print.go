package ir

import (
	"fmt"
	"strings"
)

// Print renders f as deterministic text for debug output and golden
// tests. The layout is stable: blocks in ID order, one instruction per
// line.
func Print(f *Func) string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "func sig=%d params=%d locals=%d\n", f.Sig, f.NumParams, len(f.Locals))
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		fmt.Fprintf(&b, "bb%d", bb.ID)
		if len(bb.Params) > 0 {
			b.WriteByte('(')
			for j, p := range bb.Params {
				if j > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "v%d: %s", p, f.ValueType(p))
			}
			b.WriteByte(')')
		}
		b.WriteString(":\n")
		for j := range bb.Instrs {
			b.WriteString("  ")
			b.WriteString(printInstr(&bb.Instrs[j]))
			b.WriteByte('\n')
		}
		b.WriteString("  ")
		b.WriteString(printTerm(&bb.Term))
		b.WriteByte('\n')
	}
	return b.String()
}

var binNames = [...]string{
	BinAdd: "add", BinSub: "sub", BinMul: "mul",
	BinDivS: "div_s", BinDivU: "div_u", BinRemS: "rem_s", BinRemU: "rem_u",
	BinAnd: "and", BinOr: "or", BinXor: "xor",
	BinShl: "shl", BinShrS: "shr_s", BinShrU: "shr_u",
	BinRotl: "rotl", BinRotr: "rotr",
	BinDiv: "div", BinMin: "min", BinMax: "max", BinCopysign: "copysign",
}

var unNames = [...]string{
	UnClz: "clz", UnCtz: "ctz", UnPopcnt: "popcnt", UnEqz: "eqz",
	UnAbs: "abs", UnNeg: "neg", UnCeil: "ceil", UnFloor: "floor",
	UnTrunc: "trunc", UnNearest: "nearest", UnSqrt: "sqrt",
}

var cmpNames = [...]string{
	CmpEq: "eq", CmpNe: "ne",
	CmpLtS: "lt_s", CmpLtU: "lt_u", CmpGtS: "gt_s", CmpGtU: "gt_u",
	CmpLeS: "le_s", CmpLeU: "le_u", CmpGeS: "ge_s", CmpGeU: "ge_u",
	CmpFLt: "flt", CmpFGt: "fgt", CmpFLe: "fle", CmpFGe: "fge",
}

func printInstr(ins *Instr) string {
	switch ins.Kind {
	case InstrConst:
		return fmt.Sprintf("v%d = %s.const %#x", ins.Const.Result, ins.Const.Type, ins.Const.Bits)
	case InstrBin:
		return fmt.Sprintf("v%d = %s.%s v%d, v%d", ins.Bin.Result, ins.Bin.Type, binNames[ins.Bin.Op], ins.Bin.X, ins.Bin.Y)
	case InstrUn:
		return fmt.Sprintf("v%d = %s.%s v%d", ins.Un.Result, ins.Un.Type, unNames[ins.Un.Op], ins.Un.X)
	case InstrCmp:
		return fmt.Sprintf("v%d = %s.%s v%d, v%d", ins.Cmp.Result, ins.Cmp.Type, cmpNames[ins.Cmp.Op], ins.Cmp.X, ins.Cmp.Y)
	case InstrConv:
		return fmt.Sprintf("v%d = conv#%d v%d", ins.Conv.Result, ins.Conv.Op, ins.Conv.X)
	case InstrSelect:
		return fmt.Sprintf("v%d = select v%d, v%d, v%d", ins.Select.Result, ins.Select.Cond, ins.Select.X, ins.Select.Y)
	case InstrLocalGet:
		return fmt.Sprintf("v%d = local.get %d", ins.LocalGet.Result, ins.LocalGet.Local)
	case InstrLocalSet:
		return fmt.Sprintf("local.set %d, v%d", ins.LocalSet.Local, ins.LocalSet.Value)
	case InstrGlobalGet:
		return fmt.Sprintf("v%d = global.get %d", ins.GlobalGet.Result, ins.GlobalGet.Global)
	case InstrGlobalSet:
		return fmt.Sprintf("global.set %d, v%d", ins.GlobalSet.Global, ins.GlobalSet.Value)
	case InstrLoad:
		return fmt.Sprintf("v%d = load.%s w%d off=%d v%d checked=%t",
			ins.Load.Result, ins.Load.Type, ins.Load.Width, ins.Load.Offset, ins.Load.Addr, ins.Load.Checked)
	case InstrStore:
		return fmt.Sprintf("store.%s w%d off=%d v%d, v%d checked=%t",
			ins.Store.Type, ins.Store.Width, ins.Store.Offset, ins.Store.Addr, ins.Store.Value, ins.Store.Checked)
	case InstrMemorySize:
		return fmt.Sprintf("v%d = memory.size %d", ins.MemorySize.Result, ins.MemorySize.Memory)
	case InstrMemoryGrow:
		return fmt.Sprintf("v%d = memory.grow %d, v%d", ins.MemoryGrow.Result, ins.MemoryGrow.Memory, ins.MemoryGrow.Delta)
	case InstrCall:
		return fmt.Sprintf("%s = call f%d%s", valueList(ins.Call.Results), ins.Call.Func, argList(ins.Call.Args))
	case InstrCallIndirect:
		return fmt.Sprintf("%s = call_indirect t%d sig=%d v%d%s",
			valueList(ins.CallIndirect.Results), ins.CallIndirect.Table, ins.CallIndirect.Sig,
			ins.CallIndirect.Index, argList(ins.CallIndirect.Args))
	case InstrTrapIf:
		return fmt.Sprintf("trap_if v%d, %q", ins.TrapIf.Cond, ins.TrapIf.Reason.String())
	default:
		return "instr(unknown)"
	}
}

func printTerm(t *Terminator) string {
	switch t.Kind {
	case TermReturn:
		return "return" + argList(t.Return.Values)
	case TermBr:
		return "br " + target(t.Br)
	case TermBrIf:
		return fmt.Sprintf("br_if v%d, %s, %s", t.BrIf.Cond, target(t.BrIf.Then), target(t.BrIf.Else))
	case TermBrTable:
		var parts []string
		for _, tg := range t.BrTable.Targets {
			parts = append(parts, target(tg))
		}
		return fmt.Sprintf("br_table v%d [%s] default %s",
			t.BrTable.Index, strings.Join(parts, ", "), target(t.BrTable.Default))
	case TermTrap:
		return fmt.Sprintf("trap %q", t.Trap.Reason.String())
	default:
		return "term(none)"
	}
}

func target(t BrTarget) string {
	return fmt.Sprintf("bb%d%s", t.Block, argList(t.Args))
}

func valueList(vs []ValueID) string {
	if len(vs) == 0 {
		return "()"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	return strings.Join(parts, ", ")
}

func argList(vs []ValueID) string {
	if len(vs) == 0 {
		return ""
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
