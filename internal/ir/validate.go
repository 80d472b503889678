package ir

import (
	"errors"
	"fmt"

	"smelt/internal/wasm"
)

// Validate checks structural IR invariants: terminated blocks, in-range
// value and block references, and branch argument/parameter agreement.
// A violation means the translator is broken, not the input module.
func Validate(f *Func) error {
	if f == nil {
		return nil
	}
	var errs []error
	if err := validateBlocksTerminated(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateBranches(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateValues(f); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateBlocksTerminated(f *Func) error {
	var errs []error
	if f.Entry < 0 || int(f.Entry) >= len(f.Blocks) {
		errs = append(errs, fmt.Errorf("entry bb%d does not exist", f.Entry))
	}
	for i := range f.Blocks {
		if f.Blocks[i].Term.Kind == TermNone {
			errs = append(errs, fmt.Errorf("bb%d: unterminated block", i))
		}
	}
	return errors.Join(errs...)
}

func validateBranches(f *Func) error {
	var errs []error

	checkTarget := func(from int, t BrTarget) {
		if t.Block < 0 || int(t.Block) >= len(f.Blocks) {
			errs = append(errs, fmt.Errorf("bb%d: branch target bb%d does not exist", from, t.Block))
			return
		}
		dst := &f.Blocks[t.Block]
		if len(t.Args) != len(dst.Params) {
			errs = append(errs, fmt.Errorf("bb%d: branch to bb%d passes %d args for %d params",
				from, t.Block, len(t.Args), len(dst.Params)))
			return
		}
		for j, a := range t.Args {
			if !f.validValue(a) {
				errs = append(errs, fmt.Errorf("bb%d: branch arg %d references invalid value v%d", from, j, a))
				continue
			}
			if f.ValueType(a) != f.ValueType(dst.Params[j]) {
				errs = append(errs, fmt.Errorf("bb%d: branch to bb%d arg %d is %s, param is %s",
					from, t.Block, j, f.ValueType(a), f.ValueType(dst.Params[j])))
			}
		}
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		switch bb.Term.Kind {
		case TermBr:
			checkTarget(i, bb.Term.Br)
		case TermBrIf:
			if !f.validValue(bb.Term.BrIf.Cond) {
				errs = append(errs, fmt.Errorf("bb%d: br_if condition references invalid value", i))
			}
			checkTarget(i, bb.Term.BrIf.Then)
			checkTarget(i, bb.Term.BrIf.Else)
		case TermBrTable:
			if !f.validValue(bb.Term.BrTable.Index) {
				errs = append(errs, fmt.Errorf("bb%d: br_table index references invalid value", i))
			}
			for _, t := range bb.Term.BrTable.Targets {
				checkTarget(i, t)
			}
			checkTarget(i, bb.Term.BrTable.Default)
		case TermReturn:
			if len(bb.Term.Return.Values) != len(f.Results) {
				errs = append(errs, fmt.Errorf("bb%d: return carries %d values for %d results",
					i, len(bb.Term.Return.Values), len(f.Results)))
			}
		}
	}
	return errors.Join(errs...)
}

func validateValues(f *Func) error {
	var errs []error
	check := func(bb int, what string, vs ...ValueID) {
		for _, v := range vs {
			if !f.validValue(v) {
				errs = append(errs, fmt.Errorf("bb%d: %s references invalid value v%d", bb, what, v))
			}
		}
	}
	checkLocal := func(bb int, what string, l LocalID) {
		if l < 0 || int(l) >= len(f.Locals) {
			errs = append(errs, fmt.Errorf("bb%d: %s references invalid local %d", bb, what, l))
		}
	}

	for i := range f.Blocks {
		for j := range f.Blocks[i].Instrs {
			ins := &f.Blocks[i].Instrs[j]
			switch ins.Kind {
			case InstrConst:
				check(i, "const", ins.Const.Result)
			case InstrBin:
				check(i, "bin", ins.Bin.Result, ins.Bin.X, ins.Bin.Y)
			case InstrUn:
				check(i, "un", ins.Un.Result, ins.Un.X)
			case InstrCmp:
				check(i, "cmp", ins.Cmp.Result, ins.Cmp.X, ins.Cmp.Y)
			case InstrConv:
				check(i, "conv", ins.Conv.Result, ins.Conv.X)
			case InstrSelect:
				check(i, "select", ins.Select.Result, ins.Select.Cond, ins.Select.X, ins.Select.Y)
			case InstrLocalGet:
				check(i, "local.get", ins.LocalGet.Result)
				checkLocal(i, "local.get", ins.LocalGet.Local)
			case InstrLocalSet:
				check(i, "local.set", ins.LocalSet.Value)
				checkLocal(i, "local.set", ins.LocalSet.Local)
			case InstrGlobalGet:
				check(i, "global.get", ins.GlobalGet.Result)
			case InstrGlobalSet:
				check(i, "global.set", ins.GlobalSet.Value)
			case InstrLoad:
				check(i, "load", ins.Load.Result, ins.Load.Addr)
				if !validAccessWidth(ins.Load.Width, ins.Load.Type) {
					errs = append(errs, fmt.Errorf("bb%d: load width %d invalid for %s", i, ins.Load.Width, ins.Load.Type))
				}
			case InstrStore:
				check(i, "store", ins.Store.Addr, ins.Store.Value)
				if !validAccessWidth(ins.Store.Width, ins.Store.Type) {
					errs = append(errs, fmt.Errorf("bb%d: store width %d invalid for %s", i, ins.Store.Width, ins.Store.Type))
				}
			case InstrMemorySize:
				check(i, "memory.size", ins.MemorySize.Result)
			case InstrMemoryGrow:
				check(i, "memory.grow", ins.MemoryGrow.Result, ins.MemoryGrow.Delta)
			case InstrCall:
				check(i, "call args", ins.Call.Args...)
				check(i, "call results", ins.Call.Results...)
			case InstrCallIndirect:
				check(i, "call_indirect index", ins.CallIndirect.Index)
				check(i, "call_indirect args", ins.CallIndirect.Args...)
				check(i, "call_indirect results", ins.CallIndirect.Results...)
			case InstrTrapIf:
				check(i, "trap_if", ins.TrapIf.Cond)
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Func) validValue(v ValueID) bool {
	return v >= 0 && int(v) < len(f.Values)
}

func validAccessWidth(w uint8, t wasm.ValueType) bool {
	switch t {
	case wasm.I32, wasm.F32:
		return w == 1 || w == 2 || w == 4
	case wasm.I64, wasm.F64:
		return w == 1 || w == 2 || w == 4 || w == 8
	default:
		return false
	}
}
