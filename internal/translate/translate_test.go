package translate

import (
	"strings"
	"testing"

	"smelt/internal/ir"
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

type testEnv struct {
	mod  *wasm.Module
	sigs *sig.Registry
}

// newEnv builds a one-function module: the function under test has the
// given signature, plus one mutable i64 global, one memory and one
// funcref table so that global/memory/table operators have something to
// refer to.
func newEnv(t *testing.T, params, results []wasm.ValueType) testEnv {
	t.Helper()
	sigs := sig.NewRegistry()
	own := sigs.Intern(sig.Signature{Params: params, Results: results})
	aux := sigs.Intern(sig.Signature{Params: []wasm.ValueType{wasm.I32}, Results: []wasm.ValueType{wasm.I32}})

	mod, err := wasm.NewModule(wasm.ModuleDecl{
		Types:    []wasm.SigIndex{own, aux},
		FuncSigs: []wasm.SigIndex{own, aux},
		Globals: []wasm.GlobalInit{
			{Desc: wasm.GlobalDescriptor{Type: wasm.I64, Mutable: true}, Init: wasm.Initializer{Kind: wasm.InitConstI64}},
		},
		Memories: []wasm.MemoryDescriptor{{MinPages: 1}},
		Tables:   []wasm.TableDescriptor{{Elem: wasm.FuncRef, Min: 4}},
	})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	return testEnv{mod: mod, sigs: sigs}
}

func (e testEnv) translate(t *testing.T, body *wasm.FuncBody, opts Options) *ir.Func {
	t.Helper()
	f, err := Translate(0, body, e.mod, e.sigs, opts)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if err := ir.Validate(f); err != nil {
		t.Fatalf("Validate:\n%v\nIR:\n%s", err, ir.Print(f))
	}
	return f
}

func op(oc wasm.Opcode) wasm.Op            { return wasm.Op{Opcode: oc} }
func opA(oc wasm.Opcode, a uint32) wasm.Op { return wasm.Op{Opcode: oc, A: a} }
func constOp(oc wasm.Opcode, bits uint64) wasm.Op {
	return wasm.Op{Opcode: oc, Wide: bits}
}
func blockOp(oc wasm.Opcode, bt wasm.BlockType) wasm.Op {
	return wasm.Op{Opcode: oc, Block: bt}
}

// body assembles an operator stream, appending the end that closes the
// function frame the way the decoder emits it.
func body(ops ...wasm.Op) *wasm.FuncBody {
	ops = append(ops, op(wasm.OpEnd))
	for i := range ops {
		ops[i].Offset = uint32(i)
	}
	return &wasm.FuncBody{Ops: ops}
}

func countInstrs(f *ir.Func, kind ir.InstrKind) int {
	n := 0
	for i := range f.Blocks {
		for j := range f.Blocks[i].Instrs {
			if f.Blocks[i].Instrs[j].Kind == kind {
				n++
			}
		}
	}
	return n
}

func TestTranslateAdd(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32, wasm.I32}, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		opA(wasm.OpLocalGet, 0),
		opA(wasm.OpLocalGet, 1),
		op(wasm.OpI32Add),
	), Options{})

	if got := countInstrs(f, ir.InstrBin); got != 1 {
		t.Fatalf("bin instrs = %d, want 1\n%s", got, ir.Print(f))
	}
	last := f.Blocks[len(f.Blocks)-1]
	if last.Term.Kind != ir.TermReturn {
		t.Fatalf("final block terminator = %v, want return", last.Term.Kind)
	}
	if len(last.Term.Return.Values) != 1 {
		t.Fatalf("return values = %d, want 1", len(last.Term.Return.Values))
	}
}

func TestTranslateDivTrapMarkers(t *testing.T) {
	tests := []struct {
		name    string
		opcode  wasm.Opcode
		trapIfs int
	}{
		{"i32.div_s", wasm.OpI32DivS, 2},
		{"i64.div_s", wasm.OpI64DivS, 2},
		{"i32.div_u", wasm.OpI32DivU, 1},
		{"i32.rem_s", wasm.OpI32RemS, 1},
		{"i64.rem_u", wasm.OpI64RemU, 1},
		{"i32.add", wasm.OpI32Add, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt := wasm.I32
			cop := wasm.OpI32Const
			if strings.HasPrefix(tt.name, "i64") {
				vt, cop = wasm.I64, wasm.OpI64Const
			}
			env := newEnv(t, nil, []wasm.ValueType{vt})
			f := env.translate(t, body(
				constOp(cop, 10),
				constOp(cop, 3),
				op(tt.opcode),
			), Options{})
			if got := countInstrs(f, ir.InstrTrapIf); got != tt.trapIfs {
				t.Errorf("trap_if count = %d, want %d\n%s", got, tt.trapIfs, ir.Print(f))
			}
		})
	}
}

func TestTranslateIfElse(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		opA(wasm.OpLocalGet, 0),
		blockOp(wasm.OpIf, wasm.BlockType{Kind: wasm.BlockValue, Value: wasm.I32}),
		constOp(wasm.OpI32Const, 1),
		op(wasm.OpElse),
		constOp(wasm.OpI32Const, 2),
		op(wasm.OpEnd),
	), Options{})

	var brIfs int
	for i := range f.Blocks {
		if f.Blocks[i].Term.Kind == ir.TermBrIf {
			brIfs++
		}
	}
	if brIfs != 1 {
		t.Fatalf("br_if terminators = %d, want 1\n%s", brIfs, ir.Print(f))
	}
}

func TestTranslateIfWithoutElse(t *testing.T) {
	// An if with no else and a block parameter must forward its input
	// to the merge on the false path.
	env := newEnv(t, []wasm.ValueType{wasm.I32, wasm.I32}, []wasm.ValueType{wasm.I32})
	auxSig, err := env.mod.TypeSig(1)
	if err != nil {
		t.Fatalf("TypeSig: %v", err)
	}
	f := env.translate(t, body(
		opA(wasm.OpLocalGet, 0),
		opA(wasm.OpLocalGet, 1),
		blockOp(wasm.OpIf, wasm.BlockType{Kind: wasm.BlockSig, Sig: auxSig}),
		constOp(wasm.OpI32Const, 7),
		op(wasm.OpI32Add),
		op(wasm.OpEnd),
	), Options{})
	_ = f
}

func TestTranslateLoop(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		blockOp(wasm.OpLoop, wasm.BlockType{Kind: wasm.BlockEmpty}),
		opA(wasm.OpLocalGet, 0),
		constOp(wasm.OpI32Const, 1),
		op(wasm.OpI32Sub),
		opA(wasm.OpLocalTee, 0),
		opA(wasm.OpBrIf, 0),
		op(wasm.OpEnd),
		opA(wasm.OpLocalGet, 0),
	), Options{})

	// A backward edge must exist: some block branches to an earlier or
	// equal block ID after compaction.
	backward := false
	for i := range f.Blocks {
		term := f.Blocks[i].Term
		switch term.Kind {
		case ir.TermBr:
			if term.Br.Block <= f.Blocks[i].ID {
				backward = true
			}
		case ir.TermBrIf:
			if term.BrIf.Then.Block <= f.Blocks[i].ID || term.BrIf.Else.Block <= f.Blocks[i].ID {
				backward = true
			}
		}
	}
	if !backward {
		t.Fatalf("no backward edge in loop IR:\n%s", ir.Print(f))
	}
}

func TestTranslateBrTable(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		blockOp(wasm.OpBlock, wasm.BlockType{Kind: wasm.BlockEmpty}),
		blockOp(wasm.OpBlock, wasm.BlockType{Kind: wasm.BlockEmpty}),
		opA(wasm.OpLocalGet, 0),
		wasm.Op{Opcode: wasm.OpBrTable, Targets: []uint32{0, 1, 1}},
		op(wasm.OpEnd),
		op(wasm.OpEnd),
		constOp(wasm.OpI32Const, 42),
	), Options{})

	found := false
	for i := range f.Blocks {
		if f.Blocks[i].Term.Kind == ir.TermBrTable {
			found = true
			if got := len(f.Blocks[i].Term.BrTable.Targets); got != 2 {
				t.Fatalf("br_table targets = %d, want 2", got)
			}
		}
	}
	if !found {
		t.Fatalf("no br_table terminator:\n%s", ir.Print(f))
	}
}

func TestTranslateDeadCodeSkipped(t *testing.T) {
	env := newEnv(t, nil, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		blockOp(wasm.OpBlock, wasm.BlockType{Kind: wasm.BlockValue, Value: wasm.I32}),
		constOp(wasm.OpI32Const, 1),
		opA(wasm.OpBr, 0),
		// Everything below is unreachable and must not produce IR.
		constOp(wasm.OpI32Const, 2),
		constOp(wasm.OpI32Const, 3),
		op(wasm.OpI32Add),
		op(wasm.OpEnd),
	), Options{})

	if got := countInstrs(f, ir.InstrBin); got != 0 {
		t.Fatalf("dead add survived translation:\n%s", ir.Print(f))
	}
	if got := countInstrs(f, ir.InstrConst); got != 1 {
		t.Fatalf("const count = %d, want 1\n%s", got, ir.Print(f))
	}
}

func TestTranslateUnreachable(t *testing.T) {
	env := newEnv(t, nil, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(op(wasm.OpUnreachable)), Options{})
	if f.Blocks[f.Entry].Term.Kind != ir.TermTrap {
		t.Fatalf("entry terminator = %v, want trap", f.Blocks[f.Entry].Term.Kind)
	}
	if got := f.Blocks[f.Entry].Term.Trap.Reason; got != ir.TrapUnreachable {
		t.Fatalf("trap reason = %v, want unreachable", got)
	}
}

func TestTranslateMemoryBoundsPolicy(t *testing.T) {
	mem := body(
		constOp(wasm.OpI32Const, 16),
		wasm.Op{Opcode: wasm.OpI32Load, A: 2, B: 8},
	)
	env := newEnv(t, nil, []wasm.ValueType{wasm.I32})

	checked := env.translate(t, mem, Options{Bounds: BoundsExplicit})
	guarded := env.translate(t, mem, Options{Bounds: BoundsGuardRegion})

	find := func(f *ir.Func) ir.LoadInstr {
		for i := range f.Blocks {
			for j := range f.Blocks[i].Instrs {
				if f.Blocks[i].Instrs[j].Kind == ir.InstrLoad {
					return f.Blocks[i].Instrs[j].Load
				}
			}
		}
		t.Fatalf("no load instr:\n%s", ir.Print(f))
		return ir.LoadInstr{}
	}
	if l := find(checked); !l.Checked || l.Offset != 8 || l.Width != 4 {
		t.Fatalf("explicit policy load = %+v", l)
	}
	if l := find(guarded); l.Checked {
		t.Fatalf("guard-region policy still emits checked load: %+v", l)
	}
}

func TestTranslateGlobals(t *testing.T) {
	env := newEnv(t, nil, []wasm.ValueType{wasm.I64})
	f := env.translate(t, body(
		opA(wasm.OpGlobalGet, 0),
		constOp(wasm.OpI64Const, 5),
		op(wasm.OpI64Add),
		opA(wasm.OpGlobalSet, 0),
		opA(wasm.OpGlobalGet, 0),
	), Options{})

	if got := countInstrs(f, ir.InstrGlobalGet); got != 2 {
		t.Fatalf("global.get count = %d, want 2", got)
	}
	if got := countInstrs(f, ir.InstrGlobalSet); got != 1 {
		t.Fatalf("global.set count = %d, want 1", got)
	}
}

func TestTranslateCall(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		opA(wasm.OpLocalGet, 0),
		opA(wasm.OpCall, 1),
	), Options{})

	if got := countInstrs(f, ir.InstrCall); got != 1 {
		t.Fatalf("call count = %d, want 1\n%s", got, ir.Print(f))
	}
}

func TestTranslateCallIndirect(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	f := env.translate(t, body(
		opA(wasm.OpLocalGet, 0),
		constOp(wasm.OpI32Const, 2),
		wasm.Op{Opcode: wasm.OpCallIndirect, A: 1, B: 0},
	), Options{})

	if got := countInstrs(f, ir.InstrCallIndirect); got != 1 {
		t.Fatalf("call_indirect count = %d, want 1\n%s", got, ir.Print(f))
	}
}

func TestTranslateErrors(t *testing.T) {
	env := newEnv(t, nil, nil)
	tests := []struct {
		name string
		ops  []wasm.Op
	}{
		{"local out of range", []wasm.Op{opA(wasm.OpLocalGet, 9)}},
		{"global out of range", []wasm.Op{opA(wasm.OpGlobalGet, 3)}},
		{"branch depth", []wasm.Op{opA(wasm.OpBr, 7)}},
		{"else without if", []wasm.Op{op(wasm.OpElse)}},
		{"unclosed block", []wasm.Op{blockOp(wasm.OpBlock, wasm.BlockType{Kind: wasm.BlockEmpty})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Translate(0, body(tt.ops...), env.mod, env.sigs, Options{}); err == nil {
				t.Fatalf("Translate accepted malformed body")
			}
		})
	}
}

func TestTranslateDeterministic(t *testing.T) {
	env := newEnv(t, []wasm.ValueType{wasm.I32}, []wasm.ValueType{wasm.I32})
	mk := func() string {
		f := env.translate(t, body(
			opA(wasm.OpLocalGet, 0),
			blockOp(wasm.OpIf, wasm.BlockType{Kind: wasm.BlockValue, Value: wasm.I32}),
			opA(wasm.OpLocalGet, 0),
			constOp(wasm.OpI32Const, 2),
			op(wasm.OpI32Mul),
			op(wasm.OpElse),
			constOp(wasm.OpI32Const, 0),
			op(wasm.OpEnd),
		), Options{})
		return ir.Print(f)
	}
	a, b := mk(), mk()
	if a != b {
		t.Fatalf("two translations of the same body differ:\n%s\n---\n%s", a, b)
	}
}
