package amd64

import (
	"smelt/internal/codegen"
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// intArgRegs is the internal calling convention's integer argument
// order; floats take xmm0..xmm7 in order. One result returns in rax or
// xmm0. Overflow arguments are pushed left to right at [rsp], so the
// callee sees them at [rbp+16] upward.
var intArgRegs = [...]reg{rdi, rsi, rdx, rcx, r8, r9}

const numFloatArgRegs = 8

// Backend lowers IR to x86-64. Safe for concurrent Compile calls; all
// per-function state lives in a fnGen.
type Backend struct {
	opts codegen.Options
}

func New(opts codegen.Options) *Backend {
	return &Backend{opts: opts}
}

func (b *Backend) Target() codegen.Target { return codegen.TargetAMD64 }

func (b *Backend) Compile(fn wasm.LocalFuncIndex, f *ir.Func, mod *wasm.Module, sigs *sig.Registry) (*codegen.CompiledFunction, error) {
	if len(f.Results) > 1 {
		return nil, diag.Codegenf(fn, diag.CodeUnsupportedOperand,
			"%d results; multi-value returns are not supported", len(f.Results))
	}

	g := &fnGen{
		fn:        f,
		fnIdx:     fn,
		mod:       mod,
		sigs:      sigs,
		numLocals: len(f.Locals),
		numValues: len(f.Values),
	}
	g.measure()
	g.prologue()

	g.blockLabels = make([]label, len(f.Blocks))
	for i := range f.Blocks {
		g.blockLabels[i] = g.newLabel()
	}
	if f.Entry != 0 {
		g.jmp(g.blockLabels[f.Entry])
	}
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		g.bind(g.blockLabels[i])
		for j := range blk.Instrs {
			if err := g.instr(&blk.Instrs[j]); err != nil {
				return nil, err
			}
		}
		if err := g.terminator(&blk.Term); err != nil {
			return nil, err
		}
	}

	if err := g.finish(); err != nil {
		return nil, diag.Internalf(fn, "%v", err)
	}

	cf := &codegen.CompiledFunction{
		Code:   g.buf,
		Relocs: g.relocs,
		Traps:  g.traps,
	}
	if b.opts.Unwind {
		cf.Unwind = &codegen.UnwindRecord{
			PrologueSize: g.prologueSize,
			FrameSize:    uint32(g.frameSize),
			CodeSize:     uint32(len(g.buf)),
		}
	}
	return cf, nil
}

// fnGen is the per-function code generation state. The frame holds one
// 8-byte slot per wasm local and per IR value, plus a shuffle area for
// branch arguments and an outgoing-argument area at the stack bottom.
// Integer slots are kept zero-extended at 32-bit width; float slots are
// written at their own width and the high bytes are never read.
type fnGen struct {
	asm

	fn    *ir.Func
	fnIdx wasm.LocalFuncIndex
	mod   *wasm.Module
	sigs  *sig.Registry

	blockLabels []label
	relocs      []codegen.Reloc
	traps       []codegen.TrapSite

	numLocals    int
	numValues    int
	shuffleCount int
	frameSize    int32
	prologueSize uint32
}

func (g *fnGen) localSlot(l ir.LocalID) int32 {
	return -8 * (int32(l) + 1)
}

func (g *fnGen) valueSlot(v ir.ValueID) int32 {
	return -8 * (int32(g.numLocals) + int32(v) + 1)
}

func (g *fnGen) shuffleSlot(k int) int32 {
	return -8 * int32(g.numLocals+g.numValues+k+1)
}

func (g *fnGen) reloc(kind codegen.RelocKind, index uint32, immOff int32) {
	g.relocs = append(g.relocs, codegen.Reloc{
		Offset: uint32(immOff),
		Kind:   kind,
		Index:  index,
	})
}

// trap emits the trapping instruction and records its site.
func (g *fnGen) trap(reason ir.TrapReason, origin uint32) {
	g.traps = append(g.traps, codegen.TrapSite{
		Offset: uint32(g.off()),
		Reason: reason,
		Origin: origin,
	})
	g.ud2()
}

// measure sizes the shuffle and outgoing-argument areas and fixes the
// frame size before any code is emitted.
func (g *fnGen) measure() {
	maxOutgoing := 0
	for i := range g.fn.Blocks {
		blk := &g.fn.Blocks[i]
		for j := range blk.Instrs {
			ins := &blk.Instrs[j]
			var params []wasm.ValueType
			switch ins.Kind {
			case ir.InstrCall:
				params = g.sigs.MustResolve(ins.Call.Sig).Params
			case ir.InstrCallIndirect:
				params = g.sigs.MustResolve(ins.CallIndirect.Sig).Params
			default:
				continue
			}
			if n := stackArgCount(params); n > maxOutgoing {
				maxOutgoing = n
			}
		}
		grow := func(t ir.BrTarget) {
			if len(t.Args) > g.shuffleCount {
				g.shuffleCount = len(t.Args)
			}
		}
		switch blk.Term.Kind {
		case ir.TermBr:
			grow(blk.Term.Br)
		case ir.TermBrIf:
			grow(blk.Term.BrIf.Then)
			grow(blk.Term.BrIf.Else)
		case ir.TermBrTable:
			for _, t := range blk.Term.BrTable.Targets {
				grow(t)
			}
			grow(blk.Term.BrTable.Default)
		}
	}

	slots := g.numLocals + g.numValues + g.shuffleCount + maxOutgoing
	g.frameSize = int32((slots*8 + 15) &^ 15)
}

func stackArgCount(params []wasm.ValueType) int {
	ints, floats := 0, 0
	for _, t := range params {
		if isFloat(t) {
			floats++
		} else {
			ints++
		}
	}
	n := 0
	if ints > len(intArgRegs) {
		n += ints - len(intArgRegs)
	}
	if floats > numFloatArgRegs {
		n += floats - numFloatArgRegs
	}
	return n
}

func isFloat(t wasm.ValueType) bool { return t == wasm.F32 || t == wasm.F64 }

// ssePrefix selects movss/movsd and friends.
func ssePrefix(t wasm.ValueType) byte {
	if t == wasm.F64 {
		return 0xf2
	}
	return 0xf3
}

func (g *fnGen) prologue() {
	g.push(rbp)
	g.movRegReg(true, rbp, rsp)
	if g.frameSize > 0 {
		g.aluImm(aluSub, true, rsp, g.frameSize)
	}
	g.prologueSize = uint32(g.off())

	// Stack depth guard. The limit cell is provided by the runtime;
	// crossing it raises a structured stack-overflow trap instead of
	// faulting on an unmapped page mid-function.
	immOff := g.movRegImm64(r11, 0)
	g.reloc(codegen.RelocStackLimit, 0, immOff)
	g.movRegMem(true, r10, r11, 0)
	g.alu(aluCmp, true, rsp, r10)
	ok := g.newLabel()
	g.jcc(condA, ok)
	g.trap(ir.TrapStackOverflow, 0)
	g.bind(ok)

	g.spillParams()
	g.zeroLocals()
}

// spillParams moves incoming arguments into their local slots.
func (g *fnGen) spillParams() {
	intIdx, fltIdx, stackIdx := 0, 0, 0
	for i := 0; i < g.fn.NumParams; i++ {
		t := g.fn.Locals[i]
		slot := g.localSlot(ir.LocalID(i))
		switch {
		case isFloat(t) && fltIdx < numFloatArgRegs:
			g.sseMemReg(ssePrefix(t), rbp, slot, xreg(fltIdx))
			fltIdx++
		case !isFloat(t) && intIdx < len(intArgRegs):
			g.movMemReg(true, rbp, slot, intArgRegs[intIdx])
			intIdx++
		default:
			// Callee view of overflow args: above saved rbp and the
			// return address.
			g.movRegMem(true, rax, rbp, int32(16+8*stackIdx))
			g.movMemReg(true, rbp, slot, rax)
			stackIdx++
		}
	}
}

// zeroLocals clears non-parameter locals; wasm requires zero-initial
// local values.
func (g *fnGen) zeroLocals() {
	if g.fn.NumParams == len(g.fn.Locals) {
		return
	}
	g.alu(aluXor, false, rax, rax)
	for i := g.fn.NumParams; i < len(g.fn.Locals); i++ {
		g.movMemReg(true, rbp, g.localSlot(ir.LocalID(i)), rax)
	}
}

func (g *fnGen) epilogue() {
	g.byte(0xc9) // leave
	g.ret()
}

// loadGP/storeGP move a value slot through a scratch register. Slots
// are always copied at full width.
func (g *fnGen) loadGP(r reg, v ir.ValueID)  { g.movRegMem(true, r, rbp, g.valueSlot(v)) }
func (g *fnGen) storeGP(r reg, v ir.ValueID) { g.movMemReg(true, rbp, g.valueSlot(v), r) }

// load32 loads a value slot's low 32 bits, zero-extended.
func (g *fnGen) load32(r reg, v ir.ValueID) { g.movRegMem(false, r, rbp, g.valueSlot(v)) }

func (g *fnGen) loadX(t wasm.ValueType, x xreg, v ir.ValueID) {
	g.sseRegMem(ssePrefix(t), x, rbp, g.valueSlot(v))
}

func (g *fnGen) storeX(t wasm.ValueType, v ir.ValueID, x xreg) {
	g.sseMemReg(ssePrefix(t), rbp, g.valueSlot(v), x)
}

// copyArgs moves branch arguments into the target block's parameter
// slots. The copy is staged through the shuffle area: an argument may
// itself live in one of the target's parameter slots (loop back edges),
// so writing parameters directly could clobber a not-yet-read source.
func (g *fnGen) copyArgs(t ir.BrTarget) {
	if len(t.Args) == 0 {
		return
	}
	for k, src := range t.Args {
		g.loadGP(rax, src)
		g.movMemReg(true, rbp, g.shuffleSlot(k), rax)
	}
	params := g.fn.Blocks[t.Block].Params
	for k, p := range params {
		g.movRegMem(true, rax, rbp, g.shuffleSlot(k))
		g.storeGP(rax, p)
	}
}

func (g *fnGen) branch(t ir.BrTarget) {
	g.copyArgs(t)
	g.jmp(g.blockLabels[t.Block])
}

func (g *fnGen) terminator(term *ir.Terminator) error {
	switch term.Kind {
	case ir.TermReturn:
		if len(term.Return.Values) == 1 {
			v := term.Return.Values[0]
			t := g.fn.ValueType(v)
			if isFloat(t) {
				g.loadX(t, xmm0, v)
			} else {
				g.loadGP(rax, v)
			}
		}
		g.epilogue()
		return nil

	case ir.TermBr:
		g.branch(term.Br)
		return nil

	case ir.TermBrIf:
		g.load32(rax, term.BrIf.Cond)
		g.testRegReg(false, rax, rax)
		elseL := g.newLabel()
		g.jcc(condE, elseL)
		g.branch(term.BrIf.Then)
		g.bind(elseL)
		g.branch(term.BrIf.Else)
		return nil

	case ir.TermBrTable:
		g.load32(rax, term.BrTable.Index)
		stubs := make([]label, len(term.BrTable.Targets))
		for i := range term.BrTable.Targets {
			stubs[i] = g.newLabel()
			g.aluImm(aluCmp, false, rax, int32(i))
			g.jcc(condE, stubs[i])
		}
		g.branch(term.BrTable.Default)
		for i, t := range term.BrTable.Targets {
			g.bind(stubs[i])
			g.branch(t)
		}
		return nil

	case ir.TermTrap:
		g.trap(term.Trap.Reason, term.Off)
		return nil

	default:
		return diag.Internalf(g.fnIdx, "block without terminator reached code generation")
	}
}
