package amd64

import (
	"math"

	"smelt/internal/codegen"
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/wasm"
)

func (g *fnGen) instr(ins *ir.Instr) error {
	switch ins.Kind {
	case ir.InstrConst:
		g.lowerConst(&ins.Const)
	case ir.InstrBin:
		return g.lowerBin(&ins.Bin)
	case ir.InstrUn:
		g.lowerUn(&ins.Un)
	case ir.InstrCmp:
		g.lowerCmp(&ins.Cmp)
	case ir.InstrConv:
		return g.lowerConv(&ins.Conv, ins.Off)
	case ir.InstrSelect:
		g.lowerSelect(&ins.Select)
	case ir.InstrLocalGet:
		g.movRegMem(true, rax, rbp, g.localSlot(ins.LocalGet.Local))
		g.storeGP(rax, ins.LocalGet.Result)
	case ir.InstrLocalSet:
		g.loadGP(rax, ins.LocalSet.Value)
		g.movMemReg(true, rbp, g.localSlot(ins.LocalSet.Local), rax)
	case ir.InstrGlobalGet:
		g.lowerGlobalGet(&ins.GlobalGet)
	case ir.InstrGlobalSet:
		g.lowerGlobalSet(&ins.GlobalSet)
	case ir.InstrLoad:
		g.lowerLoad(&ins.Load, ins.Off)
	case ir.InstrStore:
		g.lowerStore(&ins.Store, ins.Off)
	case ir.InstrMemorySize:
		g.lowerMemorySize(&ins.MemorySize)
	case ir.InstrMemoryGrow:
		g.lowerMemoryGrow(&ins.MemoryGrow)
	case ir.InstrCall:
		return g.lowerCall(&ins.Call)
	case ir.InstrCallIndirect:
		return g.lowerCallIndirect(&ins.CallIndirect, ins.Off)
	case ir.InstrTrapIf:
		g.lowerTrapIf(&ins.TrapIf, ins.Off)
	default:
		return diag.Internalf(g.fnIdx, "unknown instruction kind %d", ins.Kind)
	}
	return nil
}

func (g *fnGen) lowerConst(c *ir.ConstInstr) {
	bits := c.Bits
	if c.Type == wasm.I32 || c.Type == wasm.F32 {
		// The decoder sign-extends 32-bit immediates into the payload.
		// Only the low half is the value; i32 slots stay zero-extended.
		bits &= math.MaxUint32
	}
	if bits <= math.MaxUint32 {
		g.movRegImm32(rax, uint32(bits))
	} else {
		g.movRegImm64(rax, bits)
	}
	g.storeGP(rax, c.Result)
}

func (g *fnGen) lowerBin(b *ir.BinInstr) error {
	if isFloat(b.Type) {
		g.lowerBinFloat(b)
		return nil
	}
	w := b.Type == wasm.I64

	switch b.Op {
	case ir.BinAdd, ir.BinSub, ir.BinAnd, ir.BinOr, ir.BinXor:
		ops := map[ir.BinOp]aluOp{
			ir.BinAdd: aluAdd, ir.BinSub: aluSub,
			ir.BinAnd: aluAnd, ir.BinOr: aluOr, ir.BinXor: aluXor,
		}
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.alu(ops[b.Op], w, rax, rcx)
		g.storeGP(rax, b.Result)

	case ir.BinMul:
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.imulRegReg(w, rax, rcx)
		if !w {
			g.movRegReg(false, rax, rax)
		}
		g.storeGP(rax, b.Result)

	case ir.BinShl, ir.BinShrS, ir.BinShrU, ir.BinRotl, ir.BinRotr:
		ops := map[ir.BinOp]shiftOp{
			ir.BinShl: shShl, ir.BinShrS: shSar, ir.BinShrU: shShr,
			ir.BinRotl: shRol, ir.BinRotr: shRor,
		}
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.shiftCl(ops[b.Op], w, rax)
		if !w {
			g.movRegReg(false, rax, rax)
		}
		g.storeGP(rax, b.Result)

	case ir.BinDivS:
		// Zero and overflow guards precede this instruction in the IR.
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.cdq(w)
		g.idiv(w, rcx)
		if !w {
			g.movRegReg(false, rax, rax)
		}
		g.storeGP(rax, b.Result)

	case ir.BinDivU:
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.alu(aluXor, false, rdx, rdx)
		g.div(w, rcx)
		if !w {
			g.movRegReg(false, rax, rax)
		}
		g.storeGP(rax, b.Result)

	case ir.BinRemS:
		// MIN % -1 is 0, but idiv raises #DE on it; divert the -1
		// divisor through a zero result.
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.alu(aluXor, false, rdx, rdx)
		g.aluImm(aluCmp, w, rcx, -1)
		done := g.newLabel()
		g.jcc(condE, done)
		g.cdq(w)
		g.idiv(w, rcx)
		g.bind(done)
		if !w {
			g.movRegReg(false, rdx, rdx)
		}
		g.storeGP(rdx, b.Result)

	case ir.BinRemU:
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		g.alu(aluXor, false, rdx, rdx)
		g.div(w, rcx)
		if !w {
			g.movRegReg(false, rdx, rdx)
		}
		g.storeGP(rdx, b.Result)

	default:
		return diag.Codegenf(g.fnIdx, diag.CodeUnsupportedOperand,
			"binary op %d on %s", b.Op, b.Type)
	}
	return nil
}

func (g *fnGen) lowerBinFloat(b *ir.BinInstr) {
	p := ssePrefix(b.Type)
	f64 := b.Type == wasm.F64

	switch b.Op {
	case ir.BinAdd, ir.BinSub, ir.BinMul, ir.BinDiv:
		opcs := map[ir.BinOp]byte{
			ir.BinAdd: 0x58, ir.BinSub: 0x5c, ir.BinMul: 0x59, ir.BinDiv: 0x5e,
		}
		g.loadX(b.Type, xmm0, b.X)
		g.loadX(b.Type, xmm1, b.Y)
		g.sse(p, opcs[b.Op], xmm0, xmm1)
		g.storeX(b.Type, b.Result, xmm0)

	case ir.BinMin, ir.BinMax:
		// minss/maxss get NaN and signed-zero handling wrong for
		// wasm, so spell the cases out: propagate NaN, merge equal
		// operands bitwise to order the zeroes, otherwise pick by
		// comparison.
		g.loadX(b.Type, xmm0, b.X)
		g.loadX(b.Type, xmm1, b.Y)
		g.ucomis(f64, xmm0, xmm1)
		nan := g.newLabel()
		takeY := g.newLabel()
		done := g.newLabel()
		g.jcc(condP, nan)
		if b.Op == ir.BinMin {
			g.jcc(condB, done)
			g.jcc(condA, takeY)
			g.sseNP(f64, 0x56, xmm0, xmm1) // orps: equal, -0 wins
		} else {
			g.jcc(condA, done)
			g.jcc(condB, takeY)
			g.sseNP(f64, 0x54, xmm0, xmm1) // andps: equal, +0 wins
		}
		g.jmp(done)
		g.bind(takeY)
		g.sse(p, 0x10, xmm0, xmm1)
		g.jmp(done)
		g.bind(nan)
		g.sse(p, 0x58, xmm0, xmm1) // add produces a canonical NaN
		g.bind(done)
		g.storeX(b.Type, b.Result, xmm0)

	case ir.BinCopysign:
		// Bit surgery in the integer domain.
		g.loadGP(rax, b.X)
		g.loadGP(rcx, b.Y)
		if f64 {
			g.movRegImm64(r10, 0x7fffffffffffffff)
			g.movRegImm64(r11, 0x8000000000000000)
			g.alu(aluAnd, true, rax, r10)
			g.alu(aluAnd, true, rcx, r11)
			g.alu(aluOr, true, rax, rcx)
		} else {
			g.aluImm(aluAnd, false, rax, 0x7fffffff)
			g.aluImm(aluAnd, false, rcx, int32(-0x80000000))
			g.alu(aluOr, false, rax, rcx)
		}
		g.storeGP(rax, b.Result)
	}
}

// ucomis compares scalars, setting ZF/PF/CF like an unsigned compare.
func (g *fnGen) ucomis(f64 bool, x, y xreg) {
	if f64 {
		g.byte(0x66)
	}
	g.rexOpt(uint8(x), 0, uint8(y))
	g.byte(0x0f, 0x2e)
	g.modrm(3, uint8(x), uint8(y))
}

// sseNP emits a no-prefix packed op (orps/andps/xorps); used here only
// for bitwise merges of scalar values.
func (g *fnGen) sseNP(f64 bool, opc byte, dst, src xreg) {
	if f64 {
		g.byte(0x66)
	}
	g.rexOpt(uint8(dst), 0, uint8(src))
	g.byte(0x0f, opc)
	g.modrm(3, uint8(dst), uint8(src))
}

func (g *fnGen) lowerUn(u *ir.UnInstr) {
	if isFloat(u.Type) {
		g.lowerUnFloat(u)
		return
	}
	w := u.Type == wasm.I64
	bits := int32(32)
	if w {
		bits = 64
	}

	switch u.Op {
	case ir.UnClz:
		g.loadGP(rax, u.X)
		g.bsr(w, rcx, rax)
		g.movRegImm32(rax, uint32(bits))
		done := g.newLabel()
		g.jcc(condE, done)
		g.movRegImm32(rax, uint32(bits-1))
		g.alu(aluSub, false, rax, rcx)
		g.bind(done)
		g.storeGP(rax, u.Result)

	case ir.UnCtz:
		g.loadGP(rax, u.X)
		g.bsf(w, rcx, rax)
		g.movRegImm32(rax, uint32(bits))
		done := g.newLabel()
		g.jcc(condE, done)
		g.movRegReg(false, rax, rcx)
		g.bind(done)
		g.storeGP(rax, u.Result)

	case ir.UnPopcnt:
		g.loadGP(rax, u.X)
		g.popcnt(w, rax, rax)
		g.storeGP(rax, u.Result)

	case ir.UnEqz:
		g.loadGP(rax, u.X)
		g.testRegReg(w, rax, rax)
		g.setcc(condE, rax)
		g.movzx8RegReg(rax, rax)
		g.storeGP(rax, u.Result)
	}
}

func (g *fnGen) lowerUnFloat(u *ir.UnInstr) {
	f64 := u.Type == wasm.F64
	p := ssePrefix(u.Type)

	switch u.Op {
	case ir.UnAbs:
		g.loadGP(rax, u.X)
		if f64 {
			g.movRegImm64(rcx, 0x7fffffffffffffff)
			g.alu(aluAnd, true, rax, rcx)
		} else {
			g.aluImm(aluAnd, false, rax, 0x7fffffff)
		}
		g.storeGP(rax, u.Result)

	case ir.UnNeg:
		g.loadGP(rax, u.X)
		if f64 {
			g.movRegImm64(rcx, 0x8000000000000000)
			g.alu(aluXor, true, rax, rcx)
		} else {
			g.aluImm(aluXor, false, rax, int32(-0x80000000))
		}
		g.storeGP(rax, u.Result)

	case ir.UnCeil, ir.UnFloor, ir.UnTrunc, ir.UnNearest:
		modes := map[ir.UnOp]byte{
			ir.UnNearest: 0, ir.UnFloor: 1, ir.UnCeil: 2, ir.UnTrunc: 3,
		}
		g.loadX(u.Type, xmm0, u.X)
		g.roundsse(f64, xmm0, xmm0, modes[u.Op])
		g.storeX(u.Type, u.Result, xmm0)

	case ir.UnSqrt:
		g.loadX(u.Type, xmm0, u.X)
		g.sse(p, 0x51, xmm0, xmm0)
		g.storeX(u.Type, u.Result, xmm0)
	}
}

func (g *fnGen) lowerCmp(c *ir.CmpInstr) {
	if isFloat(c.Type) {
		g.lowerCmpFloat(c)
		return
	}
	w := c.Type == wasm.I64
	conds := map[ir.CmpOp]cond{
		ir.CmpEq: condE, ir.CmpNe: condNE,
		ir.CmpLtS: condL, ir.CmpLtU: condB,
		ir.CmpGtS: condG, ir.CmpGtU: condA,
		ir.CmpLeS: condLE, ir.CmpLeU: condBE,
		ir.CmpGeS: condGE, ir.CmpGeU: condAE,
	}
	g.loadGP(rax, c.X)
	g.loadGP(rcx, c.Y)
	g.alu(aluCmp, w, rax, rcx)
	g.setcc(conds[c.Op], rax)
	g.movzx8RegReg(rax, rax)
	g.storeGP(rax, c.Result)
}

func (g *fnGen) lowerCmpFloat(c *ir.CmpInstr) {
	f64 := c.Type == wasm.F64
	g.loadX(c.Type, xmm0, c.X)
	g.loadX(c.Type, xmm1, c.Y)

	switch c.Op {
	case ir.CmpEq, ir.CmpNe:
		// Unordered sets ZF and PF together, so fold the parity bit
		// in: eq is ZF&&!PF, ne is !ZF||PF.
		g.ucomis(f64, xmm0, xmm1)
		if c.Op == ir.CmpEq {
			g.setcc(condNP, rax)
			g.setcc(condE, rcx)
			g.movzx8RegReg(rax, rax)
			g.movzx8RegReg(rcx, rcx)
			g.alu(aluAnd, false, rax, rcx)
		} else {
			g.setcc(condP, rax)
			g.setcc(condNE, rcx)
			g.movzx8RegReg(rax, rax)
			g.movzx8RegReg(rcx, rcx)
			g.alu(aluOr, false, rax, rcx)
		}
	case ir.CmpFGt:
		g.ucomis(f64, xmm0, xmm1)
		g.setcc(condA, rax)
		g.movzx8RegReg(rax, rax)
	case ir.CmpFGe:
		g.ucomis(f64, xmm0, xmm1)
		g.setcc(condAE, rax)
		g.movzx8RegReg(rax, rax)
	case ir.CmpFLt:
		// a < b as b > a keeps unordered results false via CF.
		g.ucomis(f64, xmm1, xmm0)
		g.setcc(condA, rax)
		g.movzx8RegReg(rax, rax)
	case ir.CmpFLe:
		g.ucomis(f64, xmm1, xmm0)
		g.setcc(condAE, rax)
		g.movzx8RegReg(rax, rax)
	}
	g.storeGP(rax, c.Result)
}

func (g *fnGen) lowerSelect(s *ir.SelectInstr) {
	g.load32(rax, s.Cond)
	g.loadGP(rcx, s.Y)
	g.loadGP(r10, s.X)
	g.testRegReg(false, rax, rax)
	g.cmovcc(condNE, true, rcx, r10)
	g.storeGP(rcx, s.Result)
}

func (g *fnGen) lowerGlobalGet(ins *ir.GlobalGetInstr) {
	immOff := g.movRegImm64(r10, 0)
	g.reloc(codegen.RelocGlobalAddr, uint32(ins.Global), immOff)
	switch ins.Type {
	case wasm.I64, wasm.F64:
		g.movRegMem(true, rax, r10, 0)
	default:
		g.movRegMem(false, rax, r10, 0)
	}
	g.storeGP(rax, ins.Result)
}

func (g *fnGen) lowerGlobalSet(ins *ir.GlobalSetInstr) {
	g.loadGP(rax, ins.Value)
	immOff := g.movRegImm64(r10, 0)
	g.reloc(codegen.RelocGlobalAddr, uint32(ins.Global), immOff)
	g.movMemReg(true, r10, 0, rax)
}

// memBase prepares a linear-memory access: when check is set it traps
// if [addr+offset, addr+offset+width) exceeds the current byte length.
// On return r10 holds the memory base, rax the zero-extended access
// address folded with any offset too large for a displacement, and the
// returned disp is the remaining displacement to encode.
func (g *fnGen) memBase(mem wasm.MemoryIndex, addr ir.ValueID, offset uint32, width uint8, check bool, origin uint32) int32 {
	g.load32(rax, addr)
	immOff := g.movRegImm64(r10, 0)
	g.reloc(codegen.RelocMemoryDef, uint32(mem), immOff)
	if check {
		span := int64(offset) + int64(width)
		g.movRegMem(true, r11, r10, 8)
		if span > math.MaxUint32 {
			g.movRegImm64(rcx, uint64(span))
		} else {
			g.movRegImm32(rcx, uint32(span))
		}
		g.alu(aluAdd, true, rcx, rax)
		g.alu(aluCmp, true, rcx, r11)
		ok := g.newLabel()
		g.jcc(condBE, ok)
		g.trap(ir.TrapOutOfBoundsMemoryAccess, origin)
		g.bind(ok)
	}
	g.movRegMem(true, r10, r10, 0)
	if offset > math.MaxInt32 {
		g.movRegImm32(rcx, offset)
		g.alu(aluAdd, true, rax, rcx)
		return 0
	}
	return int32(offset)
}

func (g *fnGen) lowerLoad(l *ir.LoadInstr, origin uint32) {
	disp := g.memBase(l.Memory, l.Addr, l.Offset, l.Width, l.Checked, origin)

	if isFloat(l.Type) {
		g.sseRegMemIdx(ssePrefix(l.Type), xmm0, r10, rax, disp)
		g.storeX(l.Type, l.Result, xmm0)
		return
	}
	w := l.Type == wasm.I64
	switch {
	case l.Width == 8:
		g.movRegMemIdx(true, rcx, r10, rax, disp)
	case l.Width == 4 && !l.Signed:
		g.movRegMemIdx(false, rcx, r10, rax, disp)
	case l.Width == 4 && l.Signed && w:
		g.movsxRegMemIdx(4, true, rcx, r10, rax, disp)
	case l.Width == 4:
		g.movRegMemIdx(false, rcx, r10, rax, disp)
	case l.Signed:
		g.movsxRegMemIdx(l.Width, w, rcx, r10, rax, disp)
		if !w {
			g.movRegReg(false, rcx, rcx)
		}
	default:
		g.movzxRegMemIdx(l.Width, false, rcx, r10, rax, disp)
	}
	g.storeGP(rcx, l.Result)
}

func (g *fnGen) lowerStore(s *ir.StoreInstr, origin uint32) {
	disp := g.memBase(s.Memory, s.Addr, s.Offset, s.Width, s.Checked, origin)
	g.loadGP(rcx, s.Value)

	switch s.Width {
	case 1:
		g.movMemIdxReg8(r10, rax, disp, rcx)
	case 2:
		g.movMemIdxReg16(r10, rax, disp, rcx)
	case 4:
		g.movMemIdxReg(false, r10, rax, disp, rcx)
	default:
		g.movMemIdxReg(true, r10, rax, disp, rcx)
	}
}

func (g *fnGen) lowerMemorySize(ins *ir.MemorySizeInstr) {
	immOff := g.movRegImm64(r10, 0)
	g.reloc(codegen.RelocMemoryDef, uint32(ins.Memory), immOff)
	g.movRegMem(true, rax, r10, 8)
	g.shiftImm(shShr, true, rax, 16) // bytes to 64 KiB pages
	g.storeGP(rax, ins.Result)
}

func (g *fnGen) lowerMemoryGrow(ins *ir.MemoryGrowInstr) {
	g.movRegImm32(rdi, uint32(ins.Memory))
	g.load32(rsi, ins.Delta)
	immOff := g.movRegImm64(r10, 0)
	g.reloc(codegen.RelocMemoryGrowFn, uint32(ins.Memory), immOff)
	g.callReg(r10)
	g.movRegReg(false, rax, rax)
	g.storeGP(rax, ins.Result)
}

// loadCallArgs moves argument values into the internal convention's
// registers and outgoing stack area.
func (g *fnGen) loadCallArgs(params []wasm.ValueType, args []ir.ValueID) {
	intIdx, fltIdx, stackIdx := 0, 0, 0
	for i, t := range params {
		v := args[i]
		switch {
		case isFloat(t) && fltIdx < numFloatArgRegs:
			g.loadX(t, xreg(fltIdx), v)
			fltIdx++
		case !isFloat(t) && intIdx < len(intArgRegs):
			g.loadGP(intArgRegs[intIdx], v)
			intIdx++
		default:
			g.loadGP(rax, v)
			g.movMemReg(true, rsp, int32(8*stackIdx), rax)
			stackIdx++
		}
	}
}

func (g *fnGen) storeCallResult(results []wasm.ValueType, out []ir.ValueID) {
	if len(results) == 0 {
		return
	}
	t := results[0]
	if isFloat(t) {
		g.storeX(t, out[0], xmm0)
		return
	}
	if t == wasm.I32 {
		g.movRegReg(false, rax, rax)
	}
	g.storeGP(rax, out[0])
}

func (g *fnGen) lowerCall(c *ir.CallInstr) error {
	s, err := g.sigs.Resolve(c.Sig)
	if err != nil {
		return diag.Internalf(g.fnIdx, "call signature: %v", err)
	}
	g.loadCallArgs(s.Params, c.Args)

	class, err := g.mod.ClassifyFunc(c.Func)
	if err != nil {
		return diag.Internalf(g.fnIdx, "call target: %v", err)
	}
	if local, ok := class.Local(); ok {
		immOff := g.callRel32()
		g.reloc(codegen.RelocLocalFuncAddr, uint32(local), immOff)
	} else {
		imported, _ := class.Imported()
		immOff := g.movRegImm64(r10, 0)
		g.reloc(codegen.RelocImportedFuncAddr, uint32(imported), immOff)
		g.callReg(r10)
	}
	g.storeCallResult(s.Results, c.Results)
	return nil
}

func (g *fnGen) lowerCallIndirect(c *ir.CallIndirectInstr, origin uint32) error {
	s, err := g.sigs.Resolve(c.Sig)
	if err != nil {
		return diag.Internalf(g.fnIdx, "call_indirect signature: %v", err)
	}
	g.loadCallArgs(s.Params, c.Args)

	// Bounds, null and signature-identity checks run after argument
	// setup; they only touch rax/r10/r11, which the convention leaves
	// free.
	g.load32(rax, c.Index)
	immOff := g.movRegImm64(r10, 0)
	g.reloc(codegen.RelocTableDef, uint32(c.Table), immOff)
	g.movRegMem(true, r11, r10, 8)
	g.alu(aluCmp, true, rax, r11)
	inBounds := g.newLabel()
	g.jcc(condB, inBounds)
	g.trap(ir.TrapOutOfBoundsTableAccess, origin)
	g.bind(inBounds)

	g.movRegMem(true, r10, r10, 0)
	g.shiftImm(shShl, true, rax, 4) // 16-byte table elements
	g.alu(aluAdd, true, r10, rax)
	g.movRegMem(true, r11, r10, 0)
	g.testRegReg(true, r11, r11)
	nonNull := g.newLabel()
	g.jcc(condNE, nonNull)
	g.trap(ir.TrapIndirectCallNull, origin)
	g.bind(nonNull)

	immOff = g.movRegImm64(rax, 0)
	g.reloc(codegen.RelocSigID, uint32(c.Sig), immOff)
	g.movRegMem(true, r10, r10, 8)
	g.alu(aluCmp, true, r10, rax)
	sigOK := g.newLabel()
	g.jcc(condE, sigOK)
	g.trap(ir.TrapIndirectCallSignatureMismatch, origin)
	g.bind(sigOK)

	g.callReg(r11)
	g.storeCallResult(s.Results, c.Results)
	return nil
}

func (g *fnGen) lowerTrapIf(t *ir.TrapIfInstr, origin uint32) {
	g.load32(rax, t.Cond)
	g.testRegReg(false, rax, rax)
	skip := g.newLabel()
	g.jcc(condE, skip)
	g.trap(t.Reason, origin)
	g.bind(skip)
}
