package amd64

import (
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/wasm"
)

// Bit patterns of the exact lower bounds of the signed integer ranges
// in each float format. -2^31 and -2^63 are exactly representable, so
// a source equal to the bound is the one legitimate input for which
// cvtt returns the integer-indefinite value.
const (
	f32MinI32 = 0xcf000000         // -2^31 as f32
	f64MinI32 = 0xc1e0000000000000 // -2^31 as f64
	f32MinI64 = 0xdf000000         // -2^63 as f32
	f64MinI64 = 0xc3e0000000000000 // -2^63 as f64

	f32TwoP63 = 0x5f000000         // 2^63 as f32
	f64TwoP63 = 0x43e0000000000000 // 2^63 as f64
)

func (g *fnGen) lowerConv(c *ir.ConvInstr, origin uint32) error {
	op := c.Op
	switch op {
	case ir.ConvI32WrapI64:
		g.loadGP(rax, c.X)
		g.movRegReg(false, rax, rax)
		g.storeGP(rax, c.Result)

	case ir.ConvI64ExtendI32S:
		g.loadGP(rax, c.X)
		g.movsxRegReg(4, true, rax, rax)
		g.storeGP(rax, c.Result)

	case ir.ConvI64ExtendI32U:
		g.loadGP(rax, c.X)
		g.movRegReg(false, rax, rax)
		g.storeGP(rax, c.Result)

	case ir.ConvI32Extend8S, ir.ConvI32Extend16S, ir.ConvI64Extend8S, ir.ConvI64Extend16S, ir.ConvI64Extend32S:
		widths := map[ir.ConvOp]uint8{
			ir.ConvI32Extend8S: 1, ir.ConvI32Extend16S: 2,
			ir.ConvI64Extend8S: 1, ir.ConvI64Extend16S: 2, ir.ConvI64Extend32S: 4,
		}
		w := op.ResultType() == wasm.I64
		g.loadGP(rax, c.X)
		g.movsxRegReg(widths[op], w, rax, rax)
		if !w {
			g.movRegReg(false, rax, rax)
		}
		g.storeGP(rax, c.Result)

	case ir.ConvF32ConvertI32S, ir.ConvF64ConvertI32S:
		f64 := op.ResultType() == wasm.F64
		g.loadGP(rax, c.X)
		g.cvtFromInt(f64, false, xmm0, rax)
		g.storeX(op.ResultType(), c.Result, xmm0)

	case ir.ConvF32ConvertI32U, ir.ConvF64ConvertI32U:
		// i32 slots are zero-extended, so a 64-bit signed convert is
		// exact.
		f64 := op.ResultType() == wasm.F64
		g.loadGP(rax, c.X)
		g.cvtFromInt(f64, true, xmm0, rax)
		g.storeX(op.ResultType(), c.Result, xmm0)

	case ir.ConvF32ConvertI64S, ir.ConvF64ConvertI64S:
		f64 := op.ResultType() == wasm.F64
		g.loadGP(rax, c.X)
		g.cvtFromInt(f64, true, xmm0, rax)
		g.storeX(op.ResultType(), c.Result, xmm0)

	case ir.ConvF32ConvertI64U, ir.ConvF64ConvertI64U:
		g.lowerConvertU64(op.ResultType() == wasm.F64, c)

	case ir.ConvF32DemoteF64:
		g.loadX(wasm.F64, xmm0, c.X)
		g.sse(0xf2, 0x5a, xmm0, xmm0) // cvtsd2ss
		g.storeX(wasm.F32, c.Result, xmm0)

	case ir.ConvF64PromoteF32:
		g.loadX(wasm.F32, xmm0, c.X)
		g.sse(0xf3, 0x5a, xmm0, xmm0) // cvtss2sd
		g.storeX(wasm.F64, c.Result, xmm0)

	case ir.ConvI32ReinterpretF32:
		g.load32(rax, c.X)
		g.storeGP(rax, c.Result)

	case ir.ConvI64ReinterpretF64, ir.ConvF64ReinterpretI64:
		g.loadGP(rax, c.X)
		g.storeGP(rax, c.Result)

	case ir.ConvF32ReinterpretI32:
		g.load32(rax, c.X)
		g.storeGP(rax, c.Result)

	case ir.ConvI32TruncF32S, ir.ConvI32TruncF64S, ir.ConvI64TruncF32S, ir.ConvI64TruncF64S:
		g.truncSigned(c, origin, false)
	case ir.ConvI32TruncSatF32S, ir.ConvI32TruncSatF64S, ir.ConvI64TruncSatF32S, ir.ConvI64TruncSatF64S:
		g.truncSigned(c, origin, true)

	case ir.ConvI32TruncF32U, ir.ConvI32TruncF64U:
		g.truncU32(c, origin, false)
	case ir.ConvI32TruncSatF32U, ir.ConvI32TruncSatF64U:
		g.truncU32(c, origin, true)

	case ir.ConvI64TruncF32U, ir.ConvI64TruncF64U:
		g.truncU64(c, origin, false)
	case ir.ConvI64TruncSatF32U, ir.ConvI64TruncSatF64U:
		g.truncU64(c, origin, true)

	default:
		return diag.Codegenf(g.fnIdx, diag.CodeUnsupportedOperand, "conversion %d", op)
	}
	return nil
}

// loadFloatConst materializes a float constant into an XMM register
// through rcx.
func (g *fnGen) loadFloatConst(f64 bool, x xreg, bits uint64) {
	if f64 {
		g.movRegImm64(rcx, bits)
	} else {
		g.movRegImm32(rcx, uint32(bits))
	}
	g.movdToXmm(f64, x, rcx)
}

// checkNaN traps (or branches to sat) when xmm0 is NaN.
func (g *fnGen) checkNaN(f64 bool, origin uint32, sat bool, satLabel label) {
	g.ucomis(f64, xmm0, xmm0)
	if sat {
		g.jcc(condP, satLabel)
		return
	}
	ordered := g.newLabel()
	g.jcc(condNP, ordered)
	g.trap(ir.TrapInvalidConversionToInteger, origin)
	g.bind(ordered)
}

// truncSigned converts xmm0 to a signed integer with trap or
// saturation semantics. cvtt returns the integer-indefinite value
// (the minimum) on any out-of-range source, so that value triggers a
// disambiguation against the exact lower bound.
func (g *fnGen) truncSigned(c *ir.ConvInstr, origin uint32, sat bool) {
	srcF64 := c.Op.OperandType() == wasm.F64
	dst64 := c.Op.ResultType() == wasm.I64

	var minFloatBits uint64
	switch {
	case srcF64 && dst64:
		minFloatBits = f64MinI64
	case srcF64:
		minFloatBits = f64MinI32
	case dst64:
		minFloatBits = f32MinI64
	default:
		minFloatBits = f32MinI32
	}

	g.loadX(c.Op.OperandType(), xmm0, c.X)
	done := g.newLabel()
	satNaN := g.newLabel()
	g.checkNaN(srcF64, origin, sat, satNaN)

	g.cvttToInt(srcF64, dst64, rax, xmm0)
	if dst64 {
		g.movRegImm64(rcx, 1<<63)
		g.alu(aluCmp, true, rax, rcx)
	} else {
		g.aluImm(aluCmp, false, rax, int32(-1<<31))
	}
	g.jcc(condNE, done)

	// Indefinite result: either the source is exactly the lower bound
	// or it is out of range.
	g.loadFloatConst(srcF64, xmm1, minFloatBits)
	g.ucomis(srcF64, xmm0, xmm1)
	g.jcc(condE, done)
	if sat {
		// Below the bound keeps the minimum already in rax; above it
		// saturates to the maximum.
		g.jcc(condB, done)
		if dst64 {
			g.movRegImm64(rax, 1<<63-1)
		} else {
			g.movRegImm32(rax, 1<<31-1)
		}
		g.jmp(done)
		g.bind(satNaN)
		g.alu(aluXor, false, rax, rax)
	} else {
		g.trap(ir.TrapIntegerOverflow, origin)
	}
	g.bind(done)
	if !dst64 {
		g.movRegReg(false, rax, rax)
	}
	g.storeGP(rax, c.Result)
}

// truncU32 converts xmm0 to u32 via a 64-bit signed convert and a
// range check on the result.
func (g *fnGen) truncU32(c *ir.ConvInstr, origin uint32, sat bool) {
	srcF64 := c.Op.OperandType() == wasm.F64

	g.loadX(c.Op.OperandType(), xmm0, c.X)
	done := g.newLabel()
	satNaN := g.newLabel()
	g.checkNaN(srcF64, origin, sat, satNaN)

	g.cvttToInt(srcF64, true, rax, xmm0)
	g.movRegImm32(rcx, 0xffffffff)
	g.alu(aluCmp, true, rax, rcx)
	ok := g.newLabel()
	g.jcc(condBE, ok)
	if sat {
		// Negative sources saturate to 0, positive overflow to the
		// maximum. The sign of the source decides.
		g.sseNP(false, 0x57, xmm1, xmm1) // xorps: zero
		g.ucomis(srcF64, xmm0, xmm1)
		big := g.newLabel()
		g.jcc(condA, big)
		g.bind(satNaN)
		g.alu(aluXor, false, rax, rax)
		g.jmp(done)
		g.bind(big)
		g.movRegImm32(rax, 0xffffffff)
	} else {
		g.trap(ir.TrapIntegerOverflow, origin)
	}
	g.bind(ok)
	g.movRegReg(false, rax, rax)
	g.bind(done)
	g.storeGP(rax, c.Result)
}

// truncU64 converts xmm0 to u64. Sources below 2^63 go through a
// signed convert directly; larger ones are rebased by 2^63 first and
// the high bit is restored afterwards.
func (g *fnGen) truncU64(c *ir.ConvInstr, origin uint32, sat bool) {
	srcF64 := c.Op.OperandType() == wasm.F64
	boundBits := uint64(f32TwoP63)
	if srcF64 {
		boundBits = f64TwoP63
	}

	g.loadX(c.Op.OperandType(), xmm0, c.X)
	done := g.newLabel()
	satNaN := g.newLabel()
	g.checkNaN(srcF64, origin, sat, satNaN)

	g.loadFloatConst(srcF64, xmm1, boundBits)
	g.ucomis(srcF64, xmm0, xmm1)
	large := g.newLabel()
	bad := g.newLabel()
	badHigh := g.newLabel()
	g.jcc(condAE, large)

	g.cvttToInt(srcF64, true, rax, xmm0)
	g.testRegReg(true, rax, rax)
	g.jcc(condS, bad)
	g.jmp(done)

	g.bind(large)
	g.sse(ssePrefix(c.Op.OperandType()), 0x5c, xmm0, xmm1) // subtract 2^63
	g.cvttToInt(srcF64, true, rax, xmm0)
	g.testRegReg(true, rax, rax)
	g.jcc(condS, badHigh)
	g.movRegImm64(rcx, 1<<63)
	g.alu(aluAdd, true, rax, rcx)
	g.jmp(done)

	if sat {
		g.bind(bad)
		g.bind(satNaN)
		g.alu(aluXor, false, rax, rax)
		g.jmp(done)
		g.bind(badHigh)
		g.movRegImm64(rax, 0xffffffffffffffff)
	} else {
		g.bind(bad)
		g.bind(badHigh)
		g.trap(ir.TrapIntegerOverflow, origin)
	}
	g.bind(done)
	g.storeGP(rax, c.Result)
}

// lowerConvertU64 converts an unsigned 64-bit integer to float. Values
// with the top bit clear take the signed convert directly. Otherwise the
// value is halved with the low bit folded into bit zero so the rounding
// of the final doubling matches round-to-nearest-even on the full value.
func (g *fnGen) lowerConvertU64(f64 bool, c *ir.ConvInstr) {
	g.loadGP(rax, c.X)
	big := g.newLabel()
	done := g.newLabel()
	g.testRegReg(true, rax, rax)
	g.jcc(condS, big)
	g.cvtFromInt(f64, true, xmm0, rax)
	g.jmp(done)
	g.bind(big)
	g.movRegReg(true, rcx, rax)
	g.shiftImm(shShr, true, rax, 1)
	g.aluImm(aluAnd, true, rcx, 1)
	g.alu(aluOr, true, rax, rcx)
	g.cvtFromInt(f64, true, xmm0, rax)
	op := byte(0xf3)
	if f64 {
		op = 0xf2
	}
	g.sse(op, 0x58, xmm0, xmm0)
	g.bind(done)
	t := wasm.F32
	if f64 {
		t = wasm.F64
	}
	g.storeX(t, c.Result, xmm0)
}
