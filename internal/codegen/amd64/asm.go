// Package amd64 lowers IR to x86-64 machine code. The baseline is a
// spill-everything allocator: every IR value and wasm local owns a
// fixed frame slot, instructions work through a small scratch register
// set, and all control flow goes through label fixups resolved when the
// function is sealed. SSE4.1 is assumed for the rounding operators.
package amd64

import (
	"encoding/binary"
	"fmt"
)

// General-purpose registers, hardware encoding order.
type reg uint8

const (
	rax reg = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

// XMM registers.
type xreg uint8

const (
	xmm0 xreg = iota
	xmm1
	xmm2
	xmm3
	xmm4
	xmm5
	xmm6
	xmm7
)

// Condition codes (Jcc/SETcc/CMOVcc low nibble).
type cond uint8

const (
	condO  cond = 0x0
	condB  cond = 0x2 // unsigned <
	condAE cond = 0x3 // unsigned >=
	condE  cond = 0x4
	condNE cond = 0x5
	condBE cond = 0x6 // unsigned <=
	condA  cond = 0x7 // unsigned >
	condS  cond = 0x8
	condNS cond = 0x9
	condP  cond = 0xa
	condNP cond = 0xb
	condL  cond = 0xc // signed <
	condGE cond = 0xd // signed >=
	condLE cond = 0xe // signed <=
	condG  cond = 0xf // signed >
)

// label marks a forward or backward jump target.
type label int32

type fixup struct {
	off int32 // position of the rel32 field
	lbl label
}

// asm is a one-function instruction buffer with label fixups.
type asm struct {
	buf    []byte
	labels []int32 // label -> bound offset, -1 while unbound
	fixups []fixup
}

func (a *asm) off() int32 { return int32(len(a.buf)) }

func (a *asm) byte(bs ...byte) { a.buf = append(a.buf, bs...) }

func (a *asm) u32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

func (a *asm) u64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

func (a *asm) newLabel() label {
	a.labels = append(a.labels, -1)
	return label(len(a.labels) - 1)
}

func (a *asm) bind(l label) {
	a.labels[l] = a.off()
}

// finish patches all recorded rel32 fields. Every label must be bound.
func (a *asm) finish() error {
	for _, f := range a.fixups {
		target := a.labels[f.lbl]
		if target < 0 {
			return fmt.Errorf("amd64: unbound label %d", f.lbl)
		}
		rel := target - (f.off + 4)
		binary.LittleEndian.PutUint32(a.buf[f.off:], uint32(rel))
	}
	return nil
}

// rex emits a REX prefix when needed. r/x/b are the extension bits of
// the modrm reg field, SIB index and base respectively.
func (a *asm) rex(w bool, r, x, b uint8) {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	v |= (r & 8) >> 1
	v |= (x & 8) >> 2
	v |= (b & 8) >> 3
	if v != 0x40 || w {
		a.byte(v)
	}
}

// rexOpt is rex for operations that never need a prefix on low
// registers (no 64-bit width, no extended registers).
func (a *asm) rexOpt(r, x, b uint8) {
	v := byte(0x40)
	v |= (r & 8) >> 1
	v |= (x & 8) >> 2
	v |= (b & 8) >> 3
	if v != 0x40 {
		a.byte(v)
	}
}

func (a *asm) modrm(mod, regField, rm uint8) {
	a.byte(mod<<6 | (regField&7)<<3 | rm&7)
}

// mem emits the modrm/SIB/disp bytes for regField, [base+disp].
func (a *asm) mem(regField uint8, base reg, disp int32) {
	b := uint8(base)
	needSIB := base == rsp || base == r12
	mod := uint8(2)
	small := disp >= -128 && disp <= 127
	if small {
		mod = 1
	}
	if disp == 0 && base != rbp && base != r13 {
		mod = 0
	}
	if needSIB {
		a.modrm(mod, regField, 4)
		a.byte(0x24) // scale 0, index none, base rsp/r12
	} else {
		a.modrm(mod, regField, b)
	}
	switch mod {
	case 1:
		a.byte(byte(disp))
	case 2:
		a.u32(uint32(disp))
	}
}

// memIdx emits modrm/SIB/disp for regField, [base + index + disp]
// (scale 1). index must not be rsp.
func (a *asm) memIdx(regField uint8, base reg, index reg, disp int32) {
	mod := uint8(2)
	if disp >= -128 && disp <= 127 {
		mod = 1
	}
	if disp == 0 && base != rbp && base != r13 {
		mod = 0
	}
	a.modrm(mod, regField, 4)
	a.byte(uint8(index)&7<<3 | uint8(base)&7)
	switch mod {
	case 1:
		a.byte(byte(disp))
	case 2:
		a.u32(uint32(disp))
	}
}

// --- moves ---

// movRegImm64 emits movabs r, imm64 and reports the immediate's offset
// for relocation patching.
func (a *asm) movRegImm64(r reg, imm uint64) int32 {
	a.rex(true, 0, 0, uint8(r))
	a.byte(0xb8 + byte(r&7))
	off := a.off()
	a.u64(imm)
	return off
}

func (a *asm) movRegImm32(r reg, imm uint32) {
	a.rexOpt(0, 0, uint8(r))
	a.byte(0xb8 + byte(r&7))
	a.u32(imm)
}

func (a *asm) movRegReg(w bool, dst, src reg) {
	a.rex(w, uint8(src), 0, uint8(dst))
	a.byte(0x89)
	a.modrm(3, uint8(src), uint8(dst))
}

func (a *asm) movRegMem(w bool, dst, base reg, disp int32) {
	a.rex(w, uint8(dst), 0, uint8(base))
	a.byte(0x8b)
	a.mem(uint8(dst), base, disp)
}

func (a *asm) movMemReg(w bool, base reg, disp int32, src reg) {
	a.rex(w, uint8(src), 0, uint8(base))
	a.byte(0x89)
	a.mem(uint8(src), base, disp)
}

// movRegMemIdx loads w-sized from [base+index+disp].
func (a *asm) movRegMemIdx(w bool, dst, base, index reg, disp int32) {
	a.rex(w, uint8(dst), uint8(index), uint8(base))
	a.byte(0x8b)
	a.memIdx(uint8(dst), base, index, disp)
}

func (a *asm) movMemIdxReg(w bool, base, index reg, disp int32, src reg) {
	a.rex(w, uint8(src), uint8(index), uint8(base))
	a.byte(0x89)
	a.memIdx(uint8(src), base, index, disp)
}

// Narrow stores into [base+index+disp].
func (a *asm) movMemIdxReg8(base, index reg, disp int32, src reg) {
	// SPL/BPL/SIL/DIL need a REX prefix even without extension bits.
	v := byte(0x40)
	v |= uint8(src) & 8 >> 1
	v |= uint8(index) & 8 >> 2
	v |= uint8(base) & 8 >> 3
	if v != 0x40 || src >= rsp {
		a.byte(v)
	}
	a.byte(0x88)
	a.memIdx(uint8(src), base, index, disp)
}

func (a *asm) movMemIdxReg16(base, index reg, disp int32, src reg) {
	a.byte(0x66)
	a.rex(false, uint8(src), uint8(index), uint8(base))
	a.byte(0x89)
	a.memIdx(uint8(src), base, index, disp)
}

// Widening loads from [base+index+disp].
func (a *asm) movzxRegMemIdx(width uint8, w bool, dst, base, index reg, disp int32) {
	a.rex(w, uint8(dst), uint8(index), uint8(base))
	switch width {
	case 1:
		a.byte(0x0f, 0xb6)
	case 2:
		a.byte(0x0f, 0xb7)
	default:
		panic("amd64: movzx width")
	}
	a.memIdx(uint8(dst), base, index, disp)
}

func (a *asm) movsxRegMemIdx(width uint8, w bool, dst, base, index reg, disp int32) {
	a.rex(w, uint8(dst), uint8(index), uint8(base))
	switch width {
	case 1:
		a.byte(0x0f, 0xbe)
	case 2:
		a.byte(0x0f, 0xbf)
	case 4:
		a.byte(0x63) // movsxd
	default:
		panic("amd64: movsx width")
	}
	a.memIdx(uint8(dst), base, index, disp)
}

// movsxRegReg sign-extends src's low width bytes into 64-bit dst.
func (a *asm) movsxRegReg(width uint8, w bool, dst, src reg) {
	a.rex(w, uint8(dst), 0, uint8(src))
	switch width {
	case 1:
		a.byte(0x0f, 0xbe)
	case 2:
		a.byte(0x0f, 0xbf)
	case 4:
		a.byte(0x63)
	default:
		panic("amd64: movsx width")
	}
	a.modrm(3, uint8(dst), uint8(src))
}

// --- integer ALU ---

type aluOp byte

const (
	aluAdd aluOp = 0x01
	aluOr  aluOp = 0x09
	aluAnd aluOp = 0x21
	aluSub aluOp = 0x29
	aluXor aluOp = 0x31
	aluCmp aluOp = 0x39
)

func (a *asm) alu(op aluOp, w bool, dst, src reg) {
	a.rex(w, uint8(src), 0, uint8(dst))
	a.byte(byte(op))
	a.modrm(3, uint8(src), uint8(dst))
}

// aluImm uses the 0x81 group (/0 add, /1 or, /4 and, /5 sub, /6 xor,
// /7 cmp) with a 32-bit immediate, sign-extended at 64-bit width.
func (a *asm) aluImm(op aluOp, w bool, r reg, imm int32) {
	var ext uint8
	switch op {
	case aluAdd:
		ext = 0
	case aluOr:
		ext = 1
	case aluAnd:
		ext = 4
	case aluSub:
		ext = 5
	case aluXor:
		ext = 6
	case aluCmp:
		ext = 7
	}
	a.rex(w, 0, 0, uint8(r))
	a.byte(0x81)
	a.modrm(3, ext, uint8(r))
	a.u32(uint32(imm))
}

func (a *asm) testRegReg(w bool, x, y reg) {
	a.rex(w, uint8(y), 0, uint8(x))
	a.byte(0x85)
	a.modrm(3, uint8(y), uint8(x))
}

func (a *asm) imulRegReg(w bool, dst, src reg) {
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0xaf)
	a.modrm(3, uint8(dst), uint8(src))
}

type shiftOp uint8

const (
	shRol shiftOp = 0
	shRor shiftOp = 1
	shShl shiftOp = 4
	shShr shiftOp = 5
	shSar shiftOp = 7
)

// shiftCl shifts r by CL.
func (a *asm) shiftCl(op shiftOp, w bool, r reg) {
	a.rex(w, 0, 0, uint8(r))
	a.byte(0xd3)
	a.modrm(3, uint8(op), uint8(r))
}

// cdq/cqo sign-extend RAX into RDX ahead of idiv.
func (a *asm) cdq(w bool) {
	if w {
		a.byte(0x48)
	}
	a.byte(0x99)
}

func (a *asm) idiv(w bool, r reg) {
	a.rex(w, 0, 0, uint8(r))
	a.byte(0xf7)
	a.modrm(3, 7, uint8(r))
}

func (a *asm) div(w bool, r reg) {
	a.rex(w, 0, 0, uint8(r))
	a.byte(0xf7)
	a.modrm(3, 6, uint8(r))
}

func (a *asm) bsr(w bool, dst, src reg) {
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0xbd)
	a.modrm(3, uint8(dst), uint8(src))
}

func (a *asm) bsf(w bool, dst, src reg) {
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0xbc)
	a.modrm(3, uint8(dst), uint8(src))
}

func (a *asm) popcnt(w bool, dst, src reg) {
	a.byte(0xf3)
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0xb8)
	a.modrm(3, uint8(dst), uint8(src))
}

func (a *asm) setcc(c cond, r reg) {
	// r/m8 on RSP..RDI needs REX to address SPL..DIL.
	v := byte(0x40) | uint8(r)&8>>3
	if v != 0x40 || r >= rsp {
		a.byte(v)
	}
	a.byte(0x0f, 0x90+byte(c))
	a.modrm(3, 0, uint8(r))
}

func (a *asm) movzx8RegReg(dst, src reg) {
	v := byte(0x40)
	v |= uint8(dst) & 8 >> 1
	v |= uint8(src) & 8 >> 3
	if v != 0x40 || src >= rsp {
		a.byte(v)
	}
	a.byte(0x0f, 0xb6)
	a.modrm(3, uint8(dst), uint8(src))
}

func (a *asm) cmovcc(c cond, w bool, dst, src reg) {
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0x40+byte(c))
	a.modrm(3, uint8(dst), uint8(src))
}

// --- control ---

func (a *asm) push(r reg) {
	if r >= r8 {
		a.byte(0x41)
	}
	a.byte(0x50 + byte(r&7))
}

func (a *asm) pop(r reg) {
	if r >= r8 {
		a.byte(0x41)
	}
	a.byte(0x58 + byte(r&7))
}

func (a *asm) ret() { a.byte(0xc3) }

func (a *asm) ud2() { a.byte(0x0f, 0x0b) }

func (a *asm) jmp(l label) {
	a.byte(0xe9)
	a.fixups = append(a.fixups, fixup{off: a.off(), lbl: l})
	a.u32(0)
}

func (a *asm) jcc(c cond, l label) {
	a.byte(0x0f, 0x80+byte(c))
	a.fixups = append(a.fixups, fixup{off: a.off(), lbl: l})
	a.u32(0)
}

// callRel32 emits a rel32 call and reports the displacement's offset
// for relocation patching.
func (a *asm) callRel32() int32 {
	a.byte(0xe8)
	off := a.off()
	a.u32(0)
	return off
}

func (a *asm) callReg(r reg) {
	if r >= r8 {
		a.byte(0x41)
	}
	a.byte(0xff)
	a.modrm(3, 2, uint8(r))
}

// --- SSE ---

// sse emits prefix? 0F opc /r with xmm dst and xmm src.
func (a *asm) sse(prefix byte, opc byte, dst, src xreg) {
	if prefix != 0 {
		a.byte(prefix)
	}
	a.rexOpt(uint8(dst), 0, uint8(src))
	a.byte(0x0f, opc)
	a.modrm(3, uint8(dst), uint8(src))
}

// movdToXmm moves a GP register into an XMM register (movd/movq).
func (a *asm) movdToXmm(w bool, dst xreg, src reg) {
	a.byte(0x66)
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0x6e)
	a.modrm(3, uint8(dst), uint8(src))
}

func (a *asm) movdFromXmm(w bool, dst reg, src xreg) {
	a.byte(0x66)
	a.rex(w, uint8(src), 0, uint8(dst))
	a.byte(0x0f, 0x7e)
	a.modrm(3, uint8(src), uint8(dst))
}

// cvttToInt is cvttss2si/cvttsd2si into a GP register.
func (a *asm) cvttToInt(f64 bool, w bool, dst reg, src xreg) {
	if f64 {
		a.byte(0xf2)
	} else {
		a.byte(0xf3)
	}
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0x2c)
	a.modrm(3, uint8(dst), uint8(src))
}

// cvtFromInt is cvtsi2ss/cvtsi2sd from a GP register.
func (a *asm) cvtFromInt(f64 bool, w bool, dst xreg, src reg) {
	if f64 {
		a.byte(0xf2)
	} else {
		a.byte(0xf3)
	}
	a.rex(w, uint8(dst), 0, uint8(src))
	a.byte(0x0f, 0x2a)
	a.modrm(3, uint8(dst), uint8(src))
}

// sseRegMem loads an XMM register from [base+disp] (movss/movsd).
func (a *asm) sseRegMem(prefix byte, dst xreg, base reg, disp int32) {
	a.byte(prefix)
	a.rexOpt(uint8(dst), 0, uint8(base))
	a.byte(0x0f, 0x10)
	a.mem(uint8(dst), base, disp)
}

// sseMemReg stores an XMM register to [base+disp].
func (a *asm) sseMemReg(prefix byte, base reg, disp int32, src xreg) {
	a.byte(prefix)
	a.rexOpt(uint8(src), 0, uint8(base))
	a.byte(0x0f, 0x11)
	a.mem(uint8(src), base, disp)
}

func (a *asm) sseRegMemIdx(prefix byte, dst xreg, base, index reg, disp int32) {
	a.byte(prefix)
	a.rexOpt(uint8(dst), uint8(index), uint8(base))
	a.byte(0x0f, 0x10)
	a.memIdx(uint8(dst), base, index, disp)
}

func (a *asm) sseMemIdxReg(prefix byte, base, index reg, disp int32, src xreg) {
	a.byte(prefix)
	a.rexOpt(uint8(src), uint8(index), uint8(base))
	a.byte(0x0f, 0x11)
	a.memIdx(uint8(src), base, index, disp)
}

func (a *asm) lea(dst, base reg, disp int32) {
	a.rex(true, uint8(dst), 0, uint8(base))
	a.byte(0x8d)
	a.mem(uint8(dst), base, disp)
}

// shiftImm shifts r by a constant (C1 group).
func (a *asm) shiftImm(op shiftOp, w bool, r reg, n uint8) {
	a.rex(w, 0, 0, uint8(r))
	a.byte(0xc1)
	a.modrm(3, uint8(op), uint8(r))
	a.byte(n)
}

// roundsse is roundss/roundsd (SSE4.1); mode 0 nearest-even, 1 floor,
// 2 ceil, 3 trunc.
func (a *asm) roundsse(f64 bool, dst, src xreg, mode byte) {
	a.byte(0x66)
	a.rexOpt(uint8(dst), 0, uint8(src))
	opc := byte(0x0a)
	if f64 {
		opc = 0x0b
	}
	a.byte(0x0f, 0x3a, opc)
	a.modrm(3, uint8(dst), uint8(src))
	a.byte(mode)
}
