package amd64

import (
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// Trampolines bridge the host boundary with a boxed-value convention:
// the host side passes arguments and receives results through a dense
// array of 8-byte cells, one per value, integers zero-extended and
// floats stored in their own width at the cell's low bytes.
//
// Export trampolines are entered from the host as
//
//	func(entry, argv) // entry in rdi, argv in rsi
//
// unpack argv into the internal convention, call entry, and write the
// result back to argv[0].
//
// Import trampolines are entered from compiled code with arguments
// already in the internal convention, plus the host routine's address
// in r10 (placed there by the per-import thunk the linker installs).
// They box the arguments into a stack argv, call the host routine as
// func(argv), and return its result in the internal convention.

func (b *Backend) ExportTrampoline(s sig.Signature) ([]byte, error) {
	var a asm
	a.push(rbp)
	a.movRegReg(true, rbp, rsp)

	// One frame slot keeps argv across the call; the callee clobbers
	// every scratch register, r11 included.
	outgoing := stackArgCount(s.Params)
	a.aluImm(aluSub, true, rsp, int32((outgoing*8+8+15)&^15))

	a.movRegReg(true, r10, rdi)
	a.movRegReg(true, r11, rsi)
	a.movMemReg(true, rbp, -8, rsi)

	intIdx, fltIdx, stackIdx := 0, 0, 0
	for i, t := range s.Params {
		cell := int32(8 * i)
		switch {
		case isFloat(t) && fltIdx < numFloatArgRegs:
			a.sseRegMem(ssePrefix(t), xreg(fltIdx), r11, cell)
			fltIdx++
		case !isFloat(t) && intIdx < len(intArgRegs):
			a.movRegMem(true, intArgRegs[intIdx], r11, cell)
			intIdx++
		default:
			a.movRegMem(true, rax, r11, cell)
			a.movMemReg(true, rsp, int32(8*stackIdx), rax)
			stackIdx++
		}
	}

	a.callReg(r10)

	if len(s.Results) == 1 {
		a.movRegMem(true, r11, rbp, -8)
		t := s.Results[0]
		if isFloat(t) {
			a.sseMemReg(ssePrefix(t), r11, 0, xmm0)
		} else {
			if t == wasm.I32 {
				a.movRegReg(false, rax, rax)
			}
			a.movMemReg(true, r11, 0, rax)
		}
	}

	a.byte(0xc9) // leave
	a.ret()
	if err := a.finish(); err != nil {
		return nil, err
	}
	return a.buf, nil
}

func (b *Backend) ImportTrampoline(s sig.Signature) ([]byte, error) {
	var a asm
	a.push(rbp)
	a.movRegReg(true, rbp, rsp)

	cells := len(s.Params)
	if len(s.Results) > cells {
		cells = len(s.Results)
	}
	if cells == 0 {
		cells = 1
	}
	a.aluImm(aluSub, true, rsp, int32((cells*8+15)&^15))

	intIdx, fltIdx, stackIdx := 0, 0, 0
	for i, t := range s.Params {
		cell := int32(8 * i)
		switch {
		case isFloat(t) && fltIdx < numFloatArgRegs:
			a.sseMemReg(ssePrefix(t), rsp, cell, xreg(fltIdx))
			fltIdx++
		case !isFloat(t) && intIdx < len(intArgRegs):
			a.movMemReg(true, rsp, cell, intArgRegs[intIdx])
			intIdx++
		default:
			// Overflow arguments arrive above the saved frame.
			a.movRegMem(true, rax, rbp, int32(16+8*stackIdx))
			a.movMemReg(true, rsp, cell, rax)
			stackIdx++
		}
	}

	a.movRegReg(true, rdi, rsp)
	a.callReg(r10)

	if len(s.Results) == 1 {
		t := s.Results[0]
		switch {
		case isFloat(t):
			a.sseRegMem(ssePrefix(t), xmm0, rsp, 0)
		case t == wasm.I32:
			a.movRegMem(false, rax, rsp, 0)
		default:
			a.movRegMem(true, rax, rsp, 0)
		}
	}

	a.byte(0xc9) // leave
	a.ret()
	if err := a.finish(); err != nil {
		return nil, err
	}
	return a.buf, nil
}
