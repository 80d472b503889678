package amd64

import (
	"bytes"
	"testing"
)

// TestAsmEncodings checks individual instruction encodings against
// hand-assembled bytes.
func TestAsmEncodings(t *testing.T) {
	cases := []struct {
		name string
		emit func(a *asm)
		want []byte
	}{
		{"push rbp", func(a *asm) { a.push(rbp) }, []byte{0x55}},
		{"push r12", func(a *asm) { a.push(r12) }, []byte{0x41, 0x54}},
		{"pop rbp", func(a *asm) { a.pop(rbp) }, []byte{0x5d}},
		{"mov rbp, rsp", func(a *asm) { a.movRegReg(true, rbp, rsp) }, []byte{0x48, 0x89, 0xe5}},
		{"mov rax, [rbp-8]", func(a *asm) { a.movRegMem(true, rax, rbp, -8) }, []byte{0x48, 0x8b, 0x45, 0xf8}},
		{"mov rax, [rsp+8]", func(a *asm) { a.movRegMem(true, rax, rsp, 8) }, []byte{0x48, 0x8b, 0x44, 0x24, 0x08}},
		{"mov ecx, [rbp]", func(a *asm) { a.movRegMem(false, rcx, rbp, 0) }, []byte{0x8b, 0x4d, 0x00}},
		{"mov [rbp-256], rdi", func(a *asm) { a.movMemReg(true, rbp, -256, rdi) },
			[]byte{0x48, 0x89, 0xbd, 0x00, 0xff, 0xff, 0xff}},
		{"mov rax, [rsi+rcx]", func(a *asm) { a.movRegMemIdx(true, rax, rsi, rcx, 0) },
			[]byte{0x48, 0x8b, 0x04, 0x0e}},
		{"movabs rax, imm64", func(a *asm) { a.movRegImm64(rax, 0x1122334455667788) },
			[]byte{0x48, 0xb8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"mov ecx, 7", func(a *asm) { a.movRegImm32(rcx, 7) }, []byte{0xb9, 0x07, 0x00, 0x00, 0x00}},
		{"add eax, ecx", func(a *asm) { a.alu(aluAdd, false, rax, rcx) }, []byte{0x01, 0xc8}},
		{"sub rsp, 64", func(a *asm) { a.aluImm(aluSub, true, rsp, 64) },
			[]byte{0x48, 0x81, 0xec, 0x40, 0x00, 0x00, 0x00}},
		{"cmp rax, r10", func(a *asm) { a.alu(aluCmp, true, rax, r10) }, []byte{0x4c, 0x39, 0xd0}},
		{"test rax, rax", func(a *asm) { a.testRegReg(true, rax, rax) }, []byte{0x48, 0x85, 0xc0}},
		{"imul rax, rcx", func(a *asm) { a.imulRegReg(true, rax, rcx) }, []byte{0x48, 0x0f, 0xaf, 0xc1}},
		{"shr rax, 1", func(a *asm) { a.shiftImm(shShr, true, rax, 1) }, []byte{0x48, 0xc1, 0xe8, 0x01}},
		{"shl eax, cl", func(a *asm) { a.shiftCl(shShl, false, rax) }, []byte{0xd3, 0xe0}},
		{"cqo", func(a *asm) { a.cdq(true) }, []byte{0x48, 0x99}},
		{"idiv rcx", func(a *asm) { a.idiv(true, rcx) }, []byte{0x48, 0xf7, 0xf9}},
		{"div ecx", func(a *asm) { a.div(false, rcx) }, []byte{0xf7, 0xf1}},
		{"popcnt rax, rcx", func(a *asm) { a.popcnt(true, rax, rcx) }, []byte{0xf3, 0x48, 0x0f, 0xb8, 0xc1}},
		{"sete al", func(a *asm) { a.setcc(condE, rax) }, []byte{0x0f, 0x94, 0xc0}},
		{"setb sil", func(a *asm) { a.setcc(condB, rsi) }, []byte{0x40, 0x0f, 0x92, 0xc6}},
		{"movzx eax, al", func(a *asm) { a.movzx8RegReg(rax, rax) }, []byte{0x0f, 0xb6, 0xc0}},
		{"cmovne rax, rcx", func(a *asm) { a.cmovcc(condNE, true, rax, rcx) }, []byte{0x48, 0x0f, 0x45, 0xc1}},
		{"movsxd rax, eax", func(a *asm) { a.movsxRegReg(4, true, rax, rax) }, []byte{0x48, 0x63, 0xc0}},
		{"ud2", func(a *asm) { a.ud2() }, []byte{0x0f, 0x0b}},
		{"ret", func(a *asm) { a.ret() }, []byte{0xc3}},
		{"call r10", func(a *asm) { a.callReg(r10) }, []byte{0x41, 0xff, 0xd2}},
		{"lea rax, [rbp-16]", func(a *asm) { a.lea(rax, rbp, -16) }, []byte{0x48, 0x8d, 0x45, 0xf0}},
		{"addsd xmm0, xmm1", func(a *asm) { a.sse(0xf2, 0x58, xmm0, xmm1) }, []byte{0xf2, 0x0f, 0x58, 0xc1}},
		{"movq xmm0, rax", func(a *asm) { a.movdToXmm(true, xmm0, rax) }, []byte{0x66, 0x48, 0x0f, 0x6e, 0xc0}},
		{"movq rax, xmm0", func(a *asm) { a.movdFromXmm(true, rax, xmm0) }, []byte{0x66, 0x48, 0x0f, 0x7e, 0xc0}},
		{"cvttsd2si rax, xmm0", func(a *asm) { a.cvttToInt(true, true, rax, xmm0) },
			[]byte{0xf2, 0x48, 0x0f, 0x2c, 0xc0}},
		{"cvtsi2ss xmm0, eax", func(a *asm) { a.cvtFromInt(false, false, xmm0, rax) },
			[]byte{0xf3, 0x0f, 0x2a, 0xc0}},
		{"movsd xmm1, [rbp-24]", func(a *asm) { a.sseRegMem(0xf2, xmm1, rbp, -24) },
			[]byte{0xf2, 0x0f, 0x10, 0x4d, 0xe8}},
		{"movss [rbp-4], xmm0", func(a *asm) { a.sseMemReg(0xf3, rbp, -4, xmm0) },
			[]byte{0xf3, 0x0f, 0x11, 0x45, 0xfc}},
		{"roundss xmm0, xmm0, trunc", func(a *asm) { a.roundsse(false, xmm0, xmm0, 3) },
			[]byte{0x66, 0x0f, 0x3a, 0x0a, 0xc0, 0x03}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var a asm
			tc.emit(&a)
			if !bytes.Equal(a.buf, tc.want) {
				t.Errorf("got % x, want % x", a.buf, tc.want)
			}
		})
	}
}

func TestAsmLabelFixups(t *testing.T) {
	var a asm

	top := a.newLabel()
	a.bind(top)
	a.jmp(top)
	if err := a.finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// A jump to its own start is rel32 -5.
	want := []byte{0xe9, 0xfb, 0xff, 0xff, 0xff}
	if !bytes.Equal(a.buf, want) {
		t.Fatalf("backward jmp: got % x, want % x", a.buf, want)
	}
}

func TestAsmForwardJcc(t *testing.T) {
	var a asm

	skip := a.newLabel()
	a.jcc(condE, skip)
	a.ud2()
	a.bind(skip)
	a.ret()
	if err := a.finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// je +2 over the ud2.
	want := []byte{0x0f, 0x84, 0x02, 0x00, 0x00, 0x00, 0x0f, 0x0b, 0xc3}
	if !bytes.Equal(a.buf, want) {
		t.Fatalf("forward jcc: got % x, want % x", a.buf, want)
	}
}

func TestAsmUnboundLabel(t *testing.T) {
	var a asm

	l := a.newLabel()
	a.jmp(l)
	if err := a.finish(); err == nil {
		t.Fatal("finish accepted an unbound label")
	}
}
