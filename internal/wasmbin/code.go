package wasmbin

import (
	"fmt"

	"smelt/internal/wasm"
)

// maxLocals bounds the expanded local count of one function so a short
// declaration cannot demand gigabytes.
const maxLocals = 1 << 20

// decodeFuncBody reads one code entry: local declarations followed by
// the operator stream, which keeps its terminating end operator.
func (d *decoder) decodeFuncBody(r *reader) (wasm.FuncBody, error) {
	var fb wasm.FuncBody

	err := vec(r, func(int) error {
		count, err := r.u32()
		if err != nil {
			return err
		}
		t, err := valueType(r)
		if err != nil {
			return err
		}
		if len(fb.Locals)+int(count) > maxLocals {
			return fmt.Errorf("more than %d locals", maxLocals)
		}
		for j := uint32(0); j < count; j++ {
			fb.Locals = append(fb.Locals, t)
		}
		return nil
	})
	if err != nil {
		return fb, fmt.Errorf("locals: %w", err)
	}

	depth := 1 // the implicit function frame
	for r.len() > 0 {
		op, err := d.decodeOp(r)
		if err != nil {
			return fb, err
		}
		switch op.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			depth++
		case wasm.OpEnd:
			depth--
		}
		fb.Ops = append(fb.Ops, op)
		if depth == 0 {
			break
		}
	}
	if depth != 0 {
		return fb, fmt.Errorf("%d unterminated blocks", depth)
	}
	if r.len() != 0 {
		return fb, fmt.Errorf("%d bytes after the final end", r.len())
	}
	return fb, nil
}

// decodeOp reads one operator with its immediates.
func (d *decoder) decodeOp(r *reader) (wasm.Op, error) {
	op := wasm.Op{Offset: r.off()}

	b, err := r.byte()
	if err != nil {
		return op, err
	}
	oc := wasm.Opcode(b)
	if b == 0xfc {
		sub, err := r.u32()
		if err != nil {
			return op, err
		}
		oc = wasm.Opcode(0xfc00 | uint16(sub))
	}
	if !oc.Known() {
		return op, fmt.Errorf("offset %#x: unknown opcode %#x", op.Offset, b)
	}
	op.Opcode = oc

	switch oc {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		bt, err := d.blockType(r)
		if err != nil {
			return op, err
		}
		op.Block = bt

	case wasm.OpBr, wasm.OpBrIf, wasm.OpCall,
		wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee,
		wasm.OpGlobalGet, wasm.OpGlobalSet,
		wasm.OpMemorySize, wasm.OpMemoryGrow:
		if op.A, err = r.u32(); err != nil {
			return op, err
		}

	case wasm.OpBrTable:
		if err := vec(r, func(int) error {
			t, err := r.u32()
			if err != nil {
				return err
			}
			op.Targets = append(op.Targets, t)
			return nil
		}); err != nil {
			return op, err
		}
		def, err := r.u32()
		if err != nil {
			return op, err
		}
		op.Targets = append(op.Targets, def)

	case wasm.OpCallIndirect:
		if op.A, err = r.u32(); err != nil {
			return op, err
		}
		if op.B, err = r.u32(); err != nil {
			return op, err
		}

	case wasm.OpI32Const:
		v, err := r.s32()
		if err != nil {
			return op, err
		}
		op.Wide = uint64(int64(v))

	case wasm.OpI64Const:
		v, err := r.s64()
		if err != nil {
			return op, err
		}
		op.Wide = uint64(v)

	case wasm.OpF32Const:
		bits, err := r.f32bits()
		if err != nil {
			return op, err
		}
		op.Wide = uint64(bits)

	case wasm.OpF64Const:
		if op.Wide, err = r.f64bits(); err != nil {
			return op, err
		}

	default:
		if isMemAccess(oc) {
			if op.A, err = r.u32(); err != nil { // align
				return op, err
			}
			if op.B, err = r.u32(); err != nil { // offset
				return op, err
			}
		}
	}
	return op, nil
}

func isMemAccess(oc wasm.Opcode) bool {
	return oc >= wasm.OpI32Load && oc <= wasm.OpI64Store32
}

// blockType reads a block, loop or if type immediate: empty, a single
// value type, or a type section index as a positive SLEB33.
func (d *decoder) blockType(r *reader) (wasm.BlockType, error) {
	b, err := r.byte()
	if err != nil {
		return wasm.BlockType{}, err
	}
	if b == 0x40 {
		return wasm.BlockType{Kind: wasm.BlockEmpty}, nil
	}
	t := wasm.ValueType(b)
	if t.IsNum() || t.IsRef() {
		return wasm.BlockType{Kind: wasm.BlockValue, Value: t}, nil
	}
	// Re-read the byte as the head of a signed index.
	r.pos--
	v, err := r.sleb(5)
	if err != nil {
		return wasm.BlockType{}, err
	}
	if v < 0 || v > 0x7fffffff {
		return wasm.BlockType{}, fmt.Errorf("block type %d", v)
	}
	si, err := d.typeIndex(uint32(v))
	if err != nil {
		return wasm.BlockType{}, err
	}
	return wasm.BlockType{Kind: wasm.BlockSig, Sig: si}, nil
}
