package translate

import (
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/wasm"
)

// op dispatches one operator. Operators in a dead region (after an
// unconditional transfer, until the enclosing frame's else/end) are
// skipped; validated input guarantees they are unreachable.
func (b *builder) op(op *wasm.Op) error {
	b.lastOff = op.Offset

	if b.dead {
		switch op.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			b.deadDepth++
		case wasm.OpElse:
			if b.deadDepth == 0 {
				return b.enterElse(false)
			}
		case wasm.OpEnd:
			if b.deadDepth == 0 {
				return b.endFrame(false)
			}
			b.deadDepth--
		}
		return nil
	}

	switch op.Opcode {
	case wasm.OpNop:
		return nil
	case wasm.OpUnreachable:
		b.terminate(ir.Terminator{Kind: ir.TermTrap, Trap: ir.TrapTerm{Reason: ir.TrapUnreachable}})
		b.setDead()
		return nil
	case wasm.OpBlock:
		return b.enterBlock(op)
	case wasm.OpLoop:
		return b.enterLoop(op)
	case wasm.OpIf:
		return b.enterIf(op)
	case wasm.OpElse:
		return b.enterElse(true)
	case wasm.OpEnd:
		return b.endFrame(true)
	case wasm.OpBr:
		return b.br(op.A)
	case wasm.OpBrIf:
		return b.brIf(op.A)
	case wasm.OpBrTable:
		return b.brTable(op)
	case wasm.OpReturn:
		args, err := b.peekN(len(b.f.Results))
		if err != nil {
			return err
		}
		b.terminate(ir.Terminator{Kind: ir.TermReturn, Return: ir.ReturnTerm{Values: args}})
		b.setDead()
		return nil
	default:
		return b.lower(op)
	}
}

func (b *builder) setDead() {
	b.dead = true
	b.deadDepth = 0
}

func (b *builder) enterBlock(op *wasm.Op) error {
	params, results, err := b.blockSig(op.Block)
	if err != nil {
		return err
	}
	cont := b.newBlock()
	b.blockParams(cont, results)
	b.ctrl = append(b.ctrl, ctrlFrame{
		kind:    ctrlBlock,
		cont:    cont,
		params:  params,
		results: results,
		base:    len(b.stack) - len(params),
	})
	return nil
}

func (b *builder) enterLoop(op *wasm.Op) error {
	params, results, err := b.blockSig(op.Block)
	if err != nil {
		return err
	}
	head := b.newBlock()
	headParams := b.blockParams(head, params)
	cont := b.newBlock()
	b.blockParams(cont, results)

	args, err := b.popN(len(params))
	if err != nil {
		return err
	}
	b.terminate(ir.Terminator{Kind: ir.TermBr, Br: ir.BrTarget{Block: head, Args: args}})
	b.cur = head
	b.stack = append(b.stack, headParams...)

	b.ctrl = append(b.ctrl, ctrlFrame{
		kind:    ctrlLoop,
		cont:    cont,
		head:    head,
		params:  params,
		results: results,
		base:    len(b.stack) - len(params),
	})
	return nil
}

func (b *builder) enterIf(op *wasm.Op) error {
	cond, err := b.pop()
	if err != nil {
		return err
	}
	params, results, err := b.blockSig(op.Block)
	if err != nil {
		return err
	}
	then := b.newBlock()
	els := b.newBlock()
	cont := b.newBlock()
	b.blockParams(cont, results)

	inputs, err := b.peekN(len(params))
	if err != nil {
		return err
	}
	b.terminate(ir.Terminator{Kind: ir.TermBrIf, BrIf: ir.BrIfTerm{
		Cond: cond,
		Then: ir.BrTarget{Block: then},
		Else: ir.BrTarget{Block: els},
	}})
	b.cur = then

	b.ctrl = append(b.ctrl, ctrlFrame{
		kind:      ctrlIf,
		cont:      cont,
		params:    params,
		results:   results,
		base:      len(b.stack) - len(params),
		elseBlock: els,
		elseArgs:  inputs,
	})
	return nil
}

// enterElse switches construction to the else arm. reachable indicates
// whether the then arm fell through (and must branch to the merge).
func (b *builder) enterElse(reachable bool) error {
	if len(b.ctrl) == 0 {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeMalformedControl, "else outside any frame")
	}
	frame := &b.ctrl[len(b.ctrl)-1]
	if frame.kind != ctrlIf {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeMalformedControl, "else without matching if")
	}
	if reachable {
		args, err := b.popN(len(frame.results))
		if err != nil {
			return err
		}
		b.terminate(ir.Terminator{Kind: ir.TermBr, Br: ir.BrTarget{Block: frame.cont, Args: args}})
	}
	frame.sawElse = true
	b.cur = frame.elseBlock
	if len(b.stack) > frame.base {
		b.stack = b.stack[:frame.base]
	}
	b.stack = append(b.stack, frame.elseArgs...)
	b.dead = false
	return nil
}

// endFrame seals the innermost frame. reachable indicates whether the
// current arm falls through into the merge block.
func (b *builder) endFrame(reachable bool) error {
	if len(b.ctrl) == 0 {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeMalformedControl, "end outside any frame")
	}
	frame := b.ctrl[len(b.ctrl)-1]
	b.ctrl = b.ctrl[:len(b.ctrl)-1]

	if reachable {
		args, err := b.popN(len(frame.results))
		if err != nil {
			return err
		}
		b.terminate(ir.Terminator{Kind: ir.TermBr, Br: ir.BrTarget{Block: frame.cont, Args: args}})
	}

	// An if without an else forwards its inputs to the merge block.
	if frame.kind == ctrlIf && !frame.sawElse {
		b.f.Blocks[frame.elseBlock].Term = ir.Terminator{
			Kind: ir.TermBr,
			Off:  b.lastOff,
			Br:   ir.BrTarget{Block: frame.cont, Args: frame.elseArgs},
		}
	}

	if len(b.stack) > frame.base {
		b.stack = b.stack[:frame.base]
	}
	b.cur = frame.cont
	b.stack = append(b.stack, b.f.Blocks[frame.cont].Params...)
	b.dead = false
	return nil
}

// brFrame resolves a branch depth to a target frame.
func (b *builder) brFrame(depth uint32) (*ctrlFrame, error) {
	if int(depth) >= len(b.ctrl) {
		return nil, diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange,
			"branch depth %d exceeds %d open frames", depth, len(b.ctrl))
	}
	return &b.ctrl[len(b.ctrl)-1-int(depth)], nil
}

// brTarget builds the CFG edge for a branch to the given depth: loops
// are entered at their header with the loop parameters, everything else
// jumps to the merge block with the frame results.
func (b *builder) brTarget(depth uint32) (ir.BrTarget, error) {
	frame, err := b.brFrame(depth)
	if err != nil {
		return ir.BrTarget{}, err
	}
	if frame.kind == ctrlLoop {
		args, err := b.peekN(len(frame.params))
		if err != nil {
			return ir.BrTarget{}, err
		}
		return ir.BrTarget{Block: frame.head, Args: args}, nil
	}
	args, err := b.peekN(len(frame.results))
	if err != nil {
		return ir.BrTarget{}, err
	}
	return ir.BrTarget{Block: frame.cont, Args: args}, nil
}

func (b *builder) br(depth uint32) error {
	t, err := b.brTarget(depth)
	if err != nil {
		return err
	}
	b.terminate(ir.Terminator{Kind: ir.TermBr, Br: t})
	b.setDead()
	return nil
}

func (b *builder) brIf(depth uint32) error {
	cond, err := b.pop()
	if err != nil {
		return err
	}
	t, err := b.brTarget(depth)
	if err != nil {
		return err
	}
	next := b.newBlock()
	b.terminate(ir.Terminator{Kind: ir.TermBrIf, BrIf: ir.BrIfTerm{
		Cond: cond,
		Then: t,
		Else: ir.BrTarget{Block: next},
	}})
	b.cur = next
	return nil
}

func (b *builder) brTable(op *wasm.Op) error {
	if len(op.Targets) == 0 {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeMalformedControl, "br_table without default target")
	}
	idx, err := b.pop()
	if err != nil {
		return err
	}
	targets := make([]ir.BrTarget, 0, len(op.Targets)-1)
	for _, depth := range op.Targets[:len(op.Targets)-1] {
		t, err := b.brTarget(depth)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}
	def, err := b.brTarget(op.Targets[len(op.Targets)-1])
	if err != nil {
		return err
	}
	b.terminate(ir.Terminator{Kind: ir.TermBrTable, BrTable: ir.BrTableTerm{
		Index:   idx,
		Targets: targets,
		Default: def,
	}})
	b.setDead()
	return nil
}
