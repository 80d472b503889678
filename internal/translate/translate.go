// Package translate builds backend IR from one function's decoded
// operator stream, consulting the module's index/descriptor model and
// signature interner. Structured control flow becomes an unstructured
// CFG; every operation with a defined failure condition gets an
// explicit trap marker or a trap-carrying IR idiom.
package translate

import (
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// BoundsPolicy selects how linear-memory accesses are bounds-checked.
// The choice is per module, never per access.
type BoundsPolicy uint8

const (
	// BoundsExplicit emits a compare-and-trap before every access.
	BoundsExplicit BoundsPolicy = iota
	// BoundsGuardRegion elides per-access checks, relying on a
	// pre-reserved guard region after the memory mapping.
	BoundsGuardRegion
)

func (p BoundsPolicy) String() string {
	if p == BoundsGuardRegion {
		return "guard-region"
	}
	return "explicit"
}

// Options configures translation; the zero value is explicit bounds
// checks.
type Options struct {
	Bounds BoundsPolicy
}

// Translate builds the IR for one local function. The input is assumed
// validated; range checks here are a defensive net and surface as
// internal-class diagnostics, not user errors.
func Translate(fn wasm.LocalFuncIndex, body *wasm.FuncBody, mod *wasm.Module, sigs *sig.Registry, opts Options) (*ir.Func, error) {
	fnSig, err := funcSignature(fn, mod, sigs)
	if err != nil {
		return nil, err
	}
	sigIdx, _ := mod.FuncSig(wasm.FuncIndex(mod.NumImportedFuncs() + uint32(fn)))

	b := &builder{
		fn:   fn,
		mod:  mod,
		sigs: sigs,
		opts: opts,
		f: &ir.Func{
			Sig:       sigIdx,
			Results:   append([]wasm.ValueType(nil), fnSig.Results...),
			Locals:    make([]wasm.ValueType, 0, len(fnSig.Params)+len(body.Locals)),
			NumParams: len(fnSig.Params),
		},
	}
	b.f.Locals = append(b.f.Locals, fnSig.Params...)
	b.f.Locals = append(b.f.Locals, body.Locals...)

	entry := b.newBlock()
	b.cur = entry
	b.f.Entry = entry

	// The function body behaves like a block whose results are the
	// function results; a branch to the outermost depth is a return.
	exit := b.newBlock()
	exitParams := b.blockParams(exit, fnSig.Results)
	b.f.Blocks[exit].Term = ir.Terminator{
		Kind:   ir.TermReturn,
		Return: ir.ReturnTerm{Values: exitParams},
	}
	b.ctrl = append(b.ctrl, ctrlFrame{kind: ctrlFunc, cont: exit, results: fnSig.Results})

	for i := range body.Ops {
		if err := b.op(&body.Ops[i]); err != nil {
			return nil, err
		}
	}
	if len(b.ctrl) != 0 {
		return nil, diag.Translatef(fn, b.lastOff, diag.CodeMalformedControl,
			"function body left %d control frames open", len(b.ctrl))
	}

	b.compact()
	return b.f, nil
}

func funcSignature(fn wasm.LocalFuncIndex, mod *wasm.Module, sigs *sig.Registry) (sig.Signature, error) {
	combined := wasm.FuncIndex(mod.NumImportedFuncs() + uint32(fn))
	sigIdx, err := mod.FuncSig(combined)
	if err != nil {
		return sig.Signature{}, diag.Internalf(fn, "resolving own signature: %v", err)
	}
	s, err := sigs.Resolve(sigIdx)
	if err != nil {
		return sig.Signature{}, diag.Internalf(fn, "resolving own signature: %v", err)
	}
	return s, nil
}

// builder holds per-function translation state: the value stack, the
// control frame stack and the block under construction.
type builder struct {
	fn   wasm.LocalFuncIndex
	mod  *wasm.Module
	sigs *sig.Registry
	opts Options

	f       *ir.Func
	cur     ir.BlockID
	stack   []ir.ValueID
	ctrl    []ctrlFrame
	lastOff uint32

	// dead is set between an unconditional transfer and the end/else
	// of the enclosing frame; operators in between are skipped, with
	// deadDepth tracking nested structures inside the dead region.
	dead      bool
	deadDepth int
}

type ctrlKind uint8

const (
	ctrlFunc ctrlKind = iota
	ctrlBlock
	ctrlLoop
	ctrlIf
)

type ctrlFrame struct {
	kind    ctrlKind
	cont    ir.BlockID // merge block; params carry the results
	head    ir.BlockID // loop header, branch target for loops
	params  []wasm.ValueType
	results []wasm.ValueType
	// base is the value stack height below the frame's operands.
	base int
	// elseBlock is the pre-created else arm of an if frame.
	elseBlock ir.BlockID
	// elseArgs are the frame's input values, forwarded to cont when an
	// if has no else arm.
	elseArgs []ir.ValueID
	sawElse  bool
}

func (b *builder) newBlock() ir.BlockID {
	id := ir.BlockID(len(b.f.Blocks))
	b.f.Blocks = append(b.f.Blocks, ir.Block{ID: id})
	return id
}

func (b *builder) newValue(t wasm.ValueType) ir.ValueID {
	id := ir.ValueID(len(b.f.Values))
	b.f.Values = append(b.f.Values, ir.ValueDef{Type: t})
	return id
}

// blockParams installs fresh parameter values on a block.
func (b *builder) blockParams(id ir.BlockID, types []wasm.ValueType) []ir.ValueID {
	params := make([]ir.ValueID, len(types))
	for i, t := range types {
		params[i] = b.newValue(t)
	}
	b.f.Blocks[id].Params = params
	return params
}

func (b *builder) emit(ins ir.Instr) {
	ins.Off = b.lastOff
	blk := &b.f.Blocks[b.cur]
	blk.Instrs = append(blk.Instrs, ins)
}

func (b *builder) terminate(t ir.Terminator) {
	t.Off = b.lastOff
	b.f.Blocks[b.cur].Term = t
}

func (b *builder) push(v ir.ValueID) { b.stack = append(b.stack, v) }

func (b *builder) pop() (ir.ValueID, error) {
	if len(b.stack) == 0 {
		return ir.NoValueID, diag.Internalf(b.fn, "value stack underflow at offset %#x", b.lastOff)
	}
	v := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return v, nil
}

func (b *builder) popN(n int) ([]ir.ValueID, error) {
	if len(b.stack) < n {
		return nil, diag.Internalf(b.fn, "value stack underflow at offset %#x (need %d, have %d)",
			b.lastOff, n, len(b.stack))
	}
	vs := append([]ir.ValueID(nil), b.stack[len(b.stack)-n:]...)
	b.stack = b.stack[:len(b.stack)-n]
	return vs, nil
}

// peekN copies the top n values without popping, for branch arguments
// that conditionally leave the stack intact.
func (b *builder) peekN(n int) ([]ir.ValueID, error) {
	if len(b.stack) < n {
		return nil, diag.Internalf(b.fn, "value stack underflow at offset %#x (need %d, have %d)",
			b.lastOff, n, len(b.stack))
	}
	return append([]ir.ValueID(nil), b.stack[len(b.stack)-n:]...), nil
}

// blockSig resolves a block type immediate to parameter/result lists.
func (b *builder) blockSig(bt wasm.BlockType) ([]wasm.ValueType, []wasm.ValueType, error) {
	switch bt.Kind {
	case wasm.BlockEmpty:
		return nil, nil, nil
	case wasm.BlockValue:
		return nil, []wasm.ValueType{bt.Value}, nil
	case wasm.BlockSig:
		s, err := b.sigs.Resolve(bt.Sig)
		if err != nil {
			return nil, nil, diag.Internalf(b.fn, "block type: %v", err)
		}
		return s.Params, s.Results, nil
	default:
		return nil, nil, diag.Internalf(b.fn, "unknown block type kind %d", bt.Kind)
	}
}

// compact removes blocks unreachable from the entry and renumbers the
// remainder, keeping printer output and codegen input deterministic.
func (b *builder) compact() {
	reachable := make([]bool, len(b.f.Blocks))
	work := []ir.BlockID{b.f.Entry}
	reachable[b.f.Entry] = true
	visit := func(t ir.BrTarget) {
		if !reachable[t.Block] {
			reachable[t.Block] = true
			work = append(work, t.Block)
		}
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		term := &b.f.Blocks[id].Term
		switch term.Kind {
		case ir.TermBr:
			visit(term.Br)
		case ir.TermBrIf:
			visit(term.BrIf.Then)
			visit(term.BrIf.Else)
		case ir.TermBrTable:
			for _, t := range term.BrTable.Targets {
				visit(t)
			}
			visit(term.BrTable.Default)
		}
	}

	remap := make([]ir.BlockID, len(b.f.Blocks))
	kept := b.f.Blocks[:0]
	for i := range b.f.Blocks {
		if !reachable[i] {
			remap[i] = ir.NoBlockID
			continue
		}
		remap[i] = ir.BlockID(len(kept))
		kept = append(kept, b.f.Blocks[i])
		kept[len(kept)-1].ID = remap[i]
	}
	b.f.Blocks = kept
	b.f.Entry = remap[b.f.Entry]

	fix := func(t *ir.BrTarget) { t.Block = remap[t.Block] }
	for i := range b.f.Blocks {
		term := &b.f.Blocks[i].Term
		switch term.Kind {
		case ir.TermBr:
			fix(&term.Br)
		case ir.TermBrIf:
			fix(&term.BrIf.Then)
			fix(&term.BrIf.Else)
		case ir.TermBrTable:
			for j := range term.BrTable.Targets {
				fix(&term.BrTable.Targets[j])
			}
			fix(&term.BrTable.Default)
		}
	}
}
