package ir

import "smelt/internal/wasm"

// Func is one translated function body.
type Func struct {
	// Sig is the function's interned signature.
	Sig wasm.SigIndex
	// Results is the signature's result list, kept here so the code
	// generator does not need the interner for return lowering.
	Results []wasm.ValueType
	// Locals lists local slots: parameters first, then declared locals.
	Locals []wasm.ValueType
	// NumParams is the number of leading parameter slots in Locals.
	NumParams int

	// Values holds the definition of every ValueID.
	Values []ValueDef
	Blocks []Block
	Entry  BlockID
}

// ValueType returns the type of v.
func (f *Func) ValueType(v ValueID) wasm.ValueType {
	return f.Values[v].Type
}

// Block returns the block with the given ID, or nil when out of range.
func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return &f.Blocks[id]
}
