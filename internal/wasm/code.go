package wasm

// BlockKind tags a BlockType variant.
type BlockKind uint8

const (
	// BlockEmpty is a block with no parameters and no results.
	BlockEmpty BlockKind = iota
	// BlockValue is a block with no parameters and one result.
	BlockValue
	// BlockSig is a block typed by a function signature index.
	BlockSig
)

// BlockType is the type immediate of block, loop and if operators.
type BlockType struct {
	Kind  BlockKind
	Value ValueType // BlockValue result
	Sig   SigIndex  // BlockSig signature
}

// Op is one decoded operator. Immediates are stored pre-decoded so the
// translator never touches raw bytes: A/B carry index and memarg
// immediates, Wide carries 64-bit constant payloads (float constants as
// raw bits), Targets carries the br_table target vector.
type Op struct {
	Opcode Opcode

	A       uint32 // index immediate, memarg align, branch depth
	B       uint32 // memarg offset, call_indirect table index
	Wide    uint64 // constant payload (i32/i64 sign-extended, f32/f64 bits)
	Block   BlockType
	Targets []uint32 // br_table targets; last entry is the default

	// Offset is the operator's byte offset inside the function body,
	// used to attribute traps and diagnostics.
	Offset uint32
}

// FuncBody is one local function's decoded code: the declared locals
// (excluding parameters) and the operator stream, terminated by an
// explicit end operator.
type FuncBody struct {
	Locals []ValueType
	Ops    []Op
}
