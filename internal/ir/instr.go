package ir

import "smelt/internal/wasm"

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	InstrConst InstrKind = iota
	InstrBin
	InstrUn
	InstrCmp
	InstrConv
	InstrSelect
	InstrLocalGet
	InstrLocalSet
	InstrGlobalGet
	InstrGlobalSet
	InstrLoad
	InstrStore
	InstrMemorySize
	InstrMemoryGrow
	InstrCall
	InstrCallIndirect
	InstrTrapIf
)

// Instr is one IR instruction. Kind selects the active payload. Off is
// the originating bytecode offset, carried through to trap sites and
// diagnostics.
type Instr struct {
	Kind InstrKind
	Off  uint32

	Const        ConstInstr
	Bin          BinInstr
	Un           UnInstr
	Cmp          CmpInstr
	Conv         ConvInstr
	Select       SelectInstr
	LocalGet     LocalGetInstr
	LocalSet     LocalSetInstr
	GlobalGet    GlobalGetInstr
	GlobalSet    GlobalSetInstr
	Load         LoadInstr
	Store        StoreInstr
	MemorySize   MemorySizeInstr
	MemoryGrow   MemoryGrowInstr
	Call         CallInstr
	CallIndirect CallIndirectInstr
	TrapIf       TrapIfInstr
}

// ConstInstr materializes an immediate. Bits holds the raw payload:
// i32 values sign-extended, floats as their bit patterns.
type ConstInstr struct {
	Result ValueID
	Type   wasm.ValueType
	Bits   uint64
}

// BinOp enumerates binary operators. Add, Sub and Mul apply to both the
// integer and floating types; the S/U and shift/rotate forms are
// integer-only; Div, Min, Max and Copysign are float-only. Integer
// arithmetic wraps; float arithmetic follows IEEE-754 with WebAssembly
// NaN propagation.
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDivS
	BinDivU
	BinRemS
	BinRemU
	BinAnd
	BinOr
	BinXor
	BinShl
	BinShrS
	BinShrU
	BinRotl
	BinRotr
	BinDiv
	BinMin
	BinMax
	BinCopysign
)

type BinInstr struct {
	Result ValueID
	Op     BinOp
	Type   wasm.ValueType
	X, Y   ValueID
}

// UnOp enumerates unary operators. Clz, Ctz, Popcnt and Eqz are
// integer-only (Eqz produces i32); the rest are float-only.
type UnOp uint8

const (
	UnClz UnOp = iota
	UnCtz
	UnPopcnt
	UnEqz
	UnAbs
	UnNeg
	UnCeil
	UnFloor
	UnTrunc
	UnNearest
	UnSqrt
)

type UnInstr struct {
	Result ValueID
	Op     UnOp
	Type   wasm.ValueType
	X      ValueID
}

// CmpOp enumerates comparisons; the result is always i32 (0 or 1). The
// S/U forms are integer-only; the F forms are float-only and ordered
// (false on NaN operands, except FNe which is true).
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLtS
	CmpLtU
	CmpGtS
	CmpGtU
	CmpLeS
	CmpLeU
	CmpGeS
	CmpGeU
	CmpFLt
	CmpFGt
	CmpFLe
	CmpFGe
)

type CmpInstr struct {
	Result ValueID
	Op     CmpOp
	Type   wasm.ValueType // operand type
	X, Y   ValueID
}

// SelectInstr picks X when Cond is non-zero, else Y. Both operands are
// always evaluated.
type SelectInstr struct {
	Result ValueID
	Cond   ValueID
	X, Y   ValueID
	Type   wasm.ValueType
}

type LocalGetInstr struct {
	Result ValueID
	Local  LocalID
}

type LocalSetInstr struct {
	Local LocalID
	Value ValueID
}

type GlobalGetInstr struct {
	Result ValueID
	Global wasm.GlobalIndex
	Type   wasm.ValueType
}

type GlobalSetInstr struct {
	Global wasm.GlobalIndex
	Value  ValueID
}

// LoadInstr reads from linear memory. Width is the access width in
// bytes (1, 2, 4, 8); when narrower than the result type the loaded
// value is zero- or sign-extended per Signed. Checked selects an
// explicit bounds check; when false the module was compiled for a
// reserved guard region and out-of-range accesses fault there.
type LoadInstr struct {
	Result  ValueID
	Type    wasm.ValueType
	Width   uint8
	Signed  bool
	Memory  wasm.MemoryIndex
	Offset  uint32
	Align   uint32
	Addr    ValueID
	Checked bool
}

// StoreInstr writes to linear memory; Width as in LoadInstr.
type StoreInstr struct {
	Type    wasm.ValueType
	Width   uint8
	Memory  wasm.MemoryIndex
	Offset  uint32
	Align   uint32
	Addr    ValueID
	Value   ValueID
	Checked bool
}

type MemorySizeInstr struct {
	Result ValueID
	Memory wasm.MemoryIndex
}

type MemoryGrowInstr struct {
	Result ValueID
	Memory wasm.MemoryIndex
	Delta  ValueID
}

// CallInstr calls a function of the combined index space; imports
// resolve through a relocation at code generation time.
type CallInstr struct {
	Results []ValueID
	Func    wasm.FuncIndex
	Sig     wasm.SigIndex
	Args    []ValueID
}

// CallIndirectInstr calls through a table entry after a null check and
// a signature-identity check against Sig.
type CallIndirectInstr struct {
	Results []ValueID
	Table   wasm.TableIndex
	Sig     wasm.SigIndex
	Index   ValueID
	Args    []ValueID
}

// TrapIfInstr raises Reason at run time when Cond is non-zero.
type TrapIfInstr struct {
	Cond   ValueID
	Reason TrapReason
}
