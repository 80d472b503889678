package ir

import "smelt/internal/wasm"

// ConvOp enumerates conversion operators.
type ConvOp uint8

const (
	ConvI32WrapI64 ConvOp = iota
	ConvI64ExtendI32S
	ConvI64ExtendI32U

	// Trapping float-to-int truncations.
	ConvI32TruncF32S
	ConvI32TruncF32U
	ConvI32TruncF64S
	ConvI32TruncF64U
	ConvI64TruncF32S
	ConvI64TruncF32U
	ConvI64TruncF64S
	ConvI64TruncF64U

	// Saturating float-to-int truncations.
	ConvI32TruncSatF32S
	ConvI32TruncSatF32U
	ConvI32TruncSatF64S
	ConvI32TruncSatF64U
	ConvI64TruncSatF32S
	ConvI64TruncSatF32U
	ConvI64TruncSatF64S
	ConvI64TruncSatF64U

	ConvF32ConvertI32S
	ConvF32ConvertI32U
	ConvF32ConvertI64S
	ConvF32ConvertI64U
	ConvF64ConvertI32S
	ConvF64ConvertI32U
	ConvF64ConvertI64S
	ConvF64ConvertI64U

	ConvF32DemoteF64
	ConvF64PromoteF32

	ConvI32ReinterpretF32
	ConvI64ReinterpretF64
	ConvF32ReinterpretI32
	ConvF64ReinterpretI64

	ConvI32Extend8S
	ConvI32Extend16S
	ConvI64Extend8S
	ConvI64Extend16S
	ConvI64Extend32S
)

// ConvInstr converts X per Op. Trapping truncations raise
// TrapInvalidConversionToInteger or TrapIntegerOverflow at run time.
type ConvInstr struct {
	Result ValueID
	Op     ConvOp
	X      ValueID
}

// Trapping reports whether op can raise a runtime trap.
func (op ConvOp) Trapping() bool {
	return op >= ConvI32TruncF32S && op <= ConvI64TruncF64U
}

var convTypes = [...]struct{ from, to wasm.ValueType }{
	ConvI32WrapI64:    {wasm.I64, wasm.I32},
	ConvI64ExtendI32S: {wasm.I32, wasm.I64},
	ConvI64ExtendI32U: {wasm.I32, wasm.I64},

	ConvI32TruncF32S: {wasm.F32, wasm.I32},
	ConvI32TruncF32U: {wasm.F32, wasm.I32},
	ConvI32TruncF64S: {wasm.F64, wasm.I32},
	ConvI32TruncF64U: {wasm.F64, wasm.I32},
	ConvI64TruncF32S: {wasm.F32, wasm.I64},
	ConvI64TruncF32U: {wasm.F32, wasm.I64},
	ConvI64TruncF64S: {wasm.F64, wasm.I64},
	ConvI64TruncF64U: {wasm.F64, wasm.I64},

	ConvI32TruncSatF32S: {wasm.F32, wasm.I32},
	ConvI32TruncSatF32U: {wasm.F32, wasm.I32},
	ConvI32TruncSatF64S: {wasm.F64, wasm.I32},
	ConvI32TruncSatF64U: {wasm.F64, wasm.I32},
	ConvI64TruncSatF32S: {wasm.F32, wasm.I64},
	ConvI64TruncSatF32U: {wasm.F32, wasm.I64},
	ConvI64TruncSatF64S: {wasm.F64, wasm.I64},
	ConvI64TruncSatF64U: {wasm.F64, wasm.I64},

	ConvF32ConvertI32S: {wasm.I32, wasm.F32},
	ConvF32ConvertI32U: {wasm.I32, wasm.F32},
	ConvF32ConvertI64S: {wasm.I64, wasm.F32},
	ConvF32ConvertI64U: {wasm.I64, wasm.F32},
	ConvF64ConvertI32S: {wasm.I32, wasm.F64},
	ConvF64ConvertI32U: {wasm.I32, wasm.F64},
	ConvF64ConvertI64S: {wasm.I64, wasm.F64},
	ConvF64ConvertI64U: {wasm.I64, wasm.F64},

	ConvF32DemoteF64:  {wasm.F64, wasm.F32},
	ConvF64PromoteF32: {wasm.F32, wasm.F64},

	ConvI32ReinterpretF32: {wasm.F32, wasm.I32},
	ConvI64ReinterpretF64: {wasm.F64, wasm.I64},
	ConvF32ReinterpretI32: {wasm.I32, wasm.F32},
	ConvF64ReinterpretI64: {wasm.I64, wasm.F64},

	ConvI32Extend8S:  {wasm.I32, wasm.I32},
	ConvI32Extend16S: {wasm.I32, wasm.I32},
	ConvI64Extend8S:  {wasm.I64, wasm.I64},
	ConvI64Extend16S: {wasm.I64, wasm.I64},
	ConvI64Extend32S: {wasm.I64, wasm.I64},
}

// OperandType returns the type op consumes.
func (op ConvOp) OperandType() wasm.ValueType { return convTypes[op].from }

// ResultType returns the type op produces.
func (op ConvOp) ResultType() wasm.ValueType { return convTypes[op].to }
