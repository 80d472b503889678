package wasm

import "fmt"

// GlobalDescriptor describes the shape of a global variable.
type GlobalDescriptor struct {
	Type    ValueType
	Mutable bool
}

// MemoryDescriptor describes the shape of a linear memory in pages.
type MemoryDescriptor struct {
	MinPages uint32
	MaxPages *uint32
	Shared   bool
}

// TableDescriptor describes the shape of a table.
type TableDescriptor struct {
	Elem ValueType
	Min  uint32
	Max  *uint32
}

// checkLimits re-checks the min<=max descriptor invariant. The upstream
// validator owns this invariant; a failure here is a contract breach,
// not user input to be diagnosed.
func checkLimits(what string, minimum uint32, maximum *uint32) error {
	if maximum != nil && minimum > *maximum {
		return fmt.Errorf("wasm: %s limits violate min<=max (%d > %d)", what, minimum, *maximum)
	}
	return nil
}

// InitKind tags an Initializer variant.
type InitKind uint8

const (
	InitConstI32 InitKind = iota
	InitConstI64
	InitConstF32
	InitConstF64
	InitRefNull
	InitRefFunc
	InitGetGlobal
)

// Initializer is a const expression seeding a global or a segment at
// instantiation time. It is a closed variant set, deliberately not a
// general expression evaluator.
type Initializer struct {
	Kind InitKind

	I32    int32
	I64    int64
	F32    float32
	F64    float64
	Ref    ValueType           // InitRefNull element type
	Func   FuncIndex           // InitRefFunc target
	Global ImportedGlobalIndex // InitGetGlobal source
}

func (in Initializer) String() string {
	switch in.Kind {
	case InitConstI32:
		return fmt.Sprintf("i32.const %d", in.I32)
	case InitConstI64:
		return fmt.Sprintf("i64.const %d", in.I64)
	case InitConstF32:
		return fmt.Sprintf("f32.const %v", in.F32)
	case InitConstF64:
		return fmt.Sprintf("f64.const %v", in.F64)
	case InitRefNull:
		return fmt.Sprintf("ref.null %s", in.Ref)
	case InitRefFunc:
		return fmt.Sprintf("ref.func %d", uint32(in.Func))
	case InitGetGlobal:
		return fmt.Sprintf("global.get %d", uint32(in.Global))
	default:
		return "init(invalid)"
	}
}
