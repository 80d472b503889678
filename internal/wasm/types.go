package wasm

// ValueType classifies the individual values WebAssembly code computes
// with. The constants carry the binary-format encodings.
type ValueType uint8

const (
	I32       ValueType = 0x7f
	I64       ValueType = 0x7e
	F32       ValueType = 0x7d
	F64       ValueType = 0x7c
	FuncRef   ValueType = 0x70
	ExternRef ValueType = 0x6f
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return "valuetype(invalid)"
	}
}

// IsNum reports whether t is one of the four numeric types.
func (t ValueType) IsNum() bool {
	switch t {
	case I32, I64, F32, F64:
		return true
	default:
		return false
	}
}

// IsRef reports whether t is a reference type.
func (t ValueType) IsRef() bool {
	return t == FuncRef || t == ExternRef
}

// PageSize is the WebAssembly linear memory page size in bytes.
const PageSize = 65536
