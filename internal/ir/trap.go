package ir

// TrapReason is the symbolic cause attached to a trap marker in the IR
// and, after code generation, to a trap site in the machine code. Traps
// are runtime metadata, never compile-time errors.
type TrapReason uint8

const (
	TrapUnreachable TrapReason = iota
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversionToInteger
	TrapOutOfBoundsMemoryAccess
	TrapOutOfBoundsTableAccess
	TrapIndirectCallNull
	TrapIndirectCallSignatureMismatch
	TrapStackOverflow
)

func (r TrapReason) String() string {
	switch r {
	case TrapUnreachable:
		return "unreachable"
	case TrapIntegerDivideByZero:
		return "integer divide by zero"
	case TrapIntegerOverflow:
		return "integer overflow"
	case TrapInvalidConversionToInteger:
		return "invalid conversion to integer"
	case TrapOutOfBoundsMemoryAccess:
		return "out of bounds memory access"
	case TrapOutOfBoundsTableAccess:
		return "out of bounds table access"
	case TrapIndirectCallNull:
		return "indirect call to null table entry"
	case TrapIndirectCallSignatureMismatch:
		return "indirect call signature mismatch"
	case TrapStackOverflow:
		return "stack overflow"
	default:
		return "trap(unknown)"
	}
}
