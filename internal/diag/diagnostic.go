// Package diag carries structured per-function compile diagnostics and
// their module-level aggregation. Traps are not diagnostics: a function
// that may trap at run time compiles cleanly.
package diag

import (
	"fmt"

	"smelt/internal/wasm"
)

// Class separates the error taxonomy: translation errors are found
// while building IR, codegen errors while emitting machine code, and
// internal errors signal a broken contract with the upstream validator.
type Class uint8

const (
	ClassTranslate Class = iota
	ClassCodegen
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassTranslate:
		return "translate"
	case ClassCodegen:
		return "codegen"
	case ClassInternal:
		return "internal"
	default:
		return "class(unknown)"
	}
}

// Code identifies the failure shape independent of its message text.
type Code uint8

const (
	CodeNone Code = iota
	CodeUnsupportedOpcode
	CodeMalformedControl
	CodeStackMismatch
	CodeIndexOutOfRange
	CodeUnsupportedOperand
	CodeFrameOverflow
	CodeInvariant
)

func (c Code) String() string {
	switch c {
	case CodeUnsupportedOpcode:
		return "unsupported-opcode"
	case CodeMalformedControl:
		return "malformed-control"
	case CodeStackMismatch:
		return "stack-mismatch"
	case CodeIndexOutOfRange:
		return "index-out-of-range"
	case CodeUnsupportedOperand:
		return "unsupported-operand"
	case CodeFrameOverflow:
		return "frame-overflow"
	case CodeInvariant:
		return "invariant-violation"
	default:
		return "none"
	}
}

// Diagnostic is one per-function failure, attributable to a local
// function and (for translation errors) a bytecode offset.
type Diagnostic struct {
	Class   Class
	Code    Code
	Message string
	Func    wasm.LocalFuncIndex
	Offset  uint32
}

func (d *Diagnostic) Error() string {
	if d.Class == ClassTranslate {
		return fmt.Sprintf("function %d at offset %#x: %s [%s/%s]", d.Func, d.Offset, d.Message, d.Class, d.Code)
	}
	return fmt.Sprintf("function %d: %s [%s/%s]", d.Func, d.Message, d.Class, d.Code)
}

// Translatef builds a translation-class diagnostic.
func Translatef(fn wasm.LocalFuncIndex, off uint32, code Code, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Class:   ClassTranslate,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Func:    fn,
		Offset:  off,
	}
}

// Codegenf builds a codegen-class diagnostic.
func Codegenf(fn wasm.LocalFuncIndex, code Code, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Class:   ClassCodegen,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Func:    fn,
	}
}

// Internalf builds an internal-invariant diagnostic: the compiler was
// handed input that the upstream validator's contract rules out.
func Internalf(fn wasm.LocalFuncIndex, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Class:   ClassInternal,
		Code:    CodeInvariant,
		Message: fmt.Sprintf(format, args...),
		Func:    fn,
	}
}
