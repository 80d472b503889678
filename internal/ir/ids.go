// Package ir is the architecture-independent representation between
// function translation and code generation: an unstructured control-flow
// graph of basic blocks over explicitly typed values, with mutable local
// slots for WebAssembly locals and explicit trap markers.
package ir

import "smelt/internal/wasm"

type ValueID int32
type BlockID int32
type LocalID int32

const (
	NoValueID ValueID = -1
	NoBlockID BlockID = -1
	NoLocalID LocalID = -1
)

// ValueDef records the type of a value. Values are defined exactly once,
// either by an instruction result or as a block parameter.
type ValueDef struct {
	Type wasm.ValueType
}
