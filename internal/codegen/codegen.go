// Package codegen defines the target-independent surface of code
// generation: the backend interface, the compiled-function artifact and
// its relocation, trap-site and unwind metadata. Targets plug in behind
// the Backend interface and are selected once at configuration time.
package codegen

import (
	"fmt"

	"smelt/internal/ir"
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// Target selects an instruction set.
type Target uint8

const (
	TargetAMD64 Target = iota
)

func (t Target) String() string {
	if t == TargetAMD64 {
		return "amd64"
	}
	return fmt.Sprintf("Target(%d)", uint8(t))
}

// ParseTarget maps a configuration string to a Target.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "", "amd64", "x86_64":
		return TargetAMD64, nil
	default:
		return 0, fmt.Errorf("codegen: unknown target %q", s)
	}
}

// RelocKind tags a relocation entry. Index is interpreted per kind.
//
// Absolute kinds patch the 8-byte immediate of a movabs with an address
// supplied by the linker/instantiator:
//
//	RelocImportedFuncAddr  entry address of imported function Index
//	RelocGlobalAddr        address of the 8-byte cell of global Index
//	                       (combined index space, imports first)
//	RelocMemoryDef         address of the memory definition record of
//	                       memory Index: base pointer at +0, byte
//	                       length at +8
//	RelocTableDef          address of the table definition record of
//	                       table Index: element base at +0, element
//	                       count at +8; elements are 16 bytes, entry
//	                       address at +0 and signature id at +8
//	RelocSigID             not an address: the canonical runtime id of
//	                       signature Index, compared on indirect calls
//	RelocStackLimit        address of the stack-limit cell read by the
//	                       prologue overflow check
//	RelocMemoryGrowFn      entry address of the runtime's grow routine,
//	                       called as grow(memory u32, delta u32) -> i32
//
// RelocLocalFuncAddr patches a rel32 call displacement to local
// function Index; the orchestrator resolves it during assembly, so it
// never reaches the linker.
type RelocKind uint8

const (
	RelocLocalFuncAddr RelocKind = iota
	RelocImportedFuncAddr
	RelocGlobalAddr
	RelocMemoryDef
	RelocTableDef
	RelocSigID
	RelocStackLimit
	RelocMemoryGrowFn
)

func (k RelocKind) String() string {
	switch k {
	case RelocLocalFuncAddr:
		return "local_func"
	case RelocImportedFuncAddr:
		return "imported_func"
	case RelocGlobalAddr:
		return "global"
	case RelocMemoryDef:
		return "memory"
	case RelocTableDef:
		return "table"
	case RelocSigID:
		return "sig_id"
	case RelocStackLimit:
		return "stack_limit"
	case RelocMemoryGrowFn:
		return "memory_grow_fn"
	default:
		return fmt.Sprintf("RelocKind(%d)", uint8(k))
	}
}

// Reloc is one deferred reference in generated code. Offset addresses
// the immediate to patch, relative to the function's first byte.
type Reloc struct {
	Offset uint32
	Kind   RelocKind
	Index  uint32
	Addend int64
}

// TrapSite attributes one trapping code location: Offset is the
// address of the trapping instruction relative to the function start,
// Origin the bytecode offset the operation came from.
type TrapSite struct {
	Offset uint32
	Reason ir.TrapReason
	Origin uint32
}

// UnwindRecord describes one function's frame well enough to walk the
// stack through it: frames are frame-pointer chained, so a walker needs
// only the prologue extent to classify a PC and the frame size for
// consistency checks.
type UnwindRecord struct {
	PrologueSize uint32
	FrameSize    uint32
	CodeSize     uint32
}

// CompiledFunction is one function's native artifact. Immutable once
// produced; the orchestrator owns it until the module result is
// assembled.
type CompiledFunction struct {
	Code   []byte
	Relocs []Reloc
	Traps  []TrapSite
	Unwind *UnwindRecord
}

// Options configures a backend instance.
type Options struct {
	// Unwind controls emission of UnwindRecords. Code layout does not
	// change with it; only the metadata is dropped.
	Unwind bool
}

// Backend lowers IR to machine code for one target. Implementations
// must be safe for concurrent Compile calls and deterministic: equal
// inputs produce byte-identical artifacts.
type Backend interface {
	Target() Target

	// Compile lowers one function; fn identifies it in diagnostics.
	// mod and sigs are read-only here.
	Compile(fn wasm.LocalFuncIndex, f *ir.Func, mod *wasm.Module, sigs *sig.Registry) (*CompiledFunction, error)

	// ImportTrampoline bridges the host convention to the internal
	// convention for calling an imported function with signature s.
	ImportTrampoline(s sig.Signature) ([]byte, error)

	// ExportTrampoline bridges the host convention to a compiled
	// function with signature s, for calls entering the module.
	ExportTrampoline(s sig.Signature) ([]byte, error)
}

