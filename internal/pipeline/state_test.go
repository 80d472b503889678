package pipeline

import (
	"context"
	"testing"

	"smelt/internal/codegen"
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// Functions walk pending -> translating -> generating -> assembled;
// assemble marks every surviving function once layout starts.
func TestStatesReachAssembled(t *testing.T) {
	sigs := sig.NewRegistry()
	si := sigs.Intern(sig.Signature{Results: []wasm.ValueType{wasm.I32}})
	mod, err := wasm.NewModule(wasm.ModuleDecl{
		Types:    []wasm.SigIndex{si},
		FuncSigs: []wasm.SigIndex{si, si},
	})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	bodies := []wasm.FuncBody{
		{Ops: []wasm.Op{
			{Opcode: wasm.OpI32Const, Wide: 7},
			{Opcode: wasm.OpEnd, Offset: 1},
		}},
		{Ops: []wasm.Op{
			{Opcode: wasm.OpI32Const, Wide: 9},
			{Opcode: wasm.OpEnd, Offset: 1},
		}},
	}

	opts := Options{Jobs: 1}
	opts.normalize()
	be, err := newBackend(opts.Target, codegen.Options{})
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}

	n := len(bodies)
	c := &compilation{
		mod:    mod,
		bodies: bodies,
		sigs:   sigs,
		be:     be,
		opts:   opts,
		log:    opts.Logger,
		states: make([]FuncState, n),
		irs:    make([]*ir.Func, n),
		arts:   make([]*codegen.CompiledFunction, n),
		diags:  make([]*diag.Diagnostic, n),
	}
	for i, s := range c.states {
		if s != StatePending {
			t.Fatalf("state[%d] = %v before any stage", i, s)
		}
	}

	ctx := context.Background()
	if err := c.translateAll(ctx); err != nil {
		t.Fatalf("translateAll: %v", err)
	}
	if err := c.generateAll(ctx); err != nil {
		t.Fatalf("generateAll: %v", err)
	}
	if err := c.failIfAnyFailed(); err != nil {
		t.Fatalf("unexpected diagnostics: %v", err)
	}
	if _, err := c.assemble(); err != nil {
		t.Fatalf("assemble: %v", err)
	}

	for i, s := range c.states {
		if s != StateAssembled {
			t.Errorf("state[%d] = %v after assembly, want %v", i, s, StateAssembled)
		}
	}
}
