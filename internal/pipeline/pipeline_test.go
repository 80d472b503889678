package pipeline_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"testing"

	"smelt/internal/codegen"
	"smelt/internal/ir"
	"smelt/internal/pipeline"
	"smelt/internal/sig"
	"smelt/internal/wasm"
)

type testEnv struct {
	mod    *wasm.Module
	bodies []wasm.FuncBody
	sigs   *sig.Registry
}

func op(oc wasm.Opcode) wasm.Op            { return wasm.Op{Opcode: oc} }
func opA(oc wasm.Opcode, a uint32) wasm.Op { return wasm.Op{Opcode: oc, A: a} }

func body(ops ...wasm.Op) wasm.FuncBody {
	ops = append(ops, op(wasm.OpEnd))
	for i := range ops {
		ops[i].Offset = uint32(i)
	}
	return wasm.FuncBody{Ops: ops}
}

// newEnv builds a three-function module: an exported add, a function
// calling it, and a division that carries trap guards.
func newEnv(t *testing.T) *testEnv {
	t.Helper()

	sigs := sig.NewRegistry()
	binSig := sigs.Intern(sig.Signature{
		Params:  []wasm.ValueType{wasm.I32, wasm.I32},
		Results: []wasm.ValueType{wasm.I32},
	})

	mod, err := wasm.NewModule(wasm.ModuleDecl{
		Types:    []wasm.SigIndex{binSig},
		FuncSigs: []wasm.SigIndex{binSig, binSig, binSig},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.ExportFunc, Func: 0},
		},
	})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}

	bodies := []wasm.FuncBody{
		body(
			opA(wasm.OpLocalGet, 0),
			opA(wasm.OpLocalGet, 1),
			op(wasm.OpI32Add),
		),
		body(
			opA(wasm.OpLocalGet, 0),
			opA(wasm.OpLocalGet, 1),
			opA(wasm.OpCall, 0),
		),
		body(
			opA(wasm.OpLocalGet, 0),
			opA(wasm.OpLocalGet, 1),
			op(wasm.OpI32DivS),
		),
	}
	return &testEnv{mod: mod, bodies: bodies, sigs: sigs}
}

func compile(t *testing.T, env *testEnv, opts pipeline.Options) *pipeline.Result {
	t.Helper()
	res, err := pipeline.Compile(context.Background(), env.mod, env.bodies, env.sigs, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

func encodeResult(t *testing.T, res *pipeline.Result) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := res.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

func TestCompileWorkerCountEquivalence(t *testing.T) {
	env := newEnv(t)

	serial := compile(t, env, pipeline.Options{Jobs: 1, Unwind: true})
	parallel := compile(t, env, pipeline.Options{Jobs: 8, Unwind: true})

	if !bytes.Equal(encodeResult(t, serial), encodeResult(t, parallel)) {
		t.Fatal("results differ between 1 and 8 workers")
	}
}

func TestCompileLayout(t *testing.T) {
	env := newEnv(t)
	res := compile(t, env, pipeline.Options{})

	if len(res.Offsets) != 3 || len(res.Funcs) != 3 {
		t.Fatalf("got %d offsets, %d functions, want 3 each", len(res.Offsets), len(res.Funcs))
	}
	for i, off := range res.Offsets {
		if off%16 != 0 {
			t.Errorf("function %d starts at %d, not 16-byte aligned", i, off)
		}
		if got := len(res.FuncCode(wasm.LocalFuncIndex(i))); got != int(res.Funcs[i].Size) {
			t.Errorf("function %d code view %d bytes, size says %d", i, got, res.Funcs[i].Size)
		}
	}
}

// TestCompileResolvesLocalCalls checks that the call in function 1 has
// its rel32 displacement pointing at function 0 after assembly, and
// that no local-function relocation survives into the module table.
func TestCompileResolvesLocalCalls(t *testing.T) {
	env := newEnv(t)
	res := compile(t, env, pipeline.Options{})

	for _, r := range res.Relocs {
		if r.Kind == codegen.RelocLocalFuncAddr {
			t.Fatalf("unresolved local-function relocation at %d", r.Offset)
		}
	}

	var relocOff uint32
	found := false
	for _, r := range res.Funcs[1].Relocs {
		if r.Kind == codegen.RelocLocalFuncAddr {
			relocOff = r.Offset
			found = true
		}
	}
	if !found {
		t.Fatal("function 1 has no local call site")
	}

	site := res.Offsets[1] + relocOff
	rel := int32(binary.LittleEndian.Uint32(res.Code[site:]))
	if target := int32(site) + 4 + rel; target != int32(res.Offsets[0]) {
		t.Errorf("call lands at %d, function 0 starts at %d", target, res.Offsets[0])
	}
}

func TestCompileTrapTable(t *testing.T) {
	env := newEnv(t)
	res := compile(t, env, pipeline.Options{})

	// The division in function 2 guards against a zero divisor and
	// INT_MIN / -1.
	var zero, overflow bool
	for _, tr := range res.Traps {
		if tr.Func != 2 {
			continue
		}
		switch tr.Site.Reason {
		case ir.TrapIntegerDivideByZero:
			zero = true
		case ir.TrapIntegerOverflow:
			overflow = true
		}
		if tr.Offset < res.Offsets[2] {
			t.Errorf("trap offset %d before function start %d", tr.Offset, res.Offsets[2])
		}
	}
	if !zero || !overflow {
		t.Errorf("division trap sites: zero=%v overflow=%v, want both", zero, overflow)
	}
}

func TestCompileTrampolines(t *testing.T) {
	env := newEnv(t)
	res := compile(t, env, pipeline.Options{})

	// One exported signature, no imports.
	if len(res.ExportTrampolines) != 1 {
		t.Fatalf("export trampolines = %d, want 1", len(res.ExportTrampolines))
	}
	if len(res.ImportTrampolines) != 0 {
		t.Fatalf("import trampolines = %d, want 0", len(res.ImportTrampolines))
	}
	if len(res.ExportTrampolines[0].Code) == 0 {
		t.Fatal("empty export trampoline")
	}
}

// TestCompileAtomicity checks that failing functions never suppress
// each other and that no partial result escapes.
func TestCompileAtomicity(t *testing.T) {
	env := newEnv(t)
	env.bodies[0] = body(opA(wasm.OpLocalGet, 9)) // no such local
	env.bodies[2] = body(op(wasm.OpI32Add))       // stack underflow

	res, err := pipeline.Compile(context.Background(), env.mod, env.bodies, env.sigs, pipeline.Options{})
	if err == nil {
		t.Fatal("Compile succeeded with malformed functions")
	}
	if res != nil {
		t.Fatal("failed compile returned a result")
	}
	msg := err.Error()
	if !strings.Contains(msg, "function 0") || !strings.Contains(msg, "function 2") {
		t.Errorf("aggregate error misses a function:\n%s", msg)
	}
}

func TestCompileBodyCountMismatch(t *testing.T) {
	env := newEnv(t)
	_, err := pipeline.Compile(context.Background(), env.mod, env.bodies[:2], env.sigs, pipeline.Options{})
	if err == nil {
		t.Fatal("Compile accepted a short body list")
	}
}

func TestCompileCancellation(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pipeline.Compile(ctx, env.mod, env.bodies, env.sigs, pipeline.Options{Jobs: 1}); err == nil {
		t.Fatal("Compile ignored a cancelled context")
	}
}

func TestResultRoundTrip(t *testing.T) {
	env := newEnv(t)
	res := compile(t, env, pipeline.Options{Unwind: true})

	got, err := pipeline.DecodeResult(bytes.NewReader(encodeResult(t, res)))
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}

	if !bytes.Equal(got.Code, res.Code) {
		t.Error("code changed across the round trip")
	}
	if len(got.Funcs) != len(res.Funcs) {
		t.Fatalf("functions = %d, want %d", len(got.Funcs), len(res.Funcs))
	}
	for i := range got.Funcs {
		if !bytes.Equal(got.Funcs[i].Code, res.Funcs[i].Code) {
			t.Errorf("function %d code view changed", i)
		}
	}
	if len(got.Unwind) != len(res.Unwind) {
		t.Errorf("unwind entries = %d, want %d", len(got.Unwind), len(res.Unwind))
	}
}

func TestDiskCache(t *testing.T) {
	env := newEnv(t)
	res := compile(t, env, pipeline.Options{})

	cache, err := pipeline.OpenDiskCacheAt(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDiskCacheAt: %v", err)
	}

	key := pipeline.CacheKey([]byte("module-bytes"), pipeline.Options{})

	if _, ok, err := cache.Get(key); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := cache.Put(key, res); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := cache.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Code, res.Code) {
		t.Error("cached code differs")
	}

	other := pipeline.CacheKey([]byte("other-bytes"), pipeline.Options{})
	if _, ok, _ := cache.Get(other); ok {
		t.Error("hit for a key that was never stored")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (s *recordingSink) OnEvent(ev pipeline.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func TestCompileProgressEvents(t *testing.T) {
	env := newEnv(t)
	sink := &recordingSink{}
	compile(t, env, pipeline.Options{Jobs: 1, Sink: sink})

	perStage := map[pipeline.Stage]map[pipeline.Status]int{}
	moduleEvents := map[pipeline.Stage][]pipeline.Status{}
	for _, ev := range sink.events {
		if ev.Module {
			moduleEvents[ev.Stage] = append(moduleEvents[ev.Stage], ev.Status)
			continue
		}
		if perStage[ev.Stage] == nil {
			perStage[ev.Stage] = map[pipeline.Status]int{}
		}
		perStage[ev.Stage][ev.Status]++
	}

	for _, stage := range []pipeline.Stage{pipeline.StageTranslate, pipeline.StageGenerate} {
		got := moduleEvents[stage]
		if len(got) != 2 || got[0] != pipeline.StatusWorking || got[1] != pipeline.StatusDone {
			t.Errorf("stage %s module events = %v, want [working done]", stage, got)
		}
		counts := perStage[stage]
		if counts[pipeline.StatusQueued] != 3 || counts[pipeline.StatusWorking] != 3 || counts[pipeline.StatusDone] != 3 {
			t.Errorf("stage %s counts = %v, want 3 queued, 3 working, 3 done", stage, counts)
		}
		if counts[pipeline.StatusError] != 0 {
			t.Errorf("stage %s reported %d errors", stage, counts[pipeline.StatusError])
		}
	}
}
