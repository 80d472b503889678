package wasmbin

import (
	"testing"

	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// bin assembles test binaries byte by byte.
type bin []byte

func (b *bin) byte(v ...byte) *bin {
	*b = append(*b, v...)
	return b
}

func (b *bin) u32(v uint32) *bin {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		*b = append(*b, c)
		if v == 0 {
			return b
		}
	}
}

func (b *bin) s64(v int64) *bin {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		*b = append(*b, c)
		if done {
			return b
		}
	}
}

func (b *bin) name(s string) *bin {
	b.u32(uint32(len(s)))
	*b = append(*b, s...)
	return b
}

func (b *bin) section(id byte, payload bin) *bin {
	b.byte(id)
	b.u32(uint32(len(payload)))
	*b = append(*b, payload...)
	return b
}

func header() bin {
	return bin{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

// testModuleBytes builds a module with two types, one imported
// function, one local function, a memory, a table, a mutable global, an
// export and an element segment. The local function body is
//
//	local.get 0
//	i32.const 2
//	i32.add
//	end
func testModuleBytes() []byte {
	mod := header()

	var types bin
	types.u32(2)
	// (i32) -> (i32)
	types.byte(0x60).u32(1).byte(0x7f).u32(1).byte(0x7f)
	// () -> ()
	types.byte(0x60).u32(0).u32(0)
	mod.section(secType, types)

	var imports bin
	imports.u32(1)
	imports.name("env").name("host").byte(kindFunc).u32(1)
	mod.section(secImport, imports)

	var funcs bin
	funcs.u32(1).u32(0)
	mod.section(secFunction, funcs)

	var tables bin
	tables.u32(1).byte(0x70, 0x01).u32(2).u32(8) // funcref, min 2, max 8
	mod.section(secTable, tables)

	var mems bin
	mems.u32(1).byte(0x00).u32(1) // min 1 page, no max
	mod.section(secMemory, mems)

	var globals bin
	globals.u32(1)
	globals.byte(0x7f, 0x01)                  // mut i32
	globals.byte(0x41).s64(41).byte(0x0b)     // i32.const 41; end
	mod.section(secGlobal, globals)

	var exports bin
	exports.u32(1)
	exports.name("run").byte(kindFunc).u32(1)
	mod.section(secExport, exports)

	var elems bin
	elems.u32(1)
	elems.u32(0)                          // active, table 0
	elems.byte(0x41).s64(0).byte(0x0b)    // i32.const 0; end
	elems.u32(1).u32(1)                   // one entry: func 1
	mod.section(secElement, elems)

	var body bin
	body.u32(0) // no extra locals
	body.byte(0x20).u32(0)
	body.byte(0x41).s64(2)
	body.byte(0x6a)
	body.byte(0x0b)

	var code bin
	code.u32(1)
	code.u32(uint32(len(body)))
	code = append(code, body...)
	mod.section(secCode, code)

	return mod
}

func TestReadModule(t *testing.T) {
	sigs := sig.NewRegistry()
	mod, bodies, err := ReadModule(testModuleBytes(), sigs)
	if err != nil {
		t.Fatalf("ReadModule: %v", err)
	}

	if mod.NumFuncs() != 2 || mod.NumImportedFuncs() != 1 || mod.NumLocalFuncs() != 1 {
		t.Fatalf("functions: total %d, imported %d, local %d",
			mod.NumFuncs(), mod.NumImportedFuncs(), mod.NumLocalFuncs())
	}

	// The import uses type 1 () -> (), the local function type 0
	// (i32) -> (i32).
	importSig, err := mod.FuncSig(0)
	if err != nil {
		t.Fatalf("FuncSig(0): %v", err)
	}
	if s := sigs.MustResolve(importSig); len(s.Params) != 0 || len(s.Results) != 0 {
		t.Errorf("import signature = %v", s)
	}
	localSig, err := mod.FuncSig(1)
	if err != nil {
		t.Fatalf("FuncSig(1): %v", err)
	}
	if s := sigs.MustResolve(localSig); len(s.Params) != 1 || s.Params[0] != wasm.I32 {
		t.Errorf("local signature = %v", s)
	}

	td, err := mod.TableDescriptor(0)
	if err != nil {
		t.Fatalf("TableDescriptor: %v", err)
	}
	if td.Elem != wasm.FuncRef || td.Min != 2 || td.Max == nil || *td.Max != 8 {
		t.Errorf("table = %+v", td)
	}

	md, err := mod.MemoryDescriptor(0)
	if err != nil {
		t.Fatalf("MemoryDescriptor: %v", err)
	}
	if md.MinPages != 1 || md.MaxPages != nil {
		t.Errorf("memory = %+v", md)
	}

	init, err := mod.GlobalInitializer(0)
	if err != nil {
		t.Fatalf("GlobalInitializer: %v", err)
	}
	if init.Kind != wasm.InitConstI32 || init.I32 != 41 {
		t.Errorf("global init = %v", init)
	}

	exports := mod.Exports()
	if len(exports) != 1 || exports[0].Name != "run" || exports[0].Kind != wasm.ExportFunc || exports[0].Func != 1 {
		t.Errorf("exports = %+v", exports)
	}

	elems := mod.Elems()
	if len(elems) != 1 || len(elems[0].Funcs) != 1 || elems[0].Funcs[0] != 1 {
		t.Errorf("elements = %+v", elems)
	}

	if len(bodies) != 1 {
		t.Fatalf("bodies = %d, want 1", len(bodies))
	}
	want := []wasm.Opcode{wasm.OpLocalGet, wasm.OpI32Const, wasm.OpI32Add, wasm.OpEnd}
	if len(bodies[0].Ops) != len(want) {
		t.Fatalf("ops = %d, want %d", len(bodies[0].Ops), len(want))
	}
	for i, oc := range want {
		if bodies[0].Ops[i].Opcode != oc {
			t.Errorf("op %d = %v, want %v", i, bodies[0].Ops[i].Opcode, oc)
		}
	}
	if bodies[0].Ops[1].Wide != 2 {
		t.Errorf("const payload = %d, want 2", bodies[0].Ops[1].Wide)
	}
}

func TestReadModuleErrors(t *testing.T) {
	good := testModuleBytes()

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append(bin{0xde, 0xad, 0xbe, 0xef, 1, 0, 0, 0}, good[8:]...)},
		{"bad version", append(bin{0x00, 0x61, 0x73, 0x6d, 9, 0, 0, 0}, good[8:]...)},
		{"truncated", good[:len(good)-3]},
		{"section out of order", func() []byte {
			mod := header()
			var funcs bin
			funcs.u32(0)
			mod.section(secFunction, funcs)
			var types bin
			types.u32(0)
			mod.section(secType, types)
			return mod
		}()},
		{"code count mismatch", func() []byte {
			mod := header()
			var types bin
			types.u32(1)
			types.byte(0x60).u32(0).u32(0)
			mod.section(secType, types)
			var funcs bin
			funcs.u32(1).u32(0)
			mod.section(secFunction, funcs)
			return mod
		}()},
		{"unknown opcode", func() []byte {
			mod := header()
			var types bin
			types.u32(1)
			types.byte(0x60).u32(0).u32(0)
			mod.section(secType, types)
			var funcs bin
			funcs.u32(1).u32(0)
			mod.section(secFunction, funcs)
			var body bin
			body.u32(0)
			body.byte(0xf5) // not an operator
			body.byte(0x0b)
			var code bin
			code.u32(1).u32(uint32(len(body)))
			code = append(code, body...)
			mod.section(secCode, code)
			return mod
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ReadModule(tc.data, sig.NewRegistry()); err == nil {
				t.Fatal("ReadModule accepted malformed input")
			}
		})
	}
}

func TestLEBRoundTrip(t *testing.T) {
	uvals := []uint32{0, 1, 127, 128, 16384, 0xffffffff}
	for _, v := range uvals {
		var b bin
		b.u32(v)
		r := &reader{buf: b}
		got, err := r.u32()
		if err != nil {
			t.Fatalf("u32(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("u32 round trip %d -> %d", v, got)
		}
	}

	svals := []int64{0, 1, -1, 63, 64, -64, -65, 1 << 40, -(1 << 40), 1<<63 - 1, -1 << 63}
	for _, v := range svals {
		var b bin
		b.s64(v)
		r := &reader{buf: b}
		got, err := r.s64()
		if err != nil {
			t.Fatalf("s64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("s64 round trip %d -> %d", v, got)
		}
	}
}
