package wasm

import (
	"testing"
)

func u32ptr(v uint32) *uint32 { return &v }

// testDecl builds a module with imports ahead of local definitions in
// every index space: 2+3 functions, 1+2 globals, 0+1 memories, 1+1 tables.
func testDecl() ModuleDecl {
	start := FuncIndex(3)
	return ModuleDecl{
		Types:    []SigIndex{7, 8},
		FuncSigs: []SigIndex{7, 8, 7, 7, 8},
		ImportedFuncs: []ImportName{
			{Module: "env", Field: "log"},
			{Module: "env", Field: "abort"},
		},
		ImportedGlobals:     []GlobalDescriptor{{Type: I64}},
		ImportedGlobalNames: []ImportName{{Module: "env", Field: "heap_base"}},
		Globals: []GlobalInit{
			{Desc: GlobalDescriptor{Type: I32, Mutable: true}, Init: Initializer{Kind: InitConstI32, I32: 41}},
			{Desc: GlobalDescriptor{Type: F64}, Init: Initializer{Kind: InitConstF64, F64: 2.5}},
		},
		Memories:           []MemoryDescriptor{{MinPages: 1, MaxPages: u32ptr(16)}},
		ImportedTables:     []TableDescriptor{{Elem: FuncRef, Min: 2}},
		ImportedTableNames: []ImportName{{Module: "env", Field: "indirect"}},
		Tables:             []TableDescriptor{{Elem: FuncRef, Min: 4, Max: u32ptr(4)}},
		Exports: []Export{
			{Name: "run", Kind: ExportFunc, Func: 2},
		},
		Start: &start,
	}
}

func mustModule(t *testing.T) *Module {
	t.Helper()
	mod, err := NewModule(testDecl())
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	return mod
}

func TestModuleCounts(t *testing.T) {
	mod := mustModule(t)

	counts := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"NumFuncs", mod.NumFuncs(), 5},
		{"NumImportedFuncs", mod.NumImportedFuncs(), 2},
		{"NumLocalFuncs", mod.NumLocalFuncs(), 3},
		{"NumGlobals", mod.NumGlobals(), 3},
		{"NumImportedGlobals", mod.NumImportedGlobals(), 1},
		{"NumMemories", mod.NumMemories(), 1},
		{"NumImportedMemories", mod.NumImportedMemories(), 0},
		{"NumTables", mod.NumTables(), 2},
		{"NumImportedTables", mod.NumImportedTables(), 1},
	}
	for _, c := range counts {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

// Classification is total over each combined space: every in-range
// index lands in exactly one variant, imports first, each sub-space
// dense from zero, and anything past the end errors.
func TestClassifyFuncTotality(t *testing.T) {
	mod := mustModule(t)

	for idx := FuncIndex(0); uint32(idx) < mod.NumFuncs(); idx++ {
		class, err := mod.ClassifyFunc(idx)
		if err != nil {
			t.Fatalf("ClassifyFunc(%d): %v", idx, err)
		}
		local, isLocal := class.Local()
		imported, isImported := class.Imported()
		if isLocal == isImported {
			t.Fatalf("ClassifyFunc(%d): local=%v imported=%v, want exactly one", idx, isLocal, isImported)
		}
		if uint32(idx) < mod.NumImportedFuncs() {
			if !isImported || uint32(imported) != uint32(idx) {
				t.Errorf("ClassifyFunc(%d) = imported %d (%v), want imported %d", idx, imported, isImported, idx)
			}
		} else {
			want := uint32(idx) - mod.NumImportedFuncs()
			if !isLocal || uint32(local) != want {
				t.Errorf("ClassifyFunc(%d) = local %d (%v), want local %d", idx, local, isLocal, want)
			}
		}
	}
	if _, err := mod.ClassifyFunc(FuncIndex(mod.NumFuncs())); err == nil {
		t.Error("ClassifyFunc past the end: want error")
	}
}

func TestClassifyOtherSpaces(t *testing.T) {
	mod := mustModule(t)

	t.Run("globals", func(t *testing.T) {
		class, err := mod.ClassifyGlobal(0)
		if err != nil {
			t.Fatal(err)
		}
		if imported, ok := class.Imported(); !ok || imported != 0 {
			t.Errorf("global 0 = %d (%v), want imported 0", imported, ok)
		}
		class, err = mod.ClassifyGlobal(2)
		if err != nil {
			t.Fatal(err)
		}
		if local, ok := class.Local(); !ok || local != 1 {
			t.Errorf("global 2 = %d (%v), want local 1", local, ok)
		}
		if _, err := mod.ClassifyGlobal(3); err == nil {
			t.Error("global 3: want error")
		}
	})

	t.Run("memories", func(t *testing.T) {
		class, err := mod.ClassifyMemory(0)
		if err != nil {
			t.Fatal(err)
		}
		if local, ok := class.Local(); !ok || local != 0 {
			t.Errorf("memory 0 = %d (%v), want local 0", local, ok)
		}
		if _, err := mod.ClassifyMemory(1); err == nil {
			t.Error("memory 1: want error")
		}
	})

	t.Run("tables", func(t *testing.T) {
		class, err := mod.ClassifyTable(0)
		if err != nil {
			t.Fatal(err)
		}
		if imported, ok := class.Imported(); !ok || imported != 0 {
			t.Errorf("table 0 = %d (%v), want imported 0", imported, ok)
		}
		class, err = mod.ClassifyTable(1)
		if err != nil {
			t.Fatal(err)
		}
		if local, ok := class.Local(); !ok || local != 0 {
			t.Errorf("table 1 = %d (%v), want local 0", local, ok)
		}
		if _, err := mod.ClassifyTable(2); err == nil {
			t.Error("table 2: want error")
		}
	})
}

func TestLocalOrImportVariants(t *testing.T) {
	loc := AsLocal[LocalFuncIndex, ImportedFuncIndex](3)
	if loc.Kind() != ProvenanceLocal {
		t.Errorf("AsLocal kind = %v", loc.Kind())
	}
	if idx, ok := loc.Local(); !ok || idx != 3 {
		t.Errorf("Local() = %d, %v", idx, ok)
	}
	if _, ok := loc.Imported(); ok {
		t.Error("Imported() on local variant: want ok=false")
	}

	imp := AsImported[LocalFuncIndex](ImportedFuncIndex(1))
	if imp.Kind() != ProvenanceImported {
		t.Errorf("AsImported kind = %v", imp.Kind())
	}
	if idx, ok := imp.Imported(); !ok || idx != 1 {
		t.Errorf("Imported() = %d, %v", idx, ok)
	}
	if _, ok := imp.Local(); ok {
		t.Error("Local() on imported variant: want ok=false")
	}
}

func TestNewModuleRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ModuleDecl)
	}{
		{"fewer sigs than imported funcs", func(d *ModuleDecl) {
			d.FuncSigs = d.FuncSigs[:1]
		}},
		{"memory min above max", func(d *ModuleDecl) {
			d.Memories[0] = MemoryDescriptor{MinPages: 17, MaxPages: u32ptr(16)}
		}},
		{"imported table min above max", func(d *ModuleDecl) {
			d.ImportedTables[0] = TableDescriptor{Elem: FuncRef, Min: 9, Max: u32ptr(8)}
		}},
		{"start out of range", func(d *ModuleDecl) {
			bad := FuncIndex(99)
			d.Start = &bad
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			decl := testDecl()
			c.mutate(&decl)
			if _, err := NewModule(decl); err == nil {
				t.Fatal("NewModule accepted invalid declaration")
			}
		})
	}
}

func TestDescriptorLookups(t *testing.T) {
	mod := mustModule(t)

	sig, err := mod.TypeSig(1)
	if err != nil || sig != 8 {
		t.Errorf("TypeSig(1) = %d, %v, want 8", sig, err)
	}
	if _, err := mod.TypeSig(2); err == nil {
		t.Error("TypeSig(2): want error")
	}

	sig, err = mod.FuncSig(4)
	if err != nil || sig != 8 {
		t.Errorf("FuncSig(4) = %d, %v, want 8", sig, err)
	}
	if _, err := mod.FuncSig(5); err == nil {
		t.Error("FuncSig(5): want error")
	}

	desc, err := mod.GlobalDescriptor(0)
	if err != nil || desc.Type != I64 {
		t.Errorf("GlobalDescriptor(0) = %+v, %v, want imported i64", desc, err)
	}
	desc, err = mod.GlobalDescriptor(1)
	if err != nil || desc.Type != I32 || !desc.Mutable {
		t.Errorf("GlobalDescriptor(1) = %+v, %v, want local mutable i32", desc, err)
	}

	mem, err := mod.MemoryDescriptor(0)
	if err != nil || mem.MinPages != 1 || mem.MaxPages == nil || *mem.MaxPages != 16 {
		t.Errorf("MemoryDescriptor(0) = %+v, %v", mem, err)
	}

	tab, err := mod.TableDescriptor(1)
	if err != nil || tab.Min != 4 {
		t.Errorf("TableDescriptor(1) = %+v, %v, want local table min=4", tab, err)
	}

	init, err := mod.GlobalInitializer(0)
	if err != nil || init.Kind != InitConstI32 || init.I32 != 41 {
		t.Errorf("GlobalInitializer(0) = %+v, %v", init, err)
	}
	if _, err := mod.GlobalInitializer(2); err == nil {
		t.Error("GlobalInitializer(2): want error")
	}

	name, err := mod.ImportedFuncName(1)
	if err != nil || name.Module != "env" || name.Field != "abort" {
		t.Errorf("ImportedFuncName(1) = %+v, %v", name, err)
	}

	start, ok := mod.Start()
	if !ok || start != 3 {
		t.Errorf("Start() = %d, %v, want 3", start, ok)
	}
}
