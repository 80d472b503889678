package wasm

import "fmt"

// ImportName identifies the source of an import.
type ImportName struct {
	Module string
	Field  string
}

// GlobalInit pairs a locally defined global's shape with its seed value.
type GlobalInit struct {
	Desc GlobalDescriptor
	Init Initializer
}

// ExportKind tags an Export variant.
type ExportKind uint8

const (
	ExportFunc ExportKind = iota
	ExportGlobal
	ExportMemory
	ExportTable
)

// Export names one module entity for the outside world.
type Export struct {
	Name string
	Kind ExportKind

	Func   FuncIndex
	Global GlobalIndex
	Memory MemoryIndex
	Table  TableIndex
}

// ElemSegment seeds a table region at instantiation.
type ElemSegment struct {
	Table  TableIndex
	Offset Initializer
	Funcs  []FuncIndex
}

// DataSegment seeds a memory region at instantiation.
type DataSegment struct {
	Memory MemoryIndex
	Offset Initializer
	Data   []byte
}

// ModuleDecl carries everything NewModule needs to build the immutable
// index/descriptor model. The decoder (or a test) fills it once;
// combined index spaces list imports first, then local definitions.
type ModuleDecl struct {
	// Types maps the module's declared type indices to interned
	// signatures; block types and call_indirect immediates refer here.
	Types []SigIndex
	// FuncSigs assigns a signature to every function in the combined
	// space. The first len(ImportedFuncs) entries belong to imports.
	FuncSigs      []SigIndex
	ImportedFuncs []ImportName

	ImportedGlobals     []GlobalDescriptor
	ImportedGlobalNames []ImportName
	Globals             []GlobalInit

	ImportedMemories     []MemoryDescriptor
	ImportedMemoryNames  []ImportName
	Memories             []MemoryDescriptor
	ImportedTables       []TableDescriptor
	ImportedTableNames   []ImportName
	Tables               []TableDescriptor

	Exports []Export
	Elems   []ElemSegment
	Data    []DataSegment
	Start   *FuncIndex
}

// Module is the type/index model of one WebAssembly module: entity
// counts, descriptors and signature assignments, frozen at construction.
// All lookups are pure; nothing is added or removed afterwards.
type Module struct {
	decl ModuleDecl
}

// NewModule freezes decl into a Module. Descriptor invariants are the
// upstream validator's responsibility; they are re-checked here only as
// a defensive net against contract breaches.
func NewModule(decl ModuleDecl) (*Module, error) {
	if len(decl.FuncSigs) < len(decl.ImportedFuncs) {
		return nil, fmt.Errorf("wasm: %d function signatures for %d imported functions",
			len(decl.FuncSigs), len(decl.ImportedFuncs))
	}
	for i, d := range decl.ImportedMemories {
		if err := checkLimits(fmt.Sprintf("imported memory %d", i), d.MinPages, d.MaxPages); err != nil {
			return nil, err
		}
	}
	for i, d := range decl.Memories {
		if err := checkLimits(fmt.Sprintf("memory %d", i), d.MinPages, d.MaxPages); err != nil {
			return nil, err
		}
	}
	for i, d := range decl.ImportedTables {
		if err := checkLimits(fmt.Sprintf("imported table %d", i), d.Min, d.Max); err != nil {
			return nil, err
		}
	}
	for i, d := range decl.Tables {
		if err := checkLimits(fmt.Sprintf("table %d", i), d.Min, d.Max); err != nil {
			return nil, err
		}
	}
	if decl.Start != nil && uint32(*decl.Start) >= uint32(len(decl.FuncSigs)) {
		return nil, rangeErr("start function", uint32(*decl.Start), len(decl.FuncSigs))
	}
	return &Module{decl: decl}, nil
}

func rangeErr(what string, idx uint32, count int) error {
	return fmt.Errorf("wasm: %s index %d out of range (count %d)", what, idx, count)
}

// Entity counts.

func (m *Module) NumFuncs() uint32         { return uint32(len(m.decl.FuncSigs)) }
func (m *Module) NumImportedFuncs() uint32 { return uint32(len(m.decl.ImportedFuncs)) }
func (m *Module) NumLocalFuncs() uint32 {
	return uint32(len(m.decl.FuncSigs) - len(m.decl.ImportedFuncs))
}

func (m *Module) NumImportedGlobals() uint32 { return uint32(len(m.decl.ImportedGlobals)) }
func (m *Module) NumGlobals() uint32 {
	return uint32(len(m.decl.ImportedGlobals) + len(m.decl.Globals))
}

func (m *Module) NumImportedMemories() uint32 { return uint32(len(m.decl.ImportedMemories)) }
func (m *Module) NumMemories() uint32 {
	return uint32(len(m.decl.ImportedMemories) + len(m.decl.Memories))
}

func (m *Module) NumImportedTables() uint32 { return uint32(len(m.decl.ImportedTables)) }
func (m *Module) NumTables() uint32 {
	return uint32(len(m.decl.ImportedTables) + len(m.decl.Tables))
}

// Classification. An index below the import count is imported, the rest
// of the combined space is local; the two sub-spaces are each densely
// numbered from zero.

func (m *Module) ClassifyFunc(idx FuncIndex) (FuncClass, error) {
	imported := uint32(len(m.decl.ImportedFuncs))
	switch {
	case uint32(idx) >= m.NumFuncs():
		return FuncClass{}, rangeErr("function", uint32(idx), int(m.NumFuncs()))
	case uint32(idx) < imported:
		return AsImported[LocalFuncIndex](ImportedFuncIndex(idx)), nil
	default:
		return AsLocal[LocalFuncIndex, ImportedFuncIndex](LocalFuncIndex(uint32(idx) - imported)), nil
	}
}

func (m *Module) ClassifyGlobal(idx GlobalIndex) (GlobalClass, error) {
	imported := uint32(len(m.decl.ImportedGlobals))
	switch {
	case uint32(idx) >= m.NumGlobals():
		return GlobalClass{}, rangeErr("global", uint32(idx), int(m.NumGlobals()))
	case uint32(idx) < imported:
		return AsImported[LocalGlobalIndex](ImportedGlobalIndex(idx)), nil
	default:
		return AsLocal[LocalGlobalIndex, ImportedGlobalIndex](LocalGlobalIndex(uint32(idx) - imported)), nil
	}
}

func (m *Module) ClassifyMemory(idx MemoryIndex) (MemoryClass, error) {
	imported := uint32(len(m.decl.ImportedMemories))
	switch {
	case uint32(idx) >= m.NumMemories():
		return MemoryClass{}, rangeErr("memory", uint32(idx), int(m.NumMemories()))
	case uint32(idx) < imported:
		return AsImported[LocalMemoryIndex](ImportedMemoryIndex(idx)), nil
	default:
		return AsLocal[LocalMemoryIndex, ImportedMemoryIndex](LocalMemoryIndex(uint32(idx) - imported)), nil
	}
}

func (m *Module) ClassifyTable(idx TableIndex) (TableClass, error) {
	imported := uint32(len(m.decl.ImportedTables))
	switch {
	case uint32(idx) >= m.NumTables():
		return TableClass{}, rangeErr("table", uint32(idx), int(m.NumTables()))
	case uint32(idx) < imported:
		return AsImported[LocalTableIndex](ImportedTableIndex(idx)), nil
	default:
		return AsLocal[LocalTableIndex, ImportedTableIndex](LocalTableIndex(uint32(idx) - imported)), nil
	}
}

// Descriptor lookups over the combined spaces.

// TypeSig resolves a declared type index to its interned signature.
func (m *Module) TypeSig(idx uint32) (SigIndex, error) {
	if int(idx) >= len(m.decl.Types) {
		return 0, rangeErr("type", idx, len(m.decl.Types))
	}
	return m.decl.Types[idx], nil
}

func (m *Module) FuncSig(idx FuncIndex) (SigIndex, error) {
	if uint32(idx) >= m.NumFuncs() {
		return 0, rangeErr("function", uint32(idx), int(m.NumFuncs()))
	}
	return m.decl.FuncSigs[idx], nil
}

func (m *Module) GlobalDescriptor(idx GlobalIndex) (GlobalDescriptor, error) {
	imported := len(m.decl.ImportedGlobals)
	switch {
	case uint32(idx) >= m.NumGlobals():
		return GlobalDescriptor{}, rangeErr("global", uint32(idx), int(m.NumGlobals()))
	case int(idx) < imported:
		return m.decl.ImportedGlobals[idx], nil
	default:
		return m.decl.Globals[int(idx)-imported].Desc, nil
	}
}

func (m *Module) MemoryDescriptor(idx MemoryIndex) (MemoryDescriptor, error) {
	imported := len(m.decl.ImportedMemories)
	switch {
	case uint32(idx) >= m.NumMemories():
		return MemoryDescriptor{}, rangeErr("memory", uint32(idx), int(m.NumMemories()))
	case int(idx) < imported:
		return m.decl.ImportedMemories[idx], nil
	default:
		return m.decl.Memories[int(idx)-imported], nil
	}
}

func (m *Module) TableDescriptor(idx TableIndex) (TableDescriptor, error) {
	imported := len(m.decl.ImportedTables)
	switch {
	case uint32(idx) >= m.NumTables():
		return TableDescriptor{}, rangeErr("table", uint32(idx), int(m.NumTables()))
	case int(idx) < imported:
		return m.decl.ImportedTables[idx], nil
	default:
		return m.decl.Tables[int(idx)-imported], nil
	}
}

// GlobalInitializer returns the seed expression of a locally defined global.
func (m *Module) GlobalInitializer(idx LocalGlobalIndex) (Initializer, error) {
	if int(idx) >= len(m.decl.Globals) {
		return Initializer{}, rangeErr("local global", uint32(idx), len(m.decl.Globals))
	}
	return m.decl.Globals[idx].Init, nil
}

// ImportedFuncName returns the module/field pair of an imported function.
func (m *Module) ImportedFuncName(idx ImportedFuncIndex) (ImportName, error) {
	if int(idx) >= len(m.decl.ImportedFuncs) {
		return ImportName{}, rangeErr("imported function", uint32(idx), len(m.decl.ImportedFuncs))
	}
	return m.decl.ImportedFuncs[idx], nil
}

func (m *Module) Exports() []Export    { return m.decl.Exports }
func (m *Module) Elems() []ElemSegment { return m.decl.Elems }
func (m *Module) Data() []DataSegment  { return m.decl.Data }

func (m *Module) Start() (FuncIndex, bool) {
	if m.decl.Start == nil {
		return 0, false
	}
	return *m.decl.Start, true
}
