package wasm

// Typed index spaces. Every entity kind gets its own defined type so
// that indices of different kinds (or of different provenance) cannot
// be mixed up at compile time. A raw integer never crosses an API
// boundary.
//
// FuncIndex, GlobalIndex, MemoryIndex and TableIndex number a module's
// combined space: imports first, then local definitions. The Local*/
// Imported* types each number their own space densely from zero.

type (
	// FuncIndex addresses the combined function index space.
	FuncIndex uint32
	// LocalFuncIndex addresses functions defined in this module.
	LocalFuncIndex uint32
	// ImportedFuncIndex addresses imported functions.
	ImportedFuncIndex uint32

	// GlobalIndex addresses the combined global index space.
	GlobalIndex uint32
	// LocalGlobalIndex addresses globals defined in this module.
	LocalGlobalIndex uint32
	// ImportedGlobalIndex addresses imported globals.
	ImportedGlobalIndex uint32

	// MemoryIndex addresses the combined memory index space.
	MemoryIndex uint32
	// LocalMemoryIndex addresses memories defined in this module.
	LocalMemoryIndex uint32
	// ImportedMemoryIndex addresses imported memories.
	ImportedMemoryIndex uint32

	// TableIndex addresses the combined table index space.
	TableIndex uint32
	// LocalTableIndex addresses tables defined in this module.
	LocalTableIndex uint32
	// ImportedTableIndex addresses imported tables.
	ImportedTableIndex uint32

	// SigIndex identifies an interned function signature.
	SigIndex uint32
)

// Provenance tags a LocalOrImport variant.
type Provenance uint8

const (
	// ProvenanceLocal marks an entity defined in the module itself.
	ProvenanceLocal Provenance = iota
	// ProvenanceImported marks an entity satisfied by an import.
	ProvenanceImported
)

// LocalOrImport classifies an entity of the combined index space as
// either locally defined or imported. Exactly one variant holds.
type LocalOrImport[L ~uint32, I ~uint32] struct {
	kind     Provenance
	local    L
	imported I
}

// AsLocal builds the local variant.
func AsLocal[L ~uint32, I ~uint32](idx L) LocalOrImport[L, I] {
	return LocalOrImport[L, I]{kind: ProvenanceLocal, local: idx}
}

// AsImported builds the imported variant.
func AsImported[L ~uint32, I ~uint32](idx I) LocalOrImport[L, I] {
	return LocalOrImport[L, I]{kind: ProvenanceImported, imported: idx}
}

// Kind returns the provenance tag.
func (x LocalOrImport[L, I]) Kind() Provenance { return x.kind }

// Local returns the local index; ok is false for the imported variant.
func (x LocalOrImport[L, I]) Local() (L, bool) {
	return x.local, x.kind == ProvenanceLocal
}

// Imported returns the imported index; ok is false for the local variant.
func (x LocalOrImport[L, I]) Imported() (I, bool) {
	return x.imported, x.kind == ProvenanceImported
}

// Aliases for the four entity classifications.
type (
	FuncClass   = LocalOrImport[LocalFuncIndex, ImportedFuncIndex]
	GlobalClass = LocalOrImport[LocalGlobalIndex, ImportedGlobalIndex]
	MemoryClass = LocalOrImport[LocalMemoryIndex, ImportedMemoryIndex]
	TableClass  = LocalOrImport[LocalTableIndex, ImportedTableIndex]
)
