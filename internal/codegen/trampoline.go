package codegen

import (
	"sync"

	"smelt/internal/sig"
	"smelt/internal/wasm"
)

// TrampolineCache memoizes trampolines per interned signature.
// Backends are deterministic, so caching by SigIndex is sound and a
// cache hit is byte-identical to a regeneration. Safe for concurrent
// use from compilation workers.
type TrampolineCache struct {
	mu      sync.Mutex
	be      Backend
	imports map[wasm.SigIndex][]byte
	exports map[wasm.SigIndex][]byte
}

func NewTrampolineCache(be Backend) *TrampolineCache {
	return &TrampolineCache{
		be:      be,
		imports: make(map[wasm.SigIndex][]byte),
		exports: make(map[wasm.SigIndex][]byte),
	}
}

// Import returns the import trampoline for an interned signature.
func (c *TrampolineCache) Import(idx wasm.SigIndex, s sig.Signature) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code, ok := c.imports[idx]; ok {
		return code, nil
	}
	code, err := c.be.ImportTrampoline(s)
	if err != nil {
		return nil, err
	}
	c.imports[idx] = code
	return code, nil
}

// Export returns the export trampoline for an interned signature.
func (c *TrampolineCache) Export(idx wasm.SigIndex, s sig.Signature) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code, ok := c.exports[idx]; ok {
		return code, nil
	}
	code, err := c.be.ExportTrampoline(s)
	if err != nil {
		return nil, err
	}
	c.exports[idx] = code
	return code, nil
}
