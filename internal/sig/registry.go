package sig

import (
	"fmt"
	"sync"

	"fortio.org/safecast"

	"smelt/internal/wasm"
)

// Registry interns signatures for one module. Indices are dense, stable
// and never reordered; the table only grows. Intern is safe for
// concurrent use — interning is the single mutable shared structure
// during the parallel compilation phase.
type Registry struct {
	mu    sync.RWMutex
	sigs  []Signature
	index map[string]wasm.SigIndex
}

// NewRegistry returns an empty module-scoped registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]wasm.SigIndex, 16)}
}

// Intern returns the existing index for an equal signature, or
// allocates the next one. The stored signature is a private copy, so
// callers may reuse their slices.
func (r *Registry) Intern(s Signature) wasm.SigIndex {
	k := s.key()

	r.mu.RLock()
	id, ok := r.index[k]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.index[k]; ok {
		return id
	}
	n, err := safecast.Conv[uint32](len(r.sigs))
	if err != nil {
		panic(fmt.Errorf("sig: table overflow: %w", err))
	}
	id = wasm.SigIndex(n)
	stored := Signature{
		Params:  append([]wasm.ValueType(nil), s.Params...),
		Results: append([]wasm.ValueType(nil), s.Results...),
	}
	r.sigs = append(r.sigs, stored)
	r.index[k] = id
	return id
}

// Resolve returns the signature interned under id.
func (r *Registry) Resolve(id wasm.SigIndex) (Signature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.sigs) {
		return Signature{}, fmt.Errorf("sig: index %d never interned (table size %d)", id, len(r.sigs))
	}
	return r.sigs[id], nil
}

// MustResolve panics on an invalid index. For use after interning is
// known to have happened, e.g. inside the code generator.
func (r *Registry) MustResolve(id wasm.SigIndex) Signature {
	s, err := r.Resolve(id)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of distinct signatures interned so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sigs)
}
