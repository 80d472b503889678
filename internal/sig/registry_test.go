package sig

import (
	"sync"
	"testing"

	"smelt/internal/wasm"
)

func TestInternSameIndexForEqualSignatures(t *testing.T) {
	r := NewRegistry()

	a := r.Intern(Signature{Params: []wasm.ValueType{wasm.I32, wasm.I64}, Results: []wasm.ValueType{wasm.F64}})
	b := r.Intern(Signature{Params: []wasm.ValueType{wasm.I32, wasm.I64}, Results: []wasm.ValueType{wasm.F64}})
	if a != b {
		t.Errorf("equal signatures interned to %d and %d", a, b)
	}

	c := r.Intern(Signature{Params: []wasm.ValueType{wasm.I32}, Results: []wasm.ValueType{wasm.F64}})
	if c == a {
		t.Error("distinct signatures share an index")
	}

	// Params and results must not be conflated.
	d := r.Intern(Signature{Params: []wasm.ValueType{wasm.I32, wasm.I64, wasm.F64}})
	e := r.Intern(Signature{Params: []wasm.ValueType{wasm.I32, wasm.I64}, Results: []wasm.ValueType{wasm.F64}})
	if d == e {
		t.Error("param/result split ignored by interning")
	}

	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestResolveRoundTrip(t *testing.T) {
	r := NewRegistry()
	want := Signature{Params: []wasm.ValueType{wasm.F32, wasm.F32}, Results: []wasm.ValueType{wasm.I32}}
	id := r.Intern(want)

	got, err := r.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Resolve(%d) = %v, want %v", id, got, want)
	}

	if _, err := r.Resolve(99); err == nil {
		t.Error("Resolve accepted an index that was never interned")
	}
}

func TestInternConcurrent(t *testing.T) {
	r := NewRegistry()
	sigs := []Signature{
		{},
		{Params: []wasm.ValueType{wasm.I32}},
		{Params: []wasm.ValueType{wasm.I32}, Results: []wasm.ValueType{wasm.I32}},
		{Results: []wasm.ValueType{wasm.I64}},
	}

	var wg sync.WaitGroup
	ids := make([][]wasm.SigIndex, 8)
	for w := range ids {
		ids[w] = make([]wasm.SigIndex, len(sigs))
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i, s := range sigs {
				ids[w][i] = r.Intern(s)
			}
		}(w)
	}
	wg.Wait()

	for w := 1; w < len(ids); w++ {
		for i := range sigs {
			if ids[w][i] != ids[0][i] {
				t.Fatalf("worker %d got index %d for signature %d, worker 0 got %d",
					w, ids[w][i], i, ids[0][i])
			}
		}
	}
	if r.Len() != len(sigs) {
		t.Errorf("Len = %d, want %d", r.Len(), len(sigs))
	}
}

func TestSignatureString(t *testing.T) {
	s := Signature{Params: []wasm.ValueType{wasm.I32, wasm.I64}, Results: []wasm.ValueType{wasm.F32}}
	if got := s.String(); got != "(i32, i64) -> (f32)" {
		t.Errorf("String = %q", got)
	}
	if got := (Signature{}).String(); got != "() -> ()" {
		t.Errorf("empty String = %q", got)
	}
}
