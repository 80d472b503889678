package pipeline

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// resultSchema versions the serialized Result layout. Bump it whenever
// the Result or codegen metadata structs change shape; stale cache
// entries are then rejected instead of misread.
const resultSchema uint16 = 1

// Encode writes the result in msgpack form.
func (r *Result) Encode(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(r)
}

// DecodeResult reads a serialized result and restores the per-function
// code views into the text section.
func DecodeResult(rd io.Reader) (*Result, error) {
	var r Result
	if err := msgpack.NewDecoder(rd).Decode(&r); err != nil {
		return nil, err
	}
	if r.Schema != resultSchema {
		return nil, fmt.Errorf("pipeline: result schema %d, want %d", r.Schema, resultSchema)
	}
	if len(r.Offsets) != len(r.Funcs) {
		return nil, fmt.Errorf("pipeline: %d offsets for %d functions", len(r.Offsets), len(r.Funcs))
	}
	for i := range r.Funcs {
		off, size := r.Offsets[i], r.Funcs[i].Size
		if uint64(off)+uint64(size) > uint64(len(r.Code)) {
			return nil, fmt.Errorf("pipeline: function %d spans [%d, %d) beyond %d code bytes",
				i, off, off+size, len(r.Code))
		}
		r.Funcs[i].Code = r.Code[off : off+size]
	}
	return &r, nil
}
