// Package sig deduplicates function signatures into a dense,
// module-scoped table addressed by wasm.SigIndex.
package sig

import (
	"slices"
	"strings"

	"smelt/internal/wasm"
)

// Signature is an ordered parameter list and an ordered result list.
// Two signatures are equal iff both lists are element-wise equal.
type Signature struct {
	Params  []wasm.ValueType
	Results []wasm.ValueType
}

// Equal reports element-wise equality.
func (s Signature) Equal(other Signature) bool {
	return slices.Equal(s.Params, other.Params) &&
		slices.Equal(s.Results, other.Results)
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range s.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// key is the canonical map key: params and results are single-byte
// encodings, so the raw bytes joined by a separator are unambiguous.
func (s Signature) key() string {
	buf := make([]byte, 0, len(s.Params)+len(s.Results)+1)
	for _, p := range s.Params {
		buf = append(buf, byte(p))
	}
	buf = append(buf, 0)
	for _, r := range s.Results {
		buf = append(buf, byte(r))
	}
	return string(buf)
}
