package fuzztests

import (
	"testing"

	"smelt/internal/sig"
	"smelt/internal/translate"
	"smelt/internal/wasm"
	"smelt/internal/wasmbin"
)

const maxFuzzInput = 1 << 16 // 64 KiB

// FuzzReadModule feeds arbitrary bytes to the binary reader and, when a
// module decodes, pushes every body through the translator. Malformed
// input must come back as an error, never a panic or runaway
// allocation.
func FuzzReadModule(f *testing.F) {
	addCorpusSeeds(f)
	f.Fuzz(func(_ *testing.T, input []byte) {
		if len(input) > maxFuzzInput {
			input = input[:maxFuzzInput]
		}

		sigs := sig.NewRegistry()
		mod, bodies, err := wasmbin.ReadModule(input, sigs)
		if err != nil {
			return
		}

		opts := translate.Options{Bounds: translate.BoundsExplicit}
		for i := range bodies {
			// Translation errors are expected: the reader does
			// not validate, so decoded bodies may still be
			// ill-typed.
			_, _ = translate.Translate(wasm.LocalFuncIndex(i), &bodies[i], mod, sigs, opts)
		}
	})
}
