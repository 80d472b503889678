package fuzztests

import "testing"

// header is the binary module preamble: magic plus version 1.
var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// addCorpusSeeds primes the fuzzer with a few structurally interesting
// modules so it starts past the magic-number cliff.
func addCorpusSeeds(f *testing.F) {
	f.Add([]byte{})
	f.Add(append([]byte(nil), header...))

	// One type, one function, empty body.
	empty := append([]byte(nil), header...)
	empty = append(empty,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type: () -> ()
		0x03, 0x02, 0x01, 0x00, // function: uses type 0
		0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // code: no locals, end
	)
	f.Add(empty)

	// (i32) -> (i32): local.get 0; i32.const 2; i32.add; end
	add := append([]byte(nil), header...)
	add = append(add,
		0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x03, 0x02, 0x01, 0x00,
		0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x41, 0x02, 0x6a, 0x0b,
	)
	f.Add(add)

	// Truncated mid-section.
	f.Add(add[:len(add)-4])

	// Block structure: block (result i32) ... br 0 ... end.
	block := append([]byte(nil), header...)
	block = append(block,
		0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
		0x03, 0x02, 0x01, 0x00,
		0x0a, 0x0b, 0x01, 0x09, 0x00,
		0x02, 0x7f, 0x41, 0x07, 0x0c, 0x00, 0x0b, 0x0b,
	)
	f.Add(block)
}
