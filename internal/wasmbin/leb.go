// Package wasmbin reads the WebAssembly binary format into the index
// and descriptor model. It is a reader, not a validator: malformed
// bytes yield decode errors, while well-formed but semantically invalid
// modules are the upstream validator's contract to reject.
package wasmbin

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	errUnexpectedEOF = errors.New("wasmbin: unexpected end of input")
	errIntTooLong    = errors.New("wasmbin: integer representation too long")
	errIntTooLarge   = errors.New("wasmbin: integer too large")
)

// reader is a cursor over one byte span. Section payloads get their own
// sub-readers so a section can never read past its declared size.
type reader struct {
	buf []byte
	pos int

	// base is the cursor's offset inside the function body, for
	// attributing operators.
	base uint32
}

func (r *reader) len() int    { return len(r.buf) - r.pos }
func (r *reader) off() uint32 { return r.base + uint32(r.pos) }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.len() < n {
		return nil, errUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// sub carves an n-byte sub-reader off the cursor.
func (r *reader) sub(n int) (*reader, error) {
	b, err := r.bytes(n)
	if err != nil {
		return nil, err
	}
	return &reader{buf: b}, nil
}

const (
	continuationBit = 0x80
	payloadMask     = 0x7f
	signBit         = 0x40
)

// uleb decodes an unsigned LEB128 value of at most maxBytes bytes.
func (r *reader) uleb(maxBytes int) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= maxBytes {
			return 0, errIntTooLong
		}
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return result, nil
		}
		shift += 7
	}
}

// sleb decodes a signed LEB128 value of at most maxBytes bytes.
func (r *reader) sleb(maxBytes int) (int64, error) {
	var result int64
	var shift uint
	var b byte
	for i := 0; ; i++ {
		if i >= maxBytes {
			return 0, errIntTooLong
		}
		var err error
		b, err = r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&payloadMask) << shift
		shift += 7
		if b&continuationBit == 0 {
			break
		}
	}
	if shift < 64 && b&signBit != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (r *reader) u32() (uint32, error) {
	v, err := r.uleb(5)
	if err != nil {
		return 0, err
	}
	if v > 0xffffffff {
		return 0, errIntTooLarge
	}
	return uint32(v), nil
}

func (r *reader) s32() (int32, error) {
	v, err := r.sleb(5)
	if err != nil {
		return 0, err
	}
	if v < -0x80000000 || v > 0x7fffffff {
		return 0, errIntTooLarge
	}
	return int32(v), nil
}

func (r *reader) s64() (int64, error) {
	return r.sleb(10)
}

func (r *reader) f32bits() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) f64bits() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// name reads a length-prefixed UTF-8 string.
func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", fmt.Errorf("name of %d bytes: %w", n, err)
	}
	return string(b), nil
}
