package wasmbin

import (
	"encoding/binary"
	"fmt"
	"math"

	"fortio.org/safecast"

	"smelt/internal/sig"
	"smelt/internal/wasm"
)

const (
	wasmMagic   = 0x6d736100 // "\0asm"
	wasmVersion = 1
)

// Section identifiers, binary order.
const (
	secCustom byte = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
	secDataCount
)

const (
	kindFunc byte = iota
	kindTable
	kindMemory
	kindGlobal
)

// ReadModule decodes a binary module. Signatures are interned into sigs
// as the type section is read; the returned bodies are indexed by local
// function index and feed the translator directly.
func ReadModule(data []byte, sigs *sig.Registry) (*wasm.Module, []wasm.FuncBody, error) {
	r := &reader{buf: data}

	if r.len() < 8 {
		return nil, nil, fmt.Errorf("wasmbin: %d bytes is no module header", r.len())
	}
	hdr, _ := r.bytes(8)
	if binary.LittleEndian.Uint32(hdr) != wasmMagic {
		return nil, nil, fmt.Errorf("wasmbin: bad magic % x", hdr[:4])
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != wasmVersion {
		return nil, nil, fmt.Errorf("wasmbin: unsupported version %d", v)
	}

	d := &decoder{sigs: sigs}
	lastSec := byte(0)
	for r.len() > 0 {
		id, err := r.byte()
		if err != nil {
			return nil, nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, nil, fmt.Errorf("wasmbin: section %d size: %w", id, err)
		}
		body, err := r.sub(int(size))
		if err != nil {
			return nil, nil, fmt.Errorf("wasmbin: section %d of %d bytes: %w", id, size, err)
		}
		if id == secCustom {
			continue // name and tool sections carry no compile input
		}
		if id <= lastSec {
			return nil, nil, fmt.Errorf("wasmbin: section %d after section %d", id, lastSec)
		}
		lastSec = id
		if err := d.section(id, body); err != nil {
			return nil, nil, fmt.Errorf("wasmbin: section %d: %w", id, err)
		}
		if body.len() != 0 {
			return nil, nil, fmt.Errorf("wasmbin: section %d leaves %d bytes unread", id, body.len())
		}
	}

	if len(d.bodies) != len(d.decl.FuncSigs)-len(d.decl.ImportedFuncs) {
		return nil, nil, fmt.Errorf("wasmbin: %d code entries for %d local functions",
			len(d.bodies), len(d.decl.FuncSigs)-len(d.decl.ImportedFuncs))
	}

	mod, err := wasm.NewModule(d.decl)
	if err != nil {
		return nil, nil, err
	}
	return mod, d.bodies, nil
}

type decoder struct {
	sigs   *sig.Registry
	decl   wasm.ModuleDecl
	bodies []wasm.FuncBody
}

func (d *decoder) section(id byte, r *reader) error {
	switch id {
	case secType:
		return d.typeSection(r)
	case secImport:
		return d.importSection(r)
	case secFunction:
		return d.functionSection(r)
	case secTable:
		return d.tableSection(r)
	case secMemory:
		return d.memorySection(r)
	case secGlobal:
		return d.globalSection(r)
	case secExport:
		return d.exportSection(r)
	case secStart:
		return d.startSection(r)
	case secElement:
		return d.elementSection(r)
	case secCode:
		return d.codeSection(r)
	case secData:
		return d.dataSection(r)
	case secDataCount:
		_, err := r.u32()
		return err
	default:
		return fmt.Errorf("unknown section id %d", id)
	}
}

// vec reads a count and hands each element index to fn.
func vec(r *reader, fn func(i int) error) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	n, err := safecast.Conv[int](count)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

func valueType(r *reader) (wasm.ValueType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	t := wasm.ValueType(b)
	switch t {
	case wasm.I32, wasm.I64, wasm.F32, wasm.F64, wasm.FuncRef, wasm.ExternRef:
		return t, nil
	default:
		return 0, fmt.Errorf("unknown value type %#x", b)
	}
}

func valueTypes(r *reader) ([]wasm.ValueType, error) {
	var out []wasm.ValueType
	err := vec(r, func(int) error {
		t, err := valueType(r)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func (d *decoder) typeSection(r *reader) error {
	return vec(r, func(i int) error {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("type %d: form %#x is not a function type", i, form)
		}
		params, err := valueTypes(r)
		if err != nil {
			return err
		}
		results, err := valueTypes(r)
		if err != nil {
			return err
		}
		d.decl.Types = append(d.decl.Types, d.sigs.Intern(sig.Signature{Params: params, Results: results}))
		return nil
	})
}

func (d *decoder) typeIndex(raw uint32) (wasm.SigIndex, error) {
	if int(raw) >= len(d.decl.Types) {
		return 0, fmt.Errorf("type index %d of %d", raw, len(d.decl.Types))
	}
	return d.decl.Types[raw], nil
}

func limits(r *reader) (uint32, *uint32, bool, error) {
	flags, err := r.byte()
	if err != nil {
		return 0, nil, false, err
	}
	if flags > 3 {
		return 0, nil, false, fmt.Errorf("limit flags %#x", flags)
	}
	minVal, err := r.u32()
	if err != nil {
		return 0, nil, false, err
	}
	var maxVal *uint32
	if flags&1 != 0 {
		m, err := r.u32()
		if err != nil {
			return 0, nil, false, err
		}
		maxVal = &m
	}
	return minVal, maxVal, flags&2 != 0, nil
}

func memoryDescriptor(r *reader) (wasm.MemoryDescriptor, error) {
	minPages, maxPages, shared, err := limits(r)
	if err != nil {
		return wasm.MemoryDescriptor{}, err
	}
	return wasm.MemoryDescriptor{MinPages: minPages, MaxPages: maxPages, Shared: shared}, nil
}

func tableDescriptor(r *reader) (wasm.TableDescriptor, error) {
	elem, err := valueType(r)
	if err != nil {
		return wasm.TableDescriptor{}, err
	}
	if !elem.IsRef() {
		return wasm.TableDescriptor{}, fmt.Errorf("table element type %v", elem)
	}
	minSize, maxSize, _, err := limits(r)
	if err != nil {
		return wasm.TableDescriptor{}, err
	}
	return wasm.TableDescriptor{Elem: elem, Min: minSize, Max: maxSize}, nil
}

func globalDescriptor(r *reader) (wasm.GlobalDescriptor, error) {
	t, err := valueType(r)
	if err != nil {
		return wasm.GlobalDescriptor{}, err
	}
	mut, err := r.byte()
	if err != nil {
		return wasm.GlobalDescriptor{}, err
	}
	if mut > 1 {
		return wasm.GlobalDescriptor{}, fmt.Errorf("mutability flag %#x", mut)
	}
	return wasm.GlobalDescriptor{Type: t, Mutable: mut == 1}, nil
}

func (d *decoder) importSection(r *reader) error {
	return vec(r, func(i int) error {
		mod, err := r.name()
		if err != nil {
			return err
		}
		field, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		name := wasm.ImportName{Module: mod, Field: field}
		switch kind {
		case kindFunc:
			raw, err := r.u32()
			if err != nil {
				return err
			}
			si, err := d.typeIndex(raw)
			if err != nil {
				return err
			}
			d.decl.FuncSigs = append(d.decl.FuncSigs, si)
			d.decl.ImportedFuncs = append(d.decl.ImportedFuncs, name)
		case kindTable:
			td, err := tableDescriptor(r)
			if err != nil {
				return err
			}
			d.decl.ImportedTables = append(d.decl.ImportedTables, td)
			d.decl.ImportedTableNames = append(d.decl.ImportedTableNames, name)
		case kindMemory:
			md, err := memoryDescriptor(r)
			if err != nil {
				return err
			}
			d.decl.ImportedMemories = append(d.decl.ImportedMemories, md)
			d.decl.ImportedMemoryNames = append(d.decl.ImportedMemoryNames, name)
		case kindGlobal:
			gd, err := globalDescriptor(r)
			if err != nil {
				return err
			}
			d.decl.ImportedGlobals = append(d.decl.ImportedGlobals, gd)
			d.decl.ImportedGlobalNames = append(d.decl.ImportedGlobalNames, name)
		default:
			return fmt.Errorf("import %d: kind %#x", i, kind)
		}
		return nil
	})
}

func (d *decoder) functionSection(r *reader) error {
	return vec(r, func(int) error {
		raw, err := r.u32()
		if err != nil {
			return err
		}
		si, err := d.typeIndex(raw)
		if err != nil {
			return err
		}
		d.decl.FuncSigs = append(d.decl.FuncSigs, si)
		return nil
	})
}

func (d *decoder) tableSection(r *reader) error {
	return vec(r, func(int) error {
		td, err := tableDescriptor(r)
		if err != nil {
			return err
		}
		d.decl.Tables = append(d.decl.Tables, td)
		return nil
	})
}

func (d *decoder) memorySection(r *reader) error {
	return vec(r, func(int) error {
		md, err := memoryDescriptor(r)
		if err != nil {
			return err
		}
		d.decl.Memories = append(d.decl.Memories, md)
		return nil
	})
}

// initializer reads a constant expression, including its end byte.
func (d *decoder) initializer(r *reader) (wasm.Initializer, error) {
	var init wasm.Initializer
	op, err := r.byte()
	if err != nil {
		return init, err
	}
	switch wasm.Opcode(op) {
	case wasm.OpI32Const:
		v, err := r.s32()
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitConstI32, I32: v}
	case wasm.OpI64Const:
		v, err := r.s64()
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitConstI64, I64: v}
	case wasm.OpF32Const:
		bits, err := r.f32bits()
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitConstF32, F32: math.Float32frombits(bits)}
	case wasm.OpF64Const:
		bits, err := r.f64bits()
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitConstF64, F64: math.Float64frombits(bits)}
	case wasm.OpGlobalGet:
		idx, err := r.u32()
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitGetGlobal, Global: wasm.ImportedGlobalIndex(idx)}
	case 0xd0: // ref.null
		t, err := valueType(r)
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitRefNull, Ref: t}
	case 0xd2: // ref.func
		idx, err := r.u32()
		if err != nil {
			return init, err
		}
		init = wasm.Initializer{Kind: wasm.InitRefFunc, Func: wasm.FuncIndex(idx)}
	default:
		return init, fmt.Errorf("initializer opcode %#x", op)
	}
	end, err := r.byte()
	if err != nil {
		return init, err
	}
	if wasm.Opcode(end) != wasm.OpEnd {
		return init, fmt.Errorf("initializer ends with %#x", end)
	}
	return init, nil
}

func (d *decoder) globalSection(r *reader) error {
	return vec(r, func(int) error {
		gd, err := globalDescriptor(r)
		if err != nil {
			return err
		}
		init, err := d.initializer(r)
		if err != nil {
			return err
		}
		d.decl.Globals = append(d.decl.Globals, wasm.GlobalInit{Desc: gd, Init: init})
		return nil
	})
}

func (d *decoder) exportSection(r *reader) error {
	return vec(r, func(int) error {
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		idx, err := r.u32()
		if err != nil {
			return err
		}
		e := wasm.Export{Name: name}
		switch kind {
		case kindFunc:
			e.Kind, e.Func = wasm.ExportFunc, wasm.FuncIndex(idx)
		case kindTable:
			e.Kind, e.Table = wasm.ExportTable, wasm.TableIndex(idx)
		case kindMemory:
			e.Kind, e.Memory = wasm.ExportMemory, wasm.MemoryIndex(idx)
		case kindGlobal:
			e.Kind, e.Global = wasm.ExportGlobal, wasm.GlobalIndex(idx)
		default:
			return fmt.Errorf("export %q: kind %#x", name, kind)
		}
		d.decl.Exports = append(d.decl.Exports, e)
		return nil
	})
}

func (d *decoder) startSection(r *reader) error {
	idx, err := r.u32()
	if err != nil {
		return err
	}
	fi := wasm.FuncIndex(idx)
	d.decl.Start = &fi
	return nil
}

func (d *decoder) elementSection(r *reader) error {
	return vec(r, func(i int) error {
		flags, err := r.u32()
		if err != nil {
			return err
		}
		// Only active funcref segments in the MVP encoding; the
		// bulk-memory segment forms carry no meaning for this
		// compiler's output.
		if flags != 0 {
			return fmt.Errorf("element segment %d: unsupported flags %d", i, flags)
		}
		offset, err := d.initializer(r)
		if err != nil {
			return err
		}
		seg := wasm.ElemSegment{Table: 0, Offset: offset}
		err = vec(r, func(int) error {
			idx, err := r.u32()
			if err != nil {
				return err
			}
			seg.Funcs = append(seg.Funcs, wasm.FuncIndex(idx))
			return nil
		})
		if err != nil {
			return err
		}
		d.decl.Elems = append(d.decl.Elems, seg)
		return nil
	})
}

func (d *decoder) codeSection(r *reader) error {
	return vec(r, func(i int) error {
		size, err := r.u32()
		if err != nil {
			return err
		}
		body, err := r.sub(int(size))
		if err != nil {
			return err
		}
		fb, err := d.decodeFuncBody(body)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		d.bodies = append(d.bodies, fb)
		return nil
	})
}

func (d *decoder) dataSection(r *reader) error {
	return vec(r, func(i int) error {
		flags, err := r.u32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return fmt.Errorf("data segment %d: unsupported flags %d", i, flags)
		}
		offset, err := d.initializer(r)
		if err != nil {
			return err
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		data, err := r.bytes(int(n))
		if err != nil {
			return err
		}
		d.decl.Data = append(d.decl.Data, wasm.DataSegment{
			Memory: 0,
			Offset: offset,
			Data:   append([]byte(nil), data...),
		})
		return nil
	})
}
