package pipeline

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"smelt/internal/codegen"
	"smelt/internal/wasm"
)

// FuncArtifact is one function's compiled artifact inside the module
// result. Code aliases the function's span of Result.Code; it is not
// serialized and is restored after decoding. Reloc and trap offsets are
// function-relative here, module-relative in the Result tables.
type FuncArtifact struct {
	Code   []byte `msgpack:"-"`
	Size   uint32
	Relocs []codegen.Reloc
	Traps  []codegen.TrapSite
	Unwind *codegen.UnwindRecord
}

// ModuleReloc is a relocation positioned in the assembled text. Local
// function displacements are resolved during assembly and never appear
// here.
type ModuleReloc struct {
	Func   wasm.LocalFuncIndex
	Offset uint32
	Kind   codegen.RelocKind
	Index  uint32
	Addend int64
}

// ModuleTrap is a trap site positioned in the assembled text.
type ModuleTrap struct {
	Func   wasm.LocalFuncIndex
	Offset uint32
	Site   codegen.TrapSite
}

// ModuleUnwind maps one function's code range to its unwind record.
type ModuleUnwind struct {
	Func   wasm.LocalFuncIndex
	Start  uint32
	Record codegen.UnwindRecord
}

// Trampoline pairs an interned signature with its bridge code.
type Trampoline struct {
	Sig  wasm.SigIndex
	Code []byte
}

// Result is the relocatable module artifact: assembled text with
// per-function artifacts, the module relocation, trap and unwind
// tables, and the trampoline set. Byte-deterministic for equal inputs,
// so it can be content-addressed and cached.
type Result struct {
	Schema uint16
	Target string

	// Code is the text section. Functions start 16-byte aligned, in
	// local function index order, padded with int3.
	Code []byte
	// Offsets maps a local function index to its start in Code.
	Offsets []uint32
	Funcs   []FuncArtifact

	Relocs []ModuleReloc
	Traps  []ModuleTrap
	Unwind []ModuleUnwind

	// ImportTrampolines and ExportTrampolines are sorted by signature
	// index. Imports carry one entry per distinct imported-function
	// signature, exports one per distinct exported-function signature.
	ImportTrampolines []Trampoline
	ExportTrampolines []Trampoline
}

// FuncCode returns the assembled code of one local function.
func (r *Result) FuncCode(fn wasm.LocalFuncIndex) []byte {
	off := r.Offsets[fn]
	return r.Code[off : off+r.Funcs[fn].Size]
}

const funcAlign = 16

// assemble lays the generated functions out into one text section,
// resolves intra-module call displacements and produces the module
// tables and trampolines. Runs after every function compiled cleanly.
func (c *compilation) assemble() (*Result, error) {
	phase := c.opts.Timer.Begin(string(StageAssemble))
	c.opts.Sink.OnEvent(Event{Module: true, Stage: StageAssemble, Status: StatusWorking})
	start := time.Now()

	n := len(c.arts)
	res := &Result{
		Schema:  resultSchema,
		Target:  c.be.Target().String(),
		Offsets: make([]uint32, n),
		Funcs:   make([]FuncArtifact, n),
	}

	total := 0
	for i, cf := range c.arts {
		total = (total + funcAlign - 1) &^ (funcAlign - 1)
		res.Offsets[i] = uint32(total)
		total += len(cf.Code)
	}
	res.Code = make([]byte, total)
	for i := range res.Code {
		res.Code[i] = 0xcc
	}
	for i, cf := range c.arts {
		c.states[i] = StateAssembled
		off := res.Offsets[i]
		copy(res.Code[off:], cf.Code)
		res.Funcs[i] = FuncArtifact{
			Code:   res.Code[off : off+uint32(len(cf.Code))],
			Size:   uint32(len(cf.Code)),
			Relocs: cf.Relocs,
			Traps:  cf.Traps,
			Unwind: cf.Unwind,
		}
	}

	for i, cf := range c.arts {
		base := res.Offsets[i]
		for _, r := range cf.Relocs {
			if r.Kind == codegen.RelocLocalFuncAddr {
				if int(r.Index) >= n {
					return nil, fmt.Errorf("pipeline: function %d references local function %d of %d", i, r.Index, n)
				}
				// rel32 from the end of the displacement field.
				target := res.Offsets[r.Index]
				rel := int32(target) - int32(base+r.Offset+4)
				binary.LittleEndian.PutUint32(res.Code[base+r.Offset:], uint32(rel))
				continue
			}
			res.Relocs = append(res.Relocs, ModuleReloc{
				Func:   wasm.LocalFuncIndex(i),
				Offset: base + r.Offset,
				Kind:   r.Kind,
				Index:  r.Index,
				Addend: r.Addend,
			})
		}
		for _, t := range cf.Traps {
			res.Traps = append(res.Traps, ModuleTrap{
				Func:   wasm.LocalFuncIndex(i),
				Offset: base + t.Offset,
				Site:   t,
			})
		}
		if cf.Unwind != nil {
			res.Unwind = append(res.Unwind, ModuleUnwind{
				Func:   wasm.LocalFuncIndex(i),
				Start:  base,
				Record: *cf.Unwind,
			})
		}
	}

	if err := c.buildTrampolines(res); err != nil {
		return nil, err
	}

	c.opts.Sink.OnEvent(Event{Module: true, Stage: StageAssemble, Status: StatusDone, Elapsed: time.Since(start)})
	c.opts.Timer.Endf(phase, "%d bytes", len(res.Code))
	c.log.Info("module assembled",
		zap.Int("functions", n),
		zap.Int("code_bytes", len(res.Code)),
		zap.Int("relocations", len(res.Relocs)),
	)
	return res, nil
}

// buildTrampolines generates the import and export bridge set, one
// trampoline per distinct signature on each side.
func (c *compilation) buildTrampolines(res *Result) error {
	cache := codegen.NewTrampolineCache(c.be)

	importSigs := map[wasm.SigIndex]bool{}
	for i := uint32(0); i < c.mod.NumImportedFuncs(); i++ {
		si, err := c.mod.FuncSig(wasm.FuncIndex(i))
		if err != nil {
			return err
		}
		importSigs[si] = true
	}
	exportSigs := map[wasm.SigIndex]bool{}
	for _, e := range c.mod.Exports() {
		if e.Kind != wasm.ExportFunc {
			continue
		}
		si, err := c.mod.FuncSig(e.Func)
		if err != nil {
			return err
		}
		exportSigs[si] = true
	}

	build := func(set map[wasm.SigIndex]bool, gen func(wasm.SigIndex) ([]byte, error)) ([]Trampoline, error) {
		idxs := make([]wasm.SigIndex, 0, len(set))
		for si := range set {
			idxs = append(idxs, si)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
		out := make([]Trampoline, 0, len(idxs))
		for _, si := range idxs {
			code, err := gen(si)
			if err != nil {
				return nil, err
			}
			out = append(out, Trampoline{Sig: si, Code: code})
		}
		return out, nil
	}

	var err error
	res.ImportTrampolines, err = build(importSigs, func(si wasm.SigIndex) ([]byte, error) {
		return cache.Import(si, c.sigs.MustResolve(si))
	})
	if err != nil {
		return err
	}
	res.ExportTrampolines, err = build(exportSigs, func(si wasm.SigIndex) ([]byte, error) {
		return cache.Export(si, c.sigs.MustResolve(si))
	})
	return err
}
