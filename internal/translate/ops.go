package translate

import (
	"math"

	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/wasm"
)

type binEntry struct {
	op ir.BinOp
	t  wasm.ValueType
}

var binOps = map[wasm.Opcode]binEntry{
	wasm.OpI32Add:  {ir.BinAdd, wasm.I32},
	wasm.OpI32Sub:  {ir.BinSub, wasm.I32},
	wasm.OpI32Mul:  {ir.BinMul, wasm.I32},
	wasm.OpI32DivS: {ir.BinDivS, wasm.I32},
	wasm.OpI32DivU: {ir.BinDivU, wasm.I32},
	wasm.OpI32RemS: {ir.BinRemS, wasm.I32},
	wasm.OpI32RemU: {ir.BinRemU, wasm.I32},
	wasm.OpI32And:  {ir.BinAnd, wasm.I32},
	wasm.OpI32Or:   {ir.BinOr, wasm.I32},
	wasm.OpI32Xor:  {ir.BinXor, wasm.I32},
	wasm.OpI32Shl:  {ir.BinShl, wasm.I32},
	wasm.OpI32ShrS: {ir.BinShrS, wasm.I32},
	wasm.OpI32ShrU: {ir.BinShrU, wasm.I32},
	wasm.OpI32Rotl: {ir.BinRotl, wasm.I32},
	wasm.OpI32Rotr: {ir.BinRotr, wasm.I32},

	wasm.OpI64Add:  {ir.BinAdd, wasm.I64},
	wasm.OpI64Sub:  {ir.BinSub, wasm.I64},
	wasm.OpI64Mul:  {ir.BinMul, wasm.I64},
	wasm.OpI64DivS: {ir.BinDivS, wasm.I64},
	wasm.OpI64DivU: {ir.BinDivU, wasm.I64},
	wasm.OpI64RemS: {ir.BinRemS, wasm.I64},
	wasm.OpI64RemU: {ir.BinRemU, wasm.I64},
	wasm.OpI64And:  {ir.BinAnd, wasm.I64},
	wasm.OpI64Or:   {ir.BinOr, wasm.I64},
	wasm.OpI64Xor:  {ir.BinXor, wasm.I64},
	wasm.OpI64Shl:  {ir.BinShl, wasm.I64},
	wasm.OpI64ShrS: {ir.BinShrS, wasm.I64},
	wasm.OpI64ShrU: {ir.BinShrU, wasm.I64},
	wasm.OpI64Rotl: {ir.BinRotl, wasm.I64},
	wasm.OpI64Rotr: {ir.BinRotr, wasm.I64},

	wasm.OpF32Add:      {ir.BinAdd, wasm.F32},
	wasm.OpF32Sub:      {ir.BinSub, wasm.F32},
	wasm.OpF32Mul:      {ir.BinMul, wasm.F32},
	wasm.OpF32Div:      {ir.BinDiv, wasm.F32},
	wasm.OpF32Min:      {ir.BinMin, wasm.F32},
	wasm.OpF32Max:      {ir.BinMax, wasm.F32},
	wasm.OpF32Copysign: {ir.BinCopysign, wasm.F32},

	wasm.OpF64Add:      {ir.BinAdd, wasm.F64},
	wasm.OpF64Sub:      {ir.BinSub, wasm.F64},
	wasm.OpF64Mul:      {ir.BinMul, wasm.F64},
	wasm.OpF64Div:      {ir.BinDiv, wasm.F64},
	wasm.OpF64Min:      {ir.BinMin, wasm.F64},
	wasm.OpF64Max:      {ir.BinMax, wasm.F64},
	wasm.OpF64Copysign: {ir.BinCopysign, wasm.F64},
}

type unEntry struct {
	op ir.UnOp
	t  wasm.ValueType
}

var unOps = map[wasm.Opcode]unEntry{
	wasm.OpI32Clz:    {ir.UnClz, wasm.I32},
	wasm.OpI32Ctz:    {ir.UnCtz, wasm.I32},
	wasm.OpI32Popcnt: {ir.UnPopcnt, wasm.I32},
	wasm.OpI32Eqz:    {ir.UnEqz, wasm.I32},
	wasm.OpI64Clz:    {ir.UnClz, wasm.I64},
	wasm.OpI64Ctz:    {ir.UnCtz, wasm.I64},
	wasm.OpI64Popcnt: {ir.UnPopcnt, wasm.I64},
	wasm.OpI64Eqz:    {ir.UnEqz, wasm.I64},

	wasm.OpF32Abs:     {ir.UnAbs, wasm.F32},
	wasm.OpF32Neg:     {ir.UnNeg, wasm.F32},
	wasm.OpF32Ceil:    {ir.UnCeil, wasm.F32},
	wasm.OpF32Floor:   {ir.UnFloor, wasm.F32},
	wasm.OpF32Trunc:   {ir.UnTrunc, wasm.F32},
	wasm.OpF32Nearest: {ir.UnNearest, wasm.F32},
	wasm.OpF32Sqrt:    {ir.UnSqrt, wasm.F32},

	wasm.OpF64Abs:     {ir.UnAbs, wasm.F64},
	wasm.OpF64Neg:     {ir.UnNeg, wasm.F64},
	wasm.OpF64Ceil:    {ir.UnCeil, wasm.F64},
	wasm.OpF64Floor:   {ir.UnFloor, wasm.F64},
	wasm.OpF64Trunc:   {ir.UnTrunc, wasm.F64},
	wasm.OpF64Nearest: {ir.UnNearest, wasm.F64},
	wasm.OpF64Sqrt:    {ir.UnSqrt, wasm.F64},
}

type cmpEntry struct {
	op ir.CmpOp
	t  wasm.ValueType
}

var cmpOps = map[wasm.Opcode]cmpEntry{
	wasm.OpI32Eq:  {ir.CmpEq, wasm.I32},
	wasm.OpI32Ne:  {ir.CmpNe, wasm.I32},
	wasm.OpI32LtS: {ir.CmpLtS, wasm.I32},
	wasm.OpI32LtU: {ir.CmpLtU, wasm.I32},
	wasm.OpI32GtS: {ir.CmpGtS, wasm.I32},
	wasm.OpI32GtU: {ir.CmpGtU, wasm.I32},
	wasm.OpI32LeS: {ir.CmpLeS, wasm.I32},
	wasm.OpI32LeU: {ir.CmpLeU, wasm.I32},
	wasm.OpI32GeS: {ir.CmpGeS, wasm.I32},
	wasm.OpI32GeU: {ir.CmpGeU, wasm.I32},

	wasm.OpI64Eq:  {ir.CmpEq, wasm.I64},
	wasm.OpI64Ne:  {ir.CmpNe, wasm.I64},
	wasm.OpI64LtS: {ir.CmpLtS, wasm.I64},
	wasm.OpI64LtU: {ir.CmpLtU, wasm.I64},
	wasm.OpI64GtS: {ir.CmpGtS, wasm.I64},
	wasm.OpI64GtU: {ir.CmpGtU, wasm.I64},
	wasm.OpI64LeS: {ir.CmpLeS, wasm.I64},
	wasm.OpI64LeU: {ir.CmpLeU, wasm.I64},
	wasm.OpI64GeS: {ir.CmpGeS, wasm.I64},
	wasm.OpI64GeU: {ir.CmpGeU, wasm.I64},

	wasm.OpF32Eq: {ir.CmpEq, wasm.F32},
	wasm.OpF32Ne: {ir.CmpNe, wasm.F32},
	wasm.OpF32Lt: {ir.CmpFLt, wasm.F32},
	wasm.OpF32Gt: {ir.CmpFGt, wasm.F32},
	wasm.OpF32Le: {ir.CmpFLe, wasm.F32},
	wasm.OpF32Ge: {ir.CmpFGe, wasm.F32},

	wasm.OpF64Eq: {ir.CmpEq, wasm.F64},
	wasm.OpF64Ne: {ir.CmpNe, wasm.F64},
	wasm.OpF64Lt: {ir.CmpFLt, wasm.F64},
	wasm.OpF64Gt: {ir.CmpFGt, wasm.F64},
	wasm.OpF64Le: {ir.CmpFLe, wasm.F64},
	wasm.OpF64Ge: {ir.CmpFGe, wasm.F64},
}

var convOps = map[wasm.Opcode]ir.ConvOp{
	wasm.OpI32WrapI64:    ir.ConvI32WrapI64,
	wasm.OpI64ExtendI32S: ir.ConvI64ExtendI32S,
	wasm.OpI64ExtendI32U: ir.ConvI64ExtendI32U,

	wasm.OpI32TruncF32S: ir.ConvI32TruncF32S,
	wasm.OpI32TruncF32U: ir.ConvI32TruncF32U,
	wasm.OpI32TruncF64S: ir.ConvI32TruncF64S,
	wasm.OpI32TruncF64U: ir.ConvI32TruncF64U,
	wasm.OpI64TruncF32S: ir.ConvI64TruncF32S,
	wasm.OpI64TruncF32U: ir.ConvI64TruncF32U,
	wasm.OpI64TruncF64S: ir.ConvI64TruncF64S,
	wasm.OpI64TruncF64U: ir.ConvI64TruncF64U,

	wasm.OpI32TruncSatF32S: ir.ConvI32TruncSatF32S,
	wasm.OpI32TruncSatF32U: ir.ConvI32TruncSatF32U,
	wasm.OpI32TruncSatF64S: ir.ConvI32TruncSatF64S,
	wasm.OpI32TruncSatF64U: ir.ConvI32TruncSatF64U,
	wasm.OpI64TruncSatF32S: ir.ConvI64TruncSatF32S,
	wasm.OpI64TruncSatF32U: ir.ConvI64TruncSatF32U,
	wasm.OpI64TruncSatF64S: ir.ConvI64TruncSatF64S,
	wasm.OpI64TruncSatF64U: ir.ConvI64TruncSatF64U,

	wasm.OpF32ConvertI32S: ir.ConvF32ConvertI32S,
	wasm.OpF32ConvertI32U: ir.ConvF32ConvertI32U,
	wasm.OpF32ConvertI64S: ir.ConvF32ConvertI64S,
	wasm.OpF32ConvertI64U: ir.ConvF32ConvertI64U,
	wasm.OpF64ConvertI32S: ir.ConvF64ConvertI32S,
	wasm.OpF64ConvertI32U: ir.ConvF64ConvertI32U,
	wasm.OpF64ConvertI64S: ir.ConvF64ConvertI64S,
	wasm.OpF64ConvertI64U: ir.ConvF64ConvertI64U,

	wasm.OpF32DemoteF64:  ir.ConvF32DemoteF64,
	wasm.OpF64PromoteF32: ir.ConvF64PromoteF32,

	wasm.OpI32ReinterpretF32: ir.ConvI32ReinterpretF32,
	wasm.OpI64ReinterpretF64: ir.ConvI64ReinterpretF64,
	wasm.OpF32ReinterpretI32: ir.ConvF32ReinterpretI32,
	wasm.OpF64ReinterpretI64: ir.ConvF64ReinterpretI64,

	wasm.OpI32Extend8S:  ir.ConvI32Extend8S,
	wasm.OpI32Extend16S: ir.ConvI32Extend16S,
	wasm.OpI64Extend8S:  ir.ConvI64Extend8S,
	wasm.OpI64Extend16S: ir.ConvI64Extend16S,
	wasm.OpI64Extend32S: ir.ConvI64Extend32S,
}

type memEntry struct {
	t      wasm.ValueType
	width  uint8
	signed bool
}

var loadOps = map[wasm.Opcode]memEntry{
	wasm.OpI32Load:    {wasm.I32, 4, false},
	wasm.OpI64Load:    {wasm.I64, 8, false},
	wasm.OpF32Load:    {wasm.F32, 4, false},
	wasm.OpF64Load:    {wasm.F64, 8, false},
	wasm.OpI32Load8S:  {wasm.I32, 1, true},
	wasm.OpI32Load8U:  {wasm.I32, 1, false},
	wasm.OpI32Load16S: {wasm.I32, 2, true},
	wasm.OpI32Load16U: {wasm.I32, 2, false},
	wasm.OpI64Load8S:  {wasm.I64, 1, true},
	wasm.OpI64Load8U:  {wasm.I64, 1, false},
	wasm.OpI64Load16S: {wasm.I64, 2, true},
	wasm.OpI64Load16U: {wasm.I64, 2, false},
	wasm.OpI64Load32S: {wasm.I64, 4, true},
	wasm.OpI64Load32U: {wasm.I64, 4, false},
}

var storeOps = map[wasm.Opcode]memEntry{
	wasm.OpI32Store:   {wasm.I32, 4, false},
	wasm.OpI64Store:   {wasm.I64, 8, false},
	wasm.OpF32Store:   {wasm.F32, 4, false},
	wasm.OpF64Store:   {wasm.F64, 8, false},
	wasm.OpI32Store8:  {wasm.I32, 1, false},
	wasm.OpI32Store16: {wasm.I32, 2, false},
	wasm.OpI64Store8:  {wasm.I64, 1, false},
	wasm.OpI64Store16: {wasm.I64, 2, false},
	wasm.OpI64Store32: {wasm.I64, 4, false},
}

// lower translates one non-control operator.
func (b *builder) lower(op *wasm.Op) error {
	switch op.Opcode {
	case wasm.OpDrop:
		_, err := b.pop()
		return err
	case wasm.OpSelect:
		return b.lowerSelect()
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		return b.lowerLocal(op)
	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		return b.lowerGlobal(op)
	case wasm.OpCall:
		return b.lowerCall(op)
	case wasm.OpCallIndirect:
		return b.lowerCallIndirect(op)
	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		return b.lowerMemoryOp(op)
	case wasm.OpI32Const:
		b.pushConst(wasm.I32, op.Wide)
		return nil
	case wasm.OpI64Const:
		b.pushConst(wasm.I64, op.Wide)
		return nil
	case wasm.OpF32Const:
		b.pushConst(wasm.F32, op.Wide)
		return nil
	case wasm.OpF64Const:
		b.pushConst(wasm.F64, op.Wide)
		return nil
	}

	if e, ok := binOps[op.Opcode]; ok {
		return b.lowerBin(e)
	}
	if e, ok := unOps[op.Opcode]; ok {
		return b.lowerUn(e)
	}
	if e, ok := cmpOps[op.Opcode]; ok {
		return b.lowerCmp(e)
	}
	if cop, ok := convOps[op.Opcode]; ok {
		return b.lowerConv(cop)
	}
	if e, ok := loadOps[op.Opcode]; ok {
		return b.lowerLoad(op, e)
	}
	if e, ok := storeOps[op.Opcode]; ok {
		return b.lowerStore(op, e)
	}
	return diag.Translatef(b.fn, b.lastOff, diag.CodeUnsupportedOpcode,
		"unsupported operator %s", op.Opcode)
}

func (b *builder) pushConst(t wasm.ValueType, bits uint64) {
	v := b.newValue(t)
	b.emit(ir.Instr{Kind: ir.InstrConst, Const: ir.ConstInstr{Result: v, Type: t, Bits: bits}})
	b.push(v)
}

// emitConst materializes a constant without touching the value stack.
func (b *builder) emitConst(t wasm.ValueType, bits uint64) ir.ValueID {
	v := b.newValue(t)
	b.emit(ir.Instr{Kind: ir.InstrConst, Const: ir.ConstInstr{Result: v, Type: t, Bits: bits}})
	return v
}

func (b *builder) lowerBin(e binEntry) error {
	y, err := b.pop()
	if err != nil {
		return err
	}
	x, err := b.pop()
	if err != nil {
		return err
	}

	// Integer division and remainder get explicit trap markers; the
	// wasm semantics are a trap, not undefined behavior.
	switch e.op {
	case ir.BinDivS, ir.BinDivU, ir.BinRemS, ir.BinRemU:
		zero := b.emitConst(e.t, 0)
		isZero := b.newValue(wasm.I32)
		b.emit(ir.Instr{Kind: ir.InstrCmp, Cmp: ir.CmpInstr{Result: isZero, Op: ir.CmpEq, Type: e.t, X: y, Y: zero}})
		b.emit(ir.Instr{Kind: ir.InstrTrapIf, TrapIf: ir.TrapIfInstr{Cond: isZero, Reason: ir.TrapIntegerDivideByZero}})
	}
	if e.op == ir.BinDivS {
		// MIN / -1 overflows the two's-complement result range.
		var minBits, negOne uint64
		if e.t == wasm.I32 {
			minBits = 0x80000000 // uint32 bits of math.MinInt32
			negOne = uint64(uint32(0xffffffff))
		} else {
			minBits = 0x8000000000000000 // uint64 bits of math.MinInt64
			negOne = math.MaxUint64
		}
		minC := b.emitConst(e.t, minBits)
		negC := b.emitConst(e.t, negOne)
		isMin := b.newValue(wasm.I32)
		b.emit(ir.Instr{Kind: ir.InstrCmp, Cmp: ir.CmpInstr{Result: isMin, Op: ir.CmpEq, Type: e.t, X: x, Y: minC}})
		isNeg := b.newValue(wasm.I32)
		b.emit(ir.Instr{Kind: ir.InstrCmp, Cmp: ir.CmpInstr{Result: isNeg, Op: ir.CmpEq, Type: e.t, X: y, Y: negC}})
		both := b.newValue(wasm.I32)
		b.emit(ir.Instr{Kind: ir.InstrBin, Bin: ir.BinInstr{Result: both, Op: ir.BinAnd, Type: wasm.I32, X: isMin, Y: isNeg}})
		b.emit(ir.Instr{Kind: ir.InstrTrapIf, TrapIf: ir.TrapIfInstr{Cond: both, Reason: ir.TrapIntegerOverflow}})
	}

	res := b.newValue(e.t)
	b.emit(ir.Instr{Kind: ir.InstrBin, Bin: ir.BinInstr{Result: res, Op: e.op, Type: e.t, X: x, Y: y}})
	b.push(res)
	return nil
}

func (b *builder) lowerUn(e unEntry) error {
	x, err := b.pop()
	if err != nil {
		return err
	}
	rt := e.t
	if e.op == ir.UnEqz {
		rt = wasm.I32
	}
	res := b.newValue(rt)
	b.emit(ir.Instr{Kind: ir.InstrUn, Un: ir.UnInstr{Result: res, Op: e.op, Type: e.t, X: x}})
	b.push(res)
	return nil
}

func (b *builder) lowerCmp(e cmpEntry) error {
	y, err := b.pop()
	if err != nil {
		return err
	}
	x, err := b.pop()
	if err != nil {
		return err
	}
	res := b.newValue(wasm.I32)
	b.emit(ir.Instr{Kind: ir.InstrCmp, Cmp: ir.CmpInstr{Result: res, Op: e.op, Type: e.t, X: x, Y: y}})
	b.push(res)
	return nil
}

func (b *builder) lowerConv(op ir.ConvOp) error {
	x, err := b.pop()
	if err != nil {
		return err
	}
	res := b.newValue(op.ResultType())
	b.emit(ir.Instr{Kind: ir.InstrConv, Conv: ir.ConvInstr{Result: res, Op: op, X: x}})
	b.push(res)
	return nil
}

func (b *builder) lowerSelect() error {
	cond, err := b.pop()
	if err != nil {
		return err
	}
	y, err := b.pop()
	if err != nil {
		return err
	}
	x, err := b.pop()
	if err != nil {
		return err
	}
	res := b.newValue(b.f.ValueType(x))
	b.emit(ir.Instr{Kind: ir.InstrSelect, Select: ir.SelectInstr{
		Result: res, Cond: cond, X: x, Y: y, Type: b.f.ValueType(x),
	}})
	b.push(res)
	return nil
}

func (b *builder) lowerLocal(op *wasm.Op) error {
	idx := ir.LocalID(op.A)
	if int(idx) >= len(b.f.Locals) {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange,
			"local %d out of range (count %d)", op.A, len(b.f.Locals))
	}
	switch op.Opcode {
	case wasm.OpLocalGet:
		res := b.newValue(b.f.Locals[idx])
		b.emit(ir.Instr{Kind: ir.InstrLocalGet, LocalGet: ir.LocalGetInstr{Result: res, Local: idx}})
		b.push(res)
	case wasm.OpLocalSet:
		v, err := b.pop()
		if err != nil {
			return err
		}
		b.emit(ir.Instr{Kind: ir.InstrLocalSet, LocalSet: ir.LocalSetInstr{Local: idx, Value: v}})
	case wasm.OpLocalTee:
		v, err := b.pop()
		if err != nil {
			return err
		}
		b.emit(ir.Instr{Kind: ir.InstrLocalSet, LocalSet: ir.LocalSetInstr{Local: idx, Value: v}})
		b.push(v)
	}
	return nil
}

func (b *builder) lowerGlobal(op *wasm.Op) error {
	idx := wasm.GlobalIndex(op.A)
	desc, err := b.mod.GlobalDescriptor(idx)
	if err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	if op.Opcode == wasm.OpGlobalGet {
		res := b.newValue(desc.Type)
		b.emit(ir.Instr{Kind: ir.InstrGlobalGet, GlobalGet: ir.GlobalGetInstr{Result: res, Global: idx, Type: desc.Type}})
		b.push(res)
		return nil
	}
	v, err := b.pop()
	if err != nil {
		return err
	}
	b.emit(ir.Instr{Kind: ir.InstrGlobalSet, GlobalSet: ir.GlobalSetInstr{Global: idx, Value: v}})
	return nil
}

func (b *builder) lowerCall(op *wasm.Op) error {
	callee := wasm.FuncIndex(op.A)
	sigIdx, err := b.mod.FuncSig(callee)
	if err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	s, err := b.sigs.Resolve(sigIdx)
	if err != nil {
		return diag.Internalf(b.fn, "call signature: %v", err)
	}
	args, err := b.popN(len(s.Params))
	if err != nil {
		return err
	}
	results := make([]ir.ValueID, len(s.Results))
	for i, rt := range s.Results {
		results[i] = b.newValue(rt)
	}
	b.emit(ir.Instr{Kind: ir.InstrCall, Call: ir.CallInstr{
		Results: results, Func: callee, Sig: sigIdx, Args: args,
	}})
	for _, r := range results {
		b.push(r)
	}
	return nil
}

func (b *builder) lowerCallIndirect(op *wasm.Op) error {
	sigIdx, err := b.mod.TypeSig(op.A)
	if err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	table := wasm.TableIndex(op.B)
	if _, err := b.mod.TableDescriptor(table); err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	s, err := b.sigs.Resolve(sigIdx)
	if err != nil {
		return diag.Internalf(b.fn, "call_indirect signature: %v", err)
	}
	idx, err := b.pop()
	if err != nil {
		return err
	}
	args, err := b.popN(len(s.Params))
	if err != nil {
		return err
	}
	results := make([]ir.ValueID, len(s.Results))
	for i, rt := range s.Results {
		results[i] = b.newValue(rt)
	}
	b.emit(ir.Instr{Kind: ir.InstrCallIndirect, CallIndirect: ir.CallIndirectInstr{
		Results: results, Table: table, Sig: sigIdx, Index: idx, Args: args,
	}})
	for _, r := range results {
		b.push(r)
	}
	return nil
}

func (b *builder) lowerMemoryOp(op *wasm.Op) error {
	mem := wasm.MemoryIndex(op.A)
	if _, err := b.mod.MemoryDescriptor(mem); err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	if op.Opcode == wasm.OpMemorySize {
		res := b.newValue(wasm.I32)
		b.emit(ir.Instr{Kind: ir.InstrMemorySize, MemorySize: ir.MemorySizeInstr{Result: res, Memory: mem}})
		b.push(res)
		return nil
	}
	delta, err := b.pop()
	if err != nil {
		return err
	}
	res := b.newValue(wasm.I32)
	b.emit(ir.Instr{Kind: ir.InstrMemoryGrow, MemoryGrow: ir.MemoryGrowInstr{Result: res, Memory: mem, Delta: delta}})
	b.push(res)
	return nil
}

func (b *builder) lowerLoad(op *wasm.Op, e memEntry) error {
	if _, err := b.mod.MemoryDescriptor(0); err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	addr, err := b.pop()
	if err != nil {
		return err
	}
	res := b.newValue(e.t)
	b.emit(ir.Instr{Kind: ir.InstrLoad, Load: ir.LoadInstr{
		Result:  res,
		Type:    e.t,
		Width:   e.width,
		Signed:  e.signed,
		Memory:  0,
		Offset:  op.B,
		Align:   op.A,
		Addr:    addr,
		Checked: b.opts.Bounds == BoundsExplicit,
	}})
	b.push(res)
	return nil
}

func (b *builder) lowerStore(op *wasm.Op, e memEntry) error {
	if _, err := b.mod.MemoryDescriptor(0); err != nil {
		return diag.Translatef(b.fn, b.lastOff, diag.CodeIndexOutOfRange, "%v", err)
	}
	val, err := b.pop()
	if err != nil {
		return err
	}
	addr, err := b.pop()
	if err != nil {
		return err
	}
	b.emit(ir.Instr{Kind: ir.InstrStore, Store: ir.StoreInstr{
		Type:    e.t,
		Width:   e.width,
		Memory:  0,
		Offset:  op.B,
		Align:   op.A,
		Addr:    addr,
		Value:   val,
		Checked: b.opts.Bounds == BoundsExplicit,
	}})
	return nil
}
