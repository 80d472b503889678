package ir

import (
	"strings"
	"testing"

	"smelt/internal/wasm"
)

// addFunc is (i32, i32) -> (i32): bb0 returns param0 + const 42.
func addFunc() *Func {
	return &Func{
		Sig:       0,
		NumParams: 2,
		Locals:    []wasm.ValueType{wasm.I32, wasm.I32},
		Results:   []wasm.ValueType{wasm.I32},
		Values: []ValueDef{
			{Type: wasm.I32}, // v0 param
			{Type: wasm.I32}, // v1 param
			{Type: wasm.I32}, // v2 const
			{Type: wasm.I32}, // v3 sum
		},
		Blocks: []Block{
			{
				ID: 0,
				Instrs: []Instr{
					{Kind: InstrConst, Const: ConstInstr{Result: 2, Type: wasm.I32, Bits: 42}},
					{Kind: InstrBin, Bin: BinInstr{Result: 3, Op: BinAdd, Type: wasm.I32, X: 0, Y: 2}},
				},
				Term: Terminator{Kind: TermReturn, Return: ReturnTerm{Values: []ValueID{3}}},
			},
		},
		Entry: 0,
	}
}

func TestPrintGolden(t *testing.T) {
	want := strings.Join([]string{
		"func sig=0 params=2 locals=2",
		"bb0:",
		"  v2 = i32.const 0x2a",
		"  v3 = i32.add v0, v2",
		"  return(v3)",
		"",
	}, "\n")
	if got := Print(addFunc()); got != want {
		t.Errorf("Print:\n%s\nwant:\n%s", got, want)
	}
}

func TestPrintDeterministic(t *testing.T) {
	f := addFunc()
	if Print(f) != Print(f) {
		t.Error("consecutive prints differ")
	}
}

func TestPrintNil(t *testing.T) {
	if got := Print(nil); got != "" {
		t.Errorf("Print(nil) = %q", got)
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(addFunc()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Func)
		want   string
	}{
		{
			name:   "unterminated block",
			mutate: func(f *Func) { f.Blocks[0].Term = Terminator{} },
			want:   "unterminated",
		},
		{
			name:   "bad entry",
			mutate: func(f *Func) { f.Entry = 7 },
			want:   "entry",
		},
		{
			name: "dangling branch target",
			mutate: func(f *Func) {
				f.Blocks[0].Term = Terminator{Kind: TermBr, Br: BrTarget{Block: 3}}
			},
			want: "does not exist",
		},
		{
			name: "branch arg count mismatch",
			mutate: func(f *Func) {
				f.Blocks = append(f.Blocks, Block{
					ID:     1,
					Params: []ValueID{2},
					Term:   Terminator{Kind: TermReturn, Return: ReturnTerm{Values: []ValueID{2}}},
				})
				f.Blocks[0].Term = Terminator{Kind: TermBr, Br: BrTarget{Block: 1}}
			},
			want: "args",
		},
		{
			name: "out-of-range value",
			mutate: func(f *Func) {
				f.Blocks[0].Instrs[1].Bin.Y = 99
			},
			want: "value",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := addFunc()
			tc.mutate(f)
			err := Validate(f)
			if err == nil {
				t.Fatal("Validate accepted a broken function")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
