package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"smelt/internal/ir"
	"smelt/internal/pipeline"
	"smelt/internal/sig"
	"smelt/internal/translate"
	"smelt/internal/wasm"
	"smelt/internal/wasmbin"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] artifact" + artifactExt + " | module.wasm",
	Short: "Inspect a compiled artifact or dump a module's IR",
	Long: "Inspect prints the layout of a compiled artifact: code size, per-function\n" +
		"spans, relocation, trap and unwind table sizes, and trampolines.\n" +
		"Given a .wasm input and --ir, it translates the module and prints the IR instead.",
	Args: cobra.ExactArgs(1),
	RunE: inspectExecution,
}

func init() {
	inspectCmd.Flags().Bool("ir", false, "translate a .wasm input and print its IR")
	inspectCmd.Flags().Int("func", -1, "restrict output to one local function index")
	inspectCmd.Flags().Bool("json", false, "emit machine-readable JSON")
	inspectCmd.Flags().String("bounds", "explicit", "bounds policy for --ir translation (explicit|guard)")
}

func inspectExecution(cmd *cobra.Command, args []string) error {
	inputPath := args[0]

	showIR, err := cmd.Flags().GetBool("ir")
	if err != nil {
		return err
	}
	funcFilter, err := cmd.Flags().GetInt("func")
	if err != nil {
		return err
	}

	if showIR {
		if filepath.Ext(inputPath) != ".wasm" {
			return fmt.Errorf("--ir needs a .wasm input, got %q", inputPath)
		}
		boundsValue, err := cmd.Flags().GetString("bounds")
		if err != nil {
			return err
		}
		bounds, err := readBoundsPolicy(boundsValue)
		if err != nil {
			return err
		}
		return dumpIR(cmd.OutOrStdout(), inputPath, funcFilter, bounds)
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	res, err := pipeline.DecodeResult(f)
	if err != nil {
		return err
	}
	if asJSON {
		return renderArtifactJSON(cmd.OutOrStdout(), res)
	}
	return renderArtifact(cmd.OutOrStdout(), res, funcFilter)
}

func dumpIR(out io.Writer, inputPath string, funcFilter int, bounds translate.BoundsPolicy) error {
	moduleBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	sigs := sig.NewRegistry()
	mod, bodies, err := wasmbin.ReadModule(moduleBytes, sigs)
	if err != nil {
		return err
	}

	opts := translate.Options{Bounds: bounds}
	for i := range bodies {
		if funcFilter >= 0 && i != funcFilter {
			continue
		}
		fn := wasm.LocalFuncIndex(i)
		f, err := translate.Translate(fn, &bodies[i], mod, sigs, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "func %d:\n%s\n", i, ir.Print(f))
	}
	if funcFilter >= 0 && funcFilter >= len(bodies) {
		return fmt.Errorf("no local function %d (module has %d)", funcFilter, len(bodies))
	}
	return nil
}

func renderArtifact(out io.Writer, res *pipeline.Result, funcFilter int) error {
	fmt.Fprintf(out, "target:     %s\n", res.Target)
	fmt.Fprintf(out, "schema:     %d\n", res.Schema)
	fmt.Fprintf(out, "code:       %d bytes, %d functions\n", len(res.Code), len(res.Funcs))
	fmt.Fprintf(out, "relocs:     %d\n", len(res.Relocs))
	fmt.Fprintf(out, "traps:      %d\n", len(res.Traps))
	fmt.Fprintf(out, "unwind:     %d records\n", len(res.Unwind))
	fmt.Fprintf(out, "trampolines: %d import, %d export\n",
		len(res.ImportTrampolines), len(res.ExportTrampolines))

	if funcFilter < 0 {
		return nil
	}
	if funcFilter >= len(res.Funcs) {
		return fmt.Errorf("no local function %d (artifact has %d)", funcFilter, len(res.Funcs))
	}
	fn := wasm.LocalFuncIndex(funcFilter)
	art := res.Funcs[funcFilter]
	fmt.Fprintf(out, "\nfunc %d:\n", funcFilter)
	fmt.Fprintf(out, "  offset: %#x\n", res.Offsets[funcFilter])
	fmt.Fprintf(out, "  size:   %d bytes\n", art.Size)
	for _, r := range res.Relocs {
		if r.Func != fn {
			continue
		}
		fmt.Fprintf(out, "  reloc %#x: %s index=%d addend=%d\n", r.Offset, r.Kind, r.Index, r.Addend)
	}
	for _, t := range res.Traps {
		if t.Func != fn {
			continue
		}
		fmt.Fprintf(out, "  trap  %#x: %s (wasm offset %#x)\n", t.Offset, t.Site.Reason, t.Site.Origin)
	}
	return nil
}

type artifactSummary struct {
	Target            string `json:"target"`
	Schema            uint16 `json:"schema"`
	CodeSize          int    `json:"code_size"`
	Functions         int    `json:"functions"`
	Relocs            int    `json:"relocs"`
	Traps             int    `json:"traps"`
	UnwindRecords     int    `json:"unwind_records"`
	ImportTrampolines int    `json:"import_trampolines"`
	ExportTrampolines int    `json:"export_trampolines"`
}

func renderArtifactJSON(out io.Writer, res *pipeline.Result) error {
	summary := artifactSummary{
		Target:            res.Target,
		Schema:            res.Schema,
		CodeSize:          len(res.Code),
		Functions:         len(res.Funcs),
		Relocs:            len(res.Relocs),
		Traps:             len(res.Traps),
		UnwindRecords:     len(res.Unwind),
		ImportTrampolines: len(res.ImportTrampolines),
		ExportTrampolines: len(res.ExportTrampolines),
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
