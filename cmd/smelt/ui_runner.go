package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"smelt/internal/pipeline"
	"smelt/internal/sig"
	"smelt/internal/ui"
	"smelt/internal/wasm"
)

type compileOutcome struct {
	result *pipeline.Result
	err    error
}

// runCompileWithUI runs the pipeline under a Bubble Tea progress
// display. The pipeline runs on its own goroutine and streams events
// through a channel the model drains.
func runCompileWithUI(ctx context.Context, title string, mod *wasm.Module, bodies []wasm.FuncBody, sigs *sig.Registry, opts pipeline.Options) (*pipeline.Result, error) {
	events := make(chan pipeline.Event, 256)
	outcomeCh := make(chan compileOutcome, 1)

	go func() {
		opts.Sink = pipeline.ChannelSink{Ch: events}
		res, err := pipeline.Compile(ctx, mod, bodies, sigs, opts)
		outcomeCh <- compileOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, int(mod.NumLocalFuncs()), exportLabels(mod), events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}

// exportLabels names exported local functions for the progress rows.
func exportLabels(mod *wasm.Module) map[wasm.LocalFuncIndex]string {
	labels := make(map[wasm.LocalFuncIndex]string)
	for _, e := range mod.Exports() {
		if e.Kind != wasm.ExportFunc {
			continue
		}
		cls, err := mod.ClassifyFunc(e.Func)
		if err != nil {
			continue
		}
		if lf, ok := cls.Local(); ok {
			labels[lf] = e.Name
		}
	}
	return labels
}
