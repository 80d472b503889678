// Package pipeline orchestrates module compilation: every local
// function is translated to IR and lowered to machine code in parallel,
// then the artifacts are laid out and linked into one module result.
//
// Failure is atomic at module granularity. A failing function never
// cancels its siblings; all functions run to completion and the
// aggregate error carries every collected diagnostic. A module either
// compiles fully or yields no result at all.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smelt/internal/codegen"
	"smelt/internal/codegen/amd64"
	"smelt/internal/diag"
	"smelt/internal/ir"
	"smelt/internal/observ"
	"smelt/internal/sig"
	"smelt/internal/translate"
	"smelt/internal/wasm"
)

// Options configures one Compile call.
type Options struct {
	// Target selects the code generation backend.
	Target codegen.Target
	// Jobs caps worker parallelism; <= 0 means GOMAXPROCS.
	Jobs int
	// Bounds selects the memory bounds-check policy.
	Bounds translate.BoundsPolicy
	// Unwind controls emission of unwind records.
	Unwind bool
	// MaxDiagnostics caps the aggregate error; <= 0 means unlimited.
	MaxDiagnostics int

	// Logger receives structured stage logs. Nil disables logging.
	Logger *zap.Logger
	// Sink receives progress events. Nil disables them.
	Sink ProgressSink
	// Timer, when set, records per-stage durations.
	Timer *observ.Timer
}

func (o *Options) normalize() {
	if o.Jobs <= 0 {
		o.Jobs = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Sink == nil {
		o.Sink = nopSink{}
	}
	if o.Timer == nil {
		o.Timer = observ.NewTimer()
	}
}

// newBackend maps a target onto its backend implementation.
func newBackend(t codegen.Target, opts codegen.Options) (codegen.Backend, error) {
	switch t {
	case codegen.TargetAMD64:
		return amd64.New(opts), nil
	default:
		return nil, fmt.Errorf("pipeline: no backend for target %q", t)
	}
}

// Compile compiles every local function of mod and assembles the module
// result. bodies must hold one entry per local function, indexed by
// local function index. The output is deterministic: the same inputs
// produce a byte-identical Result regardless of Jobs.
func Compile(ctx context.Context, mod *wasm.Module, bodies []wasm.FuncBody, sigs *sig.Registry, opts Options) (*Result, error) {
	opts.normalize()

	n := int(mod.NumLocalFuncs())
	if len(bodies) != n {
		return nil, fmt.Errorf("pipeline: %d bodies for %d local functions", len(bodies), n)
	}

	be, err := newBackend(opts.Target, codegen.Options{Unwind: opts.Unwind})
	if err != nil {
		return nil, err
	}

	c := &compilation{
		mod:    mod,
		bodies: bodies,
		sigs:   sigs,
		be:     be,
		opts:   opts,
		log:    opts.Logger,
		states: make([]FuncState, n),
		irs:    make([]*ir.Func, n),
		arts:   make([]*codegen.CompiledFunction, n),
		diags:  make([]*diag.Diagnostic, n),
	}

	if err := c.translateAll(ctx); err != nil {
		return nil, err
	}
	if err := c.generateAll(ctx); err != nil {
		return nil, err
	}
	if err := c.failIfAnyFailed(); err != nil {
		return nil, err
	}
	return c.assemble()
}

// compilation is the per-call pipeline state. The index-addressed
// slices let workers write without locks; index i is owned by exactly
// one goroutine per stage.
type compilation struct {
	mod    *wasm.Module
	bodies []wasm.FuncBody
	sigs   *sig.Registry
	be     codegen.Backend
	opts   Options
	log    *zap.Logger

	states []FuncState
	irs    []*ir.Func
	arts   []*codegen.CompiledFunction
	diags  []*diag.Diagnostic
}

// record stores a stage failure for function i. Non-diagnostic errors
// are contract breaches and get wrapped as internal.
func (c *compilation) record(i int, err error) {
	d, ok := err.(*diag.Diagnostic)
	if !ok {
		d = diag.Internalf(wasm.LocalFuncIndex(i), "%v", err)
	}
	c.diags[i] = d
	c.states[i] = StateFailed
}

// runStage fans the per-function work out over the worker pool. Worker
// errors abort the whole compile; per-function compile failures are
// recorded and never returned from the closure.
func (c *compilation) runStage(ctx context.Context, stage Stage, work func(i int) error) error {
	phase := c.opts.Timer.Begin(string(stage))
	start := time.Now()
	c.opts.Sink.OnEvent(Event{Module: true, Stage: stage, Status: StatusWorking})

	for i := range c.states {
		if c.states[i] != StateFailed {
			c.opts.Sink.OnEvent(Event{Func: wasm.LocalFuncIndex(i), Stage: stage, Status: StatusQueued})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(c.opts.Jobs, len(c.states)))

	for i := range c.states {
		if c.states[i] == StateFailed {
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			c.opts.Sink.OnEvent(Event{Func: wasm.LocalFuncIndex(i), Stage: stage, Status: StatusWorking})
			if err := work(i); err != nil {
				c.record(i, err)
				c.opts.Sink.OnEvent(Event{Func: wasm.LocalFuncIndex(i), Stage: stage, Status: StatusError, Err: err})
				return nil
			}
			c.opts.Sink.OnEvent(Event{Func: wasm.LocalFuncIndex(i), Stage: stage, Status: StatusDone})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, s := range c.states {
		if s == StateFailed {
			failed++
		}
	}
	c.opts.Timer.Endf(phase, "%d functions", len(c.states)-failed)
	c.opts.Sink.OnEvent(Event{Module: true, Stage: stage, Status: StatusDone, Elapsed: time.Since(start)})
	c.log.Debug("stage complete",
		zap.String("stage", string(stage)),
		zap.Int("functions", len(c.states)),
		zap.Int("failed", failed),
	)
	return nil
}

func (c *compilation) translateAll(ctx context.Context) error {
	topts := translate.Options{Bounds: c.opts.Bounds}
	return c.runStage(ctx, StageTranslate, func(i int) error {
		c.states[i] = StateTranslating
		f, err := translate.Translate(wasm.LocalFuncIndex(i), &c.bodies[i], c.mod, c.sigs, topts)
		if err != nil {
			return err
		}
		c.irs[i] = f
		return nil
	})
}

func (c *compilation) generateAll(ctx context.Context) error {
	return c.runStage(ctx, StageGenerate, func(i int) error {
		c.states[i] = StateGenerating
		cf, err := c.be.Compile(wasm.LocalFuncIndex(i), c.irs[i], c.mod, c.sigs)
		if err != nil {
			return err
		}
		c.arts[i] = cf
		return nil
	})
}

// failIfAnyFailed aggregates recorded diagnostics into the module
// error. Index order makes the aggregate deterministic; Bag re-sorts
// for presentation.
func (c *compilation) failIfAnyFailed() error {
	bag := diag.NewBag(c.opts.MaxDiagnostics)
	for _, d := range c.diags {
		if d != nil {
			bag.Add(d)
		}
	}
	if !bag.HasErrors() {
		return nil
	}
	c.log.Warn("module compilation failed", zap.Int("diagnostics", bag.Len()))
	return bag.Err()
}
