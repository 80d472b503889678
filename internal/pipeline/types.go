package pipeline

import (
	"time"

	"smelt/internal/wasm"
)

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageTranslate is the bytecode-to-IR stage.
	StageTranslate Stage = "translate"
	// StageGenerate is the IR-to-machine-code stage.
	StageGenerate Stage = "generate"
	// StageAssemble is the layout-and-link stage, trampolines included.
	StageAssemble Stage = "assemble"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the function is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusWorking indicates a worker has picked the function up.
	StatusWorking Status = "working"
	// StatusDone indicates the function passed the stage.
	StatusDone Status = "done"
	// StatusError indicates the function failed the stage.
	StatusError Status = "error"
)

// Event reports progress for one local function, or for a whole stage
// when Module is set.
type Event struct {
	Module  bool
	Func    wasm.LocalFuncIndex
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Sinks are called from worker
// goroutines and must be safe for concurrent use.
type ProgressSink interface {
	OnEvent(Event)
}

type nopSink struct{}

func (nopSink) OnEvent(Event) {}

// ChannelSink forwards events to a channel. The receiver must drain Ch
// or compilation workers will block on it.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(ev Event) { s.Ch <- ev }

// FuncState tracks one function through the pipeline.
type FuncState uint8

const (
	StatePending FuncState = iota
	StateTranslating
	StateGenerating
	StateAssembled
	StateFailed
)

func (s FuncState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTranslating:
		return "translating"
	case StateGenerating:
		return "generating"
	case StateAssembled:
		return "assembled"
	case StateFailed:
		return "failed"
	default:
		return "state(unknown)"
	}
}
