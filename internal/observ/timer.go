// Package observ holds the pipeline's lightweight timing
// instrumentation. No sampling, no exporters; phases are recorded
// inline and rendered on demand.
package observ

import (
	"fmt"
	"time"
)

// Phase is one timed span of the compilation, usually a pipeline stage.
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
	Note  string
}

// Timer records phase durations in begin order. Not safe for concurrent
// use; the pipeline times stages on the coordinating goroutine only.
type Timer struct {
	phases []Phase
}

func NewTimer() *Timer { return &Timer{phases: make([]Phase, 0, 8)} }

// Begin opens a phase and returns its handle for End.
func (t *Timer) Begin(name string) int {
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End closes a phase. The note typically carries a count, such as the
// number of functions the phase processed.
func (t *Timer) End(idx int, note string) {
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.Dur = time.Since(p.Start)
	p.Note = note
}

// Endf is End with a formatted note.
func (t *Timer) Endf(idx int, format string, args ...any) {
	t.End(idx, fmt.Sprintf(format, args...))
}

// Summary renders the phases for terminal output.
func (t *Timer) Summary() string {
	report := t.Report()
	out := "timings:\n"
	for _, p := range report.Phases {
		out += fmt.Sprintf("  %-16s %8.2f ms", p.Name, p.DurationMS)
		if p.Note != "" {
			out += "  (" + p.Note + ")"
		}
		out += "\n"
	}
	out += fmt.Sprintf("  %-16s %8.2f ms\n", "total", report.TotalMS)
	return out
}

// PhaseReport is one phase in serialized form.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// Report is the serializable aggregate, for --timings JSON output.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

func (t *Timer) Report() Report {
	if len(t.phases) == 0 {
		return Report{}
	}
	report := Report{Phases: make([]PhaseReport, len(t.phases))}
	var total time.Duration
	for i, phase := range t.phases {
		total += phase.Dur
		report.Phases[i] = PhaseReport{
			Name:       phase.Name,
			DurationMS: float64(phase.Dur) / float64(time.Millisecond),
			Note:       phase.Note,
		}
	}
	report.TotalMS = float64(total) / float64(time.Millisecond)
	return report
}
