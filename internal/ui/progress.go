package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"smelt/internal/pipeline"
	"smelt/internal/wasm"
)

// maxRows caps the per-function rows rendered below the summary. Large
// modules have thousands of functions and a row each would scroll the
// terminal away.
const maxRows = 12

type progressModel struct {
	title    string
	events   <-chan pipeline.Event
	spinner  spinner.Model
	prog     progress.Model
	labels   map[wasm.LocalFuncIndex]string
	total    int
	stage    pipeline.Stage
	done     int
	failed   int
	active   map[wasm.LocalFuncIndex]pipeline.Stage
	failures []failureRow
	width    int
	finished bool
}

type failureRow struct {
	fn  wasm.LocalFuncIndex
	err error
}

type eventMsg pipeline.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders compilation
// progress for total local functions. labels maps selected function
// indices to display names, typically from the export section; anything
// absent renders as its index.
func NewProgressModel(title string, total int, labels map[wasm.LocalFuncIndex]string, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		labels:  labels,
		total:   total,
		active:  make(map[wasm.LocalFuncIndex]pipeline.Stage),
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(pipeline.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stage != "" {
		header = fmt.Sprintf("%s (%s)", header, stageLabel(m.stage))
	}
	if m.finished {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	count := fmt.Sprintf("  %d/%d functions", m.done, m.total)
	if m.failed > 0 {
		count += lipgloss.NewStyle().Foreground(lipgloss.Color("1")).
			Render(fmt.Sprintf("  (%d failed)", m.failed))
	}
	b.WriteString(count)
	b.WriteString("\n")

	nameWidth := m.width - 16
	if nameWidth < 20 {
		nameWidth = 20
	}

	for _, row := range m.activeRows() {
		label := styleStatus(stageLabel(row.stage)).Render(fmt.Sprintf("%12s", stageLabel(row.stage)))
		b.WriteString(fmt.Sprintf("  %s %s\n", label, truncate(m.funcName(row.fn), nameWidth)))
	}
	for _, f := range m.failures {
		label := styleStatus("error").Render(fmt.Sprintf("%12s", "error"))
		line := m.funcName(f.fn)
		if f.err != nil {
			line += ": " + f.err.Error()
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", label, truncate(line, nameWidth)))
	}

	b.WriteString("\n")
	if m.finished {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

type activeRow struct {
	fn    wasm.LocalFuncIndex
	stage pipeline.Stage
}

func (m *progressModel) activeRows() []activeRow {
	rows := make([]activeRow, 0, len(m.active))
	for fn, stage := range m.active {
		rows = append(rows, activeRow{fn: fn, stage: stage})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].fn < rows[j].fn })
	limit := maxRows - len(m.failures)
	if limit < 0 {
		limit = 0
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (m *progressModel) funcName(fn wasm.LocalFuncIndex) string {
	if name, ok := m.labels[fn]; ok {
		return name
	}
	return fmt.Sprintf("func %d", fn)
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev pipeline.Event) tea.Cmd {
	if ev.Module {
		m.stage = ev.Stage
		if ev.Status == pipeline.StatusWorking {
			// A new stage: everyone runs again, so reset the
			// per-stage completion count.
			m.done = 0
			m.active = make(map[wasm.LocalFuncIndex]pipeline.Stage)
		}
		return nil
	}

	switch ev.Status {
	case pipeline.StatusWorking:
		m.active[ev.Func] = ev.Stage
	case pipeline.StatusDone:
		delete(m.active, ev.Func)
		m.done++
	case pipeline.StatusError:
		delete(m.active, ev.Func)
		m.failed++
		if len(m.failures) < maxRows {
			m.failures = append(m.failures, failureRow{fn: ev.Func, err: ev.Err})
		}
	}

	if m.total == 0 {
		return nil
	}
	pct := float64(m.done+m.failed) / float64(m.total)
	return m.prog.SetPercent(pct)
}

func stageLabel(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageTranslate:
		return "translating"
	case pipeline.StageGenerate:
		return "generating"
	case pipeline.StageAssemble:
		return "assembling"
	default:
		return string(stage)
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "translating", "generating", "assembling":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
