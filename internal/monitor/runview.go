package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/refacta/internal/engine"
)

const transcriptLines = 8

// Source is a run whose updates the live view drains.
type Source interface {
	ID() string
	Updates() <-chan engine.Update
}

type specialistState struct {
	name    string
	running bool
	done    bool
	outcome engine.Outcome
	edits   int
	tokens  int
	cost    float64
}

// RunModel is the live view of one run. It owns the update channel until
// the run finishes or the user quits.
type RunModel struct {
	runID   string
	updates <-chan engine.Update
	planned int
	started time.Time
	now     func() time.Time

	order       []string
	specialists map[string]*specialistState
	transcript  strings.Builder
	events      []string
	activity    []float64
	tokens      []float64

	result   *engine.Result
	closed   bool
	quitting bool

	spinner  spinner.Model
	progress progress.Model
}

type updateMsg engine.Update
type closedMsg struct{}

// NewRunModel creates a live view of src. planned lists the specialists the
// run was started with and sizes the progress bar.
func NewRunModel(src Source, planned []string) *RunModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sparklineStyle

	m := &RunModel{
		runID:       src.ID(),
		updates:     src.Updates(),
		planned:     len(planned),
		now:         time.Now,
		specialists: make(map[string]*specialistState, len(planned)),
		spinner:     sp,
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
	m.started = m.now()
	for _, name := range planned {
		m.state(name)
	}
	return m
}

// Result returns the final result, or nil when the view was quit before
// the run finished.
func (m *RunModel) Result() *engine.Result { return m.result }

// Quit reports whether the user left the view before the run finished.
func (m *RunModel) Quit() bool { return m.quitting }

func waitForUpdate(ch <-chan engine.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

// Init starts the spinner and the first channel read.
func (m *RunModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates))
}

// Update handles messages
func (m *RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(40, max(10, msg.Width-30))

	case spinner.TickMsg:
		if m.done() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case updateMsg:
		m.apply(engine.Update(msg))
		if m.result != nil {
			return m, tea.Quit
		}
		return m, waitForUpdate(m.updates)

	case closedMsg:
		m.closed = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *RunModel) done() bool {
	return m.result != nil || m.closed
}

func (m *RunModel) state(name string) *specialistState {
	st, ok := m.specialists[name]
	if !ok {
		st = &specialistState{name: name}
		m.specialists[name] = st
		m.order = append(m.order, name)
	}
	return st
}

func (m *RunModel) apply(u engine.Update) {
	switch u.Kind {
	case engine.UpdateSpecialistStart:
		m.state(u.Specialist).running = true
		m.event("▶ " + u.Specialist)

	case engine.UpdateText:
		m.transcript.WriteString(u.Text)
		m.activity = appendToHistory(m.activity, float64(len(u.Text)))

	case engine.UpdateEdit:
		if u.Edit == nil {
			return
		}
		m.state(u.Specialist).edits++
		m.event("✎ " + u.Edit.FilePath)

	case engine.UpdateSpecialistDone:
		st := m.state(u.Specialist)
		st.running = false
		st.done = true
		if u.Run != nil {
			st.outcome = u.Run.Outcome
			st.tokens = u.Run.InputTokens + u.Run.OutputTokens
			st.cost = u.Run.CostUSD
			m.tokens = appendToHistory(m.tokens, float64(st.tokens))
			m.event(fmt.Sprintf("%s %s %s", outcomeGlyph(st.outcome), u.Specialist, st.outcome))
		}

	case engine.UpdateDone:
		if u.Result != nil {
			m.result = u.Result
		}
	}
}

func (m *RunModel) event(line string) {
	m.events = append(m.events, line)
	if len(m.events) > transcriptLines {
		m.events = m.events[1:]
	}
}

func (m *RunModel) finished() int {
	n := 0
	for _, st := range m.specialists {
		if st.done {
			n++
		}
	}
	return n
}

func outcomeGlyph(o engine.Outcome) string {
	switch o {
	case engine.OutcomeClean:
		return healthyStyle.Render("✓")
	case engine.OutcomeSalvaged:
		return warningStyle.Render("⚠")
	default:
		return errorStyle.Render("✗")
	}
}

// View renders the run
func (m *RunModel) View() string {
	var b strings.Builder

	status := m.spinner.View()
	if m.result != nil {
		status = outcomeGlyph(m.result.Outcome)
	}
	b.WriteString(headerStyle.Render(" refacta run ") + " " +
		dimStyle.Render(m.runID) + "   " + status + " " +
		valueStyle.Render(FormatElapsed(m.now().Sub(m.started))) + "\n")

	total := max(m.planned, len(m.order))
	ratio := 0.0
	if total > 0 {
		ratio = float64(m.finished()) / float64(total)
	}
	b.WriteString(labelStyle.Render("  Progress: ") + m.progress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d", m.finished(), total)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Specialists") + "\n")
	for _, name := range m.order {
		st := m.specialists[name]
		glyph := dimStyle.Render("·")
		switch {
		case st.running:
			glyph = m.spinner.View()
		case st.done:
			glyph = outcomeGlyph(st.outcome)
		}
		b.WriteString(fmt.Sprintf("  %s %s  %s %s  %s %s\n",
			glyph, valueStyle.Render(name),
			labelStyle.Render("tokens"), FormatTokens(st.tokens),
			labelStyle.Render("edits"), fmt.Sprintf("%d", st.edits)))
	}
	b.WriteString(labelStyle.Render("  Tokens by specialist: ") + createSparkline(m.tokens) + "\n")
	b.WriteString(labelStyle.Render("  Stream activity:      ") + createSparkline(m.activity) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Events") + "\n")
	for _, line := range m.events {
		b.WriteString("  " + line + "\n")
	}

	if tail := lastLines(m.transcript.String(), transcriptLines); tail != "" {
		b.WriteString("\n" + sectionStyle.Render("┃ Output") + "\n")
		b.WriteString(dimStyle.Render(tail) + "\n")
	}

	if r := m.result; r != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Result") + "\n")
		b.WriteString(labelStyle.Render("  Outcome: ") + valueStyle.Render(r.Outcome.String()) +
			labelStyle.Render("  Tokens: ") + valueStyle.Render(FormatTokens(r.TotalTokens)) +
			labelStyle.Render("  Cost: ") + valueStyle.Render(FormatCost(r.CostUSD)) +
			labelStyle.Render("  Edits: ") + valueStyle.Render(fmt.Sprintf("%d", len(r.Edits))) + "\n")
		if r.Error != "" {
			b.WriteString(errorStyle.Render("  "+r.Error) + "\n")
		}
	} else {
		b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" stop watching"))
	}

	return containerStyle.Render(b.String())
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Watch runs the live view until the run finishes, the user quits or ctx
// is canceled. The returned model carries the final result when there is one.
func Watch(ctx context.Context, src Source, planned []string, opts ...tea.ProgramOption) (*RunModel, error) {
	m := NewRunModel(src, planned)
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		return m, fmt.Errorf("running live view: %w", err)
	}
	return m, nil
}
