package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/pbtransfer/internal/migrate"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// Messages sent by the engine observer.
type (
	collectionStartedMsg struct {
		name  string
		steps int
	}
	batchCompletedMsg struct {
		name        string
		done, steps int
	}
	collectionFinishedMsg struct {
		result migrate.Result
	}
	runDoneMsg struct{}
)

// collectionState is the display state of one collection.
type collectionState struct {
	name     string
	done     int
	steps    int
	finished bool
	result   migrate.Result
}

// progressModel is the bubbletea model for a transfer.
type progressModel struct {
	order       []string
	collections map[string]*collectionState
	progress    progress.Model
	theme       Theme
	cancel      context.CancelFunc
	interrupted bool
	done        bool
}

// newProgressModel creates a new progress model. cancel stops the run.
func newProgressModel(cancel context.CancelFunc) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		collections: make(map[string]*collectionState),
		progress:    prog,
		theme:       defaultTheme,
		cancel:      cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// state returns the entry for name, adding it in arrival order.
func (m *progressModel) state(name string) *collectionState {
	s, ok := m.collections[name]
	if !ok {
		s = &collectionState{name: name}
		m.collections[name] = s
		m.order = append(m.order, name)
	}
	return s
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Stop between records; the engine reports what it finished.
			if !m.interrupted {
				m.interrupted = true
				m.cancel()
			}
		}

	case collectionStartedMsg:
		s := m.state(msg.name)
		s.steps = msg.steps

	case batchCompletedMsg:
		s := m.state(msg.name)
		s.done, s.steps = msg.done, msg.steps

	case collectionFinishedMsg:
		s := m.state(msg.result.Collection)
		s.finished = true
		s.result = msg.result

	case runDoneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if len(m.order) == 0 && !m.done {
		return m.theme.statusStyle().Render("Connecting...") + "\n"
	}

	width := 0
	for _, name := range m.order {
		width = max(width, len(name))
	}

	var b strings.Builder
	for _, name := range m.order {
		s := m.collections[name]
		label := fmt.Sprintf("%-*s", width, name)

		switch {
		case s.finished && s.result.Err != nil:
			b.WriteString(m.theme.errorStyle().Render("✗ "+label) + " " + s.result.Err.Error() + "\n")
		case s.finished:
			line := fmt.Sprintf("✓ %s %d/%d records", label, s.result.Succeeded, s.result.Total)
			if n := len(s.result.Failures); n > 0 {
				line += fmt.Sprintf(", %d failures", n)
			}
			b.WriteString(m.theme.completedStyle().Render(line) + "\n")
		default:
			var pct float64
			if s.steps > 0 {
				pct = float64(s.done) / float64(s.steps)
			}
			status := m.theme.statusStyle().Render("• " + label)
			fmt.Fprintf(&b, "%s %s %d/%d\n", status, m.progress.ViewAs(pct), s.done, s.steps)
		}
	}

	if !m.done {
		hint := "Press Ctrl+C to stop after the current record"
		if m.interrupted {
			hint = "Stopping..."
		}
		b.WriteString(m.theme.hintStyle().Render(hint) + "\n")
	}
	return b.String()
}

// programObserver forwards engine events to the program. Send is safe for
// concurrent use.
type programObserver struct {
	p *tea.Program
}

func (o programObserver) CollectionStarted(name string, steps int) {
	o.p.Send(collectionStartedMsg{name: name, steps: steps})
}

func (o programObserver) BatchCompleted(name string, done, steps int) {
	o.p.Send(batchCompletedMsg{name: name, done: done, steps: steps})
}

func (o programObserver) CollectionFinished(res migrate.Result) {
	o.p.Send(collectionFinishedMsg{result: res})
}

// runWithProgress runs the transfer while rendering its progress. Ctrl+C
// cancels the run context; the partial report is still returned.
func runWithProgress(ctx context.Context, run func(context.Context, migrate.Observer) (*migrate.Report, error)) (*migrate.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(cancel))

	type outcome struct {
		report *migrate.Report
		err    error
	}
	finished := make(chan outcome, 1)
	go func() {
		report, err := run(ctx, programObserver{p: p})
		finished <- outcome{report, err}
		p.Send(runDoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		out := <-finished
		if out.err == nil {
			out.err = fmt.Errorf("progress UI error: %w", err)
		}
		return out.report, out.err
	}

	out := <-finished
	return out.report, out.err
}
