package cli

import (
	"context"
	"fmt"
	"os"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

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

// progressMsg carries the current batch position.
type progressMsg struct {
	done  int
	total int
}

// batchDoneMsg signals the batch finished, successfully or not.
type batchDoneMsg struct {
	err error
}

// batchModel is the bubbletea model for a pipeline batch run.
type batchModel struct {
	title    string
	progress progress.Model
	theme    Theme
	done     int
	total    int
	finished bool
	quitting bool
	err      error
}

func newBatchModel(title string) batchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return batchModel{
		title:    title,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m batchModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m batchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case progressMsg:
		m.done = msg.done
		m.total = msg.total
		return m, nil

	case batchDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m batchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m batchModel) renderContent() string {
	if m.finished || m.quitting {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.title))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d", m.done, m.total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to abort")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m batchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nAborting...\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s failed: %s\n", m.title, m.err))
	}
	return m.theme.completedStyle().Render(fmt.Sprintf("✓ %s done (%d/%d)\n", m.title, m.done, m.total))
}

// runWithProgress executes a batch stage, rendering a live progress bar on
// a terminal and running plainly otherwise. Ctrl+C cancels the context the
// stage runs under; the in-flight item finishes or errors, everything
// already written stays on disk.
func runWithProgress(ctx context.Context, title string, run func(ctx context.Context, report func(done, total int)) error) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return run(ctx, func(done, total int) {})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newBatchModel(title))
	result := make(chan error, 1)
	go func() {
		err := run(ctx, func(done, total int) {
			p.Send(progressMsg{done: done, total: total})
		})
		p.Send(batchDoneMsg{err: err})
		result <- err
	}()

	finalModel, uiErr := p.Run()
	if m, ok := finalModel.(batchModel); ok && m.quitting {
		cancel()
	}
	err := <-result
	if uiErr != nil {
		return fmt.Errorf("progress UI error: %w", uiErr)
	}
	return err
}
