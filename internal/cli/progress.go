package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/sludgewire/internal/service"
)

const pollInterval = 500 * time.Millisecond

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

// snapshotFunc reads the current state of a job, locally or from a server.
type snapshotFunc func(ctx context.Context) (*service.JobSnapshot, error)

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *service.JobSnapshot
	err error
}

// progressModel is the bubbletea model for backfill range progress.
type progressModel struct {
	fetch    snapshotFunc
	job      *service.JobSnapshot
	progress progress.Model
	theme    Theme
	// detachHint is shown while running; empty when Ctrl+C stops the job.
	detachHint string
	done       bool
	quitting   bool
	err        error
}

func newProgressModel(fetch snapshotFunc, job *service.JobSnapshot, detachHint string) progressModel {
	return progressModel{
		fetch:      fetch,
		job:        job,
		progress:   progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:      defaultTheme,
		detachHint: detachHint,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.progress.Init())
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.job = msg.job

		switch m.job.Status {
		case service.JobStatusCompleted:
			m.done = true
			return m, tea.Quit
		case service.JobStatusFailed:
			m.done = true
			m.err = fmt.Errorf("%s", m.job.Error)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
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

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.job == nil {
		return "Loading job status...\n"
	}

	var pct float64
	if m.job.DaysTotal > 0 {
		pct = float64(m.job.DaysDone) / float64(m.job.DaysTotal)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	counts := fmt.Sprintf("%d/%d days  %d filings", m.job.DaysDone, m.job.DaysTotal, m.job.FilingsFound)
	out := fmt.Sprintf("%s %s %s\n", status, m.progress.ViewAs(pct), counts)
	if m.detachHint != "" {
		out += m.theme.hintStyle().Render(m.detachHint) + "\n"
	}
	return out
}

func (m progressModel) finalView() string {
	if m.quitting && !m.done {
		if m.detachHint != "" {
			return m.theme.hintStyle().Render(fmt.Sprintf(
				"\nJob %s continues in background.\nUse 'sludgewire jobs %s' to check status.\n", m.job.ID, m.job.ID))
		}
		return m.theme.hintStyle().Render("\nStopped.\n")
	}
	if m.err != nil {
		out := m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Backfill failed: %s\n", m.err))
		if m.job != nil && len(m.job.FailedDays) > 0 {
			out += fmt.Sprintf("  Failed days: %s\n", strings.Join(m.job.FailedDays, ", "))
		}
		return out
	}
	out := m.theme.completedStyle().Render("✓ Completed") + "\n\n"
	if m.job != nil {
		out += fmt.Sprintf("  Days:    %d\n", m.job.DaysTotal)
		out += fmt.Sprintf("  Filings: %d\n", m.job.FilingsFound)
	}
	return out
}

// fetchJob runs in a command so Update never blocks.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		job, err := m.fetch(ctx)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress shows the progress UI until the job ends or the user quits.
// Returns the final snapshot, whether the user quit early, and the job error.
func runJobProgress(fetch snapshotFunc, job *service.JobSnapshot, detachHint string) (*service.JobSnapshot, bool, error) {
	p := tea.NewProgram(newProgressModel(fetch, job, detachHint))
	final, err := p.Run()
	if err != nil {
		return nil, false, fmt.Errorf("progress UI error: %w", err)
	}
	m, ok := final.(progressModel)
	if !ok {
		return job, false, nil
	}
	return m.job, m.quitting && !m.done, m.err
}
