package ui

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RunWithSpinner runs fn behind a spinner on stderr labelled msg and, when
// progress is set, the lifecycle step fn is currently in. Without an
// interactive terminal fn runs silently. Ctrl+C cancels fn's context and
// waits for fn to return.
func RunWithSpinner(ctx context.Context, msg string, progress *Progress, fn func(ctx context.Context) error) error {
	if !IsInteractive() {
		return fn(ctx)
	}

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newSpinnerModel(msg, progress)
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	result := make(chan error, 1)
	go func() {
		err := fn(fnCtx)
		result <- err
		p.Send(finishedMsg{})
	}()

	_, runErr := p.Run()
	if runErr != nil || m.interrupted {
		cancel()
	}
	err := <-result
	switch {
	case runErr != nil:
		return fmt.Errorf("spinner: %w", runErr)
	case m.interrupted:
		return context.Canceled
	}
	return err
}

type finishedMsg struct{}

type spinnerModel struct {
	spin        spinner.Model
	msg         string
	progress    *Progress
	finished    bool
	interrupted bool
}

func newSpinnerModel(msg string, progress *Progress) *spinnerModel {
	return &spinnerModel{
		spin:     spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(accent)),
		msg:      msg,
		progress: progress,
	}
}

func (m *spinnerModel) Init() tea.Cmd { return m.spin.Tick }

func (m *spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.interrupted = true
			return m, tea.Quit
		}
	case finishedMsg:
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View redraws on every tick, which keeps the step label and its elapsed
// time current.
func (m *spinnerModel) View() string {
	if m.finished || m.interrupted {
		return ""
	}
	line := m.spin.View() + " " + m.msg
	if status := m.progress.Status(); status != "" {
		line += muted.Render(" · " + status)
	}
	return line + "\n"
}
