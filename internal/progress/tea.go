package progress

import (
	"context"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg struct{}
type stopMsg struct{}

type transferModel struct {
	viewFn func() Stats
	view   Stats
}

func (m transferModel) Init() tea.Cmd {
	return nil
}

func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case tickMsg:
		m.view = m.viewFn()
		return m, nil
	case stopMsg:
		m.view = m.viewFn()
		return m, tea.Quit
	}
	return m, nil
}

func (m transferModel) View() string {
	return renderTTY(m.view) + "\n"
}

// renderTea draws the segment view with bubbletea. Input is disabled so the
// menu keeps reading stdin; interrupts arrive as signals on the root context.
func renderTea(ctx context.Context, w io.Writer, view func() Stats) func() {
	model := transferModel{viewFn: view, view: view()}
	program := tea.NewProgram(model, tea.WithOutput(w), tea.WithInput(nil), tea.WithoutSignalHandler())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		_, _ = program.Run()
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				program.Send(stopMsg{})
				return
			case <-stop:
				program.Send(stopMsg{})
				return
			case <-ticker.C:
				program.Send(tickMsg{})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-exited
		})
	}
}
