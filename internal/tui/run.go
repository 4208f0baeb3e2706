package tui

import (
	"fmt"
	"time"

	"learning-agent/internal/logger"
	"learning-agent/internal/store"
	"learning-agent/internal/workflow"

	tea "github.com/charmbracelet/bubbletea"
)

// eventBuffer bounds how many orchestrator events can queue before the program reads them
const eventBuffer = 256

// Run starts the interactive chat on the alternate screen and blocks until the user quits.
// In-flight backend calls are cancelled on exit.
func Run(st *store.Store, backend workflow.Backend, settings Settings, requestTimeout time.Duration) error {
	events := make(chan workflow.Event, eventBuffer)
	orch := workflow.New(backend, st,
		workflow.WithRequestTimeout(requestTimeout),
		workflow.WithListener(func(ev workflow.Event) {
			// the listener may fire inside Update, so it must never block
			select {
			case events <- ev:
			default:
				logger.Log.WithField("kind", ev.Kind).Warn("Dropped UI event, queue full")
			}
		}),
	)

	p := tea.NewProgram(New(st, orch, settings), tea.WithAltScreen())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev := <-events:
				p.Send(EventMsg{Event: ev})
			case <-done:
				return
			}
		}
	}()

	_, err := p.Run()
	close(done)
	orch.Close()
	if err != nil {
		return fmt.Errorf("error running chat: %w", err)
	}
	return nil
}
