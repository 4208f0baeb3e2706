// Package tui is the interactive terminal front end: a transcript of the active
// conversation, the prompt choice panel for enhanced turns, and the prompt input.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"learning-agent/internal/domain"
	"learning-agent/internal/logger"
	"learning-agent/internal/store"
	"learning-agent/internal/workflow"
	"learning-agent/pkg/api"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Orchestrator is the turn workflow the UI drives
type Orchestrator interface {
	Submit(prompt string, mode *api.Mode, enhancerEnabled bool) (domain.Turn, error)
	ChoosePromptVariant(turnID string, variant api.Variant, draft string) (domain.Turn, error)
	Regenerate(turnID string) (domain.Turn, error)
	Cancel(turnID string) (string, error)
	Pending() (domain.Turn, bool)
}

// Settings are the initial UI toggles
type Settings struct {
	Mode     api.Mode
	Enhancer bool
	// GlamourStyle names a glamour standard style; empty detects one from the terminal
	GlamourStyle string
}

// EventMsg delivers an orchestrator event to the program
type EventMsg struct {
	Event workflow.Event
}

// Model is the bubbletea model of the chat screen
type Model struct {
	store *store.Store
	orch  Orchestrator

	keys       keyMap
	help       help.Model
	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	theme      theme
	markdown   *markdownCache

	mode     api.Mode
	enhancer bool
	pending  *domain.Turn
	editing  bool

	status    string
	statusErr bool
	width     int
	height    int
}

// New creates the chat model
func New(st *store.Store, orch Orchestrator, settings Settings) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "Ask something you want to learn"
	input.CharLimit = 8000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	mode := settings.Mode
	if !mode.Valid() {
		mode = api.ModeLearning
	}

	m := Model{
		store:      st,
		orch:       orch,
		keys:       newKeyMap(),
		help:       help.New(),
		input:      input,
		transcript: viewport.New(80, 20),
		spinner:    sp,
		theme:      newTheme(),
		markdown:   newMarkdownCache(settings.GlamourStyle),
		mode:       mode,
		enhancer:   settings.Enhancer,
		width:      80,
		height:     24,
	}
	m.syncPending()
	m.markdown.resize(m.width - 4)
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		m.help.Width = msg.Width
		m.markdown.resize(msg.Width - 4)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy() {
			m.refresh()
		}
		return m, cmd

	case EventMsg:
		m.handleEvent(msg.Event)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if key.Matches(msg, m.keys.ScrollUp, m.keys.ScrollDown) {
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}

		handled, cmd := m.handleKey(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if !handled && m.input.Focused() {
			var inputCmd tea.Cmd
			m.input, inputCmd = m.input.Update(msg)
			cmds = append(cmds, inputCmd)
		}
		m.refresh()
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

// handleKey applies a key to the current state. It reports whether the key was consumed.
func (m *Model) handleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch {
	case m.editing:
		return m.handleEditKey(msg)
	case m.choosing():
		return m.handleChoiceKey(msg), nil
	case m.pending != nil:
		if key.Matches(msg, m.keys.Cancel) {
			m.cancelPending()
			return true, nil
		}
		if key.Matches(msg, m.keys.Submit) {
			m.setStatus("Still classifying the previous prompt", false)
			return true, nil
		}
		return false, nil
	}

	switch {
	case key.Matches(msg, m.keys.Submit):
		m.submit()
	case key.Matches(msg, m.keys.ToggleEnh):
		m.enhancer = !m.enhancer
		m.setStatus(fmt.Sprintf("Enhancer %s", onOff(m.enhancer)), false)
	case key.Matches(msg, m.keys.ToggleMode):
		if m.mode == api.ModeLearning {
			m.mode = api.ModeSocratic
		} else {
			m.mode = api.ModeLearning
		}
		m.setStatus(fmt.Sprintf("Mode: %s", m.mode), false)
	case key.Matches(msg, m.keys.NewConv):
		m.startNew()
	case key.Matches(msg, m.keys.DeleteConv):
		m.deleteActive()
	case key.Matches(msg, m.keys.PrevConv):
		m.cycleConversation(-1)
	case key.Matches(msg, m.keys.NextConv):
		m.cycleConversation(1)
	default:
		return false, nil
	}
	return true, nil
}

func (m *Model) handleChoiceKey(msg tea.KeyMsg) bool {
	switch {
	case key.Matches(msg, m.keys.Original):
		m.choose(api.VariantOriginal, "")
	case key.Matches(msg, m.keys.Rewritten, m.keys.Submit):
		m.choose(api.VariantRewritten, "")
	case key.Matches(msg, m.keys.Edit):
		m.editing = true
		draft := m.pending.OriginalPrompt
		if m.pending.RewrittenPrompt != nil {
			draft = *m.pending.RewrittenPrompt
		}
		m.input.SetValue(draft)
		m.input.CursorEnd()
		m.input.Focus()
	case key.Matches(msg, m.keys.Regenerate):
		if _, err := m.orch.Regenerate(m.pending.ID); err != nil {
			m.setStatus(fmt.Sprintf("Cannot regenerate: %v", err), true)
		} else {
			m.setStatus("Regenerating the rewrite...", false)
		}
	case key.Matches(msg, m.keys.Cancel):
		m.cancelPending()
	}
	// every other key is swallowed while choosing
	return true
}

func (m *Model) handleEditKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		m.choose(api.VariantEdited, m.input.Value())
		return true, nil
	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.input.Reset()
		m.input.Blur()
		return true, nil
	}
	return false, nil
}

func (m *Model) submit() {
	prompt := m.input.Value()
	mode := m.mode
	turn, err := m.orch.Submit(prompt, &mode, m.enhancer)
	if err != nil {
		if errors.Is(err, workflow.ErrEmptyPrompt) {
			return
		}
		m.setStatus(fmt.Sprintf("Cannot send: %v", err), true)
		return
	}
	m.input.Reset()
	m.syncPending()
	switch {
	case m.choosing():
		m.input.Blur()
		m.setStatus("Choose a prompt to send", false)
	case turn.EnhancerUsed && m.pending != nil:
		m.input.Blur()
		m.setStatus("Classifying...", false)
	default:
		m.setStatus("Answering...", false)
	}
}

func (m *Model) choose(variant api.Variant, draft string) {
	turn, err := m.orch.ChoosePromptVariant(m.pending.ID, variant, draft)
	if err != nil {
		m.setStatus(fmt.Sprintf("Cannot send: %v", err), true)
		return
	}
	m.syncPending()
	m.editing = false
	m.input.Reset()
	m.input.Focus()
	m.setStatus(fmt.Sprintf("Answering with the %s prompt...", derefVariant(turn.ChosenVariant)), false)
}

func (m *Model) cancelPending() {
	prompt, err := m.orch.Cancel(m.pending.ID)
	if err != nil {
		m.setStatus(fmt.Sprintf("Cannot cancel: %v", err), true)
		return
	}
	m.syncPending()
	m.editing = false
	m.input.SetValue(prompt)
	m.input.CursorEnd()
	m.input.Focus()
	m.setStatus("Cancelled, your prompt is back in the input", false)
}

func (m *Model) startNew() {
	if err := m.store.StartNew(); err != nil {
		logger.Log.WithError(err).Warn("Failed to persist new conversation pointer")
	}
	m.setStatus("Started a new conversation", false)
}

func (m *Model) deleteActive() {
	id := m.store.ActiveID()
	if id == "" {
		m.setStatus("Nothing to delete", false)
		return
	}
	if err := m.store.DeleteConversation(id); err != nil {
		m.setStatus(fmt.Sprintf("Delete failed: %v", err), true)
		return
	}
	m.setStatus("Conversation deleted", false)
}

func (m *Model) cycleConversation(step int) {
	list := m.store.List()
	if len(list) == 0 {
		m.setStatus("No saved conversations", false)
		return
	}
	current := -1
	active := m.store.ActiveID()
	for i, s := range list {
		if s.ID == active {
			current = i
			break
		}
	}
	next := 0
	if current >= 0 {
		next = (current + step + len(list)) % len(list)
	} else if step < 0 {
		next = len(list) - 1
	}
	if _, err := m.store.SwitchActive(list[next].ID); err != nil {
		m.setStatus(fmt.Sprintf("Switch failed: %v", err), true)
		return
	}
	m.setStatus(fmt.Sprintf("Switched to %q", list[next].Title), false)
}

func (m *Model) handleEvent(ev workflow.Event) {
	m.syncPending()
	switch ev.Kind {
	case workflow.EventRewritten:
		if m.pending != nil {
			m.input.Blur()
			m.setStatus("Choose a prompt to send", false)
		}
	case workflow.EventFailed:
		m.setStatus(fmt.Sprintf("Request failed: %v", ev.Err), true)
		m.focusIfIdle()
	case workflow.EventCompleted:
		m.setStatus("Answer received", false)
		m.focusIfIdle()
	case workflow.EventCancelled:
		m.focusIfIdle()
	}
}

// syncPending reads the pending turn from the orchestrator, which owns it
func (m *Model) syncPending() {
	if t, ok := m.orch.Pending(); ok {
		m.pending = &t
		return
	}
	m.pending = nil
	m.editing = false
}

func (m *Model) focusIfIdle() {
	if m.pending == nil && !m.input.Focused() {
		m.input.Focus()
	}
}

func (m *Model) setStatus(status string, isErr bool) {
	m.status = status
	m.statusErr = isErr
}

func (m Model) choosing() bool {
	return m.pending != nil && m.pending.Stage == domain.StageRewritten
}

func (m Model) busy() bool {
	if m.pending != nil && m.pending.Stage == domain.StageClassifying {
		return true
	}
	_, turns := m.store.Active()
	for _, t := range turns {
		if t.Stage != domain.StageDone {
			return true
		}
	}
	return false
}

// refresh re-renders the transcript and fits the viewport between the fixed sections
func (m *Model) refresh() {
	m.keys.choosing = m.choosing() && !m.editing
	m.keys.editingDraft = m.editing
	m.keys.hasPending = m.pending != nil

	_, turns := m.store.Active()
	atBottom := m.transcript.AtBottom()

	fixed := lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderFooter()) + 2
	if panel := m.renderPending(); panel != "" {
		fixed += lipgloss.Height(panel)
	}
	height := m.height - fixed
	if height < 3 {
		height = 3
	}
	m.transcript.Width = m.width
	m.transcript.Height = height
	m.transcript.SetContent(m.renderTranscript(turns))
	if atBottom || m.busy() {
		m.transcript.GotoBottom()
	}
}

func (m Model) renderFooter() string {
	status := m.theme.status.Render(m.status)
	if m.statusErr {
		status = m.theme.errorText.Render(m.status)
	}
	return status + "\n" + m.help.View(m.keys)
}

func (m Model) View() string {
	sections := []string{m.renderHeader(), m.transcript.View()}
	if panel := m.renderPending(); panel != "" {
		sections = append(sections, panel)
	}
	sections = append(sections, m.theme.input.Render(m.input.View()), m.renderFooter())
	return strings.Join(sections, "\n")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func derefVariant(v *api.Variant) string {
	if v == nil {
		return string(api.VariantOriginal)
	}
	return string(*v)
}
