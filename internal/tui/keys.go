package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Submit       key.Binding
	Original     key.Binding
	Rewritten    key.Binding
	Edit         key.Binding
	Regenerate   key.Binding
	Cancel       key.Binding
	ToggleEnh    key.Binding
	ToggleMode   key.Binding
	NewConv      key.Binding
	DeleteConv   key.Binding
	PrevConv     key.Binding
	NextConv     key.Binding
	ScrollUp     key.Binding
	ScrollDown   key.Binding
	Quit         key.Binding
	choosing     bool
	hasPending   bool
	editingDraft bool
}

func newKeyMap() keyMap {
	return keyMap{
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Original:   key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "original")),
		Rewritten:  key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "rewritten")),
		Edit:       key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "edit")),
		Regenerate: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "regenerate")),
		Cancel:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		ToggleEnh:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "enhancer")),
		ToggleMode: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "mode")),
		NewConv:    key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new")),
		DeleteConv: key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete")),
		PrevConv:   key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p/o", "switch")),
		NextConv:   key.NewBinding(key.WithKeys("ctrl+o")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// ShortHelp implements help.KeyMap and follows the current input state
func (k keyMap) ShortHelp() []key.Binding {
	switch {
	case k.editingDraft:
		return []key.Binding{k.Submit, k.Cancel, k.Quit}
	case k.choosing:
		return []key.Binding{k.Original, k.Rewritten, k.Edit, k.Regenerate, k.Cancel, k.Quit}
	case k.hasPending:
		return []key.Binding{k.Cancel, k.Quit}
	default:
		return []key.Binding{k.Submit, k.ToggleEnh, k.ToggleMode, k.NewConv, k.DeleteConv, k.PrevConv, k.Quit}
	}
}

// FullHelp implements help.KeyMap
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
