package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header    lipgloss.Style
	badgeOn   lipgloss.Style
	badgeOff  lipgloss.Style
	user      lipgloss.Style
	meta      lipgloss.Style
	errorText lipgloss.Style
	panel     lipgloss.Style
	label     lipgloss.Style
	rewritten lipgloss.Style
	bullet    lipgloss.Style
	status    lipgloss.Style
	input     lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#7dcfff")
	green := lipgloss.Color("#9ece6a")
	red := lipgloss.Color("#f7768e")
	muted := lipgloss.Color("#737aa2")
	text := lipgloss.Color("#c0caf5")

	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(text).
			Padding(0, 1),
		badgeOn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#1a1b26")).Background(green).Padding(0, 1),
		badgeOff:  lipgloss.NewStyle().Foreground(text).Background(lipgloss.Color("#414868")).Padding(0, 1),
		user:      lipgloss.NewStyle().Foreground(accent).Bold(true),
		meta:      lipgloss.NewStyle().Foreground(muted).Italic(true),
		errorText: lipgloss.NewStyle().Foreground(red),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		label:     lipgloss.NewStyle().Foreground(muted).Bold(true),
		rewritten: lipgloss.NewStyle().Foreground(text),
		bullet:    lipgloss.NewStyle().Foreground(green),
		status:    lipgloss.NewStyle().Foreground(muted),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(muted),
	}
}
