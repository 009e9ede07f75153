package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	root         lipgloss.Style
	header       lipgloss.Style
	roomActive   lipgloss.Style
	roomInactive lipgloss.Style
	roomReview   lipgloss.Style

	panel      lipgloss.Style
	panelTitle lipgloss.Style
	inputPanel lipgloss.Style

	connOK   lipgloss.Style
	connWarn lipgloss.Style
	connErr  lipgloss.Style

	roleUser      lipgloss.Style
	roleAssistant lipgloss.Style
	roleSystem    lipgloss.Style

	pending  lipgloss.Style
	errored  lipgloss.Style
	muted    lipgloss.Style
	roundBar lipgloss.Style
	persona  lipgloss.Style
	stance   lipgloss.Style
	report   lipgloss.Style
	helpText lipgloss.Style
}

func newTheme() theme {
	var (
		blue  = lipgloss.Color("#2de2e6")
		pink  = lipgloss.Color("#ff6ac1")
		mint  = lipgloss.Color("#05ffa1")
		amber = lipgloss.Color("#ffd166")
		text  = lipgloss.Color("#e8e6f0")
		muted = lipgloss.Color("#8884a8")
	)
	return theme{
		root: lipgloss.NewStyle().Padding(0, 1),
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		roomActive: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22062f")).
			Background(blue).
			Bold(true).
			Padding(0, 1),
		roomInactive: lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		roomReview:   lipgloss.NewStyle().Foreground(pink).Padding(0, 1),

		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Foreground(blue).Bold(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),

		connOK:   lipgloss.NewStyle().Foreground(mint).Bold(true),
		connWarn: lipgloss.NewStyle().Foreground(amber).Bold(true),
		connErr:  lipgloss.NewStyle().Foreground(pink).Bold(true),

		roleUser:      lipgloss.NewStyle().Foreground(mint).Bold(true),
		roleAssistant: lipgloss.NewStyle().Foreground(blue).Bold(true),
		roleSystem:    lipgloss.NewStyle().Foreground(muted).Bold(true),

		pending:  lipgloss.NewStyle().Foreground(amber),
		errored:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:    lipgloss.NewStyle().Foreground(muted),
		roundBar: lipgloss.NewStyle().Foreground(amber).Bold(true),
		persona:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		stance:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		report:   lipgloss.NewStyle().Foreground(text),
		helpText: lipgloss.NewStyle().Foreground(muted),
	}
}
