package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette of 256-colour codes used by the dashboard.
const (
	colorAccent = lipgloss.Color("205")
	colorText   = lipgloss.Color("252")
	colorBright = lipgloss.Color("255")
	colorDim    = lipgloss.Color("241")
	colorBorder = lipgloss.Color("240")
	colorHilite = lipgloss.Color("236")
	colorOK     = lipgloss.Color("82")
	colorWarn   = lipgloss.Color("214")
	colorBad    = lipgloss.Color("196")
)

type styleSet struct {
	Title       lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style
	HelpText    lipgloss.Style
	StatusText  lipgloss.Style
	Error       lipgloss.Style
	Success     lipgloss.Style
	Warning     lipgloss.Style
	TableHeader lipgloss.Style
	TableRow    lipgloss.Style
	Selected    lipgloss.Style
	Muted       lipgloss.Style
	Bold        lipgloss.Style
	Box         lipgloss.Style
	BoxTitle    lipgloss.Style
}

var styles = newStyleSet()

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func newStyleSet() styleSet {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder)

	return styleSet{
		Title:       fg(colorAccent).Bold(true).Padding(0, 1),
		TabActive:   fg(colorAccent).Bold(true).Background(colorHilite).Padding(0, 2),
		TabInactive: fg(colorText).Padding(0, 2),
		HelpText:    fg(colorDim),
		StatusText:  fg(colorDim).Italic(true),
		Error:       fg(colorBad).Bold(true),
		Success:     fg(colorOK),
		Warning:     fg(colorWarn),
		TableHeader: fg(colorText).Bold(true).Underline(true),
		TableRow:    fg(colorText),
		Selected:    fg(colorBright).Bold(true).Background(colorHilite),
		Muted:       fg(colorDim),
		Bold:        lipgloss.NewStyle().Bold(true),
		Box:         box.Padding(1, 2).Width(60),
		BoxTitle:    fg(colorAccent).Bold(true),
	}
}

// PoolStateStyle returns the style for a pool lifecycle state.
func PoolStateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return styles.Success
	case "idle", "closing":
		return styles.Warning
	case "closed":
		return styles.Error
	default:
		return styles.Muted
	}
}

// usageStyle colours a utilisation ratio.
func usageStyle(ratio float64) lipgloss.Style {
	switch {
	case ratio >= 0.9:
		return styles.Error
	case ratio >= 0.7:
		return styles.Warning
	default:
		return styles.Success
	}
}
