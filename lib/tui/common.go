package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderEmptyState centres a boxed title and hint lines in the content area.
func renderEmptyState(width, height int, title, subtitle string, helpText []string) string {
	box := styles.Box.Padding(2, 4).Width(50)

	lines := []string{
		styles.Bold.Render(title),
		"",
	}

	if subtitle != "" {
		lines = append(lines, styles.Muted.Render(subtitle))
	}

	if len(helpText) > 0 {
		lines = append(lines, "")
		for _, help := range helpText {
			lines = append(lines, styles.HelpText.Render(help))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Center, lines...)
	return lipgloss.Place(width, max(0, height-2), lipgloss.Center, lipgloss.Center, box.Render(content))
}

// truncate shortens a string to max length with ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// usageBar draws used/total as a fixed-width bar.
func usageBar(used, total, width int) string {
	if width <= 0 {
		return ""
	}
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(width, used*width/total)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// moveCursor applies up/down navigation over n rows.
func moveCursor(cursor, n int, up bool) int {
	if up {
		return max(0, cursor-1)
	}
	return max(0, min(n-1, cursor+1))
}
