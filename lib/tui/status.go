package tui

import (
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/respool/lib/rpc"
)

// StatusModel is the model for the status view.
type StatusModel struct {
	status *rpc.StatusResult
	width  int
	height int
}

// NewStatusModel creates a new status view model.
func NewStatusModel() StatusModel {
	return StatusModel{}
}

// SetData updates the status data.
func (m *StatusModel) SetData(status *rpc.StatusResult) {
	m.status = status
}

// SetDimensions sets the view dimensions.
func (m *StatusModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// View renders the status view.
func (m StatusModel) View() string {
	st := m.status
	if st == nil {
		return styles.Muted.Render("Loading status...")
	}

	waiters := styles.Muted
	if st.Waiters > 0 {
		waiters = styles.Warning
	}

	daemon := panel("Daemon",
		[2]string{"Version", st.Version},
		[2]string{"Started", st.StartedAt.Local().Format(time.DateTime)},
		[2]string{"Uptime", st.Uptime},
	)
	totals := panel("Resources",
		[2]string{"Pools", strconv.Itoa(st.Pools)},
		[2]string{"Live", strconv.Itoa(st.Resources)},
		[2]string{"In use", strconv.Itoa(st.InUse)},
		[2]string{"Waiters", waiters.Render(strconv.Itoa(st.Waiters))},
	)
	return daemon + "\n\n" + totals
}

// panel renders a titled box of label/value rows.
func panel(title string, rows ...[2]string) string {
	lines := []string{styles.BoxTitle.Render(title), ""}
	for _, r := range rows {
		lines = append(lines, styles.Muted.Width(15).Render(r[0]+":")+" "+r[1])
	}
	return styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
