package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-i2p/respool/lib/rpc"
)

const barWidth = 20

// PoolsModel is the pool table.
type PoolsModel struct {
	pools  *rpc.PoolsListResult
	cursor int
	width  int
	height int
}

// NewPoolsModel creates a new pools view model.
func NewPoolsModel() PoolsModel {
	return PoolsModel{}
}

// SetData replaces the pool list, keeping the cursor in range.
func (m *PoolsModel) SetData(pools *rpc.PoolsListResult) {
	m.pools = pools
	if m.pools != nil && m.cursor >= len(m.pools.Pools) {
		m.cursor = max(0, len(m.pools.Pools)-1)
	}
}

// SetDimensions sets the view dimensions.
func (m *PoolsModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// Update handles navigation keys.
func (m PoolsModel) Update(msg tea.KeyMsg) PoolsModel {
	if m.pools == nil {
		return m
	}
	switch {
	case key.Matches(msg, keys.Up):
		m.cursor = moveCursor(m.cursor, len(m.pools.Pools), true)
	case key.Matches(msg, keys.Down):
		m.cursor = moveCursor(m.cursor, len(m.pools.Pools), false)
	}
	return m
}

// Selected returns the name of the highlighted pool, or "".
func (m PoolsModel) Selected() string {
	if m.pools == nil || m.cursor < 0 || m.cursor >= len(m.pools.Pools) {
		return ""
	}
	return m.pools.Pools[m.cursor].Name
}

// View renders the pools view.
func (m PoolsModel) View() string {
	if m.pools == nil {
		return styles.Muted.Render("Loading pools...")
	}
	if len(m.pools.Pools) == 0 {
		return renderEmptyState(m.width, m.height, "No Pools Registered",
			"Add [[pools]] entries to the daemon config.", nil)
	}

	var b strings.Builder
	header := fmt.Sprintf("%-20s %-9s %9s %5s %5s %-*s", "NAME", "STATE", "MIN/MAX", "IDLE", "USED", barWidth, "UTILISATION")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	for i, p := range m.pools.Pools {
		ratio := 0.0
		if p.MaxSize > 0 {
			ratio = float64(p.ActiveSize) / float64(p.MaxSize)
		}
		row := fmt.Sprintf("%-20s %s %9s %5d %5d %s",
			truncate(p.Name, 20),
			PoolStateStyle(p.State).Render(fmt.Sprintf("%-9s", p.State)),
			fmt.Sprintf("%d/%d", p.MinSize, p.MaxSize),
			p.IdleSize,
			p.ActiveSize,
			usageStyle(ratio).Render(usageBar(p.ActiveSize, p.MaxSize, barWidth)),
		)

		if i == m.cursor {
			row = styles.Selected.Render(row)
		} else {
			row = styles.TableRow.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(styles.Muted.Render(fmt.Sprintf("Total: %d pools", m.pools.Total)))
	return b.String()
}
