package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/rpc"
)

// ResourcesModel lists the resources of one pool.
type ResourcesModel struct {
	pool      string
	resources []pool.ResourceInfo
	cursor    int
	width     int
	height    int
	now       func() time.Time
}

// NewResourcesModel creates a new resources view model.
func NewResourcesModel() ResourcesModel {
	return ResourcesModel{now: time.Now}
}

// SetPool selects the pool to show and clears stale rows.
func (m *ResourcesModel) SetPool(name string) {
	if name != m.pool {
		m.resources = nil
		m.cursor = 0
	}
	m.pool = name
}

// Pool returns the selected pool name.
func (m ResourcesModel) Pool() string {
	return m.pool
}

// SetData updates the rows if they belong to the selected pool.
func (m *ResourcesModel) SetData(result *rpc.PoolsResourcesResult) {
	if result == nil || result.Name != m.pool {
		return
	}
	m.resources = result.Resources
	if m.cursor >= len(m.resources) {
		m.cursor = max(0, len(m.resources)-1)
	}
}

// SetDimensions sets the view dimensions.
func (m *ResourcesModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// Update handles navigation keys.
func (m ResourcesModel) Update(msg tea.KeyMsg) ResourcesModel {
	switch {
	case key.Matches(msg, keys.Up):
		m.cursor = moveCursor(m.cursor, len(m.resources), true)
	case key.Matches(msg, keys.Down):
		m.cursor = moveCursor(m.cursor, len(m.resources), false)
	}
	return m
}

// View renders the resources view.
func (m ResourcesModel) View() string {
	if m.pool == "" {
		return renderEmptyState(m.width, m.height, "No Pool Selected",
			"Select a pool on the Pools tab.", []string{"Press 1, then enter"})
	}
	if len(m.resources) == 0 {
		return renderEmptyState(m.width, m.height, "No Resources",
			fmt.Sprintf("Pool %q holds no live resources.", m.pool), nil)
	}

	now := m.now()
	var b strings.Builder
	b.WriteString(styles.BoxTitle.Render("Pool " + m.pool))
	b.WriteString("\n\n")

	header := fmt.Sprintf("%-36s %-6s %8s %10s %10s", "ID", "STATE", "USES", "AGE", "IDLE")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	for i, r := range m.resources {
		state, idle := "idle", now.Sub(r.LastUsed).Round(time.Second).String()
		if r.InUse {
			state, idle = "in use", "-"
		}
		row := fmt.Sprintf("%-36s %-6s %8d %10s %10s",
			r.ID,
			state,
			r.Uses,
			now.Sub(r.CreatedAt).Round(time.Second),
			idle,
		)
		if i == m.cursor {
			row = styles.Selected.Render(row)
		} else {
			row = styles.TableRow.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}
