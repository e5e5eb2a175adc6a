// Package tui provides an interactive terminal dashboard for respool.
// It uses BubbleTea for the application framework and talks to the running
// daemon over RPC.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/respool/lib/rpc"
)

// Tab represents a UI tab.
type Tab int

const (
	TabPools Tab = iota
	TabResources
	TabStatus
)

const tabCount Tab = 3

func (t Tab) String() string {
	switch t {
	case TabPools:
		return "Pools"
	case TabResources:
		return "Resources"
	case TabStatus:
		return "Status"
	default:
		return "Unknown"
	}
}

// Client is the subset of the RPC client the dashboard uses. Both
// *rpc.Client and *rpc.PooledClient satisfy it.
type Client interface {
	Status(ctx context.Context) (*rpc.StatusResult, error)
	PoolsList(ctx context.Context) (*rpc.PoolsListResult, error)
	PoolsResources(ctx context.Context, name string) (*rpc.PoolsResourcesResult, error)
	PoolsReap(ctx context.Context, name string) (*rpc.CleanupResult, error)
	Close() error
}

var (
	_ Client = (*rpc.Client)(nil)
	_ Client = (*rpc.PooledClient)(nil)
)

// Model is the main TUI application model.
type Model struct {
	client   Client
	interval time.Duration

	activeTab   Tab
	width       int
	height      int
	ready       bool
	err         error
	notice      string
	lastRefresh time.Time

	status *rpc.StatusResult

	spinner       spinner.Model
	poolsView     PoolsModel
	resourcesView ResourcesModel
	statusView    StatusModel
}

// Config holds TUI configuration.
type Config struct {
	// RPCSocketPath is the path to the RPC Unix socket.
	RPCSocketPath string
	// RPCAddress is the RPC TCP address, used when RPCSocketPath is empty.
	RPCAddress string
	// RPCAuthFile is the path to the RPC auth token file.
	RPCAuthFile string
	// RefreshInterval is how often to refresh data.
	// Default: 2 seconds
	RefreshInterval time.Duration
}

// New connects to the daemon and creates the dashboard model.
func New(cfg Config) (*Model, error) {
	client, err := rpc.NewClient(rpc.ClientConfig{
		UnixSocketPath: cfg.RPCSocketPath,
		TCPAddress:     cfg.RPCAddress,
		AuthFile:       cfg.RPCAuthFile,
		Timeout:        10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC: %w", err)
	}
	return NewWithClient(client, cfg.RefreshInterval), nil
}

// NewWithClient creates the dashboard model over an existing client.
func NewWithClient(client Client, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = fg(colorAccent)

	return &Model{
		client:        client,
		interval:      interval,
		activeTab:     TabPools,
		spinner:       s,
		poolsView:     NewPoolsModel(),
		resourcesView: NewResourcesModel(),
		statusView:    NewStatusModel(),
	}
}

// Init initializes the TUI model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.refreshData,
		tea.SetWindowTitle("respool"),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height, m.ready = msg.Width, msg.Height, true
		body := m.height - 4
		m.poolsView.SetDimensions(m.width, body)
		m.resourcesView.SetDimensions(m.width, body)
		m.statusView.SetDimensions(m.width, body)
		return m, nil

	case refreshMsg:
		m.err = msg.err
		m.lastRefresh = time.Now()
		next := tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
		if msg.err != nil {
			return m, next
		}
		m.status = msg.status
		m.statusView.SetData(msg.status)
		m.poolsView.SetData(msg.pools)
		if name := m.resourcesView.Pool(); name != "" {
			return m, tea.Batch(m.fetchResources(name), next)
		}
		return m, next

	case resourcesMsg:
		if m.err = msg.err; msg.err == nil {
			m.resourcesView.SetData(msg.result)
		}
		return m, nil

	case reapedMsg:
		if m.err = msg.err; msg.err != nil {
			return m, nil
		}
		m.notice = fmt.Sprintf("reaped %s: %d destroyed", msg.result.Name, msg.result.Destroyed)
		if n := len(msg.result.Errors); n > 0 {
			m.notice += fmt.Sprintf(", %d cleanup errors", n)
		}
		return m, m.refreshData

	case tickMsg:
		return m, m.refreshData

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// tabKeys maps the direct tab bindings to their tabs.
var tabKeys = []struct {
	binding *key.Binding
	tab     Tab
}{
	{&keys.Pools, TabPools},
	{&keys.Resources, TabResources},
	{&keys.Status, TabStatus},
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Refresh):
		return m, m.refreshData
	case key.Matches(msg, keys.Tab):
		m.activeTab = (m.activeTab + 1) % tabCount
		return m, nil
	case key.Matches(msg, keys.ShiftTab):
		m.activeTab = (m.activeTab + tabCount - 1) % tabCount
		return m, nil
	}
	for _, tk := range tabKeys {
		if key.Matches(msg, *tk.binding) {
			m.activeTab = tk.tab
			return m, nil
		}
	}

	switch m.activeTab {
	case TabPools:
		name := m.poolsView.Selected()
		switch {
		case key.Matches(msg, keys.Enter) && name != "":
			m.activeTab = TabResources
			m.resourcesView.SetPool(name)
			return m, m.fetchResources(name)
		case key.Matches(msg, keys.Reap) && name != "":
			return m, m.reap(name)
		}
		m.poolsView = m.poolsView.Update(msg)
	case TabResources:
		m.resourcesView = m.resourcesView.Update(msg)
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return fmt.Sprintf("%s Loading...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.activeTab {
	case TabPools:
		b.WriteString(m.poolsView.View())
	case TabResources:
		b.WriteString(m.resourcesView.View())
	case TabStatus:
		b.WriteString(m.statusView.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	var rendered []string
	for tab := range tabCount {
		style := styles.TabInactive
		if tab == m.activeTab {
			style = styles.TabActive
		}
		rendered = append(rendered, style.Render(tab.String()))
	}

	title := styles.Title.Render("respool")
	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", tabBar)
}

func (m Model) renderFooter() string {
	help := helpLine(keys.shortHelp(m.activeTab))

	var info string
	switch {
	case m.err != nil:
		info = styles.Error.Render(m.err.Error())
	case m.notice != "":
		info = styles.Success.Render(m.notice)
	case m.status != nil:
		info = fmt.Sprintf("Pools: %d | In use: %d | %s", m.status.Pools, m.status.InUse, m.status.Uptime)
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		styles.HelpText.Render(help),
		strings.Repeat(" ", max(0, m.width-lipgloss.Width(help)-lipgloss.Width(info)-2)),
		styles.StatusText.Render(info),
	)
}

// refreshData fetches the status and pool list.
func (m Model) refreshData() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := m.client.Status(ctx)
	if err != nil {
		return refreshMsg{err: err}
	}
	pools, err := m.client.PoolsList(ctx)
	return refreshMsg{status: status, pools: pools, err: err}
}

// call runs fn with a timeout as a tea.Cmd.
func call(timeout time.Duration, fn func(ctx context.Context) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	}
}

func (m Model) fetchResources(name string) tea.Cmd {
	return call(5*time.Second, func(ctx context.Context) tea.Msg {
		result, err := m.client.PoolsResources(ctx, name)
		return resourcesMsg{result: result, err: err}
	})
}

func (m Model) reap(name string) tea.Cmd {
	return call(10*time.Second, func(ctx context.Context) tea.Msg {
		result, err := m.client.PoolsReap(ctx, name)
		return reapedMsg{result: result, err: err}
	})
}

// Close cleans up resources.
func (m *Model) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
