package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keybindings for the TUI.
type KeyMap struct {
	Quit      key.Binding
	Tab       key.Binding
	ShiftTab  key.Binding
	Refresh   key.Binding
	Up        key.Binding
	Down      key.Binding
	Enter     key.Binding
	Pools     key.Binding
	Resources key.Binding
	Status    key.Binding
	Reap      key.Binding
}

func bind(help, desc string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
}

var keys = KeyMap{
	Quit:      bind("q", "quit", "q", "ctrl+c"),
	Tab:       bind("tab", "switch", "tab"),
	ShiftTab:  bind("shift+tab", "back", "shift+tab"),
	Refresh:   bind("r", "refresh", "r"),
	Up:        bind("↑/k", "up", "up", "k"),
	Down:      bind("↓/j", "down", "down", "j"),
	Enter:     bind("enter", "resources", "enter"),
	Pools:     bind("1", "pools", "1"),
	Resources: bind("2", "resources", "2"),
	Status:    bind("3", "status", "3"),
	Reap:      bind("x", "reap", "x"),
}

// shortHelp lists the bindings that apply on tab.
func (k KeyMap) shortHelp(tab Tab) []key.Binding {
	var out []key.Binding
	switch tab {
	case TabPools:
		out = append(out, k.Down, k.Enter, k.Reap)
	case TabResources:
		out = append(out, k.Down)
	}
	return append(out, k.Tab, k.Refresh, k.Quit)
}

// helpLine renders bindings as "key desc • key desc".
func helpLine(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
