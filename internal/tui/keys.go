package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap lists the bindings of the process view.
type KeyMap struct {
	Quit      key.Binding
	Refresh   key.Binding
	Start     key.Binding
	Sort      key.Binding
	Filter    key.Binding
	Kill      key.Binding
	ForceKill key.Binding
	Confirm   key.Binding
	Cancel    key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Start:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start daemon")),
		Sort:      key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "sort")),
		Filter:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		Kill:      key.NewBinding(key.WithKeys("k"), key.WithHelp("k", "terminate")),
		ForceKill: key.NewBinding(key.WithKeys("K"), key.WithHelp("K", "kill")),
		Confirm:   key.NewBinding(key.WithKeys("enter", "y")),
		Cancel:    key.NewBinding(key.WithKeys("esc", "n")),
	}
}
