package tui

import "charm.land/bubbles/v2/key"

// keyMap represents key map data used by this package.
type keyMap struct {
	quit       key.Binding
	reload     key.Binding
	toggleHelp key.Binding
	moveUp     key.Binding
	moveDown   key.Binding
	detail     key.Binding
	approve    key.Binding
	loadDemo   key.Binding
	copyID     key.Binding
	connect    key.Binding
	disconnect key.Binding
}

// newKeyMap constructs key map.
func newKeyMap() keyMap {
	return keyMap{
		quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:     key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "request up")),
		moveDown:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "request down")),
		detail:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
		approve:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
		loadDemo:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "load demo")),
		copyID:     key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy id")),
		connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect wallet")),
		disconnect: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "disconnect")),
	}
}

// ShortHelp handles short help.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.moveDown, k.detail, k.approve, k.loadDemo, k.copyID, k.toggleHelp, k.quit,
	}
}

// FullHelp handles full help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.detail, k.reload},
		{k.approve, k.copyID, k.loadDemo},
		{k.connect, k.disconnect, k.toggleHelp, k.quit},
	}
}
