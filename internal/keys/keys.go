package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the triage screen.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Actions on the selected item
	Delete      key.Binding
	Unsubscribe key.Binding
	Block       key.Binding
	Keep        key.Binding
	DomainNuke  key.Binding

	Undo key.Binding

	// Manual refresh
	Refresh key.Binding

	// Help toggle
	Help key.Binding

	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings. k is taken by
// Keep, so Up is bound to arrows only.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "up"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Unsubscribe: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "unsubscribe"),
		),
		Block: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "block sender"),
		),
		Keep: key.NewBinding(
			key.WithKeys("k"),
			key.WithHelp("k", "keep"),
		),
		DomainNuke: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "nuke domain"),
		),
		Undo: key.NewBinding(
			key.WithKeys("z"),
			key.WithHelp("z", "undo"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Delete, k.Unsubscribe, k.Block, k.Keep,
		k.Undo, k.Help, k.Quit,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.Delete, k.Unsubscribe, k.Block, k.Keep, k.DomainNuke},
		{k.Undo, k.Help, k.Quit},
	}
}
