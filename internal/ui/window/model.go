// Package window renders the active triage window as a navigable list.
package window

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-sweep/internal/keys"
	"github.com/nhle/inbox-sweep/internal/theme"
)

// Model is the window list view component.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	width  int
	height int

	// fetching is shown in the empty state while a refill is running.
	fetching bool
}

// New creates a new window list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Inbox"
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	// The triage keys own most letters; navigation stays on j and arrows.
	l.KeyMap.CursorUp = k.Up
	l.KeyMap.CursorDown = k.Down
	l.KeyMap.NextPage = key.NewBinding(key.WithKeys("pgdown"))
	l.KeyMap.PrevPage = key.NewBinding(key.WithKeys("pgup"))
	l.KeyMap.Quit.SetEnabled(false)
	l.KeyMap.ForceQuit.SetEnabled(false)
	l.KeyMap.ShowFullHelp.SetEnabled(false)
	l.KeyMap.CloseFullHelp.SetEnabled(false)

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Update handles navigation messages for the window list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// SetEntries replaces the listed entries. The cursor stays on the
// previously selected message when it is still present and otherwise keeps
// its position.
func (m *Model) SetEntries(entries []Entry) tea.Cmd {
	prevID := ""
	if e, ok := m.Selected(); ok {
		prevID = e.ID()
	}
	prevIndex := m.list.Index()

	items := make([]list.Item, len(entries))
	target := -1
	for i, e := range entries {
		items[i] = e
		if target < 0 && prevID != "" && containsID(e, prevID) {
			target = i
		}
	}
	cmd := m.list.SetItems(items)

	if target < 0 {
		target = prevIndex
	}
	if target >= len(items) {
		target = len(items) - 1
	}
	if target >= 0 {
		m.list.Select(target)
	}
	return cmd
}

// containsID reports whether id is the representative or a member of e.
func containsID(e Entry, id string) bool {
	for _, member := range e.Item.IDs {
		if member == id {
			return true
		}
	}
	return e.ID() == id
}

// Selected returns the entry under the cursor.
func (m Model) Selected() (Entry, bool) {
	e, ok := m.list.SelectedItem().(Entry)
	return e, ok
}

// Len returns the number of listed entries.
func (m Model) Len() int {
	return len(m.list.Items())
}

// SetFetching toggles the loading hint shown when the list is empty.
func (m *Model) SetFetching(fetching bool) {
	m.fetching = fetching
}

// View renders the window list.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

// renderEmptyState shows guidance text when the window is empty.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.fetching {
		return style.Render("Fetching mail...")
	}
	return style.Render("Inbox swept.\n\nPress r to check for new mail.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
