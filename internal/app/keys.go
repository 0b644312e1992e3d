package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/inbox-sweep/internal/action"
	"github.com/nhle/inbox-sweep/internal/keys"
)

// KeyMap is re-exported from the keys package.
type KeyMap = keys.KeyMap

// DefaultKeyMap delegates to keys.DefaultKeyMap.
func DefaultKeyMap() *KeyMap {
	return keys.DefaultKeyMap()
}

// actionFor maps a key press to the action kind it triggers.
func actionFor(k *KeyMap, msg tea.KeyMsg) (action.Kind, bool) {
	switch {
	case key.Matches(msg, k.Delete):
		return action.KindDelete, true
	case key.Matches(msg, k.Unsubscribe):
		return action.KindUnsubscribe, true
	case key.Matches(msg, k.Block):
		return action.KindBlock, true
	case key.Matches(msg, k.Keep):
		return action.KindKeep, true
	case key.Matches(msg, k.DomainNuke):
		return action.KindDomainNuke, true
	}
	return "", false
}
