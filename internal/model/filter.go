package model

import (
	"strings"
	"time"
)

// BlockFilter is a locally persisted block rule. Providers without a
// server-side filter API apply these rules while fetching.
type BlockFilter struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id" db:"id"`

	// Scope is "sender" or "domain".
	Scope string `json:"scope" db:"scope"`

	// Match is the lower-cased sender address or domain.
	Match string `json:"match" db:"match"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Matches reports whether the filter applies to item.
func (f BlockFilter) Matches(item NormalizedItem) bool {
	switch f.Scope {
	case "sender":
		return f.Match == item.FromAddress
	case "domain":
		return item.FromDomain == f.Match || strings.HasSuffix(item.FromDomain, "."+f.Match)
	default:
		return false
	}
}

// ActionEntry is one row of the action log.
type ActionEntry struct {
	ID        string    `json:"id" db:"id"`
	ItemID    string    `json:"item_id" db:"item_id"`
	Sender    string    `json:"sender" db:"sender"`
	Domain    string    `json:"domain" db:"domain"`
	Kind      string    `json:"kind" db:"kind"`
	Success   bool      `json:"success" db:"success"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
