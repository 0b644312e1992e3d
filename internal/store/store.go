package store

import (
	"context"

	"github.com/nhle/inbox-sweep/internal/model"
)

// Store defines the persistence interface for sender statistics, local
// block filters and the action log.
type Store interface {
	// === Sender statistics ===

	// RecordSeen counts one sighting per item for its sender.
	RecordSeen(ctx context.Context, items []model.NormalizedItem) error

	// RecordAction logs an executed action and updates the sender's
	// disposal or keep counters when it succeeded.
	RecordAction(ctx context.Context, item model.NormalizedItem, kind string, success bool) error

	// SenderStats returns scores for the known senders among addresses.
	// Unknown senders are absent from the map.
	SenderStats(ctx context.Context, addresses []string) (map[string]model.SenderStats, error)

	// === Block filters ===

	CreateFilter(ctx context.Context, f model.BlockFilter) (model.BlockFilter, error)
	DeleteFilter(ctx context.Context, id string) error
	ActiveFilters(ctx context.Context) ([]model.BlockFilter, error)

	// === Action log ===

	RecentActions(ctx context.Context, limit int) ([]model.ActionEntry, error)
}
