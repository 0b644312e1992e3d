// Package testutil holds fixtures shared by store-backed tests.
package testutil

import (
	"context"
	"testing"

	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/store"
)

// NewTestStore returns an in-memory SQLiteStore with every migration
// applied. It is closed when the test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Item builds a minimal normalized item from address.
func Item(id, address string) model.NormalizedItem {
	return model.NormalizedItem{
		ID:          id,
		ProviderID:  id,
		FromAddress: address,
		FromDomain:  model.DomainOf(address),
	}
}

// SeeSender records n separate sightings of address, one batch each.
func SeeSender(t *testing.T, s store.Store, address string, n int) {
	t.Helper()

	item := Item("seen-"+address, address)
	for i := 0; i < n; i++ {
		if err := s.RecordSeen(context.Background(), []model.NormalizedItem{item}); err != nil {
			t.Fatalf("recording sighting of %s: %v", address, err)
		}
	}
}

// SeedFilters stores a block rule per entry of matches, keyed by scope
// ("sender" or "domain"), and returns the stored rules.
func SeedFilters(t *testing.T, s store.Store, scope string, matches ...string) []model.BlockFilter {
	t.Helper()

	out := make([]model.BlockFilter, 0, len(matches))
	for _, m := range matches {
		f, err := s.CreateFilter(context.Background(), model.BlockFilter{Scope: scope, Match: m})
		if err != nil {
			t.Fatalf("creating %s filter %q: %v", scope, m, err)
		}
		out = append(out, f)
	}
	return out
}
