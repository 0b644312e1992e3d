package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/tests/testutil"
)

func sender(id, addr, domain string) model.NormalizedItem {
	return model.NormalizedItem{ID: id, FromAddress: addr, FromDomain: domain}
}

func TestSenderStatsFrequency(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	var batch []model.NormalizedItem
	for i := 0; i < 5; i++ {
		batch = append(batch, sender("n", "news@shop.example", "shop.example"))
	}
	batch = append(batch, sender("o", "once@other.example", "other.example"))
	require.NoError(t, s.RecordSeen(ctx, batch))

	stats, err := s.SenderStats(ctx, []string{"news@shop.example", "once@other.example", "nobody@x.example"})
	require.NoError(t, err)

	assert.InDelta(t, 0.25, stats["news@shop.example"].FrequencyScore, 1e-9)
	assert.InDelta(t, 0.05, stats["once@other.example"].FrequencyScore, 1e-9)
	assert.InDelta(t, 0.5, stats["news@shop.example"].ReputationScore, 1e-9)
	_, ok := stats["nobody@x.example"]
	assert.False(t, ok, "unknown senders are absent")
}

func TestSenderStatsFrequencySaturates(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	testutil.SeeSender(t, s, "daily@shop.example", 30)

	stats, err := s.SenderStats(ctx, []string{"daily@shop.example"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats["daily@shop.example"].FrequencyScore)
}

func TestRecordActionMovesReputation(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	spam := sender("a", "deals@shop.example", "shop.example")
	friend := sender("b", "ann@friends.example", "friends.example")

	for _, kind := range []string{"delete", "unsubscribe", "block"} {
		require.NoError(t, s.RecordAction(ctx, spam, kind, true))
	}
	// Failed actions are logged but do not count.
	require.NoError(t, s.RecordAction(ctx, spam, "delete", false))
	require.NoError(t, s.RecordAction(ctx, friend, "keep", true))

	stats, err := s.SenderStats(ctx, []string{spam.FromAddress, friend.FromAddress})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, stats[spam.FromAddress].ReputationScore, 1e-9)
	assert.InDelta(t, 0.4, stats[friend.FromAddress].ReputationScore, 1e-9)
	assert.Zero(t, stats[spam.FromAddress].FrequencyScore)
}

func TestReputationClamped(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	item := sender("k", "boss@work.example", "work.example")
	for i := 0; i < 8; i++ {
		require.NoError(t, s.RecordAction(ctx, item, "keep", true))
	}

	stats, err := s.SenderStats(ctx, []string{item.FromAddress})
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats[item.FromAddress].ReputationScore)
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	f, err := s.CreateFilter(ctx, model.BlockFilter{Scope: "domain", Match: " Shop.Example "})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "shop.example", f.Match)

	again, err := s.CreateFilter(ctx, model.BlockFilter{Scope: "domain", Match: "shop.example"})
	require.NoError(t, err)
	assert.Equal(t, f.ID, again.ID, "duplicate filter returns the existing row")

	_, err = s.CreateFilter(ctx, model.BlockFilter{Scope: "sender", Match: "a@b.example"})
	require.NoError(t, err)

	_, err = s.CreateFilter(ctx, model.BlockFilter{Scope: "sender", Match: "  "})
	assert.Error(t, err)

	active, err := s.ActiveFilters(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, s.DeleteFilter(ctx, f.ID))
	assert.Error(t, s.DeleteFilter(ctx, f.ID))

	active, err = s.ActiveFilters(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sender", active[0].Scope)
}

func TestActiveFiltersApplyToItems(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	testutil.SeedFilters(t, s, "domain", "shop.example")
	testutil.SeedFilters(t, s, "sender", "spam@blog.example")

	filters, err := s.ActiveFilters(ctx)
	require.NoError(t, err)
	require.Len(t, filters, 2)

	blocked := func(it model.NormalizedItem) bool {
		for _, f := range filters {
			if f.Matches(it) {
				return true
			}
		}
		return false
	}
	assert.True(t, blocked(testutil.Item("1", "news@mail.shop.example")))
	assert.True(t, blocked(testutil.Item("2", "spam@blog.example")))
	assert.False(t, blocked(testutil.Item("3", "author@blog.example")))
}

func TestFilterMatches(t *testing.T) {
	domain := model.BlockFilter{Scope: "domain", Match: "shop.example"}
	assert.True(t, domain.Matches(sender("1", "a@shop.example", "shop.example")))
	assert.True(t, domain.Matches(sender("2", "a@mail.shop.example", "mail.shop.example")))
	assert.False(t, domain.Matches(sender("3", "a@myshop.example", "myshop.example")))

	addr := model.BlockFilter{Scope: "sender", Match: "a@shop.example"}
	assert.True(t, addr.Matches(sender("4", "a@shop.example", "shop.example")))
	assert.False(t, addr.Matches(sender("5", "b@shop.example", "shop.example")))
}

func TestRecentActions(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	item := sender("m1", "news@shop.example", "shop.example")
	require.NoError(t, s.RecordAction(ctx, item, "delete", true))
	require.NoError(t, s.RecordAction(ctx, item, "unsubscribe", false))
	require.NoError(t, s.RecordAction(ctx, item, "keep", true))

	entries, err := s.RecentActions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "keep", entries[0].Kind)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "unsubscribe", entries[1].Kind)
	assert.False(t, entries[1].Success)
	assert.Equal(t, "m1", entries[1].ItemID)
}
