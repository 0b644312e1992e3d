package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sweep/internal/model"
)

func mkItems(domain string, n int, offset int) []model.NormalizedItem {
	out := make([]model.NormalizedItem, n)
	for i := range out {
		id := fmt.Sprintf("%s-%d", domain, offset+i)
		out[i] = model.NormalizedItem{
			ID:          id,
			ProviderID:  id,
			FromAddress: "news@" + domain,
			FromDomain:  domain,
			Subject:     id,
		}
	}
	return out
}

func concat(parts ...[]model.NormalizedItem) []model.NormalizedItem {
	var out []model.NormalizedItem
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// checkInvariant verifies the window is a grouped projection of the queue
// head and never exceeds the window size.
func checkInvariant(t *testing.T, b *Buffer) {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	head := b.queue
	if len(head) > b.cfg.WindowSize {
		head = head[:b.cfg.WindowSize]
	}
	inHead := make(map[string]bool, len(head))
	for _, it := range head {
		inHead[it.ID] = true
	}

	assert.LessOrEqual(t, len(b.window), b.cfg.WindowSize)
	seen := make(map[string]bool)
	total := 0
	for _, w := range b.window {
		require.Len(t, w.IDs, w.Count)
		for _, id := range w.IDs {
			assert.True(t, inHead[id], "window id %s not in queue head", id)
			assert.False(t, seen[id], "id %s appears twice in window", id)
			seen[id] = true
		}
		total += w.Count
	}
	assert.Equal(t, len(head), total)
}

func TestGroupingThreshold(t *testing.T) {
	items := concat(mkItems("a.example", 3, 0), mkItems("b.example", 4, 0), mkItems("a.example", 2, 3))
	b := New(items, nil, Config{WindowSize: 30, TriggerThreshold: 0, BatchSize: 10, GroupThreshold: 5})

	w := b.Window()
	require.Len(t, w, 5)

	assert.True(t, w[0].IsGroup())
	assert.Equal(t, 5, w[0].Count)
	assert.Equal(t, "a.example-0", w[0].Item.ID)
	assert.Equal(t, []string{"a.example-0", "a.example-1", "a.example-2", "a.example-3", "a.example-4"}, w[0].IDs)

	for i, it := range w[1:] {
		assert.False(t, it.IsGroup())
		assert.Equal(t, "b.example", it.Domain())
		assert.Equal(t, fmt.Sprintf("b.example-%d", i), it.Item.ID)
	}
	checkInvariant(t, b)
}

func TestGroupingOnlyCountsWindowSlice(t *testing.T) {
	items := mkItems("promo.example.com", 12, 0)

	b := New(items, nil, Config{WindowSize: 10, TriggerThreshold: 0, GroupThreshold: 5})
	w := b.Window()
	require.Len(t, w, 1)
	assert.Equal(t, 10, w[0].Count)
	assert.Equal(t, 12, b.Pending())

	b = New(items, nil, Config{WindowSize: 30, TriggerThreshold: 0, GroupThreshold: 5})
	w = b.Window()
	require.Len(t, w, 1)
	assert.Equal(t, 12, w[0].Count)
}

func TestGroupOrderFollowsFirstEncounter(t *testing.T) {
	items := concat(
		mkItems("solo.example", 1, 0),
		mkItems("bulk.example", 6, 0),
		mkItems("other.example", 1, 0),
	)
	b := New(items, nil, Config{WindowSize: 30, TriggerThreshold: 0, GroupThreshold: 5})

	var got []string
	for _, it := range b.Window() {
		got = append(got, fmt.Sprintf("%s:%d", it.Domain(), it.Count))
	}
	assert.Equal(t, []string{"solo.example:1", "bulk.example:6", "other.example:1"}, got)
}

func TestConsumeAddAndNukeKeepInvariant(t *testing.T) {
	ctx := context.Background()
	items := concat(mkItems("a.example", 6, 0), mkItems("b.example", 3, 0), mkItems("c.example", 8, 0))
	b := New(items, nil, Config{WindowSize: 10, TriggerThreshold: 2, BatchSize: 5, GroupThreshold: 5})
	checkInvariant(t, b)

	b.ConsumeOne(ctx, "a.example-0")
	checkInvariant(t, b)
	assert.Equal(t, 16, b.Pending())

	b.ConsumeMany(ctx, []string{"b.example-0", "b.example-1", "missing"})
	checkInvariant(t, b)
	assert.Equal(t, 14, b.Pending())

	b.AddItem(items[0])
	checkInvariant(t, b)
	head, ok := b.Head()
	require.True(t, ok)
	assert.Equal(t, "a.example", head.Domain())
	assert.Contains(t, head.IDs, "a.example-0")

	b.AddItem(items[0])
	assert.Equal(t, 15, b.Pending(), "re-adding an id must not duplicate it")

	removed := b.NukeDomain("a.example")
	assert.Equal(t, 6, removed)
	checkInvariant(t, b)
	for _, it := range b.Window() {
		assert.NotEqual(t, "a.example", it.Domain())
	}
}

func TestRefillAppendsAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	initial := mkItems("a.example", 3, 0)

	var calls atomic.Int32
	refill := func(_ context.Context, n int) ([]model.NormalizedItem, error) {
		calls.Add(1)
		assert.Equal(t, 7, n)
		return concat(initial[1:], mkItems("b.example", 2, 0)), nil
	}

	b := New(initial, refill, Config{WindowSize: 10, TriggerThreshold: 2, BatchSize: 7, GroupThreshold: 5})
	b.ConsumeOne(ctx, "a.example-0")

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 4, b.Pending())
	assert.False(t, b.Fetching())

	var ids []string
	for _, it := range b.Window() {
		ids = append(ids, it.Item.ID)
	}
	assert.Equal(t, []string{"a.example-1", "a.example-2", "b.example-0", "b.example-1"}, ids)
}

func TestRefillFailureClearsFlag(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	refill := func(context.Context, int) ([]model.NormalizedItem, error) {
		calls.Add(1)
		return nil, errors.New("provider unavailable")
	}

	b := New(mkItems("a.example", 2, 0), refill, Config{WindowSize: 10, TriggerThreshold: 3, GroupThreshold: 5})
	b.ConsumeOne(ctx, "a.example-0")

	assert.False(t, b.Fetching())
	assert.Equal(t, 1, b.Pending())

	b.ConsumeOne(ctx, "a.example-1")
	assert.EqualValues(t, 2, calls.Load(), "next low-water crossing retries")
	assert.False(t, b.Fetching())
}

func TestRefillPanicClearsFlag(t *testing.T) {
	refill := func(context.Context, int) ([]model.NormalizedItem, error) {
		panic("boom")
	}
	b := New(mkItems("a.example", 2, 0), refill, Config{WindowSize: 10, TriggerThreshold: 3, GroupThreshold: 5})

	assert.NotPanics(t, func() { b.ConsumeOne(context.Background(), "a.example-0") })
	assert.False(t, b.Fetching())
}

func TestRefillSingleFlight(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	var calls atomic.Int32
	refill := func(context.Context, int) ([]model.NormalizedItem, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return mkItems("fresh.example", 4, 0), nil
	}

	items := concat(mkItems("a.example", 1, 0), mkItems("b.example", 1, 0), mkItems("c.example", 1, 0))
	b := New(items, refill, Config{WindowSize: 10, TriggerThreshold: 2, BatchSize: 20, GroupThreshold: 5})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.ConsumeOne(ctx, "a.example-0")
	}()

	<-started
	assert.True(t, b.Fetching())

	go func() {
		defer wg.Done()
		b.ConsumeOne(ctx, "b.example-0")
	}()

	// Give the second consumer time to reach the in-flight refill.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, b.Fetching())
	assert.Equal(t, 5, b.Pending())
	checkInvariant(t, b)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	refill := func(context.Context, int) ([]model.NormalizedItem, error) {
		return mkItems("z.example", 1, 0), nil
	}
	b := New(mkItems("a.example", 2, 0), refill, Config{WindowSize: 10, TriggerThreshold: 1, GroupThreshold: 5})

	var mu sync.Mutex
	var snaps []Snapshot
	cancel := b.Subscribe(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	b.ConsumeOne(ctx, "a.example-0")
	cancel()
	b.ConsumeOne(ctx, "a.example-1")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)

	sawFetching := false
	for _, s := range snaps {
		if s.Fetching {
			sawFetching = true
		}
	}
	assert.True(t, sawFetching, "expected a snapshot with a refill in flight")

	last := snaps[len(snaps)-1]
	assert.False(t, last.Fetching)
	assert.Equal(t, 2, last.Pending)
}

func TestConfigDefaults(t *testing.T) {
	b := New(nil, nil, Config{})
	assert.Equal(t, Config{WindowSize: 30, TriggerThreshold: 0, BatchSize: 50, GroupThreshold: 5}, b.cfg)
	assert.Empty(t, b.Window())

	_, ok := b.Head()
	assert.False(t, ok)
}

func TestMembersFollowQueue(t *testing.T) {
	ctx := context.Background()
	b := New(concat(mkItems("a.example", 5, 0), mkItems("b.example", 1, 0)), nil, Config{WindowSize: 30, GroupThreshold: 5})

	head, ok := b.Head()
	require.True(t, ok)
	require.True(t, head.IsGroup())

	members := b.Members(head)
	require.Len(t, members, 5)
	assert.Equal(t, "a.example-0", members[0].ID)

	b.ConsumeOne(ctx, "a.example-2")
	members = b.Members(head)
	assert.Len(t, members, 4)
	for _, m := range members {
		assert.NotEqual(t, "a.example-2", m.ID)
	}
}

func TestRemoveMatchingReturnsRemovedIDs(t *testing.T) {
	items := concat(mkItems("a.example", 2, 0), mkItems("b.example", 2, 0))
	other := model.NormalizedItem{ID: "a-other", FromAddress: "billing@a.example", FromDomain: "a.example"}
	b := New(append(items, other), nil, Config{WindowSize: 30, GroupThreshold: 5})

	removed := b.RemoveMatching(func(it model.NormalizedItem) bool { return it.FromAddress == "news@a.example" })
	assert.Equal(t, []string{"a.example-0", "a.example-1"}, removed)
	assert.Equal(t, 3, b.Pending())
	for _, w := range b.Window() {
		assert.NotEqual(t, "news@a.example", w.Item.FromAddress)
	}
	checkInvariant(t, b)

	assert.Empty(t, b.RemoveMatching(func(model.NormalizedItem) bool { return false }))
	assert.Equal(t, 3, b.Pending())
}

func TestNukeDomainKeepsSubdomains(t *testing.T) {
	sub := model.NormalizedItem{ID: "sub", FromAddress: "y@news.a.example", FromDomain: "news.a.example"}
	b := New(append(mkItems("a.example", 2, 0), sub), nil, Config{WindowSize: 30, GroupThreshold: 5})

	assert.Equal(t, 2, b.NukeDomain("a.example"))
	assert.Equal(t, 1, b.Pending())
	checkInvariant(t, b)
}
