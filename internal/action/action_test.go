package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

func newTestOrchestrator(clock *fakeClock, opts ...Option) *Orchestrator {
	base := []Option{WithClock(clock.Now), WithTokenFunc(sequentialTokens())}
	return New(append(base, opts...)...)
}

func TestDeleteUndoRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	p := newFakeProvider()
	o := newTestOrchestrator(clock)
	item := bulkItem("m1")

	res := o.Execute(ctx, KindDelete, item, CapabilitiesOf(p), Options{})
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "tok-1", res.UndoToken)
	assert.Equal(t, clock.Now().Add(30*time.Second), res.UndoExpiry)
	assert.Equal(t, "trash-uid-m1", res.Meta.RestoreID)
	assert.True(t, p.trashed["uid-m1"])

	rev, err := o.Undo(ctx, res.UndoToken)
	require.NoError(t, err)
	assert.True(t, rev.Requeue)
	assert.Equal(t, KindDelete, rev.Kind)
	assert.Equal(t, "restored-uid-m1", rev.Item.ProviderID)
	assert.False(t, p.trashed["uid-m1"])
	assert.Zero(t, o.Pending())

	_, err = o.Undo(ctx, res.UndoToken)
	assert.ErrorIs(t, err, ErrUndoNotFound)
}

func TestDeleteFailureHasNoToken(t *testing.T) {
	p := newFakeProvider()
	p.trashErr = errors.New("connection reset")
	o := newTestOrchestrator(newFakeClock())

	res := o.Execute(context.Background(), KindDelete, bulkItem("m1"), CapabilitiesOf(p), Options{})
	assert.False(t, res.Success)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, res.UndoToken)
	assert.True(t, res.UndoExpiry.IsZero())
	assert.ErrorIs(t, res.Err, p.trashErr)
	assert.Zero(t, o.Pending())
}

func TestDeleteWithoutTrasher(t *testing.T) {
	o := newTestOrchestrator(newFakeClock())
	res := o.Execute(context.Background(), KindDelete, bulkItem("m1"), Capabilities{}, Options{})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCapabilityMissing)
}

func TestUndoExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	p := newFakeProvider()
	o := newTestOrchestrator(clock)

	res := o.Execute(ctx, KindDelete, bulkItem("m1"), CapabilitiesOf(p), Options{})
	require.True(t, res.Success)

	clock.Advance(31 * time.Second)
	require.Equal(t, 1, o.Pending(), "record is still physically present")

	_, err := o.Undo(ctx, res.UndoToken)
	assert.ErrorIs(t, err, ErrUndoExpired)
	assert.Zero(t, o.Pending(), "expired record is evicted")
	assert.True(t, p.trashed["uid-m1"], "expired undo must not touch the provider")

	_, err = o.Undo(ctx, res.UndoToken)
	assert.ErrorIs(t, err, ErrUndoNotFound)
}

func TestUndoAtWindowEdge(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	o := newTestOrchestrator(clock, WithUndoWindow(10*time.Second))

	res := o.Execute(ctx, KindKeep, bulkItem("m1"), Capabilities{}, Options{})
	require.True(t, res.Success)
	assert.Equal(t, clock.Now().Add(10*time.Second), res.UndoExpiry)

	clock.Advance(10 * time.Second)
	rev, err := o.Undo(ctx, res.UndoToken)
	require.NoError(t, err)
	assert.True(t, rev.Requeue)
}

func TestUndoFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	o := newTestOrchestrator(newFakeClock())

	res := o.Execute(ctx, KindBlock, bulkItem("m1"), CapabilitiesOf(p), Options{})
	require.True(t, res.Success)

	p.deleteErr = errors.New("server busy")
	_, err := o.Undo(ctx, res.UndoToken)
	require.Error(t, err)
	assert.Equal(t, 1, o.Pending())

	p.deleteErr = nil
	_, err = o.Undo(ctx, res.UndoToken)
	require.NoError(t, err)
	assert.Empty(t, p.filters)
}

func TestSweepEvictsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	o := newTestOrchestrator(clock)

	o.Execute(ctx, KindKeep, bulkItem("old"), Capabilities{}, Options{})
	clock.Advance(20 * time.Second)
	fresh := o.Execute(ctx, KindKeep, bulkItem("new"), Capabilities{}, Options{})
	clock.Advance(15 * time.Second)

	assert.Equal(t, 1, o.Sweep())
	assert.Equal(t, 1, o.Pending())

	_, err := o.Undo(ctx, fresh.UndoToken)
	assert.NoError(t, err)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	o := New(WithUndoWindow(time.Millisecond))
	o.Execute(context.Background(), KindKeep, bulkItem("m1"), Capabilities{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return o.Pending() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestKeepHasTokenAndNoProviderCalls(t *testing.T) {
	p := newFakeProvider()
	o := newTestOrchestrator(newFakeClock())

	res := o.Execute(context.Background(), KindKeep, bulkItem("m1"), CapabilitiesOf(p), Options{})
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.UndoToken)
	assert.Empty(t, p.calls)
}

func TestBlock(t *testing.T) {
	ctx := context.Background()

	t.Run("filter and bulk delete", func(t *testing.T) {
		p := newFakeProvider()
		p.bySender["news@shop.example"] = []string{"uid-1", "uid-2", "uid-3"}
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindBlock, bulkItem("m1"), CapabilitiesOf(p), Options{})
		require.True(t, res.Success)
		assert.Equal(t, 3, res.Meta.EmailsDeleted)
		assert.Equal(t, "filter-1", res.Meta.FilterID)
		assert.Equal(t, source.FilterSpec{Scope: source.FilterSender, Match: "news@shop.example"}, p.filters["filter-1"])
		assert.Equal(t, []string{"create_filter", "list_sender", "trash_many"}, p.calls)

		rev, err := o.Undo(ctx, res.UndoToken)
		require.NoError(t, err)
		assert.False(t, rev.Requeue)
		assert.Empty(t, p.filters)
		assert.True(t, p.trashed["uid-2"], "bulk-deleted mail stays in trash")
	})

	t.Run("bulk delete failure still succeeds", func(t *testing.T) {
		p := newFakeProvider()
		p.bySender["news@shop.example"] = []string{"uid-1"}
		p.bulkErr = errors.New("quota exceeded")
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindBlock, bulkItem("m1"), CapabilitiesOf(p), Options{})
		assert.True(t, res.Success)
		assert.Zero(t, res.Meta.EmailsDeleted)
		assert.NotEmpty(t, res.UndoToken)
	})

	t.Run("filter failure fails", func(t *testing.T) {
		p := newFakeProvider()
		p.filterErr = errors.New("filter limit reached")
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindBlock, bulkItem("m1"), CapabilitiesOf(p), Options{})
		assert.False(t, res.Success)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Empty(t, res.UndoToken)
		assert.Equal(t, []string{"create_filter"}, p.calls, "no bulk delete without a filter")
	})

	t.Run("personal sender denied", func(t *testing.T) {
		p := newFakeProvider()
		o := newTestOrchestrator(newFakeClock())
		item := model.NormalizedItem{ID: "p", FromAddress: "jane.doe@gmail.com", FromDomain: "gmail.com", Subject: "hey"}

		res := o.Execute(ctx, KindBlock, item, CapabilitiesOf(p), Options{Confirmed: true})
		assert.Equal(t, OutcomeDenied, res.Outcome)
		assert.NotEmpty(t, res.Reason)
		assert.Empty(t, p.calls)
	})
}

func TestDomainNuke(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes then filters", func(t *testing.T) {
		p := newFakeProvider()
		p.byDomain["shop.example"] = []string{"uid-1", "uid-2"}
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindDomainNuke, bulkItem("m1"), CapabilitiesOf(p), Options{})
		require.True(t, res.Success)
		assert.Equal(t, 2, res.Meta.EmailsDeleted)
		assert.Equal(t, []string{"list_domain", "trash_many", "create_filter"}, p.calls)
		assert.Equal(t, source.FilterDomain, p.filters[res.Meta.FilterID].Scope)
	})

	t.Run("bulk delete failure does not stop the filter", func(t *testing.T) {
		p := newFakeProvider()
		p.byDomain["shop.example"] = []string{"uid-1"}
		p.bulkErr = errors.New("timeout")
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindDomainNuke, bulkItem("m1"), CapabilitiesOf(p), Options{})
		assert.True(t, res.Success)
		assert.Zero(t, res.Meta.EmailsDeleted)
		assert.Len(t, p.filters, 1)
	})

	t.Run("filter failure after deletions fails", func(t *testing.T) {
		p := newFakeProvider()
		p.byDomain["shop.example"] = []string{"uid-1", "uid-2", "uid-3"}
		p.filterErr = errors.New("filter limit reached")
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindDomainNuke, bulkItem("m1"), CapabilitiesOf(p), Options{})
		assert.False(t, res.Success)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, 3, res.Meta.EmailsDeleted)
		assert.Empty(t, res.UndoToken)
		assert.True(t, p.trashed["uid-3"], "deletions are not hidden or rolled back")
	})

	t.Run("caution domain needs confirmation", func(t *testing.T) {
		p := newFakeProvider()
		item := bulkItem("m1")
		item.FromAddress, item.FromDomain = "store-news@amazon.com", "amazon.com"
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindDomainNuke, item, CapabilitiesOf(p), Options{})
		assert.True(t, res.NeedsConfirmation())
		assert.False(t, res.Success)
		assert.Empty(t, p.calls)

		res = o.Execute(ctx, KindDomainNuke, item, CapabilitiesOf(p), Options{Confirmed: true})
		assert.True(t, res.Success)
	})

	t.Run("never domain denied even when confirmed", func(t *testing.T) {
		p := newFakeProvider()
		item := bulkItem("m1")
		item.FromAddress, item.FromDomain = "offers@chase.com", "chase.com"
		o := newTestOrchestrator(newFakeClock())

		res := o.Execute(ctx, KindDomainNuke, item, CapabilitiesOf(p), Options{Confirmed: true})
		assert.Equal(t, OutcomeDenied, res.Outcome)
		assert.Empty(t, p.calls)
	})
}

func TestUnknownKind(t *testing.T) {
	o := newTestOrchestrator(newFakeClock())
	res := o.Execute(context.Background(), Kind("archive"), bulkItem("m1"), Capabilities{}, Options{})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrUnknownKind)
}

type recordedAction struct {
	kind    string
	success bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (r *fakeRecorder) RecordAction(_ context.Context, _ model.NormalizedItem, kind string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, recordedAction{kind, success})
	return nil
}

func TestRecorderSeesExecutedActions(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	p := newFakeProvider()
	p.trashErr = errors.New("boom")
	o := newTestOrchestrator(newFakeClock(), WithRecorder(rec))

	o.Execute(ctx, KindKeep, bulkItem("m1"), CapabilitiesOf(p), Options{})
	o.Execute(ctx, KindDelete, bulkItem("m2"), CapabilitiesOf(p), Options{})

	caution := bulkItem("m3")
	caution.FromDomain = "amazon.com"
	o.Execute(ctx, KindDomainNuke, caution, CapabilitiesOf(p), Options{})

	assert.Equal(t, []recordedAction{{"keep", true}, {"delete", false}}, rec.actions)
}
