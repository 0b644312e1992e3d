// Package buffer keeps the bounded, grouped working set shown to the user
// and refills it from an external source when it runs low.
package buffer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
)

// RefillFunc fetches up to n more items. It may return fewer, including
// none. Errors are logged and treated as an empty batch.
type RefillFunc func(ctx context.Context, n int) ([]model.NormalizedItem, error)

// Config sizes the window and its refill behaviour.
type Config struct {
	// WindowSize is the number of queue entries projected into the window.
	WindowSize int

	// TriggerThreshold starts a refill once the window holds this many
	// entries or fewer.
	TriggerThreshold int

	// BatchSize is passed to the refill source.
	BatchSize int

	// GroupThreshold is the number of same-domain entries inside the window
	// that collapse into a group.
	GroupThreshold int
}

// DefaultConfig returns the stock window sizing.
func DefaultConfig() Config {
	return Config{WindowSize: 30, TriggerThreshold: 10, BatchSize: 50, GroupThreshold: 5}
}

// ConfigFrom converts the buffer section of the application config.
func ConfigFrom(c model.BufferConfig) Config {
	return Config{
		WindowSize:       c.WindowSize,
		TriggerThreshold: c.TriggerThreshold,
		BatchSize:        c.BatchSize,
		GroupThreshold:   c.GroupThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.TriggerThreshold < 0 {
		c.TriggerThreshold = d.TriggerThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.GroupThreshold < 2 {
		c.GroupThreshold = d.GroupThreshold
	}
	return c
}

// Snapshot is a consistent view of the buffer for rendering.
type Snapshot struct {
	Window   []Item
	Pending  int
	Fetching bool
}

// Buffer owns the backing queue of one triage session. Mutations resync the
// window before returning. Only the refill is single-flight; callers
// serialize consumption themselves.
type Buffer struct {
	cfg    Config
	refill RefillFunc

	mu       sync.Mutex
	queue    []model.NormalizedItem
	window   []Item
	fetching bool

	sf singleflight.Group

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// New seeds a buffer with initial items. No I/O happens here. refill may be
// nil for a fixed queue.
func New(initial []model.NormalizedItem, refill RefillFunc, cfg Config) *Buffer {
	b := &Buffer{
		cfg:    cfg.withDefaults(),
		refill: refill,
		queue:  append([]model.NormalizedItem(nil), initial...),
		subs:   make(map[int]func(Snapshot)),
	}
	b.resyncLocked()
	return b
}

// ConsumeOne removes id from the queue. See ConsumeMany.
func (b *Buffer) ConsumeOne(ctx context.Context, id string) {
	b.ConsumeMany(ctx, []string{id})
}

// ConsumeMany removes ids from the queue and resyncs the window. If the
// window is left at or below the trigger threshold a refill runs, and
// ConsumeMany returns once it completes. A refill already in flight is
// joined rather than repeated.
func (b *Buffer) ConsumeMany(ctx context.Context, ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	b.mu.Lock()
	b.queue = filterQueue(b.queue, func(it model.NormalizedItem) bool {
		_, ok := drop[it.ID]
		return !ok
	})
	b.resyncLocked()
	low := len(b.window) <= b.cfg.TriggerThreshold
	b.mu.Unlock()
	b.notify()

	if low {
		b.Refill(ctx)
	}
}

// AddItem puts item at the head of the queue, typically after an undo. An
// item already queued under the same id is moved rather than duplicated.
func (b *Buffer) AddItem(item model.NormalizedItem) {
	b.mu.Lock()
	rest := filterQueue(b.queue, func(it model.NormalizedItem) bool { return it.ID != item.ID })
	b.queue = append([]model.NormalizedItem{item}, rest...)
	b.resyncLocked()
	b.mu.Unlock()
	b.notify()
}

// NukeDomain drops every queued item from domain and returns how many were
// removed. It only edits the local queue.
func (b *Buffer) NukeDomain(domain string) int {
	return len(b.RemoveMatching(func(it model.NormalizedItem) bool { return it.FromDomain == domain }))
}

// RemoveMatching drops every queued item match accepts and returns their
// ids in queue order. Callers use it to mirror a block rule locally after
// the provider trashed the mail the rule covers.
func (b *Buffer) RemoveMatching(match func(model.NormalizedItem) bool) []string {
	b.mu.Lock()
	var removed []string
	b.queue = filterQueue(b.queue, func(it model.NormalizedItem) bool {
		if match(it) {
			removed = append(removed, it.ID)
			return false
		}
		return true
	})
	b.resyncLocked()
	b.mu.Unlock()
	b.notify()
	return removed
}

// Refill fetches one batch from the source unless a refill is already in
// flight, in which case it waits for that one. Failures are swallowed.
func (b *Buffer) Refill(ctx context.Context) {
	if b.refill == nil {
		return
	}
	b.sf.Do("refill", func() (any, error) {
		b.runRefill(ctx)
		return nil, nil
	})
}

func (b *Buffer) runRefill(ctx context.Context) {
	b.mu.Lock()
	b.fetching = true
	b.mu.Unlock()
	b.notify()

	added := 0
	defer func() {
		b.mu.Lock()
		b.fetching = false
		b.resyncLocked()
		b.mu.Unlock()
		b.notify()
	}()

	items, err := b.callRefill(ctx)
	if err != nil {
		metrics.RefillsTotal.WithLabelValues("error").Inc()
		logger.Warn("Buffer refill failed", "error", err)
		return
	}

	b.mu.Lock()
	seen := make(map[string]struct{}, len(b.queue))
	for _, it := range b.queue {
		seen[it.ID] = struct{}{}
	}
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		b.queue = append(b.queue, it)
		added++
	}
	b.mu.Unlock()

	metrics.RefillsTotal.WithLabelValues("success").Inc()
	logger.Debug("Buffer refilled", "fetched", len(items), "added", added)
}

// callRefill invokes the source, turning a panic into an error so the
// in-flight flag is always cleared.
func (b *Buffer) callRefill(ctx context.Context) (items []model.NormalizedItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refill panicked: %v", r)
		}
	}()
	return b.refill(ctx, b.cfg.BatchSize)
}

// Members returns the queued messages behind a window entry, in queue
// order. Members consumed since the entry was read are omitted.
func (b *Buffer) Members(entry Item) []model.NormalizedItem {
	want := make(map[string]struct{}, len(entry.IDs))
	for _, id := range entry.IDs {
		want[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.NormalizedItem, 0, len(entry.IDs))
	for _, it := range b.queue {
		if _, ok := want[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out
}

// Window returns a copy of the active window.
func (b *Buffer) Window() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Item(nil), b.window...)
}

// Pending returns the number of items in the backing queue.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Fetching reports whether a refill is in flight.
func (b *Buffer) Fetching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetching
}

// Head returns the first window entry, if any.
func (b *Buffer) Head() (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.window) == 0 {
		return Item{}, false
	}
	return b.window[0], true
}

// Snapshot returns the window, pending count and in-flight flag together.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() Snapshot {
	return Snapshot{
		Window:   append([]Item(nil), b.window...),
		Pending:  len(b.queue),
		Fetching: b.fetching,
	}
}

// Subscribe registers fn to be called with a fresh snapshot after every
// change. The returned func removes the subscription. fn runs on the
// goroutine that made the change and must not call back into the buffer's
// mutating methods.
func (b *Buffer) Subscribe(fn func(Snapshot)) func() {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

func (b *Buffer) notify() {
	snap := b.Snapshot()
	metrics.BufferPending.Set(float64(snap.Pending))

	b.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// resyncLocked recomputes the window from scratch. b.mu must be held.
func (b *Buffer) resyncLocked() {
	b.window = groupWindow(b.queue, b.cfg.WindowSize, b.cfg.GroupThreshold)
}

func filterQueue(q []model.NormalizedItem, keep func(model.NormalizedItem) bool) []model.NormalizedItem {
	out := make([]model.NormalizedItem, 0, len(q))
	for _, it := range q {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}
