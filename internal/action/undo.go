package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

var (
	// ErrUndoNotFound is returned for an unknown, consumed or evicted token.
	ErrUndoNotFound = errors.New("undo token not found or expired")

	// ErrUndoExpired is returned when the record still exists but its
	// window has elapsed. The record is evicted.
	ErrUndoExpired = errors.New("undo window expired")
)

// undoRecord holds what is needed to reverse one action. The capabilities
// used by the action are kept so Undo needs only the token.
type undoRecord struct {
	kind      Kind
	item      model.NormalizedItem
	restoreID string
	filterID  string
	method    string
	created   time.Time

	trasher source.Trasher
	filters source.FilterManager
}

// undoStore is the token-keyed undo table. A token maps to at most one
// record; a reused token overwrites the previous record.
type undoStore struct {
	mu      sync.Mutex
	records map[string]*undoRecord
}

func newUndoStore() *undoStore {
	return &undoStore{records: make(map[string]*undoRecord)}
}

func (s *undoStore) put(token string, rec *undoRecord) {
	s.mu.Lock()
	s.records[token] = rec
	n := len(s.records)
	s.mu.Unlock()
	metrics.UndoRecordsCurrent.Set(float64(n))
}

func (s *undoStore) get(token string) (*undoRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	return rec, ok
}

// remove deletes token if it still maps to rec.
func (s *undoStore) remove(token string, rec *undoRecord) {
	s.mu.Lock()
	if cur, ok := s.records[token]; ok && cur == rec {
		delete(s.records, token)
	}
	n := len(s.records)
	s.mu.Unlock()
	metrics.UndoRecordsCurrent.Set(float64(n))
}

// evictBefore drops every record created before cutoff and returns how many
// were dropped.
func (s *undoStore) evictBefore(cutoff time.Time) int {
	s.mu.Lock()
	evicted := 0
	for token, rec := range s.records {
		if rec.created.Before(cutoff) {
			delete(s.records, token)
			evicted++
		}
	}
	n := len(s.records)
	s.mu.Unlock()
	metrics.UndoRecordsCurrent.Set(float64(n))
	return evicted
}

func (s *undoStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reverted describes a successfully undone action.
type Reverted struct {
	Kind Kind

	// Item is the acted-on item. After undoing a delete its ProviderID is
	// the restored message's id.
	Item model.NormalizedItem

	// Requeue is true when the item is back in the inbox and should be
	// shown again.
	Requeue bool

	// Method is the unsubscribe stage that succeeded. A block fallback
	// leaves its filter in place.
	Method string
}

// Undo reverses the action identified by token while its window is open.
// The record is removed on success and kept when the reversal call fails.
func (o *Orchestrator) Undo(ctx context.Context, token string) (Reverted, error) {
	rec, ok := o.undo.get(token)
	if !ok {
		metrics.UndoTotal.WithLabelValues("not_found").Inc()
		return Reverted{}, ErrUndoNotFound
	}
	if o.now().Sub(rec.created) > o.window {
		o.undo.remove(token, rec)
		metrics.UndoTotal.WithLabelValues("expired").Inc()
		return Reverted{}, ErrUndoExpired
	}

	rev, err := o.revert(ctx, rec)
	if err != nil {
		metrics.UndoTotal.WithLabelValues("error").Inc()
		logger.Warn("Undo failed", "kind", rec.kind, "token", token, "error", err)
		return Reverted{}, err
	}

	o.undo.remove(token, rec)
	metrics.UndoTotal.WithLabelValues("success").Inc()
	logger.Info("Action undone", "kind", rec.kind, "token", token, "item", rec.item.ID)
	return rev, nil
}

func (o *Orchestrator) revert(ctx context.Context, rec *undoRecord) (Reverted, error) {
	rev := Reverted{Kind: rec.kind, Item: rec.item}

	switch rec.kind {
	case KindDelete:
		if rec.trasher == nil {
			return rev, ErrCapabilityMissing
		}
		start := time.Now()
		providerID, err := rec.trasher.Untrash(ctx, rec.restoreID)
		metrics.ObserveProviderCall("untrash", start, err)
		if err != nil {
			return rev, fmt.Errorf("restoring %s from trash: %w", rec.restoreID, err)
		}
		if providerID != "" {
			rev.Item.ProviderID = providerID
		}
		rev.Requeue = true

	case KindBlock, KindDomainNuke:
		// Bulk-deleted messages stay in the trash; only the filter goes.
		if rec.filters == nil {
			return rev, ErrCapabilityMissing
		}
		start := time.Now()
		err := rec.filters.DeleteFilter(ctx, rec.filterID)
		metrics.ObserveProviderCall("delete_filter", start, err)
		if err != nil {
			return rev, fmt.Errorf("deleting filter %s: %w", rec.filterID, err)
		}

	case KindKeep:
		rev.Requeue = true

	case KindUnsubscribe:
		// Unsubscribing cannot be reversed, including the block fallback.
		rev.Method = rec.method
	}
	return rev, nil
}

// Pending returns the number of undo records held, including expired ones
// not yet evicted.
func (o *Orchestrator) Pending() int {
	return o.undo.len()
}

// Sweep evicts records whose window has elapsed.
func (o *Orchestrator) Sweep() int {
	return o.undo.evictBefore(o.now().Add(-o.window))
}

// RunSweeper evicts expired undo records every interval until ctx is
// cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * o.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Sweep(); n > 0 {
				logger.Debug("Evicted expired undo records", "count", n)
			}
		}
	}
}
