package action

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/safety"
	"github.com/nhle/inbox-sweep/internal/source"
)

// executeDelete moves the item to trash. It never deletes permanently.
func (o *Orchestrator) executeDelete(ctx context.Context, item model.NormalizedItem, caps Capabilities) Result {
	if caps.Trasher == nil {
		return failed(KindDelete, "provider cannot trash messages", ErrCapabilityMissing)
	}

	start := time.Now()
	restoreID, err := caps.Trasher.Trash(ctx, item.ProviderID)
	metrics.ObserveProviderCall("trash", start, err)
	if err != nil {
		return failed(KindDelete, "moving message to trash failed", fmt.Errorf("trashing %s: %w", item.ProviderID, err))
	}
	return o.succeed(KindDelete, item, Meta{RestoreID: restoreID}, caps)
}

// executeKeep makes no provider call. The undo token exists for symmetry
// with the other kinds.
func (o *Orchestrator) executeKeep(item model.NormalizedItem) Result {
	return o.succeed(KindKeep, item, Meta{}, Capabilities{})
}

// executeBlock creates a sender filter, then trashes the sender's existing
// mail. The filter decides success; a failed bulk delete is reported as
// zero deleted messages.
func (o *Orchestrator) executeBlock(ctx context.Context, item model.NormalizedItem, caps Capabilities) Result {
	if v := safety.CanActOnSender(item); !v.Allowed {
		return denied(KindBlock, v.Reason)
	}
	if caps.Filters == nil {
		return failed(KindBlock, "provider cannot create filters", ErrCapabilityMissing)
	}

	start := time.Now()
	filterID, err := caps.Filters.CreateFilter(ctx, source.FilterSpec{Scope: source.FilterSender, Match: item.FromAddress})
	metrics.ObserveProviderCall("create_filter", start, err)
	if err != nil {
		return failed(KindBlock, "creating block filter failed", fmt.Errorf("creating filter for %s: %w", item.FromAddress, err))
	}

	deleted, err := trashAll(ctx, caps, func(ctx context.Context) ([]string, error) {
		return caps.Enumerator.ListBySender(ctx, item.FromAddress)
	})
	if err != nil {
		logger.Warn("Bulk delete after block failed", "sender", item.FromAddress, "error", err)
		deleted = 0
	}

	return o.succeed(KindBlock, item, Meta{FilterID: filterID, EmailsDeleted: deleted}, caps)
}

// executeDomainNuke trashes every message from the item's domain and then
// blocks the domain. Deletions are not rolled back when the filter cannot
// be created; the result reports failure together with the deleted count.
func (o *Orchestrator) executeDomainNuke(ctx context.Context, item model.NormalizedItem, caps Capabilities, opts Options) Result {
	domain := item.FromDomain
	v := safety.CanActOnDomain(domain)
	if !v.Allowed {
		return denied(KindDomainNuke, v.Reason)
	}
	if v.RequiresConfirmation && !opts.Confirmed {
		return needsConfirmation(KindDomainNuke, v.Reason)
	}
	if caps.Filters == nil {
		return failed(KindDomainNuke, "provider cannot create filters", ErrCapabilityMissing)
	}

	deleted, err := trashAll(ctx, caps, func(ctx context.Context) ([]string, error) {
		return caps.Enumerator.ListByDomain(ctx, domain)
	})
	if err != nil {
		logger.Warn("Bulk delete for domain failed", "domain", domain, "error", err)
	}

	start := time.Now()
	filterID, err := caps.Filters.CreateFilter(ctx, source.FilterSpec{Scope: source.FilterDomain, Match: domain})
	metrics.ObserveProviderCall("create_filter", start, err)
	if err != nil {
		res := failed(KindDomainNuke,
			fmt.Sprintf("deleted %d messages but creating the domain filter failed", deleted),
			fmt.Errorf("creating filter for %s: %w", domain, err))
		res.Meta.EmailsDeleted = deleted
		return res
	}

	return o.succeed(KindDomainNuke, item, Meta{FilterID: filterID, EmailsDeleted: deleted}, caps)
}

// trashAll enumerates ids with list and moves them to trash. It returns the
// number moved before any error.
func trashAll(ctx context.Context, caps Capabilities, list func(context.Context) ([]string, error)) (int, error) {
	if caps.Enumerator == nil || caps.BulkTrasher == nil {
		return 0, ErrCapabilityMissing
	}

	start := time.Now()
	ids, err := list(ctx)
	metrics.ObserveProviderCall("enumerate", start, err)
	if err != nil {
		return 0, fmt.Errorf("enumerating messages: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	start = time.Now()
	n, err := caps.BulkTrasher.TrashMany(ctx, ids)
	metrics.ObserveProviderCall("trash_many", start, err)
	if err != nil {
		return n, fmt.Errorf("trashing %d messages: %w", len(ids), err)
	}
	return n, nil
}
