package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nhle/inbox-sweep/internal/action"
	"github.com/nhle/inbox-sweep/internal/buffer"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
	appsync "github.com/nhle/inbox-sweep/internal/sync"
	"github.com/nhle/inbox-sweep/internal/ui/window"
)

// actionTimeout bounds one triage action including its provider calls and
// any refill it triggers.
const actionTimeout = 2 * time.Minute

// Deps are the collaborators the triage screen drives.
type Deps struct {
	Buffer       *buffer.Buffer
	Orchestrator *action.Orchestrator
	Caps         action.Capabilities
	Feeder       *appsync.Feeder

	// Now defaults to time.Now.
	Now func() time.Time
}

// actionDoneMsg carries the outcome of one key press on a window entry.
type actionDoneMsg struct {
	kind  action.Kind
	entry window.Entry

	results []action.Result

	// tokens lists undo tokens of every successful call, in call order.
	tokens []string
	expiry time.Time

	// confirm is set when the action stopped to ask the user.
	confirm *action.Result

	// consumed counts messages removed from the buffer.
	consumed int
}

// undoDoneMsg carries the outcome of reverting the last action.
type undoDoneMsg struct {
	kind     action.Kind
	reverted []action.Reverted
	err      error
}

// triage runs actions against the orchestrator and keeps the buffer and
// feeder in step with the outcome.
type triage struct {
	buf    *buffer.Buffer
	orch   *action.Orchestrator
	caps   action.Capabilities
	feeder *appsync.Feeder
}

// execute applies kind to entry. Delete and keep act on every grouped
// message; unsubscribe, block and domain nuke act on the representative's
// sender or domain once.
func (t *triage) execute(ctx context.Context, kind action.Kind, entry window.Entry, opts action.Options) actionDoneMsg {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	done := actionDoneMsg{kind: kind, entry: entry}
	rep := entry.Item.Item
	members := t.buf.Members(entry.Item)
	if len(members) == 0 {
		members = []model.NormalizedItem{rep}
	}

	var consumed, removed []string
	switch kind {
	case action.KindDelete, action.KindKeep:
		for _, it := range members {
			res := t.orch.Execute(ctx, kind, it, t.caps, opts)
			if res.NeedsConfirmation() {
				done.confirm = &res
				break
			}
			done.add(res)
			if res.Success {
				consumed = append(consumed, it.ID)
			}
		}

	case action.KindUnsubscribe, action.KindBlock:
		res := t.orch.Execute(ctx, kind, rep, t.caps, opts)
		if res.NeedsConfirmation() {
			done.confirm = &res
			break
		}
		done.add(res)
		if res.Success {
			for _, it := range members {
				if it.FromAddress == rep.FromAddress {
					consumed = append(consumed, it.ID)
				}
			}
			if kind == action.KindBlock {
				removed = t.dropBlocked(source.FilterSender, rep.FromAddress)
			}
		}

	case action.KindDomainNuke:
		res := t.orch.Execute(ctx, kind, rep, t.caps, opts)
		if res.NeedsConfirmation() {
			done.confirm = &res
			break
		}
		done.add(res)
		if res.Success {
			removed = t.dropBlocked(source.FilterDomain, rep.FromDomain)
			for _, it := range members {
				consumed = append(consumed, it.ID)
			}
		}
	}

	if len(removed) > 0 {
		done.consumed += len(removed)
		t.feeder.Forget(removed...)
	}
	if len(consumed) > 0 {
		if kind != action.KindBlock && kind != action.KindDomainNuke {
			done.consumed += len(consumed)
		}
		t.feeder.Forget(consumed...)
		// Also triggers the refill when the window ran low.
		t.buf.ConsumeMany(ctx, consumed)
	}
	return done
}

// dropBlocked removes the queued items the new block rule covers, which
// are the ones the provider just trashed, and returns their ids.
func (t *triage) dropBlocked(scope source.FilterScope, match string) []string {
	rule := model.BlockFilter{Scope: string(scope), Match: strings.ToLower(match)}
	return t.buf.RemoveMatching(rule.Matches)
}

func (d *actionDoneMsg) add(res action.Result) {
	d.results = append(d.results, res)
	if res.Success {
		d.tokens = append(d.tokens, res.UndoToken)
		if res.UndoExpiry.After(d.expiry) {
			d.expiry = res.UndoExpiry
		}
	}
}

// undo reverts tokens newest first so the first message of a group ends up
// back at the head of the queue. A token that fails stays valid in the
// orchestrator; the first error is reported.
func (t *triage) undo(ctx context.Context, kind action.Kind, tokens []string) undoDoneMsg {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	msg := undoDoneMsg{kind: kind}
	var errs []error
	for i := len(tokens) - 1; i >= 0; i-- {
		rev, err := t.orch.Undo(ctx, tokens[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msg.reverted = append(msg.reverted, rev)
		if rev.Requeue {
			t.feeder.Remember(rev.Item)
			t.buf.AddItem(rev.Item)
		}
	}
	if len(errs) > 0 {
		msg.err = errs[0]
		if len(errs) > 1 {
			msg.err = errors.Join(errs...)
		}
	}
	return msg
}

// entries pairs each window item with its stored classification.
func (t *triage) entries(snap buffer.Snapshot) []window.Entry {
	out := make([]window.Entry, len(snap.Window))
	for i, it := range snap.Window {
		res, ok := t.feeder.Classification(it.Item.ID)
		out[i] = window.Entry{Item: it, Result: res, Classified: ok}
	}
	return out
}
