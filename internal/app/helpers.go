package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/nhle/inbox-sweep/internal/action"
	"github.com/nhle/inbox-sweep/internal/model"
	appsync "github.com/nhle/inbox-sweep/internal/sync"
)

// describeAction turns the results of one key press into a status line.
func describeAction(msg actionDoneMsg) (string, action.Outcome) {
	if len(msg.results) == 0 {
		return fmt.Sprintf("%s: nothing done", msg.kind), action.OutcomeFailed
	}

	var ok, bad []action.Result
	for _, r := range msg.results {
		if r.Success {
			ok = append(ok, r)
		} else {
			bad = append(bad, r)
		}
	}
	if len(ok) == 0 {
		first := bad[0]
		return fmt.Sprintf("%s %s: %s", msg.kind, first.Outcome, first.Reason), first.Outcome
	}

	rep := msg.entry.Item.Item
	var text string
	switch msg.kind {
	case action.KindDelete:
		text = fmt.Sprintf("deleted %s", plural(len(ok), "message"))
	case action.KindKeep:
		text = fmt.Sprintf("kept %s", plural(len(ok), "message"))
	case action.KindUnsubscribe:
		meta := ok[0].Meta
		text = fmt.Sprintf("unsubscribed from %s via %s", rep.FromAddress, meta.Method)
		if meta.FallbackUsed {
			text = fmt.Sprintf("could not unsubscribe from %s, fell back to %s", rep.FromAddress, meta.Method)
		}
	case action.KindBlock:
		text = fmt.Sprintf("blocked %s, trashed %s", rep.FromAddress, plural(ok[0].Meta.EmailsDeleted, "message"))
	case action.KindDomainNuke:
		text = fmt.Sprintf("nuked %s, trashed %s", rep.FromDomain, plural(ok[0].Meta.EmailsDeleted, "message"))
	default:
		text = string(msg.kind)
	}

	if len(bad) > 0 {
		text = fmt.Sprintf("%s, %d failed: %s", text, len(bad), bad[0].Reason)
		return text, action.OutcomeFailed
	}
	return text, action.OutcomeSucceeded
}

// describeUndo turns an undo outcome into a status line.
func describeUndo(msg undoDoneMsg) (string, action.Outcome) {
	if msg.err != nil && len(msg.reverted) == 0 {
		return "undo failed: " + msg.err.Error(), action.OutcomeFailed
	}

	text := fmt.Sprintf("undid %s", msg.kind)
	switch msg.kind {
	case action.KindDelete, action.KindKeep:
		text = fmt.Sprintf("undid %s of %s", msg.kind, plural(len(msg.reverted), "message"))
	case action.KindUnsubscribe:
		text = "unsubscribe cannot be reversed"
		if len(msg.reverted) > 0 && msg.reverted[0].Method == action.MethodBlock {
			text = fmt.Sprintf("unsubscribe fell back to a block; %s stays blocked", msg.reverted[0].Item.FromAddress)
		}
	case action.KindBlock, action.KindDomainNuke:
		text = fmt.Sprintf("undid %s; trashed mail stays in trash", msg.kind)
	}
	if msg.err != nil {
		return fmt.Sprintf("%s, some failed: %v", text, msg.err), action.OutcomeFailed
	}
	return text, action.OutcomeSucceeded
}

// confirmPrompt returns the title of the confirmation form.
func confirmPrompt(kind action.Kind, item model.NormalizedItem) string {
	switch kind {
	case action.KindDomainNuke:
		return fmt.Sprintf("Trash all mail from %s and block the domain?", item.FromDomain)
	case action.KindUnsubscribe:
		return fmt.Sprintf("Unsubscribe from %s?", item.FromAddress)
	default:
		return fmt.Sprintf("Run %s on %s?", kind, item.FromAddress)
	}
}

// feedSummary returns a short string for the header.
func feedSummary(pending int, fetching bool, st appsync.FeedStatus) string {
	parts := []string{fmt.Sprintf("%d queued", pending)}
	switch {
	case fetching || st.State == appsync.FeedRunning:
		parts = append(parts, "fetching")
	case st.State == appsync.FeedError && st.AuthFailed:
		parts = append(parts, "login rejected")
	case st.State == appsync.FeedError:
		parts = append(parts, "fetch failed")
	case !st.LastSync.IsZero():
		parts = append(parts, "synced "+st.LastSync.Format("15:04"))
	}
	return strings.Join(parts, " | ")
}

// countdown renders the remaining undo time rounded up to whole seconds.
func countdown(expiry, now time.Time) string {
	left := expiry.Sub(now)
	if left <= 0 {
		return ""
	}
	secs := int((left + time.Second - 1) / time.Second)
	return fmt.Sprintf("z undo (%ds)", secs)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
