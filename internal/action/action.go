// Package action executes disposal actions against a mail provider with
// safety gating, fallback chains and a time-boxed undo window.
package action

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

// Kind is one of the fixed disposal actions.
type Kind string

const (
	KindDelete      Kind = "delete"
	KindUnsubscribe Kind = "unsubscribe"
	KindBlock       Kind = "block"
	KindKeep        Kind = "keep"
	KindDomainNuke  Kind = "domain_nuke"
)

// Outcome distinguishes success from the three ways an action can stop.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeDenied means a safety gate refused the action.
	OutcomeDenied Outcome = "denied"

	// OutcomeNeedsConfirmation means the action may run once the caller
	// re-invokes it with Options.Confirmed.
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"

	// OutcomeFailed means a provider call or every fallback failed.
	OutcomeFailed Outcome = "failed"
)

// Unsubscribe methods recorded in Meta.Method.
const (
	MethodHTTP   = "http"
	MethodMailto = "mailto"
	MethodBlock  = "block"
	MethodSpam   = "spam"
)

var (
	// ErrCapabilityMissing is returned when the provider lacks a capability
	// the action needs.
	ErrCapabilityMissing = errors.New("provider capability missing")

	// ErrUnknownKind is returned for an action kind outside the fixed set.
	ErrUnknownKind = errors.New("unknown action kind")
)

// Meta carries per-kind details of an executed action.
type Meta struct {
	// Method is the unsubscribe stage that succeeded.
	Method string `json:"method,omitempty"`

	// FallbackUsed is true when unsubscribe ended in the block or spam
	// stage.
	FallbackUsed bool `json:"fallback_used,omitempty"`

	// EmailsDeleted counts messages moved to trash by block or domain nuke.
	EmailsDeleted int `json:"emails_deleted"`

	// FilterID is the provider filter created by block, domain nuke or the
	// unsubscribe block fallback.
	FilterID string `json:"filter_id,omitempty"`

	// RestoreID identifies the trashed copy of a deleted message.
	RestoreID string `json:"restore_id,omitempty"`
}

// Result is the value returned by Execute. Failures are reported here, never
// as panics.
type Result struct {
	Success bool    `json:"success"`
	Kind    Kind    `json:"kind"`
	Outcome Outcome `json:"outcome"`

	// UndoToken is empty unless the action succeeded.
	UndoToken  string    `json:"undo_token,omitempty"`
	UndoExpiry time.Time `json:"undo_expiry,omitempty"`

	// Reason is a human-readable explanation for any non-success outcome.
	Reason string `json:"reason,omitempty"`

	// Err is the underlying error of a failed outcome.
	Err error `json:"-"`

	Meta Meta `json:"meta"`
}

// NeedsConfirmation reports whether the caller should ask the user and
// re-invoke with Options.Confirmed.
func (r Result) NeedsConfirmation() bool {
	return r.Outcome == OutcomeNeedsConfirmation
}

// Options are per-call flags.
type Options struct {
	// Confirmed records the user's explicit consent for actions that need
	// it.
	Confirmed bool
}

// Capabilities is the set of provider operations available for one call.
// Nil fields are unavailable.
type Capabilities struct {
	Trasher     source.Trasher
	BulkTrasher source.BulkTrasher
	Filters     source.FilterManager
	Enumerator  source.Enumerator
	Sender      source.MailSender
	Spam        source.SpamMarker
}

// CapabilitiesOf collects whichever capability interfaces p implements.
func CapabilitiesOf(p any) Capabilities {
	var c Capabilities
	c.Trasher, _ = p.(source.Trasher)
	c.BulkTrasher, _ = p.(source.BulkTrasher)
	c.Filters, _ = p.(source.FilterManager)
	c.Enumerator, _ = p.(source.Enumerator)
	c.Sender, _ = p.(source.MailSender)
	c.Spam, _ = p.(source.SpamMarker)
	return c
}

// Recorder receives every executed action, e.g. to update sender
// reputation.
type Recorder interface {
	RecordAction(ctx context.Context, item model.NormalizedItem, kind string, success bool) error
}

// Orchestrator dispatches actions and owns the undo table of one process.
// It is safe for concurrent use.
type Orchestrator struct {
	undo     *undoStore
	window   time.Duration
	now      func() time.Time
	newToken func() string
	http     *HTTPUnsubscriber
	recorder Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithUndoWindow sets how long undo tokens stay valid.
func WithUndoWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.window = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTokenFunc replaces the undo token generator.
func WithTokenFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newToken = fn }
}

// WithHTTPUnsubscriber replaces the HTTP stage of unsubscribe.
func WithHTTPUnsubscriber(h *HTTPUnsubscriber) Option {
	return func(o *Orchestrator) { o.http = h }
}

// WithRecorder registers a sink for executed actions.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// DefaultUndoWindow is the validity of an undo token.
const DefaultUndoWindow = 30 * time.Second

// New returns an Orchestrator with an empty undo table.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		window:   DefaultUndoWindow,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.http == nil {
		o.http = NewHTTPUnsubscriber(nil)
	}
	o.undo = newUndoStore()
	return o
}

// UndoWindow returns the configured undo validity.
func (o *Orchestrator) UndoWindow() time.Duration {
	return o.window
}

// Execute runs one action. Provider calls are issued sequentially; the
// caller bounds the whole call with ctx.
func (o *Orchestrator) Execute(ctx context.Context, kind Kind, item model.NormalizedItem, caps Capabilities, opts Options) Result {
	var res Result
	switch kind {
	case KindDelete:
		res = o.executeDelete(ctx, item, caps)
	case KindUnsubscribe:
		res = o.executeUnsubscribe(ctx, item, caps, opts)
	case KindBlock:
		res = o.executeBlock(ctx, item, caps)
	case KindKeep:
		res = o.executeKeep(item)
	case KindDomainNuke:
		res = o.executeDomainNuke(ctx, item, caps, opts)
	default:
		res = failed(kind, "unsupported action", ErrUnknownKind)
	}
	res.Kind = kind

	metrics.ActionsTotal.WithLabelValues(string(kind), string(res.Outcome)).Inc()
	log := logger.With("kind", kind, "item", item.ID, "sender", item.FromAddress, "outcome", res.Outcome)
	if res.Success {
		log.Info("Action executed", "token", res.UndoToken, "method", res.Meta.Method,
			"deleted", res.Meta.EmailsDeleted)
	} else {
		log.Warn("Action not executed", "reason", res.Reason, "error", res.Err)
	}

	if o.recorder != nil && res.Outcome != OutcomeNeedsConfirmation {
		if err := o.recorder.RecordAction(ctx, item, string(kind), res.Success); err != nil {
			logger.Warn("Recording action failed", "kind", kind, "error", err)
		}
	}
	return res
}

// succeed stores an undo record and fills in the token fields.
func (o *Orchestrator) succeed(kind Kind, item model.NormalizedItem, meta Meta, caps Capabilities) Result {
	created := o.now()
	token := o.newToken()
	o.undo.put(token, &undoRecord{
		kind:      kind,
		item:      item,
		restoreID: meta.RestoreID,
		filterID:  meta.FilterID,
		method:    meta.Method,
		created:   created,
		trasher:   caps.Trasher,
		filters:   caps.Filters,
	})
	return Result{
		Success:    true,
		Kind:       kind,
		Outcome:    OutcomeSucceeded,
		UndoToken:  token,
		UndoExpiry: created.Add(o.window),
		Meta:       meta,
	}
}

func denied(kind Kind, reason string) Result {
	return Result{Kind: kind, Outcome: OutcomeDenied, Reason: reason}
}

func needsConfirmation(kind Kind, reason string) Result {
	return Result{Kind: kind, Outcome: OutcomeNeedsConfirmation, Reason: reason}
}

func failed(kind Kind, reason string, err error) Result {
	return Result{Kind: kind, Outcome: OutcomeFailed, Reason: reason, Err: err}
}
