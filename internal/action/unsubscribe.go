package action

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/safety"
	"github.com/nhle/inbox-sweep/internal/source"
)

// AttemptStatus is the result of one unsubscribe stage.
type AttemptStatus int

const (
	// AttemptUnavailable means the stage does not apply to the item or the
	// provider lacks the capability.
	AttemptUnavailable AttemptStatus = iota
	AttemptFailed
	AttemptSucceeded

	// AttemptNeedsConfirmation means the stage would run with the user's
	// consent.
	AttemptNeedsConfirmation
)

// Attempt reports how one stage went.
type Attempt struct {
	Status AttemptStatus

	// FilterID is set by the block stage.
	FilterID string

	Reason string
	Err    error
}

// Strategy is one stage of the unsubscribe chain.
type Strategy interface {
	// Method names the stage in results and metrics.
	Method() string

	// Fallback reports whether success at this stage is a substitute for
	// a real unsubscribe.
	Fallback() bool

	Attempt(ctx context.Context, item model.NormalizedItem) Attempt
}

// httpStrategy follows the List-Unsubscribe HTTPS link.
type httpStrategy struct {
	client    *HTTPUnsubscriber
	confirmed bool
}

func (s httpStrategy) Method() string { return MethodHTTP }
func (s httpStrategy) Fallback() bool { return false }

func (s httpStrategy) Attempt(ctx context.Context, item model.NormalizedItem) Attempt {
	link := item.Unsubscribe.HTTPURL
	if link == "" {
		return Attempt{Status: AttemptUnavailable}
	}
	if safety.IsSuspiciousLink(link) && !s.confirmed {
		return Attempt{Status: AttemptNeedsConfirmation, Reason: "unsubscribe link goes through a redirector"}
	}
	start := time.Now()
	err := s.client.Unsubscribe(ctx, link)
	metrics.ObserveProviderCall("http_unsubscribe", start, err)
	if err != nil {
		return Attempt{Status: AttemptFailed, Reason: "http unsubscribe failed", Err: err}
	}
	return Attempt{Status: AttemptSucceeded}
}

// mailtoStrategy sends the unsubscribe request by mail.
type mailtoStrategy struct {
	sender source.MailSender
}

func (s mailtoStrategy) Method() string { return MethodMailto }
func (s mailtoStrategy) Fallback() bool { return false }

func (s mailtoStrategy) Attempt(ctx context.Context, item model.NormalizedItem) Attempt {
	if item.Unsubscribe.Mailto == "" || s.sender == nil {
		return Attempt{Status: AttemptUnavailable}
	}
	msg, err := ParseMailto(item.Unsubscribe.Mailto)
	if err != nil {
		return Attempt{Status: AttemptFailed, Reason: "malformed mailto link", Err: err}
	}
	start := time.Now()
	err = s.sender.SendMail(ctx, msg)
	metrics.ObserveProviderCall("send_mail", start, err)
	if err != nil {
		return Attempt{Status: AttemptFailed, Reason: "sending unsubscribe mail failed", Err: err}
	}
	return Attempt{Status: AttemptSucceeded}
}

// blockStrategy substitutes a sender filter for the unsubscribe.
type blockStrategy struct {
	filters source.FilterManager
}

func (s blockStrategy) Method() string { return MethodBlock }
func (s blockStrategy) Fallback() bool { return true }

func (s blockStrategy) Attempt(ctx context.Context, item model.NormalizedItem) Attempt {
	if s.filters == nil {
		return Attempt{Status: AttemptUnavailable}
	}
	start := time.Now()
	id, err := s.filters.CreateFilter(ctx, source.FilterSpec{Scope: source.FilterSender, Match: item.FromAddress})
	metrics.ObserveProviderCall("create_filter", start, err)
	if err != nil {
		return Attempt{Status: AttemptFailed, Reason: "creating block filter failed", Err: err}
	}
	return Attempt{Status: AttemptSucceeded, FilterID: id}
}

// spamStrategy reports the single item as spam.
type spamStrategy struct {
	spam source.SpamMarker
}

func (s spamStrategy) Method() string { return MethodSpam }
func (s spamStrategy) Fallback() bool { return true }

func (s spamStrategy) Attempt(ctx context.Context, item model.NormalizedItem) Attempt {
	if s.spam == nil {
		return Attempt{Status: AttemptUnavailable}
	}
	start := time.Now()
	err := s.spam.MarkSpam(ctx, item.ProviderID)
	metrics.ObserveProviderCall("mark_spam", start, err)
	if err != nil {
		return Attempt{Status: AttemptFailed, Reason: "marking as spam failed", Err: err}
	}
	return Attempt{Status: AttemptSucceeded}
}

// unsubscribeChain returns the stages in the order they are tried.
func (o *Orchestrator) unsubscribeChain(caps Capabilities, opts Options) []Strategy {
	return []Strategy{
		httpStrategy{client: o.http, confirmed: opts.Confirmed},
		mailtoStrategy{sender: caps.Sender},
		blockStrategy{filters: caps.Filters},
		spamStrategy{spam: caps.Spam},
	}
}

// executeUnsubscribe gates the sender, then walks the strategy chain until a
// stage succeeds. A suspicious link only blocks the HTTP stage; later stages
// still run. If nothing succeeds and that link was the only usable option,
// the result asks for confirmation instead of failing.
func (o *Orchestrator) executeUnsubscribe(ctx context.Context, item model.NormalizedItem, caps Capabilities, opts Options) Result {
	if v := safety.CanActOnSender(item); !v.Allowed {
		return denied(KindUnsubscribe, v.Reason)
	}
	if safety.DomainTier(item.FromDomain) == model.TierCaution && !opts.Confirmed {
		return needsConfirmation(KindUnsubscribe, item.FromDomain+" also sends account mail")
	}

	var (
		confirmReason string
		errs          []error
		lastReason    string
	)
	for _, s := range o.unsubscribeChain(caps, opts) {
		a := s.Attempt(ctx, item)
		switch a.Status {
		case AttemptSucceeded:
			meta := Meta{Method: s.Method(), FallbackUsed: s.Fallback(), FilterID: a.FilterID}
			metrics.UnsubscribeMethodTotal.WithLabelValues(s.Method(), fmt.Sprint(s.Fallback())).Inc()
			return o.succeed(KindUnsubscribe, item, meta, caps)
		case AttemptNeedsConfirmation:
			confirmReason = a.Reason
		case AttemptFailed:
			logger.Debug("Unsubscribe stage failed", "method", s.Method(), "item", item.ID, "error", a.Err)
			lastReason = a.Reason
			errs = append(errs, fmt.Errorf("%s: %w", s.Method(), a.Err))
		}
	}

	if confirmReason != "" && len(errs) == 0 {
		return needsConfirmation(KindUnsubscribe, confirmReason)
	}
	if len(errs) == 0 {
		return failed(KindUnsubscribe, "no unsubscribe method available", ErrCapabilityMissing)
	}
	return failed(KindUnsubscribe, lastReason, errors.Join(errs...))
}

// ParseMailto turns a mailto: link into a message. Subject and body default
// to "unsubscribe".
func ParseMailto(raw string) (source.OutgoingMail, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return source.OutgoingMail{}, fmt.Errorf("parsing mailto link: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "mailto") {
		return source.OutgoingMail{}, fmt.Errorf("not a mailto link: %q", raw)
	}

	to := u.Opaque
	if to == "" {
		to = u.Path
	}
	if unescaped, err := url.PathUnescape(to); err == nil {
		to = unescaped
	}
	q := u.Query()
	if to == "" {
		to = q.Get("to")
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return source.OutgoingMail{}, fmt.Errorf("parsing mailto address %q: %w", to, err)
	}

	msg := source.OutgoingMail{
		To:      addr.Address,
		Subject: q.Get("subject"),
		Body:    q.Get("body"),
	}
	if msg.Subject == "" {
		msg.Subject = "unsubscribe"
	}
	if msg.Body == "" {
		msg.Body = "unsubscribe"
	}
	return msg, nil
}
