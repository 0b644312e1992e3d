// Package safety holds the fixed trust tables and predicates that gate
// every destructive action. All functions are pure.
package safety

import (
	"regexp"
	"strings"

	"github.com/nhle/inbox-sweep/internal/model"
)

// DomainTier classifies a sender domain. The never list is consulted first,
// then caution, then free; the first match wins.
func DomainTier(domain string) model.DomainTier {
	switch {
	case neverTouch.Match(domain):
		return model.TierNever
	case caution.Match(domain):
		return model.TierCaution
	case freelyActionable.Match(domain):
		return model.TierFree
	default:
		return model.TierUnknown
	}
}

var (
	transactionalLocalPart = regexp.MustCompile(
		`(?i)^(receipts?|invoices?|billing|orders?|order-?updates?|` +
			`shipping|shipments?|delivery|deliveries|tracking|security|` +
			`account-?security|verify|verification|password|passwords|` +
			`bookings?|reservations?|tickets?|payments?|statements?|` +
			`alerts?-?security|fraud|auth|2fa|otp)([._+-].*)?$`,
	)

	transactionalSubject = regexp.MustCompile(
		`(?i)\b(receipt|invoice|order\s+(confirmation|confirmed|#|number|` +
			`status)|your\s+order|confirm(ation|ed)?|verify|verification\s+code|` +
			`security\s+(alert|code|notice)|password\s+(reset|change|changed)|` +
			`reset\s+your\s+password|sign-?in\s+attempt|new\s+sign-?in|` +
			`booking|reservation|itinerary|e-?ticket|shipp(ed|ing)|delivered|` +
			`out\s+for\s+delivery|tracking\s+number|payment\s+(received|` +
			`confirmation|failed|due)|one-time\s+(code|password|passcode)|` +
			`two-factor|2fa)\b`,
	)

	personalLocalPart = regexp.MustCompile(`^[a-z]+[._][a-z]+[0-9]{0,4}$`)

	personalDisplayName = regexp.MustCompile(`^[A-Z][a-z]+ [A-Z][a-z]+$`)
)

// IsTransactional reports whether the sender local part or the subject
// carries a transactional marker (receipts, confirmations, security alerts,
// password resets, bookings, shipping).
func IsTransactional(item model.NormalizedItem) bool {
	return transactionalLocalPart.MatchString(item.LocalPart()) ||
		transactionalSubject.MatchString(item.Subject)
}

// IsPersonal reports whether the item looks like it was written by a person:
// a free consumer mailbox with a first.last local part, or a "First Last"
// display name.
func IsPersonal(item model.NormalizedItem) bool {
	if IsFreeMailDomain(item.FromDomain) &&
		personalLocalPart.MatchString(strings.ToLower(item.LocalPart())) {
		return true
	}
	return personalDisplayName.MatchString(strings.TrimSpace(item.FromName))
}

// CanActOnSender gates sender-level actions (unsubscribe, block).
func CanActOnSender(item model.NormalizedItem) model.SafetyVerdict {
	if IsPersonal(item) {
		return model.Deny("sender looks like a person")
	}
	if IsTransactional(item) {
		return model.Deny("message looks transactional")
	}
	if DomainTier(item.FromDomain) == model.TierNever {
		return model.Deny(item.FromDomain + " is on the never-touch list")
	}
	return model.Allow()
}

// CanActOnDomain gates domain-wide actions. Unknown domains are allowed
// without confirmation.
func CanActOnDomain(domain string) model.SafetyVerdict {
	switch DomainTier(domain) {
	case model.TierNever:
		return model.Deny(domain + " is on the never-touch list")
	case model.TierCaution:
		return model.Confirm(domain + " also sends account mail")
	default:
		return model.Allow()
	}
}
