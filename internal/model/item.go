package model

import (
	"strings"
	"time"
)

// Category is the coarse bulk category a provider assigned to a message.
type Category string

const (
	CategoryNone       Category = ""
	CategoryPrimary    Category = "primary"
	CategoryPromotions Category = "promotions"
	CategorySocial     Category = "social"
	CategoryUpdates    Category = "updates"
	CategoryForums     Category = "forums"
)

// Unsubscribe describes the unsubscribe options advertised by a message.
type Unsubscribe struct {
	// HTTPURL is the first http(s) link from List-Unsubscribe.
	HTTPURL string `json:"http_url,omitempty"`

	// Mailto is the raw mailto: target from List-Unsubscribe, including
	// any subject/body query parameters.
	Mailto string `json:"mailto,omitempty"`

	// OneClick is true when List-Unsubscribe-Post advertises RFC 8058
	// one-click unsubscription.
	OneClick bool `json:"one_click,omitempty"`
}

// IsZero reports whether no unsubscribe option is present.
func (u Unsubscribe) IsZero() bool {
	return u.HTTPURL == "" && u.Mailto == ""
}

// NormalizedItem is the provider-agnostic representation of one message.
// Values are produced by the normalization boundary and never mutated
// afterwards.
type NormalizedItem struct {
	// ID is the stable identifier used by the buffer and the UI.
	ID string `json:"id"`

	// ProviderID is the identifier the mail provider understands
	// (an IMAP UID, a Gmail message id, ...).
	ProviderID string `json:"provider_id"`

	// FromAddress is the lower-cased sender address.
	FromAddress string `json:"from_address"`

	// FromName is the sender display name, possibly empty.
	FromName string `json:"from_name"`

	// FromDomain is the lower-cased domain part of FromAddress.
	FromDomain string `json:"from_domain"`

	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`

	Unsubscribe Unsubscribe `json:"unsubscribe"`

	// Category is the provider-assigned bulk category, if any.
	Category Category `json:"category,omitempty"`

	// Labels holds provider labels or IMAP keywords.
	Labels []string `json:"labels,omitempty"`

	// Headers holds detection-relevant header values keyed by the
	// lower-cased header name (precedence, x-mailer, list-id, ...).
	Headers map[string]string `json:"headers,omitempty"`
}

// Header returns the value of a detection header, or "" when absent.
func (it NormalizedItem) Header(name string) string {
	if it.Headers == nil {
		return ""
	}
	return it.Headers[strings.ToLower(name)]
}

// HasHeader reports whether the detection header is present and non-empty.
func (it NormalizedItem) HasHeader(name string) bool {
	return strings.TrimSpace(it.Header(name)) != ""
}

// LocalPart returns the part of FromAddress before the last '@'.
func (it NormalizedItem) LocalPart() string {
	at := strings.LastIndexByte(it.FromAddress, '@')
	if at < 0 {
		return it.FromAddress
	}
	return it.FromAddress[:at]
}

// HasUnsubscribe reports whether the item advertises any unsubscribe option.
func (it NormalizedItem) HasUnsubscribe() bool {
	return !it.Unsubscribe.IsZero()
}

// DomainOf returns the lower-cased domain of an email address.
func DomainOf(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}
