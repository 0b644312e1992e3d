// Package source defines the provider capabilities the triage core calls.
// Each capability is a small interface; a provider implements the ones it
// supports and callers type-assert or pass them explicitly.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/inbox-sweep/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// provider. It is returned when the server rejects the login.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ItemSource yields batches of normalized items for the buffer.
type ItemSource interface {
	// FetchBatch returns up to n items not returned before in this
	// session. An empty result means the source is drained for now.
	FetchBatch(ctx context.Context, n int) ([]model.NormalizedItem, error)
}

// Trasher moves single messages to and from the trash.
type Trasher interface {
	// Trash moves the message to the trash and returns the id under which
	// it can be restored.
	Trash(ctx context.Context, providerID string) (restoreID string, err error)

	// Untrash restores a message previously trashed and returns its
	// provider id in the inbox, which may differ from the original.
	Untrash(ctx context.Context, restoreID string) (providerID string, err error)
}

// BulkTrasher moves many messages to the trash in one go.
type BulkTrasher interface {
	// TrashMany returns the number of messages moved.
	TrashMany(ctx context.Context, providerIDs []string) (int, error)
}

// FilterScope says what a filter matches on.
type FilterScope string

const (
	FilterSender FilterScope = "sender"
	FilterDomain FilterScope = "domain"
)

// FilterSpec describes a block filter to create.
type FilterSpec struct {
	// Scope selects sender or domain matching.
	Scope FilterScope

	// Match is the sender address or the domain.
	Match string
}

// FilterManager creates and deletes provider-side block filters.
type FilterManager interface {
	CreateFilter(ctx context.Context, spec FilterSpec) (filterID string, err error)
	DeleteFilter(ctx context.Context, filterID string) error
}

// Enumerator lists message ids by origin.
type Enumerator interface {
	ListBySender(ctx context.Context, address string) ([]string, error)
	ListByDomain(ctx context.Context, domain string) ([]string, error)
}

// OutgoingMail is a plain-text message for the mailto unsubscribe path.
type OutgoingMail struct {
	To      string
	Subject string
	Body    string
}

// MailSender sends mail on behalf of the user.
type MailSender interface {
	SendMail(ctx context.Context, msg OutgoingMail) error
}

// SpamMarker reports a single message as spam.
type SpamMarker interface {
	MarkSpam(ctx context.Context, providerID string) error
}

// Provider bundles every capability. Implementations that lack one can
// still be used through the individual interfaces.
type Provider interface {
	ItemSource
	Trasher
	BulkTrasher
	FilterManager
	Enumerator
	MailSender
	SpamMarker
}
