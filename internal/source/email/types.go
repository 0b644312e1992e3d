package email

import (
	"time"

	"github.com/emersion/go-imap/v2"
)

// rawMessage is the part of an IMAP message the provider fetches: the
// header section plus the metadata the server keeps next to it.
type rawMessage struct {
	UID          imap.UID
	Header       []byte
	Flags        []string
	InternalDate time.Time
}

// Mailboxes names the folders the provider moves messages between.
type Mailboxes struct {
	Inbox string
	Trash string
	Junk  string
}

// withDefaults fills empty mailbox names with the common defaults.
func (m Mailboxes) withDefaults() Mailboxes {
	if m.Inbox == "" {
		m.Inbox = "INBOX"
	}
	if m.Trash == "" {
		m.Trash = "Trash"
	}
	if m.Junk == "" {
		m.Junk = "Junk"
	}
	return m
}

// SMTPConfig holds the SMTP server settings for sending unsubscribe mail.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}
