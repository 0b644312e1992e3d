package email

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"golang.org/x/time/rate"

	"github.com/nhle/inbox-sweep/internal/source"
)

// providerName labels auth errors raised by this package.
const providerName = "imap"

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
// Every operation opens its own connection; the limiter paces logins and
// commands so bulk actions do not trip server throttling.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool

	limiter *rate.Limiter
}

// NewIMAPClient creates a new IMAP client configuration. rps <= 0 disables
// pacing.
func NewIMAPClient(
	host, port, username, password string, tls bool, rps float64,
) *IMAPClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for IMAP rate limit: %w", err)
	}

	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Provider: providerName,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// withMailbox connects, selects mailbox and runs fn with the session.
func (c *IMAPClient) withMailbox(
	ctx context.Context,
	mailbox string,
	fn func(*imapclient.Client) error,
) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	return fn(client)
}

// ListUIDs returns the UIDs in mailbox that are not flagged deleted,
// newest first.
func (c *IMAPClient) ListUIDs(ctx context.Context, mailbox string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagDeleted},
	}
	return c.search(ctx, mailbox, criteria)
}

// SearchFrom returns the UIDs in mailbox whose From header contains
// pattern, newest first.
func (c *IMAPClient) SearchFrom(ctx context.Context, mailbox, pattern string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		Header:  []imap.SearchCriteriaHeaderField{{Key: "From", Value: pattern}},
		NotFlag: []imap.Flag{imap.FlagDeleted},
	}
	return c.search(ctx, mailbox, criteria)
}

// SearchMessageID returns the UIDs in mailbox carrying the Message-ID.
func (c *IMAPClient) SearchMessageID(ctx context.Context, mailbox, messageID string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: messageID}},
	}
	return c.search(ctx, mailbox, criteria)
}

func (c *IMAPClient) search(
	ctx context.Context,
	mailbox string,
	criteria *imap.SearchCriteria,
) ([]imap.UID, error) {
	var uids []imap.UID
	err := c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		searchData, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching %s: %w", mailbox, err)
		}
		uids = searchData.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

// FetchHeaders fetches the header section, flags and internal date of the
// given UIDs. Messages the server fails to return are skipped.
func (c *IMAPClient) FetchHeaders(
	ctx context.Context, mailbox string, uids []imap.UID,
) ([]rawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	headerSection := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{headerSection},
	}

	var msgs []rawMessage
	err := c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
		defer fetchCmd.Close()

		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}

			buf, err := msg.Collect()
			if err != nil {
				continue
			}

			raw := rawMessage{
				UID:          buf.UID,
				Header:       buf.FindBodySection(headerSection),
				InternalDate: buf.InternalDate,
			}
			for _, flag := range buf.Flags {
				raw.Flags = append(raw.Flags, string(flag))
			}
			msgs = append(msgs, raw)
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("fetching headers: %w", err)
		}
		return nil
	})

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID > msgs[j].UID })
	return msgs, err
}

// Move moves the UIDs from mailbox to dest and returns the UIDs assigned in
// dest, in ascending source UID order, when the server reports them
// (COPYUID).
func (c *IMAPClient) Move(
	ctx context.Context, mailbox string, uids []imap.UID, dest string,
) ([]imap.UID, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	var destUIDs []imap.UID
	err := c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		moveData, err := client.Move(imap.UIDSetNum(uids...), dest).Wait()
		if err != nil {
			return fmt.Errorf("moving %d message(s) to %s: %w", len(uids), dest, err)
		}
		if moveData != nil {
			if set, ok := moveData.DestUIDs.(imap.UIDSet); ok {
				destUIDs = uidSetToSlice(set)
			}
		}
		return nil
	})
	return destUIDs, err
}

// uidSetToSlice expands a UID set. Open-ended ranges are not expanded.
func uidSetToSlice(set imap.UIDSet) []imap.UID {
	var out []imap.UID
	for _, r := range set {
		if r.Stop == 0 || r.Stop < r.Start {
			out = append(out, r.Start)
			continue
		}
		for uid := r.Start; uid <= r.Stop; uid++ {
			out = append(out, uid)
		}
	}
	return out
}

// normalizeFlag strips the system/keyword prefixes from an IMAP flag.
func normalizeFlag(flag string) string {
	return strings.TrimLeft(flag, `\$`)
}
