package email

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

// ErrRestoreUnknown is returned when a message was moved but the server
// reported no UID for it in the destination and no Message-ID search
// found it.
var ErrRestoreUnknown = errors.New("destination UID unknown")

// maxFetchRounds bounds how many extra rounds FetchBatch runs when block
// filters consume a whole round.
const maxFetchRounds = 5

// FilterStore persists block filters. IMAP has no server-side filter API,
// so the provider applies them itself while fetching.
type FilterStore interface {
	CreateFilter(ctx context.Context, f model.BlockFilter) (model.BlockFilter, error)
	DeleteFilter(ctx context.Context, id string) error
	ActiveFilters(ctx context.Context) ([]model.BlockFilter, error)
}

// Provider implements every source capability over IMAP and SMTP.
type Provider struct {
	imapClient *IMAPClient
	smtpConfig SMTPConfig
	mailboxes  Mailboxes
	filters    FilterStore

	mu sync.Mutex
	// seen holds the inbox UIDs returned by FetchBatch this session.
	seen map[imap.UID]bool
	// inboxIDs and trashIDs map UIDs to Message-IDs for COPYUID-less servers.
	inboxIDs map[string]string
	trashIDs map[string]string
}

var _ source.Provider = (*Provider)(nil)

// NewProvider creates a provider for the account. The password is used for
// both IMAP and SMTP.
func NewProvider(cfg model.AccountConfig, password string, filters FilterStore) *Provider {
	return &Provider{
		imapClient: NewIMAPClient(
			cfg.IMAPHost, cfg.IMAPPort, cfg.Username, password, cfg.TLS,
			cfg.RequestsPerSecond,
		),
		smtpConfig: SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: password,
			TLS:      cfg.TLS,
		},
		mailboxes: Mailboxes{
			Inbox: cfg.Inbox,
			Trash: cfg.Trash,
			Junk:  cfg.Junk,
		}.withDefaults(),
		filters:  filters,
		seen:     make(map[imap.UID]bool),
		inboxIDs: make(map[string]string),
		trashIDs: make(map[string]string),
	}
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting the inbox.
func (p *Provider) ValidateConnection(ctx context.Context) error {
	client, err := p.imapClient.Connect(ctx)
	if err != nil {
		return fmt.Errorf("validating email connection: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(p.mailboxes.Inbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", p.mailboxes.Inbox, err)
	}

	return nil
}

// FetchBatch returns up to n inbox messages, newest first, that were not
// returned earlier in this session. Messages matched by a block filter are
// moved to the trash instead of being returned.
func (p *Provider) FetchBatch(ctx context.Context, n int) ([]model.NormalizedItem, error) {
	if n < 1 {
		return nil, nil
	}

	filters, err := p.filters.ActiveFilters(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading block filters: %w", err)
	}

	uids, err := p.imapClient.ListUIDs(ctx, p.mailboxes.Inbox)
	if err != nil {
		return nil, err
	}

	var items []model.NormalizedItem
	for round := 0; round < maxFetchRounds && len(items) == 0; round++ {
		candidates := p.unseen(uids, n)
		if len(candidates) == 0 {
			break
		}

		raws, err := p.imapClient.FetchHeaders(ctx, p.mailboxes.Inbox, candidates)
		if err != nil {
			return nil, err
		}
		p.markSeen(candidates)

		var blocked []imap.UID
		for _, raw := range raws {
			item, err := normalize(raw)
			if err != nil {
				logger.Warn("Skipping unparsable message", "uid", raw.UID, "error", err)
				continue
			}
			p.rememberMessageID(p.inboxIDs, item.ProviderID, raw.Header)

			if f, ok := matchFilter(filters, item); ok {
				logger.Debug("Message matched block filter", "uid", raw.UID, "filter", f.ID)
				blocked = append(blocked, raw.UID)
				continue
			}
			items = append(items, item)
		}

		if len(blocked) > 0 {
			if _, err := p.imapClient.Move(ctx, p.mailboxes.Inbox, blocked, p.mailboxes.Trash); err != nil {
				logger.Warn("Trashing filtered messages failed", "count", len(blocked), "error", err)
			}
		}
	}

	return items, nil
}

// unseen returns up to n UIDs not yet handed out, preserving order.
func (p *Provider) unseen(uids []imap.UID, n int) []imap.UID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []imap.UID
	for _, uid := range uids {
		if p.seen[uid] {
			continue
		}
		out = append(out, uid)
		if len(out) == n {
			break
		}
	}
	return out
}

func (p *Provider) markSeen(uids []imap.UID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, uid := range uids {
		p.seen[uid] = true
	}
}

// matchFilter returns the first filter that applies to item.
func matchFilter(filters []model.BlockFilter, item model.NormalizedItem) (model.BlockFilter, bool) {
	for _, f := range filters {
		if f.Matches(item) {
			return f, true
		}
	}
	return model.BlockFilter{}, false
}

// Trash moves the message to the trash mailbox. The restore ID is the
// message's UID in the trash.
func (p *Provider) Trash(ctx context.Context, providerID string) (string, error) {
	uid, err := parseUID(providerID)
	if err != nil {
		return "", err
	}
	restoreID, err := p.moveOne(ctx, uid, p.lookupMessageID(p.inboxIDs, providerID), p.mailboxes.Inbox, p.mailboxes.Trash)
	if err != nil {
		return "", fmt.Errorf("trashing message %s: %w", providerID, err)
	}
	p.mu.Lock()
	p.trashIDs[restoreID] = p.inboxIDs[providerID]
	p.mu.Unlock()
	return restoreID, nil
}

// Untrash moves a trashed message back to the inbox and returns its new
// inbox UID.
func (p *Provider) Untrash(ctx context.Context, restoreID string) (string, error) {
	uid, err := parseUID(restoreID)
	if err != nil {
		return "", err
	}
	providerID, err := p.moveOne(ctx, uid, p.lookupMessageID(p.trashIDs, restoreID), p.mailboxes.Trash, p.mailboxes.Inbox)
	if err != nil {
		return "", fmt.Errorf("restoring message %s: %w", restoreID, err)
	}
	p.mu.Lock()
	p.inboxIDs[providerID] = p.trashIDs[restoreID]
	delete(p.trashIDs, restoreID)
	// The restored UID is new; hand it out again only through the undo path.
	if n, err := strconv.ParseUint(providerID, 10, 32); err == nil {
		p.seen[imap.UID(n)] = true
	}
	p.mu.Unlock()
	return providerID, nil
}

// moveOne moves a single message and resolves its UID in dest, using
// COPYUID when available and a Message-ID search otherwise.
func (p *Provider) moveOne(
	ctx context.Context, uid imap.UID, messageID, from, dest string,
) (string, error) {
	destUIDs, err := p.imapClient.Move(ctx, from, []imap.UID{uid}, dest)
	if err != nil {
		return "", err
	}
	if len(destUIDs) == 1 {
		return formatUID(destUIDs[0]), nil
	}
	if messageID == "" {
		return "", ErrRestoreUnknown
	}
	found, err := p.imapClient.SearchMessageID(ctx, dest, messageID)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", ErrRestoreUnknown
	}
	return formatUID(found[0]), nil
}

// TrashMany moves the messages to the trash in one MOVE command.
func (p *Provider) TrashMany(ctx context.Context, providerIDs []string) (int, error) {
	uids := make([]imap.UID, 0, len(providerIDs))
	for _, id := range providerIDs {
		uid, err := parseUID(id)
		if err != nil {
			return 0, err
		}
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return 0, nil
	}
	if _, err := p.imapClient.Move(ctx, p.mailboxes.Inbox, uids, p.mailboxes.Trash); err != nil {
		return 0, fmt.Errorf("trashing %d message(s): %w", len(uids), err)
	}
	return len(uids), nil
}

// MarkSpam moves the message to the junk mailbox.
func (p *Provider) MarkSpam(ctx context.Context, providerID string) error {
	uid, err := parseUID(providerID)
	if err != nil {
		return err
	}
	if _, err := p.imapClient.Move(ctx, p.mailboxes.Inbox, []imap.UID{uid}, p.mailboxes.Junk); err != nil {
		return fmt.Errorf("moving message %s to %s: %w", providerID, p.mailboxes.Junk, err)
	}
	return nil
}

// ListBySender returns the inbox UIDs of messages from address.
func (p *Provider) ListBySender(ctx context.Context, address string) ([]string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	return p.listMatching(ctx, address, func(it model.NormalizedItem) bool {
		return it.FromAddress == address
	})
}

// ListByDomain returns the inbox UIDs of messages from domain or any of
// its subdomains.
func (p *Provider) ListByDomain(ctx context.Context, domain string) ([]string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	rule := model.BlockFilter{Scope: string(source.FilterDomain), Match: domain}
	return p.listMatching(ctx, domain, rule.Matches)
}

// listMatching runs a substring From search and confirms each hit against
// the parsed sender, since IMAP SEARCH matches substrings.
func (p *Provider) listMatching(
	ctx context.Context,
	pattern string,
	match func(model.NormalizedItem) bool,
) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}
	uids, err := p.imapClient.SearchFrom(ctx, p.mailboxes.Inbox, pattern)
	if err != nil {
		return nil, err
	}
	raws, err := p.imapClient.FetchHeaders(ctx, p.mailboxes.Inbox, uids)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, raw := range raws {
		item, err := normalize(raw)
		if err != nil || !match(item) {
			continue
		}
		ids = append(ids, item.ProviderID)
	}
	return ids, nil
}

// CreateFilter stores a block rule that FetchBatch applies from now on.
func (p *Provider) CreateFilter(ctx context.Context, spec source.FilterSpec) (string, error) {
	f, err := p.filters.CreateFilter(ctx, model.BlockFilter{
		Scope: string(spec.Scope),
		Match: spec.Match,
	})
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

// DeleteFilter removes a block rule.
func (p *Provider) DeleteFilter(ctx context.Context, filterID string) error {
	return p.filters.DeleteFilter(ctx, filterID)
}

// SendMail sends msg from the account address.
func (p *Provider) SendMail(_ context.Context, msg source.OutgoingMail) error {
	if err := sendMail(p.smtpConfig, msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}
	return nil
}

func (p *Provider) rememberMessageID(m map[string]string, key string, header []byte) {
	h, err := parseHeader(header)
	if err != nil {
		return
	}
	id, err := h.MessageID()
	if err != nil || id == "" {
		return
	}
	p.mu.Lock()
	m[key] = id
	p.mu.Unlock()
}

func (p *Provider) lookupMessageID(m map[string]string, key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return m[key]
}

// parseUID converts a provider ID to an IMAP UID.
func parseUID(id string) (imap.UID, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid IMAP UID %q", id)
	}
	return imap.UID(uid), nil
}

func formatUID(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}
