package action

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

// fakeProvider is an in-memory mailbox implementing every capability.
type fakeProvider struct {
	mu sync.Mutex

	trashed  map[string]bool
	filters  map[string]source.FilterSpec
	spam     []string
	sent     []source.OutgoingMail
	bySender map[string][]string
	byDomain map[string][]string

	nextFilter int
	calls      []string

	trashErr  error
	filterErr error
	bulkErr   error
	enumErr   error
	spamErr   error
	sendErr   error
	deleteErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		trashed:  make(map[string]bool),
		filters:  make(map[string]source.FilterSpec),
		bySender: make(map[string][]string),
		byDomain: make(map[string][]string),
	}
}

func (p *fakeProvider) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) Trash(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("trash")
	if p.trashErr != nil {
		return "", p.trashErr
	}
	p.trashed[id] = true
	return "trash-" + id, nil
}

func (p *fakeProvider) Untrash(_ context.Context, restoreID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("untrash")
	id := strings.TrimPrefix(restoreID, "trash-")
	if !p.trashed[id] {
		return "", fmt.Errorf("message %s is not in trash", id)
	}
	delete(p.trashed, id)
	return "restored-" + id, nil
}

func (p *fakeProvider) TrashMany(_ context.Context, ids []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("trash_many")
	if p.bulkErr != nil {
		return 0, p.bulkErr
	}
	for _, id := range ids {
		p.trashed[id] = true
	}
	return len(ids), nil
}

func (p *fakeProvider) CreateFilter(_ context.Context, spec source.FilterSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create_filter")
	if p.filterErr != nil {
		return "", p.filterErr
	}
	p.nextFilter++
	id := fmt.Sprintf("filter-%d", p.nextFilter)
	p.filters[id] = spec
	return id, nil
}

func (p *fakeProvider) DeleteFilter(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete_filter")
	if p.deleteErr != nil {
		return p.deleteErr
	}
	if _, ok := p.filters[id]; !ok {
		return fmt.Errorf("filter %s not found", id)
	}
	delete(p.filters, id)
	return nil
}

func (p *fakeProvider) ListBySender(_ context.Context, addr string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("list_sender")
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	return p.bySender[addr], nil
}

func (p *fakeProvider) ListByDomain(_ context.Context, domain string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("list_domain")
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	return p.byDomain[domain], nil
}

func (p *fakeProvider) SendMail(_ context.Context, msg source.OutgoingMail) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("send_mail")
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakeProvider) MarkSpam(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("mark_spam")
	if p.spamErr != nil {
		return p.spamErr
	}
	p.spam = append(p.spam, id)
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func bulkItem(id string) model.NormalizedItem {
	return model.NormalizedItem{
		ID:          id,
		ProviderID:  "uid-" + id,
		FromAddress: "news@shop.example",
		FromName:    "Shop",
		FromDomain:  "shop.example",
		Subject:     "Weekly deals",
	}
}

// sequentialTokens returns tok-1, tok-2, ...
func sequentialTokens() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("tok-%d", n)
	}
}
