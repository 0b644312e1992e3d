package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/inbox-sweep/internal/classify"
	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

// FeedState represents the current state of the feeder.
type FeedState int

const (
	FeedIdle FeedState = iota
	FeedRunning
	FeedError
)

func (s FeedState) String() string {
	switch s {
	case FeedRunning:
		return "syncing"
	case FeedError:
		return "error"
	default:
		return "idle"
	}
}

// FeedStatus holds the state of the most recent fetch.
type FeedStatus struct {
	State    FeedState
	LastSync time.Time
	Error    error

	// AuthFailed is set when the provider rejected the credentials.
	AuthFailed bool

	// Fetched and Skipped count the items of the last batch.
	Fetched int
	Skipped int
}

// FeedStatusMsg is a tea.Msg carrying a status change.
type FeedStatusMsg struct {
	Status FeedStatus
}

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// StatsStore is the part of the store the feeder needs.
type StatsStore interface {
	RecordSeen(ctx context.Context, items []model.NormalizedItem) error
	SenderStats(ctx context.Context, addresses []string) (map[string]model.SenderStats, error)
}

// Feeder turns an ItemSource into the buffer's refill function. Every batch
// is counted into sender statistics and classified; results are kept for
// the UI until Forget is called.
type Feeder struct {
	src           source.ItemSource
	stats         StatsStore
	skipProtected bool
	timeout       time.Duration

	mu       gosync.Mutex
	status   FeedStatus
	results  map[string]model.ClassificationResult
	statusCh chan FeedStatusMsg
}

// Option configures a Feeder.
type Option func(*Feeder)

// WithSkipProtected drops personal and transactional items from batches.
func WithSkipProtected(skip bool) Option {
	return func(f *Feeder) { f.skipProtected = skip }
}

// WithFetchTimeout overrides the per-fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(f *Feeder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFeeder creates a Feeder reading from src.
func NewFeeder(src source.ItemSource, stats StatsStore, opts ...Option) *Feeder {
	f := &Feeder{
		src:      src,
		stats:    stats,
		timeout:  fetchTimeout,
		results:  make(map[string]model.ClassificationResult),
		statusCh: make(chan FeedStatusMsg, 16),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Refill fetches up to n items. It has the signature of buffer.RefillFunc.
func (f *Feeder) Refill(ctx context.Context, n int) ([]model.NormalizedItem, error) {
	f.setStatus(func(s *FeedStatus) { s.State = FeedRunning })

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	items, err := f.src.FetchBatch(ctx, n)
	metrics.ObserveProviderCall("fetch_batch", start, err)
	if err != nil {
		auth := source.IsAuthError(err)
		f.setStatus(func(s *FeedStatus) {
			s.State = FeedError
			s.Error = err
			s.AuthFailed = auth
		})
		return nil, err
	}

	if err := f.stats.RecordSeen(ctx, items); err != nil {
		logger.Warn("Recording sender sightings failed", "error", err)
	}

	stats, err := f.stats.SenderStats(ctx, addresses(items))
	if err != nil {
		logger.Warn("Loading sender stats failed", "error", err)
		stats = nil
	}
	results := classify.ClassifyBatch(items, stats)

	kept := items[:0:0]
	skipped := 0
	f.mu.Lock()
	for _, it := range items {
		res := results[it.ID]
		if f.skipProtected && isProtected(res) {
			skipped++
			continue
		}
		f.results[it.ID] = res
		kept = append(kept, it)
	}
	f.mu.Unlock()

	logger.Debug("Fetched batch", "requested", n, "fetched", len(items), "skipped", skipped)
	f.setStatus(func(s *FeedStatus) {
		s.State = FeedIdle
		s.Error = nil
		s.AuthFailed = false
		s.LastSync = time.Now()
		s.Fetched = len(items)
		s.Skipped = skipped
	})
	return kept, nil
}

// isProtected reports whether the scorer tagged the item as mail the user
// must see.
func isProtected(r model.ClassificationResult) bool {
	return r.Type == model.TypePersonal || r.Type == model.TypeTransactional
}

func addresses(items []model.NormalizedItem) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.FromAddress == "" || seen[it.FromAddress] {
			continue
		}
		seen[it.FromAddress] = true
		out = append(out, it.FromAddress)
	}
	return out
}

// Classification returns the stored result for an item.
func (f *Feeder) Classification(id string) (model.ClassificationResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	return r, ok
}

// Remember stores a result for an item that re-entered the buffer
// outside a refill, such as after an undo.
func (f *Feeder) Remember(item model.NormalizedItem) model.ClassificationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[item.ID]; ok {
		return r
	}
	r := classify.Classify(item, nil)
	f.results[item.ID] = r
	return r
}

// Forget drops stored results once items leave the buffer for good.
func (f *Feeder) Forget(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.results, id)
	}
}

// Status returns the current feed status.
func (f *Feeder) Status() FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// setStatus updates the status and publishes it without blocking.
func (f *Feeder) setStatus(update func(*FeedStatus)) {
	f.mu.Lock()
	update(&f.status)
	msg := FeedStatusMsg{Status: f.status}
	f.mu.Unlock()

	select {
	case f.statusCh <- msg:
	default:
		// Drop if channel is full; the next change carries the same state.
	}
}

// Poll calls refill on every tick until ctx is done, so new mail reaches
// an idle buffer.
func (f *Feeder) Poll(ctx context.Context, interval time.Duration, refill func(context.Context)) {
	if interval <= 0 {
		interval = 120 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refill(ctx)
		}
	}
}

// WaitForStatus returns a tea.Cmd that waits for the next status change.
// Call it again after handling each FeedStatusMsg to keep listening.
func (f *Feeder) WaitForStatus() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-f.statusCh
		if !ok {
			return nil
		}
		return msg
	}
}
