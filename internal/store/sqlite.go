package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/inbox-sweep/internal/model"
)

// Saturation points for the sender scores.
const (
	frequencySaturation = 20
	reputationStep      = 0.1
)

// disposalKinds are the action kinds that count against a sender.
var disposalKinds = map[string]bool{
	"delete":      true,
	"unsubscribe": true,
	"block":       true,
	"domain_nuke": true,
}

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// RecordSeen increments the seen counter of every item's sender.
func (s *SQLiteStore) RecordSeen(ctx context.Context, items []model.NormalizedItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO sender_stats (address, domain, seen_count, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			seen_count = seen_count + 1,
			last_seen  = excluded.last_seen`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing seen statement: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, it := range items {
		if it.FromAddress == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, it.FromAddress, it.FromDomain, now, now); err != nil {
			return fmt.Errorf("recording sender %s: %w", it.FromAddress, err)
		}
	}

	return tx.Commit()
}

// RecordAction appends to the action log and, for successful actions,
// bumps the sender's disposal or keep counter.
func (s *SQLiteStore) RecordAction(
	ctx context.Context,
	item model.NormalizedItem,
	kind string,
	success bool,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO action_log (id, item_id, sender, domain, kind, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), item.ID, item.FromAddress, item.FromDomain,
		kind, boolToInt(success), now,
	)
	if err != nil {
		return fmt.Errorf("logging %s action: %w", kind, err)
	}

	if success && item.FromAddress != "" {
		column := ""
		switch {
		case disposalKinds[kind]:
			column = "disposals"
		case kind == "keep":
			column = "keeps"
		}
		if column != "" {
			query := fmt.Sprintf(`
				INSERT INTO sender_stats (address, domain, %[1]s, first_seen, last_seen)
				VALUES (?, ?, 1, ?, ?)
				ON CONFLICT(address) DO UPDATE SET %[1]s = %[1]s + 1`, column)
			if _, err := tx.ExecContext(ctx, query, item.FromAddress, item.FromDomain, now, now); err != nil {
				return fmt.Errorf("updating %s for %s: %w", column, item.FromAddress, err)
			}
		}
	}

	return tx.Commit()
}

// senderRow mirrors the counters of sender_stats.
type senderRow struct {
	Address   string `db:"address"`
	SeenCount int    `db:"seen_count"`
	Disposals int    `db:"disposals"`
	Keeps     int    `db:"keeps"`
}

// SenderStats computes frequency and reputation scores for the requested
// addresses.
func (s *SQLiteStore) SenderStats(
	ctx context.Context,
	addresses []string,
) (map[string]model.SenderStats, error) {
	out := make(map[string]model.SenderStats, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		"SELECT address, seen_count, disposals, keeps FROM sender_stats WHERE address IN (?)",
		addresses,
	)
	if err != nil {
		return nil, fmt.Errorf("building sender stats query: %w", err)
	}

	var rows []senderRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying sender stats: %w", err)
	}

	for _, r := range rows {
		out[r.Address] = scoreSender(r)
	}
	return out, nil
}

// scoreSender maps raw counters to scores in [0,1]. Frequency saturates at
// 20 sightings; reputation starts neutral and moves 0.1 per disposal (up)
// or keep (down).
func scoreSender(r senderRow) model.SenderStats {
	freq := float64(r.SeenCount) / frequencySaturation
	if freq > 1 {
		freq = 1
	}
	rep := 0.5 + reputationStep*float64(r.Disposals-r.Keeps)
	switch {
	case rep < 0:
		rep = 0
	case rep > 1:
		rep = 1
	}
	return model.SenderStats{FrequencyScore: freq, ReputationScore: rep}
}

// CreateFilter stores a block filter. Creating a filter that already exists
// returns the existing one.
func (s *SQLiteStore) CreateFilter(ctx context.Context, f model.BlockFilter) (model.BlockFilter, error) {
	f.Match = strings.ToLower(strings.TrimSpace(f.Match))
	if f.Match == "" {
		return model.BlockFilter{}, fmt.Errorf("creating filter: empty match")
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (id, scope, match, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, match) DO NOTHING`,
		f.ID, f.Scope, f.Match, f.CreatedAt,
	)
	if err != nil {
		return model.BlockFilter{}, fmt.Errorf("creating %s filter %s: %w", f.Scope, f.Match, err)
	}

	var stored model.BlockFilter
	err = s.db.GetContext(ctx, &stored,
		"SELECT id, scope, match, created_at FROM filters WHERE scope = ? AND match = ?",
		f.Scope, f.Match,
	)
	if err != nil {
		return model.BlockFilter{}, fmt.Errorf("reading filter %s: %w", f.Match, err)
	}
	return stored, nil
}

// DeleteFilter removes a filter by ID.
func (s *SQLiteStore) DeleteFilter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM filters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting filter %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("deleting filter %s: not found", id)
	}
	return nil
}

// ActiveFilters returns every stored filter, oldest first.
func (s *SQLiteStore) ActiveFilters(ctx context.Context) ([]model.BlockFilter, error) {
	var filters []model.BlockFilter
	err := s.db.SelectContext(ctx, &filters,
		"SELECT id, scope, match, created_at FROM filters ORDER BY created_at, id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying filters: %w", err)
	}
	return filters, nil
}

// RecentActions returns up to limit log entries, newest first.
func (s *SQLiteStore) RecentActions(ctx context.Context, limit int) ([]model.ActionEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, item_id, sender, domain, kind, success, created_at
		FROM action_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying action log: %w", err)
	}
	defer rows.Close()

	var entries []model.ActionEntry
	for rows.Next() {
		e, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// scanAction scans an action_log row from a sqlx.Rows result set.
func scanAction(rows *sqlx.Rows) (model.ActionEntry, error) {
	var (
		e          model.ActionEntry
		successInt int
		createdAt  time.Time
	)

	err := rows.Scan(
		&e.ID, &e.ItemID, &e.Sender, &e.Domain,
		&e.Kind, &successInt, &createdAt,
	)
	if err != nil {
		return model.ActionEntry{}, fmt.Errorf("scanning action row: %w", err)
	}

	e.Success = successInt != 0
	e.CreatedAt = createdAt

	return e, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
