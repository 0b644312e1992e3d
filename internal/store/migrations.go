package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sender_stats (
	address    TEXT PRIMARY KEY,
	domain     TEXT NOT NULL,
	seen_count INTEGER NOT NULL DEFAULT 0,
	disposals  INTEGER NOT NULL DEFAULT 0,
	keeps      INTEGER NOT NULL DEFAULT 0,
	first_seen DATETIME NOT NULL,
	last_seen  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS filters (
	id         TEXT PRIMARY KEY,
	scope      TEXT NOT NULL CHECK(scope IN ('sender', 'domain')),
	match      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(scope, match)
);

CREATE TABLE IF NOT EXISTS action_log (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL,
	sender     TEXT NOT NULL,
	domain     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	success    INTEGER NOT NULL DEFAULT 0 CHECK(success IN (0, 1)),
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sender_stats_domain ON sender_stats(domain);
CREATE INDEX IF NOT EXISTS idx_action_log_sender ON action_log(sender);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_action_log_created_at
	ON action_log(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
