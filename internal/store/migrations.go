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

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	account_id INTEGER NOT NULL DEFAULT 0,
	origin     TEXT NOT NULL,
	level      TEXT NOT NULL DEFAULT 'info',
	message    TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id               TEXT PRIMARY KEY,
	account_id       INTEGER NOT NULL,
	folder           TEXT NOT NULL DEFAULT '',
	auto_classify    INTEGER NOT NULL DEFAULT 0 CHECK(auto_classify IN (0, 1)),
	status           TEXT NOT NULL CHECK(status IN ('success', 'error', 'disconnected', 'incomplete')),
	new_messages     INTEGER NOT NULL DEFAULT 0,
	classified_count INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	started_at       DATETIME NOT NULL,
	finished_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS classify_runs (
	id          TEXT PRIMARY KEY,
	account_id  INTEGER NOT NULL DEFAULT 0,
	total       INTEGER NOT NULL,
	classified  INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_classify_runs_started ON classify_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_account_started
	ON sync_runs(account_id, started_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
