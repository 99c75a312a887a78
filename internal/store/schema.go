// Package store provides SQLite-backed persistence for articles and per-owner
// CMS settings.
package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/pressroom/internal/secret"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS articles (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	owner_id        TEXT NOT NULL,
	title           TEXT NOT NULL,
	topic           TEXT NOT NULL DEFAULT '',
	slug            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'scheduled', 'published')),
	scheduled_at    INTEGER,
	published_at    INTEGER,
	remote_post_id  INTEGER,
	remote_edit_url TEXT,
	content_html    TEXT NOT NULL DEFAULT '',
	word_count      INTEGER NOT NULL DEFAULT 0,
	seo             TEXT NOT NULL DEFAULT '{}',
	lease_token     TEXT,
	lease_until     INTEGER,
	publish_attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_owner ON articles(owner_id, seq);
CREATE INDEX IF NOT EXISTS idx_articles_due ON articles(status, scheduled_at);

CREATE TABLE IF NOT EXISTS cms_settings (
	owner_id     TEXT PRIMARY KEY,
	cms_url      TEXT NOT NULL DEFAULT '',
	username     TEXT NOT NULL DEFAULT '',
	app_password TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL
);
`

// addedColumns are applied to databases created before the column existed.
var addedColumns = []struct{ table, column, decl string }{
	{"articles", "publish_attempts", "INTEGER NOT NULL DEFAULT 0"},
	{"articles", "next_attempt_at", "INTEGER"},
}

func migrate(conn *sql.DB) error {
	for _, c := range addedColumns {
		var n int
		err := conn.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.column).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspect %s.%s: %w", c.table, c.column, err)
		}
		if n > 0 {
			continue
		}
		if _, err := conn.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.decl)); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// DB wraps a sql.DB with article and settings operations.
type DB struct {
	conn   *sql.DB
	sealer secret.Sealer
	psql   sq.StatementBuilderType
}

// Open opens (or creates) the SQLite database and applies the schema.
// sealer protects stored application passwords; nil stores them as given.
func Open(dsn string, sealer secret.Sealer) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	if sealer == nil {
		sealer = secret.Plain{}
	}
	return &DB{
		conn:   conn,
		sealer: sealer,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
