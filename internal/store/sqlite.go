package store

import (
	"context"
	"database/sql"
)

// NewSQLite returns a Store backed by an embedded SQLite database.
func NewSQLite(db *sql.DB) *SQL {
	return newSQL(db, SQLiteDialect(), "")
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		session_id TEXT NOT NULL,
		page TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_created ON analytics_events(type, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_events_page_created ON analytics_events(page, created_at);`,
}

// Migrate ensures the event schema exists. On Postgres it also installs the
// rollup view and the precomputed aggregation functions.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	stmts := sqliteSchema
	if d.Name() == PostgresDialect().Name() {
		stmts = postgresSchema
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
