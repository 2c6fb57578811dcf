package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS editions (
    id TEXT PRIMARY KEY,
    index_url TEXT NOT NULL,
    date_token TEXT NOT NULL,
    title TEXT NOT NULL,
    article_count INTEGER DEFAULT 0,
    failed_count INTEGER DEFAULT 0,
    html TEXT NOT NULL,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_editions_date ON editions(date_token);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "per-article outcomes and markdown rendition",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS edition_articles (
    edition_id TEXT NOT NULL REFERENCES editions(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('ok', 'failed')),
    reason TEXT,
    PRIMARY KEY (edition_id, idx)
);
`)
			if err != nil {
				return err
			}
			if ok, err := hasColumn(tx, "editions", "markdown"); err != nil || ok {
				return err
			}
			_, err = tx.Exec(`ALTER TABLE editions ADD COLUMN markdown TEXT`)
			return err
		},
	},
}

// hasColumn keeps ALTER TABLE migrations re-runnable.
func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
