package docstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/keel/internal/schema"
)

// SQLite layout: one documents table keyed by (tbl, id) holding JSON
// bodies, one index_entries table holding order-preserving binary keys
// per declared index. A byte-wise range scan over index_entries(key)
// visits documents in index order, which is all the scan capability
// the Store contract promises.
const storeDDL = `
CREATE TABLE IF NOT EXISTS documents (
	tbl  TEXT NOT NULL,
	id   TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (tbl, id)
);

CREATE TABLE IF NOT EXISTS index_entries (
	tbl TEXT NOT NULL,
	idx TEXT NOT NULL,
	key BLOB NOT NULL,
	id  TEXT NOT NULL,
	PRIMARY KEY (tbl, idx, key, id)
);

CREATE INDEX IF NOT EXISTS index_entries_by_doc ON index_entries (tbl, id);
`

// SQLiteStore is a Store backed by a single SQLite database. It
// maintains index_entries for every index and unique index the schema
// declares.
type SQLiteStore struct {
	db     *sql.DB
	schema *schema.Schema
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at the given path.
// Use ":memory:" for tests.
//
// The database is configured with WAL mode for concurrent reads,
// NORMAL synchronous mode, and a 5-second busy timeout. SQLite only
// supports one writer at a time, so the pool is capped at a single
// connection to avoid SQLITE_BUSY errors.
func OpenSQLite(path string, sc *schema.Schema) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(storeDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}

	return &SQLiteStore{db: db, schema: sc}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// indexesFor returns the indexes whose entries this store maintains
// for a table: declared indexes plus unique indexes.
func (s *SQLiteStore) indexesFor(table string) []schema.Index {
	t := s.schema.Table(table)
	if t == nil {
		return nil
	}
	return t.AllIndexes()
}
