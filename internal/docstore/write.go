package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/keel/internal/doc"
)

// Insert stores a new document. A missing id field gets a UUIDv7, so
// insertion order roughly matches id order. The document body and all
// of its index entries are written in one SQLite transaction; that is
// the per-document atomicity the Store contract promises.
func (s *SQLiteStore) Insert(ctx context.Context, table string, d doc.Doc) (doc.ID, error) {
	d, err := doc.NormalizeDoc(d)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	id := d.ID()
	if id == "" {
		id = doc.ID(uuid.Must(uuid.NewV7()).String())
		d[doc.IDField] = string(id)
	}

	body, err := json.Marshal(map[string]any(d))
	if err != nil {
		return "", fmt.Errorf("insert into %s: marshal body: %w", table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (tbl, id, body) VALUES (?, ?, ?)`,
		table, string(id), string(body),
	); err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	if err := s.writeIndexEntries(ctx, tx, table, id, d); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}

// Patch merges partial fields into an existing document and rewrites
// its index entries. Patching an absent document is an error.
func (s *SQLiteStore) Patch(ctx context.Context, table string, id doc.ID, partial doc.Doc) error {
	partial, err := doc.NormalizeDoc(partial)
	if err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}

	current, err := s.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("patch %s/%s: document not found", table, id)
	}

	next := current.Merge(partial)
	next[doc.IDField] = string(id)
	body, err := json.Marshal(map[string]any(next))
	if err != nil {
		return fmt.Errorf("patch %s/%s: marshal body: %w", table, id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE tbl = ? AND id = ?`,
		string(body), table, string(id),
	); err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_entries WHERE tbl = ? AND id = ?`,
		table, string(id),
	); err != nil {
		return fmt.Errorf("patch %s/%s: clear index entries: %w", table, id, err)
	}
	if err := s.writeIndexEntries(ctx, tx, table, id, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}
	return nil
}

// Delete erases a document and its index entries. Absent ids are a
// no-op, which keeps re-run cascade continuations idempotent.
func (s *SQLiteStore) Delete(ctx context.Context, table string, id doc.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE tbl = ? AND id = ?`,
		table, string(id),
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_entries WHERE tbl = ? AND id = ?`,
		table, string(id),
	); err != nil {
		return fmt.Errorf("delete %s/%s: clear index entries: %w", table, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *SQLiteStore) writeIndexEntries(ctx context.Context, tx *sql.Tx, table string, id doc.ID, d doc.Doc) error {
	for _, idx := range s.indexesFor(table) {
		values := make([]any, len(idx.Fields))
		for i, f := range idx.Fields {
			values[i] = d.Get(f)
		}
		key := doc.EncodeKey(values...)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_entries (tbl, idx, key, id) VALUES (?, ?, ?, ?)`,
			table, idx.Name, key, string(id),
		); err != nil {
			return fmt.Errorf("write index entry %s.%s for %s: %w", table, idx.Name, id, err)
		}
	}
	return nil
}
