package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
)

// DefaultPageLimit caps a page when the caller passes no limit.
const DefaultPageLimit = 256

// Get returns the document, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, table string, id doc.ID) (doc.Doc, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE tbl = ? AND id = ?`,
		table, string(id),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return decodeBody(body)
}

// Query starts a read against one table.
func (s *SQLiteStore) Query(table string) Query {
	return &sqliteQuery{store: s, table: table}
}

type sqliteQuery struct {
	store    *SQLiteStore
	table    string
	index    string
	rng      Range
	hasIndex bool
	filter   expr.Expr
}

func (q *sqliteQuery) WithIndex(index string, r Range) Query {
	q.index = index
	q.rng = r
	q.hasIndex = true
	return q
}

func (q *sqliteQuery) Filter(pred expr.Expr) Query {
	if q.filter == nil {
		q.filter = pred
	} else if pred != nil {
		q.filter = expr.And(q.filter, pred)
	}
	return q
}

// cursorPos is the keyset position a cursor encodes: the (key, id) of
// the last raw index entry examined, or just the id for full scans.
// Cursors are deterministic, so re-running a paginated pass with the
// same cursor is safe.
type cursorPos struct {
	Key []byte `json:"k,omitempty"`
	ID  string `json:"id"`
}

func encodeCursor(pos cursorPos) string {
	b, _ := json.Marshal(pos)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursorPos, bool, error) {
	if s == "" {
		return cursorPos{}, false, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursorPos{}, false, fmt.Errorf("decode cursor: %w", err)
	}
	var pos cursorPos
	if err := json.Unmarshal(b, &pos); err != nil {
		return cursorPos{}, false, fmt.Errorf("decode cursor: %w", err)
	}
	return pos, true, nil
}

type rawRow struct {
	key  []byte
	id   string
	body string
}

func (q *sqliteQuery) Paginate(ctx context.Context, p Page) (PageResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	pos, resuming, err := decodeCursor(p.Cursor)
	if err != nil {
		return PageResult{}, err
	}
	if q.hasIndex && q.store.schema.Table(q.table) != nil && q.store.schema.Table(q.table).Index(q.index) == nil {
		return PageResult{}, fmt.Errorf("query %s: unknown index %q", q.table, q.index)
	}

	var res PageResult
	for {
		raws, err := q.fetchRaw(ctx, pos, resuming, limit+1)
		if err != nil {
			return PageResult{}, err
		}
		if len(raws) == 0 {
			res.IsDone = true
			break
		}

		full := false
		consumed := 0
		for _, r := range raws {
			d, err := decodeBody(r.body)
			if err != nil {
				return PageResult{}, fmt.Errorf("query %s: %w", q.table, err)
			}
			pos = cursorPos{Key: r.key, ID: r.id}
			resuming = true
			consumed++
			if q.filter == nil || expr.Eval(q.filter, d) {
				res.Docs = append(res.Docs, d)
			}
			if len(res.Docs) >= limit {
				full = true
				break
			}
		}

		if full {
			// More raw rows may remain past the page boundary.
			res.IsDone = consumed == len(raws) && len(raws) <= limit
			break
		}
		if len(raws) <= limit {
			// Short raw batch: the scan is exhausted.
			res.IsDone = true
			break
		}
	}

	if !res.IsDone {
		res.ContinueCursor = encodeCursor(pos)
	}
	return res, nil
}

func (q *sqliteQuery) Collect(ctx context.Context) ([]doc.Doc, error) {
	var out []doc.Doc
	page := Page{Limit: DefaultPageLimit}
	for {
		res, err := q.Paginate(ctx, page)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Docs...)
		if res.IsDone {
			return out, nil
		}
		page.Cursor = res.ContinueCursor
	}
}

func (q *sqliteQuery) fetchRaw(ctx context.Context, pos cursorPos, resuming bool, limit int) ([]rawRow, error) {
	if q.hasIndex {
		return q.fetchIndexed(ctx, pos, resuming, limit)
	}
	return q.fetchFullScan(ctx, pos, resuming, limit)
}

func (q *sqliteQuery) fetchIndexed(ctx context.Context, pos cursorPos, resuming bool, limit int) ([]rawRow, error) {
	low, high := keyBounds(q.rng)

	query := `SELECT e.key, e.id, d.body
		FROM index_entries e
		JOIN documents d ON d.tbl = e.tbl AND d.id = e.id
		WHERE e.tbl = ? AND e.idx = ?`
	args := []any{q.table, q.index}
	if low != nil {
		query += ` AND e.key >= ?`
		args = append(args, low)
	}
	if high != nil {
		query += ` AND e.key < ?`
		args = append(args, high)
	}
	if resuming {
		query += ` AND (e.key > ? OR (e.key = ? AND e.id > ?))`
		args = append(args, pos.Key, pos.Key, pos.ID)
	}
	query += ` ORDER BY e.key, e.id LIMIT ?`
	args = append(args, limit)

	rows, err := q.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", q.table, q.index, err)
	}
	defer rows.Close()

	var out []rawRow
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.key, &r.id, &r.body); err != nil {
			return nil, fmt.Errorf("query %s by %s: scan: %w", q.table, q.index, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *sqliteQuery) fetchFullScan(ctx context.Context, pos cursorPos, resuming bool, limit int) ([]rawRow, error) {
	query := `SELECT id, body FROM documents WHERE tbl = ?`
	args := []any{q.table}
	if resuming {
		query += ` AND id > ?`
		args = append(args, pos.ID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := q.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", q.table, err)
	}
	defer rows.Close()

	var out []rawRow
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.id, &r.body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// keyBounds converts a Range into [low, high) byte bounds over encoded
// index keys. Value encodings are prefix-free, so every key for field
// value v starts with enc(v) and PrefixSuccessor(enc(v)) sits strictly
// above all of them.
func keyBounds(r Range) (low, high []byte) {
	prefix := doc.EncodeKey(r.Prefix...)
	if len(prefix) > 0 {
		low = prefix
		high = doc.PrefixSuccessor(prefix)
	}

	if r.Lower != nil {
		bound := doc.AppendValue(bytes.Clone(prefix), r.Lower.Value)
		if r.Lower.Inclusive {
			low = bound
		} else {
			low = doc.PrefixSuccessor(bound)
		}
	}
	if r.Upper != nil {
		bound := doc.AppendValue(bytes.Clone(prefix), r.Upper.Value)
		if r.Upper.Inclusive {
			high = doc.PrefixSuccessor(bound)
		} else {
			high = bound
		}
	}
	return low, high
}

// decodeBody parses a stored JSON body back into a document,
// normalizing numbers to int64 where exact.
func decodeBody(body string) (doc.Doc, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	normalized, err := doc.NormalizeDoc(doc.Doc(raw))
	if err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return normalized, nil
}
