// Package docstore defines the document-store collaborator contract
// the engine mutates through - per-document reads and writes plus
// single-index range scans with pagination - and provides a
// SQLite-backed reference implementation and a timer scheduler for
// deferred continuations.
package docstore

import (
	"context"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
)

// Bound is one end of an index range.
type Bound struct {
	Value     any
	Inclusive bool
}

// Range selects index keys by an equality prefix on the index's
// leading fields, optionally bounded on the next field. A zero Range
// scans the whole index.
type Range struct {
	// Prefix holds equality values for leading index fields, in index
	// field order.
	Prefix []any
	// Lower and Upper bound the field after the prefix.
	Lower *Bound
	Upper *Bound
}

// Page requests one page of results.
type Page struct {
	// Cursor resumes a previous page's scan; empty starts from the top.
	Cursor string
	// Limit caps returned documents. Values <= 0 use the store default.
	Limit int
}

// PageResult is one page of documents plus the continuation state.
type PageResult struct {
	Docs []doc.Doc
	// ContinueCursor resumes after the last returned document.
	ContinueCursor string
	// IsDone reports that the scan is exhausted.
	IsDone bool
}

// Query is a refinable single-table read. Builders return the receiver
// with the refinement applied; a Query is single-use.
type Query interface {
	// WithIndex restricts the scan to one declared index and range.
	WithIndex(index string, r Range) Query
	// Filter applies a best-effort post-filter evaluated per document.
	Filter(pred expr.Expr) Query
	// Paginate executes one bounded page of the scan.
	Paginate(ctx context.Context, p Page) (PageResult, error)
	// Collect executes the scan to completion.
	Collect(ctx context.Context) ([]doc.Doc, error)
}

// Store is the document-store surface the engine requires. A document
// is schemaless; the store's only native capabilities are per-document
// access and single-index range scans. Per-document operations are
// atomic; nothing spans documents.
type Store interface {
	// Get returns the document, or nil when absent.
	Get(ctx context.Context, table string, id doc.ID) (doc.Doc, error)
	// Insert stores a new document, assigning an id when the document
	// carries none, and returns the id.
	Insert(ctx context.Context, table string, d doc.Doc) (doc.ID, error)
	// Patch merges partial fields into an existing document.
	Patch(ctx context.Context, table string, id doc.ID, partial doc.Doc) error
	// Delete erases a document. Deleting an absent id is a no-op.
	Delete(ctx context.Context, table string, id doc.ID) error
	// Query starts a read against one table.
	Query(table string) Query
}
