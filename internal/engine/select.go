package engine

import (
	"context"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// SelectBuilder configures one read. Builders are single-use; Exec
// consumes them.
type SelectBuilder struct {
	e     *Engine
	table string
	where expr.Expr

	allowFullScan  bool
	includeDeleted bool
	page           *docstore.Page
	ret            *Returning

	used bool
}

// Select starts a read against the named table. Soft-deleted rows are
// excluded unless IncludeDeleted is called.
func (e *Engine) Select(table string) *SelectBuilder {
	return &SelectBuilder{e: e, table: table}
}

// Where restricts the read to rows matching the predicate. Calling it
// again ANDs the predicates.
func (b *SelectBuilder) Where(pred expr.Expr) *SelectBuilder {
	if b.where == nil {
		b.where = pred
	} else {
		b.where = expr.And(b.where, pred)
	}
	return b
}

// AllowFullScan permits executing without a supporting index.
func (b *SelectBuilder) AllowFullScan() *SelectBuilder {
	b.allowFullScan = true
	return b
}

// IncludeDeleted makes soft-deleted rows visible to this read.
func (b *SelectBuilder) IncludeDeleted() *SelectBuilder {
	b.includeDeleted = true
	return b
}

// Paginate returns one page of matching rows plus a resume cursor.
// Row-level security filtering happens after the page is fetched, so a
// page may carry fewer rows than its limit without being the last.
func (b *SelectBuilder) Paginate(page docstore.Page) *SelectBuilder {
	b.page = &page
	return b
}

// Returning projects the returned rows. Without it rows come back in
// full.
func (b *SelectBuilder) Returning(r Returning) *SelectBuilder {
	b.ret = &r
	return b
}

// Exec runs the read. Result.Rows holds the matching rows in index
// key order.
func (b *SelectBuilder) Exec(ctx context.Context) (*Result, error) {
	if b.used {
		return nil, newConfigError("select builder is single-use")
	}
	b.used = true

	t, err := b.e.table(b.table)
	if err != nil {
		return nil, err
	}
	pred := b.predicate(t)

	res := &Result{}
	if b.page != nil {
		pr, err := b.e.fetchPage(ctx, t, pred, b.allowFullScan, *b.page)
		if err != nil {
			return nil, err
		}
		res.Rows = b.visible(t, pr.Docs)
		res.ContinueCursor, res.IsDone = pr.ContinueCursor, pr.IsDone
	} else {
		rows, err := b.e.fetchAll(ctx, t, pred, b.allowFullScan)
		if err != nil {
			return nil, err
		}
		res.Rows = b.visible(t, rows)
		res.IsDone = true
	}
	res.Count = len(res.Rows)
	return res, nil
}

// Explain compiles the read's predicate and renders the chosen plan
// without executing it.
func (b *SelectBuilder) Explain() (string, error) {
	t, err := b.e.table(b.table)
	if err != nil {
		return "", err
	}
	plan, err := b.e.resolvePlan(t, b.predicate(t), true)
	if err != nil {
		return "", err
	}
	return plan.Explain(), nil
}

func (b *SelectBuilder) predicate(t *schema.Table) expr.Expr {
	pred := b.where
	if pred == nil {
		pred = expr.And()
	}
	if !b.includeDeleted && t.DeleteKind() != schema.DeleteHard {
		pred = expr.And(pred, expr.IsNull(t.SoftDeleteField()))
	}
	return pred
}

func (b *SelectBuilder) visible(t *schema.Table, rows []doc.Doc) []doc.Doc {
	out := make([]doc.Doc, 0, len(rows))
	for _, row := range rows {
		if !rlsVisibleForRead(t, row) {
			continue
		}
		if b.ret != nil {
			out = append(out, b.ret.project(row))
		} else {
			out = append(out, row)
		}
	}
	return out
}
