package engine

import (
	"context"
	"encoding/json"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// UpdateBuilder configures one update mutation. Builders are
// single-use; Exec consumes them.
type UpdateBuilder struct {
	e     *Engine
	table string
	where expr.Expr
	set   doc.Doc

	allowFullScan bool
	page          *docstore.Page
	async         bool
	ret           *Returning

	used bool
}

// Update starts an update against the named table.
func (e *Engine) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{e: e, table: table}
}

// Where restricts the update to rows matching the predicate. Calling
// it again ANDs the predicates.
func (b *UpdateBuilder) Where(pred expr.Expr) *UpdateBuilder {
	if b.where == nil {
		b.where = pred
	} else {
		b.where = expr.And(b.where, pred)
	}
	return b
}

// Set provides the partial document merged into each matching row.
func (b *UpdateBuilder) Set(partial doc.Doc) *UpdateBuilder {
	b.set = partial
	return b
}

// AllowFullScan permits executing without a supporting index.
func (b *UpdateBuilder) AllowFullScan() *UpdateBuilder {
	b.allowFullScan = true
	return b
}

// Paginate processes one page of matching rows and reports a cursor
// for the next call.
func (b *UpdateBuilder) Paginate(page docstore.Page) *UpdateBuilder {
	b.page = &page
	return b
}

// Async processes one batch inline and defers the remainder to the
// scheduler, resuming from a cursor.
func (b *UpdateBuilder) Async() *UpdateBuilder {
	b.async = true
	return b
}

// Returning materializes the post-update rows in the result.
func (b *UpdateBuilder) Returning(r Returning) *UpdateBuilder {
	b.ret = &r
	return b
}

// applyWhere restores a serialized predicate from a continuation
// payload.
func (b *UpdateBuilder) applyWhere(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	pred, err := expr.Unmarshal(raw)
	if err != nil {
		return err
	}
	b.where = pred
	return nil
}

// Exec runs the update.
func (b *UpdateBuilder) Exec(ctx context.Context) (*Result, error) {
	return b.exec(ctx, "")
}

// exec runs one batch starting at cursor; continuations re-enter here.
func (b *UpdateBuilder) exec(ctx context.Context, cursor string) (*Result, error) {
	if b.used {
		return nil, newConfigError("update builder is single-use")
	}
	b.used = true

	t, err := b.e.table(b.table)
	if err != nil {
		return nil, err
	}
	set, err := doc.NormalizeDoc(b.set)
	if err != nil {
		return nil, newConfigError("update " + t.Name + ": " + err.Error())
	}
	if len(set) == 0 {
		return nil, newConfigError("update " + t.Name + ": empty set")
	}
	if set.Has(doc.IDField) {
		return nil, newConfigError("update " + t.Name + ": the id field is immutable")
	}
	if b.async && b.e.sched == nil {
		return nil, newConfigError("no scheduler configured")
	}
	if b.async && b.page != nil {
		return nil, newConfigError("async and paginated execution are mutually exclusive")
	}

	pred := b.where
	if pred == nil {
		pred = expr.And()
	}

	st := b.e.newExecState()
	casc := &cascade{e: b.e, st: st, canSchedule: b.async, scheduleBudget: st.limits.ScheduleCallCap}
	res := &Result{}

	switch {
	case b.page != nil:
		pr, err := b.e.fetchPage(ctx, t, pred, b.allowFullScan, *b.page)
		if err != nil {
			return nil, err
		}
		if err := b.e.updateRows(ctx, st, casc, t, set, b.ret, pr.Docs, res); err != nil {
			return nil, err
		}
		res.ContinueCursor, res.IsDone = pr.ContinueCursor, pr.IsDone

	case b.async:
		page := docstore.Page{Cursor: cursor, Limit: st.limits.BatchSize}
		pr, err := b.e.fetchPage(ctx, t, pred, b.allowFullScan, page)
		if err != nil {
			return nil, err
		}
		if err := b.e.updateRows(ctx, st, casc, t, set, b.ret, pr.Docs, res); err != nil {
			return nil, err
		}
		if !pr.IsDone {
			if err := b.e.scheduleUpdate(ctx, st, b, pr.ContinueCursor); err != nil {
				return nil, err
			}
			res.Scheduled = true
		} else {
			res.IsDone = true
		}

	default:
		rows, err := b.e.fetchAll(ctx, t, pred, b.allowFullScan)
		if err != nil {
			return nil, err
		}
		if err := b.e.updateRows(ctx, st, casc, t, set, b.ret, rows, res); err != nil {
			return nil, err
		}
		res.IsDone = true
	}

	scheduled, err := casc.drain(ctx)
	if err != nil {
		return nil, err
	}
	res.Scheduled = res.Scheduled || scheduled
	return res, nil
}

func (e *Engine) updateRows(ctx context.Context, st *execState, casc *cascade, t *schema.Table, set doc.Doc, ret *Returning, rows []doc.Doc, res *Result) error {
	for _, row := range rows {
		next, err := e.applyUpdate(ctx, st, casc, t, row, set)
		if err != nil {
			return err
		}
		if next == nil {
			continue
		}
		res.Count++
		if ret != nil {
			res.Rows = append(res.Rows, ret.project(next))
		}
	}
	return nil
}

// applyUpdate merges set into one existing row, enforcing row-level
// security, constraints, and referential actions for any changed key
// columns. It returns the post-update row, or nil when row-level
// security hides the row.
func (e *Engine) applyUpdate(ctx context.Context, st *execState, casc *cascade, t *schema.Table, old doc.Doc, set doc.Doc) (doc.Doc, error) {
	patch := set.Clone()
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.OnUpdateFunc != nil && !set.Has(col.Name) {
			patch[col.Name] = col.OnUpdateFunc()
		}
	}
	next := old.Merge(patch)

	visible, err := rlsCheckUpdate(t, old, next)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, nil
	}
	if err := st.charge(t.Name, next); err != nil {
		return nil, err
	}
	if err := e.checkRestrict(ctx, t, old, next, false); err != nil {
		return nil, err
	}
	if err := e.enforceConstraints(ctx, t, next, old.ID()); err != nil {
		return nil, err
	}
	if err := casc.enqueueKeyUpdateDependents(t, old, next); err != nil {
		return nil, err
	}
	if err := e.store.Patch(ctx, t.Name, old.ID(), patch); err != nil {
		return nil, err
	}
	return next, nil
}
