package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// DeleteBuilder configures one delete mutation. Builders are
// single-use; Exec consumes them.
type DeleteBuilder struct {
	e     *Engine
	table string
	where expr.Expr

	kind    schema.DeleteModeKind
	kindSet bool
	delay   time.Duration

	mode          CascadeMode
	allowFullScan bool
	page          *docstore.Page
	async         bool
	ret           *Returning

	used bool
}

// Delete starts a delete against the named table. Without an explicit
// Hard/Soft/Scheduled call the table's configured delete mode applies,
// and cascades mirror each dependent table's own mode.
func (e *Engine) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{e: e, table: table, mode: CascadeMirror}
}

// Where restricts the delete to rows matching the predicate. Calling
// it again ANDs the predicates.
func (b *DeleteBuilder) Where(pred expr.Expr) *DeleteBuilder {
	if b.where == nil {
		b.where = pred
	} else {
		b.where = expr.And(b.where, pred)
	}
	return b
}

// Hard overrides the table's delete mode: erase documents immediately.
func (b *DeleteBuilder) Hard() *DeleteBuilder {
	b.kind, b.kindSet = schema.DeleteHard, true
	return b
}

// Soft overrides the table's delete mode: stamp the soft-delete field
// instead of erasing.
func (b *DeleteBuilder) Soft() *DeleteBuilder {
	b.kind, b.kindSet = schema.DeleteSoft, true
	return b
}

// Scheduled soft-deletes now and schedules a hard delete after delay.
// A zero delay falls back to the table's configured delay.
func (b *DeleteBuilder) Scheduled(delay time.Duration) *DeleteBuilder {
	b.kind, b.kindSet, b.delay = schema.DeleteScheduled, true, delay
	return b
}

// Cascade sets how the delete propagates to dependents: mirror each
// table's own mode, or force hard or soft throughout.
func (b *DeleteBuilder) Cascade(mode CascadeMode) *DeleteBuilder {
	b.mode = mode
	return b
}

// AllowFullScan permits executing without a supporting index.
func (b *DeleteBuilder) AllowFullScan() *DeleteBuilder {
	b.allowFullScan = true
	return b
}

// Paginate processes one page of matching rows and reports a cursor
// for the next call. The page size bounds how many root rows one call
// touches; cascades still count against the work budget.
func (b *DeleteBuilder) Paginate(page docstore.Page) *DeleteBuilder {
	b.page = &page
	return b
}

// Async processes one batch inline and defers the remainder to the
// scheduler.
func (b *DeleteBuilder) Async() *DeleteBuilder {
	b.async = true
	return b
}

// Returning materializes the deleted rows (pre-delete state) in the
// result.
func (b *DeleteBuilder) Returning(r Returning) *DeleteBuilder {
	b.ret = &r
	return b
}

// applyWhere restores a serialized predicate from a continuation
// payload.
func (b *DeleteBuilder) applyWhere(raw json.RawMessage) error {
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

// Exec runs the delete.
func (b *DeleteBuilder) Exec(ctx context.Context) (*Result, error) {
	if b.used {
		return nil, newConfigError("delete builder is single-use")
	}
	b.used = true

	t, err := b.e.table(b.table)
	if err != nil {
		return nil, err
	}
	kind := t.DeleteKind()
	if b.kindSet {
		kind = b.kind
	}
	delay := b.delay
	if delay <= 0 {
		delay = t.DeleteMode.Delay
	}
	if kind == schema.DeleteScheduled && delay <= 0 {
		return nil, newConfigError("scheduled delete on " + t.Name + " needs a positive delay")
	}
	if (kind == schema.DeleteScheduled || b.async) && b.e.sched == nil {
		return nil, newConfigError("no scheduler configured")
	}
	if b.async && b.page != nil {
		return nil, newConfigError("async and paginated execution are mutually exclusive")
	}

	pred := b.where
	if pred == nil {
		pred = expr.And()
	}
	if kind != schema.DeleteHard {
		// Already-marked rows are invisible to a soft delete. This is
		// what lets an async re-run resume where the last batch
		// stopped.
		pred = expr.And(pred, expr.IsNull(t.SoftDeleteField()))
	}

	st := b.e.newExecState()
	casc := &cascade{e: b.e, st: st, canSchedule: b.async, scheduleBudget: st.limits.ScheduleCallCap}
	res := &Result{}

	req := deleteRequest{t: t, kind: kind, delay: delay, mode: b.mode, ret: b.ret}

	switch {
	case b.page != nil:
		pr, err := b.e.fetchPage(ctx, t, pred, b.allowFullScan, *b.page)
		if err != nil {
			return nil, err
		}
		if err := b.e.deleteRows(ctx, st, casc, req, pr.Docs, res); err != nil {
			return nil, err
		}
		res.ContinueCursor, res.IsDone = pr.ContinueCursor, pr.IsDone

	case b.async:
		pr, err := b.e.fetchPage(ctx, t, pred, b.allowFullScan, pageOf(st.limits.BatchSize))
		if err != nil {
			return nil, err
		}
		if err := b.e.deleteRows(ctx, st, casc, req, pr.Docs, res); err != nil {
			return nil, err
		}
		if !pr.IsDone {
			if err := b.e.scheduleDelete(ctx, st, b, kind, delay); err != nil {
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
		if err := b.e.deleteRows(ctx, st, casc, req, rows, res); err != nil {
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

type deleteRequest struct {
	t     *schema.Table
	kind  schema.DeleteModeKind
	delay time.Duration
	mode  CascadeMode
	ret   *Returning
}

func (e *Engine) deleteRows(ctx context.Context, st *execState, casc *cascade, req deleteRequest, rows []doc.Doc, res *Result) error {
	for _, row := range rows {
		if !rlsVisibleForDelete(req.t, row) {
			continue
		}
		if st.seen(req.t.Name, row.ID()) {
			continue
		}
		if err := st.charge(req.t.Name, row); err != nil {
			return err
		}
		if err := e.checkRestrict(ctx, req.t, row, nil, true); err != nil {
			return err
		}
		if err := casc.enqueueDeleteDependents(req.t, row, req.mode); err != nil {
			return err
		}
		if err := e.physicalDelete(ctx, req.t, row, req.kind, req.delay); err != nil {
			return err
		}
		res.Count++
		if req.ret != nil {
			res.Rows = append(res.Rows, req.ret.project(row))
		}
	}
	return nil
}

// physicalDelete performs the storage-level delete for one row.
func (e *Engine) physicalDelete(ctx context.Context, t *schema.Table, row doc.Doc, kind schema.DeleteModeKind, delay time.Duration) error {
	switch kind {
	case schema.DeleteHard:
		return e.store.Delete(ctx, t.Name, row.ID())

	case schema.DeleteSoft:
		return e.softDelete(ctx, t, row.ID())

	case schema.DeleteScheduled:
		if err := e.softDelete(ctx, t, row.ID()); err != nil {
			return err
		}
		if delay <= 0 {
			delay = t.DeleteMode.Delay
		}
		return e.scheduleHardDelete(ctx, t.Name, row.ID(), delay)

	default:
		return fmt.Errorf("engine: unknown delete mode %q", kind)
	}
}

func (e *Engine) softDelete(ctx context.Context, t *schema.Table, id doc.ID) error {
	stamp := e.now().UnixMilli()
	return e.store.Patch(ctx, t.Name, id, doc.Doc{t.SoftDeleteField(): stamp})
}
