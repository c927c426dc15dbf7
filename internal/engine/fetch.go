package engine

import (
	"context"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/planner"
	"github.com/roach88/keel/internal/schema"
)

// Candidate retrieval shared by select, update, and delete: id
// fast-path, compiled index scan with probe-set de-duplication, or
// explicit full scan, narrowed by the residual predicate.

// resolvePlan compiles the predicate, applying the full-scan
// guardrail. In non-strict mode an unplannable predicate degrades to a
// warned full scan instead of failing.
func (e *Engine) resolvePlan(t *schema.Table, pred expr.Expr, allowFullScan bool) (*planner.Plan, error) {
	allow := allowFullScan || !e.limits.Strict
	plan, err := planner.Compile(t, pred, planner.Options{AllowFullScan: allow})
	if err != nil {
		return nil, newPlanningError(t.Name, "no index matches the predicate; narrow it or allow a full scan")
	}
	if plan.FullScan && !allowFullScan {
		e.log.Warn("predicate compiled to a full collection scan", "table", t.Name)
	}
	return plan, nil
}

func scanRange(prefix []planner.Cond, rng *planner.Cond) docstore.Range {
	r := docstore.Range{}
	for _, c := range prefix {
		r.Prefix = append(r.Prefix, c.Value)
	}
	if rng != nil {
		switch rng.Op {
		case expr.OpGt:
			r.Lower = &docstore.Bound{Value: rng.Value}
		case expr.OpGte:
			r.Lower = &docstore.Bound{Value: rng.Value, Inclusive: true}
		case expr.OpLt:
			r.Upper = &docstore.Bound{Value: rng.Value}
		case expr.OpLte:
			r.Upper = &docstore.Bound{Value: rng.Value, Inclusive: true}
		}
	}
	return r
}

// fetchAll retrieves every matching row, paginating internally in
// BatchSize steps. The result is capped at MaxRows; exceeding the cap
// outside pagination is a budget error.
func (e *Engine) fetchAll(ctx context.Context, t *schema.Table, pred expr.Expr, allowFullScan bool) ([]doc.Doc, error) {
	if ids, residual, ok := planner.IDFastPath(pred); ok {
		return e.fetchByIDs(ctx, t, ids, residual)
	}

	plan, err := e.resolvePlan(t, pred, allowFullScan)
	if err != nil {
		return nil, err
	}

	if len(plan.Probes) > 0 {
		return e.fetchProbes(ctx, t, plan)
	}

	q := e.store.Query(t.Name)
	if !plan.FullScan {
		q = q.WithIndex(plan.Index, scanRange(plan.Prefix, plan.Range))
	}
	q = q.Filter(plan.Residual)
	return e.collectBounded(ctx, t, q)
}

// fetchProbes runs one index scan per probe set and de-duplicates by
// id: probe sets are alternatives expanded from one IN condition, and
// a row may satisfy several of them.
func (e *Engine) fetchProbes(ctx context.Context, t *schema.Table, plan *planner.Plan) ([]doc.Doc, error) {
	var out []doc.Doc
	seen := make(map[doc.ID]bool)
	for _, probe := range plan.Probes {
		q := e.store.Query(t.Name).
			WithIndex(plan.Index, scanRange(probe, plan.Range)).
			Filter(plan.Residual)
		docs, err := e.collectBounded(ctx, t, q)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if seen[d.ID()] {
				continue
			}
			seen[d.ID()] = true
			out = append(out, d)
			if len(out) > e.limits.MaxRows {
				return nil, newBudgetError(t.Name, len(out), 0)
			}
		}
	}
	return out, nil
}

func (e *Engine) fetchByIDs(ctx context.Context, t *schema.Table, ids []doc.ID, residual expr.Expr) ([]doc.Doc, error) {
	var out []doc.Doc
	seen := make(map[doc.ID]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		row, err := e.store.Get(ctx, t.Name, id)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		if residual != nil && !expr.Eval(residual, row) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (e *Engine) collectBounded(ctx context.Context, t *schema.Table, q docstore.Query) ([]doc.Doc, error) {
	var out []doc.Doc
	page := docstore.Page{Limit: e.limits.BatchSize}
	for {
		res, err := q.Paginate(ctx, page)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Docs...)
		if len(out) > e.limits.MaxRows {
			return nil, newBudgetError(t.Name, len(out), 0)
		}
		if res.IsDone {
			return out, nil
		}
		page.Cursor = res.ContinueCursor
	}
}

// fetchPage retrieves one bounded page of matching rows. Multi-probe
// plans cannot resume from a single cursor, so combining an expanded
// IN with pagination is rejected as an unsupported filter shape.
func (e *Engine) fetchPage(ctx context.Context, t *schema.Table, pred expr.Expr, allowFullScan bool, page docstore.Page) (docstore.PageResult, error) {
	if ids, residual, ok := planner.IDFastPath(pred); ok {
		docs, err := e.fetchByIDs(ctx, t, ids, residual)
		if err != nil {
			return docstore.PageResult{}, err
		}
		return docstore.PageResult{Docs: docs, IsDone: true}, nil
	}

	plan, err := e.resolvePlan(t, pred, allowFullScan)
	if err != nil {
		return docstore.PageResult{}, err
	}
	if len(plan.Probes) > 1 {
		return docstore.PageResult{}, newPlanningError(t.Name,
			"an expanded IN condition cannot be combined with pagination")
	}

	q := e.store.Query(t.Name)
	switch {
	case len(plan.Probes) == 1:
		q = q.WithIndex(plan.Index, scanRange(plan.Probes[0], plan.Range))
	case !plan.FullScan:
		q = q.WithIndex(plan.Index, scanRange(plan.Prefix, plan.Range))
	}
	q = q.Filter(plan.Residual)
	return q.Paginate(ctx, page)
}

func pageOf(limit int) docstore.Page {
	return docstore.Page{Limit: limit}
}
