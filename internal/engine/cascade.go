package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// CascadeMode controls how a delete propagates to dependent rows.
type CascadeMode string

const (
	// CascadeMirror applies each dependent table's own delete mode.
	CascadeMirror CascadeMode = "mirror"
	// CascadeHard forces hard deletion of dependents.
	CascadeHard CascadeMode = "hard"
	// CascadeSoft forces soft deletion of dependents.
	CascadeSoft CascadeMode = "soft"
)

// pendingItem is one serializable unit of cascade work: delete or
// patch every row of Table matching Where. Items are deterministic and
// idempotent - rows already deleted no longer match, and re-applying a
// patch writes the same values - so a continuation payload may be
// re-run safely.
type pendingItem struct {
	Kind  string          `json:"kind"` // "delete" | "patch"
	Table string          `json:"table"`
	Where json.RawMessage `json:"where"`
	Patch doc.Doc         `json:"patch,omitempty"`
	Mode  CascadeMode     `json:"mode,omitempty"`
}

// cascade drains a breadth-first queue of pending items within one
// execution's budget. Traversal is cycle-safe via the execState
// visited set keyed by (table, id).
type cascade struct {
	e     *Engine
	st    *execState
	queue []pendingItem

	// canSchedule permits deferring remaining work on budget
	// exhaustion; scheduleBudget caps how many continuations one root
	// mutation may spawn in total.
	canSchedule    bool
	scheduleBudget int
}

// enqueueDeleteDependents queues the configured non-restrict actions
// for every table referencing the row being deleted. Restrict edges
// must already have been checked by checkRestrict.
func (c *cascade) enqueueDeleteDependents(t *schema.Table, row doc.Doc, mode CascadeMode) error {
	for _, edge := range c.e.graph.Incoming(t.Name) {
		action := edge.OnDeleteAction()
		if action == schema.ActionRestrict {
			continue
		}
		pred, ok := dependentPredicate(edge, row)
		if !ok {
			continue
		}
		item, err := actionItem(edge, action, pred, mode)
		if err != nil {
			return err
		}
		c.queue = append(c.queue, item)
	}
	return nil
}

// enqueueKeyUpdateDependents queues actions for dependents referencing
// key columns whose values changed between oldRow and newRow. Cascade
// here means re-pointing the dependent's foreign-key columns at the
// new values rather than deleting.
func (c *cascade) enqueueKeyUpdateDependents(t *schema.Table, oldRow, newRow doc.Doc) error {
	for _, edge := range c.e.graph.Incoming(t.Name) {
		if !keyChanged(edge, oldRow, newRow) {
			continue
		}
		pred, ok := dependentPredicate(edge, oldRow)
		if !ok {
			continue
		}
		action := edge.OnUpdateAction()
		if action == schema.ActionRestrict {
			continue // checked by checkRestrict before the root write
		}
		var item pendingItem
		var err error
		if action == schema.ActionCascade {
			patch := make(doc.Doc, len(edge.FK.Columns))
			for i, col := range edge.FK.Columns {
				patch[col] = newRow.Get(edge.FK.RefColumns[i])
			}
			item, err = patchItem(edge.From.Name, pred, patch)
		} else {
			item, err = actionItem(edge, action, pred, CascadeMirror)
		}
		if err != nil {
			return err
		}
		c.queue = append(c.queue, item)
	}
	return nil
}

// checkRestrict fails when any restrict edge has dependents for the
// row. forDelete selects on-delete actions; otherwise only edges whose
// key columns actually changed are considered.
func (e *Engine) checkRestrict(ctx context.Context, t *schema.Table, oldRow, newRow doc.Doc, forDelete bool) error {
	for _, edge := range e.graph.Incoming(t.Name) {
		var action schema.Action
		if forDelete {
			action = edge.OnDeleteAction()
		} else {
			if !keyChanged(edge, oldRow, newRow) {
				continue
			}
			action = edge.OnUpdateAction()
		}
		if action != schema.ActionRestrict {
			continue
		}
		pred, ok := dependentPredicate(edge, oldRow)
		if !ok {
			continue
		}
		deps, err := e.fetchPageForCascade(ctx, edge.From, pred, 1)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			return newRestrictedDeleteError(t.Name, edge.From.Name, fkLabel(edge.From, edge.FK))
		}
	}
	return nil
}

// drain processes the queue to completion, or defers the remainder.
// Returns whether a continuation was scheduled.
func (c *cascade) drain(ctx context.Context) (bool, error) {
	for len(c.queue) > 0 {
		item := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.processItem(ctx, item); err != nil {
			if IsBudgetExceeded(err) && c.canSchedule && c.st.scheduleCalls < c.scheduleBudget {
				// Re-queue the unfinished item; its predicate no
				// longer matches already-processed rows.
				c.queue = append([]pendingItem{item}, c.queue...)
				if err := c.e.scheduleCascade(ctx, c.st, c.queue, c.scheduleBudget-c.st.scheduleCalls-1); err != nil {
					return false, err
				}
				return true, nil
			}
			return false, err
		}
	}
	return false, nil
}

// processItem applies one pending item to every matching row,
// breadth-first: rows discovered to have their own dependents push new
// items onto the queue rather than recursing.
func (c *cascade) processItem(ctx context.Context, item pendingItem) error {
	t := c.e.schema.Table(item.Table)
	if t == nil {
		return fmt.Errorf("cascade: unknown table %q", item.Table)
	}
	pred, err := expr.Unmarshal(item.Where)
	if err != nil {
		return fmt.Errorf("cascade: %w", err)
	}
	if item.Kind == "delete" {
		// Soft-deleted rows keep matching the foreign-key predicate,
		// so exclude them or the scan front would never advance. This
		// also makes re-running a continuation a no-op for rows a
		// previous run already marked.
		if kind := resolveDeleteKind(t, item.Mode); kind != schema.DeleteHard {
			pred = expr.And(pred, expr.IsNull(t.SoftDeleteField()))
		}
	}

	// done guards against patches that leave a row's values unchanged
	// (a set-default whose default equals the current value) and would
	// otherwise match forever.
	done := make(map[doc.ID]bool)
	for {
		// Fetch from the top each round: processed rows stop matching,
		// so the scan front advances without a cursor.
		rows, err := c.e.fetchPageForCascade(ctx, t, pred, c.st.limits.LeafBatchSize)
		if err != nil {
			return err
		}
		acted := false
		for _, row := range rows {
			if done[row.ID()] {
				continue
			}
			did, err := c.processRow(ctx, t, item, row)
			if err != nil {
				return err
			}
			done[row.ID()] = true
			acted = acted || did
		}
		if !acted {
			return nil
		}
	}
}

func (c *cascade) processRow(ctx context.Context, t *schema.Table, item pendingItem, row doc.Doc) (bool, error) {
	// Only deletes consult the visited set: seen marks on check, and a
	// patch reaching a row first must not suppress a later delete of
	// the same row.
	if item.Kind == "delete" && c.st.seen(t.Name, row.ID()) {
		return false, nil
	}
	if err := c.st.charge(t.Name, row); err != nil {
		return false, err
	}

	switch item.Kind {
	case "delete":
		if err := c.e.checkRestrict(ctx, t, row, nil, true); err != nil {
			return false, err
		}
		if err := c.enqueueDeleteDependents(t, row, item.Mode); err != nil {
			return false, err
		}
		kind := resolveDeleteKind(t, item.Mode)
		if err := c.e.physicalDelete(ctx, t, row, kind, t.DeleteMode.Delay); err != nil {
			return false, err
		}
		return true, nil

	case "patch":
		next := row.Merge(item.Patch)
		if err := c.e.enforcePatchConstraints(ctx, t, next, item.Patch, row.ID()); err != nil {
			return false, err
		}
		if err := c.e.store.Patch(ctx, t.Name, row.ID(), item.Patch); err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, fmt.Errorf("cascade: unknown item kind %q", item.Kind)
	}
}

// fetchPageForCascade fetches dependents by whatever index covers the
// foreign-key columns; referential integrity must hold even when none
// does, so cascades may always fall back to a full scan.
func (e *Engine) fetchPageForCascade(ctx context.Context, t *schema.Table, pred expr.Expr, limit int) ([]doc.Doc, error) {
	res, err := e.fetchPage(ctx, t, pred, true, pageOf(limit))
	if err != nil {
		return nil, err
	}
	return res.Docs, nil
}

// dependentPredicate builds the equality predicate matching rows of
// edge.From that reference the given row. Null key values cannot be
// referenced, so they disable the edge.
func dependentPredicate(edge schema.Edge, row doc.Doc) (expr.Expr, bool) {
	conds := make([]expr.Expr, len(edge.FK.Columns))
	for i, col := range edge.FK.Columns {
		v := row.Get(edge.FK.RefColumns[i])
		if v == nil {
			return nil, false
		}
		conds[i] = expr.Eq(col, v)
	}
	if len(conds) == 1 {
		return conds[0], true
	}
	return expr.And(conds...), true
}

func keyChanged(edge schema.Edge, oldRow, newRow doc.Doc) bool {
	for _, col := range edge.FK.RefColumns {
		if !doc.Equal(oldRow.Get(col), newRow.Get(col)) {
			return true
		}
	}
	return false
}

// actionItem builds the pending item for a non-restrict referential
// action.
func actionItem(edge schema.Edge, action schema.Action, pred expr.Expr, mode CascadeMode) (pendingItem, error) {
	switch action {
	case schema.ActionCascade:
		where, err := expr.Marshal(pred)
		if err != nil {
			return pendingItem{}, err
		}
		return pendingItem{Kind: "delete", Table: edge.From.Name, Where: where, Mode: mode}, nil

	case schema.ActionSetNull:
		patch := make(doc.Doc, len(edge.FK.Columns))
		for _, col := range edge.FK.Columns {
			patch[col] = nil
		}
		return patchItem(edge.From.Name, pred, patch)

	case schema.ActionSetDefault:
		patch := make(doc.Doc, len(edge.FK.Columns))
		for _, col := range edge.FK.Columns {
			patch[col] = columnDefault(edge.From, col)
		}
		return patchItem(edge.From.Name, pred, patch)

	default:
		return pendingItem{}, fmt.Errorf("cascade: unsupported action %q", action)
	}
}

func patchItem(table string, pred expr.Expr, patch doc.Doc) (pendingItem, error) {
	where, err := expr.Marshal(pred)
	if err != nil {
		return pendingItem{}, err
	}
	return pendingItem{Kind: "patch", Table: table, Where: where, Patch: patch}, nil
}

func columnDefault(t *schema.Table, col string) any {
	c := t.Column(col)
	if c == nil {
		return nil
	}
	if c.DefaultFunc != nil {
		return c.DefaultFunc()
	}
	return c.Default
}

// resolveDeleteKind combines the cascade mode with the dependent
// table's own delete mode. Scheduled tables mirror to scheduled, so a
// cascaded soft delete still gets its deferred hard delete.
func resolveDeleteKind(t *schema.Table, mode CascadeMode) schema.DeleteModeKind {
	switch mode {
	case CascadeHard:
		return schema.DeleteHard
	case CascadeSoft:
		return schema.DeleteSoft
	default:
		return t.DeleteKind()
	}
}
