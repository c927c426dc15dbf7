package engine

import (
	"context"
	"fmt"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

type conflictPolicy int

const (
	conflictError conflictPolicy = iota
	conflictSkip
	conflictUpdate
)

// Conflict configures how colliding rows are resolved.
type Conflict struct {
	// Columns scopes the conflict target to the unique index over
	// exactly these fields, or to the id field alone. A collision on
	// any other constraint stays a uniqueness violation. Empty covers
	// the id and every unique index.
	Columns []string
	// TargetWhere must hold on the existing row for the policy to
	// apply; otherwise the collision stays a uniqueness violation.
	TargetWhere expr.Expr
	// Set is the update merged into the existing row on conflict. Nil
	// merges the incoming row's fields minus id. Do-update only.
	Set doc.Doc
	// SetWhere gates whether the update is applied; an existing row
	// failing it is skipped without error. Do-update only.
	SetWhere expr.Expr
}

// targetLabel resolves Columns to the constraint the policy is scoped
// to. Empty means unscoped.
func (cfg Conflict) targetLabel(t *schema.Table) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", nil
	}
	if len(cfg.Columns) == 1 && cfg.Columns[0] == doc.IDField {
		return doc.IDField, nil
	}
	if name := uniqueIndexOver(t, cfg.Columns); name != "" {
		return name, nil
	}
	return "", newConfigError(fmt.Sprintf("insert %s: no unique index over %v", t.Name, cfg.Columns))
}

// InsertBuilder configures one insert mutation. Builders are
// single-use; Exec consumes them.
type InsertBuilder struct {
	e     *Engine
	table string
	rows  []doc.Doc

	conflict    conflictPolicy
	conflictCfg Conflict
	ret         *Returning

	used bool
}

// Insert starts an insert against the named table.
func (e *Engine) Insert(table string) *InsertBuilder {
	return &InsertBuilder{e: e, table: table}
}

// Values appends rows to insert. A row without an id field gets one
// assigned by the store.
func (b *InsertBuilder) Values(rows ...doc.Doc) *InsertBuilder {
	b.rows = append(b.rows, rows...)
	return b
}

// OnConflictDoNothing skips rows that collide with an existing row on
// the id or any unique index. An optional Conflict narrows the target
// constraint and gates on the existing row.
func (b *InsertBuilder) OnConflictDoNothing(cfg ...Conflict) *InsertBuilder {
	b.conflict = conflictSkip
	if len(cfg) > 0 {
		b.conflictCfg = cfg[0]
	}
	return b
}

// OnConflictDoUpdate turns a colliding row into an update of the
// existing row, merging cfg.Set. A nil Set merges the incoming row's
// fields (minus id) instead.
func (b *InsertBuilder) OnConflictDoUpdate(cfg Conflict) *InsertBuilder {
	b.conflict = conflictUpdate
	b.conflictCfg = cfg
	return b
}

// Returning materializes the written rows in the result.
func (b *InsertBuilder) Returning(r Returning) *InsertBuilder {
	b.ret = &r
	return b
}

// Exec runs the insert.
func (b *InsertBuilder) Exec(ctx context.Context) (*Result, error) {
	if b.used {
		return nil, newConfigError("insert builder is single-use")
	}
	b.used = true

	t, err := b.e.table(b.table)
	if err != nil {
		return nil, err
	}
	if len(b.rows) == 0 {
		return nil, newConfigError("insert " + t.Name + ": no rows")
	}
	target, err := b.conflictCfg.targetLabel(t)
	if err != nil {
		return nil, err
	}

	st := b.e.newExecState()
	casc := &cascade{e: b.e, st: st, scheduleBudget: st.limits.ScheduleCallCap}
	res := &Result{}

	for _, raw := range b.rows {
		row, err := doc.NormalizeDoc(raw)
		if err != nil {
			return nil, newConfigError("insert " + t.Name + ": " + err.Error())
		}
		applyDefaults(t, row)
		if err := st.charge(t.Name, row); err != nil {
			return nil, err
		}

		if err := rlsCheckInsert(t, row); err != nil {
			return nil, err
		}

		existing, label, err := b.e.insertConflict(ctx, t, row)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			policy := b.conflict
			if policy != conflictError {
				// A collision outside the target, or on an existing row
				// the target predicate excludes, is not covered by the
				// policy.
				if target != "" && target != label {
					policy = conflictError
				} else if b.conflictCfg.TargetWhere != nil && !expr.Eval(b.conflictCfg.TargetWhere, existing) {
					policy = conflictError
				}
			}
			switch policy {
			case conflictSkip:
				continue
			case conflictUpdate:
				if b.conflictCfg.SetWhere != nil && !expr.Eval(b.conflictCfg.SetWhere, existing) {
					continue
				}
				set := b.conflictCfg.Set
				if set == nil {
					set = row.Clone()
					delete(set, doc.IDField)
				}
				next, err := b.e.applyUpdate(ctx, st, casc, t, existing, set)
				if err != nil {
					return nil, err
				}
				if next == nil {
					continue
				}
				res.Count++
				if b.ret != nil {
					res.Rows = append(res.Rows, b.ret.project(next))
				}
				continue
			default:
				return nil, newUniquenessError(t.Name, label)
			}
		}

		if err := b.e.enforceChecks(t, row); err != nil {
			return nil, err
		}
		if err := b.e.enforceOutgoingFKs(ctx, t, row); err != nil {
			return nil, err
		}

		id, err := b.e.store.Insert(ctx, t.Name, row)
		if err != nil {
			return nil, err
		}
		row[doc.IDField] = string(id)
		res.Count++
		if b.ret != nil {
			res.Rows = append(res.Rows, b.ret.project(row))
		}
	}

	scheduled, err := casc.drain(ctx)
	if err != nil {
		return nil, err
	}
	res.Scheduled = scheduled
	res.IsDone = !scheduled
	return res, nil
}

// applyDefaults fills absent columns from their declared defaults.
func applyDefaults(t *schema.Table, row doc.Doc) {
	for i := range t.Columns {
		col := &t.Columns[i]
		if row.Has(col.Name) {
			continue
		}
		switch {
		case col.DefaultFunc != nil:
			row[col.Name] = col.DefaultFunc()
		case col.Default != nil:
			row[col.Name] = col.Default
		}
	}
}

// insertConflict probes the id and every unique index for a colliding
// existing row, returning the row and the constraint label it collided
// on. Null values exempt a row from an index unless NullsNotDistinct.
func (e *Engine) insertConflict(ctx context.Context, t *schema.Table, row doc.Doc) (doc.Doc, string, error) {
	if id := row.ID(); id != "" {
		existing, err := e.store.Get(ctx, t.Name, id)
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			return existing, doc.IDField, nil
		}
	}
	for i := range t.UniqueIndexes {
		u := &t.UniqueIndexes[i]
		values := make([]any, len(u.Fields))
		skip := false
		for j, f := range u.Fields {
			v := row.Get(f)
			if v == nil && !u.NullsNotDistinct {
				skip = true
				break
			}
			values[j] = v
		}
		if skip {
			continue
		}
		existing, err := e.findUniqueConflict(ctx, t, u, values, "")
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			return existing, u.Name, nil
		}
	}
	return nil, "", nil
}
