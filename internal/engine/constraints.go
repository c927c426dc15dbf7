package engine

import (
	"context"
	"fmt"

	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/docstore"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// enforceConstraints validates a candidate row before its physical
// write: check constraints, outgoing foreign keys, then unique
// indexes. Any violation aborts this row's write; nothing has been
// written yet when it fires.
//
// excludeID names the row being replaced on update/upsert so it never
// conflicts with itself.
func (e *Engine) enforceConstraints(ctx context.Context, t *schema.Table, row doc.Doc, excludeID doc.ID) error {
	if err := e.enforceChecks(t, row); err != nil {
		return err
	}
	if err := e.enforceOutgoingFKs(ctx, t, row); err != nil {
		return err
	}
	return e.enforceUnique(ctx, t, row, excludeID)
}

// enforceChecks evaluates every check constraint against the candidate
// row.
func (e *Engine) enforceChecks(t *schema.Table, row doc.Doc) error {
	for _, ck := range t.Checks {
		if !expr.Eval(ck.Predicate, row) {
			return newCheckError(t.Name, ck.Name)
		}
	}
	return nil
}

// enforcePatchConstraints validates a cascade patch against the merged
// row, restricted to the columns the patch touches. Foreign keys and
// unique indexes on untouched columns may reference rows the same
// cascade is still removing; re-probing them against that mid-cascade
// state would fail for values the patch never altered.
func (e *Engine) enforcePatchConstraints(ctx context.Context, t *schema.Table, row, patch doc.Doc, excludeID doc.ID) error {
	if err := e.enforceChecks(t, row); err != nil {
		return err
	}
	for i := range t.ForeignKeys {
		fk := &t.ForeignKeys[i]
		if !touchesAny(fk.Columns, patch) {
			continue
		}
		if err := e.enforceOutgoingFK(ctx, t, fk, row); err != nil {
			return err
		}
	}
	for i := range t.UniqueIndexes {
		u := &t.UniqueIndexes[i]
		if !touchesAny(u.Fields, patch) {
			continue
		}
		if err := e.enforceUniqueIndex(ctx, t, u, row, excludeID); err != nil {
			return err
		}
	}
	return nil
}

func touchesAny(cols []string, patch doc.Doc) bool {
	for _, c := range cols {
		if patch.Has(c) {
			return true
		}
	}
	return false
}

// enforceOutgoingFKs verifies every declared foreign key whose local
// columns are all present points at an existing row.
func (e *Engine) enforceOutgoingFKs(ctx context.Context, t *schema.Table, row doc.Doc) error {
	for i := range t.ForeignKeys {
		if err := e.enforceOutgoingFK(ctx, t, &t.ForeignKeys[i], row); err != nil {
			return err
		}
	}
	return nil
}

// enforceOutgoingFK verifies one foreign key. A null in any local
// column skips the key, matching SQL's MATCH SIMPLE.
func (e *Engine) enforceOutgoingFK(ctx context.Context, t *schema.Table, fk *schema.ForeignKey, row doc.Doc) error {
	values := make([]any, len(fk.Columns))
	for j, col := range fk.Columns {
		v := row.Get(col)
		if v == nil {
			return nil
		}
		values[j] = v
	}

	exists, err := e.referencedRowExists(ctx, fk, values)
	if err != nil {
		return err
	}
	if !exists {
		return newForeignKeyError(t.Name, fkLabel(t, fk), fk.RefTable)
	}
	return nil
}

// referencedRowExists probes the referenced table for the key values:
// a direct get when the key is the id field, otherwise an exact-value
// scan of the unique index backing the referenced columns.
func (e *Engine) referencedRowExists(ctx context.Context, fk *schema.ForeignKey, values []any) (bool, error) {
	if len(fk.RefColumns) == 1 && fk.RefColumns[0] == doc.IDField {
		s, ok := values[0].(string)
		if !ok {
			return false, nil
		}
		row, err := e.store.Get(ctx, fk.RefTable, doc.ID(s))
		if err != nil {
			return false, err
		}
		return row != nil, nil
	}

	ref := e.schema.Table(fk.RefTable)
	idx := uniqueIndexOver(ref, fk.RefColumns)
	if idx == "" {
		// Schema validation guarantees a backing unique index; this is
		// unreachable for validated schemas.
		return false, fmt.Errorf("no unique index over %s(%v)", fk.RefTable, fk.RefColumns)
	}
	rows, err := e.store.Query(fk.RefTable).
		WithIndex(idx, docstore.Range{Prefix: values}).
		Paginate(ctx, docstore.Page{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows.Docs) > 0, nil
}

func uniqueIndexOver(t *schema.Table, fields []string) string {
	for _, u := range t.UniqueIndexes {
		if len(u.Fields) != len(fields) {
			continue
		}
		match := true
		for i := range fields {
			if u.Fields[i] != fields[i] {
				match = false
				break
			}
		}
		if match {
			return u.Name
		}
	}
	return ""
}

// enforceUnique probes every unique index for a distinct existing row
// with the candidate's exact values.
func (e *Engine) enforceUnique(ctx context.Context, t *schema.Table, row doc.Doc, excludeID doc.ID) error {
	for i := range t.UniqueIndexes {
		if err := e.enforceUniqueIndex(ctx, t, &t.UniqueIndexes[i], row, excludeID); err != nil {
			return err
		}
	}
	return nil
}

// enforceUniqueIndex probes one unique index. When NullsNotDistinct is
// false, a null or absent value in any indexed field exempts the row,
// matching SQL's nulls-are-distinct default.
func (e *Engine) enforceUniqueIndex(ctx context.Context, t *schema.Table, u *schema.UniqueIndex, row doc.Doc, excludeID doc.ID) error {
	values := make([]any, len(u.Fields))
	for j, f := range u.Fields {
		v := row.Get(f)
		if v == nil && !u.NullsNotDistinct {
			return nil
		}
		values[j] = v
	}

	conflict, err := e.findUniqueConflict(ctx, t, u, values, excludeID)
	if err != nil {
		return err
	}
	if conflict != nil {
		return newUniquenessError(t.Name, u.Name)
	}
	return nil
}

// findUniqueConflict returns an existing row matching the unique
// index's exact values, excluding excludeID, or nil.
func (e *Engine) findUniqueConflict(ctx context.Context, t *schema.Table, u *schema.UniqueIndex, values []any, excludeID doc.ID) (doc.Doc, error) {
	res, err := e.store.Query(t.Name).
		WithIndex(u.Name, docstore.Range{Prefix: values}).
		Paginate(ctx, docstore.Page{Limit: 2})
	if err != nil {
		return nil, err
	}
	for _, d := range res.Docs {
		if d.ID() != excludeID {
			return d, nil
		}
	}
	return nil, nil
}

func fkLabel(t *schema.Table, fk *schema.ForeignKey) string {
	if fk.Name != "" {
		return fk.Name
	}
	return fmt.Sprintf("%s->%s", t.Name, fk.RefTable)
}
