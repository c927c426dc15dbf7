package engine

import (
	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// Row-level security evaluation.
//
// Policies combine as OR-of-using, AND-of-with-check per operation
// kind, making evaluation order irrelevant. Failing using excludes a
// row silently, as if the predicate had not matched; failing
// with-check on a row visible under using is a hard authorization
// error - the caller attempted a mutation they could see but not
// perform.

// usingAllows reports whether a row is visible under the using
// predicates registered for one operation. A row is visible if no
// using predicate is registered, or at least one evaluates true.
func usingAllows(policies []schema.Policy, row doc.Doc) bool {
	registered := false
	for _, p := range policies {
		if p.Using == nil {
			continue
		}
		registered = true
		if expr.Eval(p.Using, row) {
			return true
		}
	}
	return !registered
}

// withCheckAllows reports whether a row's post-mutation state passes
// every registered with-check predicate.
func withCheckAllows(policies []schema.Policy, row doc.Doc) bool {
	for _, p := range policies {
		if p.WithCheck != nil && !expr.Eval(p.WithCheck, row) {
			return false
		}
	}
	return true
}

// rlsVisibleForRead gates row visibility for select and for the read
// side of update/delete.
func rlsVisibleForRead(t *schema.Table, row doc.Doc) bool {
	if !t.RLSEnabled {
		return true
	}
	return usingAllows(t.PoliciesFor(schema.PolicySelect), row)
}

// rlsCheckInsert validates a new row against the insert with-check
// policies. Using predicates are ignored for insert; there is no prior
// row to gate on.
func rlsCheckInsert(t *schema.Table, newRow doc.Doc) error {
	if !t.RLSEnabled {
		return nil
	}
	if !withCheckAllows(t.PoliciesFor(schema.PolicyInsert), newRow) {
		return newRLSError(t.Name, "insert")
	}
	return nil
}

// rlsCheckUpdate gates an update: the existing row must pass using to
// be eligible at all (visible=false excludes it silently), and the
// proposed row must pass with-check for the write to proceed.
func rlsCheckUpdate(t *schema.Table, oldRow, newRow doc.Doc) (visible bool, err error) {
	if !t.RLSEnabled {
		return true, nil
	}
	policies := t.PoliciesFor(schema.PolicyUpdate)
	if !usingAllows(policies, oldRow) {
		return false, nil
	}
	if !withCheckAllows(policies, newRow) {
		return true, newRLSError(t.Name, "update")
	}
	return true, nil
}

// rlsVisibleForDelete gates a delete: only using against the existing
// row applies.
func rlsVisibleForDelete(t *schema.Table, row doc.Doc) bool {
	if !t.RLSEnabled {
		return true
	}
	return usingAllows(t.PoliciesFor(schema.PolicyDelete), row)
}
