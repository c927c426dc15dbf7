// Package expr defines the typed filter-predicate AST consumed by the
// planner, the constraint engine, and the store's post-fetch filter.
//
// Expr is a sealed interface: only Cmp, Unary, Not, and Logical
// implement it. The marker method pattern prevents external
// implementations and keeps type switches over predicate nodes
// exhaustive, so adding an operator is a compile-time-checked exercise.
package expr

// Expr represents a filter predicate node.
//
// Node types:
//   - Cmp: binary comparison of a field against a literal value
//   - Unary: field-only test (IS NULL / IS NOT NULL)
//   - Not: negation of a sub-predicate
//   - Logical: AND / OR over sub-predicates
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// CmpOp enumerates binary comparison operators.
type CmpOp string

const (
	OpEq  CmpOp = "eq"
	OpNe  CmpOp = "ne"
	OpGt  CmpOp = "gt"
	OpGte CmpOp = "gte"
	OpLt  CmpOp = "lt"
	OpLte CmpOp = "lte"

	// Membership. OpIn against an index-eligible field is expanded by
	// the planner into one probe per array element.
	OpIn    CmpOp = "in"
	OpNotIn CmpOp = "notIn"

	// Pattern matching. Only leading-%, trailing-%, or both are
	// recognized; any other pattern means exact match. Never
	// index-eligible.
	OpLike     CmpOp = "like"
	OpNotLike  CmpOp = "notLike"
	OpILike    CmpOp = "ilike"
	OpNotILike CmpOp = "notIlike"

	// Array containment.
	OpArrayContains  CmpOp = "arrayContains"
	OpArrayContained CmpOp = "arrayContained"
	OpArrayOverlaps  CmpOp = "arrayOverlaps"
)

// UnaryOp enumerates field-only tests.
type UnaryOp string

const (
	OpIsNull    UnaryOp = "isNull"
	OpIsNotNull UnaryOp = "isNotNull"
)

// LogicalOp enumerates logical connectives.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Cmp compares a named field against a literal value.
//
// The left operand is always a field reference, never a computed
// expression; that restriction is what makes a comparison
// index-eligible.
type Cmp struct {
	Op    CmpOp
	Field string
	Value any
}

func (Cmp) exprNode() {}

// Unary tests a named field for null/absence.
type Unary struct {
	Op    UnaryOp
	Field string
}

func (Unary) exprNode() {}

// Not negates a sub-predicate.
type Not struct {
	Operand Expr
}

func (Not) exprNode() {}

// Logical combines sub-predicates with AND or OR.
//
// An empty AND is vacuously true; an empty OR is vacuously false.
// Operand order never affects the result (sub-evaluations are pure),
// so evaluation may be eager.
type Logical struct {
	Op       LogicalOp
	Operands []Expr
}

func (Logical) exprNode() {}

// Walk visits e and every descendant in depth-first order. The visit
// stops early when fn returns false for a node (its children are
// skipped).
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch node := e.(type) {
	case Not:
		Walk(node.Operand, fn)
	case Logical:
		for _, op := range node.Operands {
			Walk(op, fn)
		}
	}
}

// Fields returns the set of field names referenced anywhere in e.
func Fields(e Expr) map[string]bool {
	out := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		switch node := n.(type) {
		case Cmp:
			out[node.Field] = true
		case Unary:
			out[node.Field] = true
		}
		return true
	})
	return out
}
