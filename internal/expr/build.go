package expr

// Constructor functions for building predicates compositionally.
// Callers compose these rather than constructing node structs directly.

// Eq matches rows where field equals value.
func Eq(field string, value any) Expr { return Cmp{Op: OpEq, Field: field, Value: value} }

// Ne matches rows where field does not equal value.
func Ne(field string, value any) Expr { return Cmp{Op: OpNe, Field: field, Value: value} }

// Gt matches rows where field is strictly greater than value.
func Gt(field string, value any) Expr { return Cmp{Op: OpGt, Field: field, Value: value} }

// Gte matches rows where field is greater than or equal to value.
func Gte(field string, value any) Expr { return Cmp{Op: OpGte, Field: field, Value: value} }

// Lt matches rows where field is strictly less than value.
func Lt(field string, value any) Expr { return Cmp{Op: OpLt, Field: field, Value: value} }

// Lte matches rows where field is less than or equal to value.
func Lte(field string, value any) Expr { return Cmp{Op: OpLte, Field: field, Value: value} }

// In matches rows where field equals any of the given values.
func In(field string, values ...any) Expr {
	return Cmp{Op: OpIn, Field: field, Value: anySlice(values)}
}

// NotIn matches rows where field equals none of the given values.
func NotIn(field string, values ...any) Expr {
	return Cmp{Op: OpNotIn, Field: field, Value: anySlice(values)}
}

// Like matches string fields against a pattern with optional leading
// and/or trailing %. Patterns with % anywhere else mean exact match.
func Like(field, pattern string) Expr { return Cmp{Op: OpLike, Field: field, Value: pattern} }

// NotLike is the negation of Like.
func NotLike(field, pattern string) Expr { return Cmp{Op: OpNotLike, Field: field, Value: pattern} }

// ILike is Like with Unicode case folding.
func ILike(field, pattern string) Expr { return Cmp{Op: OpILike, Field: field, Value: pattern} }

// NotILike is the negation of ILike.
func NotILike(field, pattern string) Expr { return Cmp{Op: OpNotILike, Field: field, Value: pattern} }

// StartsWith matches string fields beginning with prefix.
func StartsWith(field, prefix string) Expr { return Like(field, prefix+"%") }

// EndsWith matches string fields ending with suffix.
func EndsWith(field, suffix string) Expr { return Like(field, "%"+suffix) }

// Contains matches string fields containing substr.
func Contains(field, substr string) Expr { return Like(field, "%"+substr+"%") }

// ArrayContains matches array fields containing value; when value is
// an array, every element must be present.
func ArrayContains(field string, value any) Expr {
	return Cmp{Op: OpArrayContains, Field: field, Value: value}
}

// ArrayContained matches array fields whose every element appears in
// the given array.
func ArrayContained(field string, values []any) Expr {
	return Cmp{Op: OpArrayContained, Field: field, Value: values}
}

// ArrayOverlaps matches array fields sharing at least one element with
// the given array.
func ArrayOverlaps(field string, values []any) Expr {
	return Cmp{Op: OpArrayOverlaps, Field: field, Value: values}
}

// IsNull matches rows where field is null or absent.
func IsNull(field string) Expr { return Unary{Op: OpIsNull, Field: field} }

// IsNotNull matches rows where field is present and non-null.
func IsNotNull(field string) Expr { return Unary{Op: OpIsNotNull, Field: field} }

// Not negates a predicate.
func NotExpr(e Expr) Expr { return Not{Operand: e} }

// And combines predicates conjunctively. And() is vacuously true.
func And(exprs ...Expr) Expr { return Logical{Op: OpAnd, Operands: compact(exprs)} }

// Or combines predicates disjunctively. Or() is vacuously false.
func Or(exprs ...Expr) Expr { return Logical{Op: OpOr, Operands: compact(exprs)} }

func anySlice(values []any) []any {
	out := make([]any, len(values))
	copy(out, values)
	return out
}

func compact(exprs []Expr) []Expr {
	out := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
