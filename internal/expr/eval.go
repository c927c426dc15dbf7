package expr

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/keel/internal/doc"
)

// fold performs Unicode case folding for the caseless pattern
// operators. Caser instances are not safe for concurrent use, so one is
// created per call; folding is cheap relative to a row fetch.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Eval evaluates a predicate against a materialized row.
//
// Evaluation is pure and total: missing fields read as null, type
// mismatches evaluate to false, and no input ever panics. Ordered
// comparisons use the document total order (null < bool < number <
// string < array < object), matching index key order, so a predicate
// evaluated in memory agrees with the same predicate driven through an
// index scan.
func Eval(e Expr, row doc.Doc) bool {
	switch node := e.(type) {
	case nil:
		return true
	case Cmp:
		return evalCmp(node, row)
	case Unary:
		isNull := row.Get(node.Field) == nil
		if node.Op == OpIsNull {
			return isNull
		}
		return !isNull
	case Not:
		return !Eval(node.Operand, row)
	case Logical:
		if node.Op == OpAnd {
			for _, op := range node.Operands {
				if !Eval(op, row) {
					return false
				}
			}
			return true
		}
		for _, op := range node.Operands {
			if Eval(op, row) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evalCmp(node Cmp, row doc.Doc) bool {
	fieldVal := row.Get(node.Field)

	switch node.Op {
	case OpEq:
		return doc.Equal(fieldVal, node.Value)
	case OpNe:
		return !doc.Equal(fieldVal, node.Value)
	case OpGt:
		return doc.Compare(fieldVal, node.Value) > 0
	case OpGte:
		return doc.Compare(fieldVal, node.Value) >= 0
	case OpLt:
		return doc.Compare(fieldVal, node.Value) < 0
	case OpLte:
		return doc.Compare(fieldVal, node.Value) <= 0
	case OpIn:
		return inList(fieldVal, node.Value)
	case OpNotIn:
		return !inList(fieldVal, node.Value)
	case OpLike:
		return matchPattern(fieldVal, node.Value, false)
	case OpNotLike:
		return !matchPattern(fieldVal, node.Value, false)
	case OpILike:
		return matchPattern(fieldVal, node.Value, true)
	case OpNotILike:
		return !matchPattern(fieldVal, node.Value, true)
	case OpArrayContains:
		return arrayContains(fieldVal, node.Value)
	case OpArrayContained:
		return arrayContained(fieldVal, node.Value)
	case OpArrayOverlaps:
		return arrayOverlaps(fieldVal, node.Value)
	default:
		return false
	}
}

func inList(fieldVal, listVal any) bool {
	list, ok := listVal.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if doc.Equal(fieldVal, v) {
			return true
		}
	}
	return false
}

// matchPattern implements the restricted LIKE family: a leading %, a
// trailing %, or both. A % anywhere else is an ordinary character, so
// unrecognized patterns fall back to exact-match semantics.
func matchPattern(fieldVal, patternVal any, caseless bool) bool {
	s, ok := fieldVal.(string)
	if !ok {
		return false
	}
	pattern, ok := patternVal.(string)
	if !ok {
		return false
	}
	if caseless {
		s = fold(s)
		pattern = fold(pattern)
	}

	leading := strings.HasPrefix(pattern, "%")
	inner := strings.TrimPrefix(pattern, "%")
	trailing := strings.HasSuffix(inner, "%")
	inner = strings.TrimSuffix(inner, "%")

	switch {
	case leading && trailing:
		return strings.Contains(s, inner)
	case leading:
		return strings.HasSuffix(s, inner)
	case trailing:
		return strings.HasPrefix(s, inner)
	default:
		return s == inner
	}
}

func arrayContains(fieldVal, value any) bool {
	arr, ok := fieldVal.([]any)
	if !ok {
		return false
	}
	if want, isList := value.([]any); isList {
		for _, w := range want {
			if !memberOf(arr, w) {
				return false
			}
		}
		return true
	}
	return memberOf(arr, value)
}

func arrayContained(fieldVal, value any) bool {
	arr, ok := fieldVal.([]any)
	if !ok {
		return false
	}
	superset, ok := value.([]any)
	if !ok {
		return false
	}
	for _, e := range arr {
		if !memberOf(superset, e) {
			return false
		}
	}
	return true
}

func arrayOverlaps(fieldVal, value any) bool {
	arr, ok := fieldVal.([]any)
	if !ok {
		return false
	}
	other, ok := value.([]any)
	if !ok {
		return false
	}
	for _, e := range arr {
		if memberOf(other, e) {
			return true
		}
	}
	return false
}

func memberOf(list []any, v any) bool {
	for _, e := range list {
		if doc.Equal(e, v) {
			return true
		}
	}
	return false
}
