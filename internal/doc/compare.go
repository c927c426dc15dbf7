package doc

import (
	"sort"
	"strings"
)

// Type rank for cross-type ordering. Documents are schemaless, so a
// range condition can meet mixed types in one field; comparisons must
// stay total. The order mirrors what document stores define:
// null < bool < number < string < array < object.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int64, float64:
		return rankNumber
	case string:
		return rankString
	case []any:
		return rankArray
	case map[string]any, Doc:
		return rankObject
	default:
		// Unnormalized values sort last; Normalize rejects them on the
		// way into the store, so this only matters for ad-hoc inputs.
		return rankObject + 1
	}
}

// Compare imposes a total order over document values: -1, 0, or +1.
// Values of different kinds order by type rank; numbers compare by
// numeric value regardless of int64/float64 representation.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case rankNumber:
		return compareNumbers(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankArray:
		return compareArrays(a.([]any), b.([]any))
	default:
		return compareObjects(asMap(a), asMap(b))
	}
}

// Equal reports value equality under Compare's order.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

func compareNumbers(a, b any) int {
	ai, aIsInt := a.(int64)
	bi, bIsInt := b.(int64)
	if aIsInt && bIsInt {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	af := toFloat(a)
	bf := toFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func compareArrays(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Doc:
		return map[string]any(m)
	default:
		return nil
	}
}

// compareObjects orders objects by sorted key sequence, then values.
// Rarely hit in practice (indexes are on scalar fields) but keeps the
// order total.
func compareObjects(a, b map[string]any) int {
	ka := sortedKeys(a)
	kb := sortedKeys(b)
	n := len(ka)
	if len(kb) < n {
		n = len(kb)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := Compare(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(ka) < len(kb):
		return -1
	case len(ka) > len(kb):
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
