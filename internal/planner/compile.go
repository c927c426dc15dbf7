package planner

import (
	"github.com/roach88/keel/internal/doc"
	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/schema"
)

// Options control compilation.
type Options struct {
	// AllowFullScan permits a plan with no index. Without it a
	// predicate that matches no index fails compilation; this is the
	// guardrail against silently-expensive mutations.
	AllowFullScan bool
}

// leaf is an atomic condition split out of a top-level AND.
type leaf struct {
	cond     Cond
	original expr.Expr
	used     bool
}

// Compile partitions a predicate into an indexable plan for one table.
//
// Only leaves of a top-level AND participate in index selection; any
// OR, NOT, or nested structure is evaluated post-fetch as residual.
// For each declared index the compiler greedily matches a contiguous
// prefix of equality conditions on the index's field order, optionally
// followed by exactly one range condition on the next field. A single
// IN condition may stand in for an equality inside the prefix; it is
// expanded into one probe per array element, bounding the cost to N
// index scans instead of a full scan. Longer prefixes win; ties go to
// declaration order.
func Compile(table *schema.Table, pred expr.Expr, opts Options) (*Plan, error) {
	leaves, nonIndexable := decompose(pred)

	best := matchResult{}
	for _, idx := range table.AllIndexes() {
		m := matchIndex(idx, leaves)
		if m.score() > best.score() {
			best = m
		}
	}

	if best.score() == 0 {
		if !opts.AllowFullScan {
			return nil, &Error{
				Table:  table.Name,
				Reason: "no index matches the predicate and full scan is not allowed",
			}
		}
		return &Plan{Table: table.Name, FullScan: true, Residual: pred}, nil
	}

	plan := &Plan{
		Table: table.Name,
		Index: best.index.Name,
		Range: best.rng,
	}
	plan.Residual = residualOf(leaves, nonIndexable, best.consumed)

	// Expand an IN condition into probe sets: the cartesian point per
	// array element, substituted into the equality prefix.
	if best.inPos >= 0 {
		values, _ := best.prefix[best.inPos].Value.([]any)
		plan.Probes = make([][]Cond, 0, len(values))
		for _, v := range values {
			probe := make([]Cond, len(best.prefix))
			copy(probe, best.prefix)
			probe[best.inPos] = Cond{Field: probe[best.inPos].Field, Op: expr.OpEq, Value: v}
			plan.Probes = append(plan.Probes, probe)
		}
	} else {
		plan.Prefix = best.prefix
	}

	return plan, nil
}

// decompose flattens nested top-level ANDs into indexable leaves plus
// the sub-predicates that cannot drive an index.
func decompose(pred expr.Expr) ([]*leaf, []expr.Expr) {
	var leaves []*leaf
	var nonIndexable []expr.Expr

	var visit func(e expr.Expr)
	visit = func(e expr.Expr) {
		switch node := e.(type) {
		case nil:
		case expr.Logical:
			if node.Op == expr.OpAnd {
				for _, op := range node.Operands {
					visit(op)
				}
				return
			}
			nonIndexable = append(nonIndexable, node)
		case expr.Cmp:
			switch node.Op {
			case expr.OpEq, expr.OpGt, expr.OpGte, expr.OpLt, expr.OpLte:
				leaves = append(leaves, &leaf{
					cond:     Cond{Field: node.Field, Op: node.Op, Value: node.Value},
					original: node,
				})
			case expr.OpIn:
				if _, ok := node.Value.([]any); ok {
					leaves = append(leaves, &leaf{
						cond:     Cond{Field: node.Field, Op: node.Op, Value: node.Value},
						original: node,
					})
					return
				}
				nonIndexable = append(nonIndexable, node)
			default:
				nonIndexable = append(nonIndexable, node)
			}
		default:
			nonIndexable = append(nonIndexable, e)
		}
	}
	visit(pred)
	return leaves, nonIndexable
}

type matchResult struct {
	index    schema.Index
	prefix   []Cond
	inPos    int // position of the IN condition inside prefix, -1 if none
	rng      *Cond
	consumed []*leaf
}

func (m matchResult) score() int {
	n := len(m.prefix)
	if m.rng != nil {
		n++
	}
	return n
}

// matchIndex greedily binds leaves to one index's field order.
func matchIndex(idx schema.Index, leaves []*leaf) matchResult {
	m := matchResult{index: idx, inPos: -1}

	used := make(map[*leaf]bool)
	for _, field := range idx.Fields {
		l := findLeaf(leaves, used, field, expr.OpEq)
		if l != nil {
			m.prefix = append(m.prefix, l.cond)
			m.consumed = append(m.consumed, l)
			used[l] = true
			continue
		}
		// One IN condition may occupy an equality slot. A second IN
		// would multiply probe sets, so it stays residual.
		if m.inPos < 0 {
			if l := findLeaf(leaves, used, field, expr.OpIn); l != nil {
				m.inPos = len(m.prefix)
				m.prefix = append(m.prefix, l.cond)
				m.consumed = append(m.consumed, l)
				used[l] = true
				continue
			}
		}
		// Prefix ends here; exactly one range condition on this field
		// may close the scan.
		for _, op := range []expr.CmpOp{expr.OpGt, expr.OpGte, expr.OpLt, expr.OpLte} {
			if l := findLeaf(leaves, used, field, op); l != nil {
				c := l.cond
				m.rng = &c
				m.consumed = append(m.consumed, l)
				used[l] = true
				break
			}
		}
		break
	}

	return m
}

func findLeaf(leaves []*leaf, used map[*leaf]bool, field string, op expr.CmpOp) *leaf {
	for _, l := range leaves {
		if !used[l] && l.cond.Field == field && l.cond.Op == op {
			return l
		}
	}
	return nil
}

// residualOf reassembles the predicate parts the chosen index does not
// satisfy. Consumed leaves are excluded so no atomic condition is
// evaluated twice.
func residualOf(leaves []*leaf, nonIndexable []expr.Expr, consumed []*leaf) expr.Expr {
	isConsumed := make(map[*leaf]bool, len(consumed))
	for _, l := range consumed {
		isConsumed[l] = true
	}

	var parts []expr.Expr
	for _, l := range leaves {
		if !isConsumed[l] {
			parts = append(parts, l.original)
		}
	}
	parts = append(parts, nonIndexable...)

	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return expr.Logical{Op: expr.OpAnd, Operands: parts}
	}
}

// IDFastPath recognizes predicates that pin rows by identifier: a
// single equality on the id field, or an IN over ids, optionally
// wrapped in a top-level AND whose remaining conditions become the
// residual. Returns the ids, the residual predicate, and whether the
// fast path applies.
func IDFastPath(pred expr.Expr) ([]doc.ID, expr.Expr, bool) {
	leaves, nonIndexable := decompose(pred)

	var ids []doc.ID
	var idLeaf *leaf
	for _, l := range leaves {
		if l.cond.Field != doc.IDField {
			continue
		}
		switch l.cond.Op {
		case expr.OpEq:
			s, ok := l.cond.Value.(string)
			if !ok {
				return nil, nil, false
			}
			ids = []doc.ID{doc.ID(s)}
		case expr.OpIn:
			values, _ := l.cond.Value.([]any)
			for _, v := range values {
				s, ok := v.(string)
				if !ok {
					return nil, nil, false
				}
				ids = append(ids, doc.ID(s))
			}
		default:
			return nil, nil, false
		}
		idLeaf = l
		break
	}
	if idLeaf == nil {
		return nil, nil, false
	}

	residual := residualOf(leaves, nonIndexable, []*leaf{idLeaf})
	return ids, residual, true
}
