// Package planner compiles filter predicates into index-aware query
// plans: an indexable prefix served by a single declared index, probe
// sets for IN-style conditions, and a residual predicate re-checked
// after fetch. When no index serves any condition the caller must opt
// into a full scan explicitly; silent collection scans are rejected.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/keel/internal/expr"
)

// Cond is one atomic indexable condition: field op value.
type Cond struct {
	Field string
	Op    expr.CmpOp
	Value any
}

// Plan is the compiled form of a predicate against one table.
//
// Exactly one of three shapes holds:
//   - FullScan: no index used; Residual is the entire predicate.
//   - Probes non-empty: an IN condition was expanded; each probe is a
//     complete equality prefix for one scan of Index, sharing Range.
//   - Otherwise: a single scan of Index with Prefix and optional Range.
//
// Conditions consumed into Prefix, Probes, or Range never reappear in
// Residual: each atomic condition is evaluated exactly once.
type Plan struct {
	Table    string
	Index    string
	Prefix   []Cond
	Range    *Cond
	Probes   [][]Cond
	Residual expr.Expr
	FullScan bool
}

// Scans returns one equality prefix per physical index scan.
func (p *Plan) Scans() [][]Cond {
	if len(p.Probes) > 0 {
		return p.Probes
	}
	return [][]Cond{p.Prefix}
}

// Error reports why a predicate could not be compiled.
type Error struct {
	Table  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("planning %s: %s", e.Table, e.Reason)
}

// Explain renders the plan in a stable human-readable form.
func (p *Plan) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "table: %s\n", p.Table)
	if p.FullScan {
		b.WriteString("scan: full\n")
	} else {
		fmt.Fprintf(&b, "index: %s\n", p.Index)
		if len(p.Probes) > 0 {
			fmt.Fprintf(&b, "probes: %d\n", len(p.Probes))
			for _, probe := range p.Probes {
				fmt.Fprintf(&b, "  probe: %s\n", renderConds(probe))
			}
		} else if len(p.Prefix) > 0 {
			fmt.Fprintf(&b, "prefix: %s\n", renderConds(p.Prefix))
		}
		if p.Range != nil {
			fmt.Fprintf(&b, "range: %s\n", renderCond(*p.Range))
		}
	}
	if p.Residual != nil {
		fmt.Fprintf(&b, "residual: %s\n", renderExpr(p.Residual))
	}
	return b.String()
}

func renderConds(conds []Cond) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = renderCond(c)
	}
	return strings.Join(parts, ", ")
}

func renderCond(c Cond) string {
	return fmt.Sprintf("%s %s %s", c.Field, symbol(c.Op), renderValue(c.Value))
}

func symbol(op expr.CmpOp) string {
	switch op {
	case expr.OpEq:
		return "="
	case expr.OpNe:
		return "!="
	case expr.OpGt:
		return ">"
	case expr.OpGte:
		return ">="
	case expr.OpLt:
		return "<"
	case expr.OpLte:
		return "<="
	case expr.OpIn:
		return "in"
	default:
		return string(op)
	}
}

func renderValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// renderExpr prints a predicate tree for explain output.
func renderExpr(e expr.Expr) string {
	switch node := e.(type) {
	case nil:
		return "true"
	case expr.Cmp:
		return renderCond(Cond{Field: node.Field, Op: node.Op, Value: node.Value})
	case expr.Unary:
		if node.Op == expr.OpIsNull {
			return node.Field + " is null"
		}
		return node.Field + " is not null"
	case expr.Not:
		return "not (" + renderExpr(node.Operand) + ")"
	case expr.Logical:
		parts := make([]string, len(node.Operands))
		for i, op := range node.Operands {
			parts[i] = renderExpr(op)
		}
		joiner := " and "
		if node.Op == expr.OpOr {
			joiner = " or "
		}
		return "(" + strings.Join(parts, joiner) + ")"
	default:
		return fmt.Sprintf("%v", e)
	}
}
