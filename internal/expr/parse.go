package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse parses a filter-expression string into a predicate.
//
// The syntax covers the operators a schema file or CLI invocation
// needs; programmatic callers use the constructor functions instead.
//
//	status == 'active' AND priority >= 3
//	deletedAt IS NULL
//	role IN ('admin', 'owner') OR NOT (archived == true)
//	title LIKE 'draft%'
//
// Literals: single- or double-quoted strings, integers, decimals,
// true, false, null. Keywords are case-insensitive. An empty input
// yields a nil predicate.
func Parse(input string) (Expr, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	return e, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota + 1
	tokString
	tokNumber
	tokSymbol // == != <> >= <= > < ( ) ,
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != quote {
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i:j])})
			i = j
		case strings.ContainsRune("=!<>(),", r):
			// Two-character operators first.
			if i+1 < len(runes) {
				two := string(runes[i : i+2])
				if two == "==" || two == "!=" || two == "<>" || two == ">=" || two == "<=" {
					toks = append(toks, token{kind: tokSymbol, text: two})
					i += 2
					continue
				}
			}
			toks = append(toks, token{kind: tokSymbol, text: string(r)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) acceptKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptSymbol(sym string) bool {
	t := p.peek()
	if t.kind == tokSymbol && t.text == sym {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Expr{left}
	for p.acceptKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Logical{Op: OpOr, Operands: operands}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	operands := []Expr{left}
	for p.acceptKeyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Logical{Op: OpAnd, Operands: operands}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.acceptKeyword("not") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil
	}
	if p.acceptSymbol("(") {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.acceptSymbol(")") {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return e, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected field name, got %q", t.text)
	}
	field := t.text

	// field IS [NOT] NULL
	if p.acceptKeyword("is") {
		negate := p.acceptKeyword("not")
		if !p.acceptKeyword("null") {
			return nil, fmt.Errorf("expected NULL after IS in condition on %q", field)
		}
		if negate {
			return Unary{Op: OpIsNotNull, Field: field}, nil
		}
		return Unary{Op: OpIsNull, Field: field}, nil
	}

	// field [NOT] IN (v, ...) / field NOT LIKE / field NOT ILIKE
	negate := p.acceptKeyword("not")
	switch {
	case p.acceptKeyword("in"):
		values, err := p.parseValueList(field)
		if err != nil {
			return nil, err
		}
		op := OpIn
		if negate {
			op = OpNotIn
		}
		return Cmp{Op: op, Field: field, Value: values}, nil
	case p.acceptKeyword("like"):
		return p.parseLike(field, OpLike, OpNotLike, negate)
	case p.acceptKeyword("ilike"):
		return p.parseLike(field, OpILike, OpNotILike, negate)
	}
	if negate {
		return nil, fmt.Errorf("expected IN, LIKE or ILIKE after NOT in condition on %q", field)
	}

	opTok := p.next()
	if opTok.kind != tokSymbol {
		return nil, fmt.Errorf("expected operator after field %q, got %q", field, opTok.text)
	}
	var op CmpOp
	switch opTok.text {
	case "==", "=":
		op = OpEq
	case "!=", "<>":
		op = OpNe
	case ">":
		op = OpGt
	case ">=":
		op = OpGte
	case "<":
		op = OpLt
	case "<=":
		op = OpLte
	default:
		return nil, fmt.Errorf("unsupported operator %q", opTok.text)
	}
	value, err := p.parseLiteral(field)
	if err != nil {
		return nil, err
	}
	return Cmp{Op: op, Field: field, Value: value}, nil
}

func (p *parser) parseLike(field string, op, negOp CmpOp, negate bool) (Expr, error) {
	t := p.next()
	if t.kind != tokString {
		return nil, fmt.Errorf("LIKE pattern for %q must be a string literal", field)
	}
	if negate {
		op = negOp
	}
	return Cmp{Op: op, Field: field, Value: t.text}, nil
}

func (p *parser) parseValueList(field string) ([]any, error) {
	if !p.acceptSymbol("(") {
		return nil, fmt.Errorf("expected ( after IN in condition on %q", field)
	}
	var values []any
	for {
		v, err := p.parseLiteral(field)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.acceptSymbol(",") {
			continue
		}
		if p.acceptSymbol(")") {
			return values, nil
		}
		return nil, fmt.Errorf("expected , or ) in IN list for %q", field)
	}
}

func (p *parser) parseLiteral(field string) (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q in condition on %q", t.text, field)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q in condition on %q", t.text, field)
		}
		return n, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected identifier %q in condition on %q (quote string literals)", t.text, field)
	default:
		return nil, fmt.Errorf("expected literal in condition on %q, got %q", field, t.text)
	}
}
