package expr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/keel/internal/doc"
)

// Tagged JSON serialization for predicates. Deferred continuations
// carry their filter through the scheduler as an opaque payload, so the
// round trip must be exact: Unmarshal(Marshal(e)) evaluates identically
// to e on every row.
//
// Wire shapes:
//
//	{"kind":"cmp","op":"eq","field":"userId","value":"u1"}
//	{"kind":"unary","op":"isNull","field":"deletedAt"}
//	{"kind":"not","operand":{...}}
//	{"kind":"and","operands":[{...},{...}]}

type exprEnvelope struct {
	Kind     string            `json:"kind"`
	Op       string            `json:"op,omitempty"`
	Field    string            `json:"field,omitempty"`
	Value    json.RawMessage   `json:"value,omitempty"`
	Operand  json.RawMessage   `json:"operand,omitempty"`
	Operands []json.RawMessage `json:"operands,omitempty"`
}

// Marshal serializes a predicate to its tagged JSON form.
// A nil predicate marshals to JSON null.
func Marshal(e Expr) ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	switch node := e.(type) {
	case Cmp:
		value, err := json.Marshal(node.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value for field %q: %w", node.Field, err)
		}
		return json.Marshal(exprEnvelope{
			Kind:  "cmp",
			Op:    string(node.Op),
			Field: node.Field,
			Value: value,
		})
	case Unary:
		return json.Marshal(exprEnvelope{
			Kind:  "unary",
			Op:    string(node.Op),
			Field: node.Field,
		})
	case Not:
		operand, err := Marshal(node.Operand)
		if err != nil {
			return nil, err
		}
		return json.Marshal(exprEnvelope{Kind: "not", Operand: operand})
	case Logical:
		operands := make([]json.RawMessage, len(node.Operands))
		for i, op := range node.Operands {
			b, err := Marshal(op)
			if err != nil {
				return nil, fmt.Errorf("operand %d: %w", i, err)
			}
			operands[i] = b
		}
		return json.Marshal(exprEnvelope{Kind: string(node.Op), Operands: operands})
	default:
		return nil, fmt.Errorf("unknown Expr type: %T", e)
	}
}

// Unmarshal deserializes a predicate from its tagged JSON form.
// JSON null yields a nil predicate.
func Unmarshal(data []byte) (Expr, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var env exprEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}

	switch env.Kind {
	case "cmp":
		value, err := unmarshalValue(env.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", env.Field, err)
		}
		return Cmp{Op: CmpOp(env.Op), Field: env.Field, Value: value}, nil
	case "unary":
		return Unary{Op: UnaryOp(env.Op), Field: env.Field}, nil
	case "not":
		operand, err := Unmarshal(env.Operand)
		if err != nil {
			return nil, err
		}
		if operand == nil {
			return nil, fmt.Errorf("not without operand")
		}
		return Not{Operand: operand}, nil
	case "and", "or":
		operands := make([]Expr, 0, len(env.Operands))
		for i, raw := range env.Operands {
			op, err := Unmarshal(raw)
			if err != nil {
				return nil, fmt.Errorf("operand %d: %w", i, err)
			}
			if op != nil {
				operands = append(operands, op)
			}
		}
		return Logical{Op: LogicalOp(env.Kind), Operands: operands}, nil
	default:
		return nil, fmt.Errorf("unknown predicate kind %q", env.Kind)
	}
}

// unmarshalValue decodes a comparison literal, normalizing numbers to
// int64 where exact so round-tripped predicates compare like the
// originals.
func unmarshalValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return doc.Normalize(v)
}
