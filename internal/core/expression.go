package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CompareOp names a comparison between a context field and a literal.
type CompareOp string

const (
	CompareEq       CompareOp = "eq"
	CompareNe       CompareOp = "ne"
	CompareGt       CompareOp = "gt"
	CompareGte      CompareOp = "gte"
	CompareLt       CompareOp = "lt"
	CompareLte      CompareOp = "lte"
	CompareIn       CompareOp = "in"
	CompareContains CompareOp = "contains"
)

// Known reports whether op is one of the defined comparison operators.
// Documents may carry other operator names; those nodes never match.
func (op CompareOp) Known() bool {
	switch op {
	case CompareEq, CompareNe, CompareGt, CompareGte, CompareLt, CompareLte, CompareIn, CompareContains:
		return true
	default:
		return false
	}
}

// LogicalOp combines child nodes.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
	LogicalNot LogicalOp = "not"
)

// ExpressionNode is one node of a parsed condition tree. The set of
// implementations is closed: [Comparison], [Logical], and [Predicate].
// A nil ExpressionNode is vacuously true.
type ExpressionNode interface {
	expressionNode()
}

// Comparison tests one context field against a literal value.
type Comparison struct {
	Op    CompareOp
	Field string
	Value any
}

func (Comparison) expressionNode() {}

// Logical combines children with and/or/not. Not takes exactly one child.
type Logical struct {
	Op       LogicalOp
	Children []ExpressionNode
}

func (Logical) expressionNode() {}

// Predicate defers to a named function in the predicate registry.
type Predicate struct {
	Name   string
	Params map[string]any
}

func (Predicate) expressionNode() {}

var jsonNull = []byte("null")

// ParseConditions parses a stored condition document into its tree form.
// An absent, null, or empty-object document parses to nil, which evaluates
// true. Each node is a JSON object with exactly one operator key: "and" and
// "or" take arrays of nodes, "not" takes a single node, "predicate" takes
// {"name", "params"}, and any other key is read as a comparison over
// {"field", "value"}. Comparison operator names are not checked here.
func ParseConditions(doc []byte) (ExpressionNode, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return nil, nil
	}
	return parseNode(trimmed)
}

func parseNode(doc []byte) (ExpressionNode, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("condition node must be a JSON object: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) > 1 {
		return nil, fmt.Errorf("condition node must carry exactly one operator key, got %d", len(fields))
	}

	for key, raw := range fields {
		switch key {
		case string(LogicalAnd), string(LogicalOr):
			var parts []json.RawMessage
			if err := json.Unmarshal(raw, &parts); err != nil {
				return nil, fmt.Errorf("%q takes an array of condition nodes: %w", key, err)
			}
			children := make([]ExpressionNode, 0, len(parts))
			for i, part := range parts {
				child, err := parseNode(part)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
				}
				children = append(children, child)
			}
			return Logical{Op: LogicalOp(key), Children: children}, nil

		case string(LogicalNot):
			child, err := parseNode(raw)
			if err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
			return Logical{Op: LogicalNot, Children: []ExpressionNode{child}}, nil

		case "predicate":
			var body struct {
				Name   string         `json:"name"`
				Params map[string]any `json:"params"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, fmt.Errorf("predicate body must be an object: %w", err)
			}
			if body.Name == "" {
				return nil, errors.New("predicate requires a name")
			}
			return Predicate{Name: body.Name, Params: body.Params}, nil

		default:
			var body struct {
				Field string `json:"field"`
				Value any    `json:"value"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, fmt.Errorf("%s body must be an object: %w", key, err)
			}
			if body.Field == "" {
				return nil, fmt.Errorf("%s requires a field", key)
			}
			return Comparison{Op: CompareOp(key), Field: body.Field, Value: body.Value}, nil
		}
	}

	return nil, nil
}

// UnknownOperators walks a parsed tree and collects comparison operator names
// outside the defined set. Such nodes are legal to store but can never match,
// so the write path surfaces them in logs.
func UnknownOperators(node ExpressionNode) []string {
	var unknown []string
	walkExpression(node, func(n ExpressionNode) {
		if cmp, ok := n.(Comparison); ok && !cmp.Op.Known() {
			unknown = append(unknown, string(cmp.Op))
		}
	})
	return unknown
}

func walkExpression(node ExpressionNode, visit func(ExpressionNode)) {
	if node == nil {
		return
	}
	visit(node)
	if logical, ok := node.(Logical); ok {
		for _, child := range logical.Children {
			walkExpression(child, visit)
		}
	}
}
