package core

import (
	"reflect"
	"testing"
)

func TestParseConditions(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want ExpressionNode
	}{
		{
			name: "empty document is vacuous",
			doc:  "",
			want: nil,
		},
		{
			name: "null document is vacuous",
			doc:  "null",
			want: nil,
		},
		{
			name: "empty object is vacuous",
			doc:  "{}",
			want: nil,
		},
		{
			name: "comparison leaf",
			doc:  `{"eq": {"field": "payrollStatus", "value": "draft"}}`,
			want: Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
		},
		{
			name: "comparison keeps unrecognized operator names",
			doc:  `{"regex": {"field": "payrollStatus", "value": ".*"}}`,
			want: Comparison{Op: CompareOp("regex"), Field: "payrollStatus", Value: ".*"},
		},
		{
			name: "in comparison with list value",
			doc:  `{"in": {"field": "payrollStatus", "value": ["draft", "review"]}}`,
			want: Comparison{Op: CompareIn, Field: "payrollStatus", Value: []any{"draft", "review"}},
		},
		{
			name: "and group",
			doc:  `{"and": [{"eq": {"field": "a", "value": 1}}, {"eq": {"field": "b", "value": 2}}]}`,
			want: Logical{Op: LogicalAnd, Children: []ExpressionNode{
				Comparison{Op: CompareEq, Field: "a", Value: float64(1)},
				Comparison{Op: CompareEq, Field: "b", Value: float64(2)},
			}},
		},
		{
			name: "empty and group",
			doc:  `{"and": []}`,
			want: Logical{Op: LogicalAnd, Children: []ExpressionNode{}},
		},
		{
			name: "not wraps a single node",
			doc:  `{"not": {"eq": {"field": "a", "value": 1}}}`,
			want: Logical{Op: LogicalNot, Children: []ExpressionNode{
				Comparison{Op: CompareEq, Field: "a", Value: float64(1)},
			}},
		},
		{
			name: "not of empty object wraps a vacuous child",
			doc:  `{"not": {}}`,
			want: Logical{Op: LogicalNot, Children: []ExpressionNode{nil}},
		},
		{
			name: "predicate leaf",
			doc:  `{"predicate": {"name": "day_of_month", "params": {"start": 1, "end": 5}}}`,
			want: Predicate{Name: "day_of_month", Params: map[string]any{"start": float64(1), "end": float64(5)}},
		},
		{
			name: "nested document",
			doc: `{"or": [
				{"and": [{"eq": {"field": "payrollStatus", "value": "draft"}}, {"gt": {"field": "headcount", "value": 5}}]},
				{"predicate": {"name": "time_of_day", "params": {"start": "09:00", "end": "18:00"}}}
			]}`,
			want: Logical{Op: LogicalOr, Children: []ExpressionNode{
				Logical{Op: LogicalAnd, Children: []ExpressionNode{
					Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
					Comparison{Op: CompareGt, Field: "headcount", Value: float64(5)},
				}},
				Predicate{Name: "time_of_day", Params: map[string]any{"start": "09:00", "end": "18:00"}},
			}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseConditions([]byte(test.doc))
			if err != nil {
				t.Fatalf("ParseConditions() error = %v", err)
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Fatalf("ParseConditions() = %#v, want %#v", got, test.want)
			}
		})
	}
}

func TestParseConditionsRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "scalar document", doc: `"draft"`},
		{name: "array document", doc: `[{"eq": {"field": "a", "value": 1}}]`},
		{name: "two operator keys", doc: `{"eq": {"field": "a", "value": 1}, "ne": {"field": "b", "value": 2}}`},
		{name: "and with object payload", doc: `{"and": {"field": "a", "value": 1}}`},
		{name: "or with scalar payload", doc: `{"or": "nope"}`},
		{name: "not with array payload", doc: `{"not": [{"eq": {"field": "a", "value": 1}}]}`},
		{name: "comparison without field", doc: `{"eq": {"value": 1}}`},
		{name: "comparison with non-string field", doc: `{"eq": {"field": 5, "value": 1}}`},
		{name: "comparison with scalar payload", doc: `{"eq": "draft"}`},
		{name: "predicate without name", doc: `{"predicate": {"params": {}}}`},
		{name: "predicate with scalar payload", doc: `{"predicate": "day_of_month"}`},
		{name: "malformed json", doc: `{"eq": {`},
		{name: "nested failure surfaces", doc: `{"and": [{"eq": {"field": "a", "value": 1}}, {"eq": {}}]}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseConditions([]byte(test.doc)); err == nil {
				t.Fatalf("ParseConditions(%s) did not fail", test.doc)
			}
		})
	}
}

func TestUnknownOperators(t *testing.T) {
	node, err := ParseConditions([]byte(`{"and": [
		{"eq": {"field": "a", "value": 1}},
		{"regex": {"field": "b", "value": ".*"}},
		{"not": {"like": {"field": "c", "value": "x%"}}}
	]}`))
	if err != nil {
		t.Fatalf("ParseConditions() error = %v", err)
	}

	got := UnknownOperators(node)
	want := []string{"regex", "like"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnknownOperators() = %v, want %v", got, want)
	}

	if got := UnknownOperators(nil); got != nil {
		t.Fatalf("UnknownOperators(nil) = %v, want nil", got)
	}
}
