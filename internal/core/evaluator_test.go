package core

import (
	"errors"
	"testing"
	"time"
)

func intPtr(value int) *int {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}

func TestEvaluatorEvaluate(t *testing.T) {
	evaluator := NewEvaluator(nil)
	noon := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		node ExpressionNode
		ectx EvaluationContext
		want bool
	}{
		{
			name: "nil node is vacuously true",
			node: nil,
			want: true,
		},
		{
			name: "eq match",
			node: Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: true,
		},
		{
			name: "eq mismatch",
			node: Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "approved"}},
			want: false,
		},
		{
			name: "eq missing field fails closed",
			node: Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
			ectx: EvaluationContext{Attributes: map[string]any{"other": "draft"}},
			want: false,
		},
		{
			name: "ne mismatch holds",
			node: Comparison{Op: CompareNe, Field: "payrollStatus", Value: "approved"},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: true,
		},
		{
			name: "ne match fails",
			node: Comparison{Op: CompareNe, Field: "payrollStatus", Value: "draft"},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: false,
		},
		{
			name: "ne missing field fails closed rather than holding",
			node: Comparison{Op: CompareNe, Field: "payrollStatus", Value: "draft"},
			ectx: EvaluationContext{Attributes: nil},
			want: false,
		},
		{
			name: "gt numbers",
			node: Comparison{Op: CompareGt, Field: "headcount", Value: 10},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 11}},
			want: true,
		},
		{
			name: "gt equal numbers fails",
			node: Comparison{Op: CompareGt, Field: "headcount", Value: 10},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 10}},
			want: false,
		},
		{
			name: "gt missing field fails closed",
			node: Comparison{Op: CompareGt, Field: "headcount", Value: 10},
			ectx: EvaluationContext{},
			want: false,
		},
		{
			name: "gt mixed int and float",
			node: Comparison{Op: CompareGt, Field: "amount", Value: 99.5},
			ectx: EvaluationContext{Attributes: map[string]any{"amount": int64(100)}},
			want: true,
		},
		{
			name: "gt strings compare lexicographically",
			node: Comparison{Op: CompareGt, Field: "period", Value: "2025-01"},
			ectx: EvaluationContext{Attributes: map[string]any{"period": "2025-02"}},
			want: true,
		},
		{
			name: "gt number against string is unordered",
			node: Comparison{Op: CompareGt, Field: "headcount", Value: "10"},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 11}},
			want: false,
		},
		{
			name: "gte equal holds",
			node: Comparison{Op: CompareGte, Field: "headcount", Value: 10},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 10}},
			want: true,
		},
		{
			name: "lt holds",
			node: Comparison{Op: CompareLt, Field: "headcount", Value: 10},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 9}},
			want: true,
		},
		{
			name: "lte equal holds",
			node: Comparison{Op: CompareLte, Field: "headcount", Value: 10},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 10}},
			want: true,
		},
		{
			name: "in matches from list",
			node: Comparison{Op: CompareIn, Field: "payrollStatus", Value: []any{"draft", "review"}},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "review"}},
			want: true,
		},
		{
			name: "in supports typed slices",
			node: Comparison{Op: CompareIn, Field: "payrollStatus", Value: []string{"draft", "review"}},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: true,
		},
		{
			name: "in with non-list value fails",
			node: Comparison{Op: CompareIn, Field: "payrollStatus", Value: "draft"},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: false,
		},
		{
			name: "contains finds substring",
			node: Comparison{Op: CompareContains, Field: "departmentPath", Value: "finance"},
			ectx: EvaluationContext{Attributes: map[string]any{"departmentPath": "corp/finance/payroll"}},
			want: true,
		},
		{
			name: "contains finds list element",
			node: Comparison{Op: CompareContains, Field: "permissions", Value: "payroll.submit"},
			ectx: EvaluationContext{Attributes: map[string]any{"permissions": []any{"payroll.view", "payroll.submit"}}},
			want: true,
		},
		{
			name: "contains scalar context value fails",
			node: Comparison{Op: CompareContains, Field: "headcount", Value: 1},
			ectx: EvaluationContext{Attributes: map[string]any{"headcount": 12}},
			want: false,
		},
		{
			name: "unknown operator fails closed",
			node: Comparison{Op: CompareOp("regex"), Field: "payrollStatus", Value: ".*"},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: false,
		},
		{
			name: "empty and is true",
			node: Logical{Op: LogicalAnd},
			want: true,
		},
		{
			name: "empty or is false",
			node: Logical{Op: LogicalOr},
			want: false,
		},
		{
			name: "double negation restores the operand",
			node: Logical{Op: LogicalNot, Children: []ExpressionNode{
				Logical{Op: LogicalNot, Children: []ExpressionNode{
					Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
				}},
			}},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: true,
		},
		{
			name: "not without exactly one child fails closed",
			node: Logical{Op: LogicalNot},
			want: false,
		},
		{
			name: "and requires every child",
			node: Logical{Op: LogicalAnd, Children: []ExpressionNode{
				Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
				Comparison{Op: CompareGt, Field: "headcount", Value: 5},
			}},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft", "headcount": 3}},
			want: false,
		},
		{
			name: "or takes any child",
			node: Logical{Op: LogicalOr, Children: []ExpressionNode{
				Comparison{Op: CompareEq, Field: "payrollStatus", Value: "approved"},
				Comparison{Op: CompareGt, Field: "headcount", Value: 5},
			}},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft", "headcount": 6}},
			want: true,
		},
		{
			name: "nested groups evaluate recursively",
			node: Logical{Op: LogicalAnd, Children: []ExpressionNode{
				Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
				Logical{Op: LogicalOr, Children: []ExpressionNode{
					Comparison{Op: CompareEq, Field: "roleName", Value: "hr_manager"},
					Comparison{Op: CompareEq, Field: "roleName", Value: "hr_admin"},
				}},
			}},
			ectx: EvaluationContext{
				RoleName:   "hr_admin",
				Attributes: map[string]any{"payrollStatus": "draft"},
			},
			want: true,
		},
		{
			name: "unknown logical operator fails closed",
			node: Logical{Op: LogicalOp("xor"), Children: []ExpressionNode{
				Comparison{Op: CompareEq, Field: "payrollStatus", Value: "draft"},
			}},
			ectx: EvaluationContext{Attributes: map[string]any{"payrollStatus": "draft"}},
			want: false,
		},
		{
			name: "identity fields resolve through their well-known names",
			node: Comparison{Op: CompareEq, Field: "userId", Value: "user-7"},
			ectx: EvaluationContext{UserID: "user-7"},
			want: true,
		},
		{
			name: "attributes shadow identity fields",
			node: Comparison{Op: CompareEq, Field: "userId", Value: "user-7"},
			ectx: EvaluationContext{
				UserID:     "user-7",
				Attributes: map[string]any{"userId": "someone-else"},
			},
			want: false,
		},
		{
			name: "unregistered predicate fails closed",
			node: Predicate{Name: "is_full_moon"},
			want: false,
		},
		{
			name: "built-in predicate dispatches",
			node: Predicate{Name: "day_of_month", Params: map[string]any{"start": 1.0, "end": 15.0}},
			ectx: EvaluationContext{Now: noon},
			want: true,
		},
		{
			name: "numeric eq supports mixed numeric types",
			node: Comparison{Op: CompareEq, Field: "cohort", Value: 1.0},
			ectx: EvaluationContext{Attributes: map[string]any{"cohort": int32(1)}},
			want: true,
		},
		{
			name: "numeric eq keeps precision for large integers mismatch",
			node: Comparison{Op: CompareEq, Field: "snowflake", Value: uint64(9007199254740992)},
			ectx: EvaluationContext{Attributes: map[string]any{"snowflake": int64(9007199254740993)}},
			want: false,
		},
		{
			name: "numeric eq keeps precision for large integers match",
			node: Comparison{Op: CompareEq, Field: "snowflake", Value: uint64(9007199254740993)},
			ectx: EvaluationContext{Attributes: map[string]any{"snowflake": int64(9007199254740993)}},
			want: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := evaluator.Evaluate(test.node, test.ectx)
			if got != test.want {
				t.Fatalf("Evaluate() = %t, want %t", got, test.want)
			}
		})
	}
}

func TestEvaluatorCustomPredicate(t *testing.T) {
	registry := NewPredicateRegistry()
	if err := registry.Register("is_probation", func(ectx EvaluationContext, params map[string]any) (bool, error) {
		hired, ok := ectx.Lookup("hiredAt")
		if !ok {
			return false, errors.New("hiredAt missing")
		}
		date, err := coerceTime(hired)
		if err != nil {
			return false, err
		}
		return ectx.Clock().Sub(date) < 90*24*time.Hour, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	evaluator := NewEvaluator(registry)
	node := Predicate{Name: "is_probation"}
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	ectx := EvaluationContext{
		Now:        now,
		Attributes: map[string]any{"hiredAt": "2025-05-01"},
	}
	if !evaluator.Evaluate(node, ectx) {
		t.Fatalf("Evaluate() = false, want true for a recent hire")
	}

	ectx.Attributes["hiredAt"] = "2024-01-01"
	if evaluator.Evaluate(node, ectx) {
		t.Fatalf("Evaluate() = true, want false for an old hire")
	}

	ectx.Attributes = nil
	if evaluator.Evaluate(node, ectx) {
		t.Fatalf("Evaluate() = true, want false when the predicate errors")
	}
}

func TestPredicateRegistryRegister(t *testing.T) {
	registry := NewPredicateRegistry()

	if err := registry.Register("", func(EvaluationContext, map[string]any) (bool, error) { return true, nil }); err == nil {
		t.Fatal("Register() with empty name did not fail")
	}
	if err := registry.Register("noop", nil); err == nil {
		t.Fatal("Register() with nil func did not fail")
	}

	if err := registry.Register("always", func(EvaluationContext, map[string]any) (bool, error) { return true, nil }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, ok := registry.lookup("always"); !ok {
		t.Fatal("lookup() did not find registered predicate")
	}
}

func TestOrderValues(t *testing.T) {
	tests := []struct {
		name      string
		left      any
		right     any
		want      int
		orderable bool
	}{
		{name: "ints", left: 3, right: 5, want: -1, orderable: true},
		{name: "equal floats", left: 2.5, right: 2.5, want: 0, orderable: true},
		{name: "int against float", left: int64(3), right: 2.5, want: 1, orderable: true},
		{name: "uint against int", left: uint32(7), right: 6, want: 1, orderable: true},
		{name: "strings", left: "2025-01", right: "2025-02", want: -1, orderable: true},
		{name: "string against number", left: "10", right: 10, orderable: false},
		{name: "bools are unordered", left: true, right: false, orderable: false},
		{name: "nils are unordered", left: nil, right: nil, orderable: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := orderValues(test.left, test.right)
			if ok != test.orderable {
				t.Fatalf("orderValues() ok = %t, want %t", ok, test.orderable)
			}
			if ok && got != test.want {
				t.Fatalf("orderValues() = %d, want %d", got, test.want)
			}
		})
	}
}
