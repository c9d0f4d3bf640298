package core

import (
	"math"
	"reflect"
	"strings"
)

// Evaluator decides condition trees against evaluation contexts. It is pure:
// no I/O, no mutation, safe for concurrent use. Faults inside a node (missing
// field, type mismatch, unknown operator or predicate) make that node false
// rather than failing the evaluation.
type Evaluator struct {
	predicates *PredicateRegistry
}

// NewEvaluator returns an evaluator dispatching predicate nodes through
// registry. A nil registry gets the built-in predicates only.
func NewEvaluator(registry *PredicateRegistry) *Evaluator {
	if registry == nil {
		registry = NewPredicateRegistry()
	}
	return &Evaluator{predicates: registry}
}

// Evaluate reports whether node holds for ectx. A nil node is vacuously true.
func (e *Evaluator) Evaluate(node ExpressionNode, ectx EvaluationContext) bool {
	switch n := node.(type) {
	case nil:
		return true
	case Comparison:
		return e.evaluateComparison(n, ectx)
	case Logical:
		return e.evaluateLogical(n, ectx)
	case Predicate:
		return e.evaluatePredicate(n, ectx)
	default:
		return false
	}
}

func (e *Evaluator) evaluateComparison(node Comparison, ectx EvaluationContext) bool {
	value, ok := ectx.Lookup(node.Field)
	if !ok {
		return false
	}

	switch node.Op {
	case CompareEq:
		return valuesEqual(value, node.Value)
	case CompareNe:
		return !valuesEqual(value, node.Value)
	case CompareGt:
		order, ok := orderValues(value, node.Value)
		return ok && order > 0
	case CompareGte:
		order, ok := orderValues(value, node.Value)
		return ok && order >= 0
	case CompareLt:
		order, ok := orderValues(value, node.Value)
		return ok && order < 0
	case CompareLte:
		order, ok := orderValues(value, node.Value)
		return ok && order <= 0
	case CompareIn:
		return valueIn(value, node.Value)
	case CompareContains:
		return valueContains(value, node.Value)
	default:
		return false
	}
}

func (e *Evaluator) evaluateLogical(node Logical, ectx EvaluationContext) bool {
	switch node.Op {
	case LogicalAnd:
		for _, child := range node.Children {
			if !e.Evaluate(child, ectx) {
				return false
			}
		}
		return true
	case LogicalOr:
		for _, child := range node.Children {
			if e.Evaluate(child, ectx) {
				return true
			}
		}
		return false
	case LogicalNot:
		if len(node.Children) != 1 {
			return false
		}
		return !e.Evaluate(node.Children[0], ectx)
	default:
		return false
	}
}

func (e *Evaluator) evaluatePredicate(node Predicate, ectx EvaluationContext) bool {
	fn, ok := e.predicates.lookup(node.Name)
	if !ok {
		return false
	}

	held, err := fn(ectx, node.Params)
	if err != nil {
		return false
	}
	return held
}

// valueIn reports whether value equals an element of ruleValue, which must be
// a slice or array.
func valueIn(value any, ruleValue any) bool {
	values := reflect.ValueOf(ruleValue)
	if !values.IsValid() {
		return false
	}

	if values.Kind() != reflect.Slice && values.Kind() != reflect.Array {
		return false
	}

	for i := 0; i < values.Len(); i++ {
		if valuesEqual(value, values.Index(i).Interface()) {
			return true
		}
	}

	return false
}

// valueContains is the mirror of valueIn: the context side holds the
// collection. A string context value contains a string rule value as a
// substring; a slice context value contains the rule value as an element.
func valueContains(value any, ruleValue any) bool {
	if text, ok := value.(string); ok {
		sub, ok := ruleValue.(string)
		return ok && strings.Contains(text, sub)
	}
	return valueIn(ruleValue, value)
}

// orderValues reports how left sorts relative to right. Ordering is defined
// for two numbers or two strings; every other pairing is unordered.
func orderValues(left any, right any) (int, bool) {
	if leftNumber, ok := asNumber(left); ok {
		rightNumber, ok := asNumber(right)
		if !ok {
			return 0, false
		}
		switch {
		case leftNumber < rightNumber:
			return -1, true
		case leftNumber > rightNumber:
			return 1, true
		default:
			return 0, true
		}
	}

	if leftText, ok := left.(string); ok {
		if rightText, ok := right.(string); ok {
			return strings.Compare(leftText, rightText), true
		}
	}

	return 0, false
}

func asNumber(value any) (float64, bool) {
	if number, ok := asInt64(value); ok {
		return float64(number), true
	}
	if number, ok := asUint64(value); ok {
		return float64(number), true
	}
	return asFloat64(value)
}

func valuesEqual(left any, right any) bool {
	if leftInt, ok := asInt64(left); ok {
		if rightInt, ok := asInt64(right); ok {
			return leftInt == rightInt
		}

		if rightUint, ok := asUint64(right); ok {
			if leftInt < 0 {
				return false
			}
			return uint64(leftInt) == rightUint
		}

		if rightFloat, ok := asFloat64(right); ok {
			return floatEqualsInt64(rightFloat, leftInt)
		}
	}

	if leftUint, ok := asUint64(left); ok {
		if rightUint, ok := asUint64(right); ok {
			return leftUint == rightUint
		}

		if rightInt, ok := asInt64(right); ok {
			if rightInt < 0 {
				return false
			}
			return leftUint == uint64(rightInt)
		}

		if rightFloat, ok := asFloat64(right); ok {
			return floatEqualsUint64(rightFloat, leftUint)
		}
	}

	if leftFloat, ok := asFloat64(left); ok {
		if rightFloat, ok := asFloat64(right); ok {
			return leftFloat == rightFloat
		}

		if rightInt, ok := asInt64(right); ok {
			return floatEqualsInt64(leftFloat, rightInt)
		}

		if rightUint, ok := asUint64(right); ok {
			return floatEqualsUint64(leftFloat, rightUint)
		}
	}

	return reflect.DeepEqual(left, right)
}

func asInt64(value any) (int64, bool) {
	switch number := value.(type) {
	case int:
		return int64(number), true
	case int8:
		return int64(number), true
	case int16:
		return int64(number), true
	case int32:
		return int64(number), true
	case int64:
		return number, true
	default:
		return 0, false
	}
}

func asUint64(value any) (uint64, bool) {
	switch number := value.(type) {
	case uint:
		return uint64(number), true
	case uint8:
		return uint64(number), true
	case uint16:
		return uint64(number), true
	case uint32:
		return uint64(number), true
	case uint64:
		return number, true
	default:
		return 0, false
	}
}

func asFloat64(value any) (float64, bool) {
	switch number := value.(type) {
	case float32:
		return float64(number), true
	case float64:
		return number, true
	default:
		return 0, false
	}
}

func floatEqualsInt64(left float64, right int64) bool {
	if !isWholeFinite(left) {
		return false
	}

	if left < float64(math.MinInt64) || left > float64(math.MaxInt64) {
		return false
	}

	converted := int64(left)
	return float64(converted) == left && converted == right
}

func floatEqualsUint64(left float64, right uint64) bool {
	if !isWholeFinite(left) {
		return false
	}

	if left < 0 || left > float64(math.MaxUint64) {
		return false
	}

	converted := uint64(left)
	return float64(converted) == left && converted == right
}

func isWholeFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && math.Trunc(value) == value
}
