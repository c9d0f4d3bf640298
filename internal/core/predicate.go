package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// PredicateFunc implements one named predicate. Returning an error makes the
// node false; it never fails the surrounding evaluation.
type PredicateFunc func(ectx EvaluationContext, params map[string]any) (bool, error)

// PredicateRegistry binds predicate names to their implementations. The
// zero-argument constructor installs the built-ins; hosts embedding the
// engine register their own alongside.
type PredicateRegistry struct {
	mu    sync.RWMutex
	funcs map[string]PredicateFunc
}

// NewPredicateRegistry returns a registry holding the built-in predicates:
// day_of_month, time_of_day, and date_within_days.
func NewPredicateRegistry() *PredicateRegistry {
	registry := &PredicateRegistry{funcs: make(map[string]PredicateFunc)}
	registry.funcs["day_of_month"] = predicateDayOfMonth
	registry.funcs["time_of_day"] = predicateTimeOfDay
	registry.funcs["date_within_days"] = predicateDateWithinDays
	return registry
}

// Register binds name to fn, replacing any existing binding.
func (r *PredicateRegistry) Register(name string, fn PredicateFunc) error {
	if name == "" {
		return errors.New("predicate name is required")
	}
	if fn == nil {
		return fmt.Errorf("predicate %q requires a function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

func (r *PredicateRegistry) lookup(name string) (PredicateFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// predicateDayOfMonth holds when the current day of month falls inside the
// inclusive window {"start": N, "end": M}. A window with start > end wraps
// around the month boundary, so {"start": 25, "end": 5} covers month end and
// the first days of the next month.
func predicateDayOfMonth(ectx EvaluationContext, params map[string]any) (bool, error) {
	start, err := intParam(params, "start")
	if err != nil {
		return false, err
	}
	end, err := intParam(params, "end")
	if err != nil {
		return false, err
	}
	if start < 1 || start > 31 || end < 1 || end > 31 {
		return false, fmt.Errorf("day_of_month window [%d, %d] out of range", start, end)
	}

	day := ectx.Clock().Day()
	if start <= end {
		return day >= start && day <= end, nil
	}
	return day >= start || day <= end, nil
}

// predicateTimeOfDay holds when the current clock time falls inside the half
// open window {"start": "HH:MM", "end": "HH:MM"}. A window with start after
// end wraps past midnight.
func predicateTimeOfDay(ectx EvaluationContext, params map[string]any) (bool, error) {
	start, err := minutesParam(params, "start")
	if err != nil {
		return false, err
	}
	end, err := minutesParam(params, "end")
	if err != nil {
		return false, err
	}
	if start == end {
		return false, errors.New("time_of_day window is empty")
	}

	now := ectx.Clock()
	minutes := now.Hour()*60 + now.Minute()
	if start < end {
		return minutes >= start && minutes < end, nil
	}
	return minutes >= start || minutes < end, nil
}

// predicateDateWithinDays holds when the date held by the named context field
// lies within {"days": N} days of now, on either side.
func predicateDateWithinDays(ectx EvaluationContext, params map[string]any) (bool, error) {
	field, err := stringParam(params, "field")
	if err != nil {
		return false, err
	}
	days, err := intParam(params, "days")
	if err != nil {
		return false, err
	}
	if days < 0 {
		return false, fmt.Errorf("date_within_days requires days >= 0, got %d", days)
	}

	raw, ok := ectx.Lookup(field)
	if !ok {
		return false, nil
	}
	date, err := coerceTime(raw)
	if err != nil {
		return false, err
	}

	delta := date.Sub(ectx.Clock())
	if delta < 0 {
		delta = -delta
	}
	return delta <= time.Duration(days)*24*time.Hour, nil
}

func coerceTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed, nil
		}
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			return parsed, nil
		}
		return time.Time{}, fmt.Errorf("value %q is not a date", v)
	default:
		return time.Time{}, fmt.Errorf("value of type %T is not a date", value)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("param %q is required", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("param %q must be a string, got %T", key, raw)
	}
	return value, nil
}

// intParam accepts any whole number, including the float64 values JSON
// decoding produces.
func intParam(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("param %q is required", key)
	}
	if number, ok := asInt64(raw); ok {
		return int(number), nil
	}
	if number, ok := asFloat64(raw); ok && isWholeFinite(number) {
		return int(number), nil
	}
	return 0, fmt.Errorf("param %q must be a whole number, got %v", key, raw)
}

func minutesParam(params map[string]any, key string) (int, error) {
	value, err := stringParam(params, key)
	if err != nil {
		return 0, err
	}
	clock, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("param %q must look like HH:MM: %w", key, err)
	}
	return clock.Hour()*60 + clock.Minute(), nil
}
