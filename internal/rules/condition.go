package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// EvaluateCondition reports whether payload satisfies cond. It is fail-closed
// throughout: a missing field, a non-map intermediate value, a coercion
// failure, a NaN comparison, or an unknown operator all evaluate to false.
// A rule never fires on data it cannot read.
func EvaluateCondition(payload map[string]interface{}, cond ConditionConfig) bool {
	actual, ok := resolvePath(payload, cond.Field)
	if !ok || actual == nil {
		return false
	}

	expected := cond.Value

	switch cond.Operator {
	case OpGreaterThan:
		return compareNumeric(actual, expected, func(a, e float64) bool { return a > e })
	case OpLessThan:
		return compareNumeric(actual, expected, func(a, e float64) bool { return a < e })
	case OpGreaterOrEqual:
		return compareNumeric(actual, expected, func(a, e float64) bool { return a >= e })
	case OpLessOrEqual:
		return compareNumeric(actual, expected, func(a, e float64) bool { return a <= e })
	case OpEqual:
		return valuesEqual(actual, expected)
	case OpNotEqual:
		return !valuesEqual(actual, expected)
	case OpContains:
		s, isString := actual.(string)
		return isString && strings.Contains(s, fmt.Sprint(expected))
	case OpChangedTo:
		if !valuesEqual(actual, expected) {
			return false
		}
		// Fires only on the transition into the target value: the payload
		// must carry the prior value under previous_<field>, and it must
		// differ from the target. Steady state never re-fires.
		previous, hasPrevious := resolvePath(payload, "previous_"+cond.Field)
		return hasPrevious && !valuesEqual(previous, expected)
	default:
		return false
	}
}

// resolvePath walks a dot-separated path through nested maps. The second
// return is false when any intermediate is not a map or the leaf is absent.
func resolvePath(payload map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = payload
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compareNumeric(actual, expected interface{}, cmp func(a, e float64) bool) bool {
	a, ok := toFloat(actual)
	if !ok {
		return false
	}
	e, ok := toFloat(expected)
	if !ok {
		return false
	}
	if math.IsNaN(a) || math.IsNaN(e) {
		return false
	}
	return cmp(a, e)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// valuesEqual compares numerically when both sides are numbers, so a rule
// value of 3 matches a payload value of 3.0 after a JSON round trip.
// Everything else falls back to deep equality.
func valuesEqual(a, b interface{}) bool {
	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// toNumber is stricter than toFloat: strings and bools are not numbers here,
// so "3" does not equal 3 under eq.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
