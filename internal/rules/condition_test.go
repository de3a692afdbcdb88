package rules

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func condition(field string, op Operator, value interface{}) ConditionConfig {
	return ConditionConfig{Field: field, Operator: op, Value: value}
}

func TestEvaluateCondition_NumericOperators(t *testing.T) {
	data := map[string]interface{}{"criticalCount": 3, "score": 41.5}

	tests := []struct {
		name string
		cond ConditionConfig
		want bool
	}{
		{"gt true", condition("criticalCount", OpGreaterThan, 2), true},
		{"gt false on equal", condition("criticalCount", OpGreaterThan, 3), false},
		{"gte true on equal", condition("criticalCount", OpGreaterOrEqual, 3), true},
		{"lt true", condition("score", OpLessThan, 50), true},
		{"lte false", condition("score", OpLessOrEqual, 41), false},
		{"float vs int", condition("score", OpGreaterThan, 41), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(data, tt.cond))
		})
	}
}

func TestEvaluateCondition_NumericStringCoercion(t *testing.T) {
	data := map[string]interface{}{"delta": "-25"}

	assert.True(t, EvaluateCondition(data, condition("delta", OpLessThan, -20)))
}

func TestEvaluateCondition_NonNumericComparandIsFalse(t *testing.T) {
	data := map[string]interface{}{"status": "overdue"}

	// Ordering operators fail closed on values that do not coerce.
	assert.False(t, EvaluateCondition(data, condition("status", OpGreaterThan, 1)))
	assert.False(t, EvaluateCondition(map[string]interface{}{"n": 5}, condition("n", OpGreaterThan, "not-a-number")))
}

func TestEvaluateCondition_NaNIsFalse(t *testing.T) {
	data := map[string]interface{}{"value": math.NaN()}

	assert.False(t, EvaluateCondition(data, condition("value", OpGreaterThan, 0)))
	assert.False(t, EvaluateCondition(data, condition("value", OpLessThan, 0)))
	assert.False(t, EvaluateCondition(data, condition("value", OpGreaterOrEqual, 0)))
}

func TestEvaluateCondition_Equality(t *testing.T) {
	data := map[string]interface{}{
		"hasCritical":   true,
		"paymentStatus": "overdue",
		"count":         3,
	}

	assert.True(t, EvaluateCondition(data, condition("hasCritical", OpEqual, true)))
	assert.False(t, EvaluateCondition(data, condition("hasCritical", OpEqual, false)))
	assert.True(t, EvaluateCondition(data, condition("paymentStatus", OpEqual, "overdue")))
	assert.True(t, EvaluateCondition(data, condition("paymentStatus", OpNotEqual, "paid")))
	assert.False(t, EvaluateCondition(data, condition("paymentStatus", OpNotEqual, "overdue")))

	// JSON round-trips turn ints into float64; equality must still hold.
	assert.True(t, EvaluateCondition(data, condition("count", OpEqual, float64(3))))
}

func TestEvaluateCondition_JSONDecodedPayload(t *testing.T) {
	var data map[string]interface{}
	err := json.Unmarshal([]byte(`{"criticalCount": 3, "hasCritical": true}`), &data)
	assert.NoError(t, err)

	assert.True(t, EvaluateCondition(data, condition("criticalCount", OpGreaterThan, 2)))
	assert.True(t, EvaluateCondition(data, condition("hasCritical", OpEqual, true)))
}

func TestEvaluateCondition_Contains(t *testing.T) {
	data := map[string]interface{}{"keyword": "plumber near me", "count": 7}

	assert.True(t, EvaluateCondition(data, condition("keyword", OpContains, "near")))
	assert.False(t, EvaluateCondition(data, condition("keyword", OpContains, "electrician")))
	// Non-string actual never matches contains.
	assert.False(t, EvaluateCondition(data, condition("count", OpContains, "7")))
}

func TestEvaluateCondition_ChangedTo(t *testing.T) {
	transition := map[string]interface{}{
		"paymentStatus":          "overdue",
		"previous_paymentStatus": "paid",
	}
	steadyState := map[string]interface{}{
		"paymentStatus":          "overdue",
		"previous_paymentStatus": "overdue",
	}
	noPrevious := map[string]interface{}{
		"paymentStatus": "overdue",
	}

	cond := condition("paymentStatus", OpChangedTo, "overdue")

	assert.True(t, EvaluateCondition(transition, cond))
	// No re-fire while already in the target state.
	assert.False(t, EvaluateCondition(steadyState, cond))
	// Without the previous_ sibling the transition cannot be observed.
	assert.False(t, EvaluateCondition(noPrevious, cond))
}

func TestEvaluateCondition_DottedPathResolution(t *testing.T) {
	data := map[string]interface{}{
		"previous": map[string]interface{}{"score": 80},
		"flat":     5,
	}

	assert.True(t, EvaluateCondition(data, condition("previous.score", OpGreaterThan, 70)))
	// Intermediate segment that is not a map fails closed.
	assert.False(t, EvaluateCondition(data, condition("flat.inner", OpEqual, 5)))
	assert.False(t, EvaluateCondition(data, condition("missing.field", OpEqual, 1)))
}

func TestEvaluateCondition_MissingOrNilFieldIsFalse(t *testing.T) {
	data := map[string]interface{}{"present": nil}

	assert.False(t, EvaluateCondition(data, condition("present", OpEqual, nil)))
	assert.False(t, EvaluateCondition(data, condition("absent", OpNotEqual, "anything")))
}

func TestEvaluateCondition_UnknownOperatorIsFalse(t *testing.T) {
	data := map[string]interface{}{"value": 10}

	assert.False(t, EvaluateCondition(data, condition("value", Operator("between"), 5)))
	assert.False(t, EvaluateCondition(data, condition("value", "", 5)))
}
