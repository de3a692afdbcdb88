package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func validValidatorCreateRequest() CreateRuleRequest {
	return CreateRuleRequest{
		Name:       "critical-findings",
		SourceType: SourceCompetitiveScan,
		Condition:  ConditionConfig{Field: "hasCritical", Operator: OpEqual, Value: true},
		Severity:   SeverityCritical,
	}
}

func TestValidateCondition(t *testing.T) {
	tests := []struct {
		name    string
		cond    ConditionConfig
		wantErr string
	}{
		{"valid", ConditionConfig{Field: "criticalCount", Operator: OpGreaterThan, Value: 2}, ""},
		{"valid dotted path", ConditionConfig{Field: "previous.score", Operator: OpLessThan, Value: 50}, ""},
		{"missing field", ConditionConfig{Operator: OpEqual, Value: 1}, "field is required"},
		{"empty path segment", ConditionConfig{Field: "a..b", Operator: OpEqual, Value: 1}, "empty path segment"},
		{"unknown operator", ConditionConfig{Field: "x", Operator: "between", Value: 1}, "invalid condition.operator"},
		{"missing value", ConditionConfig{Field: "x", Operator: OpEqual}, "value is required"},
		{"non-numeric value for gt", ConditionConfig{Field: "x", Operator: OpGreaterThan, Value: "high"}, "must be numeric"},
		{"negative window", ConditionConfig{Field: "x", Operator: OpEqual, Value: 1, WindowMinutes: -5}, "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCondition(tt.cond)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCreateRule(t *testing.T) {
	valid := validValidatorCreateRequest()
	assert.NoError(t, ValidateCreateRule(valid))

	noName := validValidatorCreateRequest()
	noName.Name = "  "
	assert.ErrorContains(t, ValidateCreateRule(noName), "name is required")

	badSource := validValidatorCreateRequest()
	badSource.SourceType = "billing"
	assert.ErrorContains(t, ValidateCreateRule(badSource), "invalid source_type")

	badSeverity := validValidatorCreateRequest()
	badSeverity.Severity = "fatal"
	assert.ErrorContains(t, ValidateCreateRule(badSeverity), "invalid severity")

	negativeCooldown := validValidatorCreateRequest()
	negativeCooldown.CooldownMinutes = -1
	assert.ErrorContains(t, ValidateCreateRule(negativeCooldown), "non-negative")

	taskWithoutTemplate := validValidatorCreateRequest()
	taskWithoutTemplate.AutoCreateTask = boolPtr(true)
	assert.ErrorContains(t, ValidateCreateRule(taskWithoutTemplate), "task_template is required")

	taskWithTemplate := validValidatorCreateRequest()
	taskWithTemplate.AutoCreateTask = boolPtr(true)
	taskWithTemplate.TaskTemplate = &TaskTemplate{Title: "Review {clientName}"}
	assert.NoError(t, ValidateCreateRule(taskWithTemplate))
}

func TestValidateUpdateRule(t *testing.T) {
	assert.NoError(t, ValidateUpdateRule(UpdateRuleRequest{}))

	empty := ""
	assert.ErrorContains(t, ValidateUpdateRule(UpdateRuleRequest{Name: &empty}), "name cannot be empty")

	badSeverity := Severity("fatal")
	assert.ErrorContains(t, ValidateUpdateRule(UpdateRuleRequest{Severity: &badSeverity}), "invalid severity")

	badCondition := ConditionConfig{Field: "x", Operator: "between", Value: 1}
	assert.ErrorContains(t, ValidateUpdateRule(UpdateRuleRequest{Condition: &badCondition}), "invalid condition.operator")

	negative := -1
	assert.ErrorContains(t, ValidateUpdateRule(UpdateRuleRequest{CooldownMinutes: &negative}), "non-negative")
}
