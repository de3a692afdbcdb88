package rules

import (
	"fmt"
	"strings"
)

// ValidateCondition is the authoring-time surface: a malformed condition is
// rejected when the rule is saved, instead of silently never firing.
func ValidateCondition(cond ConditionConfig) error {
	if strings.TrimSpace(cond.Field) == "" {
		return fmt.Errorf("condition.field is required")
	}
	for _, segment := range strings.Split(cond.Field, ".") {
		if segment == "" {
			return fmt.Errorf("condition.field has an empty path segment: %q", cond.Field)
		}
	}
	if !cond.Operator.Valid() {
		return fmt.Errorf("invalid condition.operator: %q. Allowed: gt, lt, gte, lte, eq, neq, contains, changed_to", cond.Operator)
	}
	if cond.Value == nil {
		return fmt.Errorf("condition.value is required")
	}
	switch cond.Operator {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		if _, ok := toFloat(cond.Value); !ok {
			return fmt.Errorf("condition.value must be numeric for operator %q", cond.Operator)
		}
	}
	if cond.WindowMinutes < 0 {
		return fmt.Errorf("condition.window must be non-negative")
	}
	return nil
}

func ValidateCreateRule(req CreateRuleRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !req.SourceType.Valid() {
		return fmt.Errorf("invalid source_type: %q. Allowed: competitive_scan, payment_check, rank_tracking, citation_scan, health, manual", req.SourceType)
	}
	if req.Severity != "" && !req.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q. Allowed: info, warning, critical", req.Severity)
	}
	if req.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must be non-negative")
	}
	if req.AutoCreateTask != nil && *req.AutoCreateTask && req.TaskTemplate == nil {
		return fmt.Errorf("task_template is required when auto_create_task is set")
	}
	return ValidateCondition(req.Condition)
}

func ValidateUpdateRule(req UpdateRuleRequest) error {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.Severity != nil && !req.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q. Allowed: info, warning, critical", *req.Severity)
	}
	if req.CooldownMinutes != nil && *req.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must be non-negative")
	}
	if req.Condition != nil {
		return ValidateCondition(*req.Condition)
	}
	return nil
}
